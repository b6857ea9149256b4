package apiclient

import (
	"fmt"
)

// Variant selects one of the three clients built for every instance.
type Variant int

const (
	// VariantDefault attaches the access token, logs responses and recovers
	// from 401 responses by refreshing the session.
	VariantDefault Variant = iota
	// VariantToken attaches the access token.
	VariantToken
	// VariantBasic attaches the basic access token.
	VariantBasic
)

var variants = []Variant{VariantBasic, VariantToken, VariantDefault}

// Suffix is appended to the instance name to form the client key.
func (v Variant) Suffix() string {
	switch v {
	case VariantBasic:
		return "WithBasicToken"
	case VariantToken:
		return "WithToken"
	default:
		return "WithoutToken"
	}
}

func (v Variant) String() string {
	switch v {
	case VariantBasic:
		return "basic"
	case VariantToken:
		return "token"
	default:
		return "default"
	}
}

// ParseVariant accepts "basic", "token" or "default"; the empty string is
// the default variant.
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "", "default":
		return VariantDefault, nil
	case "token":
		return VariantToken, nil
	case "basic":
		return VariantBasic, nil
	default:
		return VariantDefault, fmt.Errorf("unknown client variant %q", s)
	}
}

func instanceKey(name string, v Variant) string {
	return name + v.Suffix()
}
