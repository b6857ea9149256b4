package tokenstore

import (
	"context"
)

// Kind names one of the tokens held for the signed in user.
type Kind string

const (
	Access      Kind = "access"
	Refresh     Kind = "refresh"
	BasicAccess Kind = "basicAccess"
)

// Kinds lists every token kind a store may hold.
var Kinds = []Kind{Access, Refresh, BasicAccess}

// Valid reports whether k is a known token kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Pair is the access/refresh token pair issued on login or refresh.
type Pair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Store holds authentication tokens. Implementations must be safe for
// concurrent use.
type Store interface {
	// Token returns the stored value for kind, or the empty string when no
	// value is held.
	Token(ctx context.Context, kind Kind) (string, error)

	// SetToken replaces a single stored token.
	SetToken(ctx context.Context, kind Kind, value string) error

	// SetTokens replaces the access and refresh tokens together.
	SetTokens(ctx context.Context, tokens Pair) error

	// RemoveTokens clears every stored token.
	RemoveTokens(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
