package httplog

import (
	"github.com/rs/zerolog"
)

// OptionalEvent accumulates fields for a nested dictionary, skipping empty
// values. The dictionary is only attached to its parent when at least one
// field was written.
type OptionalEvent struct {
	ev       *zerolog.Event
	modified bool
}

func NewOptionalEvent(e *zerolog.Event) *OptionalEvent {
	return &OptionalEvent{ev: e}
}

func (oe *OptionalEvent) event() *zerolog.Event {
	if oe.ev == nil {
		oe.ev = zerolog.Dict()
		oe.modified = false
	}
	return oe.ev
}

// Set attaches the dictionary to parent under key if anything was written.
func (oe *OptionalEvent) Set(parent *zerolog.Event, key string) bool {
	if oe.modified {
		parent.Dict(key, oe.event())
		return true
	}
	return false
}

func (oe *OptionalEvent) Str(key, val string) *OptionalEvent {
	if val == "" {
		return oe
	}
	oe.event().Str(key, val)
	oe.modified = true
	return oe
}

func (oe *OptionalEvent) Int(key string, val int) *OptionalEvent {
	if val == 0 {
		return oe
	}
	oe.event().Int(key, val)
	oe.modified = true
	return oe
}

func (oe *OptionalEvent) Strs(key string, vals []string) *OptionalEvent {
	if len(vals) == 0 {
		return oe
	}
	oe.event().Strs(key, vals)
	oe.modified = true
	return oe
}

// Interface writes val with reflection based encoding; nil is skipped.
func (oe *OptionalEvent) Interface(key string, val any) *OptionalEvent {
	if val == nil {
		return oe
	}
	oe.event().Interface(key, val)
	oe.modified = true
	return oe
}

// StrMap writes a string map as a nested dictionary; empty maps are skipped.
func (oe *OptionalEvent) StrMap(key string, vals map[string]string) *OptionalEvent {
	if len(vals) == 0 {
		return oe
	}
	dict := zerolog.Dict()
	for k, v := range vals {
		dict.Str(k, v)
	}
	oe.event().Dict(key, dict)
	oe.modified = true
	return oe
}
