// Package sink defines the destination capability events fan out to, plus the
// simple built-in destinations. A sink is required to accept one JSON-encoded
// event line; setup, field broadcast, and lock-field introspection are
// optional capabilities resolved once at registration.
package sink

import (
	"context"

	"github.com/ArgLab/lo-event/internal/disabler"
)

// Sink consumes one JSON-encoded event line. The outcome is an explicit
// discriminated result: delivered (nil, nil), blocked by a server directive
// (*disabler.Block), or failed (error).
type Sink interface {
	Log(ctx context.Context, line string) (*disabler.Block, error)
}

// Initializer is the optional async setup hook.
type Initializer interface {
	Init(ctx context.Context) error
}

// FieldSetter is the optional lock-fields broadcast hook.
type FieldSetter interface {
	SetFields(ctx context.Context, payload string) error
}

// FieldInspector exposes the sink's current lock fields, for tests and
// debugging.
type FieldInspector interface {
	LockFields() map[string]interface{}
}

// Registered is a sink with its optional capabilities resolved once, so the
// fan-out path never type-asserts per event.
type Registered struct {
	Sink      Sink
	Init      Initializer    // nil when unsupported
	Fields    FieldSetter    // nil when unsupported
	Inspector FieldInspector // nil when unsupported
}

// Register resolves s's optional capabilities.
func Register(s Sink) Registered {
	r := Registered{Sink: s}
	if v, ok := s.(Initializer); ok {
		r.Init = v
	}
	if v, ok := s.(FieldSetter); ok {
		r.Fields = v
	}
	if v, ok := s.(FieldInspector); ok {
		r.Inspector = v
	}
	return r
}
