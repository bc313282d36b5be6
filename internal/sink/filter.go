package sink

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/ArgLab/lo-event/internal/disabler"
)

// Filtered wraps a sink with a CEL expression over the decoded event.
// Non-matching events are dropped before the inner sink sees them. An empty
// expression passes everything.
//
// The expression sees:
//
//	event  - the event type tag (string)
//	json   - the decoded event object
//	text   - the raw line
//	size   - line length in bytes
//	now_ms - current time in Unix ms
type Filtered struct {
	inner   Sink
	prog    cel.Program
	enabled bool
}

// NewFiltered compiles expr and wraps inner.
func NewFiltered(inner Sink, expr string) (*Filtered, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filtered{inner: inner}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("event", cel.StringType),
		cel.Variable("json", cel.DynType),
		cel.Variable("text", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &Filtered{inner: inner, prog: prog, enabled: true}, nil
}

// Log implements Sink.
func (f *Filtered) Log(ctx context.Context, line string) (*disabler.Block, error) {
	if !f.match(line) {
		return nil, nil
	}
	return f.inner.Log(ctx, line)
}

func (f *Filtered) match(line string) bool {
	if !f.enabled {
		return true
	}
	var obj map[string]interface{}
	_ = json.Unmarshal([]byte(line), &obj)
	eventType, _ := obj["event"].(string)
	out, _, err := f.prog.Eval(map[string]interface{}{
		"event":  eventType,
		"json":   obj,
		"text":   line,
		"size":   int64(len(line)),
		"now_ms": time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Init forwards to the inner sink when it supports setup.
func (f *Filtered) Init(ctx context.Context) error {
	if v, ok := f.inner.(Initializer); ok {
		return v.Init(ctx)
	}
	return nil
}

// SetFields forwards to the inner sink when it supports field broadcast.
func (f *Filtered) SetFields(ctx context.Context, payload string) error {
	if v, ok := f.inner.(FieldSetter); ok {
		return v.SetFields(ctx, payload)
	}
	return nil
}

// LockFields forwards to the inner sink when it supports introspection.
func (f *Filtered) LockFields() map[string]interface{} {
	if v, ok := f.inner.(FieldInspector); ok {
		return v.LockFields()
	}
	return nil
}
