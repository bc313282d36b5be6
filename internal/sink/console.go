package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/ArgLab/lo-event/internal/disabler"
)

// Console prints events as JSON lines and remembers broadcast lock fields.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	fields map[string]interface{}
}

// NewConsole writes to w, defaulting to stdout.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{w: w, fields: map[string]interface{}{}}
}

// Log implements Sink.
func (c *Console) Log(_ context.Context, line string) (*disabler.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.w, line+"\n")
	return nil, err
}

// SetFields implements FieldSetter by merging the broadcast payload into the
// remembered lock fields.
func (c *Console) SetFields(_ context.Context, payload string) error {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fields = MergeFields(c.fields, fields)
	return nil
}

// LockFields implements FieldInspector.
func (c *Console) LockFields() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]interface{}, len(c.fields))
	for k, v := range c.fields {
		out[k] = v
	}
	return out
}

// Noop swallows everything. Useful as a placeholder destination.
type Noop struct{}

// Log implements Sink.
func (Noop) Log(context.Context, string) (*disabler.Block, error) { return nil, nil }
