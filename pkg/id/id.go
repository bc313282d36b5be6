// Package id produces the identifiers stamped onto event metadata: a
// monotonically increasing per-process session index, a per-process session
// tag, and stable environment tags.
package id

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Counter hands out a strictly increasing session index per process.
type Counter struct {
	mu   sync.Mutex
	next uint64
}

// NewCounter creates a Counter starting at zero.
func NewCounter() *Counter { return &Counter{} }

// Next returns the next session index.
func (c *Counter) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.next
	c.next++
	return n
}

// NowMs returns current time in milliseconds since Unix epoch. Swappable in
// tests.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// NewTag returns a fresh random tag (UUIDv4).
func NewTag() string { return uuid.NewString() }

// SessionTag is generated once per process and stamped on verbose events so
// the server can group one run's traffic.
var sessionTag = struct {
	once sync.Once
	tag  string
}{}

// ProcessSessionTag returns the per-process session tag, generating it on
// first use.
func ProcessSessionTag() string {
	sessionTag.once.Do(func() { sessionTag.tag = NewTag() })
	return sessionTag.tag
}
