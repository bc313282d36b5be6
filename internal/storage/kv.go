// Package storage defines the key-value capability the pipeline persists
// small records through: the disabler policy, the stable environment tag, and
// values pushed down by the server. Implementations vary in durability; all
// access is atomic at the key level and no cross-key transactions are
// assumed.
package storage

import (
	"context"
	"sync"
)

// Well-known record keys.
const (
	KeyDisabler       = "loevent.disabler"
	KeyEnvTag         = "loevent.envtag"
	KeyServerOverride = "loevent.server_override"
	KeyUserID         = "loevent.user_id"
)

// KV is the storage capability contract. Get with nil keys returns every
// stored record; missing keys are simply absent from the result map.
type KV interface {
	Get(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, kv map[string][]byte) error
}

// Memory is the volatile fallback KV, used when no durable store is
// configured and in tests.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory KV.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get implements KV.
func (m *Memory) Get(_ context.Context, keys []string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte)
	if keys == nil {
		for k, v := range m.data {
			out[k] = append([]byte(nil), v...)
		}
		return out, nil
	}
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

// Set implements KV.
func (m *Memory) Set(_ context.Context, kv map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range kv {
		m.data[k] = append([]byte(nil), v...)
	}
	return nil
}
