package sink

import (
	"context"
	"strconv"
	"sync"

	"github.com/ArgLab/lo-event/internal/disabler"
	"github.com/ArgLab/lo-event/internal/storage"
)

// Store bridges events into the key-value capability, one record per event
// under a shared prefix. It stands in for host applications that mirror the
// event stream into their own state store.
type Store struct {
	kv     storage.KV
	prefix string

	mu   sync.Mutex
	next uint64
}

// NewStore records events under prefix (default "loevent.events.").
func NewStore(kv storage.KV, prefix string) *Store {
	if prefix == "" {
		prefix = "loevent.events."
	}
	return &Store{kv: kv, prefix: prefix}
}

// Log implements Sink.
func (s *Store) Log(ctx context.Context, line string) (*disabler.Block, error) {
	s.mu.Lock()
	n := s.next
	s.next++
	s.mu.Unlock()
	key := s.prefix + strconv.FormatUint(n, 10)
	return nil, s.kv.Set(ctx, map[string][]byte{key: []byte(line)})
}
