package storage

import (
	"context"
	"errors"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/ArgLab/lo-event/internal/storage/pebble"
)

// kvPrefix namespaces capability records inside the shared Pebble database so
// they never collide with queue rows.
const kvPrefix = "kv/"

// PebbleKV is the durable KV capability over the shared Pebble store.
type PebbleKV struct {
	db *pebblestore.DB
}

// NewPebbleKV wraps db as a KV.
func NewPebbleKV(db *pebblestore.DB) *PebbleKV { return &PebbleKV{db: db} }

// Get implements KV. A nil key set scans the whole capability prefix.
func (p *PebbleKV) Get(_ context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	if keys == nil {
		lo := []byte(kvPrefix)
		hi := append(append([]byte{}, lo...), 0xFF)
		iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
		if err != nil {
			return nil, err
		}
		defer iter.Close()
		for ok := iter.First(); ok; ok = iter.Next() {
			k := string(iter.Key())[len(kvPrefix):]
			out[k] = append([]byte(nil), iter.Value()...)
		}
		return out, nil
	}
	for _, k := range keys {
		v, err := p.db.Get([]byte(kvPrefix + k))
		if err != nil {
			if errors.Is(err, pebblestore.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Set implements KV. All pairs commit as one batch.
func (p *PebbleKV) Set(ctx context.Context, kv map[string][]byte) error {
	b := p.db.NewBatch()
	defer b.Close()
	for k, v := range kv {
		if err := b.Set([]byte(kvPrefix+k), v, nil); err != nil {
			return err
		}
	}
	return p.db.CommitBatch(ctx, b)
}
