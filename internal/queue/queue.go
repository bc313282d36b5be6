package queue

import (
	"context"
	"errors"
	"sync/atomic"

	logpkg "github.com/ArgLab/lo-event/pkg/log"

	pebblestore "github.com/ArgLab/lo-event/internal/storage/pebble"
)

// Backend is the storage capability behind a Queue. Enqueue never blocks and
// never fails; Dequeue suspends until an item is available or ctx is done.
type Backend interface {
	Enqueue(item []byte)
	Dequeue(ctx context.Context) ([]byte, error)
}

// BackendType selects the backend a Queue is built on.
type BackendType string

const (
	// BackendAuto picks Durable when a store is available, else Memory.
	BackendAuto BackendType = "auto"
	// BackendMemory is the volatile array-backed FIFO.
	BackendMemory BackendType = "memory"
	// BackendDurable persists items in Pebble; requires a store.
	BackendDurable BackendType = "persistent"
)

// ErrNoStore is returned when BackendDurable is requested without a store.
var ErrNoStore = errors.New("queue: persistent backend requires a pebble store")

// NewBackend resolves a backend type against the optionally-available store.
// Resolution happens once at construction; callers inject the result instead
// of probing the environment per call.
func NewBackend(typ BackendType, name string, db *pebblestore.DB, logger logpkg.Logger) (Backend, error) {
	switch typ {
	case BackendMemory:
		return NewMemory(), nil
	case BackendDurable:
		if db == nil {
			return nil, ErrNoStore
		}
		return OpenDurable(db, name, logger)
	case BackendAuto, "":
		if db != nil {
			return OpenDurable(db, name, logger)
		}
		return NewMemory(), nil
	default:
		return nil, errors.New("queue: unknown backend type " + string(typ))
	}
}

// Queue is an ordered buffer of opaque JSON items with a single consumer.
type Queue struct {
	backend Backend
	logger  logpkg.Logger
	started atomic.Bool
}

// New wraps a backend as a Queue.
func New(backend Backend, logger logpkg.Logger) *Queue {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Queue{backend: backend, logger: logger.WithComponent("queue")}
}

// Enqueue appends an item at the tail. Ownership of item passes to the queue.
func (q *Queue) Enqueue(item []byte) {
	q.backend.Enqueue(item)
}

// StartLoop starts the single consumer loop. It may be called at most once
// per Queue; a second call is a programming error and panics.
func (q *Queue) StartLoop(ctx context.Context, cfg LoopConfig) {
	if !q.started.CompareAndSwap(false, true) {
		panic("queue: StartLoop called twice on one queue")
	}
	cfg.applyDefaults(q.logger)
	go q.run(ctx, cfg)
}
