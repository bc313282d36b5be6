package queue

import (
	"context"
	"fmt"

	logpkg "github.com/ArgLab/lo-event/pkg/log"
)

// LoopConfig gates the dequeue loop. Predicates suspend internally for
// transient conditions; returning false (or an error) is a permanent stop
// signal.
type LoopConfig struct {
	// Initialize runs once before the loop. False or error terminates the
	// loop permanently. Defaults to true.
	Initialize func(ctx context.Context) (bool, error)
	// ShouldDequeue gates each iteration. False or error terminates the loop
	// permanently. Defaults to true.
	ShouldDequeue func(ctx context.Context) (bool, error)
	// OnDequeue handles one item. An error is reported and the loop
	// continues; the item is not retried.
	OnDequeue func(ctx context.Context, item []byte) error
	// OnError reports loop and per-item faults. Defaults to logging.
	OnError func(err error)
}

func (cfg *LoopConfig) applyDefaults(logger logpkg.Logger) {
	if cfg.Initialize == nil {
		cfg.Initialize = func(context.Context) (bool, error) { return true, nil }
	}
	if cfg.ShouldDequeue == nil {
		cfg.ShouldDequeue = func(context.Context) (bool, error) { return true, nil }
	}
	if cfg.OnDequeue == nil {
		cfg.OnDequeue = func(context.Context, []byte) error { return nil }
	}
	if cfg.OnError == nil {
		cfg.OnError = func(err error) { logger.Error("dequeue loop", logpkg.Err(err)) }
	}
}

// run drains the backend until a gate stops it. One item is attempted at most
// once: a handler fault drops the item and the loop continues.
func (q *Queue) run(ctx context.Context, cfg LoopConfig) {
	ok, err := cfg.Initialize(ctx)
	if err != nil {
		cfg.OnError(fmt.Errorf("queue: initialize failed, loop not started: %w", err))
		return
	}
	if !ok {
		cfg.OnError(fmt.Errorf("queue: initialize declined, loop not started"))
		return
	}

	for {
		ok, err := cfg.ShouldDequeue(ctx)
		if err != nil {
			cfg.OnError(fmt.Errorf("queue: consumption gate failed, loop stopped: %w", err))
			return
		}
		if !ok {
			cfg.OnError(fmt.Errorf("queue: consumption gate closed, loop stopped"))
			return
		}

		item, err := q.backend.Dequeue(ctx)
		if err != nil {
			cfg.OnError(fmt.Errorf("queue: dequeue failed, loop stopped: %w", err))
			return
		}
		if item == nil {
			continue
		}
		if err := cfg.OnDequeue(ctx, item); err != nil {
			cfg.OnError(fmt.Errorf("queue: item handler failed, item dropped: %w", err))
		}
	}
}
