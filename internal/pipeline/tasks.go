package pipeline

import (
	"context"
	"sync"
)

// taskRunner executes appended steps strictly in append order, one at a time,
// on a single dedicated worker. Every public Pipeline call appends a step
// instead of executing immediately, which fixes the global order of side
// effects no matter when callers arrive relative to slow setup steps.
type taskRunner struct {
	mu    sync.Mutex
	steps []func(ctx context.Context)
	wake  chan struct{}
}

func newTaskRunner() *taskRunner {
	r := &taskRunner{wake: make(chan struct{}, 1)}
	go r.work(context.Background())
	return r
}

func (r *taskRunner) append(step func(ctx context.Context)) {
	r.mu.Lock()
	r.steps = append(r.steps, step)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *taskRunner) work(ctx context.Context) {
	for {
		r.mu.Lock()
		if len(r.steps) == 0 {
			r.mu.Unlock()
			<-r.wake
			continue
		}
		step := r.steps[0]
		r.steps = r.steps[1:]
		r.mu.Unlock()
		step(ctx)
	}
}
