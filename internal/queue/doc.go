// Package queue implements lo-event's ordered event buffer: a FIFO of opaque
// JSON items with swappable in-memory and durable (Pebble-backed) backends,
// drained by a single-consumer dequeue loop with configurable gating
// predicates.
//
// Backends guarantee dequeue order equals enqueue order regardless of how
// producers interleave. Exactly one consumer per queue is supported; the loop
// may be started at most once.
//
//	q := queue.New(queue.NewMemory(), logger)
//	q.Enqueue([]byte(`{"event":"ping"}`))
//	q.StartLoop(ctx, queue.LoopConfig{
//	    OnDequeue: func(ctx context.Context, item []byte) error { return send(item) },
//	})
package queue
