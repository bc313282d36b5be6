// Package pipeline wires the event queue, the opt-out policy, and the
// registered sinks into one delivery pipeline. All public calls append steps
// onto a single-worker task queue, so side effects land in call order even
// while setup is still in flight.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ArgLab/lo-event/internal/disabler"
	"github.com/ArgLab/lo-event/internal/queue"
	"github.com/ArgLab/lo-event/internal/sink"
	"github.com/ArgLab/lo-event/internal/storage"
	pebblestore "github.com/ArgLab/lo-event/internal/storage/pebble"
	"github.com/ArgLab/lo-event/pkg/id"
	logpkg "github.com/ArgLab/lo-event/pkg/log"
)

// Options configures a Pipeline. Zero value is usable for tests: in-memory
// queue, in-memory KV, no disabler.
type Options struct {
	Logger logpkg.Logger
	// KV backs the disabler state, environment tag, and store sinks. Defaults
	// to Store when one is given, otherwise an in-memory map.
	KV storage.KV
	// Store enables the persistent queue backend and durable KV.
	Store *pebblestore.DB
	// Queue picks the backend. BackendAuto prefers persistent when Store is
	// set.
	Queue queue.BackendType
	// UseDisabler turns on the server-driven opt-out gate.
	UseDisabler bool
	// VerboseEvents adds ts, human_ts, session index and tags to metadata.
	VerboseEvents bool
	// Metadata tasks run concurrently when the pipeline goes live; their
	// merged output is broadcast as lock fields. A failing task is dropped.
	Metadata []MetadataTask
}

// Pipeline is the orchestrator. One instance per process component; there is
// no package-level state.
type Pipeline struct {
	logger  logpkg.Logger
	kv      storage.KV
	dis     *disabler.Disabler // nil when the gate is off
	queue   *queue.Queue
	sinks   []sink.Registered
	runner  *taskRunner
	state   stateVar
	source  string
	version string
	verbose bool

	counter    *id.Counter
	sessionTag string
	nowMs      func() int64
	metaTasks  []MetadataTask

	mu     sync.Mutex
	locked map[string]interface{}

	// only touched from the task worker
	cachedEnvTag string
}

// New validates the configuration, builds the queue backend, and schedules
// the asynchronous setup steps (disabler load, sink initialization). Events
// may be logged immediately; they accumulate until Go starts delivery.
func New(source, version string, sinks []sink.Sink, opts Options) (*Pipeline, error) {
	if source == "" {
		return nil, errors.New("pipeline: source must not be empty")
	}
	if version == "" {
		return nil, errors.New("pipeline: version must not be empty")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{}))
	}
	logger = logger.WithComponent("pipeline")

	kv := opts.KV
	if kv == nil {
		if opts.Store != nil {
			kv = storage.NewPebbleKV(opts.Store)
		} else {
			kv = storage.NewMemory()
		}
	}

	backend, err := queue.NewBackend(opts.Queue, "events", opts.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{
		logger:     logger,
		kv:         kv,
		queue:      queue.New(backend, logger),
		runner:     newTaskRunner(),
		source:     source,
		version:    version,
		verbose:    opts.VerboseEvents,
		counter:    id.NewCounter(),
		sessionTag: id.ProcessSessionTag(),
		nowMs:      id.NowMs,
		metaTasks:  opts.Metadata,
		locked:     map[string]interface{}{},
	}
	for _, s := range sinks {
		p.sinks = append(p.sinks, sink.Register(s))
	}
	if opts.UseDisabler {
		p.dis = disabler.New(kv, logger)
	}

	p.state.advance(StateInProgress)
	if p.dis != nil {
		p.runner.append(func(ctx context.Context) {
			if err := p.dis.Load(ctx); err != nil {
				p.fail(fmt.Errorf("disabler load: %w", err))
			}
		})
	}
	p.runner.append(p.initSinksStep)
	return p, nil
}

// fail marks the pipeline permanently broken. Delivery will never start.
func (p *Pipeline) fail(err error) {
	p.logger.Error("pipeline init failed", logpkg.Err(err))
	p.state.advance(StateError)
}

// initSinksStep runs every sink's optional Init concurrently. Any failure is
// fatal for the pipeline.
func (p *Pipeline) initSinksStep(ctx context.Context) {
	if p.state.get() == StateError {
		return
	}
	var wg sync.WaitGroup
	errs := make([]error, len(p.sinks))
	for i, r := range p.sinks {
		if r.Init == nil {
			continue
		}
		wg.Add(1)
		go func(i int, init sink.Initializer) {
			defer wg.Done()
			errs[i] = init.Init(ctx)
		}(i, r.Init)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			p.fail(fmt.Errorf("sink init: %w", err))
			return
		}
	}
	p.state.advance(StateLoggersReady)
}

// State reports startup progress.
func (p *Pipeline) State() InitState { return p.state.get() }

// LockedFields returns a snapshot of everything locked so far.
func (p *Pipeline) LockedFields() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sink.MergeFields(nil, p.locked)
}

// LockFields merges the fragments and broadcasts the result to every sink
// that accepts fields, in registration order. Broadcasts from successive
// calls reach the sinks in call order.
func (p *Pipeline) LockFields(fragments ...map[string]interface{}) {
	p.runner.append(p.lockStep(fragments...))
}

func (p *Pipeline) lockStep(fragments ...map[string]interface{}) func(ctx context.Context) {
	return func(ctx context.Context) {
		payload := map[string]interface{}{}
		for _, f := range fragments {
			payload = sink.MergeFields(payload, f)
		}
		if len(payload) == 0 {
			return
		}
		p.mu.Lock()
		p.locked = sink.MergeFields(p.locked, payload)
		p.mu.Unlock()
		p.broadcast(ctx, payload)
	}
}

func (p *Pipeline) broadcast(ctx context.Context, payload map[string]interface{}) {
	b, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("lock fields encode", logpkg.Err(err))
		return
	}
	for _, r := range p.sinks {
		if r.Fields == nil {
			continue
		}
		if err := r.Fields.SetFields(ctx, string(b)); err != nil {
			p.logger.Warn("set fields", logpkg.Err(err))
		}
	}
}

// Go locks the source and version, compiles session metadata, and starts the
// delivery loop. The loop runs until ctx is cancelled or a permanent gate
// closes it.
func (p *Pipeline) Go(ctx context.Context) {
	p.runner.append(p.lockStep(map[string]interface{}{
		"source":  p.source,
		"version": p.version,
	}))
	p.runner.append(p.metadataStep)
	p.runner.append(func(stepCtx context.Context) {
		if st := p.state.get(); st == StateError {
			p.logger.Error("delivery not started", logpkg.Str("state", st.String()))
			return
		}
		p.state.advance(StateReady)
		p.queue.StartLoop(ctx, queue.LoopConfig{
			Initialize:    func(context.Context) (bool, error) { return p.state.get() == StateReady, nil },
			ShouldDequeue: p.shouldDequeue,
			OnDequeue:     p.sendEvent,
		})
	})
}

// metadataStep runs the metadata tasks concurrently and locks whatever they
// produced. A failed task contributes nothing.
func (p *Pipeline) metadataStep(ctx context.Context) {
	if len(p.metaTasks) == 0 {
		return
	}
	var wg sync.WaitGroup
	results := make([]map[string]interface{}, len(p.metaTasks))
	for i, task := range p.metaTasks {
		wg.Add(1)
		go func(i int, task MetadataTask) {
			defer wg.Done()
			out, err := task.Run(ctx)
			if err != nil {
				p.logger.Warn("metadata task dropped",
					logpkg.Str("task", task.Name), logpkg.Err(err))
				return
			}
			results[i] = out
		}(i, task)
	}
	wg.Wait()

	merged := map[string]interface{}{}
	for _, out := range results {
		merged = sink.MergeFields(merged, out)
	}
	if len(merged) == 0 {
		return
	}
	p.lockStep(merged)(ctx)
}

func (p *Pipeline) shouldDequeue(ctx context.Context) (bool, error) {
	if p.dis == nil {
		return true, nil
	}
	return p.dis.Retry(ctx)
}

// LogEvent stamps the payload with metadata and appends it to the queue. The
// event is dropped when the opt-out policy says storing is forbidden.
func (p *Pipeline) LogEvent(eventType string, payload map[string]interface{}) {
	p.runner.append(func(ctx context.Context) {
		if p.dis != nil && !p.dis.StoreEvents() {
			return
		}
		b, err := json.Marshal(p.stamp(ctx, eventType, payload))
		if err != nil {
			p.logger.Error("event encode", logpkg.Str("event", eventType), logpkg.Err(err))
			return
		}
		p.queue.Enqueue(b)
	})
}

// sendEvent delivers one serialized event to every sink in registration
// order. A block directive is routed to the disabler and aborts the fan-out;
// the remaining sinks never see the event. Any other sink fault propagates
// and the event is not retried.
func (p *Pipeline) sendEvent(ctx context.Context, item []byte) error {
	line := string(item)
	for _, r := range p.sinks {
		blk, err := r.Sink.Log(ctx, line)
		if blk != nil {
			if p.dis != nil {
				p.dis.HandleBlock(ctx, blk)
			} else {
				p.logger.Warn("block directive ignored, disabler off",
					logpkg.Str("action", string(blk.Action)))
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("sink delivery: %w", err)
		}
	}
	return nil
}

// Flush blocks until every step appended before the call has run. Intended
// for shutdown paths and tests.
func (p *Pipeline) Flush(ctx context.Context) error {
	done := make(chan struct{})
	p.runner.append(func(context.Context) { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
