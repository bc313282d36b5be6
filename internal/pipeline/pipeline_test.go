package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ArgLab/lo-event/internal/disabler"
	"github.com/ArgLab/lo-event/internal/queue"
	"github.com/ArgLab/lo-event/internal/sink"
	"github.com/ArgLab/lo-event/internal/storage"
)

// recordSink captures everything the pipeline hands it. When a block is
// armed, the next Log call returns it (recording the line as well, so tests
// can see exactly which event triggered it).
type recordSink struct {
	mu      sync.Mutex
	lines   []string
	fields  []string
	block   *disabler.Block
	initErr error
}

func (r *recordSink) Log(_ context.Context, line string) (*disabler.Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if r.block != nil {
		b := r.block
		r.block = nil
		return b, nil
	}
	return nil, nil
}

func (r *recordSink) Init(context.Context) error { return r.initErr }

func (r *recordSink) SetFields(_ context.Context, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields = append(r.fields, payload)
	return nil
}

func (r *recordSink) snapshotLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func (r *recordSink) snapshotFields() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.fields...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func decode(t *testing.T, line string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &m))
	return m
}

func TestNewValidation(t *testing.T) {
	_, err := New("", "1.0", nil, Options{})
	require.Error(t, err)

	_, err = New("app", "", nil, Options{})
	require.Error(t, err)

	_, err = New("app", "1.0", nil, Options{Queue: queue.BackendDurable})
	require.ErrorIs(t, err, queue.ErrNoStore)
}

func TestLockFieldOrdering(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recordSink{}
	p, err := New("app", "1.0", []sink.Sink{rec}, Options{
		Metadata: []MetadataTask{{
			Name: "extra",
			Run: func(context.Context) (map[string]interface{}, error) {
				return map[string]interface{}{"extra": "x"}, nil
			},
		}},
	})
	require.NoError(t, err)

	p.LockFields(map[string]interface{}{"who": "pre"})
	p.LockFields(map[string]interface{}{"who": "post"})
	p.Go(ctx)
	require.NoError(t, p.Flush(ctx))

	fields := rec.snapshotFields()
	require.Len(t, fields, 4)
	require.Equal(t, "pre", decode(t, fields[0])["who"])
	require.Equal(t, "post", decode(t, fields[1])["who"])
	require.Equal(t, "app", decode(t, fields[2])["source"])
	require.Equal(t, "1.0", decode(t, fields[2])["version"])
	require.Equal(t, "x", decode(t, fields[3])["extra"])

	locked := p.LockedFields()
	require.Equal(t, "post", locked["who"])
	require.Equal(t, "app", locked["source"])
	require.Equal(t, "x", locked["extra"])
}

func TestEventsAccumulateUntilGo(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recordSink{}
	p, err := New("app", "1.0", []sink.Sink{rec}, Options{VerboseEvents: true})
	require.NoError(t, err)

	p.LogEvent("first", map[string]interface{}{"n": 1})
	p.LogEvent("second", map[string]interface{}{"n": 2})
	p.LogEvent("third", nil)
	p.Go(ctx)

	waitFor(t, func() bool { return len(rec.snapshotLines()) == 3 })
	lines := rec.snapshotLines()
	for i, want := range []string{"first", "second", "third"} {
		ev := decode(t, lines[i])
		require.Equal(t, want, ev["event"])
		meta, ok := ev["metadata"].(map[string]interface{})
		require.True(t, ok)
		require.NotEmpty(t, meta["iso_ts"])
		require.Equal(t, float64(i), meta["sessionIndex"])
		require.NotEmpty(t, meta["sessionTag"])
		require.NotEmpty(t, meta["browserTag"])
	}
}

func TestEnvTagStableAcrossPipelines(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv := storage.NewMemory()
	tags := map[string]struct{}{}
	for i := 0; i < 2; i++ {
		rec := &recordSink{}
		p, err := New("app", "1.0", []sink.Sink{rec}, Options{KV: kv, VerboseEvents: true})
		require.NoError(t, err)
		p.LogEvent("ping", nil)
		p.Go(ctx)
		waitFor(t, func() bool { return len(rec.snapshotLines()) == 1 })
		meta := decode(t, rec.snapshotLines()[0])["metadata"].(map[string]interface{})
		tags[meta["browserTag"].(string)] = struct{}{}
	}
	require.Len(t, tags, 1, "environment tag should survive a restart")
}

func TestSinkInitFailureNeverDelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recordSink{initErr: errors.New("boom")}
	p, err := New("app", "1.0", []sink.Sink{rec}, Options{})
	require.NoError(t, err)

	p.LogEvent("ping", nil)
	p.Go(ctx)
	require.NoError(t, p.Flush(ctx))
	require.Equal(t, StateError, p.State())

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, rec.snapshotLines())
}

func TestMetadataTaskFailureDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recordSink{}
	p, err := New("app", "1.0", []sink.Sink{rec}, Options{
		Metadata: []MetadataTask{
			{Name: "bad", Run: func(context.Context) (map[string]interface{}, error) {
				return nil, errors.New("unavailable")
			}},
			{Name: "good", Run: func(context.Context) (map[string]interface{}, error) {
				return map[string]interface{}{"good": true}, nil
			}},
		},
	})
	require.NoError(t, err)

	p.Go(ctx)
	require.NoError(t, p.Flush(ctx))
	require.Equal(t, StateReady, p.State())

	fields := rec.snapshotFields()
	require.Len(t, fields, 2) // source/version frame plus surviving task
	meta := decode(t, fields[1])
	require.Equal(t, true, meta["good"])
	require.NotContains(t, meta, "bad")
}

func TestPermanentBlockHaltsDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv := storage.NewMemory()
	blk, err := disabler.NewBlock("banned", "permanent", "drop")
	require.NoError(t, err)

	rec := &recordSink{block: blk}
	p, err := New("app", "1.0", []sink.Sink{rec}, Options{KV: kv, UseDisabler: true})
	require.NoError(t, err)

	p.LogEvent("first", nil)
	p.Go(ctx)

	// The first event triggers the block and the policy is persisted.
	waitFor(t, func() bool {
		got, err := kv.Get(ctx, []string{storage.KeyDisabler})
		if err != nil {
			return false
		}
		raw, ok := got[storage.KeyDisabler]
		return ok && len(raw) > 0
	})
	require.Len(t, rec.snapshotLines(), 1)

	// New events are refused and the consumer loop has stopped for good.
	p.LogEvent("second", nil)
	require.NoError(t, p.Flush(ctx))
	time.Sleep(50 * time.Millisecond)
	require.Len(t, rec.snapshotLines(), 1)

	// A fresh pipeline over the same storage restores the block on load.
	rec2 := &recordSink{}
	p2, err := New("app", "1.0", []sink.Sink{rec2}, Options{KV: kv, UseDisabler: true})
	require.NoError(t, err)
	p2.LogEvent("after-restart", nil)
	p2.Go(ctx)
	require.NoError(t, p2.Flush(ctx))
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, rec2.snapshotLines())
}

func TestBlockAbortsFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blk, err := disabler.NewBlock("banned", "permanent", "drop")
	require.NoError(t, err)
	first := &recordSink{block: blk}
	second := &recordSink{}
	p, err := New("app", "1.0", []sink.Sink{first, second}, Options{
		KV:          storage.NewMemory(),
		UseDisabler: true,
	})
	require.NoError(t, err)

	p.LogEvent("blocked", nil)
	p.Go(ctx)

	waitFor(t, func() bool { return len(first.snapshotLines()) == 1 })
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, second.snapshotLines(), "sinks after the blocking one must not see the event")
}

func TestSinkFaultDropsItemAndContinues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var lines []string
	fail := true
	flaky := sinkFunc(func(_ context.Context, line string) (*disabler.Block, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			fail = false
			return nil, errors.New("transient")
		}
		lines = append(lines, line)
		return nil, nil
	})

	p, err := New("app", "1.0", []sink.Sink{flaky}, Options{})
	require.NoError(t, err)
	p.LogEvent("lost", nil)
	p.LogEvent("kept", nil)
	p.Go(ctx)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "kept", decode(t, lines[0])["event"])
}

type sinkFunc func(ctx context.Context, line string) (*disabler.Block, error)

func (f sinkFunc) Log(ctx context.Context, line string) (*disabler.Block, error) {
	return f(ctx, line)
}
