package disabler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ArgLab/lo-event/internal/storage"
	logpkg "github.com/ArgLab/lo-event/pkg/log"
)

type countingKV struct {
	storage.KV
	sets atomic.Int64
}

func (c *countingKV) Set(ctx context.Context, kv map[string][]byte) error {
	c.sets.Add(1)
	return c.KV.Set(ctx, kv)
}

func testDisabler() (*Disabler, *countingKV) {
	kv := &countingKV{KV: storage.NewMemory()}
	d := New(kv, logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{})))
	d.sleep = func(context.Context, time.Duration) bool { return true }
	return d, kv
}

func TestDefaultStateTransmits(t *testing.T) {
	d, _ := testDisabler()
	require.True(t, d.StoreEvents())
	ok, err := d.Retry(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPermanentBlockHaltsForever(t *testing.T) {
	d, kv := testDisabler()
	d.HandleBlock(context.Background(), &Block{Message: "banned", TimeLimitMs: Permanent, Action: ActionDrop})

	require.False(t, d.StoreEvents())
	for i := 0; i < 3; i++ {
		ok, err := d.Retry(context.Background())
		require.NoError(t, err)
		require.False(t, ok)
	}

	// Simulated restart: a fresh instance over the same storage stays blocked.
	reloaded := New(kv, logpkg.NewLogger(logpkg.WithOutput(logpkg.NullOutput{})))
	require.NoError(t, reloaded.Load(context.Background()))
	ok, err := reloaded.Retry(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, reloaded.StoreEvents())
}

func TestTimedBlockWaitsThenResets(t *testing.T) {
	d, _ := testDisabler()
	now := int64(1_000_000)
	d.nowMs = func() int64 { return now }

	slept := time.Duration(0)
	d.sleep = func(_ context.Context, dur time.Duration) bool {
		slept += dur
		now += dur.Milliseconds()
		return true
	}

	d.HandleBlock(context.Background(), &Block{TimeLimitMs: 5_000, Action: ActionMaintain})
	require.True(t, d.StoreEvents(), "maintain keeps storing")

	ok, err := d.Retry(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 5*time.Second, slept)
	require.True(t, d.StoreEvents())
}

func TestResetPersistsAtMostOnce(t *testing.T) {
	d, kv := testDisabler()
	now := int64(1_000_000)
	d.nowMs = func() int64 { return now }

	d.HandleBlock(context.Background(), &Block{TimeLimitMs: 1_000, Action: ActionMaintain})
	require.EqualValues(t, 1, kv.sets.Load(), "block persists immediately")

	now += 2_000 // window already elapsed; Retry must not sleep
	for i := 0; i < 2; i++ {
		ok, err := d.Retry(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.EqualValues(t, 2, kv.sets.Load(), "reset persists once, second retry is a no-op")
}

func TestResolveTimeLimitBuckets(t *testing.T) {
	short, err := ResolveTimeLimit(BucketShort)
	require.NoError(t, err)
	require.GreaterOrEqual(t, short, (5 * time.Minute).Milliseconds())
	require.Less(t, short, (10 * time.Minute).Milliseconds())

	long, err := ResolveTimeLimit(BucketLong)
	require.NoError(t, err)
	require.GreaterOrEqual(t, long, (24 * time.Hour).Milliseconds())
	require.Less(t, long, (48 * time.Hour).Milliseconds())

	perm, err := ResolveTimeLimit(BucketPermanent)
	require.NoError(t, err)
	require.Equal(t, Permanent, perm)

	explicit, err := ResolveTimeLimit(float64(1234))
	require.NoError(t, err)
	require.EqualValues(t, 1234, explicit)

	_, err = ResolveTimeLimit("sideways")
	require.Error(t, err)
}

func TestParseActionDefaultsToDrop(t *testing.T) {
	require.Equal(t, ActionMaintain, ParseAction("maintain"))
	require.Equal(t, ActionDrop, ParseAction("whatever"))
}
