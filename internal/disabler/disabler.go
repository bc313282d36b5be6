// Package disabler implements the tri-state delivery policy gate: whether
// events are stored at all, and whether the queue consumer may keep draining.
// Server-issued block signals reconfigure the gate for a bounded window or
// permanently; the state persists through the storage capability so a
// disabled client stays disabled after restart.
package disabler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ArgLab/lo-event/internal/storage"
	logpkg "github.com/ArgLab/lo-event/pkg/log"
)

// Action is what the pipeline does with new and queued events.
type Action string

const (
	// ActionTransmit stores and transmits events normally.
	ActionTransmit Action = "transmit"
	// ActionMaintain stores events but pauses transmission.
	ActionMaintain Action = "maintain"
	// ActionDrop discards events outright.
	ActionDrop Action = "drop"
)

// Permanent marks an expiration with no end.
const Permanent int64 = -1

// State is the persisted policy record. ExpirationMs is a Unix-ms deadline,
// Permanent, or zero for none; zero expiration implies ActionTransmit.
type State struct {
	Action       Action `json:"action"`
	ExpirationMs int64  `json:"expiration_ms"`
}

var transmitState = State{Action: ActionTransmit}

// Disabler gates event storage and queue consumption.
type Disabler struct {
	kv     storage.KV
	logger logpkg.Logger

	mu        sync.Mutex
	state     State
	persisted State

	// Test seams.
	nowMs func() int64
	sleep func(ctx context.Context, d time.Duration) bool
}

// New creates a Disabler in the transmit state. Call Load to restore a
// persisted policy.
func New(kv storage.KV, logger logpkg.Logger) *Disabler {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Disabler{
		kv:        kv,
		logger:    logger.WithComponent("disabler"),
		state:     transmitState,
		persisted: transmitState,
		nowMs:     func() int64 { return time.Now().UnixMilli() },
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Load restores the persisted policy record, if any.
func (d *Disabler) Load(ctx context.Context) error {
	got, err := d.kv.Get(ctx, []string{storage.KeyDisabler})
	if err != nil {
		return fmt.Errorf("disabler: load policy: %w", err)
	}
	raw, ok := got[storage.KeyDisabler]
	if !ok {
		return nil
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("disabler: decode policy: %w", err)
	}
	d.mu.Lock()
	d.state = st
	d.persisted = st
	d.mu.Unlock()
	return nil
}

// StoreEvents reports whether new events should be accepted at all. Only the
// drop action refuses storage.
func (d *Disabler) StoreEvents() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Action != ActionDrop
}

// Retry gates queue consumption. A permanent block returns false forever and
// the calling loop stops for good. A timed block suspends until the window
// elapses, resets the policy (persisting only when the stored value actually
// changed), and returns true.
func (d *Disabler) Retry(ctx context.Context) (bool, error) {
	d.mu.Lock()
	st := d.state
	d.mu.Unlock()

	if st.ExpirationMs == Permanent {
		return false, nil
	}
	if st.ExpirationMs > 0 {
		if remaining := st.ExpirationMs - d.nowMs(); remaining > 0 {
			if !d.sleep(ctx, time.Duration(remaining)*time.Millisecond) {
				return false, ctx.Err()
			}
		}
		d.reset(ctx)
	}
	return true, nil
}

// reset returns the policy to transmit, writing through only on change.
func (d *Disabler) reset(ctx context.Context) {
	d.mu.Lock()
	d.state = transmitState
	dirty := d.persisted != transmitState
	d.mu.Unlock()
	if !dirty {
		return
	}
	if err := d.persist(ctx, transmitState); err != nil {
		d.logger.Error("persist policy reset", logpkg.Err(err))
	}
}

// HandleBlock applies a server block signal and persists the new policy
// immediately.
func (d *Disabler) HandleBlock(ctx context.Context, sig *Block) {
	st := State{Action: sig.Action}
	if sig.TimeLimitMs == Permanent {
		st.ExpirationMs = Permanent
	} else {
		st.ExpirationMs = d.nowMs() + sig.TimeLimitMs
	}
	d.mu.Lock()
	d.state = st
	d.mu.Unlock()
	d.logger.Warn("delivery blocked by server",
		logpkg.Str("action", string(st.Action)),
		logpkg.Int64("expiration_ms", st.ExpirationMs),
		logpkg.Str("message", sig.Message))
	if err := d.persist(ctx, st); err != nil {
		d.logger.Error("persist block policy", logpkg.Err(err))
	}
}

func (d *Disabler) persist(ctx context.Context, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := d.kv.Set(ctx, map[string][]byte{storage.KeyDisabler: raw}); err != nil {
		return err
	}
	d.mu.Lock()
	d.persisted = st
	d.mu.Unlock()
	return nil
}
