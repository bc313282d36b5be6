package disabler

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"
)

// Block is a server-issued directive that reconfigures the policy gate. It is
// a control value, not a generic fault: sinks return it alongside (never
// wrapped in) their error so the caller can never mistake it for a transient
// failure.
type Block struct {
	Message     string
	TimeLimitMs int64 // explicit ms window, or Permanent
	Action      Action
}

// Named time-limit buckets. Jitter is resolved once, when the signal is
// constructed.
const (
	BucketShort     = "short"     // 5-10 minutes
	BucketLong      = "long"      // 1-2 days
	BucketPermanent = "permanent" // no end
)

func jitterMs(lo, hi time.Duration) int64 {
	span := int64(hi-lo) / int64(time.Millisecond)
	return int64(lo/time.Millisecond) + rand.Int63n(span)
}

// ResolveTimeLimit turns a wire time_limit value into milliseconds: a named
// bucket, a JSON number of milliseconds, or a numeric string.
func ResolveTimeLimit(v interface{}) (int64, error) {
	switch tv := v.(type) {
	case string:
		switch tv {
		case BucketShort:
			return jitterMs(5*time.Minute, 10*time.Minute), nil
		case BucketLong:
			return jitterMs(24*time.Hour, 48*time.Hour), nil
		case BucketPermanent:
			return Permanent, nil
		default:
			ms, err := strconv.ParseInt(tv, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("disabler: unknown time limit %q", tv)
			}
			return ms, nil
		}
	case float64:
		return int64(tv), nil
	case int64:
		return tv, nil
	case nil:
		return 0, fmt.Errorf("disabler: missing time limit")
	default:
		return 0, fmt.Errorf("disabler: unsupported time limit %T", v)
	}
}

// ParseAction maps a wire action value, defaulting to drop for unknown input
// so a garbled directive still errs on the quiet side.
func ParseAction(s string) Action {
	switch Action(s) {
	case ActionTransmit, ActionMaintain, ActionDrop:
		return Action(s)
	default:
		return ActionDrop
	}
}

// NewBlock builds a Block from wire fields.
func NewBlock(message string, timeLimit interface{}, action string) (*Block, error) {
	ms, err := ResolveTimeLimit(timeLimit)
	if err != nil {
		return nil, err
	}
	return &Block{Message: message, TimeLimitMs: ms, Action: ParseAction(action)}, nil
}
