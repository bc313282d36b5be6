// Package transport implements the reconnecting channel sink: a sink whose
// consumer is a duplex network channel, with exponential reconnect backoff
// and an inbound control protocol that can trigger the delivery policy gate.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ArgLab/lo-event/internal/disabler"
	"github.com/ArgLab/lo-event/internal/queue"
	"github.com/ArgLab/lo-event/internal/sink"
	"github.com/ArgLab/lo-event/internal/storage"
	logpkg "github.com/ArgLab/lo-event/pkg/log"
)

// Notifier receives local notifications the server pushes down (auth,
// browser_event, fetch_blob) for host-application consumption.
type Notifier interface {
	Notify(kind string, payload map[string]interface{})
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(kind string, payload map[string]interface{})

// Notify implements Notifier.
func (f NotifierFunc) Notify(kind string, payload map[string]interface{}) { f(kind, payload) }

// Options configures a ChannelSink.
type Options struct {
	// Addr is the server address ("tcp://host:port"). A persisted override
	// record takes precedence when present.
	Addr string
	// Channel overrides the default ZMQ channel; used in tests.
	Channel Channel
	// KV persists server-pushed records (user id, local_storage pairs) and
	// holds the optional address override.
	KV storage.KV
	// Notifier receives local notifications. Optional.
	Notifier Notifier
	Logger   logpkg.Logger
}

// ChannelSink buffers outbound events in its own queue and drains them to the
// wire whenever the channel is up. Connectivity never surfaces to producers:
// events accumulate while the channel heals itself.
type ChannelSink struct {
	addr     string
	channel  Channel
	kv       storage.KV
	notifier Notifier
	logger   logpkg.Logger

	out *queue.Queue

	mu           sync.Mutex
	conn         Conn
	ready        bool
	pendingBlock *disabler.Block
	lockedFields map[string]interface{}
}

// New creates a ChannelSink. Init must run before events flow.
func New(opts Options) *ChannelSink {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	logger = logger.WithComponent("transport")
	kv := opts.KV
	if kv == nil {
		kv = storage.NewMemory()
	}
	return &ChannelSink{
		addr:         opts.Addr,
		channel:      opts.Channel,
		kv:           kv,
		notifier:     opts.Notifier,
		logger:       logger,
		out:          queue.New(queue.NewMemory(), logger),
		lockedFields: map[string]interface{}{},
	}
}

// Init resolves the server address, then starts the reconnect loop and the
// outbound dequeue loop. The loops run until process teardown; they expose no
// cancellation.
func (s *ChannelSink) Init(ctx context.Context) error {
	if s.channel == nil {
		addr := s.addr
		if got, err := s.kv.Get(ctx, []string{storage.KeyServerOverride}); err == nil {
			if v, ok := got[storage.KeyServerOverride]; ok && len(v) > 0 {
				addr = string(v)
			}
		} else {
			s.logger.Warn("read server override", logpkg.Err(err))
		}
		s.channel = NewZMQChannel(addr)
		s.logger.Info("channel target", logpkg.Str("addr", addr))
	}

	loopCtx := context.Background()
	go s.connectLoop(loopCtx)
	s.out.StartLoop(loopCtx, queue.LoopConfig{
		ShouldDequeue: func(ctx context.Context) (bool, error) {
			if err := WaitUntil(ctx, s.isReady); err != nil {
				return false, err
			}
			return true, nil
		},
		OnDequeue: s.wireSend,
		OnError: func(err error) {
			s.logger.Warn("outbound loop", logpkg.Err(err))
		},
	})
	return nil
}

// Log implements the sink contract. The send attempt first checks for a
// pending block: if one is held, it is cleared, the channel is closed, and
// the block is returned to the caller for forwarding to the policy gate.
func (s *ChannelSink) Log(_ context.Context, line string) (*disabler.Block, error) {
	s.mu.Lock()
	if b := s.pendingBlock; b != nil {
		s.pendingBlock = nil
		conn := s.conn
		s.conn = nil
		s.ready = false
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return b, nil
	}
	s.mu.Unlock()
	s.out.Enqueue([]byte(line))
	return nil, nil
}

// SetFields merges the broadcast payload into the cumulative lock fields and
// queues it outbound so the server sees field changes in event order.
func (s *ChannelSink) SetFields(_ context.Context, payload string) error {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return err
	}
	s.mu.Lock()
	s.lockedFields = sink.MergeFields(s.lockedFields, fields)
	s.mu.Unlock()
	s.out.Enqueue([]byte(payload))
	return nil
}

// LockFields reports the cumulative lock fields.
func (s *ChannelSink) LockFields() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(s.lockedFields))
	for k, v := range s.lockedFields {
		out[k] = v
	}
	return out
}

func (s *ChannelSink) isReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *ChannelSink) setConn(conn Conn) {
	s.mu.Lock()
	s.conn = conn
	s.ready = true
	s.mu.Unlock()
}

func (s *ChannelSink) dropConn(conn Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.ready = false
	}
	s.mu.Unlock()
	_ = conn.Close()
}

// metaFrame serializes the cumulative lock fields, or "" when none are held.
func (s *ChannelSink) metaFrame() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lockedFields) == 0 {
		return ""
	}
	b, err := json.Marshal(s.lockedFields)
	if err != nil {
		return ""
	}
	return string(b)
}

// wireSend pushes one queued item onto the current connection. A dead
// connection fails the item; per the loop contract it is dropped, not
// retried.
func (s *ChannelSink) wireSend(_ context.Context, item []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrConnClosed
	}
	if err := conn.Send(string(item)); err != nil {
		s.dropConn(conn)
		return err
	}
	return nil
}

// connectLoop maintains the channel forever: dial, resync metadata, serve
// inbound control traffic, and on any failure back off exponentially. The
// failure counter resets only on a successful open.
func (s *ChannelSink) connectLoop(ctx context.Context) {
	failures := 0
	backoff := func() bool {
		failures++
		d := Delay(failures)
		s.logger.Debug("reconnect backoff",
			logpkg.Int("failures", failures),
			logpkg.Int64("delay_ms", d.Milliseconds()))
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		conn, err := s.channel.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("channel open failed", logpkg.Err(err))
			if !backoff() {
				return
			}
			continue
		}

		// First outbound message after (re)connect resynchronizes the
		// server-side session state.
		if meta := s.metaFrame(); meta != "" {
			if err := conn.Send(meta); err != nil {
				s.logger.Warn("metadata resync failed", logpkg.Err(err))
				_ = conn.Close()
				if !backoff() {
					return
				}
				continue
			}
		}

		s.setConn(conn)
		failures = 0
		s.logger.Info("channel open")

		s.recvLoop(ctx, conn)
		s.dropConn(conn)
		s.logger.Warn("channel lost")
		if !backoff() {
			return
		}
	}
}

// recvLoop serves inbound control messages until the connection dies.
func (s *ChannelSink) recvLoop(ctx context.Context, conn Conn) {
	for {
		msg, err := conn.Recv()
		if err != nil {
			return
		}
		s.handleControl(ctx, msg)
	}
}
