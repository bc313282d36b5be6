// Package runcmd hosts the long-running forwarder behind `loevent run`: it
// reads newline-delimited JSON events from an input stream and pushes them
// through the delivery pipeline.
package runcmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cfgpkg "github.com/ArgLab/lo-event/internal/config"
	"github.com/ArgLab/lo-event/internal/pipeline"
	"github.com/ArgLab/lo-event/internal/queue"
	"github.com/ArgLab/lo-event/internal/sink"
	"github.com/ArgLab/lo-event/internal/storage"
	pebblestore "github.com/ArgLab/lo-event/internal/storage/pebble"
	"github.com/ArgLab/lo-event/internal/transport"
	logpkg "github.com/ArgLab/lo-event/pkg/log"
)

// Options configures one run invocation.
type Options struct {
	Config  cfgpkg.Config
	Source  string
	Version string

	// Echo mirrors events to Output even when a server sink is active.
	Echo bool
	// Filter is an optional CEL expression gating which events are
	// delivered.
	Filter string
	// Lock fields broadcast before delivery starts.
	Lock map[string]interface{}

	// Input defaults to stdin, Output to stdout.
	Input  io.Reader
	Output io.Writer
}

// Run wires the pipeline from configuration and forwards events until the
// input is exhausted or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	logger, err := logpkg.ApplyConfig(&logpkg.Config{
		Level:  cfg.Debug.Level,
		Format: cfg.Debug.Format,
		Dest:   cfg.Debug.Dest,
	})
	if err != nil {
		return fmt.Errorf("debug logger: %w", err)
	}
	logpkg.RedirectStdLog(logger)

	backendType := queue.BackendType(cfg.QueueType)
	var store *pebblestore.DB
	if backendType != queue.BackendMemory {
		db, err := pebblestore.Open(pebblestore.Options{
			DataDir: filepath.Join(cfg.DataDir, "store"),
			Fsync:   pebblestore.FsyncModeAlways,
		})
		switch {
		case err == nil:
			store = db
			defer store.Close()
		case backendType == queue.BackendDurable:
			return fmt.Errorf("open store: %w", err)
		default:
			logger.Warn("store unavailable, falling back to memory queue",
				logpkg.Err(err))
		}
	}

	var kv storage.KV = storage.NewMemory()
	if store != nil {
		kv = storage.NewPebbleKV(store)
	}

	var sinks []sink.Sink
	if cfg.Server.Addr != "" {
		sinks = append(sinks, transport.New(transport.Options{
			Addr:   cfg.Server.Addr,
			KV:     kv,
			Logger: logger,
			Notifier: transport.NotifierFunc(func(kind string, payload map[string]interface{}) {
				logger.Info("server notice", logpkg.Str("kind", kind), logpkg.Any("payload", payload))
			}),
		}))
	}
	if opts.Echo || cfg.Server.Addr == "" {
		sinks = append(sinks, sink.NewConsole(opts.Output))
	}
	if opts.Filter != "" {
		for i, s := range sinks {
			filtered, err := sink.NewFiltered(s, opts.Filter)
			if err != nil {
				return fmt.Errorf("filter expression: %w", err)
			}
			sinks[i] = filtered
		}
	}

	var meta []pipeline.MetadataTask
	if cfg.SendRuntimeInfo {
		meta = append(meta, pipeline.RuntimeInfo())
	}

	p, err := pipeline.New(opts.Source, opts.Version, sinks, pipeline.Options{
		Logger:        logger,
		KV:            kv,
		Store:         store,
		Queue:         backendType,
		UseDisabler:   cfg.UseDisabler,
		VerboseEvents: cfg.VerboseEvents,
		Metadata:      meta,
	})
	if err != nil {
		return err
	}
	if len(opts.Lock) > 0 {
		p.LockFields(opts.Lock)
	}
	p.Go(sctx)

	if err := forward(sctx, p, opts.Input); err != nil {
		return err
	}

	// Let the queue drain what the reader enqueued before teardown.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Flush(flushCtx); err != nil {
		return err
	}
	time.Sleep(250 * time.Millisecond)
	return nil
}

// forward reads one event per input line. A line that parses as a JSON
// object logs under its "event" field; anything else logs as a raw text
// event.
func forward(ctx context.Context, p *pipeline.Pipeline, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			p.LogEvent("raw", map[string]interface{}{"text": line})
			continue
		}
		eventType := "raw"
		if v, ok := payload["event"].(string); ok && v != "" {
			eventType = v
			delete(payload, "event")
		}
		p.LogEvent(eventType, payload)
	}
	return scanner.Err()
}
