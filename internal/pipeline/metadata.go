package pipeline

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/ArgLab/lo-event/internal/storage"
	"github.com/ArgLab/lo-event/pkg/id"
	logpkg "github.com/ArgLab/lo-event/pkg/log"
)

// MetadataTask produces one fragment of session metadata. Tasks run
// concurrently when the pipeline goes live; a task that fails contributes
// nothing and delivery proceeds without it.
type MetadataTask struct {
	Name string
	Run  func(ctx context.Context) (map[string]interface{}, error)
}

// RuntimeInfo reports process environment details, roughly what a browser
// client would report about its user agent.
func RuntimeInfo() MetadataTask {
	return MetadataTask{
		Name: "runtime_info",
		Run: func(ctx context.Context) (map[string]interface{}, error) {
			host, err := os.Hostname()
			if err != nil {
				host = ""
			}
			return map[string]interface{}{
				"runtime_info": map[string]interface{}{
					"os":       runtime.GOOS,
					"arch":     runtime.GOARCH,
					"go":       runtime.Version(),
					"pid":      os.Getpid(),
					"hostname": host,
				},
			}, nil
		},
	}
}

// stamp decorates an outbound event with timing and session identity before
// it is serialized. iso_ts is always present; the verbose fields ride along
// only when configured.
func (p *Pipeline) stamp(ctx context.Context, eventType string, payload map[string]interface{}) map[string]interface{} {
	ev := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		ev[k] = v
	}
	ev["event"] = eventType

	now := time.Unix(0, p.nowMs()*int64(time.Millisecond)).UTC()
	meta := map[string]interface{}{
		"iso_ts": now.Format(time.RFC3339Nano),
	}
	if p.verbose {
		meta["ts"] = p.nowMs()
		meta["human_ts"] = now.Format("Mon Jan 2 15:04:05 2006")
		meta["sessionIndex"] = p.counter.Next()
		meta["sessionTag"] = p.sessionTag
		meta["browserTag"] = p.envTag(ctx)
	}
	ev["metadata"] = meta
	return ev
}

// envTag returns the stable per-environment tag. The stored tag wins when one
// exists; otherwise a fresh tag is generated, persisted best-effort, and used
// from then on. Only ever called from the task worker, so no locking.
func (p *Pipeline) envTag(ctx context.Context) string {
	if p.cachedEnvTag != "" {
		return p.cachedEnvTag
	}
	fresh := id.NewTag()
	p.cachedEnvTag = fresh
	got, err := p.kv.Get(ctx, []string{storage.KeyEnvTag})
	if err != nil {
		p.logger.Warn("env tag lookup failed", logpkg.Err(err))
		return fresh
	}
	if v, ok := got[storage.KeyEnvTag]; ok && len(v) > 0 {
		p.cachedEnvTag = string(v)
		return p.cachedEnvTag
	}
	if err := p.kv.Set(ctx, map[string][]byte{storage.KeyEnvTag: []byte(fresh)}); err != nil {
		p.logger.Warn("env tag persist failed", logpkg.Err(err))
	}
	return fresh
}
