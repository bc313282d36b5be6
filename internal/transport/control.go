package transport

import (
	"context"
	"encoding/json"

	"github.com/ArgLab/lo-event/internal/disabler"
	"github.com/ArgLab/lo-event/internal/storage"
	logpkg "github.com/ArgLab/lo-event/pkg/log"
)

// Inbound control statuses.
const (
	statusBlocklist    = "blocklist"
	statusAuth         = "auth"
	statusLocalStorage = "local_storage"
	statusBrowserEvent = "browser_event"
	statusFetchBlob    = "fetch_blob"
)

// handleControl dispatches one inbound JSON control message by its status
// discriminator. Unknown statuses are logged and ignored.
func (s *ChannelSink) handleControl(ctx context.Context, raw string) {
	var msg map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		s.logger.Warn("undecodable control message", logpkg.Err(err))
		return
	}
	status, _ := msg["status"].(string)
	switch status {
	case statusBlocklist:
		s.handleBlocklist(msg)
	case statusAuth:
		s.handleAuth(ctx, msg)
	case statusLocalStorage:
		s.handleLocalStorage(ctx, msg)
	case statusBrowserEvent, statusFetchBlob:
		s.notify(status, msg)
	default:
		s.logger.Warn("unrecognized control message", logpkg.Str("status", status))
	}
}

// handleBlocklist holds the block pending; it is raised at the next outbound
// send attempt rather than at receipt.
func (s *ChannelSink) handleBlocklist(msg map[string]interface{}) {
	message, _ := msg["message"].(string)
	action, _ := msg["action"].(string)
	block, err := disabler.NewBlock(message, msg["time_limit"], action)
	if err != nil {
		s.logger.Warn("malformed blocklist directive", logpkg.Err(err))
		return
	}
	s.mu.Lock()
	s.pendingBlock = block
	s.mu.Unlock()
}

func (s *ChannelSink) handleAuth(ctx context.Context, msg map[string]interface{}) {
	if uid, ok := msg["user_id"].(string); ok && uid != "" {
		if err := s.kv.Set(ctx, map[string][]byte{storage.KeyUserID: []byte(uid)}); err != nil {
			s.logger.Error("persist user id", logpkg.Err(err))
		}
	}
	s.notify(statusAuth, msg)
}

// handleLocalStorage persists an arbitrary key/value pair. Safe only against
// a trusted server.
func (s *ChannelSink) handleLocalStorage(ctx context.Context, msg map[string]interface{}) {
	key, ok := msg["key"].(string)
	if !ok || key == "" {
		s.logger.Warn("local_storage directive without key")
		return
	}
	val, err := json.Marshal(msg["value"])
	if err != nil {
		s.logger.Warn("local_storage value", logpkg.Err(err))
		return
	}
	if err := s.kv.Set(ctx, map[string][]byte{key: val}); err != nil {
		s.logger.Error("persist local_storage pair", logpkg.Err(err))
	}
}

func (s *ChannelSink) notify(kind string, payload map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(kind, payload)
}
