package config

import (
	"os"
	"strconv"
)

// FromEnv overlays LOEVENT_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("LOEVENT_DEBUG_LEVEL"); v != "" {
		cfg.Debug.Level = v
	}
	if v := os.Getenv("LOEVENT_DEBUG_FORMAT"); v != "" {
		cfg.Debug.Format = v
	}
	if v := os.Getenv("LOEVENT_DEBUG_DEST"); v != "" {
		cfg.Debug.Dest = v
	}
	if v := os.Getenv("LOEVENT_USE_DISABLER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.UseDisabler = b
		}
	}
	if v := os.Getenv("LOEVENT_QUEUE_TYPE"); v != "" {
		cfg.QueueType = v
	}
	if v := os.Getenv("LOEVENT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LOEVENT_VERBOSE_EVENTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.VerboseEvents = b
		}
	}
	if v := os.Getenv("LOEVENT_SEND_RUNTIME_INFO"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SendRuntimeInfo = b
		}
	}
	if v := os.Getenv("LOEVENT_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}
