package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// Debug controls the diagnostics logger, not event delivery.
	Debug Debug `json:"debug" yaml:"debug"`

	// UseDisabler turns on the server-driven opt-out gate.
	UseDisabler bool `json:"useDisabler" yaml:"useDisabler"`

	// QueueType selects the event queue backend: auto, memory, or persistent.
	QueueType string `json:"queueType" yaml:"queueType"`

	// DataDir is where the persistent queue and KV live.
	DataDir string `json:"dataDir" yaml:"dataDir"`

	// VerboseEvents adds timing and session identity to each event's
	// metadata.
	VerboseEvents bool `json:"verboseEvents" yaml:"verboseEvents"`

	// SendRuntimeInfo enables the runtime-info metadata task.
	SendRuntimeInfo bool `json:"sendRuntimeInfo" yaml:"sendRuntimeInfo"`

	Server Server `json:"server" yaml:"server"`
}

// Debug declares the diagnostics logger.
type Debug struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text or json
	Dest   string `json:"dest" yaml:"dest"`     // console, null, or a file path
}

// Server is the remote event collector endpoint.
type Server struct {
	// Addr is the ZeroMQ endpoint, e.g. tcp://collector:7327. Empty disables
	// the network sink.
	Addr string `json:"addr" yaml:"addr"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Debug:           Debug{Level: "info", Format: "text", Dest: "console"},
		UseDisabler:     true,
		QueueType:       "auto",
		DataDir:         DefaultDataDir(),
		VerboseEvents:   false,
		SendRuntimeInfo: true,
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path
// is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
