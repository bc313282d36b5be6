// Package config provides loading and environment overlay for lo-event
// configuration. It exposes a Default() baseline, Load() for JSON or YAML
// files, and FromEnv() to overlay LOEVENT_* variables.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/lo-event.yaml"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
package config
