// Package log provides lo-event's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog via a custom handler that preserves the
// formatter/outputs pipeline, so output stays consistent across the codebase
// while remaining interoperable with the slog ecosystem.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("transport"))
//	l.Info("channel open", log.Str("addr", addr))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config (the pipeline's
// debugLevel/debugDest options map onto it), supporting JSON or text
// formatting and console, writer, or null destinations.
package log
