// Package log provides a logging abstraction for pnpcoord components.
//
// This package defines a Logger interface that can be implemented by
// any logging library. Default implementations are provided for zerolog
// and a no-op logger for testing.
//
// # Usage
//
// Use the provided zerolog adapter:
//
//	logger := log.NewZerologAdapterWithWriter(os.Stderr, log.ParseLevel("debug"), false)
//
// Attach per-instance fields once and pass the result down:
//
//	devLogger := log.With(logger, log.String("instance", "toaster-0"))
//
// Or use the no-op logger for testing:
//
//	logger := log.NewNoopLogger()
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
//
// See version.go for version constants that can be used programmatically.
package log
