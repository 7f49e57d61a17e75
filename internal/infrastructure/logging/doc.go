// Package logging provides structured logging for rollcall.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same handler, level and default fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("reader connected", "device", "/dev/ttyUSB0")
//
// Card identifiers are credentials. Log them at debug level only.
package logging
