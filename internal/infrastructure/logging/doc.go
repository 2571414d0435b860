// Package logging provides structured logging for the Haier bridge.
//
// It wraps log/slog with JSON (default) or text output, level filtering,
// and default service/version fields on every entry.
//
// Configuration in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("gateway").Info("connected", "devices", 4)
//
// Never log access tokens, refresh tokens or the app key.
package logging
