// Package logging provides structured logging for the AP Gateway.
//
// It wraps log/slog so every component logs through the same handler:
// JSON for production, text for development, level filtering, and default
// service/version fields on every record.
//
// Configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("transport listening", "port", 15002)
//
// Never log secrets, tokens, or device credentials.
package logging
