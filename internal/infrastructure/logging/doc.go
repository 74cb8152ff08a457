// Package logging provides structured logging for the Gray Logic aircon bridge.
//
// It wraps log/slog so every entry carries service and version fields,
// and hands out per-component and per-device child loggers.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	devLog := logger.Component("advantageair").Device("living")
//	devLog.Warn("poll failed", "error", err)
//
// Never log MQTT passwords or InfluxDB tokens; the config types redact
// them when formatted.
package logging
