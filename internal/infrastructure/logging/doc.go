// Package logging provides structured logging for brokerlink.
//
// This package wraps Go's standard log/slog package so that the session,
// cluster and infrastructure packages all log with the same shape.
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
//	logger := logging.New(cfg.Logging, version)
//	sessionLog := logger.Component("session")
//	sessionLog.Info("connected", "endpoint", ep.Address())
//
// Never log broker passwords or InfluxDB tokens. config.Endpoint's String
// method is safe to log.
package logging
