// Package logging provides structured logging for the devsync core.
//
// It wraps log/slog with JSON output for production, text output for
// development, level filtering, and default fields (service, version) on
// every record. Subsystems derive child loggers with Component:
//
//	logger := logging.New(cfg.Logging, version)
//	queueLog := logger.Component("queue")
//	queueLog.Info("command dispatched", "command_id", id)
//
// Never log device tokens or the remote bearer token.
package logging
