// Package logger standardises structured logging across the kit with a
// single factory over Go's slog package.
//
// New builds a *slog.Logger from functional options: output format (text or
// json), minimum level, destination writer, and static attributes applied to
// every record.
//
//	log := logger.New(
//		logger.WithService("publisher"),
//		logger.WithLevel(slog.LevelDebug),
//		logger.WithFormat(logger.FormatText),
//	)
//	logger.SetAsDefault(log)
package logger
