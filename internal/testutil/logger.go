package testutil

import "log/slog"

// DiscardLogger returns a slog.Logger that discards all output. Components
// taking a log.Logger (an alias for *slog.Logger) accept it directly.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
