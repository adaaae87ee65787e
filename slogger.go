//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/netxlite/dialer.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/dialer.go
//

package netpipe

// SLogger abstracts the [*slog.Logger] behavior.
//
// By using an abstraction we allow for unit testing and alternative implementations.
//
// This package uses three log levels:
//   - Debug for per-event and per-I/O traces (pipeline events observed by
//     [LoggingHandler], reads and writes observed by [ObserveConnFunc], and
//     lifecycle events that fall off the end of a pipeline)
//   - Info for channel and connection lifecycle (connect, TLS handshake,
//     channel active/inactive, close)
//   - Warn for data, error, and close events that reach the end of a
//     pipeline without being consumed
//
// The [*slog.Logger] type satisfies this interface.
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// DefaultSLogger returns the default [SLogger] to use.
//
// The default is a no-op logger that discards all output, so that a
// library user does not see output on stderr unless they ask for it.
func DefaultSLogger() SLogger {
	return discardSLogger{}
}

// discardSLogger is a no-op [SLogger] that discards all log messages.
type discardSLogger struct{}

var _ SLogger = discardSLogger{}

// Debug implements [SLogger].
func (discardSLogger) Debug(msg string, args ...any) {
	// nothing
}

// Info implements [SLogger].
func (discardSLogger) Info(msg string, args ...any) {
	// nothing
}

// Warn implements [SLogger].
func (discardSLogger) Warn(msg string, args ...any) {
	// nothing
}
