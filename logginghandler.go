// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"fmt"
	"log/slog"
	"time"
)

// NewLoggingHandler returns a new [*LoggingHandler].
//
// The cfg argument contains the common configuration for netpipe operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewLoggingHandler[R, W any](cfg *Config, logger SLogger) *LoggingHandler[R, W] {
	return &LoggingHandler[R, W]{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// LoggingHandler forwards every event unchanged and logs it at debug level.
//
// Events are named after the pipeline operation (pipelineRead, pipelineWrite,
// pipelineClose, etc.) and carry the handler name. Messages are logged by
// type and, for strings and byte slices, by size.
//
// All fields are safe to modify after construction but before first use.
type LoggingHandler[R, W any] struct {
	HandlerBase[R, W]

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewLoggingHandler] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewLoggingHandler] to the user-provided logger.
	Logger SLogger

	// TimeNow returns the current time.
	//
	// Set by [NewLoggingHandler] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Handler[string, string, []byte, []byte] = &LoggingHandler[string, []byte]{}

// Read implements [Handler].
func (lh *LoggingHandler[R, W]) Read(ctx HandlerContext[R, W], msg R) {
	lh.logMessage(ctx, "pipelineRead", msg)
	ctx.FireRead(msg)
}

// ReadEOF implements [Handler].
func (lh *LoggingHandler[R, W]) ReadEOF(ctx HandlerContext[R, W]) {
	lh.log(ctx, "pipelineReadEOF")
	ctx.FireReadEOF()
}

// ReadError implements [Handler].
func (lh *LoggingHandler[R, W]) ReadError(ctx HandlerContext[R, W], err error) {
	lh.logError(ctx, "pipelineReadError", err)
	ctx.FireReadError(err)
}

// TransportActive implements [Handler].
func (lh *LoggingHandler[R, W]) TransportActive(ctx HandlerContext[R, W]) {
	lh.log(ctx, "pipelineTransportActive")
	ctx.FireTransportActive()
}

// TransportInactive implements [Handler].
func (lh *LoggingHandler[R, W]) TransportInactive(ctx HandlerContext[R, W]) {
	lh.log(ctx, "pipelineTransportInactive")
	ctx.FireTransportInactive()
}

// Write implements [Handler].
func (lh *LoggingHandler[R, W]) Write(ctx HandlerContext[R, W], msg W) {
	lh.logMessage(ctx, "pipelineWrite", msg)
	ctx.FireWrite(msg)
}

// WriteError implements [Handler].
func (lh *LoggingHandler[R, W]) WriteError(ctx HandlerContext[R, W], err error) {
	lh.logError(ctx, "pipelineWriteError", err)
	ctx.FireWriteError(err)
}

// Close implements [Handler].
func (lh *LoggingHandler[R, W]) Close(ctx HandlerContext[R, W]) {
	lh.log(ctx, "pipelineClose")
	ctx.FireClose()
}

func (lh *LoggingHandler[R, W]) log(ctx HandlerContext[R, W], event string, extra ...any) {
	args := append([]any{
		slog.String("handler", ctx.Name()),
		slog.Time("t", lh.TimeNow()),
	}, extra...)
	lh.Logger.Debug(event, args...)
}

func (lh *LoggingHandler[R, W]) logError(ctx HandlerContext[R, W], event string, err error) {
	lh.log(ctx, event, slog.Any("err", err), slog.String("errClass", lh.ErrClassifier.Classify(err)))
}

func (lh *LoggingHandler[R, W]) logMessage(ctx HandlerContext[R, W], event string, msg any) {
	extra := []any{slog.String("messageType", fmt.Sprintf("%T", msg))}
	switch value := msg.(type) {
	case []byte:
		extra = append(extra, slog.Int("messageSize", len(value)))
	case string:
		extra = append(extra, slog.Int("messageSize", len(value)))
	}
	lh.log(ctx, event, extra...)
}
