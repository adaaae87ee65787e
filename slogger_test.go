// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// DefaultSLogger discards at every level without panicking.
func TestDefaultSLogger(t *testing.T) {
	logger := DefaultSLogger()
	assert.IsType(t, discardSLogger{}, logger)

	logger.Debug("pipelineRead", "handler", "lines")
	logger.Info("channelActive", "spanID", "x")
	logger.Warn("endOfPipeline", "event", "read")
}

// A *slog.Logger is an SLogger and receives the events.
func TestSLoggerAcceptsSlogLogger(t *testing.T) {
	logger, logs := newCapturingLogger()
	var slogger SLogger = logger

	slogger.Debug("a")
	slogger.Info("b")
	slogger.Warn("c")

	assert.Equal(t, []string{"a", "b", "c"}, logs.Messages())
}
