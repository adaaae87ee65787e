// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"net"
	"time"
)

// DefaultReadBufferSize is the default size of the buffer a [*Channel]
// uses for each read from its connection.
const DefaultReadBufferSize = 4096

// Config holds common configuration for netpipe operations.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// ReadBufferSize is the size of each read performed by a [*Channel].
	//
	// Set by [NewConfig] to [DefaultReadBufferSize].
	ReadBufferSize int

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:         &net.Dialer{},
		ErrClassifier:  DefaultErrClassifier,
		ReadBufferSize: DefaultReadBufferSize,
		TimeNow:        time.Now,
	}
}
