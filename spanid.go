// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 string identifying a span.
//
// Every [*Channel] gets its own span ID, which is attached to all
// the log events it emits as the spanID field. Callers may also use
// span IDs to correlate their own log entries with a channel.
//
// This function panics if the system random number generator fails.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
