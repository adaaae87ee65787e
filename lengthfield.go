// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// LengthFieldFramer frames messages with a 2-byte big-endian length
// prefix, which is the framing of DNS over TCP and DNS over TLS.
//
// Inbound, it reassembles frames from the byte stream and forwards each
// frame payload as a separate message. Outbound, it prefixes each message
// with its length. A message larger than 65535 bytes is not written and
// ErrFrameTooLarge is fired as a write error instead. When the stream
// ends in the middle of a frame, ErrTruncatedFrame is fired as a read
// error before the end of stream.
//
// The zero value is ready to use. Keeps per-stream state, so each pipeline
// needs its own instance.
type LengthFieldFramer struct {
	HandlerBase[[]byte, []byte]
	buffer []byte
}

var _ Handler[[]byte, []byte, []byte, []byte] = &LengthFieldFramer{}

// Read implements [Handler].
func (lf *LengthFieldFramer) Read(ctx HandlerContext[[]byte, []byte], data []byte) {
	lf.buffer = append(lf.buffer, data...)
	for len(lf.buffer) >= 2 {
		size := int(binary.BigEndian.Uint16(lf.buffer))
		if len(lf.buffer) < 2+size {
			break
		}
		frame := slices.Clone(lf.buffer[2 : 2+size])
		lf.buffer = append(lf.buffer[:0], lf.buffer[2+size:]...)
		ctx.FireRead(frame)
	}
}

// ReadEOF implements [Handler].
func (lf *LengthFieldFramer) ReadEOF(ctx HandlerContext[[]byte, []byte]) {
	if len(lf.buffer) > 0 {
		pending := len(lf.buffer)
		lf.buffer = nil
		ctx.FireReadError(fmt.Errorf("%w: %d bytes pending", ErrTruncatedFrame, pending))
	}
	ctx.FireReadEOF()
}

// Write implements [Handler].
func (lf *LengthFieldFramer) Write(ctx HandlerContext[[]byte, []byte], payload []byte) {
	if len(payload) > math.MaxUint16 {
		ctx.FireWriteError(fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload)))
		return
	}
	frame := make([]byte, 0, 2+len(payload))
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(payload)))
	ctx.FireWrite(append(frame, payload...))
}
