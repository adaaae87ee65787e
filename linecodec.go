// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import "bytes"

// LineDecoder splits the inbound byte stream into lines.
//
// Lines are separated by "\n" and a trailing "\r" is removed, so both
// "\n" and "\r\n" line endings work. Each line is forwarded as a string
// without its terminator. On end of stream, a pending line without
// terminator is forwarded before the end of stream itself.
//
// Construct using [NewLineDecoder]. Keeps per-stream state, so each
// pipeline needs its own instance.
type LineDecoder struct {
	InboundHandlerBase[string]

	// MaxLineLength is the maximum line length, excluding the terminator.
	// A longer line is discarded and ErrLineTooLong is fired as a read
	// error instead. Zero means no limit.
	MaxLineLength int

	buffer     []byte
	discarding bool
}

var _ InboundHandler[[]byte, string] = &LineDecoder{}

// NewLineDecoder returns a new [*LineDecoder] with the given maximum
// line length, where zero means no limit.
func NewLineDecoder(maxLineLength int) *LineDecoder {
	return &LineDecoder{MaxLineLength: maxLineLength}
}

// Read implements [InboundHandler].
func (ld *LineDecoder) Read(ctx InboundHandlerContext[string], data []byte) {
	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			ld.accumulate(ctx, data)
			return
		}
		chunk := data[:idx]
		data = data[idx+1:]
		if ld.discarding {
			ld.discarding = false
			continue
		}
		ld.buffer = append(ld.buffer, chunk...)
		ld.emit(ctx)
	}
}

// ReadEOF implements [InboundHandler].
func (ld *LineDecoder) ReadEOF(ctx InboundHandlerContext[string]) {
	if len(ld.buffer) > 0 && !ld.discarding {
		ld.emit(ctx)
	}
	ld.buffer, ld.discarding = nil, false
	ctx.FireReadEOF()
}

// accumulate buffers a line fragment. The "+1" leaves room for a
// "\r" that may precede the terminator in the next chunk.
func (ld *LineDecoder) accumulate(ctx InboundHandlerContext[string], data []byte) {
	if ld.discarding {
		return
	}
	ld.buffer = append(ld.buffer, data...)
	if ld.MaxLineLength > 0 && len(ld.buffer) > ld.MaxLineLength+1 {
		ld.buffer = ld.buffer[:0]
		ld.discarding = true
		ctx.FireReadError(ErrLineTooLong)
	}
}

func (ld *LineDecoder) emit(ctx InboundHandlerContext[string]) {
	line := bytes.TrimSuffix(ld.buffer, []byte("\r"))
	ld.buffer = ld.buffer[:0]
	if ld.MaxLineLength > 0 && len(line) > ld.MaxLineLength {
		ctx.FireReadError(ErrLineTooLong)
		return
	}
	ctx.FireRead(string(line))
}

// LineEncoder terminates each outbound string with Delimiter and
// forwards it as bytes.
//
// The zero value is ready to use and terminates lines with "\n".
type LineEncoder struct {
	OutboundHandlerBase[[]byte]

	// Delimiter terminates each line. Empty means "\n".
	Delimiter string
}

var _ OutboundHandler[string, []byte] = &LineEncoder{}

// Write implements [OutboundHandler].
func (le *LineEncoder) Write(ctx OutboundHandlerContext[[]byte], line string) {
	delimiter := le.Delimiter
	if delimiter == "" {
		delimiter = "\n"
	}
	data := make([]byte, 0, len(line)+len(delimiter))
	data = append(data, line...)
	ctx.FireWrite(append(data, delimiter...))
}
