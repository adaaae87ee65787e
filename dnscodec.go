// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import "github.com/miekg/dns"

// DNSCodec converts between raw DNS messages and [*dns.Msg].
//
// Place it after a [*LengthFieldFramer] for DNS over TCP, so that each
// inbound []byte is exactly one message. A message that cannot be
// unpacked is fired as a read error, and one that cannot be packed as
// a write error.
//
// The zero value is ready to use.
type DNSCodec struct {
	HandlerBase[*dns.Msg, []byte]
}

var _ Handler[[]byte, *dns.Msg, *dns.Msg, []byte] = &DNSCodec{}

// Read implements [Handler].
func (*DNSCodec) Read(ctx HandlerContext[*dns.Msg, []byte], rawMsg []byte) {
	msg := &dns.Msg{}
	if err := msg.Unpack(rawMsg); err != nil {
		ctx.FireReadError(err)
		return
	}
	ctx.FireRead(msg)
}

// Write implements [Handler].
func (*DNSCodec) Write(ctx HandlerContext[*dns.Msg, []byte], msg *dns.Msg) {
	rawMsg, err := msg.Pack()
	if err != nil {
		ctx.FireWriteError(err)
		return
	}
	ctx.FireWrite(rawMsg)
}
