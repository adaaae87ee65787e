// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

// Transport is where the bytes leaving a pipeline end up.
//
// A [net.Conn] is a Transport.
type Transport interface {
	Write(data []byte) (int, error)
	Close() error
}

// NewTransportHandler returns a new [*TransportHandler] writing to transport.
func NewTransportHandler(transport Transport) *TransportHandler {
	return &TransportHandler{Transport: transport}
}

// TransportHandler is the outbound handler closest to the transport.
//
// It writes every []byte message to the [Transport] and consumes the
// close request by closing the [Transport]. A failed write is fired as a
// write error and then closes the [Transport], since the byte stream is
// no longer consistent. Because it sits at the head of the pipeline, the
// events it fires reach the end of the pipeline and are only logged.
type TransportHandler struct {
	OutboundHandlerBase[[]byte]

	// Transport is the destination of written bytes.
	Transport Transport
}

var _ OutboundHandler[[]byte, []byte] = &TransportHandler{}

// Write implements [OutboundHandler].
func (th *TransportHandler) Write(ctx OutboundHandlerContext[[]byte], data []byte) {
	if _, err := th.Transport.Write(data); err != nil {
		ctx.FireWriteError(err)
		th.Transport.Close()
	}
}

// Close implements [OutboundHandler].
func (th *TransportHandler) Close(ctx OutboundHandlerContext[[]byte]) {
	th.Transport.Close()
}
