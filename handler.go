// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

// InboundHandlerContext is the view of its position that a handler uses
// to continue inbound propagation with messages of type Out.
//
// Each Fire method forwards the event to the nearest following handler
// with inbound capability. When there is none, the event is logged as an
// endOfPipeline notice and dropped.
type InboundHandlerContext[Out any] interface {
	// FireRead forwards a message.
	FireRead(msg Out)

	// FireReadEOF forwards the end-of-stream event.
	FireReadEOF()

	// FireReadError forwards a read-side error.
	FireReadError(err error)

	// FireTransportActive forwards the transport-active event.
	FireTransportActive()

	// FireTransportInactive forwards the transport-inactive event.
	FireTransportInactive()

	// Name returns the name of this position in the pipeline.
	Name() string

	// Pipeline returns the owning pipeline, or nil if the context
	// has been removed or the pipeline is gone.
	Pipeline() *Pipeline
}

// OutboundHandlerContext is the view of its position that a handler uses
// to continue outbound propagation with messages of type Out.
//
// Each Fire method forwards the event to the nearest preceding handler
// with outbound capability, that is, toward the transport.
type OutboundHandlerContext[Out any] interface {
	// FireWrite forwards a message.
	FireWrite(msg Out)

	// FireWriteError forwards a write-side error.
	FireWriteError(err error)

	// FireClose forwards the close request.
	FireClose()

	// Name returns the name of this position in the pipeline.
	Name() string

	// Pipeline returns the owning pipeline, or nil.
	Pipeline() *Pipeline
}

// HandlerContext is the context of a bidirectional handler that reads
// messages of type Rout and writes messages of type Wout.
type HandlerContext[Rout, Wout any] interface {
	InboundHandlerContext[Rout]
	OutboundHandlerContext[Wout]
}

// InboundHandler reacts to read-side events. It receives messages of
// type In and forwards messages of type Out.
//
// Embed [InboundHandlerBase] to get the lifecycle tracking and the default
// pass-through behavior for everything but Read.
type InboundHandler[In, Out any] interface {
	AttachContext(ctx InboundHandlerContext[Out])
	DetachContext()
	Read(ctx InboundHandlerContext[Out], msg In)
	ReadEOF(ctx InboundHandlerContext[Out])
	ReadError(ctx InboundHandlerContext[Out], err error)
	TransportActive(ctx InboundHandlerContext[Out])
	TransportInactive(ctx InboundHandlerContext[Out])
}

// OutboundHandler reacts to write-side events. It receives messages of
// type In and forwards messages of type Out toward the transport.
//
// Embed [OutboundHandlerBase] to get the lifecycle tracking and the default
// pass-through behavior for everything but Write.
type OutboundHandler[In, Out any] interface {
	AttachContext(ctx OutboundHandlerContext[Out])
	DetachContext()
	Write(ctx OutboundHandlerContext[Out], msg In)
	WriteError(ctx OutboundHandlerContext[Out], err error)
	Close(ctx OutboundHandlerContext[Out])
}

// Handler reacts to both read-side and write-side events. It reads Rin,
// forwards Rout, writes Win and forwards Wout.
//
// Embed [HandlerBase] to get the lifecycle tracking and the default
// pass-through behavior for everything but Read and Write.
type Handler[Rin, Rout, Win, Wout any] interface {
	AttachContext(ctx HandlerContext[Rout, Wout])
	DetachContext()
	Read(ctx HandlerContext[Rout, Wout], msg Rin)
	ReadEOF(ctx HandlerContext[Rout, Wout])
	ReadError(ctx HandlerContext[Rout, Wout], err error)
	TransportActive(ctx HandlerContext[Rout, Wout])
	TransportInactive(ctx HandlerContext[Rout, Wout])
	Write(ctx HandlerContext[Rout, Wout], msg Win)
	WriteError(ctx HandlerContext[Rout, Wout], err error)
	Close(ctx HandlerContext[Rout, Wout])
}

// InboundHandlerBase provides [Lifecycle] tracking and default forwarding
// for every inbound event except Read.
type InboundHandlerBase[Out any] struct {
	Lifecycle[InboundHandlerContext[Out]]
}

// ReadEOF forwards the event.
func (*InboundHandlerBase[Out]) ReadEOF(ctx InboundHandlerContext[Out]) {
	ctx.FireReadEOF()
}

// ReadError forwards the error unchanged.
func (*InboundHandlerBase[Out]) ReadError(ctx InboundHandlerContext[Out], err error) {
	ctx.FireReadError(err)
}

// TransportActive forwards the event.
func (*InboundHandlerBase[Out]) TransportActive(ctx InboundHandlerContext[Out]) {
	ctx.FireTransportActive()
}

// TransportInactive forwards the event.
func (*InboundHandlerBase[Out]) TransportInactive(ctx InboundHandlerContext[Out]) {
	ctx.FireTransportInactive()
}

// OutboundHandlerBase provides [Lifecycle] tracking and default forwarding
// for every outbound event except Write.
type OutboundHandlerBase[Out any] struct {
	Lifecycle[OutboundHandlerContext[Out]]
}

// WriteError forwards the error unchanged.
func (*OutboundHandlerBase[Out]) WriteError(ctx OutboundHandlerContext[Out], err error) {
	ctx.FireWriteError(err)
}

// Close forwards the close request.
func (*OutboundHandlerBase[Out]) Close(ctx OutboundHandlerContext[Out]) {
	ctx.FireClose()
}

// HandlerBase provides [Lifecycle] tracking and default forwarding for
// every event except Read and Write.
type HandlerBase[Rout, Wout any] struct {
	Lifecycle[HandlerContext[Rout, Wout]]
}

// ReadEOF forwards the event.
func (*HandlerBase[Rout, Wout]) ReadEOF(ctx HandlerContext[Rout, Wout]) {
	ctx.FireReadEOF()
}

// ReadError forwards the error unchanged.
func (*HandlerBase[Rout, Wout]) ReadError(ctx HandlerContext[Rout, Wout], err error) {
	ctx.FireReadError(err)
}

// TransportActive forwards the event.
func (*HandlerBase[Rout, Wout]) TransportActive(ctx HandlerContext[Rout, Wout]) {
	ctx.FireTransportActive()
}

// TransportInactive forwards the event.
func (*HandlerBase[Rout, Wout]) TransportInactive(ctx HandlerContext[Rout, Wout]) {
	ctx.FireTransportInactive()
}

// WriteError forwards the error unchanged.
func (*HandlerBase[Rout, Wout]) WriteError(ctx HandlerContext[Rout, Wout], err error) {
	ctx.FireWriteError(err)
}

// Close forwards the close request.
func (*HandlerBase[Rout, Wout]) Close(ctx HandlerContext[Rout, Wout]) {
	ctx.FireClose()
}

// InboundHandlerAdapter is an [InboundHandler] that forwards everything.
//
// The zero value is ready to use.
type InboundHandlerAdapter[T any] struct {
	InboundHandlerBase[T]
}

var _ InboundHandler[int, int] = &InboundHandlerAdapter[int]{}

// Read forwards the message unchanged.
func (*InboundHandlerAdapter[T]) Read(ctx InboundHandlerContext[T], msg T) {
	ctx.FireRead(msg)
}

// OutboundHandlerAdapter is an [OutboundHandler] that forwards everything.
//
// The zero value is ready to use.
type OutboundHandlerAdapter[T any] struct {
	OutboundHandlerBase[T]
}

var _ OutboundHandler[int, int] = &OutboundHandlerAdapter[int]{}

// Write forwards the message unchanged.
func (*OutboundHandlerAdapter[T]) Write(ctx OutboundHandlerContext[T], msg T) {
	ctx.FireWrite(msg)
}

// HandlerAdapter is a [Handler] that forwards everything.
//
// The zero value is ready to use. Embed it and override a subset of the
// methods to write a bidirectional handler that only cares about some events.
type HandlerAdapter[R, W any] struct {
	HandlerBase[R, W]
}

var _ Handler[int, int, string, string] = &HandlerAdapter[int, string]{}

// Read forwards the message unchanged.
func (*HandlerAdapter[R, W]) Read(ctx HandlerContext[R, W], msg R) {
	ctx.FireRead(msg)
}

// Write forwards the message unchanged.
func (*HandlerAdapter[R, W]) Write(ctx HandlerContext[R, W], msg W) {
	ctx.FireWrite(msg)
}
