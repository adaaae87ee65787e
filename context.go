// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"log/slog"
	"reflect"
	"time"
	"weak"

	"github.com/bassosimone/runtimex"
)

// InboundLink is the narrow interface through which a context delivers
// inbound events to the next inbound-capable context.
//
// Messages are type-erased at this boundary: each receiving context checks
// that the message has the input type of its handler before delivering it.
type InboundLink interface {
	Read(msg any)
	ReadEOF()
	ReadError(err error)
	TransportActive()
	TransportInactive()
}

// OutboundLink is the narrow interface through which a context delivers
// outbound events to the next outbound-capable context.
type OutboundLink interface {
	Write(msg any)
	WriteError(err error)
	Close()
}

// PipelineContext is a per-position node pairing one handler with its
// place in one [*Pipeline].
//
// Construct using [NewInboundContext], [NewOutboundContext], or [NewContext].
// A context takes ownership of its handler and belongs to at most one
// pipeline slot. To use the same handler at several positions, wrap it
// in several contexts (see [Lifecycle] for the consequences).
type PipelineContext interface {
	// Name returns the name given when adding the context to a pipeline.
	Name() string

	// Direction returns the capability variant of the wrapped handler.
	Direction() Direction

	// Handler returns the wrapped handler.
	Handler() any

	// Attached returns whether AttachPipeline ran more recently than DetachPipeline.
	Attached() bool

	// AttachPipeline attaches the handler to this context. It is a
	// no-op when the context is already attached.
	AttachPipeline()

	// DetachPipeline marks the context detached and detaches the handler.
	DetachPipeline()

	// Pipeline returns the owning pipeline, or nil.
	Pipeline() *Pipeline

	core() *contextCore
}

// messageTypes describes the message types of a handler. Types that do
// not apply to the handler direction are nil.
type messageTypes struct {
	readIn   reflect.Type
	readOut  reflect.Type
	writeIn  reflect.Type
	writeOut reflect.Type
}

// contextCore holds the state shared by all the context variants.
type contextCore struct {
	attached  bool
	direction Direction
	logger    SLogger
	name      string
	nextIn    InboundLink
	nextOut   OutboundLink
	owned     bool
	pipeline  weak.Pointer[Pipeline]
	selfIn    InboundLink
	selfOut   OutboundLink
	timeNow   func() time.Time
	types     messageTypes
}

func newContextCore(direction Direction, types messageTypes) contextCore {
	return contextCore{
		direction: direction,
		logger:    DefaultSLogger(),
		timeNow:   time.Now,
		types:     types,
	}
}

func (c *contextCore) core() *contextCore {
	return c
}

// Name implements [PipelineContext].
func (c *contextCore) Name() string {
	return c.name
}

// Direction implements [PipelineContext].
func (c *contextCore) Direction() Direction {
	return c.direction
}

// Attached implements [PipelineContext].
func (c *contextCore) Attached() bool {
	return c.attached
}

// Pipeline implements [PipelineContext].
func (c *contextCore) Pipeline() *Pipeline {
	return c.pipeline.Value()
}

func (c *contextCore) bind(p *Pipeline, name string) {
	c.nextIn = nil
	c.nextOut = nil
	c.owned = true
	c.name = name
	c.pipeline = weak.Make(p)
	c.logger = p.logger
	c.timeNow = p.timeNow
}

// unbind keeps the last links, so that a handler removing itself while
// handling an event can still forward it to its former neighbors.
func (c *contextCore) unbind() {
	c.owned = false
	c.pipeline = weak.Pointer[Pipeline]{}
}

func (c *contextCore) fireRead(msg any) {
	if c.nextIn == nil {
		logEndOfPipeline(c.logger, "read", c.name, c.timeNow())
		return
	}
	c.nextIn.Read(msg)
}

func (c *contextCore) fireReadEOF() {
	if c.nextIn == nil {
		logEndOfPipeline(c.logger, "readEOF", c.name, c.timeNow())
		return
	}
	c.nextIn.ReadEOF()
}

func (c *contextCore) fireReadError(err error) {
	if c.nextIn == nil {
		logEndOfPipeline(c.logger, "readError", c.name, c.timeNow(), slog.Any("err", err))
		return
	}
	c.nextIn.ReadError(err)
}

func (c *contextCore) fireTransportActive() {
	if c.nextIn == nil {
		logEndOfPipeline(c.logger, "transportActive", c.name, c.timeNow())
		return
	}
	c.nextIn.TransportActive()
}

func (c *contextCore) fireTransportInactive() {
	if c.nextIn == nil {
		logEndOfPipeline(c.logger, "transportInactive", c.name, c.timeNow())
		return
	}
	c.nextIn.TransportInactive()
}

func (c *contextCore) fireWrite(msg any) {
	if c.nextOut == nil {
		logEndOfPipeline(c.logger, "write", c.name, c.timeNow())
		return
	}
	c.nextOut.Write(msg)
}

func (c *contextCore) fireWriteError(err error) {
	if c.nextOut == nil {
		logEndOfPipeline(c.logger, "writeError", c.name, c.timeNow(), slog.Any("err", err))
		return
	}
	c.nextOut.WriteError(err)
}

func (c *contextCore) fireClose() {
	if c.nextOut == nil {
		logEndOfPipeline(c.logger, "close", c.name, c.timeNow())
		return
	}
	c.nextOut.Close()
}

// logEndOfPipeline logs that an event has no further node to visit.
//
// Lifecycle notifications falling off the end are routine, so they are
// logged at debug level. Everything else means nobody consumed the event.
func logEndOfPipeline(logger SLogger, event, handler string, t time.Time, extra ...any) {
	args := append([]any{
		slog.String("event", event),
		slog.String("handler", handler),
		slog.Time("t", t),
	}, extra...)
	switch event {
	case "transportActive", "transportInactive":
		logger.Debug("endOfPipeline", args...)
	default:
		logger.Warn("endOfPipeline", args...)
	}
}

// castMessage converts a type-erased message to T. An untyped nil
// converts to the zero value only when T is an interface type.
func castMessage[T any](msg any) (T, bool) {
	if value, ok := msg.(T); ok {
		return value, true
	}
	var zero T
	if msg == nil && reflect.TypeFor[T]().Kind() == reflect.Interface {
		return zero, true
	}
	return zero, false
}

func (c *contextCore) messageTypeError(event string, want reflect.Type, msg any) error {
	return &MessageTypeError{
		Handler: c.name,
		Event:   event,
		Want:    want,
		Got:     reflect.TypeOf(msg),
	}
}

// inboundContext is the [PipelineContext] of an [InboundHandler].
type inboundContext[In, Out any] struct {
	contextCore
	handler InboundHandler[In, Out]
}

// NewInboundContext returns a new [PipelineContext] owning the given handler.
func NewInboundContext[In, Out any](handler InboundHandler[In, Out]) PipelineContext {
	runtimex.Assert(handler != nil)
	c := &inboundContext[In, Out]{
		contextCore: newContextCore(Inbound, messageTypes{
			readIn:  reflect.TypeFor[In](),
			readOut: reflect.TypeFor[Out](),
		}),
		handler: handler,
	}
	c.selfIn = c
	return c
}

var (
	_ InboundHandlerContext[int] = &inboundContext[string, int]{}
	_ InboundLink                = &inboundContext[string, int]{}
)

func (c *inboundContext[In, Out]) Handler() any {
	return c.handler
}

func (c *inboundContext[In, Out]) AttachPipeline() {
	if c.attached {
		return
	}
	c.handler.AttachContext(c)
	c.attached = true
}

func (c *inboundContext[In, Out]) DetachPipeline() {
	c.attached = false
	c.handler.DetachContext()
}

func (c *inboundContext[In, Out]) FireRead(msg Out)        { c.fireRead(msg) }
func (c *inboundContext[In, Out]) FireReadEOF()            { c.fireReadEOF() }
func (c *inboundContext[In, Out]) FireReadError(err error) { c.fireReadError(err) }
func (c *inboundContext[In, Out]) FireTransportActive()    { c.fireTransportActive() }
func (c *inboundContext[In, Out]) FireTransportInactive()  { c.fireTransportInactive() }

func (c *inboundContext[In, Out]) Read(msg any) {
	value, ok := castMessage[In](msg)
	if !ok {
		c.handler.ReadError(c, c.messageTypeError("read", c.types.readIn, msg))
		return
	}
	c.handler.Read(c, value)
}

func (c *inboundContext[In, Out]) ReadEOF()            { c.handler.ReadEOF(c) }
func (c *inboundContext[In, Out]) ReadError(err error) { c.handler.ReadError(c, err) }
func (c *inboundContext[In, Out]) TransportActive()    { c.handler.TransportActive(c) }
func (c *inboundContext[In, Out]) TransportInactive()  { c.handler.TransportInactive(c) }

// outboundContext is the [PipelineContext] of an [OutboundHandler].
type outboundContext[In, Out any] struct {
	contextCore
	handler OutboundHandler[In, Out]
}

// NewOutboundContext returns a new [PipelineContext] owning the given handler.
func NewOutboundContext[In, Out any](handler OutboundHandler[In, Out]) PipelineContext {
	runtimex.Assert(handler != nil)
	c := &outboundContext[In, Out]{
		contextCore: newContextCore(Outbound, messageTypes{
			writeIn:  reflect.TypeFor[In](),
			writeOut: reflect.TypeFor[Out](),
		}),
		handler: handler,
	}
	c.selfOut = c
	return c
}

var (
	_ OutboundHandlerContext[int] = &outboundContext[string, int]{}
	_ OutboundLink                = &outboundContext[string, int]{}
)

func (c *outboundContext[In, Out]) Handler() any {
	return c.handler
}

func (c *outboundContext[In, Out]) AttachPipeline() {
	if c.attached {
		return
	}
	c.handler.AttachContext(c)
	c.attached = true
}

func (c *outboundContext[In, Out]) DetachPipeline() {
	c.attached = false
	c.handler.DetachContext()
}

func (c *outboundContext[In, Out]) FireWrite(msg Out)        { c.fireWrite(msg) }
func (c *outboundContext[In, Out]) FireWriteError(err error) { c.fireWriteError(err) }
func (c *outboundContext[In, Out]) FireClose()               { c.fireClose() }

func (c *outboundContext[In, Out]) Write(msg any) {
	value, ok := castMessage[In](msg)
	if !ok {
		c.handler.WriteError(c, c.messageTypeError("write", c.types.writeIn, msg))
		return
	}
	c.handler.Write(c, value)
}

func (c *outboundContext[In, Out]) WriteError(err error) { c.handler.WriteError(c, err) }
func (c *outboundContext[In, Out]) Close()               { c.handler.Close(c) }

// duplexContext is the [PipelineContext] of a bidirectional [Handler].
type duplexContext[Rin, Rout, Win, Wout any] struct {
	contextCore
	handler Handler[Rin, Rout, Win, Wout]
}

// NewContext returns a new [PipelineContext] owning the given bidirectional handler.
func NewContext[Rin, Rout, Win, Wout any](handler Handler[Rin, Rout, Win, Wout]) PipelineContext {
	runtimex.Assert(handler != nil)
	c := &duplexContext[Rin, Rout, Win, Wout]{
		contextCore: newContextCore(Bidirectional, messageTypes{
			readIn:   reflect.TypeFor[Rin](),
			readOut:  reflect.TypeFor[Rout](),
			writeIn:  reflect.TypeFor[Win](),
			writeOut: reflect.TypeFor[Wout](),
		}),
		handler: handler,
	}
	c.selfIn = c
	c.selfOut = c
	return c
}

var (
	_ HandlerContext[int, string] = &duplexContext[int, int, string, string]{}
	_ InboundLink                 = &duplexContext[int, int, string, string]{}
	_ OutboundLink                = &duplexContext[int, int, string, string]{}
)

func (c *duplexContext[Rin, Rout, Win, Wout]) Handler() any {
	return c.handler
}

func (c *duplexContext[Rin, Rout, Win, Wout]) AttachPipeline() {
	if c.attached {
		return
	}
	c.handler.AttachContext(c)
	c.attached = true
}

func (c *duplexContext[Rin, Rout, Win, Wout]) DetachPipeline() {
	c.attached = false
	c.handler.DetachContext()
}

func (c *duplexContext[Rin, Rout, Win, Wout]) FireRead(msg Rout)        { c.fireRead(msg) }
func (c *duplexContext[Rin, Rout, Win, Wout]) FireReadEOF()             { c.fireReadEOF() }
func (c *duplexContext[Rin, Rout, Win, Wout]) FireReadError(err error)  { c.fireReadError(err) }
func (c *duplexContext[Rin, Rout, Win, Wout]) FireTransportActive()     { c.fireTransportActive() }
func (c *duplexContext[Rin, Rout, Win, Wout]) FireTransportInactive()   { c.fireTransportInactive() }
func (c *duplexContext[Rin, Rout, Win, Wout]) FireWrite(msg Wout)       { c.fireWrite(msg) }
func (c *duplexContext[Rin, Rout, Win, Wout]) FireWriteError(err error) { c.fireWriteError(err) }
func (c *duplexContext[Rin, Rout, Win, Wout]) FireClose()               { c.fireClose() }

func (c *duplexContext[Rin, Rout, Win, Wout]) Read(msg any) {
	value, ok := castMessage[Rin](msg)
	if !ok {
		c.handler.ReadError(c, c.messageTypeError("read", c.types.readIn, msg))
		return
	}
	c.handler.Read(c, value)
}

func (c *duplexContext[Rin, Rout, Win, Wout]) ReadEOF()            { c.handler.ReadEOF(c) }
func (c *duplexContext[Rin, Rout, Win, Wout]) ReadError(err error) { c.handler.ReadError(c, err) }
func (c *duplexContext[Rin, Rout, Win, Wout]) TransportActive()    { c.handler.TransportActive(c) }
func (c *duplexContext[Rin, Rout, Win, Wout]) TransportInactive()  { c.handler.TransportInactive(c) }

func (c *duplexContext[Rin, Rout, Win, Wout]) Write(msg any) {
	value, ok := castMessage[Win](msg)
	if !ok {
		c.handler.WriteError(c, c.messageTypeError("write", c.types.writeIn, msg))
		return
	}
	c.handler.Write(c, value)
}

func (c *duplexContext[Rin, Rout, Win, Wout]) WriteError(err error) { c.handler.WriteError(c, err) }
func (c *duplexContext[Rin, Rout, Win, Wout]) Close()               { c.handler.Close(c) }
