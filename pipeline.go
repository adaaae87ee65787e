// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"time"

	"github.com/bassosimone/runtimex"
)

// Pipeline is an ordered chain of named [PipelineContext].
//
// Inbound events enter at the head and visit the inbound-capable contexts
// in insertion order. Outbound events enter at the tail and visit the
// outbound-capable contexts in reverse insertion order, so the first
// outbound-capable context is the one closest to the transport.
//
// Build the pipeline with AddLast and friends, then call [*Pipeline.Finalize].
// Once finalized, every further mutation rewires the pipeline immediately.
//
// A Pipeline is not safe for concurrent use: a single goroutine at a time
// must mutate it and fire events through it. A [*Channel] takes care of
// this for pipelines bound to a connection.
type Pipeline struct {
	contexts  []PipelineContext
	errs      []error
	finalized bool
	head      InboundLink
	logger    SLogger
	tail      OutboundLink
	timeNow   func() time.Time
}

// NewPipeline returns a new empty [*Pipeline].
//
// The cfg argument contains the common configuration for netpipe operations.
//
// The logger argument is the [SLogger] used by the pipeline and its contexts.
func NewPipeline(cfg *Config, logger SLogger) *Pipeline {
	runtimex.Assert(cfg != nil && logger != nil)
	return &Pipeline{
		logger:  logger,
		timeNow: cfg.TimeNow,
	}
}

// AddFirst inserts a context at the head of the pipeline.
func (p *Pipeline) AddFirst(name string, ctx PipelineContext) error {
	return p.insert(0, name, ctx)
}

// AddLast appends a context at the tail of the pipeline.
func (p *Pipeline) AddLast(name string, ctx PipelineContext) error {
	return p.insert(len(p.contexts), name, ctx)
}

// AddBefore inserts a context immediately before the one named base.
func (p *Pipeline) AddBefore(base, name string, ctx PipelineContext) error {
	idx := p.indexOf(base)
	if idx < 0 {
		return p.fail(fmt.Errorf("%w: %q", ErrHandlerNotFound, base))
	}
	return p.insert(idx, name, ctx)
}

// AddAfter inserts a context immediately after the one named base.
func (p *Pipeline) AddAfter(base, name string, ctx PipelineContext) error {
	idx := p.indexOf(base)
	if idx < 0 {
		return p.fail(fmt.Errorf("%w: %q", ErrHandlerNotFound, base))
	}
	return p.insert(idx+1, name, ctx)
}

// Remove removes the context with the given name, detaching its handler.
//
// The returned context no longer belongs to any pipeline and may be added again.
// Until then, it keeps forwarding to its former neighbors, so a handler may
// remove itself from within an event and still pass that event on.
func (p *Pipeline) Remove(name string) (PipelineContext, error) {
	idx := p.indexOf(name)
	if idx < 0 {
		return nil, p.fail(fmt.Errorf("%w: %q", ErrHandlerNotFound, name))
	}
	ctx := p.contexts[idx]
	p.contexts = slices.Delete(p.contexts, idx, idx+1)
	p.release(ctx)
	return ctx, p.rewire()
}

// Replace replaces the context named oldName with ctx, named newName,
// at the same position. It returns the removed context.
func (p *Pipeline) Replace(oldName, newName string, ctx PipelineContext) (PipelineContext, error) {
	idx := p.indexOf(oldName)
	if idx < 0 {
		return nil, p.fail(fmt.Errorf("%w: %q", ErrHandlerNotFound, oldName))
	}
	if err := p.validate(newName, ctx, oldName); err != nil {
		return nil, p.fail(err)
	}
	old := p.contexts[idx]
	p.release(old)
	ctx.core().bind(p, newName)
	p.contexts[idx] = ctx
	return old, p.rewire()
}

// Context returns the context with the given name.
func (p *Pipeline) Context(name string) (PipelineContext, bool) {
	idx := p.indexOf(name)
	if idx < 0 {
		return nil, false
	}
	return p.contexts[idx], true
}

// Handler returns the handler of the context with the given name.
func (p *Pipeline) Handler(name string) (any, bool) {
	ctx, ok := p.Context(name)
	if !ok {
		return nil, false
	}
	return ctx.Handler(), true
}

// HandlerAt returns the handler at the given position.
func (p *Pipeline) HandlerAt(index int) (any, bool) {
	if index < 0 || index >= len(p.contexts) {
		return nil, false
	}
	return p.contexts[index].Handler(), true
}

// HandlerAs returns the handler with the given name converted to T.
func HandlerAs[T any](p *Pipeline, name string) (T, bool) {
	var zero T
	handler, ok := p.Handler(name)
	if !ok {
		return zero, false
	}
	value, ok := handler.(T)
	if !ok {
		return zero, false
	}
	return value, true
}

// Names returns the handler names in pipeline order.
func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.contexts))
	for _, ctx := range p.contexts {
		names = append(names, ctx.Name())
	}
	return names
}

// Len returns the number of contexts in the pipeline.
func (p *Pipeline) Len() int {
	return len(p.contexts)
}

// Finalize wires the pipeline and attaches every handler.
//
// Errors returned by earlier mutations since the last Finalize are
// returned again, joined, and the pipeline is left unchanged. Finalize
// also fails with [*LinkTypeError] when the output type of a handler can
// never be assigned to the input type of the next handler in the same
// direction. Interface-typed outputs are checked at runtime on each hop.
func (p *Pipeline) Finalize() error {
	if len(p.errs) > 0 {
		err := errors.Join(p.errs...)
		p.errs = nil
		return err
	}
	if err := p.assemble(); err != nil {
		return err
	}
	p.finalized = true
	return nil
}

// Finalized returns whether the pipeline has been successfully finalized.
func (p *Pipeline) Finalized() bool {
	return p.finalized
}

// Release detaches all the handlers, in pipeline order, and empties
// the pipeline. The contexts may then be added to another pipeline.
func (p *Pipeline) Release() {
	for _, ctx := range p.contexts {
		p.release(ctx)
	}
	p.contexts = nil
	p.errs = nil
	p.finalized = false
	p.head = nil
	p.tail = nil
}

// FireRead delivers a message to the first inbound-capable handler.
func (p *Pipeline) FireRead(msg any) {
	if p.head == nil {
		logEndOfPipeline(p.logger, "read", "", p.timeNow())
		return
	}
	p.head.Read(msg)
}

// FireReadEOF delivers end-of-stream to the first inbound-capable handler.
func (p *Pipeline) FireReadEOF() {
	if p.head == nil {
		logEndOfPipeline(p.logger, "readEOF", "", p.timeNow())
		return
	}
	p.head.ReadEOF()
}

// FireReadError delivers a read-side error to the first inbound-capable handler.
func (p *Pipeline) FireReadError(err error) {
	if p.head == nil {
		logEndOfPipeline(p.logger, "readError", "", p.timeNow(), slog.Any("err", err))
		return
	}
	p.head.ReadError(err)
}

// FireTransportActive notifies the first inbound-capable handler that
// the transport is active.
func (p *Pipeline) FireTransportActive() {
	if p.head == nil {
		logEndOfPipeline(p.logger, "transportActive", "", p.timeNow())
		return
	}
	p.head.TransportActive()
}

// FireTransportInactive notifies the first inbound-capable handler that
// the transport is no longer active.
func (p *Pipeline) FireTransportInactive() {
	if p.head == nil {
		logEndOfPipeline(p.logger, "transportInactive", "", p.timeNow())
		return
	}
	p.head.TransportInactive()
}

// FireWrite delivers a message to the last outbound-capable handler.
func (p *Pipeline) FireWrite(msg any) {
	if p.tail == nil {
		logEndOfPipeline(p.logger, "write", "", p.timeNow())
		return
	}
	p.tail.Write(msg)
}

// FireWriteError delivers a write-side error to the last outbound-capable handler.
func (p *Pipeline) FireWriteError(err error) {
	if p.tail == nil {
		logEndOfPipeline(p.logger, "writeError", "", p.timeNow(), slog.Any("err", err))
		return
	}
	p.tail.WriteError(err)
}

// FireClose delivers a close request to the last outbound-capable handler.
func (p *Pipeline) FireClose() {
	if p.tail == nil {
		logEndOfPipeline(p.logger, "close", "", p.timeNow())
		return
	}
	p.tail.Close()
}

func (p *Pipeline) indexOf(name string) int {
	return slices.IndexFunc(p.contexts, func(ctx PipelineContext) bool {
		return ctx.Name() == name
	})
}

// fail records a construction error for the next Finalize and returns it.
func (p *Pipeline) fail(err error) error {
	p.errs = append(p.errs, err)
	return err
}

// validate checks whether ctx may be added as name. The except name
// is ignored by the duplicate check, which allows replacing in place.
func (p *Pipeline) validate(name string, ctx PipelineContext, except string) error {
	switch {
	case ctx == nil:
		return ErrNilContext
	case name == "":
		return ErrEmptyName
	case ctx.core().owned:
		return fmt.Errorf("%w: %q", ErrContextInUse, ctx.Name())
	case name != except && p.indexOf(name) >= 0:
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	default:
		return nil
	}
}

func (p *Pipeline) insert(idx int, name string, ctx PipelineContext) error {
	if err := p.validate(name, ctx, ""); err != nil {
		return p.fail(err)
	}
	ctx.core().bind(p, name)
	p.contexts = slices.Insert(p.contexts, idx, ctx)
	return p.rewire()
}

func (p *Pipeline) release(ctx PipelineContext) {
	if ctx.Attached() {
		ctx.DetachPipeline()
	}
	ctx.core().unbind()
}

// rewire reassembles an already finalized pipeline after a mutation.
func (p *Pipeline) rewire() error {
	if !p.finalized {
		return nil
	}
	if err := p.assemble(); err != nil {
		p.unwire()
		return err
	}
	return nil
}

// unwire drops all the links so that no event can reach a context
// that is no longer part of the pipeline. Finalize must run again.
func (p *Pipeline) unwire() {
	for _, ctx := range p.contexts {
		ctx.core().nextIn = nil
		ctx.core().nextOut = nil
	}
	p.finalized = false
	p.head = nil
	p.tail = nil
}

// assemble computes the links in two passes, validates them, and only
// then applies them and attaches the handlers in pipeline order.
func (p *Pipeline) assemble() error {
	nextIn := make([]InboundLink, len(p.contexts))
	nextOut := make([]OutboundLink, len(p.contexts))
	var errs []error

	// Inbound links: each inbound-capable context links to the nearest
	// following inbound-capable context. Scanning backward lets us carry
	// the candidate along; the last one seen becomes the head.
	var head, following PipelineContext
	for i := len(p.contexts) - 1; i >= 0; i-- {
		ctx := p.contexts[i]
		if !ctx.Direction().CanRead() {
			continue
		}
		if following != nil {
			nextIn[i] = following.core().selfIn
			errs = appendLinkError(errs, Inbound, ctx, following,
				ctx.core().types.readOut, following.core().types.readIn)
		}
		following = ctx
	}
	head = following

	// Outbound links: each outbound-capable context links to the nearest
	// preceding one, toward the transport; the last one seen is the tail.
	var tail, preceding PipelineContext
	for i := 0; i < len(p.contexts); i++ {
		ctx := p.contexts[i]
		if !ctx.Direction().CanWrite() {
			continue
		}
		if preceding != nil {
			nextOut[i] = preceding.core().selfOut
			errs = appendLinkError(errs, Outbound, ctx, preceding,
				ctx.core().types.writeOut, preceding.core().types.writeIn)
		}
		preceding = ctx
	}
	tail = preceding

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for i, ctx := range p.contexts {
		ctx.core().nextIn = nextIn[i]
		ctx.core().nextOut = nextOut[i]
	}
	p.head, p.tail = nil, nil
	if head != nil {
		p.head = head.core().selfIn
	}
	if tail != nil {
		p.tail = tail.core().selfOut
	}
	for _, ctx := range p.contexts {
		ctx.AttachPipeline()
	}

	p.logger.Debug(
		"assembleDone",
		slog.Any("handlers", p.Names()),
		slog.Time("t", p.timeNow()),
	)
	return nil
}

func appendLinkError(errs []error, dir Direction, from, to PipelineContext, out, in reflect.Type) []error {
	if linkCompatible(out, in) {
		return errs
	}
	return append(errs, &LinkTypeError{
		Direction: dir,
		From:      from.Name(),
		To:        to.Name(),
		Out:       out,
		In:        in,
	})
}

// linkCompatible returns whether a value of type out could ever be
// delivered to a handler expecting type in.
func linkCompatible(out, in reflect.Type) bool {
	if out.AssignableTo(in) {
		return true
	}
	if out.Kind() == reflect.Interface {
		return in.Kind() == reflect.Interface || in.Implements(out)
	}
	return false
}
