// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import "sync"

// Direction is the capability variant of a handler.
type Direction int

const (
	// Inbound handlers only see read-side events.
	Inbound Direction = iota + 1

	// Outbound handlers only see write-side events.
	Outbound

	// Bidirectional handlers see both read-side and write-side events.
	Bidirectional
)

// CanRead returns whether the handler takes part in inbound traversal.
func (d Direction) CanRead() bool {
	return d == Inbound || d == Bidirectional
}

// CanWrite returns whether the handler takes part in outbound traversal.
func (d Direction) CanWrite() bool {
	return d == Outbound || d == Bidirectional
}

// String implements [fmt.Stringer].
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	case Bidirectional:
		return "bidirectional"
	default:
		return "unknown"
	}
}

// Lifecycle tracks how many pipeline positions reference a handler.
//
// A handler may be attached to more than one position, possibly in more
// than one pipeline. The live context is available only while the handler
// is attached to exactly one position: a second attach clears it, and any
// detach clears it regardless of the remaining count. Handlers that are
// shared must therefore not rely on [Lifecycle.Context].
//
// The zero value is ready to use. Lifecycle is embedded by [InboundHandlerBase],
// [OutboundHandlerBase], and [HandlerBase] and must not be copied after use.
type Lifecycle[C any] struct {
	mu     sync.Mutex
	count  int
	ctx    C
	hasCtx bool
}

// AttachContext records a new attachment using the given context.
func (lc *Lifecycle[C]) AttachContext(ctx C) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.count++
	if lc.count == 1 {
		lc.ctx, lc.hasCtx = ctx, true
		return
	}
	lc.clear()
}

// DetachContext records a detachment. Detaching more times than
// attached leaves the count at zero.
func (lc *Lifecycle[C]) DetachContext() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.count > 0 {
		lc.count--
	}
	lc.clear()
}

// AttachCount returns the number of positions the handler is attached to.
func (lc *Lifecycle[C]) AttachCount() int {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.count
}

// Context returns the live context, if any.
func (lc *Lifecycle[C]) Context() (C, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.ctx, lc.hasCtx
}

func (lc *Lifecycle[C]) clear() {
	var zero C
	lc.ctx, lc.hasCtx = zero, false
}
