// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
)

// ChannelInitializer populates the pipeline of a new [*Channel].
//
// It runs before the channel starts, with the "transport" handler
// already at the head of the pipeline, and should add the protocol
// handlers using [*Pipeline.AddLast]. Returning an error aborts the
// channel and closes the connection.
type ChannelInitializer func(ch *Channel) error

// TransportHandlerName is the name of the [*TransportHandler] that
// [*ChannelFunc] adds at the head of every channel pipeline.
const TransportHandlerName = "transport"

// NewChannelFunc returns a new [*ChannelFunc].
//
// The cfg argument contains the common configuration for netpipe operations.
//
// The init argument populates each pipeline. It may be nil.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewChannelFunc(cfg *Config, init ChannelInitializer, logger SLogger) *ChannelFunc {
	return &ChannelFunc{
		ErrClassifier:  cfg.ErrClassifier,
		Initializer:    init,
		Logger:         logger,
		ReadBufferSize: cfg.ReadBufferSize,
		TimeNow:        cfg.TimeNow,
	}
}

// ChannelFunc binds a [net.Conn] to a new [*Pipeline] and starts it.
//
// On success the returned [*Channel] owns the connection. On failure
// the connection is closed and Call returns an error.
//
// All fields are safe to modify after construction but before first use.
type ChannelFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewChannelFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Initializer populates the pipeline of each channel.
	//
	// Set by [NewChannelFunc] to the user-provided initializer.
	Initializer ChannelInitializer

	// Logger is the [SLogger] used by the channel and its pipeline.
	//
	// Set by [NewChannelFunc] to the user-provided logger.
	Logger SLogger

	// ReadBufferSize is the size of the buffer used to read from the connection.
	//
	// Set by [NewChannelFunc] from [Config.ReadBufferSize].
	ReadBufferSize int

	// TimeNow returns the current time.
	//
	// Set by [NewChannelFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[net.Conn, *Channel] = &ChannelFunc{}

// Call implements [Func].
//
// The context is not used after Call returns: the channel lives until
// the connection is closed.
func (op *ChannelFunc) Call(ctx context.Context, conn net.Conn) (*Channel, error) {
	runtimex.Assert(op.ReadBufferSize > 0)
	ch := &Channel{
		conn:     conn,
		done:     make(chan struct{}),
		op:       op,
		spanID:   NewSpanID(),
		wake:     make(chan struct{}, 1),
		pipeline: NewPipeline(&Config{TimeNow: op.TimeNow}, op.Logger),
	}
	if err := ch.initialize(); err != nil {
		ch.pipeline.Release()
		conn.Close()
		return nil, err
	}
	ch.start()
	return ch, nil
}

// Channel drives a [*Pipeline] with the events of a [net.Conn].
//
// All the pipeline dispatch happens on a single goroutine, the channel
// loop, so handlers never run concurrently with each other. A second
// goroutine reads from the connection and hands each chunk to the loop,
// waiting for it to be processed before reading again.
//
// The pipeline sees TransportActive, then one Read per chunk, then either
// ReadEOF, when the peer closes, or ReadError, when reading fails. Closing
// the connection from the pipeline ends reading silently. TransportInactive
// always comes last, after which the connection is closed. TransportActive
// is scheduled before the channel is returned, so it precedes whatever the
// caller passes to Write, Close, or Execute.
type Channel struct {
	closed     bool
	conn       net.Conn
	done       chan struct{}
	localClose atomic.Bool
	mu         sync.Mutex
	op         *ChannelFunc
	pipeline   *Pipeline
	queue      []func()
	spanID     string
	wake       chan struct{}
}

// ID returns the span ID identifying the channel in logs.
func (ch *Channel) ID() string {
	return ch.spanID
}

// Pipeline returns the channel pipeline.
//
// Use it only from the channel loop, that is, from a handler or from
// a function passed to [*Channel.Execute].
func (ch *Channel) Pipeline() *Pipeline {
	return ch.pipeline
}

// LocalAddr returns the local address of the connection.
func (ch *Channel) LocalAddr() net.Addr {
	return ch.conn.LocalAddr()
}

// RemoteAddr returns the remote address of the connection.
func (ch *Channel) RemoteAddr() net.Addr {
	return ch.conn.RemoteAddr()
}

// Write schedules msg to be fired at the pipeline tail.
//
// Safe to call from any goroutine. Returns [ErrChannelClosed] once
// the channel has stopped accepting work.
func (ch *Channel) Write(msg any) error {
	return ch.submit(func() { ch.pipeline.FireWrite(msg) })
}

// Close schedules a close request at the pipeline tail.
//
// Safe to call from any goroutine. Returns [ErrChannelClosed] once
// the channel has stopped accepting work.
func (ch *Channel) Close() error {
	return ch.submit(ch.pipeline.FireClose)
}

// Execute schedules fn to run on the channel loop and returns whether
// it was accepted. Safe to call from any goroutine.
func (ch *Channel) Execute(fn func()) bool {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return false
	}
	ch.queue = append(ch.queue, fn)
	ch.mu.Unlock()
	select {
	case ch.wake <- struct{}{}:
	default:
	}
	return true
}

// Done returns a channel closed once the [*Channel] has stopped and
// the connection has been closed.
func (ch *Channel) Done() <-chan struct{} {
	return ch.done
}

func (ch *Channel) submit(fn func()) error {
	if !ch.Execute(fn) {
		return ErrChannelClosed
	}
	return nil
}

func (ch *Channel) initialize() error {
	th := NewTransportHandler(&channelTransport{ch})
	if err := ch.pipeline.AddFirst(TransportHandlerName, NewOutboundContext(th)); err != nil {
		return err
	}
	if ch.op.Initializer != nil {
		if err := ch.op.Initializer(ch); err != nil {
			return err
		}
	}
	return ch.pipeline.Finalize()
}

func (ch *Channel) start() {
	t0 := ch.op.TimeNow()
	ch.op.Logger.Info("channelActive", ch.attrs(slog.Time("t", t0))...)
	activated := make(chan struct{})
	ch.Execute(func() {
		defer close(activated)
		ch.pipeline.FireTransportActive()
	})
	go ch.loop(t0)
	go ch.readLoop(activated)
}

func (ch *Channel) attrs(extra ...any) []any {
	return append([]any{
		slog.String("localAddr", safeconn.LocalAddr(ch.conn)),
		slog.String("protocol", safeconn.Network(ch.conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(ch.conn)),
		slog.String("spanID", ch.spanID),
	}, extra...)
}

// loop runs the scheduled functions until the channel has stopped
// accepting work and the queue is empty.
func (ch *Channel) loop(t0 time.Time) {
	for {
		fn, stop := ch.next()
		if stop {
			break
		}
		if fn == nil {
			<-ch.wake
			continue
		}
		fn()
	}
	err := ch.conn.Close()
	if ch.localClose.Load() {
		err = nil
	}
	ch.op.Logger.Info("channelInactive", ch.attrs(
		slog.Any("err", err),
		slog.String("errClass", ch.op.ErrClassifier.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", ch.op.TimeNow()),
	)...)
	close(ch.done)
}

func (ch *Channel) next() (func(), bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.queue) > 0 {
		fn := ch.queue[0]
		ch.queue[0] = nil
		ch.queue = ch.queue[1:]
		return fn, false
	}
	return nil, ch.closed
}

// readLoop feeds the pipeline, once TransportActive has been processed,
// and schedules the final TransportInactive.
func (ch *Channel) readLoop(activated <-chan struct{}) {
	<-activated
	buffer := make([]byte, ch.op.ReadBufferSize)
	for {
		count, err := ch.conn.Read(buffer)
		if count > 0 {
			data := slices.Clone(buffer[:count])
			ch.executeAndWait(func() { ch.pipeline.FireRead(data) })
		}
		if err == nil {
			continue
		}
		switch {
		case ch.localClose.Load():
			// nothing
		case errors.Is(err, io.EOF):
			ch.executeAndWait(ch.pipeline.FireReadEOF)
		default:
			ch.executeAndWait(func() { ch.pipeline.FireReadError(err) })
		}
		break
	}
	ch.Execute(func() {
		ch.pipeline.FireTransportInactive()
		ch.mu.Lock()
		ch.closed = true
		ch.mu.Unlock()
	})
}

func (ch *Channel) executeAndWait(fn func()) {
	processed := make(chan struct{})
	if !ch.Execute(func() {
		defer close(processed)
		fn()
	}) {
		return
	}
	<-processed
}

// channelTransport is the [Transport] of a channel pipeline.
type channelTransport struct {
	ch *Channel
}

func (ct *channelTransport) Write(data []byte) (int, error) {
	return ct.ch.conn.Write(data)
}

func (ct *channelTransport) Close() error {
	ct.ch.localClose.Store(true)
	return ct.ch.conn.Close()
}
