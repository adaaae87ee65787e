//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/measurexlite/conn.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/conn.go
//

package netpipe

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bassosimone/safeconn"
)

// NewObserveConnFunc returns a new [*ObserveConnFunc].
//
// The cfg argument contains the common configuration for netpipe operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewObserveConnFunc(cfg *Config, logger SLogger) *ObserveConnFunc {
	return &ObserveConnFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// ObserveConnFunc wraps a [net.Conn] to log its I/O.
//
// Reads, writes, and deadline changes are logged at debug level, which
// complements the pipeline-level view given by [LoggingHandler] with the
// raw transport view. Close is logged at info level as a closeStart and
// closeDone pair and happens at most once: later calls return [net.ErrClosed].
//
// All fields are safe to modify after construction but before first use.
type ObserveConnFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewObserveConnFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewObserveConnFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow returns the current time.
	//
	// Set by [NewObserveConnFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[net.Conn, net.Conn] = &ObserveConnFunc{}

// Call implements [Func].
func (op *ObserveConnFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	return &observedConn{
		conn: conn,
		endpoint: []any{
			slog.String("localAddr", safeconn.LocalAddr(conn)),
			slog.String("protocol", safeconn.Network(conn)),
			slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		},
		op: op,
	}, nil
}

type observedConn struct {
	closeonce sync.Once
	conn      net.Conn
	endpoint  []any
	op        *ObserveConnFunc
}

// with returns the endpoint attributes followed by the given ones.
func (c *observedConn) with(args ...any) []any {
	out := make([]any, 0, len(c.endpoint)+len(args))
	out = append(out, c.endpoint...)
	return append(out, args...)
}

func (c *observedConn) done(t0 time.Time, err error, args ...any) []any {
	return c.with(append([]any{
		slog.Any("err", err),
		slog.String("errClass", c.op.ErrClassifier.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", c.op.TimeNow()),
	}, args...)...)
}

func (c *observedConn) Close() error {
	err := net.ErrClosed
	c.closeonce.Do(func() {
		t0 := c.op.TimeNow()
		c.op.Logger.Info("closeStart", c.with(slog.Time("t", t0))...)
		err = c.conn.Close()
		c.op.Logger.Info("closeDone", c.done(t0, err)...)
	})
	return err
}

func (c *observedConn) Read(buf []byte) (int, error) {
	t0 := c.op.TimeNow()
	c.op.Logger.Debug("readStart", c.with(slog.Int("ioBufferSize", len(buf)), slog.Time("t", t0))...)
	count, err := c.conn.Read(buf)
	c.op.Logger.Debug("readDone", c.done(t0, err, slog.Int("ioBytesCount", count))...)
	return count, err
}

func (c *observedConn) Write(data []byte) (int, error) {
	t0 := c.op.TimeNow()
	c.op.Logger.Debug("writeStart", c.with(slog.Int("ioBufferSize", len(data)), slog.Time("t", t0))...)
	count, err := c.conn.Write(data)
	c.op.Logger.Debug("writeDone", c.done(t0, err, slog.Int("ioBytesCount", count))...)
	return count, err
}

func (c *observedConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *observedConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *observedConn) SetDeadline(t time.Time) error {
	c.logDeadline("setDeadline", t)
	return c.conn.SetDeadline(t)
}

func (c *observedConn) SetReadDeadline(t time.Time) error {
	c.logDeadline("setReadDeadline", t)
	return c.conn.SetReadDeadline(t)
}

func (c *observedConn) SetWriteDeadline(t time.Time) error {
	c.logDeadline("setWriteDeadline", t)
	return c.conn.SetWriteDeadline(t)
}

func (c *observedConn) logDeadline(event string, deadline time.Time) {
	c.op.Logger.Debug(event, c.with(slog.Time("deadline", deadline), slog.Time("t", c.op.TimeNow()))...)
}
