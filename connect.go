//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/netxlite/dialer.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/dialer.go
//

package netpipe

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/safeconn"
)

// Dialer abstracts the [*net.Dialer] behavior.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// NewConnectFunc returns a new [*ConnectFunc].
//
// The cfg argument contains the common configuration for netpipe operations.
//
// The network argument is the network to dial (e.g., "tcp").
//
// The logger argument is the [SLogger] to use for structured logging.
func NewConnectFunc(cfg *Config, network string, logger SLogger) *ConnectFunc {
	return &ConnectFunc{
		Dialer:        cfg.Dialer,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Network:       network,
		TimeNow:       cfg.TimeNow,
	}
}

// ConnectFunc dials a [netip.AddrPort] and returns the [net.Conn].
//
// Returns either a valid [net.Conn] or an error, never both.
//
// All fields are safe to modify after construction but before first use.
type ConnectFunc struct {
	// Dialer is the [Dialer] to use.
	//
	// Set by [NewConnectFunc] from [Config.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConnectFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewConnectFunc] to the user-provided logger.
	Logger SLogger

	// Network is the network to dial.
	//
	// Set by [NewConnectFunc] to the user-provided value.
	Network string

	// TimeNow returns the current time.
	//
	// Set by [NewConnectFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[netip.AddrPort, net.Conn] = &ConnectFunc{}

// Call implements [Func].
func (op *ConnectFunc) Call(ctx context.Context, address netip.AddrPort) (net.Conn, error) {
	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()
	endpoint := address.String()

	op.Logger.Info(
		"connectStart",
		slog.Time("deadline", deadline),
		slog.String("protocol", op.Network),
		slog.String("remoteAddr", endpoint),
		slog.Time("t", t0),
	)

	conn, err := op.Dialer.DialContext(ctx, op.Network, endpoint)

	op.Logger.Info(
		"connectDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", op.Network),
		slog.String("remoteAddr", endpoint),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)

	if err != nil {
		return nil, err
	}
	return conn, nil
}
