//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/tlsdialer.go
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/measurexlite/tls.go
//

package netpipe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
)

// TLSEngine creates client [TLSConn] instances.
type TLSEngine interface {
	// Client wraps conn into a client [TLSConn].
	Client(conn net.Conn, config *tls.Config) TLSConn

	// Name returns the engine name.
	Name() string

	// Parrot returns the fingerprint the engine mimics, or "".
	Parrot() string
}

// TLSEngineStdlib is the [TLSEngine] backed by [crypto/tls].
//
// The zero value is ready to use.
type TLSEngineStdlib struct{}

var _ TLSEngine = TLSEngineStdlib{}

// Client implements [TLSEngine] using [tls.Client].
func (TLSEngineStdlib) Client(conn net.Conn, config *tls.Config) TLSConn {
	return tls.Client(conn, config)
}

// Name implements [TLSEngine]. It returns "stdlib".
func (TLSEngineStdlib) Name() string {
	return "stdlib"
}

// Parrot implements [TLSEngine]. It returns "".
func (TLSEngineStdlib) Parrot() string {
	return ""
}

// TLSConn is the subset of [*tls.Conn] used by [*TLSHandshakeFunc].
type TLSConn interface {
	ConnectionState() tls.ConnectionState
	HandshakeContext(ctx context.Context) error
	net.Conn
}

// NewTLSHandshakeFunc returns a new [*TLSHandshakeFunc].
//
// The cfg argument contains the common configuration for netpipe operations.
//
// The tlsConfig argument is the TLS configuration to clone for each handshake.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewTLSHandshakeFunc(cfg *Config, tlsConfig *tls.Config, logger SLogger) *TLSHandshakeFunc {
	runtimex.Assert(tlsConfig != nil)
	return &TLSHandshakeFunc{
		Config:        tlsConfig,
		Engine:        TLSEngineStdlib{},
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// TLSHandshakeFunc performs a client TLS handshake over a [net.Conn].
//
// The result is a plain [net.Conn] so that the handshake composes directly
// with [*ChannelFunc]: the pipeline then reads and writes plaintext bytes.
// On failure the underlying connection is closed and Call returns an error.
//
// All fields are safe to modify after construction but before first use.
type TLSHandshakeFunc struct {
	// Config is the [*tls.Config] to clone for each handshake.
	//
	// Set by [NewTLSHandshakeFunc] to the user-provided config.
	Config *tls.Config

	// Engine creates the [TLSConn].
	//
	// Set by [NewTLSHandshakeFunc] to [TLSEngineStdlib].
	Engine TLSEngine

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewTLSHandshakeFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewTLSHandshakeFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow returns the current time. The handshake also uses it
	// to verify certificates.
	//
	// Set by [NewTLSHandshakeFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[net.Conn, net.Conn] = &TLSHandshakeFunc{}

// Call implements [Func].
func (op *TLSHandshakeFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	runtimex.Assert(op.Config != nil)
	config := op.Config.Clone()
	config.Time = op.TimeNow

	tconn := op.Engine.Client(conn, config)
	deadline, _ := ctx.Deadline()
	common := []any{
		slog.Time("deadline", deadline),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.String("tlsEngineName", op.Engine.Name()),
		slog.Any("tlsOfferedProtocols", config.NextProtos),
		slog.String("tlsParrot", op.Engine.Parrot()),
		slog.String("tlsServerName", config.ServerName),
		slog.Bool("tlsSkipVerify", config.InsecureSkipVerify),
	}

	t0 := op.TimeNow()
	op.Logger.Info("tlsHandshakeStart", append(common, slog.Time("t", t0))...)

	err := tconn.HandshakeContext(ctx)
	state := tconn.ConnectionState()

	op.Logger.Info("tlsHandshakeDone", append(common,
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
		slog.String("tlsCipherSuite", tls.CipherSuiteName(state.CipherSuite)),
		slog.String("tlsNegotiatedProtocol", state.NegotiatedProtocol),
		slog.Any("tlsPeerCerts", peerCertificates(state, err)),
		slog.String("tlsVersion", tls.VersionName(state.Version)),
	)...)

	if err != nil {
		tconn.Close()
		return nil, err
	}
	return tconn, nil
}

// peerCertificates returns the raw peer certificates. When verification
// failed, the offending certificate is taken from the error instead.
func peerCertificates(state tls.ConnectionState, err error) [][]byte {
	var (
		hostnameErr  x509.HostnameError
		authorityErr x509.UnknownAuthorityError
		invalidErr   x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &hostnameErr):
		return [][]byte{hostnameErr.Certificate.Raw}
	case errors.As(err, &authorityErr):
		return [][]byte{authorityErr.Cert.Raw}
	case errors.As(err, &invalidErr):
		return [][]byte{invalidErr.Cert.Raw}
	}
	out := [][]byte{}
	for _, cert := range state.PeerCertificates {
		out = append(out, cert.Raw)
	}
	return out
}
