// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewConnectFunc populates all fields from Config and the provided logger.
func TestNewConnectFunc(t *testing.T) {
	cfg := NewConfig()
	fn := NewConnectFunc(cfg, "tcp", DefaultSLogger())

	require.NotNil(t, fn)
	assert.Equal(t, "tcp", fn.Network)
	assert.Equal(t, cfg.Dialer, fn.Dialer)
	assert.NotNil(t, fn.ErrClassifier)
	assert.NotNil(t, fn.Logger)
	assert.NotNil(t, fn.TimeNow)
}

func TestConnectFunc(t *testing.T) {
	tests := []struct {
		// name is the subtest name.
		name string

		// dialErr is the error returned by the dialer, if any.
		dialErr error

		// wantClass is the expected errClass of connectDone.
		wantClass string
	}{
		{name: "success", dialErr: nil, wantClass: ""},
		{name: "failure", dialErr: errors.New("mocked error"), wantClass: "EGENERIC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotNetwork, gotAddress string
			cfg := NewConfig()
			cfg.Dialer = &netstub.FuncDialer{
				DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
					gotNetwork, gotAddress = network, address
					if tt.dialErr != nil {
						return nil, tt.dialErr
					}
					return newMinimalConn(), nil
				},
			}
			logger, logs := newCapturingLogger()

			fn := NewConnectFunc(cfg, "tcp", logger)
			conn, err := fn.Call(context.Background(), netip.MustParseAddrPort("127.0.0.1:53"))

			assert.Equal(t, "tcp", gotNetwork)
			assert.Equal(t, "127.0.0.1:53", gotAddress)
			if tt.dialErr != nil {
				require.ErrorIs(t, err, tt.dialErr)
				assert.Nil(t, conn)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, conn)
			}

			assert.Equal(t, []string{"connectStart", "connectDone"}, logs.Messages())
			record, _ := logs.Find("connectDone")
			assert.Equal(t, tt.wantClass, recordAttrs(record)["errClass"].String())
		})
	}
}

// Call passes the caller context, and its deadline, to the dialer.
func TestConnectFuncContextDeadline(t *testing.T) {
	const timeout = 5 * time.Second
	cfg := NewConfig()
	cfg.Dialer = &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			deadline, ok := ctx.Deadline()
			assert.True(t, ok)
			assert.LessOrEqual(t, time.Until(deadline), timeout)
			return nil, ctx.Err()
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, _ = NewConnectFunc(cfg, "tcp", DefaultSLogger()).Call(ctx, netip.MustParseAddrPort("127.0.0.1:53"))
}
