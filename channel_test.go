// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// channelRecorder records the inbound events of a channel pipeline.
//
// Its events are written on the channel loop and must be read only
// after the channel is done.
type channelRecorder struct {
	InboundHandlerBase[[]byte]
	events []string
}

func (h *channelRecorder) Read(ctx InboundHandlerContext[[]byte], data []byte) {
	h.events = append(h.events, "read:"+string(data))
}

func (h *channelRecorder) ReadEOF(ctx InboundHandlerContext[[]byte]) {
	h.events = append(h.events, "readEOF")
}

func (h *channelRecorder) ReadError(ctx InboundHandlerContext[[]byte], err error) {
	h.events = append(h.events, "readError:"+err.Error())
}

func (h *channelRecorder) TransportActive(ctx InboundHandlerContext[[]byte]) {
	h.events = append(h.events, "transportActive")
}

func (h *channelRecorder) TransportInactive(ctx InboundHandlerContext[[]byte]) {
	h.events = append(h.events, "transportInactive")
}

// newRecordingChannel starts a channel on conn whose pipeline is
// [transport, recorder].
func newRecordingChannel(t *testing.T, conn net.Conn) (*Channel, *channelRecorder, *recordedLogs) {
	logger, logs := newCapturingLogger()
	rec := &channelRecorder{}
	fn := NewChannelFunc(NewConfig(), func(ch *Channel) error {
		return ch.Pipeline().AddLast("recorder", NewInboundContext(rec))
	}, logger)
	ch, err := fn.Call(context.Background(), conn)
	require.NoError(t, err)
	return ch, rec, logs
}

func waitDone(t *testing.T, ch *Channel) {
	t.Helper()
	select {
	case <-ch.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not stop")
	}
}

// NewChannelFunc populates all fields from Config and the provided arguments.
func TestNewChannelFunc(t *testing.T) {
	cfg := NewConfig()
	logger := DefaultSLogger()
	init := func(ch *Channel) error { return nil }
	fn := NewChannelFunc(cfg, init, logger)
	assert.NotNil(t, fn.ErrClassifier)
	assert.NotNil(t, fn.Initializer)
	assert.Equal(t, logger, fn.Logger)
	assert.Equal(t, DefaultReadBufferSize, fn.ReadBufferSize)
	assert.NotNil(t, fn.TimeNow)
}

// The peer closing delivers the data, then ReadEOF, then TransportInactive.
func TestChannelPeerClose(t *testing.T) {
	client, server := net.Pipe()
	ch, rec, logs := newRecordingChannel(t, server)

	_, err := client.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, client.Close())
	waitDone(t, ch)

	assert.Equal(t, []string{"transportActive", "read:hello", "readEOF", "transportInactive"}, rec.events)
	assert.Equal(t, []string{"transport", "recorder"}, ch.Pipeline().Names())

	active, found := logs.Find("channelActive")
	require.True(t, found)
	assert.Equal(t, ch.ID(), recordAttrs(active)["spanID"].String())
	inactive, found := logs.Find("channelInactive")
	require.True(t, found)
	assert.Equal(t, ch.ID(), recordAttrs(inactive)["spanID"].String())
}

// Writes reach the connection and a close request ends the channel
// without any read event.
func TestChannelWriteAndClose(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	ch, rec, logs := newRecordingChannel(t, server)

	require.NoError(t, ch.Write([]byte("pong")))
	buffer := make([]byte, 4)
	_, err := io.ReadFull(client, buffer)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buffer))

	require.NoError(t, ch.Close())
	waitDone(t, ch)

	assert.Equal(t, []string{"transportActive", "transportInactive"}, rec.events)
	inactive, found := logs.Find("channelInactive")
	require.True(t, found)
	assert.Nil(t, recordAttrs(inactive)["err"].Any())
	assert.Empty(t, endOfPipelineRecords(logs))
}

// A failing read is delivered as ReadError.
func TestChannelReadError(t *testing.T) {
	conn := newMinimalConn()
	conn.ReadFunc = func(b []byte) (int, error) {
		return 0, errors.New("mocked error")
	}
	conn.CloseFunc = func() error {
		return nil
	}
	ch, rec, _ := newRecordingChannel(t, conn)
	waitDone(t, ch)

	assert.Equal(t, []string{"transportActive", "readError:mocked error", "transportInactive"}, rec.events)
}

// Data returned along with an error is read before the error.
func TestChannelReadDataAndEOF(t *testing.T) {
	conn := newMinimalConn()
	conn.ReadFunc = func(b []byte) (int, error) {
		return copy(b, "tail"), io.EOF
	}
	conn.CloseFunc = func() error {
		return nil
	}
	ch, rec, _ := newRecordingChannel(t, conn)
	waitDone(t, ch)

	assert.Equal(t, []string{"transportActive", "read:tail", "readEOF", "transportInactive"}, rec.events)
}

// Once done, the channel rejects new work.
func TestChannelRejectsWorkWhenDone(t *testing.T) {
	client, server := net.Pipe()
	ch, _, _ := newRecordingChannel(t, server)
	require.NoError(t, client.Close())
	waitDone(t, ch)

	assert.ErrorIs(t, ch.Write([]byte("x")), ErrChannelClosed)
	assert.ErrorIs(t, ch.Close(), ErrChannelClosed)
	assert.False(t, ch.Execute(func() {}))
}

// Execute runs functions on the channel loop, in order.
func TestChannelExecute(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	ch, _, _ := newRecordingChannel(t, server)

	var order []int
	done := make(chan struct{})
	require.True(t, ch.Execute(func() { order = append(order, 1) }))
	require.True(t, ch.Execute(func() {
		order = append(order, 2)
		close(done)
	}))
	<-done
	assert.Equal(t, []int{1, 2}, order)

	require.NoError(t, ch.Close())
	waitDone(t, ch)
}

func TestChannelAddrs(t *testing.T) {
	local := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1234}
	remote := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 2), Port: 5678}
	conn := newMinimalConn()
	conn.LocalAddrFunc = func() net.Addr { return local }
	conn.RemoteAddrFunc = func() net.Addr { return remote }
	conn.ReadFunc = func(b []byte) (int, error) {
		return 0, io.EOF
	}
	conn.CloseFunc = func() error {
		return nil
	}
	ch, _, _ := newRecordingChannel(t, conn)
	waitDone(t, ch)

	assert.Equal(t, local, ch.LocalAddr())
	assert.Equal(t, remote, ch.RemoteAddr())
	assert.NotEmpty(t, ch.ID())
}

// A failing initializer or an invalid pipeline closes the connection.
func TestChannelFuncInitializationFailure(t *testing.T) {
	tests := []struct {
		// name is the subtest name.
		name string

		// init is the channel initializer.
		init ChannelInitializer

		// check verifies the returned error.
		check func(t *testing.T, err error)
	}{
		{
			name: "initializer error",
			init: func(ch *Channel) error {
				return errors.New("mocked error")
			},
			check: func(t *testing.T, err error) {
				assert.EqualError(t, err, "mocked error")
			},
		},
		{
			name: "duplicate transport name",
			init: func(ch *Channel) error {
				return ch.Pipeline().AddLast(TransportHandlerName, NewInboundContext(&channelRecorder{}))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrDuplicateName)
			},
		},
		{
			name: "incompatible handlers",
			init: func(ch *Channel) error {
				p := ch.Pipeline()
				if err := p.AddLast("lines", NewInboundContext(NewLineDecoder(0))); err != nil {
					return err
				}
				return p.AddLast("recorder", NewInboundContext(&channelRecorder{}))
			},
			check: func(t *testing.T, err error) {
				var linkErr *LinkTypeError
				assert.ErrorAs(t, err, &linkErr)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var closed int
			conn := newMinimalConn()
			conn.CloseFunc = func() error {
				closed++
				return nil
			}
			ch, err := NewChannelFunc(NewConfig(), tt.init, DefaultSLogger()).Call(context.Background(), conn)
			assert.Nil(t, ch)
			tt.check(t, err)
			assert.Equal(t, 1, closed)
		})
	}
}
