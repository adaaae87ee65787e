// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upperEcho writes back each line it reads.
type upperEcho struct {
	HandlerAdapter[string, string]
}

func (h *upperEcho) Read(ctx HandlerContext[string, string], line string) {
	ctx.FireWrite("echo: " + line)
}

func echoInitializer(ch *Channel) error {
	p := ch.Pipeline()
	if err := p.AddLast("lines", NewInboundContext(NewLineDecoder(1024))); err != nil {
		return err
	}
	if err := p.AddLast("encoder", NewOutboundContext(&LineEncoder{})); err != nil {
		return err
	}
	return p.AddLast("echo", NewContext(&upperEcho{}))
}

// startServer runs s on a loopback listener and returns its address
// together with a function stopping the server and returning the
// result of Serve.
func startServer(t *testing.T, s *Server) (string, func() error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- s.Serve(ctx, ln) }()
	return ln.Addr().String(), func() error {
		cancel()
		select {
		case err := <-result:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
			return nil
		}
	}
}

// NewServer populates all fields from Config and the provided arguments.
func TestNewServer(t *testing.T) {
	logger := DefaultSLogger()
	s := NewServer(NewConfig(), echoInitializer, logger)
	assert.IsType(t, &ChannelFunc{}, s.Accept)
	assert.NotNil(t, s.ErrClassifier)
	assert.Equal(t, logger, s.Logger)
	assert.Equal(t, 0, s.MaxChannels)
	assert.NotNil(t, s.TimeNow)
}

func TestServerEcho(t *testing.T) {
	logger, logs := newCapturingLogger()
	address, stop := startServer(t, NewServer(NewConfig(), echoInitializer, logger))

	conn, err := net.Dial("tcp", address)
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	for _, line := range []string{"hello", "world"} {
		_, err := conn.Write([]byte(line + "\r\n"))
		require.NoError(t, err)
		got, err := reader.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "echo: "+line+"\n", got)
	}

	require.NoError(t, stop())
	assert.Contains(t, logs.Messages(), "serveStart")
	assert.Contains(t, logs.Messages(), "channelActive")
	assert.Contains(t, logs.Messages(), "channelInactive")
	assert.Contains(t, logs.Messages(), "serveDone")
}

// Stopping the server closes the live channels.
func TestServerClosesChannelsOnShutdown(t *testing.T) {
	address, stop := startServer(t, NewServer(NewConfig(), echoInitializer, DefaultSLogger()))

	conn, err := net.Dial("tcp", address)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("ping\n"))
	require.NoError(t, err)
	_, err = bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	require.NoError(t, stop())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

// A connection the server fails to turn into a channel is skipped.
func TestServerSkipsAcceptFailures(t *testing.T) {
	logger, logs := newCapturingLogger()
	var calls atomic.Int64
	s := NewServer(NewConfig(), func(ch *Channel) error {
		if calls.Add(1) == 1 {
			return errors.New("mocked error")
		}
		return echoInitializer(ch)
	}, logger)
	address, stop := startServer(t, s)

	first, err := net.Dial("tcp", address)
	require.NoError(t, err)
	defer first.Close()
	require.NoError(t, first.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = first.Read(make([]byte, 1))
	assert.Error(t, err)

	second, err := net.Dial("tcp", address)
	require.NoError(t, err)
	defer second.Close()
	_, err = second.Write([]byte("ping\n"))
	require.NoError(t, err)
	got, err := bufio.NewReader(second).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "echo: ping\n", got)

	require.NoError(t, stop())
	assert.Contains(t, logs.Messages(), "acceptChannel")
}

// With MaxChannels set, a new connection is served only once a slot frees up.
func TestServerMaxChannels(t *testing.T) {
	s := NewServer(NewConfig(), echoInitializer, DefaultSLogger())
	s.MaxChannels = 1
	address, stop := startServer(t, s)

	first, err := net.Dial("tcp", address)
	require.NoError(t, err)
	_, err = first.Write([]byte("one\n"))
	require.NoError(t, err)
	firstReader := bufio.NewReader(first)
	got, err := firstReader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "echo: one\n", got)

	// the kernel completes the handshake but the server does not accept yet
	second, err := net.Dial("tcp", address)
	require.NoError(t, err)
	defer second.Close()
	_, err = second.Write([]byte("two\n"))
	require.NoError(t, err)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	secondReader := bufio.NewReader(second)
	_, err = secondReader.ReadString('\n')
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())

	require.NoError(t, first.Close())
	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	got, err = secondReader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "echo: two\n", got)

	require.NoError(t, stop())
}

// failingListener is a [net.Listener] whose Accept always fails.
type failingListener struct {
	err error
}

func (fl *failingListener) Accept() (net.Conn, error) {
	return nil, fl.err
}

func (fl *failingListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
}

func (fl *failingListener) Close() error {
	return nil
}

// A failing listener stops Serve with the accept error.
func TestServerAcceptError(t *testing.T) {
	ln := &failingListener{err: errors.New("mocked error")}
	s := NewServer(NewConfig(), echoInitializer, DefaultSLogger())
	err := s.Serve(context.Background(), ln)
	assert.EqualError(t, err, "mocked error")
}

func TestServerListenAndServe(t *testing.T) {
	t.Run("invalid address", func(t *testing.T) {
		s := NewServer(NewConfig(), echoInitializer, DefaultSLogger())
		err := s.ListenAndServe(context.Background(), "127.0.0.1:-1")
		assert.Error(t, err)
	})

	t.Run("stops with context", func(t *testing.T) {
		s := NewServer(NewConfig(), echoInitializer, DefaultSLogger())
		ctx, cancel := context.WithCancel(context.Background())
		result := make(chan error, 1)
		go func() { result <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
		cancel()
		select {
		case err := <-result:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
		}
	})
}
