// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closeCounter counts the close requests that reach it and forwards them.
//
// Its count is written on the channel loop and must be read only after
// the channel is done.
type closeCounter struct {
	OutboundHandlerAdapter[[]byte]
	count int
}

func (h *closeCounter) Close(ctx OutboundHandlerContext[[]byte]) {
	h.count++
	ctx.FireClose()
}

func newWatchedChannel(t *testing.T, ctx context.Context, conn net.Conn) (*Channel, *closeCounter) {
	counter := &closeCounter{}
	fn := Compose2(NewChannelFunc(NewConfig(), func(ch *Channel) error {
		return ch.Pipeline().AddLast("counter", NewOutboundContext(counter))
	}, DefaultSLogger()), NewCancelWatchFunc())
	ch, err := fn.Call(ctx, conn)
	require.NoError(t, err)
	return ch, counter
}

// Cancelling the context closes the channel through its pipeline.
func TestCancelWatchFuncClosesOnCancel(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, counter := newWatchedChannel(t, ctx, server)

	cancel()
	waitDone(t, ch)
	assert.Equal(t, 1, counter.count)
}

// A channel that ends on its own stops the watcher, so a later
// cancellation has no effect.
func TestCancelWatchFuncStopsWithChannel(t *testing.T) {
	client, server := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	ch, counter := newWatchedChannel(t, ctx, server)

	require.NoError(t, client.Close())
	waitDone(t, ch)
	cancel()

	assert.Equal(t, 0, counter.count)
	assert.ErrorIs(t, ch.Close(), ErrChannelClosed)
}

// The channel is returned unchanged.
func TestCancelWatchFuncReturnsChannel(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	ch, _ := newWatchedChannel(t, context.Background(), server)
	got, err := NewCancelWatchFunc().Call(context.Background(), ch)
	require.NoError(t, err)
	assert.Same(t, ch, got)

	require.NoError(t, ch.Close())
	waitDone(t, ch)
}
