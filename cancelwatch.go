// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import "context"

// NewCancelWatchFunc returns a new [*CancelWatchFunc].
func NewCancelWatchFunc() *CancelWatchFunc {
	return &CancelWatchFunc{}
}

// CancelWatchFunc ties the lifetime of a [*Channel] to the context
// passed to Call: when the context is done, it requests the channel to
// close through its pipeline, as [*Channel.Close] does.
//
// The close request visits the outbound handlers before reaching the
// transport, so a handler may flush or log before the connection goes
// away. A handler that consumes the request keeps the channel alive.
//
// Place it after [*ChannelFunc]. Dialing and TLS handshakes already
// honor the context on their own.
//
// The watcher stops when the channel is done, so it never outlives it.
type CancelWatchFunc struct{}

var _ Func[*Channel, *Channel] = &CancelWatchFunc{}

// Call implements [Func].
func (op *CancelWatchFunc) Call(ctx context.Context, ch *Channel) (*Channel, error) {
	stop := context.AfterFunc(ctx, func() {
		ch.Close()
	})
	go func() {
		<-ch.Done()
		stop()
	}()
	return ch, nil
}
