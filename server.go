// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bassosimone/runtimex"
)

// NewServer returns a new [*Server] whose channels are populated by init.
//
// The cfg argument contains the common configuration for netpipe operations.
//
// The init argument populates the pipeline of each accepted connection.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewServer(cfg *Config, init ChannelInitializer, logger SLogger) *Server {
	return &Server{
		Accept:        NewChannelFunc(cfg, init, logger),
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		MaxChannels:   0,
		TimeNow:       cfg.TimeNow,
	}
}

// Server accepts connections and runs a [*Channel] for each of them.
//
// All fields are safe to modify after construction but before first use.
type Server struct {
	// Accept turns an accepted connection into a running channel.
	//
	// Set by [NewServer] to a [*ChannelFunc]. Use [Compose2] to, e.g.,
	// observe the connection with [*ObserveConnFunc] first.
	Accept Func[net.Conn, *Channel]

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewServer] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewServer] to the user-provided logger.
	Logger SLogger

	// MaxChannels limits the number of concurrent channels. When the limit
	// is reached the server stops accepting until a channel ends. Zero
	// means no limit.
	//
	// Set by [NewServer] to zero.
	MaxChannels int

	// TimeNow returns the current time.
	//
	// Set by [NewServer] from [Config.TimeNow].
	TimeNow func() time.Time
}

// ListenAndServe listens on the given TCP address and calls [*Server.Serve].
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is done or accepting fails.
//
// A connection that Accept fails to turn into a channel is logged and
// skipped. When Serve stops, it closes ln, asks every live channel to
// close through its pipeline, and waits for them to finish. It returns
// nil when stopped by ctx and the accept error otherwise.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	runtimex.Assert(s.Accept != nil)

	t0 := s.TimeNow()
	s.Logger.Info("serveStart", slog.String("localAddr", ln.Addr().String()), slog.Time("t", t0))

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var (
		mu       sync.Mutex
		channels = make(map[*Channel]struct{})
		wg       sync.WaitGroup
		slots    chan struct{}
	)
	if s.MaxChannels > 0 {
		slots = make(chan struct{}, s.MaxChannels)
	}
	release := func() {
		if slots != nil {
			<-slots
		}
	}

	var err error
	for {
		if slots != nil {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		var conn net.Conn
		conn, err = ln.Accept()
		if err != nil {
			release()
			break
		}

		ch, acceptErr := s.Accept.Call(ctx, conn)
		if acceptErr != nil {
			s.Logger.Warn(
				"acceptChannel",
				slog.Any("err", acceptErr),
				slog.String("errClass", s.ErrClassifier.Classify(acceptErr)),
				slog.Time("t", s.TimeNow()),
			)
			release()
			continue
		}

		mu.Lock()
		channels[ch] = struct{}{}
		mu.Unlock()
		wg.Go(func() {
			<-ch.Done()
			mu.Lock()
			delete(channels, ch)
			mu.Unlock()
			release()
		})
	}

	if ctx.Err() != nil {
		err = nil
	}
	ln.Close()

	mu.Lock()
	for ch := range channels {
		ch.Close()
	}
	mu.Unlock()
	wg.Wait()

	s.Logger.Info(
		"serveDone",
		slog.Any("err", err),
		slog.String("errClass", s.ErrClassifier.Classify(err)),
		slog.String("localAddr", ln.Addr().String()),
		slog.Time("t0", t0),
		slog.Time("t", s.TimeNow()),
	)
	return err
}
