// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"
	"log/slog"
	"net"
	"strconv"

	"github.com/bassosimone/netpipe"
	"github.com/spf13/cobra"
)

func echoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Run a line echo server",
		Long: `Run a TCP server that writes back every line it receives.

The pipeline of each connection is:

    transport -> lines -> encoder -> [log] -> echo

where log is present only with --debug.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd, configPath(cmd))
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Debug)
			server := newEchoServer(netpipe.NewConfig(), cfg, logger)
			address := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
			return server.ListenAndServe(cmd.Context(), address)
		},
	}
	cmd.Flags().String("address", "127.0.0.1", "address to listen on")
	cmd.Flags().Int("port", 8080, "port to listen on")
	cmd.Flags().Int("max-line-length", 4096, "maximum line length (0 means unlimited)")
	return cmd
}

// newEchoServer returns the [*netpipe.Server] of the echo subcommand.
func newEchoServer(config *netpipe.Config, cfg *settings, logger *slog.Logger) *netpipe.Server {
	return netpipe.NewServer(config, func(ch *netpipe.Channel) error {
		p := ch.Pipeline()
		if err := p.AddLast("lines", netpipe.NewInboundContext(netpipe.NewLineDecoder(cfg.MaxLineLength))); err != nil {
			return err
		}
		if err := p.AddLast("encoder", netpipe.NewOutboundContext(&netpipe.LineEncoder{Delimiter: "\n"})); err != nil {
			return err
		}
		if cfg.Debug {
			lh := netpipe.NewLoggingHandler[string, string](config, logger.With(slog.String("spanID", ch.ID())))
			if err := p.AddLast("log", netpipe.NewContext(lh)); err != nil {
				return err
			}
		}
		return p.AddLast("echo", netpipe.NewContext(&echoHandler{logger: logger}))
	}, logger)
}

// echoHandler writes back every line it reads.
type echoHandler struct {
	netpipe.HandlerAdapter[string, string]
	logger *slog.Logger
}

func (h *echoHandler) Read(ctx netpipe.HandlerContext[string, string], line string) {
	ctx.FireWrite(line)
}

// ReadError skips lines that are too long and closes on any other error.
func (h *echoHandler) ReadError(ctx netpipe.HandlerContext[string, string], err error) {
	h.logger.Warn("echoReadError", slog.Any("err", err))
	if errors.Is(err, netpipe.ErrLineTooLong) {
		return
	}
	ctx.FireClose()
}
