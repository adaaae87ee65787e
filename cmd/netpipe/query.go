// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/netpipe"
	"github.com/miekg/dns"
	"github.com/spf13/cobra"
)

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Send an A query over DNS-over-TCP or DNS-over-TLS",
		Long: `Resolve --name by sending an A query to --server and print the response.

The connection is dialed by composing connect and observe steps, plus a
TLS handshake with --tls, and then driven by the pipeline:

    transport -> framer -> dnscodec -> [log] -> collector`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd, configPath(cmd))
			if err != nil {
				return err
			}
			resp, err := runQuery(cmd.Context(), netpipe.NewConfig(), cfg, newLogger(cfg.Debug))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.String())
			return nil
		},
	}
	cmd.Flags().String("server", "127.0.0.1:5353", "server endpoint as IP:port")
	cmd.Flags().String("name", "example.com", "domain name to resolve")
	cmd.Flags().Bool("tls", false, "use DNS over TLS")
	cmd.Flags().String("sni", "", "TLS server name (default: the server IP address)")
	cmd.Flags().Duration("timeout", 10*time.Second, "overall query timeout")
	return cmd
}

// runQuery dials the server, sends a single A query, and waits for the response.
func runQuery(ctx context.Context, config *netpipe.Config, cfg *settings, logger *slog.Logger) (*dns.Msg, error) {
	endpoint, err := netip.ParseAddrPort(cfg.Server)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var dial netpipe.Func[netip.AddrPort, net.Conn] = netpipe.Compose2(
		netpipe.NewConnectFunc(config, "tcp", logger),
		netpipe.NewObserveConnFunc(config, logger),
	)
	if cfg.TLS {
		sni := cfg.SNI
		if sni == "" {
			sni = endpoint.Addr().String()
		}
		tlsConfig := &tls.Config{ServerName: sni, NextProtos: []string{"dot"}}
		dial = netpipe.Compose2(dial, netpipe.NewTLSHandshakeFunc(config, tlsConfig, logger))
	}

	query, err := dnscodec.NewQuery(cfg.Name, dns.TypeA).NewMsg()
	if err != nil {
		return nil, err
	}
	collector := &dnsCollector{query: query}
	channelFunc := netpipe.NewChannelFunc(config, func(ch *netpipe.Channel) error {
		return addDNSHandlers(ch, config, cfg.Debug, logger, "collector", netpipe.NewContext(collector))
	}, logger)

	connect := netpipe.Compose4(netpipe.NewEndpointFunc(endpoint), dial, channelFunc, netpipe.NewCancelWatchFunc())
	ch, err := connect.Call(ctx, netpipe.Unit{})
	if err != nil {
		return nil, err
	}
	if err := ch.Write(query); err != nil {
		return nil, err
	}
	<-ch.Done()
	return collector.result(ctx)
}

// dnsCollector keeps the first response carrying the query ID and closes.
// A response that is not valid for the query becomes a read error.
//
// Its fields are written on the channel loop and must be read
// only after the channel is done.
type dnsCollector struct {
	netpipe.HandlerAdapter[*dns.Msg, *dns.Msg]
	err   error
	query *dns.Msg
	resp  *dns.Msg
}

func (c *dnsCollector) Read(ctx netpipe.HandlerContext[*dns.Msg, *dns.Msg], resp *dns.Msg) {
	if resp.Id != c.query.Id || c.resp != nil {
		return
	}
	if _, err := dnscodec.ValidateResponseForQuery(c.query, resp); err != nil {
		c.ReadError(ctx, fmt.Errorf("%w: %s", err, questionString(resp)))
		return
	}
	c.resp = resp
	ctx.FireClose()
}

func questionString(msg *dns.Msg) string {
	if len(msg.Question) != 1 {
		return fmt.Sprintf("%d questions", len(msg.Question))
	}
	q := msg.Question[0]
	return fmt.Sprintf("%s %s", q.Name, dns.TypeToString[q.Qtype])
}

func (c *dnsCollector) ReadEOF(ctx netpipe.HandlerContext[*dns.Msg, *dns.Msg]) {
	if c.resp == nil && c.err == nil {
		c.err = io.ErrUnexpectedEOF
	}
}

func (c *dnsCollector) ReadError(ctx netpipe.HandlerContext[*dns.Msg, *dns.Msg], err error) {
	if c.err == nil {
		c.err = err
	}
	ctx.FireClose()
}

func (c *dnsCollector) result(ctx context.Context) (*dns.Msg, error) {
	switch {
	case c.resp != nil:
		return c.resp, nil
	case c.err != nil:
		return nil, c.err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, errors.New("connection closed without a response")
	}
}
