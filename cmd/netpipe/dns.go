// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"

	"github.com/bassosimone/netpipe"
	"github.com/miekg/dns"
	"github.com/spf13/cobra"
)

func dnsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dns",
		Short: "Run a DNS-over-TCP responder",
		Long: `Run a DNS-over-TCP server answering every A query with --answer.

Queries for other types get an empty answer and messages that are not
queries get NOTIMP. The pipeline of each connection is:

    transport -> framer -> dnscodec -> [log] -> responder

where log is present only with --debug.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd, configPath(cmd))
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Debug)
			server, err := newDNSServer(netpipe.NewConfig(), cfg, logger)
			if err != nil {
				return err
			}
			address := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
			return server.ListenAndServe(cmd.Context(), address)
		},
	}
	cmd.Flags().String("address", "127.0.0.1", "address to listen on")
	cmd.Flags().Int("port", 5353, "port to listen on")
	cmd.Flags().String("answer", "127.0.0.1", "IPv4 address returned for A queries")
	return cmd
}

// newDNSServer returns the [*netpipe.Server] of the dns subcommand.
func newDNSServer(config *netpipe.Config, cfg *settings, logger *slog.Logger) (*netpipe.Server, error) {
	answer, err := netip.ParseAddr(cfg.Answer)
	if err != nil {
		return nil, err
	}
	if !answer.Is4() {
		return nil, fmt.Errorf("answer %q is not an IPv4 address", cfg.Answer)
	}
	return netpipe.NewServer(config, func(ch *netpipe.Channel) error {
		return addDNSHandlers(ch, config, cfg.Debug, logger, "responder",
			netpipe.NewContext(&dnsResponder{answer: answer}))
	}, logger), nil
}

// addDNSHandlers adds the DNS-over-TCP codec followed by the given final handler.
func addDNSHandlers(ch *netpipe.Channel, config *netpipe.Config, debug bool,
	logger *slog.Logger, name string, final netpipe.PipelineContext) error {
	p := ch.Pipeline()
	if err := p.AddLast("framer", netpipe.NewContext(&netpipe.LengthFieldFramer{})); err != nil {
		return err
	}
	if err := p.AddLast("dnscodec", netpipe.NewContext(&netpipe.DNSCodec{})); err != nil {
		return err
	}
	if debug {
		lh := netpipe.NewLoggingHandler[*dns.Msg, *dns.Msg](config, logger.With(slog.String("spanID", ch.ID())))
		if err := p.AddLast("log", netpipe.NewContext(lh)); err != nil {
			return err
		}
	}
	return p.AddLast(name, final)
}

// dnsResponder answers each query it reads.
type dnsResponder struct {
	netpipe.HandlerAdapter[*dns.Msg, *dns.Msg]
	answer netip.Addr
}

func (r *dnsResponder) Read(ctx netpipe.HandlerContext[*dns.Msg, *dns.Msg], query *dns.Msg) {
	ctx.FireWrite(r.respond(query))
}

func (r *dnsResponder) respond(query *dns.Msg) *dns.Msg {
	resp := &dns.Msg{}
	if query.Opcode != dns.OpcodeQuery {
		return resp.SetRcode(query, dns.RcodeNotImplemented)
	}
	resp.SetReply(query)
	for _, q := range query.Question {
		if q.Qtype != dns.TypeA || q.Qclass != dns.ClassINET {
			continue
		}
		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    60,
			},
			A: net.IP(r.answer.AsSlice()),
		})
	}
	return resp
}
