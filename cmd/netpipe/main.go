// SPDX-License-Identifier: GPL-3.0-or-later

// Command netpipe runs servers and clients built from netpipe pipelines.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "netpipe",
		Short: "Network servers and clients built from handler pipelines",
		Long: `netpipe runs network servers and clients whose protocol logic is a
pipeline of handlers: bytes read from the connection flow through the inbound
handlers and messages written by the handlers flow back through the outbound
handlers to the connection.

Settings are read from flags, from the YAML file given with --config, and
from NETPIPE_ environment variables (e.g., NETPIPE_PORT=5353).`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "path of an optional YAML config file")
	root.PersistentFlags().Bool("debug", false, "log pipeline events at debug level")
	root.AddCommand(echoCmd())
	root.AddCommand(dnsCmd())
	root.AddCommand(queryCmd())
	return root
}

// configPath returns the value of the --config flag.
func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
