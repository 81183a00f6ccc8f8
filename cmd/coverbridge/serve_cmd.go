package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pkt.systems/coverbridge"
	"pkt.systems/coverbridge/internal/svcfields"
	"pkt.systems/coverbridge/internal/version"
	"pkt.systems/pslog"
)

func newServeCommand(v *viper.Viper, baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (stdio by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := commandLogger(v, baseLogger)
			svcfields.WithSubsystem(logger, "server.lifecycle.init").Info(
				"welcome to coverbridge",
				"version", version.Current(),
				"pid", os.Getpid(),
			)
			cfg, err := bindConfig(v)
			if err != nil {
				return err
			}
			server, err := coverbridge.NewServer(cfg, coverbridge.WithLogger(logger))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return server.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.String("transport", coverbridge.DefaultTransport, "MCP transport (stdio or http)")
	flags.StringP("listen", "l", coverbridge.DefaultMCPListen, "listen address of the http transport")
	flags.String("mcp-path", coverbridge.DefaultMCPPath, "HTTP path of the streamable MCP endpoint")
	mustBindFlag(v, keyMCPTransport, flags.Lookup("transport"))
	mustBindFlag(v, keyMCPListen, flags.Lookup("listen"))
	mustBindFlag(v, keyMCPPath, flags.Lookup("mcp-path"))
	return cmd
}
