package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pkt.systems/coverbridge"
	"pkt.systems/coverbridge/internal/svcfields"
	"pkt.systems/coverbridge/mcp"
	"pkt.systems/pslog"
)

func newRunCommand(v *viper.Viper, baseLogger pslog.Logger) *cobra.Command {
	var args mcp.ToolArguments
	cmd := &cobra.Command{
		Use:       "run <tool>",
		Short:     "Invoke one tool locally and print its JSON payload",
		Long:      "Invoke one tool locally and print its JSON payload. The exit status is 1 when the payload reports an error.\n\nTools: " + strings.Join(mcp.ToolNames, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: mcp.ToolNames,
		RunE: func(cmd *cobra.Command, positional []string) error {
			logger := commandLogger(v, baseLogger)
			cfg, err := bindConfig(v)
			if err != nil {
				return err
			}
			svc, err := coverbridge.NewService(cfg, coverbridge.WithLogger(logger))
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := svc.Close(closeCtx); err != nil {
					svcfields.WithSubsystem(logger, svcfields.CLIRoot).Warn("close language server", "error", err)
				}
			}()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			res, err := mcp.Dispatch(ctx, svc, logger, positional[0], args)
			if err != nil {
				return err
			}
			for _, content := range res.Content {
				if text, ok := content.(*mcpsdk.TextContent); ok {
					if _, err := fmt.Fprintln(cmd.OutOrStdout(), text.Text); err != nil {
						return err
					}
				}
			}
			if res.IsError {
				return errToolFailed
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&args.SourceFile, "source-file", "", "source file to analyse")
	flags.StringVar(&args.TestFile, "test-file", "", "test file exercising the source file")
	flags.StringVar(&args.ProjectRoot, "project-root", "", "project root (defaults to the source or test file directory)")
	return cmd
}
