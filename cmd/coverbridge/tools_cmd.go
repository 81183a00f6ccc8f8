package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/coverbridge/mcp"
)

func newToolsCommand(v *viper.Viper) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the MCP tools/list payload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := mcp.BuildToolsListResponseJSON(cmd.Context(), mcp.Config{
				LSPEnabled: v.GetBool(keyLSPEnabled),
			})
			if err != nil {
				return err
			}
			switch strings.ToLower(strings.TrimSpace(format)) {
			case "", "json":
			case "yaml", "yml":
				data, err = jsonToYAML(data)
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unsupported format %q (json or yaml)", format)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "json", "output format (json or yaml)")
	return cmd
}

// jsonToYAML re-encodes a JSON document through its generic form so the
// YAML keys match the wire names.
func jsonToYAML(data []byte) ([]byte, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode tools list: %w", err)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode tools list yaml: %w", err)
	}
	return out, nil
}
