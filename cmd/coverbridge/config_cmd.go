package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/coverbridge"
	"pkt.systems/coverbridge/internal/analysis"
	"pkt.systems/coverbridge/internal/lspclient"
	"pkt.systems/coverbridge/internal/runner"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage coverbridge configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	return cmd
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool
	defaultOutput := "$HOME/.coverbridge/" + coverbridge.DefaultConfigFileName
	if path, err := coverbridge.DefaultConfigPath(); err == nil {
		defaultOutput = path
	}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default coverbridge configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}
			if stdout {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if outPath == "" {
				path, err := coverbridge.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
				outPath = path
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", fmt.Sprintf("output path for generated config (defaults to %s)", defaultOutput))
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

type configDefaults struct {
	LogLevel        string            `yaml:"log-level"`
	DefaultLanguage string            `yaml:"default_language"`
	Analysis        analysisDefaults  `yaml:"analysis"`
	Thresholds      thresholdDefaults `yaml:"thresholds"`
	Runner          runnerDefaults    `yaml:"runner"`
	LSP             lspDefaults       `yaml:"lsp"`
	MCP             mcpDefaults       `yaml:"mcp"`
	OTLP            endpointDefaults  `yaml:"otlp"`
	Metrics         metricsDefaults   `yaml:"metrics"`
	Pprof           listenDefaults    `yaml:"pprof"`
}

type analysisDefaults struct {
	Engine string `yaml:"engine"`
}

type thresholdDefaults struct {
	LowCoverage    float64 `yaml:"low_coverage"`
	TargetCoverage float64 `yaml:"target_coverage"`
	MinDensity     float64 `yaml:"min_density"`
	MinTests       int     `yaml:"min_tests"`
}

type runnerDefaults struct {
	Timeout   string                               `yaml:"timeout"`
	MaxOutput string                               `yaml:"max_output"`
	Profiles  map[string]coverbridge.RunnerProfile `yaml:",inline"`
}

type lspCommand struct {
	Command string `yaml:"command"`
}

type lspDefaults struct {
	Enabled        bool                  `yaml:"enabled"`
	MaxSymbols     int                   `yaml:"max_symbols"`
	RequestTimeout string                `yaml:"request_timeout"`
	Commands       map[string]lspCommand `yaml:",inline"`
}

type mcpDefaults struct {
	Transport string `yaml:"transport"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
}

type endpointDefaults struct {
	Endpoint string `yaml:"endpoint"`
}

type metricsDefaults struct {
	Listen    string `yaml:"listen"`
	Profiling bool   `yaml:"profiling"`
}

type listenDefaults struct {
	Listen string `yaml:"listen"`
}

func defaultConfigYAML() ([]byte, error) {
	th := analysis.DefaultThresholds()
	defaults := configDefaults{
		LogLevel:        "info",
		DefaultLanguage: coverbridge.DefaultLanguage,
		Analysis:        analysisDefaults{Engine: coverbridge.DefaultEngine},
		Thresholds: thresholdDefaults{
			LowCoverage:    th.LowCoverage,
			TargetCoverage: th.TargetCoverage,
			MinDensity:     th.MinDensity,
			MinTests:       th.MinTests,
		},
		Runner: runnerDefaults{
			Timeout:   "0s",
			MaxOutput: humanizeBytes(coverbridge.DefaultRunnerMaxOutput),
			Profiles:  make(map[string]coverbridge.RunnerProfile),
		},
		LSP: lspDefaults{
			MaxSymbols:     coverbridge.DefaultLSPMaxSymbols,
			RequestTimeout: coverbridge.DefaultLSPRequestTimeout.String(),
			Commands:       make(map[string]lspCommand),
		},
		MCP: mcpDefaults{
			Transport: coverbridge.DefaultTransport,
			Listen:    coverbridge.DefaultMCPListen,
			Path:      coverbridge.DefaultMCPPath,
		},
		Metrics: metricsDefaults{Listen: coverbridge.DefaultMetricsListen},
	}
	for l, p := range runner.DefaultProfiles() {
		defaults.Runner.Profiles[l.String()] = coverbridge.RunnerProfile{
			Command: p.Command,
			Report:  p.Report,
			Format:  string(p.Format),
		}
	}
	for l, command := range lspclient.DefaultCommands() {
		defaults.LSP.Commands[l.String()] = lspCommand{Command: command}
	}
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("encode default config: %w", err)
	}
	return data, nil
}
