package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pkt.systems/coverbridge"
	"pkt.systems/coverbridge/internal/lang"
	"pkt.systems/coverbridge/internal/svcfields"
	"pkt.systems/pslog"
)

// Viper keys. Flags use the dashed names below; YAML files and the
// COVERBRIDGE_* environment use the dotted keys.
const (
	keyConfig                 = "config"
	keyLogLevel               = "log-level"
	keyDefaultLanguage        = "default_language"
	keyEngine                 = "analysis.engine"
	keyLowCoverage            = "thresholds.low_coverage"
	keyTargetCoverage         = "thresholds.target_coverage"
	keyMinDensity             = "thresholds.min_density"
	keyMinTests               = "thresholds.min_tests"
	keyRunnerTimeout          = "runner.timeout"
	keyRunnerMaxOutput        = "runner.max_output"
	keyLSPEnabled             = "lsp.enabled"
	keyLSPMaxSymbols          = "lsp.max_symbols"
	keyLSPRequestTimeout      = "lsp.request_timeout"
	keyMCPTransport           = "mcp.transport"
	keyMCPListen              = "mcp.listen"
	keyMCPPath                = "mcp.path"
	keyOTLPEndpoint           = "otlp.endpoint"
	keyMetricsListen          = "metrics.listen"
	keyPprofListen            = "pprof.listen"
	keyEnableProfilingMetrics = "metrics.profiling"
)

// errToolFailed marks a tool run whose payload already reported the error.
var errToolFailed = errors.New("tool reported an error")

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("COVERBRIDGE_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "coverbridge")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, errToolFailed):
		default:
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:           "coverbridge",
		Short:         "coverbridge serves code analysis and test coverage tools to AI assistants over MCP",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # MCP over stdio (what most assistants launch)
  coverbridge serve

  # Streamable HTTP on localhost with language server context
  coverbridge serve --transport http --listen 127.0.0.1:19345 --lsp

  # Run a single tool and print its JSON payload
  coverbridge run get_coverage_gaps --source-file src/calc.py --test-file tests/test_calc.py

  # Export the tools/list payload
  coverbridge tools --format yaml
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configFile, err := loadConfigFile(v)
			if err != nil {
				return err
			}
			if configFile != "" {
				svcfields.WithSubsystem(baseLogger, svcfields.CLIRoot).Debug("loaded config file", "path", configFile)
			}
			return nil
		},
	}

	persistent := cmd.PersistentFlags()
	persistent.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.coverbridge/"+coverbridge.DefaultConfigFileName+")")
	persistent.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	persistent.String("default-language", coverbridge.DefaultLanguage, fmt.Sprintf("language assumed for unknown file extensions (%s)", languageList()))
	persistent.String("engine", coverbridge.DefaultEngine, "structure analysis engine (regex or syntax)")
	persistent.Float64("low-coverage", 0, "coverage percentage under which coverage is reported as low (default 80)")
	persistent.Float64("target-coverage", 0, "coverage percentage validation asks for (default 90)")
	persistent.Float64("min-density", 0, "code-line ratio under which a test file is flagged as sparse (default 0.7)")
	persistent.Int("min-tests", 0, "test count under which a test file is flagged as thin (default 3)")
	persistent.Duration("runner-timeout", 0, "maximum duration of one test run (0 relies on the caller)")
	persistent.String("runner-max-output", humanizeBytes(coverbridge.DefaultRunnerMaxOutput), "captured stdout/stderr per test run")
	persistent.Bool("lsp", false, "suggest related files through language servers")
	persistent.Int("lsp-max-symbols", coverbridge.DefaultLSPMaxSymbols, "symbols whose references are resolved per file")
	persistent.Duration("lsp-request-timeout", coverbridge.DefaultLSPRequestTimeout, "timeout of a single language server request")
	persistent.String("otlp-endpoint", "", "OTLP collector endpoint (e.g. grpc://localhost:4317)")
	persistent.String("metrics-listen", coverbridge.DefaultMetricsListen, "Prometheus scrape endpoint (empty disables)")
	persistent.String("pprof-listen", "", "pprof listen address (empty disables)")
	persistent.Bool("enable-profiling-metrics", false, "add Go runtime metrics to the Prometheus endpoint")

	bindings := map[string]string{
		keyConfig:                 "config",
		keyLogLevel:               "log-level",
		keyDefaultLanguage:        "default-language",
		keyEngine:                 "engine",
		keyLowCoverage:            "low-coverage",
		keyTargetCoverage:         "target-coverage",
		keyMinDensity:             "min-density",
		keyMinTests:               "min-tests",
		keyRunnerTimeout:          "runner-timeout",
		keyRunnerMaxOutput:        "runner-max-output",
		keyLSPEnabled:             "lsp",
		keyLSPMaxSymbols:          "lsp-max-symbols",
		keyLSPRequestTimeout:      "lsp-request-timeout",
		keyOTLPEndpoint:           "otlp-endpoint",
		keyMetricsListen:          "metrics-listen",
		keyPprofListen:            "pprof-listen",
		keyEnableProfilingMetrics: "enable-profiling-metrics",
	}
	for key, name := range bindings {
		mustBindFlag(v, key, persistent.Lookup(name))
	}

	cmd.AddCommand(newServeCommand(v, baseLogger))
	cmd.AddCommand(newToolsCommand(v))
	cmd.AddCommand(newRunCommand(v, baseLogger))
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// newViper returns a viper instance reading COVERBRIDGE_* variables, with
// dots and dashes in keys mapped to underscores.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("COVERBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func mustBindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// commandLogger applies the configured log level to baseLogger.
func commandLogger(v *viper.Viper, baseLogger pslog.Logger) pslog.Logger {
	logLevel := strings.TrimSpace(v.GetString(keyLogLevel))
	if logLevel == "" {
		logLevel = "info"
	}
	if level, ok := pslog.ParseLevel(logLevel); ok {
		return baseLogger.LogLevel(level)
	}
	return baseLogger
}

// bindConfig builds a server configuration from flags, environment and the
// config file. Per-language runner and language server overrides are only
// read from the config file or the environment.
func bindConfig(v *viper.Viper) (coverbridge.Config, error) {
	cfg := coverbridge.Config{
		DefaultLanguage:        v.GetString(keyDefaultLanguage),
		Engine:                 v.GetString(keyEngine),
		LowCoverage:            v.GetFloat64(keyLowCoverage),
		TargetCoverage:         v.GetFloat64(keyTargetCoverage),
		MinDensity:             v.GetFloat64(keyMinDensity),
		MinTests:               v.GetInt(keyMinTests),
		LowCoverageSet:         v.IsSet(keyLowCoverage),
		TargetCoverageSet:      v.IsSet(keyTargetCoverage),
		MinDensitySet:          v.IsSet(keyMinDensity),
		MinTestsSet:            v.IsSet(keyMinTests),
		RunnerTimeout:          v.GetDuration(keyRunnerTimeout),
		LSPEnabled:             v.GetBool(keyLSPEnabled),
		LSPMaxSymbols:          v.GetInt(keyLSPMaxSymbols),
		LSPRequestTimeout:      v.GetDuration(keyLSPRequestTimeout),
		MCPTransport:           v.GetString(keyMCPTransport),
		MCPListen:              v.GetString(keyMCPListen),
		MCPPath:                v.GetString(keyMCPPath),
		OTLPEndpoint:           v.GetString(keyOTLPEndpoint),
		MetricsListen:          v.GetString(keyMetricsListen),
		PprofListen:            v.GetString(keyPprofListen),
		EnableProfilingMetrics: v.GetBool(keyEnableProfilingMetrics),
	}
	maxOutput, err := coverbridge.ParseByteSize(v.GetString(keyRunnerMaxOutput))
	if err != nil {
		return coverbridge.Config{}, fmt.Errorf("parse runner max output: %w", err)
	}
	cfg.RunnerMaxOutput = maxOutput

	for _, l := range lang.All {
		name := l.String()
		profile := coverbridge.RunnerProfile{
			Command: v.GetString("runner." + name + ".command"),
			Report:  v.GetString("runner." + name + ".report"),
			Format:  v.GetString("runner." + name + ".format"),
		}
		if profile != (coverbridge.RunnerProfile{}) {
			if cfg.Runners == nil {
				cfg.Runners = make(map[string]coverbridge.RunnerProfile)
			}
			cfg.Runners[name] = profile
		}
		if command := strings.TrimSpace(v.GetString("lsp." + name + ".command")); command != "" {
			if cfg.LSPCommands == nil {
				cfg.LSPCommands = make(map[string]string)
			}
			cfg.LSPCommands[name] = command
		}
	}
	return cfg, nil
}

func loadConfigFile(v *viper.Viper) (string, error) {
	cfgPath := strings.TrimSpace(v.GetString(keyConfig))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if candidate, err := coverbridge.DefaultConfigPath(); err == nil {
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}
	if cfgPath == "" {
		return "", nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	v.SetConfigFile(expanded)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return abs, nil
}

func humanizeBytes(n int64) string {
	return strings.ReplaceAll(humanize.IBytes(uint64(n)), " ", "")
}

func languageList() string {
	names := make([]string, 0, len(lang.All))
	for _, l := range lang.All {
		names = append(names, l.String())
	}
	return strings.Join(names, ", ")
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
