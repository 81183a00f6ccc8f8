package coverbridge

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"pkt.systems/coverbridge/internal/analysis"
	"pkt.systems/coverbridge/internal/coverage"
	"pkt.systems/coverbridge/internal/lang"
	"pkt.systems/coverbridge/internal/lspclient"
	"pkt.systems/coverbridge/internal/runner"
	"pkt.systems/coverbridge/mcp"
)

const (
	// DefaultLanguage applies to files with an unrecognised extension.
	DefaultLanguage = "python"
	// DefaultEngine is the structure analysis engine.
	DefaultEngine = "regex"
	// DefaultTransport serves MCP over stdin/stdout.
	DefaultTransport = mcp.TransportStdio
	// DefaultMCPListen is the bind address of the http transport.
	DefaultMCPListen = "127.0.0.1:19345"
	// DefaultMCPPath is the streamable HTTP endpoint path.
	DefaultMCPPath = "/mcp"
	// DefaultRunnerMaxOutput bounds captured test output per stream.
	DefaultRunnerMaxOutput = runner.DefaultMaxOutput
	// DefaultLSPMaxSymbols caps the symbols whose references are requested.
	DefaultLSPMaxSymbols = lspclient.DefaultMaxSymbols
	// DefaultLSPRequestTimeout bounds a single language server request.
	DefaultLSPRequestTimeout = lspclient.DefaultRequestTimeout
	// DefaultMetricsListen is the Prometheus scrape endpoint; empty disables
	// metrics.
	DefaultMetricsListen = ""
	// DefaultConfigFileName is the config file looked up in DefaultConfigDir.
	DefaultConfigFileName = "config.yaml"
)

// RunnerProfile overrides how coverage is collected for one language. Empty
// fields keep the built-in value.
type RunnerProfile struct {
	Command string `mapstructure:"command" yaml:"command"`
	Report  string `mapstructure:"report" yaml:"report"`
	Format  string `mapstructure:"format" yaml:"format"`
}

// Config captures the runtime configuration of a coverbridge server.
type Config struct {
	// DefaultLanguage names the language assumed for unknown extensions.
	DefaultLanguage string
	// Engine selects structure analysis ("regex" or "syntax").
	Engine string

	// LowCoverage is the percentage under which coverage is reported as low.
	LowCoverage float64
	// LowCoverageSet records whether LowCoverage was explicitly configured,
	// so a zero value is kept instead of replaced by the default.
	LowCoverageSet bool
	// TargetCoverage is the percentage validation asks callers to reach.
	TargetCoverage float64
	// TargetCoverageSet records whether TargetCoverage was explicitly configured.
	TargetCoverageSet bool
	// MinDensity is the code-line ratio under which test density is flagged.
	MinDensity float64
	// MinDensitySet records whether MinDensity was explicitly configured.
	MinDensitySet bool
	// MinTests is the test count under which a test file is considered thin.
	MinTests int
	// MinTestsSet records whether MinTests was explicitly configured.
	MinTestsSet bool

	// RunnerTimeout bounds one test run; zero relies on the request context.
	RunnerTimeout time.Duration
	// RunnerMaxOutput bounds captured stdout and stderr, in bytes.
	RunnerMaxOutput int64
	// Runners overrides runner profiles keyed by language name.
	Runners map[string]RunnerProfile

	// LSPEnabled turns on related-file discovery through language servers.
	LSPEnabled        bool
	LSPMaxSymbols     int
	LSPRequestTimeout time.Duration
	// LSPCommands overrides language server commands keyed by language name.
	LSPCommands map[string]string

	// MCPTransport is "stdio" or "http".
	MCPTransport string
	MCPListen    string
	MCPPath      string

	// OTLPEndpoint enables trace export; empty disables it.
	OTLPEndpoint string
	// MetricsListen serves Prometheus metrics; empty disables it.
	MetricsListen string
	// PprofListen serves net/http/pprof; empty disables it.
	PprofListen string
	// EnableProfilingMetrics adds Go runtime metrics to the metrics endpoint.
	EnableProfilingMetrics bool
}

// Validate fills defaults and rejects unusable values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DefaultLanguage) == "" {
		c.DefaultLanguage = DefaultLanguage
	}
	l, ok := lang.Parse(c.DefaultLanguage)
	if !ok {
		return fmt.Errorf("config: unknown default language %q (options: %s)", c.DefaultLanguage, languageNames())
	}
	c.DefaultLanguage = l.String()

	engine, ok := analysis.ParseEngine(c.Engine)
	if !ok {
		return fmt.Errorf("config: unknown analysis engine %q (options: %s, %s)", c.Engine, analysis.EngineRegex, analysis.EngineSyntax)
	}
	c.Engine = string(engine)

	def := analysis.DefaultThresholds()
	if c.LowCoverage == 0 && !c.LowCoverageSet {
		c.LowCoverage = def.LowCoverage
	}
	if c.TargetCoverage == 0 && !c.TargetCoverageSet {
		c.TargetCoverage = def.TargetCoverage
	}
	if c.MinDensity == 0 && !c.MinDensitySet {
		c.MinDensity = def.MinDensity
	}
	if c.MinTests == 0 && !c.MinTestsSet {
		c.MinTests = def.MinTests
	}
	if !inPercentRange(c.LowCoverage) || !inPercentRange(c.TargetCoverage) {
		return fmt.Errorf("config: coverage thresholds must be within 0-100")
	}
	if c.MinDensity < 0 || c.MinDensity > 1 || math.IsNaN(c.MinDensity) {
		return fmt.Errorf("config: min density must be within 0-1")
	}
	if c.MinTests < 0 {
		return fmt.Errorf("config: min tests must be >= 0")
	}

	if c.RunnerTimeout < 0 {
		return fmt.Errorf("config: runner timeout must be >= 0")
	}
	if c.RunnerMaxOutput <= 0 {
		c.RunnerMaxOutput = DefaultRunnerMaxOutput
	}
	if _, err := c.RunnerProfiles(); err != nil {
		return err
	}

	if c.LSPMaxSymbols <= 0 {
		c.LSPMaxSymbols = DefaultLSPMaxSymbols
	}
	if c.LSPRequestTimeout <= 0 {
		c.LSPRequestTimeout = DefaultLSPRequestTimeout
	}
	if _, err := c.LanguageServerCommands(); err != nil {
		return err
	}

	c.MCPTransport = strings.ToLower(strings.TrimSpace(c.MCPTransport))
	if c.MCPTransport == "" {
		c.MCPTransport = DefaultTransport
	}
	switch c.MCPTransport {
	case mcp.TransportStdio, mcp.TransportHTTP:
	default:
		return fmt.Errorf("config: mcp transport must be %q or %q", mcp.TransportStdio, mcp.TransportHTTP)
	}
	if strings.TrimSpace(c.MCPListen) == "" {
		c.MCPListen = DefaultMCPListen
	}
	if strings.TrimSpace(c.MCPPath) == "" {
		c.MCPPath = DefaultMCPPath
	}
	if c.EnableProfilingMetrics && strings.TrimSpace(c.MetricsListen) == "" {
		return fmt.Errorf("config: profiling metrics require metrics-listen")
	}
	return nil
}

// Thresholds returns the suggestion thresholds.
func (c Config) Thresholds() analysis.Thresholds {
	return analysis.Thresholds{
		LowCoverage:    c.LowCoverage,
		TargetCoverage: c.TargetCoverage,
		MinDensity:     c.MinDensity,
		MinTests:       c.MinTests,
	}
}

// RunnerProfiles converts the Runners overrides into runner profiles.
func (c Config) RunnerProfiles() (map[lang.Language]runner.Profile, error) {
	out := make(map[lang.Language]runner.Profile, len(c.Runners))
	for name, p := range c.Runners {
		l, ok := lang.Parse(name)
		if !ok {
			return nil, fmt.Errorf("config: runner override for unknown language %q", name)
		}
		profile := runner.Profile{
			Command: strings.TrimSpace(p.Command),
			Report:  strings.TrimSpace(p.Report),
		}
		if strings.TrimSpace(p.Format) != "" {
			format, err := coverage.ParseFormat(p.Format)
			if err != nil {
				return nil, fmt.Errorf("config: runner %s: %w", name, err)
			}
			profile.Format = format
		}
		out[l] = profile
	}
	return out, nil
}

// LanguageServerCommands converts the LSPCommands overrides.
func (c Config) LanguageServerCommands() (map[lang.Language]string, error) {
	out := make(map[lang.Language]string, len(c.LSPCommands))
	for name, command := range c.LSPCommands {
		l, ok := lang.Parse(name)
		if !ok {
			return nil, fmt.Errorf("config: language server override for unknown language %q", name)
		}
		out[l] = command
	}
	return out, nil
}

// ParseByteSize accepts human readable sizes such as "512KiB" or "2 MB".
func ParseByteSize(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("config: parse size %q: %w", raw, err)
	}
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("config: size %q is too large", raw)
	}
	return int64(n), nil
}

// DefaultConfigDir returns the coverbridge configuration directory. The
// COVERBRIDGE_CONFIG_DIR environment variable overrides ~/.coverbridge.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("COVERBRIDGE_CONFIG_DIR")); override != "" {
		if filepath.IsAbs(override) {
			return override, nil
		}
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".coverbridge"), nil
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFileName), nil
}

func inPercentRange(v float64) bool {
	return v >= 0 && v <= 100 && !math.IsNaN(v)
}

func languageNames() string {
	names := make([]string, 0, len(lang.All))
	for _, l := range lang.All {
		names = append(names, l.String())
	}
	slices.Sort(names)
	return strings.Join(names, ", ")
}
