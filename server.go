package coverbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/coverbridge/internal/analysis"
	"pkt.systems/coverbridge/internal/bridge"
	"pkt.systems/coverbridge/internal/coverage"
	"pkt.systems/coverbridge/internal/lang"
	"pkt.systems/coverbridge/internal/lspclient"
	"pkt.systems/coverbridge/internal/runner"
	"pkt.systems/coverbridge/internal/svcfields"
	"pkt.systems/coverbridge/mcp"
)

// Server wires the bridge operations to an MCP transport.
type Server struct {
	cfg       Config
	logger    pslog.Logger
	service   *bridge.Service
	mcp       mcp.Server
	telemetry *telemetry

	mu       sync.Mutex
	shutdown bool
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger       pslog.Logger
	Runner       bridge.TestRunner
	Coverage     coverage.Parser
	Finders      bridge.FinderFactory
	OTLPEndpoint string
	configHooks  []func(*Config)
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithTestRunner replaces the exec-based test runner (useful for tests).
func WithTestRunner(r bridge.TestRunner) Option {
	return func(o *options) {
		o.Runner = r
	}
}

// WithCoverageParser replaces the built-in coverage report parser.
func WithCoverageParser(p coverage.Parser) Option {
	return func(o *options) {
		o.Coverage = p
	}
}

// WithFinderFactory replaces the language server launcher.
func WithFinderFactory(f bridge.FinderFactory) Option {
	return func(o *options) {
		o.Finders = f
	}
}

// WithOTLPEndpoint overrides the OTLP collector endpoint used for telemetry.
func WithOTLPEndpoint(endpoint string) Option {
	return func(o *options) {
		o.OTLPEndpoint = endpoint
	}
}

// WithLSPEnabled toggles related-file discovery regardless of configuration.
func WithLSPEnabled(enabled bool) Option {
	return func(o *options) {
		o.configHooks = append(o.configHooks, func(cfg *Config) {
			cfg.LSPEnabled = enabled
		})
	}
}

// NewServer constructs a coverbridge server according to cfg.
// Example:
//
//	cfg := coverbridge.Config{MCPTransport: "stdio"}
//	srv, err := coverbridge.NewServer(cfg, coverbridge.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer srv.Close()
//	return srv.Run(ctx)
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	cfgCopy := cfg
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	for _, hook := range o.configHooks {
		hook(&cfgCopy)
	}
	if err := cfgCopy.Validate(); err != nil {
		return nil, err
	}
	cfg = cfgCopy

	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}

	otlpEndpoint := cfg.OTLPEndpoint
	if o.OTLPEndpoint != "" {
		otlpEndpoint = o.OTLPEndpoint
	}
	tel, err := setupTelemetry(context.Background(), telemetryConfig{
		OTLPEndpoint:     otlpEndpoint,
		MetricsListen:    cfg.MetricsListen,
		PprofListen:      cfg.PprofListen,
		ProfilingMetrics: cfg.EnableProfilingMetrics,
	}, svcfields.WithSubsystem(logger, svcfields.Telemetry))
	if err != nil {
		return nil, err
	}

	service, err := newService(cfg, o, logger, tel)
	if err != nil {
		shutdownTelemetry(tel)
		return nil, err
	}

	mcpSrv, err := mcp.NewServer(mcp.NewServerRequest{
		Config: mcp.Config{
			Transport:  cfg.MCPTransport,
			Listen:     cfg.MCPListen,
			MCPPath:    cfg.MCPPath,
			LSPEnabled: cfg.LSPEnabled,
		},
		Tools:    service,
		Logger:   logger,
		Observer: tel,
	})
	if err != nil {
		shutdownTelemetry(tel)
		return nil, err
	}

	return &Server{
		cfg:       cfg,
		logger:    logger,
		service:   service,
		mcp:       mcpSrv,
		telemetry: tel,
	}, nil
}

// NewService builds the bridge operations without a transport, for one-shot
// tool invocations.
func NewService(cfg Config, opts ...Option) (*bridge.Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	for _, hook := range o.configHooks {
		hook(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	tel, err := setupTelemetry(context.Background(), telemetryConfig{}, logger)
	if err != nil {
		return nil, err
	}
	return newService(cfg, o, logger, tel)
}

func newService(cfg Config, o options, logger pslog.Logger, tel *telemetry) (*bridge.Service, error) {
	defLang, _ := lang.Parse(cfg.DefaultLanguage)
	engine, _ := analysis.ParseEngine(cfg.Engine)

	testRunner := o.Runner
	if testRunner == nil {
		profiles, err := cfg.RunnerProfiles()
		if err != nil {
			return nil, err
		}
		testRunner = runner.New(runner.Config{
			Profiles:  profiles,
			Timeout:   cfg.RunnerTimeout,
			MaxOutput: int(cfg.RunnerMaxOutput),
			Logger:    logger,
			Observe:   tel.observeRun,
		})
	}

	finders := o.Finders
	if finders == nil && cfg.LSPEnabled {
		commands, err := cfg.LanguageServerCommands()
		if err != nil {
			return nil, err
		}
		finders = bridge.LauncherFinders(lspclient.NewLauncher(commands, lspclient.Options{
			MaxSymbols:     cfg.LSPMaxSymbols,
			RequestTimeout: cfg.LSPRequestTimeout,
			Logger:         logger,
		}))
	}

	return bridge.New(bridge.Config{
		DefaultLanguage: defLang,
		Engine:          engine,
		Thresholds:      cfg.Thresholds(),
		LSPEnabled:      cfg.LSPEnabled,
		Finders:         finders,
		Coverage:        o.Coverage,
		Runner:          testRunner,
		Logger:          logger,
	}), nil
}

// Config returns the validated configuration.
func (s *Server) Config() Config { return s.cfg }

// Service exposes the bridge operations served by s.
func (s *Server) Service() *bridge.Service { return s.service }

// Run serves MCP until ctx is cancelled or the transport ends, then shuts
// the server down.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("coverbridge.start",
		"transport", s.cfg.MCPTransport,
		"lsp_enabled", s.cfg.LSPEnabled,
		"engine", s.cfg.Engine,
		"default_language", s.cfg.DefaultLanguage,
	)
	runErr := s.mcp.Run(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil && runErr == nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("mcp: %w", runErr)
	}
	return nil
}

// Shutdown stops language servers and flushes telemetry. It is safe to call
// more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	var errs []error
	if err := s.service.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close language server: %w", err))
	}
	if s.telemetry != nil {
		telemetryCtx := ctx
		if telemetryCtx.Err() != nil {
			var cancel context.CancelFunc
			telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := s.telemetry.Shutdown(telemetryCtx); err != nil {
			errs = append(errs, err)
		}
		s.telemetry = nil
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info("coverbridge.shutdown.complete")
	return nil
}

// Close shuts the server down using a background context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func shutdownTelemetry(t *telemetry) {
	if t == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = t.Shutdown(ctx)
}
