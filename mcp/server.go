package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pkt.systems/coverbridge/internal/bridge"
	"pkt.systems/coverbridge/internal/lang"
	"pkt.systems/coverbridge/internal/svcfields"
	"pkt.systems/coverbridge/internal/version"
	"pkt.systems/pslog"
)

// Transports understood by Run.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

const (
	defaultListen          = "127.0.0.1:19345"
	defaultMCPPath         = "/mcp"
	defaultShutdownTimeout = 10 * time.Second
	serverName             = "coverbridge"
)

// Config controls coverbridge MCP server runtime behavior.
type Config struct {
	Transport string
	Listen    string
	MCPPath   string
	// LSPEnabled only changes tool descriptions; discovery itself is
	// configured on the Tools implementation.
	LSPEnabled      bool
	ShutdownTimeout time.Duration
}

// Tools is the operation surface served as MCP tools.
type Tools interface {
	AnalyzeCodeContext(ctx context.Context, sourceFile, projectRoot string) (*bridge.CodeContext, error)
	GetCoverageGaps(ctx context.Context, sourceFile, testFile, projectRoot string) (*bridge.CoverageGaps, error)
	AnalyzeTestStructure(ctx context.Context, testFile, projectRoot string) (*bridge.TestStructure, error)
	GetTestGenerationContext(ctx context.Context, sourceFile, testFile, projectRoot string) (*bridge.GenerationContext, error)
	ValidateTestCoverage(ctx context.Context, sourceFile, testFile, projectRoot string) (*bridge.CoverageValidation, error)
	BuildTestPrompt(ctx context.Context, sourceFile, testFile, projectRoot string) (*bridge.TestPrompt, error)
	DetectLanguage(path string) lang.Language
}

// Server is the MCP service contract.
type Server interface {
	Run(context.Context) error
}

// NewServerRequest wraps constructor inputs.
type NewServerRequest struct {
	Config Config
	Tools  Tools
	Logger pslog.Logger
	// Observer is told about every tool call. Nil observes nothing.
	Observer ToolObserver
}

type server struct {
	cfg          Config
	tools        Tools
	logger       pslog.Logger
	lifecycleLog pslog.Logger
	transportLog pslog.Logger
	toolLog      pslog.Logger
	observer     ToolObserver
	mcpHTTPPath  string
}

// NewServer constructs the MCP service.
func NewServer(req NewServerRequest) (Server, error) {
	cfg := req.Config
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if req.Tools == nil {
		return nil, fmt.Errorf("mcp: tools implementation required")
	}
	s := newServer(cfg, req.Tools, req.Logger)
	if req.Observer != nil {
		s.observer = req.Observer
	}
	return s, nil
}

func newServer(cfg Config, tools Tools, logger pslog.Logger) *server {
	if logger == nil {
		logger = pslog.NewStructured(os.Stderr).With("app", serverName)
	}
	return &server{
		cfg:          cfg,
		tools:        tools,
		logger:       logger,
		lifecycleLog: svcfields.WithSubsystem(logger, "server.lifecycle.mcp"),
		transportLog: svcfields.WithSubsystem(logger, svcfields.MCPTransport),
		toolLog:      svcfields.WithSubsystem(logger, svcfields.MCPTools),
		observer:     nopObserver{},
		mcpHTTPPath:  cleanHTTPPath(cfg.MCPPath),
	}
}

func applyDefaults(cfg *Config) {
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	if cfg.Transport == "" {
		cfg.Transport = TransportStdio
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = defaultListen
	}
	if strings.TrimSpace(cfg.MCPPath) == "" {
		cfg.MCPPath = defaultMCPPath
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
}

func validateConfig(cfg Config) error {
	switch cfg.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("mcp: unsupported transport %q (want %s or %s)", cfg.Transport, TransportStdio, TransportHTTP)
	}
	if cfg.Transport == TransportHTTP && strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("mcp: listen address required for http transport")
	}
	return nil
}

func (s *server) Run(ctx context.Context) error {
	s.lifecycleLog.Info("starting coverbridge MCP server",
		"transport", s.cfg.Transport,
		"listen", s.cfg.Listen,
		"mcp_path", s.mcpHTTPPath,
		"version", version.Current(),
	)
	mcpSrv := s.buildMCPServer()
	if s.cfg.Transport == TransportStdio {
		err := mcpSrv.Run(ctx, &mcpsdk.StdioTransport{})
		if err != nil && ctx.Err() != nil {
			return nil
		}
		s.lifecycleLog.Info("mcp.stdio.closed", "error", err)
		return err
	}
	return s.serveHTTP(ctx, mcpSrv)
}

func (s *server) serveHTTP(ctx context.Context, mcpSrv *mcpsdk.Server) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.buildMux(mcpSrv),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	s.transportLog.Info("mcp.http.listening", "listen", s.cfg.Listen, "path", s.mcpHTTPPath)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *server) buildMux(mcpSrv *mcpsdk.Server) *http.ServeMux {
	streamable := mcpsdk.NewStreamableHTTPHandler(func(_ *http.Request) *mcpsdk.Server {
		return mcpSrv
	}, nil)
	mux := http.NewServeMux()
	mux.Handle(s.mcpHTTPPath, otelhttp.NewHandler(streamable, "mcp.http"))
	return mux
}

func (s *server) buildMCPServer() *mcpsdk.Server {
	mcpSrv := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    serverName,
		Version: version.Current(),
	}, &mcpsdk.ServerOptions{
		Instructions:       defaultServerInstructions(s.cfg),
		InitializedHandler: s.handleInitialized,
	})
	s.registerTools(mcpSrv)
	return mcpSrv
}

func (s *server) handleInitialized(_ context.Context, req *mcpsdk.InitializedRequest) {
	if req == nil || req.Session == nil {
		return
	}
	client, clientVersion := "", ""
	if params := req.Session.InitializeParams(); params != nil && params.ClientInfo != nil {
		client, clientVersion = params.ClientInfo.Name, params.ClientInfo.Version
	}
	s.transportLog.Info("mcp.session.initialized",
		"session_id", req.Session.ID(),
		"client", client,
		"client_version", clientVersion,
	)
}

func cleanHTTPPath(raw string) string {
	p := strings.TrimSpace(raw)
	if p == "" {
		return defaultMCPPath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
