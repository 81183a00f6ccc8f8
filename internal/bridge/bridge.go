// Package bridge implements the code-analysis operations exposed to AI
// assistants: code context, coverage gaps, test structure, the composite
// generation context, coverage validation and test prompt rendering.
//
// The Service depends on three collaborators behind interfaces: a test runner
// that produces coverage reports, a coverage report parser and a factory for
// language server handles. The Service keeps at most one language server
// handle, keyed by project root and language, and replaces it on a miss.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"pkt.systems/pslog"

	"pkt.systems/coverbridge/internal/analysis"
	"pkt.systems/coverbridge/internal/coverage"
	"pkt.systems/coverbridge/internal/lang"
	"pkt.systems/coverbridge/internal/runner"
	"pkt.systems/coverbridge/internal/svcfields"
)

// Status values carried by every payload.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ContextFinder suggests files related to a source file.
type ContextFinder interface {
	RelatedFiles(ctx context.Context, sourceFile string) ([]string, error)
	Close(ctx context.Context) error
}

// FinderFactory starts a ContextFinder for a project root and language.
type FinderFactory func(ctx context.Context, root string, language lang.Language) (ContextFinder, error)

// TestRunner runs a test command that writes a coverage report.
type TestRunner interface {
	Run(ctx context.Context, req runner.Request) (runner.Result, error)
}

// OpError is an operation failure whose message is reported to callers
// verbatim.
type OpError struct {
	Msg string
	Err error
}

func (e *OpError) Error() string { return e.Msg }

func (e *OpError) Unwrap() error { return e.Err }

func opErrorf(cause error, format string, args ...any) error {
	return &OpError{Msg: fmt.Sprintf(format, args...), Err: cause}
}

// Config wires a Service.
type Config struct {
	// DefaultLanguage applies to files whose extension is not recognised.
	DefaultLanguage lang.Language
	Engine          analysis.Engine
	Thresholds      analysis.Thresholds
	// LSPEnabled turns on related-file discovery through Finders.
	LSPEnabled bool
	Finders    FinderFactory
	Coverage   coverage.Parser
	Runner     TestRunner
	Logger     pslog.Logger
}

// Service implements the bridge operations.
type Service struct {
	defaultLanguage lang.Language
	analyzer        *analysis.Analyzer
	thresholds      analysis.Thresholds
	lspEnabled      bool
	finders         FinderFactory
	coverage        coverage.Parser
	runner          TestRunner
	logger          pslog.Logger

	// runMu serialises coverage runs; concurrent runs in one project would
	// overwrite each other's report.
	runMu sync.Mutex

	finderMu   sync.Mutex
	finder     ContextFinder
	finderKey  finderKey
	finderOpen bool
}

type finderKey struct {
	root     string
	language lang.Language
}

// New builds a Service. Missing collaborators are replaced by the shipped
// defaults, except Finders which leaves related-file discovery disabled.
func New(cfg Config) *Service {
	def := cfg.DefaultLanguage
	if def == lang.Unknown {
		def = lang.Python
	}
	th := cfg.Thresholds
	if th == (analysis.Thresholds{}) {
		th = analysis.DefaultThresholds()
	}
	logger := svcfields.WithSubsystem(cfg.Logger, svcfields.Bridge)
	parser := cfg.Coverage
	if parser == nil {
		parser = coverage.NewParser()
	}
	testRunner := cfg.Runner
	if testRunner == nil {
		testRunner = runner.New(runner.Config{Logger: cfg.Logger})
	}
	return &Service{
		defaultLanguage: def,
		analyzer:        analysis.New(cfg.Engine),
		thresholds:      th,
		lspEnabled:      cfg.LSPEnabled && cfg.Finders != nil,
		finders:         cfg.Finders,
		coverage:        parser,
		runner:          testRunner,
		logger:          logger,
	}
}

// Thresholds returns the effective suggestion thresholds.
func (s *Service) Thresholds() analysis.Thresholds { return s.thresholds }

// DetectLanguage resolves the language of path, falling back to the
// configured default.
func (s *Service) DetectLanguage(path string) lang.Language {
	return lang.Detect(path, s.defaultLanguage)
}

// Close releases the cached language server handle.
func (s *Service) Close(ctx context.Context) error {
	s.finderMu.Lock()
	defer s.finderMu.Unlock()
	return s.dropFinderLocked(ctx)
}

// relatedFiles asks the cached finder for files related to sourceFile. A
// failing finder is dropped so the next call starts a fresh one.
func (s *Service) relatedFiles(ctx context.Context, root string, language lang.Language, sourceFile string) ([]string, error) {
	if !s.lspEnabled {
		return []string{}, nil
	}
	s.finderMu.Lock()
	defer s.finderMu.Unlock()

	key := finderKey{root: root, language: language}
	if !s.finderOpen || s.finderKey != key {
		if err := s.dropFinderLocked(ctx); err != nil {
			s.logger.Warn("bridge.finder.close_failed", "root", s.finderKey.root, "error", err)
		}
		finder, err := s.finders(ctx, root, language)
		if err != nil {
			return nil, fmt.Errorf("start language server for %s: %w", language, err)
		}
		if finder == nil {
			return nil, fmt.Errorf("start language server for %s: no handle returned", language)
		}
		s.finder, s.finderKey, s.finderOpen = finder, key, true
		s.logger.Info("bridge.finder.started", "root", root, "language", language.String())
	}

	files, err := s.finder.RelatedFiles(ctx, sourceFile)
	if err != nil {
		if dropErr := s.dropFinderLocked(ctx); dropErr != nil {
			s.logger.Debug("bridge.finder.close_failed", "error", dropErr)
		}
		return nil, fmt.Errorf("find related files: %w", err)
	}
	if files == nil {
		files = []string{}
	}
	return files, nil
}

func (s *Service) dropFinderLocked(ctx context.Context) error {
	if !s.finderOpen {
		return nil
	}
	finder := s.finder
	s.finder, s.finderKey, s.finderOpen = nil, finderKey{}, false
	return finder.Close(ctx)
}

// resolve makes path absolute, interpreting relative paths against root.
func resolve(root, path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) && root != "" {
		path = filepath.Join(root, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// resolveRoot returns the absolute project root, defaulting to the directory
// of file.
func resolveRoot(root, file string) string {
	root = strings.TrimSpace(root)
	if root == "" {
		if file == "" {
			root = "."
		} else {
			root = filepath.Dir(file)
		}
	}
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return filepath.Clean(root)
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", opErrorf(err, "File %s does not exist", path)
		}
		return "", opErrorf(err, "Failed to read %s: %v", path, err)
	}
	return string(data), nil
}
