// Package runner executes language-specific test commands that produce a
// coverage report.
//
// Commands come from templates split with shell quoting rules and are run
// directly, without a shell, in the project root. A run only succeeds when the
// command exits cleanly and the coverage report was written during the run.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kballard/go-shellquote"
	"pkt.systems/pslog"

	"pkt.systems/coverbridge/internal/coverage"
	"pkt.systems/coverbridge/internal/lang"
	"pkt.systems/coverbridge/internal/svcfields"
)

var (
	// ErrTestsFailed marks a test command that exited unsuccessfully.
	ErrTestsFailed = errors.New("runner: test command failed")
	// ErrReportMissing marks a run that did not write its coverage report.
	ErrReportMissing = errors.New("runner: coverage report not generated")
	// ErrNoProfile is returned for a language without a runner profile.
	ErrNoProfile = errors.New("runner: no profile for language")
)

// DefaultMaxOutput bounds the captured stdout and stderr of one run.
const DefaultMaxOutput = 1 << 20

// Profile describes how to collect coverage for one language.
type Profile struct {
	// Command is the command template. See Expand for placeholders.
	Command string
	// Report is the report path, relative to the project root unless absolute.
	// It may use the same placeholders as Command.
	Report string
	// Format is the report format handed to the coverage parser.
	Format coverage.Format
}

// DefaultProfiles returns the stock profile of every supported language.
func DefaultProfiles() map[lang.Language]Profile {
	jest := Profile{
		Command: "npx jest {test_file} --coverage --coverageReporters=lcov",
		Report:  "coverage/lcov.info",
		Format:  coverage.FormatLCOV,
	}
	return map[lang.Language]Profile{
		lang.Python: {
			Command: "python -m pytest {test_file} --cov=. --cov-report=xml --cov-report=term",
			Report:  "coverage.xml",
			Format:  coverage.FormatCobertura,
		},
		lang.Go: {
			Command: "go test -coverprofile={report_path} {test_pkg}",
			Report:  "coverage.out",
			Format:  coverage.FormatGoCover,
		},
		lang.JavaScript: jest,
		lang.TypeScript: jest,
		lang.Java: {
			Command: "mvn -q test jacoco:report",
			Report:  "target/site/jacoco/jacoco.xml",
			Format:  coverage.FormatJaCoCo,
		},
	}
}

// Request names the files of one coverage run.
type Request struct {
	Language    lang.Language
	ProjectRoot string
	SourceFile  string
	TestFile    string
}

// Result describes a finished run.
type Result struct {
	Args       []string
	ReportPath string
	Format     coverage.Format
	ExitCode   int
	Stdout     string
	Stderr     string
	Duration   time.Duration
}

// FailureError carries the output of a test command that exited unsuccessfully.
type FailureError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *FailureError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("runner: test command exited with status %d", e.ExitCode)
	}
	return fmt.Sprintf("runner: test command failed: %v", e.Err)
}

// Is reports ErrTestsFailed.
func (e *FailureError) Is(target error) bool { return target == ErrTestsFailed }

func (e *FailureError) Unwrap() error { return e.Err }

// Config configures a Runner.
type Config struct {
	// Profiles overrides DefaultProfiles per language. Empty fields keep the
	// default value.
	Profiles map[lang.Language]Profile
	// Timeout bounds one run. Zero relies on the caller's context only.
	Timeout time.Duration
	// MaxOutput bounds captured stdout and stderr each. Zero selects
	// DefaultMaxOutput.
	MaxOutput int
	Logger    pslog.Logger
	// Observe, when set, is called after every run.
	Observe func(ctx context.Context, language lang.Language, d time.Duration, err error)
}

// Runner executes coverage runs.
type Runner struct {
	profiles  map[lang.Language]Profile
	timeout   time.Duration
	maxOutput int
	logger    pslog.Logger
	observe   func(context.Context, lang.Language, time.Duration, error)
}

// New builds a Runner from cfg.
func New(cfg Config) *Runner {
	profiles := DefaultProfiles()
	for language, override := range cfg.Profiles {
		p := profiles[language]
		if v := strings.TrimSpace(override.Command); v != "" {
			p.Command = v
		}
		if v := strings.TrimSpace(override.Report); v != "" {
			p.Report = v
		}
		if override.Format != "" {
			p.Format = override.Format
		}
		profiles[language] = p
	}
	maxOutput := cfg.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	return &Runner{
		profiles:  profiles,
		timeout:   cfg.Timeout,
		maxOutput: maxOutput,
		logger:    svcfields.WithSubsystem(cfg.Logger, svcfields.Runner),
		observe:   cfg.Observe,
	}
}

// Profile returns the effective profile for language.
func (r *Runner) Profile(language lang.Language) (Profile, bool) {
	p, ok := r.profiles[language]
	if !ok || strings.TrimSpace(p.Command) == "" {
		return Profile{}, false
	}
	return p, true
}

// Run executes the test command for req and verifies that it produced a
// fresh coverage report. Errors wrap ErrTestsFailed, ErrReportMissing or
// ErrNoProfile where they apply.
func (r *Runner) Run(ctx context.Context, req Request) (res Result, err error) {
	profile, ok := r.Profile(req.Language)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNoProfile, req.Language)
	}
	root := filepath.Clean(req.ProjectRoot)
	vars := placeholders(root, req)
	reportPath := Expand(profile.Report, vars)
	if !filepath.IsAbs(reportPath) {
		reportPath = filepath.Join(root, reportPath)
	}
	vars["report_path"] = reportPath

	args, err := shellquote.Split(profile.Command)
	if err != nil {
		return Result{}, fmt.Errorf("runner: parse command template: %w", err)
	}
	for i := range args {
		args[i] = Expand(args[i], vars)
	}
	if len(args) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrNoProfile, req.Language)
	}
	res = Result{Args: args, ReportPath: reportPath, Format: profile.Format, ExitCode: -1}

	before, statErr := os.Stat(reportPath)
	if statErr != nil {
		before = nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		if r.observe != nil {
			r.observe(ctx, req.Language, res.Duration, err)
		}
	}()

	r.logger.Info("runner.exec.start", "language", req.Language.String(), "command", shellquote.Join(args...), "dir", root)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = root
	stdout := newCappedBuffer(r.maxOutput)
	stderr := newCappedBuffer(r.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	runErr := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			runErr = ctxErr
		}
		r.logger.Warn("runner.exec.failed", "language", req.Language.String(), "exit_code", res.ExitCode, "error", runErr, "elapsed", time.Since(start).String())
		return res, &FailureError{ExitCode: res.ExitCode, Stderr: res.Stderr, Err: runErr}
	}

	after, err := os.Stat(reportPath)
	if err != nil || after.IsDir() {
		r.logger.Warn("runner.report.missing", "language", req.Language.String(), "report", reportPath)
		return res, fmt.Errorf("%w: %s", ErrReportMissing, reportPath)
	}
	if before != nil && after.ModTime().Equal(before.ModTime()) && after.Size() == before.Size() {
		r.logger.Warn("runner.report.stale", "language", req.Language.String(), "report", reportPath, "modified", after.ModTime())
		return res, fmt.Errorf("%w: %s was not rewritten", ErrReportMissing, reportPath)
	}
	r.logger.Info("runner.exec.done",
		"language", req.Language.String(),
		"report", reportPath,
		"report_size", strings.ReplaceAll(humanize.Bytes(uint64(after.Size())), " ", ""),
		"elapsed", time.Since(start).String(),
	)
	return res, nil
}

func placeholders(root string, req Request) map[string]string {
	vars := map[string]string{
		"project_root": root,
		"source_file":  req.SourceFile,
		"test_file":    req.TestFile,
		"test_dir":     "",
		"test_pkg":     "./...",
	}
	if req.TestFile != "" {
		testDir := filepath.Dir(req.TestFile)
		vars["test_dir"] = testDir
		if rel, err := filepath.Rel(root, testDir); err == nil && !strings.HasPrefix(rel, "..") {
			vars["test_pkg"] = "./" + filepath.ToSlash(rel)
		}
	}
	return vars
}

// Expand substitutes {name} placeholders in template. Unknown placeholders
// are left untouched. Known names are project_root, source_file, test_file,
// test_dir, test_pkg and report_path.
func Expand(template string, vars map[string]string) string {
	if !strings.Contains(template, "{") {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// cappedBuffer keeps the first limit bytes written to it and discards the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
