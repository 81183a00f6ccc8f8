package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/coverbridge/internal/coverage"
	"pkt.systems/coverbridge/internal/lang"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func newTestRunner(command, report string, timeout time.Duration) *Runner {
	return New(Config{
		Profiles: map[lang.Language]Profile{
			lang.Python: {Command: command, Report: report},
		},
		Timeout: timeout,
	})
}

func TestRunWritesReport(t *testing.T) {
	t.Parallel()
	requireShell(t)

	root := t.TempDir()
	var observed atomic.Int32
	r := New(Config{
		Profiles: map[lang.Language]Profile{
			lang.Python: {Command: `sh -c 'echo "<coverage/>" > {report_path}; echo ran {test_file}'`},
		},
		Observe: func(context.Context, lang.Language, time.Duration, error) { observed.Add(1) },
	})
	res, err := r.Run(context.Background(), Request{
		Language:    lang.Python,
		ProjectRoot: root,
		SourceFile:  filepath.Join(root, "calc.py"),
		TestFile:    filepath.Join(root, "tests", "test_calc.py"),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ReportPath != filepath.Join(root, "coverage.xml") {
		t.Fatalf("unexpected report path %q", res.ReportPath)
	}
	if res.Format != coverage.FormatCobertura {
		t.Fatalf("expected default cobertura format, got %q", res.Format)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, "test_calc.py") {
		t.Fatalf("expected expanded test file in stdout, got %q", res.Stdout)
	}
	if _, err := os.Stat(res.ReportPath); err != nil {
		t.Fatalf("report missing: %v", err)
	}
	if observed.Load() != 1 {
		t.Fatalf("expected one observation, got %d", observed.Load())
	}
}

func TestRunFailingCommand(t *testing.T) {
	t.Parallel()
	requireShell(t)

	r := newTestRunner(`sh -c 'echo boom >&2; exit 3'`, "", 0)
	res, err := r.Run(context.Background(), Request{Language: lang.Python, ProjectRoot: t.TempDir()})
	if !errors.Is(err, ErrTestsFailed) {
		t.Fatalf("expected ErrTestsFailed, got %v", err)
	}
	var failure *FailureError
	if !errors.As(err, &failure) {
		t.Fatalf("expected FailureError, got %T", err)
	}
	if failure.ExitCode != 3 || res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d/%d", failure.ExitCode, res.ExitCode)
	}
	if strings.TrimSpace(failure.Stderr) != "boom" {
		t.Fatalf("expected stderr boom, got %q", failure.Stderr)
	}
}

func TestRunMissingCommand(t *testing.T) {
	t.Parallel()

	r := newTestRunner("coverbridge-no-such-binary --flag", "", 0)
	_, err := r.Run(context.Background(), Request{Language: lang.Python, ProjectRoot: t.TempDir()})
	if !errors.Is(err, ErrTestsFailed) {
		t.Fatalf("expected ErrTestsFailed for a missing binary, got %v", err)
	}
}

func TestRunReportMissing(t *testing.T) {
	t.Parallel()
	requireShell(t)

	r := newTestRunner("sh -c true", "out/report.xml", 0)
	_, err := r.Run(context.Background(), Request{Language: lang.Python, ProjectRoot: t.TempDir()})
	if !errors.Is(err, ErrReportMissing) {
		t.Fatalf("expected ErrReportMissing, got %v", err)
	}
}

func TestRunStaleReport(t *testing.T) {
	t.Parallel()
	requireShell(t)

	root := t.TempDir()
	stale := filepath.Join(root, "coverage.xml")
	if err := os.WriteFile(stale, []byte("<coverage/>"), 0o644); err != nil {
		t.Fatalf("write stale report: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	r := newTestRunner("sh -c true", "", 0)
	_, err := r.Run(context.Background(), Request{Language: lang.Python, ProjectRoot: root})
	if !errors.Is(err, ErrReportMissing) {
		t.Fatalf("expected stale report to be rejected, got %v", err)
	}

	r = newTestRunner(`sh -c 'echo "<coverage></coverage>" > coverage.xml'`, "", 0)
	if _, err := r.Run(context.Background(), Request{Language: lang.Python, ProjectRoot: root}); err != nil {
		t.Fatalf("expected rewritten report to be accepted, got %v", err)
	}
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()
	requireShell(t)

	r := newTestRunner("sleep 5", "", 50*time.Millisecond)
	start := time.Now()
	_, err := r.Run(context.Background(), Request{Language: lang.Python, ProjectRoot: t.TempDir()})
	if !errors.Is(err, ErrTestsFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline failure, got %v", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("timeout did not stop the command")
	}
}

func TestRunNoProfile(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}).Run(context.Background(), Request{Language: lang.Unknown, ProjectRoot: t.TempDir()})
	if !errors.Is(err, ErrNoProfile) {
		t.Fatalf("expected ErrNoProfile, got %v", err)
	}
}

func TestProfileOverridesKeepDefaults(t *testing.T) {
	t.Parallel()

	r := New(Config{Profiles: map[lang.Language]Profile{lang.Go: {Command: "go test -count=1 -coverprofile={report_path} ./..."}}})
	p, ok := r.Profile(lang.Go)
	if !ok {
		t.Fatalf("expected go profile")
	}
	if p.Report != "coverage.out" || p.Format != coverage.FormatGoCover {
		t.Fatalf("expected default report and format to survive, got %+v", p)
	}
	if !strings.Contains(p.Command, "-count=1") {
		t.Fatalf("expected overridden command, got %q", p.Command)
	}
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	root := filepath.FromSlash("/work/proj")
	vars := placeholders(root, Request{
		SourceFile: filepath.FromSlash("/work/proj/calc/calc.go"),
		TestFile:   filepath.FromSlash("/work/proj/calc/calc_test.go"),
	})
	if vars["test_pkg"] != "./calc" {
		t.Fatalf("expected ./calc, got %q", vars["test_pkg"])
	}
	if vars["test_dir"] != filepath.FromSlash("/work/proj/calc") {
		t.Fatalf("unexpected test dir %q", vars["test_dir"])
	}
	vars = placeholders(root, Request{TestFile: filepath.FromSlash("/elsewhere/x_test.go")})
	if vars["test_pkg"] != "./..." {
		t.Fatalf("expected fallback package pattern, got %q", vars["test_pkg"])
	}

	got := Expand("go test {test_pkg} -run {unknown}", vars)
	if got != "go test ./... -run {unknown}" {
		t.Fatalf("unexpected expansion %q", got)
	}
}

func TestCappedBuffer(t *testing.T) {
	t.Parallel()

	b := newCappedBuffer(4)
	if n, err := b.Write([]byte("abcdef")); n != 6 || err != nil {
		t.Fatalf("write returned %d, %v", n, err)
	}
	if _, err := b.Write([]byte("gh")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := b.String(); got != "abcd\n[output truncated]" {
		t.Fatalf("unexpected buffer %q", got)
	}
}
