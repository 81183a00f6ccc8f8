package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"pkt.systems/coverbridge/internal/lang"
	"pkt.systems/coverbridge/internal/version"
	"pkt.systems/pslog"
)

func executeRootCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(pslog.NewStructured(io.Discard))
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// isolateConfig points the default config directory at an empty temp dir.
func isolateConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("COVERBRIDGE_CONFIG_DIR", dir)
	t.Setenv("COVERBRIDGE_CONFIG", "")
	return dir
}

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCommand(pslog.NewStructured(io.Discard))
	for _, name := range []string{"serve", "tools", "run", "config", "version"} {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected %s command to be registered", name)
		}
	}
	if flag := root.PersistentFlags().ShorthandLookup("c"); flag == nil || flag.Name != "config" {
		t.Fatalf("expected -c shorthand for --config, got %#v", flag)
	}
}

func TestVersionCommandPrintsCurrentVersion(t *testing.T) {
	isolateConfig(t)

	stdout, stderr, err := executeRootCommand(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if stderr != "" {
		t.Fatalf("expected empty stderr, got %q", stderr)
	}
	want := version.Module() + " " + version.Current() + "\n"
	if stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}

	stdout, _, err = executeRootCommand(t, "version", "--short")
	if err != nil {
		t.Fatalf("version --short failed: %v", err)
	}
	if stdout != version.Current()+"\n" {
		t.Fatalf("unexpected short version %q", stdout)
	}
}

func TestToolsCommandJSON(t *testing.T) {
	isolateConfig(t)

	stdout, _, err := executeRootCommand(t, "tools")
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	var payload struct {
		JSONRPC string `json:"jsonrpc"`
		Result  struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(stdout), &payload); err != nil {
		t.Fatalf("decode tools output: %v\n%s", err, stdout)
	}
	if payload.JSONRPC != "2.0" {
		t.Fatalf("unexpected jsonrpc %q", payload.JSONRPC)
	}
	if len(payload.Result.Tools) != 6 {
		t.Fatalf("expected 6 tools, got %d", len(payload.Result.Tools))
	}
}

func TestToolsCommandYAML(t *testing.T) {
	isolateConfig(t)

	stdout, _, err := executeRootCommand(t, "tools", "--format", "yaml")
	if err != nil {
		t.Fatalf("tools yaml: %v", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(stdout), &doc); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	result, ok := doc["result"].(map[string]any)
	if !ok {
		t.Fatalf("missing result in %v", doc)
	}
	tools, ok := result["tools"].([]any)
	if !ok || len(tools) != 6 {
		t.Fatalf("expected 6 tools, got %v", result["tools"])
	}

	if _, _, err := executeRootCommand(t, "tools", "--format", "toml"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestRunCommandUnknownTool(t *testing.T) {
	isolateConfig(t)

	_, _, err := executeRootCommand(t, "run", "write_tests_for_me")
	if err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Fatalf("expected unknown tool error, got %v", err)
	}
}

func TestRunCommandErrorRecord(t *testing.T) {
	isolateConfig(t)
	missing := filepath.Join(t.TempDir(), "missing.py")

	stdout, _, err := executeRootCommand(t, "run", "analyze_code_context", "--source-file", missing)
	if !errors.Is(err, errToolFailed) {
		t.Fatalf("expected errToolFailed, got %v", err)
	}
	var record map[string]string
	if err := json.Unmarshal([]byte(stdout), &record); err != nil {
		t.Fatalf("decode record: %v\n%s", err, stdout)
	}
	if record["status"] != "error" || !strings.Contains(record["error"], "does not exist") {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestRunCommandAnalyzeTestStructure(t *testing.T) {
	isolateConfig(t)
	root := t.TempDir()
	testFile := filepath.Join(root, "test_calc.py")
	content := "import unittest\n\nclass TestCalc(unittest.TestCase):\n    def test_add(self):\n        self.assertEqual(1 + 1, 2)\n"
	if err := os.WriteFile(testFile, []byte(content), 0o600); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	stdout, _, err := executeRootCommand(t, "run", "analyze_test_structure", "--test-file", testFile, "--project-root", root)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, stdout)
	}
	var payload struct {
		Status       string  `json:"status"`
		SourceFile   *string `json:"source_file"`
		TestAnalysis struct {
			TestFunctions []struct {
				Name string `json:"name"`
			} `json:"test_functions"`
		} `json:"test_analysis"`
	}
	if err := json.Unmarshal([]byte(stdout), &payload); err != nil {
		t.Fatalf("decode payload: %v\n%s", err, stdout)
	}
	if payload.Status != "success" {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if payload.SourceFile != nil {
		t.Fatalf("expected null source_file, got %q", *payload.SourceFile)
	}
	if len(payload.TestAnalysis.TestFunctions) != 1 || payload.TestAnalysis.TestFunctions[0].Name != "test_add" {
		t.Fatalf("unexpected test functions %+v", payload.TestAnalysis.TestFunctions)
	}
}

func TestBindConfigFromFile(t *testing.T) {
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
default_language: go
analysis:
  engine: syntax
thresholds:
  low_coverage: 70
  min_tests: 5
runner:
  timeout: 2m
  max_output: 64KiB
  python:
    command: pytest -q {test_file} --cov --cov-report=xml
    report: build/coverage.xml
    format: cobertura
lsp:
  enabled: true
  go:
    command: gopls serve
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	v := newViper()
	v.Set(keyConfig, path)
	if _, err := loadConfigFile(v); err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg, err := bindConfig(v)
	if err != nil {
		t.Fatalf("bind config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.DefaultLanguage != "go" || cfg.Engine != "syntax" {
		t.Fatalf("unexpected language/engine %q/%q", cfg.DefaultLanguage, cfg.Engine)
	}
	if cfg.LowCoverage != 70 || cfg.MinTests != 5 || cfg.TargetCoverage != 90 {
		t.Fatalf("unexpected thresholds %+v", cfg.Thresholds())
	}
	if cfg.RunnerTimeout.Minutes() != 2 || cfg.RunnerMaxOutput != 64*1024 {
		t.Fatalf("unexpected runner limits %v %d", cfg.RunnerTimeout, cfg.RunnerMaxOutput)
	}
	profiles, err := cfg.RunnerProfiles()
	if err != nil {
		t.Fatalf("profiles: %v", err)
	}
	if got := profiles[lang.Python]; got.Report != "build/coverage.xml" {
		t.Fatalf("unexpected python profile %+v", got)
	}
	if !cfg.LSPEnabled || cfg.LSPCommands["go"] != "gopls serve" {
		t.Fatalf("unexpected lsp config %v %v", cfg.LSPEnabled, cfg.LSPCommands)
	}
}

func TestBindConfigZeroThresholds(t *testing.T) {
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
thresholds:
  low_coverage: 0
  min_tests: 0
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	v := newViper()
	v.Set(keyConfig, path)
	if _, err := loadConfigFile(v); err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg, err := bindConfig(v)
	if err != nil {
		t.Fatalf("bind config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.LowCoverage != 0 || cfg.MinTests != 0 {
		t.Fatalf("expected zero thresholds from config file, got %+v", cfg.Thresholds())
	}
	if cfg.MinDensity != 0.7 || cfg.TargetCoverage != 90 {
		t.Fatalf("expected defaults for unset thresholds, got %+v", cfg.Thresholds())
	}
}

func TestBindConfigFromEnv(t *testing.T) {
	isolateConfig(t)
	t.Setenv("COVERBRIDGE_RUNNER_JAVA_COMMAND", "gradle test jacocoTestReport")
	t.Setenv("COVERBRIDGE_THRESHOLDS_TARGET_COVERAGE", "95")

	cfg, err := bindConfig(newViper())
	if err != nil {
		t.Fatalf("bind config: %v", err)
	}
	if cfg.TargetCoverage != 95 {
		t.Fatalf("expected target coverage from env, got %v", cfg.TargetCoverage)
	}
	if cfg.Runners["java"].Command != "gradle test jacocoTestReport" {
		t.Fatalf("expected java runner from env, got %+v", cfg.Runners)
	}
}

func TestLoadConfigFileMissingExplicit(t *testing.T) {
	isolateConfig(t)
	v := newViper()
	v.Set(keyConfig, filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := loadConfigFile(v); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
	if path, err := loadConfigFile(newViper()); err != nil || path != "" {
		t.Fatalf("expected absent default config to be ignored, got %q %v", path, err)
	}
}

func TestConfigGenWritesDefaults(t *testing.T) {
	dir := isolateConfig(t)
	out := filepath.Join(dir, "nested", "config.yaml")

	if _, _, err := executeRootCommand(t, "config", "gen", "--out", out); err != nil {
		t.Fatalf("config gen: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read generated config: %v", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode generated config: %v", err)
	}
	if doc["default_language"] != "python" {
		t.Fatalf("unexpected default_language %v", doc["default_language"])
	}
	runnerSection, ok := doc["runner"].(map[string]any)
	if !ok {
		t.Fatalf("missing runner section in %v", doc)
	}
	if _, ok := runnerSection["python"].(map[string]any); !ok {
		t.Fatalf("expected inline python runner profile, got %v", runnerSection)
	}

	if _, _, err := executeRootCommand(t, "config", "gen", "--out", out); err == nil {
		t.Fatal("expected error when config exists without --force")
	}
	if _, _, err := executeRootCommand(t, "config", "gen", "--out", out, "--force"); err != nil {
		t.Fatalf("config gen --force: %v", err)
	}
	if _, _, err := executeRootCommand(t, "config", "gen", "--out", out, "--stdout"); err == nil {
		t.Fatal("expected error for --out with --stdout")
	}
}
