package mcp

import (
	"strings"
	"testing"
)

func TestBuildToolDescriptionsCoverage(t *testing.T) {
	t.Parallel()

	descriptions := buildToolDescriptions(Config{LSPEnabled: true})
	if len(descriptions) != len(ToolNames) {
		t.Fatalf("expected %d tool descriptions, got %d", len(ToolNames), len(descriptions))
	}
	for _, name := range ToolNames {
		description, ok := descriptions[name]
		if !ok {
			t.Fatalf("missing description for %s", name)
		}
		for _, section := range []string{"Purpose:", "Use when:", "Requires:", "Effects:", "Next:"} {
			if !strings.Contains(description, section) {
				t.Fatalf("description for %s missing %q:\n%s", name, section, description)
			}
		}
	}
}

func TestBuildToolDescriptionsMarkTestRuns(t *testing.T) {
	t.Parallel()

	descriptions := buildToolDescriptions(Config{})
	for name, runs := range map[string]bool{
		toolAnalyzeCodeContext:       false,
		toolAnalyzeTestStructure:     false,
		toolGetCoverageGaps:          true,
		toolGetTestGenerationContext: true,
		toolValidateTestCoverage:     true,
		toolBuildTestPrompt:          true,
	} {
		if got := strings.Contains(descriptions[name], runsTestLine); got != runs {
			t.Fatalf("%s: test-run marker present=%v, want %v", name, got, runs)
		}
	}
}

func TestBuildToolDescriptionsLSPDisabled(t *testing.T) {
	t.Parallel()

	disabled := buildToolDescriptions(Config{})[toolAnalyzeCodeContext]
	if !strings.Contains(disabled, "`context_files` is always empty") {
		t.Fatalf("expected disabled discovery note:\n%s", disabled)
	}
	enabled := buildToolDescriptions(Config{LSPEnabled: true})[toolAnalyzeCodeContext]
	if strings.Contains(enabled, "always empty") {
		t.Fatalf("unexpected disabled note with discovery on:\n%s", enabled)
	}
	if !strings.Contains(defaultServerInstructions(Config{}), "disabled") {
		t.Fatalf("expected instructions to mention disabled discovery")
	}
}
