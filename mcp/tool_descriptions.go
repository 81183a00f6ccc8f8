package mcp

import (
	"fmt"
	"strings"
)

const (
	toolAnalyzeCodeContext       = "analyze_code_context"
	toolGetCoverageGaps          = "get_coverage_gaps"
	toolAnalyzeTestStructure     = "analyze_test_structure"
	toolGetTestGenerationContext = "get_test_generation_context"
	toolValidateTestCoverage     = "validate_test_coverage"
	toolBuildTestPrompt          = "build_test_prompt"
)

// ToolNames lists every registered tool in registration order.
var ToolNames = []string{
	toolAnalyzeCodeContext,
	toolGetCoverageGaps,
	toolAnalyzeTestStructure,
	toolGetTestGenerationContext,
	toolValidateTestCoverage,
	toolBuildTestPrompt,
}

type toolContract struct {
	Top      []string
	Purpose  string
	UseWhen  string
	Requires string
	Effects  string
	Next     string
}

func formatToolDescription(spec toolContract) string {
	lines := make([]string, 0, len(spec.Top)+5)
	for _, line := range spec.Top {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	lines = append(lines,
		"Purpose: "+spec.Purpose,
		"Use when: "+spec.UseWhen,
		"Requires: "+spec.Requires,
		"Effects: "+spec.Effects,
	)
	if strings.Contains(spec.Next, "\n") {
		lines = append(lines, "Next:\n"+spec.Next)
	} else {
		lines = append(lines, "Next: "+spec.Next)
	}
	return strings.Join(lines, "\n")
}

const (
	payloadLine  = "RESULT: One text item holding a JSON object with a `status` of `success` or `error`; errors carry an `error` message."
	runsTestLine = "SIDE EFFECT: Runs the project's test command and rewrites its coverage report."
	rootLine     = "PATHS: Relative paths resolve against `project_root`; an empty `project_root` means the directory of the first file."
)

func buildToolDescriptions(cfg Config) map[string]string {
	lsp := "Related files come from the language server for the file's language."
	if !cfg.LSPEnabled {
		lsp = "Language server discovery is disabled on this server, so `context_files` is always empty."
	}

	return map[string]string{
		toolAnalyzeCodeContext: formatToolDescription(toolContract{
			Top:      []string{payloadLine, rootLine},
			Purpose:  "List the classes, functions and imports of a source file and the project files that reference it. " + lsp,
			UseWhen:  "You need to understand a source file before writing tests for it.",
			Requires: "`source_file`; optional `project_root`.",
			Effects:  "Read-only. May start a language server for the project.",
			Next:     "Call `get_coverage_gaps` to see which lines the current tests miss.",
		}),
		toolGetCoverageGaps: formatToolDescription(toolContract{
			Top:      []string{payloadLine, runsTestLine, rootLine},
			Purpose:  "Run the tests and report covered lines, uncovered lines and the uncovered lines that matter most.",
			UseWhen:  "You want to know what the existing tests do not exercise.",
			Requires: "`source_file` and `test_file`; optional `project_root`.",
			Effects:  "Executes the configured test runner in `project_root`.",
			Next:     "Target `uncovered_analysis.critical_lines` first.",
		}),
		toolAnalyzeTestStructure: formatToolDescription(toolContract{
			Top:      []string{payloadLine, rootLine},
			Purpose:  "List the test classes and test functions of a test file and locate the source file it exercises.",
			UseWhen:  "You are about to extend an existing test file and want to follow its layout.",
			Requires: "`test_file`; optional `project_root`.",
			Effects:  "Read-only.",
			Next:     "Call `get_test_generation_context` for a combined view.",
		}),
		toolGetTestGenerationContext: formatToolDescription(toolContract{
			Top:      []string{payloadLine, runsTestLine, rootLine},
			Purpose:  "Combine code context, coverage gaps and test structure with guidance on what to test next.",
			UseWhen:  "You are starting to write tests for a source file.",
			Requires: "`source_file` and `test_file`; optional `project_root`.",
			Effects:  "Same as `analyze_code_context`, `get_coverage_gaps` and `analyze_test_structure` run in sequence. A failing part is embedded as its own error object.",
			Next: strings.Join([]string{
				"- Write tests following `generation_guidance`.",
				"- Then call `validate_test_coverage`.",
			}, "\n"),
		}),
		toolValidateTestCoverage: formatToolDescription(toolContract{
			Top:      []string{payloadLine, runsTestLine, rootLine},
			Purpose:  "Re-run coverage and score the test file by code, comment and empty line counts.",
			UseWhen:  "You have written or changed tests and want to check the result.",
			Requires: "`source_file` and `test_file`; optional `project_root`.",
			Effects:  "Executes the configured test runner in `project_root`.",
			Next:     "Follow `improvement_suggestions` and validate again.",
		}),
		toolBuildTestPrompt: formatToolDescription(toolContract{
			Top:      []string{payloadLine, runsTestLine, rootLine},
			Purpose:  "Render the test generation context into a markdown prompt with a numbered source excerpt.",
			UseWhen:  "You want a single self-contained prompt for writing tests.",
			Requires: "`source_file` and `test_file`; optional `project_root`.",
			Effects:  fmt.Sprintf("Same as `%s`.", toolGetTestGenerationContext),
			Next:     "Write the tests the prompt asks for, then call `validate_test_coverage`.",
		}),
	}
}

func defaultServerInstructions(cfg Config) string {
	lines := []string{
		"coverbridge analyses source files, test files and coverage reports to help write tests.",
		"Start with `get_test_generation_context` for a source file and its test file, write tests, then check them with `validate_test_coverage`.",
		"Every tool returns JSON with a `status` field; read the `error` field when status is `error`.",
	}
	if !cfg.LSPEnabled {
		lines = append(lines, "Language server discovery is disabled; related files are not reported.")
	}
	return strings.Join(lines, "\n")
}
