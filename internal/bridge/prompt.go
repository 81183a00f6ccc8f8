package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"pkt.systems/coverbridge/internal/lang"
)

// maxExcerptLines caps the numbered source excerpt embedded in prompts.
const maxExcerptLines = 200

// TestPrompt is the result of BuildTestPrompt.
type TestPrompt struct {
	Prompt        string `json:"prompt"`
	Language      string `json:"language"`
	TestFramework string `json:"test_framework"`
	SourceFile    string `json:"source_file"`
	TestFile      string `json:"test_file"`
	Status        string `json:"status"`
}

// BuildTestPrompt renders the generation context of sourceFile into a
// markdown prompt for writing tests in testFile.
func (s *Service) BuildTestPrompt(ctx context.Context, sourceFile, testFile, projectRoot string) (*TestPrompt, error) {
	root := resolveRoot(projectRoot, sourceFile)
	path := resolve(root, sourceFile)
	content, err := readText(path)
	if err != nil {
		return nil, err
	}
	gen, err := s.GetTestGenerationContext(ctx, sourceFile, testFile, projectRoot)
	if err != nil {
		return nil, err
	}
	language := s.DetectLanguage(path)
	return &TestPrompt{
		Prompt:        renderPrompt(gen, content, language),
		Language:      language.String(),
		TestFramework: language.TestFramework(),
		SourceFile:    sourceFile,
		TestFile:      testFile,
		Status:        StatusSuccess,
	}, nil
}

func renderPrompt(gen *GenerationContext, content string, language lang.Language) string {
	var b strings.Builder
	framework := language.TestFramework()

	fmt.Fprintf(&b, "# Write %s tests for %s\n\n", framework, filepath.Base(gen.SourceFile))
	fmt.Fprintf(&b, "Add tests to `%s` using %s. Only output test code.\n\n", gen.TestFile, framework)

	b.WriteString("## Source\n\n")
	fmt.Fprintf(&b, "```%s\n", language.String())
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	width := len(fmt.Sprint(min(len(lines), maxExcerptLines)))
	for i, line := range lines {
		if i == maxExcerptLines {
			fmt.Fprintf(&b, "... %d more lines\n", len(lines)-maxExcerptLines)
			break
		}
		fmt.Fprintf(&b, "%*d | %s\n", width, i+1, line)
	}
	b.WriteString("```\n")

	if gen.gaps != nil {
		fmt.Fprintf(&b, "\n## Coverage\n\nCurrent line coverage is %.1f%% with %d uncovered lines.\n",
			gen.gaps.CoveragePercentage, gen.gaps.UncoveredAnalysis.TotalUncovered)
		writeList(&b, "Critical uncovered lines", gen.GenerationGuidance.FocusAreas)
	} else if rec, ok := gen.CoverageGaps.(ErrorRecord); ok {
		fmt.Fprintf(&b, "\n## Coverage\n\nCoverage could not be measured: %s\n", rec.Error)
	}

	if gen.tests != nil {
		names := make([]string, 0, gen.tests.TestAnalysis.TotalTests)
		for _, tc := range gen.tests.TestAnalysis.TestClasses {
			names = append(names, fmt.Sprintf("%s (line %d)", tc.Name, tc.Line))
		}
		for _, tc := range gen.tests.TestAnalysis.TestFunctions {
			names = append(names, fmt.Sprintf("%s (line %d)", tc.Name, tc.Line))
		}
		writeList(&b, "Existing tests", names)
	}
	if gen.code != nil && len(gen.code.ContextFiles) > 0 {
		writeList(&b, "Related files", gen.code.ContextFiles)
	}
	writeList(&b, "Priorities", gen.GenerationGuidance.TestPriorities)
	writeList(&b, "Approach", gen.GenerationGuidance.SuggestedApproaches)
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
