package analysis

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Thresholds tune when suggestions are emitted.
type Thresholds struct {
	// LowCoverage is the percentage under which coverage is reported as low.
	LowCoverage float64
	// TargetCoverage is the percentage validation asks callers to reach.
	TargetCoverage float64
	// MinDensity is the code-line ratio under which test density is flagged.
	MinDensity float64
	// MinTests is the test count under which a test file is considered thin.
	MinTests int
}

// DefaultThresholds returns the stock suggestion thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LowCoverage:    80,
		TargetCoverage: 90,
		MinDensity:     0.7,
		MinTests:       3,
	}
}

// ContextSuggestions summarises what a code-context analysis found.
func ContextSuggestions(fs FileStructure, contextFiles int) []string {
	out := make([]string, 0, 3)
	if n := len(fs.Classes); n > 0 {
		out = append(out, fmt.Sprintf("Found %d classes that need testing", n))
	}
	if n := len(fs.Functions); n > 0 {
		out = append(out, fmt.Sprintf("Found %d functions that need testing", n))
	}
	if contextFiles > 0 {
		out = append(out, fmt.Sprintf("Found %d related files for context", contextFiles))
	}
	return out
}

// CoverageSuggestions comments on a coverage percentage and its critical gaps.
func CoverageSuggestions(ua UncoveredAnalysis, percentage float64, th Thresholds) []string {
	out := make([]string, 0, 2)
	if percentage < th.LowCoverage {
		out = append(out, fmt.Sprintf("Coverage is low (%.1f%%). Focus on critical uncovered lines.", percentage))
	}
	if n := len(ua.CriticalLines); n > 0 {
		out = append(out, fmt.Sprintf("Found %d critical uncovered lines", n))
	}
	return out
}

// TestStructureSuggestions comments on the size of an existing test file.
func TestStructureSuggestions(ts TestStructure, th Thresholds) []string {
	out := make([]string, 0, 1)
	if ts.TotalTests < th.MinTests {
		out = append(out, "Very few tests found. Consider adding more comprehensive test cases.")
	}
	return out
}

// ImprovementSuggestions combines a coverage percentage with test quality.
func ImprovementSuggestions(percentage float64, q TestQuality, th Thresholds) []string {
	out := make([]string, 0, 2)
	if percentage < th.TargetCoverage {
		out = append(out, fmt.Sprintf("Increase coverage from %.1f%% to %.0f%%+", percentage, th.TargetCoverage))
	}
	if q.TestDensity < th.MinDensity {
		out = append(out, "Improve test density by adding more test cases")
	}
	return out
}

// Guidance steers test generation towards the gaps that matter.
type Guidance struct {
	FocusAreas          []string `json:"focus_areas"`
	TestPriorities      []string `json:"test_priorities"`
	SuggestedApproaches []string `json:"suggested_approaches"`
}

// GuidanceInput carries the parts of a generation context that succeeded.
// Nil members are skipped.
type GuidanceInput struct {
	Structure *FileStructure
	Uncovered *UncoveredAnalysis
	Tests     *TestStructure
	TestFile  string
	Framework string
}

// BuildGuidance derives focus areas from critical uncovered lines, priorities
// from the classes and functions of the source file, and approaches from the
// shape of the existing tests.
func BuildGuidance(in GuidanceInput) Guidance {
	g := Guidance{
		FocusAreas:          make([]string, 0),
		TestPriorities:      make([]string, 0),
		SuggestedApproaches: make([]string, 0),
	}
	if in.Uncovered != nil {
		for _, line := range in.Uncovered.CriticalLines {
			g.FocusAreas = append(g.FocusAreas, fmt.Sprintf("Line %d: %s", line.Line, line.Content))
		}
	}
	if in.Structure != nil {
		for _, cls := range in.Structure.Classes {
			g.TestPriorities = append(g.TestPriorities, "Test class: "+cls.Name)
		}
		for _, fn := range in.Structure.Functions {
			g.TestPriorities = append(g.TestPriorities, "Test function: "+fn.Name)
		}
	}

	if in.Tests != nil {
		base := filepath.Base(in.TestFile)
		if in.Tests.TotalTests > 0 {
			g.SuggestedApproaches = append(g.SuggestedApproaches,
				fmt.Sprintf("Extend %s, which already holds %d tests, and keep its naming style", base, in.Tests.TotalTests))
		} else if in.Framework != "" {
			g.SuggestedApproaches = append(g.SuggestedApproaches,
				fmt.Sprintf("Write the first %s tests in %s", in.Framework, base))
		}
		for _, cls := range in.Tests.TestClasses {
			g.SuggestedApproaches = append(g.SuggestedApproaches, "Add new cases to the existing test group "+cls.Name)
		}
	}
	if in.Uncovered != nil && hasErrorPath(in.Uncovered.CriticalLines) {
		g.SuggestedApproaches = append(g.SuggestedApproaches, "Exercise the uncovered error paths and assert on the raised errors")
	}
	if in.Structure != nil && len(in.Structure.Classes) > 0 {
		g.SuggestedApproaches = append(g.SuggestedApproaches, "Construct each class with minimal fixtures before exercising its methods")
	}
	return g
}

func hasErrorPath(lines []LineSnippet) bool {
	for _, line := range lines {
		for _, marker := range []string{"raise ", "throw ", "panic(", "except ", "catch", "errors.New(", "fmt.Errorf("} {
			if strings.Contains(line.Content, marker) {
				return true
			}
		}
	}
	return false
}
