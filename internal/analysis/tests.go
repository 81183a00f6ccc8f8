package analysis

import (
	"path/filepath"
	"strings"

	"pkt.systems/coverbridge/internal/lang"
)

// TestCase is a line-numbered test class or test function.
type TestCase struct {
	Line int    `json:"line"`
	Name string `json:"name"`
}

// TestStructure summarises an existing test file.
type TestStructure struct {
	TestClasses   []TestCase `json:"test_classes"`
	TestFunctions []TestCase `json:"test_functions"`
	TotalTests    int        `json:"total_tests"`
	FileType      string     `json:"file_type"`
}

// TestStructure inventories test classes and test functions in content.
func (a *Analyzer) TestStructure(content, path string, language lang.Language) TestStructure {
	rules := rulesFor(language)
	ts := TestStructure{
		TestClasses:   make([]TestCase, 0),
		TestFunctions: make([]TestCase, 0),
		FileType:      filepath.Ext(path),
	}

	pendingAnnotation := false
	for i, line := range splitLines(content) {
		n := i + 1
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		if rules.testAnnotation != "" && strings.HasPrefix(stripped, rules.testAnnotation) {
			pendingAnnotation = true
			continue
		}
		if name, ok := rules.match(rules.testClasses, stripped); ok {
			ts.TestClasses = append(ts.TestClasses, TestCase{Line: n, Name: name})
			pendingAnnotation = false
			continue
		}
		if pendingAnnotation {
			if m := javaAnnotatedTest.FindStringSubmatch(stripped); m != nil {
				ts.TestFunctions = append(ts.TestFunctions, TestCase{Line: n, Name: m[1]})
				pendingAnnotation = false
				continue
			}
			if !strings.HasPrefix(stripped, "@") {
				pendingAnnotation = false
			}
		}
		if name, ok := rules.match(rules.testFunctions, stripped); ok {
			ts.TestFunctions = append(ts.TestFunctions, TestCase{Line: n, Name: name})
		}
	}
	ts.TotalTests = len(ts.TestFunctions)
	return ts
}
