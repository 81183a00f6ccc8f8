package bridge

import (
	"context"
	"errors"
	"os"
	"strings"

	"pkt.systems/coverbridge/internal/analysis"
	"pkt.systems/coverbridge/internal/coverage"
	"pkt.systems/coverbridge/internal/runner"
)

// CodeContext is the result of AnalyzeCodeContext.
type CodeContext struct {
	SourceFile   string                 `json:"source_file"`
	ContextFiles []string               `json:"context_files"`
	FileAnalysis analysis.FileStructure `json:"file_analysis"`
	ProjectRoot  string                 `json:"project_root"`
	Language     string                 `json:"language"`
	Status       string                 `json:"status"`
	Suggestions  []string               `json:"suggestions"`
}

// CoverageGaps is the result of GetCoverageGaps.
type CoverageGaps struct {
	CoveragePercentage float64                    `json:"coverage_percentage"`
	CoveredLines       []int                      `json:"covered_lines"`
	UncoveredLines     []int                      `json:"uncovered_lines"`
	UncoveredAnalysis  analysis.UncoveredAnalysis `json:"uncovered_analysis"`
	SourceFile         string                     `json:"source_file"`
	TestFile           string                     `json:"test_file"`
	Status             string                     `json:"status"`
	Suggestions        []string                   `json:"suggestions"`
}

// TestStructure is the result of AnalyzeTestStructure. SourceFile is nil when
// no source file could be located.
type TestStructure struct {
	TestFile     string                 `json:"test_file"`
	SourceFile   *string                `json:"source_file"`
	TestAnalysis analysis.TestStructure `json:"test_analysis"`
	ProjectRoot  string                 `json:"project_root"`
	Status       string                 `json:"status"`
	Suggestions  []string               `json:"suggestions"`
}

// ErrorRecord is the payload of a failed operation.
type ErrorRecord struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// NewErrorRecord converts err into an ErrorRecord. OpError messages are kept
// verbatim; other errors use their full text.
func NewErrorRecord(err error) ErrorRecord {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
		var op *OpError
		if errors.As(err, &op) && op.Msg != "" {
			msg = op.Msg
		}
	}
	if strings.TrimSpace(msg) == "" {
		msg = "unknown error"
	}
	return ErrorRecord{Status: StatusError, Error: msg}
}

// GenerationContext is the result of GetTestGenerationContext. Each embedded
// payload is either the sub-operation's result or its ErrorRecord.
type GenerationContext struct {
	SourceFile         string            `json:"source_file"`
	TestFile           string            `json:"test_file"`
	ProjectRoot        string            `json:"project_root"`
	CodeContext        any               `json:"code_context"`
	CoverageGaps       any               `json:"coverage_gaps"`
	TestStructure      any               `json:"test_structure"`
	GenerationGuidance analysis.Guidance `json:"generation_guidance"`
	Status             string            `json:"status"`

	code  *CodeContext
	gaps  *CoverageGaps
	tests *TestStructure
}

// CoverageValidation is the result of ValidateTestCoverage.
type CoverageValidation struct {
	CoverageAnalysis       *CoverageGaps        `json:"coverage_analysis"`
	TestQuality            analysis.TestQuality `json:"test_quality"`
	ImprovementSuggestions []string             `json:"improvement_suggestions"`
	Status                 string               `json:"status"`
}

// AnalyzeCodeContext summarises the structure of sourceFile and asks the
// language server for related files.
func (s *Service) AnalyzeCodeContext(ctx context.Context, sourceFile, projectRoot string) (*CodeContext, error) {
	root := resolveRoot(projectRoot, sourceFile)
	path := resolve(root, sourceFile)
	language := s.DetectLanguage(path)

	content, err := readText(path)
	if err != nil {
		return nil, err
	}
	related, err := s.relatedFiles(ctx, root, language, path)
	if err != nil {
		return nil, err
	}
	fs := s.analyzer.FileStructure(ctx, content, path, language)
	return &CodeContext{
		SourceFile:   sourceFile,
		ContextFiles: related,
		FileAnalysis: fs,
		ProjectRoot:  root,
		Language:     language.String(),
		Status:       StatusSuccess,
		Suggestions:  analysis.ContextSuggestions(fs, len(related)),
	}, nil
}

// GetCoverageGaps runs the tests of sourceFile, parses the resulting report
// and triages the uncovered lines.
func (s *Service) GetCoverageGaps(ctx context.Context, sourceFile, testFile, projectRoot string) (*CoverageGaps, error) {
	root := resolveRoot(projectRoot, sourceFile)
	path := resolve(root, sourceFile)
	testPath := resolve(root, testFile)
	language := s.DetectLanguage(path)

	s.runMu.Lock()
	res, err := s.runner.Run(ctx, runner.Request{
		Language:    language,
		ProjectRoot: root,
		SourceFile:  path,
		TestFile:    testPath,
	})
	s.runMu.Unlock()
	if err != nil {
		var failure *runner.FailureError
		switch {
		case errors.As(err, &failure):
			detail := strings.TrimSpace(failure.Stderr)
			if detail == "" && failure.Err != nil {
				detail = failure.Err.Error()
			}
			return nil, opErrorf(err, "Test execution failed: %s", detail)
		case errors.Is(err, runner.ErrReportMissing):
			return nil, opErrorf(err, "Coverage report not generated")
		}
		return nil, err
	}

	report, err := s.coverage.Parse(ctx, coverage.Request{
		ReportPath:  res.ReportPath,
		SourceFile:  path,
		ProjectRoot: root,
		Format:      res.Format,
	})
	if err != nil {
		return nil, err
	}
	content, err := readText(path)
	if err != nil {
		return nil, err
	}

	pct := clampPercentage(report.Percentage)
	ua := analysis.AnalyzeUncovered(content, report.Uncovered, language)
	return &CoverageGaps{
		CoveragePercentage: pct,
		CoveredLines:       nonNilInts(report.Covered),
		UncoveredLines:     nonNilInts(report.Uncovered),
		UncoveredAnalysis:  ua,
		SourceFile:         sourceFile,
		TestFile:           testFile,
		Status:             StatusSuccess,
		Suggestions:        analysis.CoverageSuggestions(ua, pct, s.thresholds),
	}, nil
}

// AnalyzeTestStructure inventories testFile and locates the source it tests.
func (s *Service) AnalyzeTestStructure(ctx context.Context, testFile, projectRoot string) (*TestStructure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root := resolveRoot(projectRoot, testFile)
	path := resolve(root, testFile)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, opErrorf(err, "Test file %s does not exist", testFile)
	}
	content, err := readText(path)
	if err != nil {
		return nil, err
	}
	language := s.DetectLanguage(path)
	ts := s.analyzer.TestStructure(content, path, language)

	var source *string
	if found := analysis.FindSourceForTest(path, root, language); found != "" {
		source = &found
	}
	return &TestStructure{
		TestFile:     testFile,
		SourceFile:   source,
		TestAnalysis: ts,
		ProjectRoot:  root,
		Status:       StatusSuccess,
		Suggestions:  analysis.TestStructureSuggestions(ts, s.thresholds),
	}, nil
}

// GetTestGenerationContext runs the three analyses in sequence and derives
// generation guidance from the ones that succeeded. Sub-operation failures
// stay visible inside the embedded payloads.
func (s *Service) GetTestGenerationContext(ctx context.Context, sourceFile, testFile, projectRoot string) (*GenerationContext, error) {
	out := &GenerationContext{
		SourceFile:  sourceFile,
		TestFile:    testFile,
		ProjectRoot: resolveRoot(projectRoot, sourceFile),
		Status:      StatusSuccess,
	}

	code, err := s.AnalyzeCodeContext(ctx, sourceFile, projectRoot)
	out.CodeContext, out.code = outcome(code, err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gaps, err := s.GetCoverageGaps(ctx, sourceFile, testFile, projectRoot)
	out.CoverageGaps, out.gaps = outcome(gaps, err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tests, err := s.AnalyzeTestStructure(ctx, testFile, projectRoot)
	out.TestStructure, out.tests = outcome(tests, err)

	in := analysis.GuidanceInput{
		TestFile:  testFile,
		Framework: s.DetectLanguage(sourceFile).TestFramework(),
	}
	if out.code != nil {
		in.Structure = &out.code.FileAnalysis
	}
	if out.gaps != nil {
		in.Uncovered = &out.gaps.UncoveredAnalysis
	}
	if out.tests != nil {
		in.Tests = &out.tests.TestAnalysis
	}
	out.GenerationGuidance = analysis.BuildGuidance(in)
	return out, nil
}

// ValidateTestCoverage combines a coverage run with line counts of the test
// file. A failed coverage run is returned unchanged.
func (s *Service) ValidateTestCoverage(ctx context.Context, sourceFile, testFile, projectRoot string) (*CoverageValidation, error) {
	gaps, err := s.GetCoverageGaps(ctx, sourceFile, testFile, projectRoot)
	if err != nil {
		return nil, err
	}
	root := resolveRoot(projectRoot, sourceFile)
	testPath := resolve(root, testFile)
	content, err := readText(testPath)
	if err != nil {
		return nil, err
	}
	quality := analysis.MeasureTestQuality(content, s.DetectLanguage(testPath))
	return &CoverageValidation{
		CoverageAnalysis:       gaps,
		TestQuality:            quality,
		ImprovementSuggestions: analysis.ImprovementSuggestions(gaps.CoveragePercentage, quality, s.thresholds),
		Status:                 StatusSuccess,
	}, nil
}

// outcome returns the payload to embed for a sub-operation together with the
// typed result when it succeeded.
func outcome[T any](v *T, err error) (any, *T) {
	if err != nil || v == nil {
		return NewErrorRecord(err), nil
	}
	return v, v
}

func clampPercentage(p float64) float64 {
	switch {
	case p != p || p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}
