package analysis

import (
	"strings"

	"pkt.systems/coverbridge/internal/lang"
)

// LineSnippet is a line number with its trimmed content.
type LineSnippet struct {
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// UncoveredAnalysis triages the uncovered lines of a source file.
type UncoveredAnalysis struct {
	UncoveredLines []LineSnippet `json:"uncovered_lines"`
	TotalUncovered int           `json:"total_uncovered"`
	CriticalLines  []LineSnippet `json:"critical_lines"`
}

// AnalyzeUncovered resolves uncovered line numbers against content. Blank
// lines, comment lines and line numbers outside the file are dropped from the
// snippet list but still count towards TotalUncovered.
func AnalyzeUncovered(content string, uncovered []int, language lang.Language) UncoveredAnalysis {
	rules := rulesFor(language)
	lines := splitLines(content)
	out := UncoveredAnalysis{
		UncoveredLines: make([]LineSnippet, 0, len(uncovered)),
		TotalUncovered: len(uncovered),
		CriticalLines:  make([]LineSnippet, 0),
	}
	for _, n := range uncovered {
		if n <= 0 || n > len(lines) {
			continue
		}
		text := strings.TrimSpace(lines[n-1])
		if text == "" || rules.isComment(text) {
			continue
		}
		snippet := LineSnippet{Line: n, Content: text}
		out.UncoveredLines = append(out.UncoveredLines, snippet)
		if rules.isCritical(text) {
			out.CriticalLines = append(out.CriticalLines, snippet)
		}
	}
	return out
}

// IsCriticalLine reports whether a trimmed line matches the critical pattern
// table of language.
func IsCriticalLine(line string, language lang.Language) bool {
	return rulesFor(language).isCritical(line)
}

func (r *ruleSet) isCritical(line string) bool {
	for _, pattern := range r.critical {
		if strings.Contains(line, pattern) {
			return true
		}
	}
	return false
}

func (r *ruleSet) isComment(line string) bool {
	if line == "*" && r.commentPrefixes[0] == "//" {
		return true
	}
	for _, prefix := range r.commentPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// TestQuality holds basic line counts for a test file.
type TestQuality struct {
	TotalLines   int     `json:"total_lines"`
	CodeLines    int     `json:"code_lines"`
	CommentLines int     `json:"comment_lines"`
	EmptyLines   int     `json:"empty_lines"`
	TestDensity  float64 `json:"test_density"`
}

// MeasureTestQuality counts code, comment and empty lines of a test file.
// TestDensity is code lines over total lines, zero for empty input.
func MeasureTestQuality(content string, language lang.Language) TestQuality {
	rules := rulesFor(language)
	lines := splitLines(content)
	q := TestQuality{TotalLines: len(lines)}
	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		switch {
		case stripped == "":
			q.EmptyLines++
		case rules.isComment(stripped):
			q.CommentLines++
		}
	}
	q.CodeLines = q.TotalLines - q.CommentLines - q.EmptyLines
	if q.TotalLines > 0 {
		q.TestDensity = float64(q.CodeLines) / float64(q.TotalLines)
	}
	return q
}
