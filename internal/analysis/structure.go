// Package analysis implements the line-oriented heuristics the bridge applies
// to source and test files: structure summaries, test inventories, uncovered
// line triage, test quality counts and the suggestion text derived from them.
//
// The heuristics are approximate by nature. They are keyed by the language tag
// of the file and never fail: malformed input yields fewer matches.
package analysis

import (
	"context"
	"path/filepath"
	"strings"

	"pkt.systems/coverbridge/internal/lang"
)

// Engine selects how structure is extracted.
type Engine string

const (
	// EngineRegex matches trimmed lines against per-language pattern tables.
	EngineRegex Engine = "regex"
	// EngineSyntax walks a tree-sitter parse tree and falls back to
	// EngineRegex when no grammar is available or parsing fails.
	EngineSyntax Engine = "syntax"
)

// ParseEngine normalises a configured engine name.
func ParseEngine(name string) (Engine, bool) {
	switch Engine(strings.ToLower(strings.TrimSpace(name))) {
	case "", EngineRegex:
		return EngineRegex, true
	case EngineSyntax, "treesitter", "tree-sitter":
		return EngineSyntax, true
	}
	return "", false
}

// Symbol is a line-numbered class or function occurrence.
type Symbol struct {
	Line    int    `json:"line"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Import is a line-numbered import statement.
type Import struct {
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// FileStructure summarises a source file.
type FileStructure struct {
	TotalLines int      `json:"total_lines"`
	Classes    []Symbol `json:"classes"`
	Functions  []Symbol `json:"functions"`
	Imports    []Import `json:"imports"`
	FileType   string   `json:"file_type"`
}

// Analyzer runs structure extraction with the configured engine.
type Analyzer struct {
	engine Engine
}

// New returns an Analyzer for engine. Unknown engines behave like EngineRegex.
func New(engine Engine) *Analyzer {
	if engine != EngineSyntax {
		engine = EngineRegex
	}
	return &Analyzer{engine: engine}
}

// Engine reports the configured engine.
func (a *Analyzer) Engine() Engine {
	if a == nil {
		return EngineRegex
	}
	return a.engine
}

// FileStructure extracts classes, functions and imports from content.
func (a *Analyzer) FileStructure(ctx context.Context, content, path string, language lang.Language) FileStructure {
	if a.Engine() == EngineSyntax {
		if fs, ok := syntaxStructure(ctx, content, path, language); ok {
			return fs
		}
	}
	return regexStructure(content, path, language)
}

func newFileStructure(lines []string, path string) FileStructure {
	return FileStructure{
		TotalLines: len(lines),
		Classes:    make([]Symbol, 0),
		Functions:  make([]Symbol, 0),
		Imports:    make([]Import, 0),
		FileType:   filepath.Ext(path),
	}
}

func regexStructure(content, path string, language lang.Language) FileStructure {
	rules := rulesFor(language)
	lines := splitLines(content)
	fs := newFileStructure(lines, path)

	inImportBlock := false
	for i, line := range lines {
		n := i + 1
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		if inImportBlock {
			if strings.HasPrefix(stripped, ")") {
				inImportBlock = false
				continue
			}
			if rules.importInBlock.MatchString(stripped) {
				fs.Imports = append(fs.Imports, Import{Line: n, Content: stripped})
			}
			continue
		}
		if rules.importBlock != nil && rules.importBlock.MatchString(stripped) {
			inImportBlock = true
			continue
		}
		if _, ok := rules.match(rules.imports, stripped); ok {
			fs.Imports = append(fs.Imports, Import{Line: n, Content: stripped})
			continue
		}
		if name, ok := rules.match(rules.classes, stripped); ok {
			fs.Classes = append(fs.Classes, Symbol{Line: n, Name: name, Content: stripped})
			continue
		}
		if name, ok := rules.match(rules.functions, stripped); ok {
			fs.Functions = append(fs.Functions, Symbol{Line: n, Name: name, Content: stripped})
		}
	}
	return fs
}

func splitLines(content string) []string {
	return strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
}
