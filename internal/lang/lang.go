// Package lang maps source files to the language tags that drive analysis
// rules, test runner profiles, coverage formats and language servers.
package lang

import (
	"path/filepath"
	"strings"
)

// Language is a file-extension-derived language tag.
type Language string

const (
	Unknown    Language = ""
	Python     Language = "python"
	Go         Language = "go"
	JavaScript Language = "javascript"
	TypeScript Language = "typescript"
	Java       Language = "java"
)

// All lists every supported language in a stable order.
var All = []Language{Python, Go, JavaScript, TypeScript, Java}

var byExtension = map[string]Language{
	".py":   Python,
	".go":   Go,
	".js":   JavaScript,
	".jsx":  JavaScript,
	".mjs":  JavaScript,
	".cjs":  JavaScript,
	".ts":   TypeScript,
	".tsx":  TypeScript,
	".java": Java,
}

// FromPath derives the language tag from the file extension. Unknown is
// returned when the extension is not recognised.
func FromPath(path string) Language {
	return byExtension[strings.ToLower(filepath.Ext(path))]
}

// Detect derives the language from path and falls back to def when the
// extension is unknown.
func Detect(path string, def Language) Language {
	if l := FromPath(path); l != Unknown {
		return l
	}
	return def
}

// Parse normalises a configured language name. The boolean is false for
// names outside the supported set.
func Parse(name string) (Language, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "python", "py":
		return Python, true
	case "go", "golang":
		return Go, true
	case "javascript", "js", "node":
		return JavaScript, true
	case "typescript", "ts":
		return TypeScript, true
	case "java":
		return Java, true
	}
	return Unknown, false
}

// String implements fmt.Stringer.
func (l Language) String() string {
	if l == Unknown {
		return "unknown"
	}
	return string(l)
}

// SourceExtensions returns the extensions searched when locating source
// files for this language, preferred extension first.
func (l Language) SourceExtensions() []string {
	switch l {
	case Python:
		return []string{".py"}
	case Go:
		return []string{".go"}
	case JavaScript:
		return []string{".js", ".jsx", ".mjs", ".cjs"}
	case TypeScript:
		return []string{".ts", ".tsx"}
	case Java:
		return []string{".java"}
	}
	return []string{".py", ".js", ".ts", ".java", ".go"}
}

// TestFramework names the framework the default runner profile drives.
func (l Language) TestFramework() string {
	switch l {
	case Python:
		return "pytest"
	case Go:
		return "go test"
	case JavaScript, TypeScript:
		return "jest"
	case Java:
		return "junit"
	}
	return ""
}

// LanguageID returns the LSP languageId used in textDocument/didOpen.
func (l Language) LanguageID() string {
	switch l {
	case JavaScript:
		return "javascript"
	case TypeScript:
		return "typescript"
	}
	return string(l)
}
