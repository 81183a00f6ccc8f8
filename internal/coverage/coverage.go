// Package coverage parses test coverage reports into per-file line sets.
//
// Four report formats are understood: Cobertura XML (coverage.py, istanbul),
// JaCoCo XML, LCOV tracefiles and Go coverprofiles. Report entries are matched
// against the requested source file after resolving them against the project
// root, the report's own source directories or the Go module path. When no
// entry resolves to the source file, the longest shared path suffix on a
// component boundary decides.
package coverage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"
)

// Format names a coverage report format.
type Format string

const (
	FormatCobertura Format = "cobertura"
	FormatJaCoCo    Format = "jacoco"
	FormatLCOV      Format = "lcov"
	FormatGoCover   Format = "gocover"
)

var (
	// ErrUnsupportedFormat is returned for a format this package cannot read.
	ErrUnsupportedFormat = errors.New("coverage: unsupported report format")
	// ErrFileNotInReport is returned when no report entry matches the source file.
	ErrFileNotInReport = errors.New("coverage: source file not found in report")
	// ErrAmbiguousFile is returned when equally good report entries match the
	// source file.
	ErrAmbiguousFile = errors.New("coverage: source file matches several report entries")
)

// ParseFormat normalises a configured format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatCobertura, FormatJaCoCo, FormatLCOV, FormatGoCover:
		return f, nil
	case "xml", "coverage.py":
		return FormatCobertura, nil
	case "gocoverprofile", "coverprofile", "go":
		return FormatGoCover, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// Report is the coverage of one source file.
type Report struct {
	Covered    []int
	Uncovered  []int
	Percentage float64
}

// Request names a report and the source file to extract from it.
type Request struct {
	ReportPath string
	SourceFile string
	// ProjectRoot anchors relative report paths. Defaults to the directory
	// of ReportPath.
	ProjectRoot string
	Format      Format
}

// Parser reads a report and extracts the coverage of one source file.
type Parser interface {
	Parse(ctx context.Context, req Request) (Report, error)
}

// FileParser is the default Parser reading reports from the local filesystem.
type FileParser struct{}

// NewParser returns the default Parser.
func NewParser() *FileParser {
	return &FileParser{}
}

// Parse implements Parser.
func (p *FileParser) Parse(ctx context.Context, req Request) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	data, err := os.ReadFile(req.ReportPath)
	if err != nil {
		return Report{}, fmt.Errorf("coverage: read report: %w", err)
	}
	root := req.ProjectRoot
	if root == "" {
		root = filepath.Dir(req.ReportPath)
	}
	var files fileLines
	r := resolver{root: root}
	switch req.Format {
	case FormatCobertura:
		files, r.dirs, err = parseCobertura(data)
	case FormatJaCoCo:
		files, err = parseJaCoCo(data)
	case FormatLCOV:
		files, err = parseLCOV(data)
	case FormatGoCover:
		files, err = parseGoCover(data)
		r.module = goModulePath(root)
	default:
		return Report{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}
	if err != nil {
		return Report{}, err
	}
	lines, err := files.selectFile(req.SourceFile, r)
	if err != nil {
		return Report{}, err
	}
	return newReport(lines), nil
}

// newReport folds per-line hit state into sorted line sets. A line marked
// covered by any entry stays covered.
func newReport(lines map[int]bool) Report {
	r := Report{Covered: make([]int, 0), Uncovered: make([]int, 0)}
	for line, hit := range lines {
		if hit {
			r.Covered = append(r.Covered, line)
		} else {
			r.Uncovered = append(r.Uncovered, line)
		}
	}
	sort.Ints(r.Covered)
	sort.Ints(r.Uncovered)
	r.Percentage = Percentage(len(r.Covered), len(r.Uncovered))
	return r
}

// Percentage returns covered/(covered+uncovered) scaled to [0, 100].
func Percentage(covered, uncovered int) float64 {
	total := covered + uncovered
	if total <= 0 || covered <= 0 {
		return 0
	}
	pct := float64(covered) / float64(total) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

func mark(lines map[int]bool, line int, hit bool) {
	if line <= 0 {
		return
	}
	lines[line] = lines[line] || hit
}

// fileLines maps a report path to the hit state of each of its lines.
type fileLines map[string]map[int]bool

func (f fileLines) touch(path string) map[int]bool {
	lines, ok := f[path]
	if !ok {
		lines = make(map[int]bool)
		f[path] = lines
	}
	return lines
}

func (f fileLines) add(path string, line int, hit bool) {
	mark(f.touch(path), line, hit)
}

// selectFile returns the lines of the report entry for sourceFile. An entry
// resolving to sourceFile wins. Otherwise the entry sharing the longest
// trailing path wins, the shortest entry breaking ties. Entries are never
// merged, and entries whose base names differ never match.
func (f fileLines) selectFile(sourceFile string, r resolver) (map[int]bool, error) {
	target := filepath.Clean(sourceFile)
	var exact []string
	for entry := range f {
		if r.matches(entry, target) {
			exact = append(exact, entry)
		}
	}
	if len(exact) > 0 {
		// Several spellings of the same file name the same lines.
		out := make(map[int]bool)
		for _, entry := range exact {
			for line, hit := range f[entry] {
				mark(out, line, hit)
			}
		}
		return out, nil
	}

	best := 0
	var tied []string
	for entry := range f {
		score := suffixScore(entry, sourceFile)
		switch {
		case score == 0 || score < best:
		case score > best:
			best = score
			tied = append(tied[:0], entry)
		default:
			tied = append(tied, entry)
		}
	}
	if best == 0 {
		return nil, fmt.Errorf("%w: %s", ErrFileNotInReport, sourceFile)
	}
	sort.Slice(tied, func(i, j int) bool {
		a, b := len(splitComponents(tied[i])), len(splitComponents(tied[j]))
		if a != b {
			return a < b
		}
		return tied[i] < tied[j]
	})
	if len(tied) > 1 && len(splitComponents(tied[0])) == len(splitComponents(tied[1])) {
		return nil, fmt.Errorf("%w: %s matches %s and %s", ErrAmbiguousFile, sourceFile, tied[0], tied[1])
	}
	return f[tied[0]], nil
}

// resolver turns report entries into filesystem paths.
type resolver struct {
	root string
	// dirs are the directories relative entries were recorded against.
	dirs []string
	// module is the Go module path that maps onto root.
	module string
}

func (r resolver) matches(entry, target string) bool {
	for _, candidate := range r.candidates(entry) {
		if candidate == target {
			return true
		}
	}
	return false
}

func (r resolver) candidates(entry string) []string {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}
	if filepath.IsAbs(entry) {
		return []string{filepath.Clean(entry)}
	}
	var out []string
	if r.module != "" {
		if rel, ok := strings.CutPrefix(filepath.ToSlash(entry), r.module+"/"); ok {
			out = append(out, filepath.Join(r.root, filepath.FromSlash(rel)))
		}
	}
	for _, dir := range r.dirs {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(r.root, dir)
		}
		out = append(out, filepath.Join(dir, entry))
	}
	if r.root != "" {
		out = append(out, filepath.Join(r.root, entry))
	}
	return out
}

// goModulePath reads the module path declared in root/go.mod.
func goModulePath(root string) string {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return ""
	}
	return modfile.ModulePath(data)
}

// suffixScore counts the trailing path components reportPath and sourceFile
// have in common.
func suffixScore(reportPath, sourceFile string) int {
	a := splitComponents(reportPath)
	b := splitComponents(sourceFile)
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}

func splitComponents(p string) []string {
	p = filepath.ToSlash(filepath.Clean(strings.TrimSpace(p)))
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		out = append(out, part)
	}
	return out
}
