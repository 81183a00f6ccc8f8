package analysis

import (
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/coverbridge/internal/lang"
)

// FindSourceForTest guesses the source file exercised by testFile. Name
// candidates come from the test file stem with the usual test prefixes and
// suffixes removed. They are searched, in order, in the test directory's
// parent, the test directory itself, the mirrored main tree of a
// src/test layout, projectRoot and projectRoot/src. An empty string means no
// candidate exists.
func FindSourceForTest(testFile, projectRoot string, language lang.Language) string {
	testFile = filepath.Clean(testFile)
	stem := strings.TrimSuffix(filepath.Base(testFile), filepath.Ext(testFile))
	names := sourceNameCandidates(stem)
	if len(names) == 0 {
		return ""
	}

	testDir := filepath.Dir(testFile)
	dirs := []string{filepath.Dir(testDir), testDir}
	if filepath.Base(testDir) == "__tests__" {
		dirs = append([]string{filepath.Dir(testDir)}, dirs...)
	}
	if mirrored, ok := mirrorMainTree(testDir); ok {
		dirs = append(dirs, mirrored)
	}
	if root := strings.TrimSpace(projectRoot); root != "" {
		dirs = append(dirs, filepath.Clean(root), filepath.Join(root, "src"))
	}

	exts := language.SourceExtensions()
	seen := make(map[string]struct{})
	for _, dir := range dirs {
		if _, dup := seen[dir]; dup {
			continue
		}
		seen[dir] = struct{}{}
		for _, name := range names {
			for _, ext := range exts {
				candidate := filepath.Join(dir, name+ext)
				if candidate == testFile {
					continue
				}
				if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
					return candidate
				}
			}
		}
	}
	return ""
}

func sourceNameCandidates(stem string) []string {
	raw := []string{
		strings.TrimPrefix(stem, "test_"),
		strings.TrimSuffix(stem, "_test"),
		strings.TrimSuffix(strings.TrimSuffix(stem, ".test"), ".spec"),
		strings.TrimSuffix(strings.TrimSuffix(stem, "Tests"), "Test"),
		strings.TrimSuffix(stem, "IT"),
		strings.TrimPrefix(stem, "Test"),
		strings.ReplaceAll(strings.TrimPrefix(stem, "test_"), "Test", ""),
	}
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, name := range raw {
		if name == "" || name == stem {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// mirrorMainTree maps .../src/test/<lang>/pkg to .../src/main/<lang>/pkg.
func mirrorMainTree(dir string) (string, bool) {
	sep := string(filepath.Separator)
	marker := sep + "src" + sep + "test" + sep
	slashed := dir + sep
	idx := strings.LastIndex(slashed, marker)
	if idx < 0 {
		return "", false
	}
	mirrored := slashed[:idx] + sep + "src" + sep + "main" + sep + slashed[idx+len(marker):]
	return filepath.Clean(mirrored), true
}
