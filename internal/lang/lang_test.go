package lang

import "testing"

func TestFromPath(t *testing.T) {
	t.Parallel()

	cases := map[string]Language{
		"pkg/module.py":        Python,
		"main.go":              Go,
		"src/App.JSX":          JavaScript,
		"lib/index.mjs":        JavaScript,
		"src/service.ts":       TypeScript,
		"src/view.tsx":         TypeScript,
		"src/main/Foo.java":    Java,
		"README.md":            Unknown,
		"Makefile":             Unknown,
		"/abs/path/to/test.py": Python,
	}
	for path, want := range cases {
		if got := FromPath(path); got != want {
			t.Fatalf("FromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestDetectFallsBackToDefault(t *testing.T) {
	t.Parallel()

	if got := Detect("notes.txt", Python); got != Python {
		t.Fatalf("expected python fallback, got %q", got)
	}
	if got := Detect("main.go", Python); got != Go {
		t.Fatalf("expected go, got %q", got)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"python", "PY", " golang ", "js", "ts", "java"} {
		if _, ok := Parse(name); !ok {
			t.Fatalf("expected %q to parse", name)
		}
	}
	if _, ok := Parse("cobol"); ok {
		t.Fatalf("expected cobol to be rejected")
	}
}

func TestUnknownString(t *testing.T) {
	t.Parallel()

	if Unknown.String() != "unknown" {
		t.Fatalf("expected unknown, got %q", Unknown.String())
	}
	if Java.LanguageID() != "java" {
		t.Fatalf("expected java language id, got %q", Java.LanguageID())
	}
}
