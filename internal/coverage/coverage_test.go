package coverage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const coberturaFixture = `<?xml version="1.0" ?>
<coverage version="7.4.0" line-rate="0.6">
	<sources>
		<source>/work/proj</source>
	</sources>
	<packages>
		<package name="pkg" line-rate="0.6">
			<classes>
				<class name="calc.py" filename="pkg/calc.py" line-rate="0.6">
					<methods/>
					<lines>
						<line number="1" hits="1"/>
						<line number="2" hits="1"/>
						<line number="4" hits="0"/>
						<line number="5" hits="3"/>
						<line number="7" hits="0"/>
					</lines>
				</class>
				<class name="other.py" filename="other/calc.py" line-rate="0">
					<lines>
						<line number="1" hits="0"/>
					</lines>
				</class>
			</classes>
		</package>
	</packages>
</coverage>
`

const jacocoFixture = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<!DOCTYPE report PUBLIC "-//JACOCO//DTD Report 1.1//EN" "report.dtd">
<report name="demo">
	<sessioninfo id="x" start="1" dump="2"/>
	<package name="com/example">
		<class name="com/example/Greeter" sourcefilename="Greeter.java"/>
		<sourcefile name="Greeter.java">
			<line nr="3" mi="0" ci="3" mb="0" cb="0"/>
			<line nr="6" mi="2" ci="0" mb="0" cb="0"/>
			<line nr="7" mi="0" ci="0" mb="0" cb="0"/>
			<line nr="9" mi="1" ci="4" mb="1" cb="1"/>
			<counter type="LINE" missed="1" covered="2"/>
		</sourcefile>
	</package>
</report>
`

const lcovFixture = `TN:
SF:src/store.js
FN:1,load
FNDA:1,load
DA:1,1
DA:2,0
DA:3,5
DA:4,0,abc123
end_of_record
SF:src/other.js
DA:1,0
end_of_record
`

const goCoverFixture = `mode: set
example.com/demo/calc/calc.go:3.24,5.2 1 1
example.com/demo/calc/calc.go:7.27,8.12 1 1
example.com/demo/calc/calc.go:8.12,10.3 1 0
example.com/demo/calc/calc.go:11.2,11.10 1 1
example.com/demo/other/other.go:3.20,5.2 1 0
`

func writeReport(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write report: %v", err)
	}
	return path
}

func TestParseCobertura(t *testing.T) {
	t.Parallel()

	report := writeReport(t, "coverage.xml", coberturaFixture)
	got, err := NewParser().Parse(context.Background(), Request{ReportPath: report, SourceFile: "/work/proj/pkg/calc.py", Format: FormatCobertura})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(got.Covered, []int{1, 2, 5}) || !reflect.DeepEqual(got.Uncovered, []int{4, 7}) {
		t.Fatalf("unexpected lines covered=%v uncovered=%v", got.Covered, got.Uncovered)
	}
	if got.Percentage != 60 {
		t.Fatalf("expected 60%%, got %v", got.Percentage)
	}
}

func TestParseJaCoCo(t *testing.T) {
	t.Parallel()

	report := writeReport(t, "jacoco.xml", jacocoFixture)
	got, err := NewParser().Parse(context.Background(), Request{ReportPath: report, SourceFile: "/p/src/main/java/com/example/Greeter.java", Format: FormatJaCoCo})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(got.Covered, []int{3, 9}) || !reflect.DeepEqual(got.Uncovered, []int{6}) {
		t.Fatalf("unexpected lines covered=%v uncovered=%v", got.Covered, got.Uncovered)
	}
}

func TestParseLCOV(t *testing.T) {
	t.Parallel()

	report := writeReport(t, "lcov.info", lcovFixture)
	got, err := NewParser().Parse(context.Background(), Request{ReportPath: report, SourceFile: "/repo/src/store.js", Format: FormatLCOV})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(got.Covered, []int{1, 3}) || !reflect.DeepEqual(got.Uncovered, []int{2, 4}) {
		t.Fatalf("unexpected lines covered=%v uncovered=%v", got.Covered, got.Uncovered)
	}
	if got.Percentage != 50 {
		t.Fatalf("expected 50%%, got %v", got.Percentage)
	}
}

func TestParseGoCover(t *testing.T) {
	t.Parallel()

	report := writeReport(t, "coverage.out", goCoverFixture)
	got, err := NewParser().Parse(context.Background(), Request{ReportPath: report, SourceFile: "/home/u/demo/calc/calc.go", Format: FormatGoCover})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(got.Covered, []int{3, 4, 5, 7, 8, 11}) || !reflect.DeepEqual(got.Uncovered, []int{9, 10}) {
		t.Fatalf("unexpected lines covered=%v uncovered=%v", got.Covered, got.Uncovered)
	}
	if got.Percentage < 0 || got.Percentage > 100 {
		t.Fatalf("percentage out of range: %v", got.Percentage)
	}
}

func TestParseFileNotInReport(t *testing.T) {
	t.Parallel()

	report := writeReport(t, "lcov.info", lcovFixture)
	_, err := NewParser().Parse(context.Background(), Request{ReportPath: report, SourceFile: "/repo/src/missing.js", Format: FormatLCOV})
	if !errors.Is(err, ErrFileNotInReport) {
		t.Fatalf("expected ErrFileNotInReport, got %v", err)
	}
}

const sameNameCobertura = `<?xml version="1.0" ?>
<coverage version="7.4.0">
	<packages>
		<package name=".">
			<classes>
				<class name="utils.py" filename="utils.py">
					<lines>
						<line number="1" hits="1"/>
						<line number="2" hits="1"/>
					</lines>
				</class>
			</classes>
		</package>
		<package name="pkg">
			<classes>
				<class name="utils.py" filename="pkg/utils.py">
					<lines>
						<line number="1" hits="0"/>
						<line number="50" hits="0"/>
					</lines>
				</class>
			</classes>
		</package>
	</packages>
</coverage>
`

func TestParseSameNameInSubdirectory(t *testing.T) {
	t.Parallel()

	report := writeReport(t, "coverage.xml", sameNameCobertura)
	p := NewParser()

	top, err := p.Parse(context.Background(), Request{ReportPath: report, SourceFile: "/proj/utils.py", ProjectRoot: "/proj", Format: FormatCobertura})
	if err != nil {
		t.Fatalf("parse top-level utils.py: %v", err)
	}
	if !reflect.DeepEqual(top.Covered, []int{1, 2}) || len(top.Uncovered) != 0 || top.Percentage != 100 {
		t.Fatalf("unexpected top-level coverage %+v", top)
	}

	nested, err := p.Parse(context.Background(), Request{ReportPath: report, SourceFile: "/proj/pkg/utils.py", ProjectRoot: "/proj", Format: FormatCobertura})
	if err != nil {
		t.Fatalf("parse pkg/utils.py: %v", err)
	}
	if len(nested.Covered) != 0 || !reflect.DeepEqual(nested.Uncovered, []int{1, 50}) {
		t.Fatalf("unexpected nested coverage %+v", nested)
	}
}

func TestParseGoCoverResolvesModulePath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/mod\n\ngo 1.22\n"), 0o644); err != nil {
		t.Fatalf("write go.mod: %v", err)
	}
	profile := `mode: set
example.com/mod/pkg/utils.go:3.20,5.2 1 0
example.com/mod/utils.go:3.20,4.2 1 1
`
	report := writeReport(t, "coverage.out", profile)
	p := NewParser()

	got, err := p.Parse(context.Background(), Request{ReportPath: report, SourceFile: filepath.Join(root, "pkg", "utils.go"), ProjectRoot: root, Format: FormatGoCover})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got.Covered) != 0 || !reflect.DeepEqual(got.Uncovered, []int{3, 4, 5}) {
		t.Fatalf("unexpected coverage for pkg/utils.go %+v", got)
	}

	// Without go.mod the shorter of the tied entries wins.
	got, err = p.Parse(context.Background(), Request{ReportPath: report, SourceFile: "/elsewhere/utils.go", ProjectRoot: t.TempDir(), Format: FormatGoCover})
	if err != nil {
		t.Fatalf("parse without go.mod: %v", err)
	}
	if !reflect.DeepEqual(got.Covered, []int{3, 4}) || len(got.Uncovered) != 0 {
		t.Fatalf("expected the top-level entry, got %+v", got)
	}
}

func TestParseAmbiguousEntries(t *testing.T) {
	t.Parallel()

	report := writeReport(t, "lcov.info", "SF:a/utils.js\nDA:1,1\nend_of_record\nSF:b/utils.js\nDA:1,0\nend_of_record\n")
	_, err := NewParser().Parse(context.Background(), Request{ReportPath: report, SourceFile: "/proj/utils.js", ProjectRoot: "/proj", Format: FormatLCOV})
	if !errors.Is(err, ErrAmbiguousFile) {
		t.Fatalf("expected ErrAmbiguousFile, got %v", err)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	p := NewParser()
	if _, err := p.Parse(context.Background(), Request{ReportPath: filepath.Join(t.TempDir(), "none.xml"), SourceFile: "a.py", Format: FormatCobertura}); err == nil {
		t.Fatalf("expected missing report error")
	}
	report := writeReport(t, "bad.xml", "<coverage><packages>")
	if _, err := p.Parse(context.Background(), Request{ReportPath: report, SourceFile: "a.py", Format: FormatCobertura}); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := p.Parse(context.Background(), Request{ReportPath: report, SourceFile: "a.py", Format: Format("clover")}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Parse(ctx, Request{ReportPath: report, SourceFile: "a.py", Format: FormatCobertura}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	cases := map[string]Format{
		"cobertura": FormatCobertura,
		" XML ":     FormatCobertura,
		"jacoco":    FormatJaCoCo,
		"lcov":      FormatLCOV,
		"gocover":   FormatGoCover,
		"go":        FormatGoCover,
	}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("clover"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestPercentage(t *testing.T) {
	t.Parallel()

	if Percentage(0, 0) != 0 {
		t.Fatalf("expected 0 for no lines")
	}
	if Percentage(3, 1) != 75 {
		t.Fatalf("expected 75")
	}
	if Percentage(5, 0) != 100 {
		t.Fatalf("expected 100")
	}
}

func TestSuffixScore(t *testing.T) {
	t.Parallel()

	if got := suffixScore("pkg/calc.py", "/work/proj/pkg/calc.py"); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := suffixScore("other/calc.py", "/work/proj/pkg/calc.py"); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := suffixScore("mycalc.py", "/work/calc.py"); got != 0 {
		t.Fatalf("expected partial names not to match, got %d", got)
	}
}
