package analysis

import (
	"regexp"

	"pkt.systems/coverbridge/internal/lang"
)

// ruleSet is the fixed pattern table for one language. Every pattern is
// matched against a whitespace-trimmed line and captures the symbol name in
// its first group.
type ruleSet struct {
	imports       []*regexp.Regexp
	importBlock   *regexp.Regexp
	importInBlock *regexp.Regexp
	classes       []*regexp.Regexp
	functions     []*regexp.Regexp

	testClasses    []*regexp.Regexp
	testFunctions  []*regexp.Regexp
	testAnnotation string

	commentPrefixes []string
	critical        []string
	reserved        map[string]bool
}

var (
	pythonRules = &ruleSet{
		imports: []*regexp.Regexp{
			regexp.MustCompile(`^(?:import|from)\s+\S`),
		},
		classes: []*regexp.Regexp{
			regexp.MustCompile(`^class\s+([A-Za-z_]\w*)\s*[(:]`),
		},
		functions: []*regexp.Regexp{
			regexp.MustCompile(`^(?:async\s+)?def\s+([A-Za-z_]\w*)\s*\(.*:`),
		},
		testClasses: []*regexp.Regexp{
			regexp.MustCompile(`^class\s+(\w*Test\w*)\s*[(:]`),
		},
		testFunctions: []*regexp.Regexp{
			regexp.MustCompile(`^(?:async\s+)?def\s+(test\w*)\s*\(.*:`),
		},
		commentPrefixes: []string{"#"},
		critical: []string{
			`if __name__ == "__main__"`,
			"raise ",
			"return ",
			"assert ",
			"except ",
			"finally:",
			"with ",
			"def ",
			"class ",
		},
	}

	goRules = &ruleSet{
		imports: []*regexp.Regexp{
			regexp.MustCompile(`^import\s+(?:[\w.]+\s+)?"[^"]+"`),
		},
		importBlock:   regexp.MustCompile(`^import\s*\($`),
		importInBlock: regexp.MustCompile(`^(?:[\w.]+\s+)?"[^"]+"`),
		classes: []*regexp.Regexp{
			regexp.MustCompile(`^type\s+([A-Za-z_]\w*)(?:\[[^\]]*\])?\s+(?:struct|interface)\b`),
		},
		functions: []*regexp.Regexp{
			regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?([A-Za-z_]\w*)\s*[\[(]`),
		},
		testClasses: []*regexp.Regexp{
			regexp.MustCompile(`^type\s+(\w*Suite)\s+struct\b`),
		},
		testFunctions: []*regexp.Regexp{
			regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?((?:Test|Benchmark|Fuzz|Example)\w*)\s*\(`),
		},
		commentPrefixes: []string{"//", "/*", "* ", "*/"},
		critical: []string{
			"return ",
			"panic(",
			"if err != nil",
			"errors.New(",
			"fmt.Errorf(",
			"defer ",
			"switch ",
			"case ",
			"select {",
			"func ",
		},
	}

	scriptRules = &ruleSet{
		imports: []*regexp.Regexp{
			regexp.MustCompile(`^import\s`),
			regexp.MustCompile(`^(?:const|let|var)\s+.+=\s*require\(`),
		},
		classes: []*regexp.Regexp{
			regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][\w$]*)`),
			regexp.MustCompile(`^(?:export\s+)?interface\s+([A-Za-z_$][\w$]*)`),
		},
		functions: []*regexp.Regexp{
			regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)\s*[<(]`),
			regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*(?::[^=]+)?=\s*(?:async\s+)?(?:\([^)]*\)|[A-Za-z_$][\w$]*)\s*(?::[^=]+)?=>`),
			regexp.MustCompile(`^(?:(?:public|private|protected|static|async|readonly)\s+)*([A-Za-z_$][\w$]*)\s*\([^)]*\)\s*(?::\s*[^{]+)?\{$`),
		},
		testClasses: []*regexp.Regexp{
			regexp.MustCompile(`^describe(?:\.\w+)?\s*\(\s*['"` + "`" + `]([^'"` + "`" + `]+)['"` + "`" + `]`),
		},
		testFunctions: []*regexp.Regexp{
			regexp.MustCompile(`^(?:it|test)(?:\.\w+)?\s*\(\s*['"` + "`" + `]([^'"` + "`" + `]+)['"` + "`" + `]`),
		},
		commentPrefixes: []string{"//", "/*", "* ", "*/"},
		critical: []string{
			"return ",
			"throw ",
			"catch",
			"finally",
			"await ",
			"if (",
			"switch (",
			"function ",
			"class ",
		},
		reserved: map[string]bool{
			"if": true, "for": true, "while": true, "switch": true, "catch": true,
			"with": true, "function": true, "return": true, "typeof": true,
		},
	}

	javaRules = &ruleSet{
		imports: []*regexp.Regexp{
			regexp.MustCompile(`^import\s+(?:static\s+)?[\w.*]+;`),
		},
		classes: []*regexp.Regexp{
			regexp.MustCompile(`^(?:(?:public|protected|private|abstract|final|static|sealed)\s+)*(?:class|interface|enum|record)\s+([A-Za-z_]\w*)`),
		},
		functions: []*regexp.Regexp{
			regexp.MustCompile(`^(?:(?:public|protected|private|static|final|abstract|synchronized|native|default)\s+)+(?:<[^>]+>\s+)?[\w<>\[\],.?\s]+?\s+([A-Za-z_]\w*)\s*\(`),
		},
		testClasses: []*regexp.Regexp{
			regexp.MustCompile(`^(?:(?:public|protected|private|abstract|final|static)\s+)*class\s+(\w*Tests?\w*|Test\w*)\b`),
		},
		testFunctions: []*regexp.Regexp{
			regexp.MustCompile(`^(?:(?:public|protected|private)\s+)?void\s+(test\w*)\s*\(`),
		},
		testAnnotation:  "@Test",
		commentPrefixes: []string{"//", "/*", "* ", "*/"},
		critical: []string{
			"return ",
			"throw ",
			"catch",
			"finally",
			"if (",
			"switch",
			"synchronized",
			"assert ",
			"class ",
		},
	}

	javaAnnotatedTest = regexp.MustCompile(`^(?:(?:public|protected|private|static|final)\s+)*void\s+([A-Za-z_]\w*)\s*\(`)
)

func rulesFor(l lang.Language) *ruleSet {
	switch l {
	case lang.Go:
		return goRules
	case lang.JavaScript, lang.TypeScript:
		return scriptRules
	case lang.Java:
		return javaRules
	}
	return pythonRules
}

func (r *ruleSet) match(patterns []*regexp.Regexp, line string) (string, bool) {
	for _, re := range patterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if len(m) > 1 {
			if r.reserved[m[1]] {
				continue
			}
			return m[1], true
		}
		return "", true
	}
	return "", false
}
