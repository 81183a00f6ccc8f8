package analysis

import (
	"context"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"pkt.systems/coverbridge/internal/lang"
)

type nodeRole int

const (
	roleNone nodeRole = iota
	roleImport
	roleClass
	roleFunction
)

type grammar struct {
	language *sitter.Language
	roles    map[string]nodeRole
}

var (
	pythonGrammar = grammar{
		language: python.GetLanguage(),
		roles: map[string]nodeRole{
			"import_statement":      roleImport,
			"import_from_statement": roleImport,
			"class_definition":      roleClass,
			"function_definition":   roleFunction,
		},
	}
	goGrammar = grammar{
		language: golang.GetLanguage(),
		roles: map[string]nodeRole{
			"import_spec":          roleImport,
			"type_spec":            roleClass,
			"function_declaration": roleFunction,
			"method_declaration":   roleFunction,
		},
	}
	scriptRoles = map[string]nodeRole{
		"import_statement":               roleImport,
		"class_declaration":              roleClass,
		"abstract_class_declaration":     roleClass,
		"interface_declaration":          roleClass,
		"function_declaration":           roleFunction,
		"generator_function_declaration": roleFunction,
		"method_definition":              roleFunction,
		"variable_declarator":            roleFunction,
	}
	javaGrammar = grammar{
		language: java.GetLanguage(),
		roles: map[string]nodeRole{
			"import_declaration":      roleImport,
			"class_declaration":       roleClass,
			"interface_declaration":   roleClass,
			"enum_declaration":        roleClass,
			"record_declaration":      roleClass,
			"method_declaration":      roleFunction,
			"constructor_declaration": roleFunction,
		},
	}
)

func grammarFor(language lang.Language, path string) (grammar, bool) {
	switch language {
	case lang.Python:
		return pythonGrammar, true
	case lang.Go:
		return goGrammar, true
	case lang.JavaScript:
		return grammar{language: javascript.GetLanguage(), roles: scriptRoles}, true
	case lang.TypeScript:
		if strings.EqualFold(filepath.Ext(path), ".tsx") {
			return grammar{language: tsx.GetLanguage(), roles: scriptRoles}, true
		}
		return grammar{language: typescript.GetLanguage(), roles: scriptRoles}, true
	case lang.Java:
		return javaGrammar, true
	}
	return grammar{}, false
}

// syntaxStructure extracts structure from a tree-sitter parse. The boolean is
// false when the caller should fall back to the regex engine.
func syntaxStructure(ctx context.Context, content, path string, language lang.Language) (FileStructure, bool) {
	g, ok := grammarFor(language, path)
	if !ok {
		return FileStructure{}, false
	}
	src := []byte(content)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(g.language)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil || tree == nil {
		return FileStructure{}, false
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return FileStructure{}, false
	}

	lines := splitLines(content)
	fs := newFileStructure(lines, path)
	lineText := func(node *sitter.Node) (int, string) {
		row := int(node.StartPoint().Row)
		if row < 0 || row >= len(lines) {
			return row + 1, ""
		}
		return row + 1, strings.TrimSpace(lines[row])
	}

	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		switch g.roles[node.Type()] {
		case roleImport:
			n, text := lineText(node)
			fs.Imports = append(fs.Imports, Import{Line: n, Content: text})
		case roleClass:
			if name, ok := declName(node, src); ok {
				n, text := lineText(node)
				fs.Classes = append(fs.Classes, Symbol{Line: n, Name: name, Content: text})
			}
		case roleFunction:
			if name, ok := declName(node, src); ok {
				n, text := lineText(node)
				fs.Functions = append(fs.Functions, Symbol{Line: n, Name: name, Content: text})
			}
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if child != nil {
				walk(child)
			}
		}
	}
	walk(root)
	return fs, true
}

// declName returns the declared name of node, filtering declarations that do
// not describe a class or function in the summarised sense.
func declName(node *sitter.Node, src []byte) (string, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return "", false
	}
	switch node.Type() {
	case "type_spec":
		typeNode := node.ChildByFieldName("type")
		if typeNode == nil {
			return "", false
		}
		if t := typeNode.Type(); t != "struct_type" && t != "interface_type" {
			return "", false
		}
	case "variable_declarator":
		value := node.ChildByFieldName("value")
		if value == nil {
			return "", false
		}
		switch value.Type() {
		case "arrow_function", "function", "function_expression":
		default:
			return "", false
		}
	}
	name := string(src[nameNode.StartByte():nameNode.EndByte()])
	if name == "" {
		return "", false
	}
	return name, true
}
