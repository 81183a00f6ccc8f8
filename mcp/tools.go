package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"pkt.systems/pslog"
)

// ToolArguments carries the string arguments shared by all tools. Tools
// ignore the arguments they do not take.
type ToolArguments struct {
	SourceFile  string `json:"source_file,omitempty"`
	TestFile    string `json:"test_file,omitempty"`
	ProjectRoot string `json:"project_root,omitempty"`
}

type codeContextToolInput struct {
	SourceFile  string `json:"source_file" jsonschema:"Path of the source file to analyse"`
	ProjectRoot string `json:"project_root,omitempty" jsonschema:"Project root; relative paths resolve against it"`
}

type testStructureToolInput struct {
	TestFile    string `json:"test_file" jsonschema:"Path of the test file to analyse"`
	ProjectRoot string `json:"project_root,omitempty" jsonschema:"Project root; relative paths resolve against it"`
}

type sourceTestToolInput struct {
	SourceFile  string `json:"source_file" jsonschema:"Path of the source file under test"`
	TestFile    string `json:"test_file" jsonschema:"Path of the test file that exercises it"`
	ProjectRoot string `json:"project_root,omitempty" jsonschema:"Project root and working directory of the test command"`
}

// openInputSchema infers the input schema of T and leaves additional
// properties open, so clients may send one argument set to every tool.
func openInputSchema[T any]() *jsonschema.Schema {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		panic(fmt.Sprintf("infer MCP input schema: %v", err))
	}
	schema.AdditionalProperties = nil
	return schema
}

func (s *server) registerTools(srv *mcpsdk.Server) {
	descriptions := buildToolDescriptions(s.cfg)
	desc := func(name string) string {
		description, ok := descriptions[name]
		if !ok {
			panic(fmt.Sprintf("missing MCP tool description for %q", name))
		}
		return description
	}

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolAnalyzeCodeContext,
		Description: desc(toolAnalyzeCodeContext),
		InputSchema: openInputSchema[codeContextToolInput](),
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, in codeContextToolInput) (*mcpsdk.CallToolResult, any, error) {
		return s.dispatch(ctx, req, toolAnalyzeCodeContext, ToolArguments{SourceFile: in.SourceFile, ProjectRoot: in.ProjectRoot})
	})
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolAnalyzeTestStructure,
		Description: desc(toolAnalyzeTestStructure),
		InputSchema: openInputSchema[testStructureToolInput](),
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, in testStructureToolInput) (*mcpsdk.CallToolResult, any, error) {
		return s.dispatch(ctx, req, toolAnalyzeTestStructure, ToolArguments{TestFile: in.TestFile, ProjectRoot: in.ProjectRoot})
	})
	for _, name := range []string{
		toolGetCoverageGaps,
		toolGetTestGenerationContext,
		toolValidateTestCoverage,
		toolBuildTestPrompt,
	} {
		mcpsdk.AddTool(srv, &mcpsdk.Tool{
			Name:        name,
			Description: desc(name),
			InputSchema: openInputSchema[sourceTestToolInput](),
		}, func(ctx context.Context, req *mcpsdk.CallToolRequest, in sourceTestToolInput) (*mcpsdk.CallToolResult, any, error) {
			return s.dispatch(ctx, req, name, ToolArguments{SourceFile: in.SourceFile, TestFile: in.TestFile, ProjectRoot: in.ProjectRoot})
		})
	}
}

// operation returns the call for tool name and the file its language is
// derived from.
func (s *server) operation(name string, args ToolArguments) (func(context.Context) (any, error), string, bool) {
	switch name {
	case toolAnalyzeCodeContext:
		return func(ctx context.Context) (any, error) {
			return s.tools.AnalyzeCodeContext(ctx, args.SourceFile, args.ProjectRoot)
		}, args.SourceFile, true
	case toolGetCoverageGaps:
		return func(ctx context.Context) (any, error) {
			return s.tools.GetCoverageGaps(ctx, args.SourceFile, args.TestFile, args.ProjectRoot)
		}, args.SourceFile, true
	case toolAnalyzeTestStructure:
		return func(ctx context.Context) (any, error) {
			return s.tools.AnalyzeTestStructure(ctx, args.TestFile, args.ProjectRoot)
		}, args.TestFile, true
	case toolGetTestGenerationContext:
		return func(ctx context.Context) (any, error) {
			return s.tools.GetTestGenerationContext(ctx, args.SourceFile, args.TestFile, args.ProjectRoot)
		}, args.SourceFile, true
	case toolValidateTestCoverage:
		return func(ctx context.Context) (any, error) {
			return s.tools.ValidateTestCoverage(ctx, args.SourceFile, args.TestFile, args.ProjectRoot)
		}, args.SourceFile, true
	case toolBuildTestPrompt:
		return func(ctx context.Context) (any, error) {
			return s.tools.BuildTestPrompt(ctx, args.SourceFile, args.TestFile, args.ProjectRoot)
		}, args.SourceFile, true
	}
	return nil, "", false
}

// Dispatch runs one tool by name outside of an MCP session. The result is
// the same CallToolResult an MCP client would receive.
func Dispatch(ctx context.Context, tools Tools, logger pslog.Logger, name string, args ToolArguments) (*mcpsdk.CallToolResult, error) {
	if tools == nil {
		return nil, fmt.Errorf("mcp: tools implementation required")
	}
	cfg := Config{}
	applyDefaults(&cfg)
	s := newServer(cfg, tools, logger)
	name = strings.TrimSpace(name)
	if _, _, ok := s.operation(name, args); !ok {
		return nil, fmt.Errorf("mcp: unknown tool %q (known: %s)", name, strings.Join(ToolNames, ", "))
	}
	res, _, err := s.dispatch(ctx, nil, name, args)
	return res, err
}
