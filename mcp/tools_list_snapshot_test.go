package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestBuildToolsListResponseJSON(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := BuildToolsListResponseJSON(ctx, Config{})
	if err != nil {
		t.Fatalf("build tools list json: %v", err)
	}

	var decoded struct {
		ID      int    `json:"id"`
		JSONRPC string `json:"jsonrpc"`
		Result  struct {
			Tools []struct {
				Name        string         `json:"name"`
				Description string         `json:"description"`
				InputSchema map[string]any `json:"inputSchema"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if decoded.JSONRPC != "2.0" || decoded.ID != 1 {
		t.Fatalf("unexpected envelope id=%d jsonrpc=%q", decoded.ID, decoded.JSONRPC)
	}

	tools := make(map[string][]any)
	for _, tool := range decoded.Result.Tools {
		if extra, ok := tool.InputSchema["additionalProperties"]; ok {
			t.Fatalf("%s should accept extra arguments, got additionalProperties=%v", tool.Name, extra)
		}
		required, _ := tool.InputSchema["required"].([]any)
		tools[tool.Name] = required
	}
	if len(tools) != len(ToolNames) {
		t.Fatalf("expected %d tools, got %d", len(ToolNames), len(tools))
	}
	for _, name := range ToolNames {
		if _, ok := tools[name]; !ok {
			t.Fatalf("missing tool %q in tools/list output", name)
		}
	}
	if got := tools[toolAnalyzeTestStructure]; len(got) != 1 || got[0] != "test_file" {
		t.Fatalf("analyze_test_structure should only require test_file, got %v", got)
	}
	if got := tools[toolGetCoverageGaps]; len(got) != 2 {
		t.Fatalf("get_coverage_gaps should require source_file and test_file, got %v", got)
	}
}
