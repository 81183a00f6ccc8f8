package mcp

import (
	"context"
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"pkt.systems/pslog"

	"pkt.systems/coverbridge/internal/version"
)

// ToolsListResponse mirrors a canonical JSON-RPC tools/list result payload.
type ToolsListResponse struct {
	ID      int                 `json:"id" yaml:"id"`
	JSONRPC string              `json:"jsonrpc" yaml:"jsonrpc"`
	Result  ToolsListResultBody `json:"result" yaml:"result"`
}

// ToolsListResultBody is the JSON-RPC "result" object for tools/list.
type ToolsListResultBody struct {
	Tools      []*mcpsdk.Tool `json:"tools" yaml:"tools"`
	NextCursor string         `json:"nextCursor,omitempty" yaml:"nextCursor,omitempty"`
}

// BuildToolsListResponse builds a canonical tools/list payload in-process.
//
// No transport is started and no tool is invoked; only the tool registry is
// materialized over an in-memory session.
func BuildToolsListResponse(ctx context.Context, cfg Config) (ToolsListResponse, error) {
	applyDefaults(&cfg)
	s := newServer(cfg, nil, pslog.NoopLogger())

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "coverbridge-tools-list",
		Version: version.Current(),
	}, nil)
	mcpSrv := s.buildMCPServer()

	t1, t2 := mcpsdk.NewInMemoryTransports()
	ss, err := mcpSrv.Connect(ctx, t1, nil)
	if err != nil {
		return ToolsListResponse{}, err
	}
	defer ss.Close()

	cs, err := client.Connect(ctx, t2, nil)
	if err != nil {
		return ToolsListResponse{}, err
	}
	defer cs.Close()

	list, err := cs.ListTools(ctx, &mcpsdk.ListToolsParams{})
	if err != nil {
		return ToolsListResponse{}, err
	}

	return ToolsListResponse{
		ID:      1,
		JSONRPC: "2.0",
		Result: ToolsListResultBody{
			Tools:      list.Tools,
			NextCursor: list.NextCursor,
		},
	}, nil
}

// BuildToolsListResponseJSON returns pretty-printed tools/list JSON payload.
func BuildToolsListResponseJSON(ctx context.Context, cfg Config) ([]byte, error) {
	resp, err := BuildToolsListResponse(ctx, cfg)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
