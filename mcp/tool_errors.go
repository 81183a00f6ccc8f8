package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"pkt.systems/coverbridge/internal/bridge"
	"pkt.systems/coverbridge/internal/correlation"
)

// correlationMetaKey is the _meta key a client may use to supply its own
// correlation id.
const correlationMetaKey = "correlation_id"

// dispatch runs tool name and renders its payload as indented JSON text.
// Every failure, including a panic inside the operation, becomes an error
// record with IsError set; dispatch itself never returns an error for a
// known tool.
func (s *server) dispatch(ctx context.Context, req *mcpsdk.CallToolRequest, name string, args ToolArguments) (*mcpsdk.CallToolResult, any, error) {
	run, file, ok := s.operation(name, args)
	if !ok {
		return nil, nil, fmt.Errorf("mcp: unknown tool %q", name)
	}
	ctx, cid := correlation.Attach(ctx, requestCorrelationID(req))
	language := s.tools.DetectLanguage(file)
	ctx, finish := s.observer.StartTool(ctx, ToolCall{Tool: name, Language: language.String(), CorrelationID: cid})

	logger := correlation.Logger(ctx, s.toolLog).With("tool", name)
	logger.Debug("mcp.tool.start", "source_file", args.SourceFile, "test_file", args.TestFile, "project_root", args.ProjectRoot)
	start := time.Now()

	payload, err := guard(ctx, run)
	status := bridge.StatusSuccess
	if err != nil {
		var pe *panicError
		if errors.As(err, &pe) {
			logger.Error("mcp.tool.panic", "panic", fmt.Sprint(pe.value), "stack", string(pe.stack))
		}
		payload = bridge.NewErrorRecord(err)
		status = bridge.StatusError
	}
	text, err2 := renderPayload(payload)
	if err2 != nil {
		err = fmt.Errorf("encode %s result: %w", name, err2)
		status = bridge.StatusError
		text, _ = renderPayload(bridge.NewErrorRecord(err))
	}

	elapsed := time.Since(start)
	finish(status, err)
	if status == bridge.StatusError {
		logger.Warn("mcp.tool.error", "status", status, "elapsed", elapsed, "error", err)
	} else {
		logger.Info("mcp.tool.done", "status", status, "elapsed", elapsed)
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		IsError: status == bridge.StatusError,
	}, nil, nil
}

// guard runs fn and converts a panic into an error.
func guard(ctx context.Context, fn func(context.Context) (any, error)) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string { return fmt.Sprintf("internal error: %v", e.value) }

func renderPayload(payload any) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func requestCorrelationID(req *mcpsdk.CallToolRequest) string {
	if req == nil || req.Params == nil {
		return ""
	}
	raw, ok := req.Params.GetMeta()[correlationMetaKey]
	if !ok {
		return ""
	}
	id, _ := raw.(string)
	return id
}
