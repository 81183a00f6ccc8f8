package mcp

import "context"

// ToolCall describes one tool invocation.
type ToolCall struct {
	Tool          string
	Language      string
	CorrelationID string
}

// ToolObserver is told about every tool call. StartTool returns the context
// the operation runs under and a function the server calls once with the
// payload status and the error, if any.
type ToolObserver interface {
	StartTool(ctx context.Context, call ToolCall) (context.Context, func(status string, err error))
}

type nopObserver struct{}

func (nopObserver) StartTool(ctx context.Context, _ ToolCall) (context.Context, func(string, error)) {
	return ctx, func(string, error) {}
}
