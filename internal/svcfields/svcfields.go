// Package svcfields tags loggers with the subsystem that emits them.
package svcfields

import (
	"strings"

	"pkt.systems/pslog"
)

// SubsystemKey is the canonical key for subsystem tags.
const SubsystemKey = pslog.TrustedString("sys")

// Subsystem names used across the bridge.
const (
	CLIRoot      = "cli.root"
	MCPTools     = "mcp.tools"
	MCPTransport = "mcp.transport"
	Runner       = "runner"
	LSPClient    = "lsp.client"
	Bridge       = "bridge"
	Telemetry    = "telemetry"
)

// Subsystem builds a dot-delimited subsystem path from the supplied parts while
// skipping empty fragments.
func Subsystem(parts ...string) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(part, ". ")
		if part == "" {
			continue
		}
		filtered = append(filtered, part)
	}
	return strings.Join(filtered, ".")
}

// WithSubsystem attaches a subsystem tag to every log entry. A nil logger
// becomes a no-op logger.
func WithSubsystem(logger pslog.Logger, subsystem string) pslog.Logger {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	subsystem = strings.Trim(subsystem, ". ")
	if subsystem == "" {
		return logger
	}
	return logger.With(SubsystemKey, subsystem)
}
