package svcfields

import "testing"

func TestSubsystem(t *testing.T) {
	t.Parallel()

	if got := Subsystem("mcp", "", ".tools."); got != "mcp.tools" {
		t.Fatalf("expected mcp.tools, got %q", got)
	}
	if got := Subsystem(); got != "" {
		t.Fatalf("expected empty subsystem, got %q", got)
	}
}

func TestWithSubsystemNilLogger(t *testing.T) {
	t.Parallel()

	if WithSubsystem(nil, Runner) == nil {
		t.Fatalf("expected a logger")
	}
	if WithSubsystem(nil, " . ") == nil {
		t.Fatalf("expected a logger for an empty subsystem")
	}
}
