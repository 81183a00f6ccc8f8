// Package correlation carries the id that ties together the log lines and
// spans of one tool call.
package correlation

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/xid"
	"pkt.systems/pslog"
)

// MaxIDLength defines the maximum number of characters accepted for correlation identifiers.
const MaxIDLength = 128

// LogKey is the log field holding the correlation id.
const LogKey = pslog.TrustedString("cid")

type contextKey struct{}

type state struct {
	mu sync.RWMutex
	id string
}

// Ensure attaches correlation state to ctx if not already present.
func Ensure(ctx context.Context) context.Context {
	if ctx == nil {
		return context.WithValue(context.Background(), contextKey{}, &state{})
	}
	if _, ok := ctx.Value(contextKey{}).(*state); ok {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, &state{})
}

// Set records the correlation ID on ctx and returns the context carrying the state.
// Invalid ids are ignored.
func Set(ctx context.Context, id string) context.Context {
	normalized, ok := Normalize(id)
	if !ok {
		return ctx
	}
	ctx = Ensure(ctx)
	st, _ := ctx.Value(contextKey{}).(*state)
	st.mu.Lock()
	st.id = normalized
	st.mu.Unlock()
	return ctx
}

// Attach keeps an existing correlation id on ctx, adopts candidate when it is
// valid, and generates a fresh id otherwise.
func Attach(ctx context.Context, candidate string) (context.Context, string) {
	if id := ID(ctx); id != "" {
		return ctx, id
	}
	if normalized, ok := Normalize(candidate); ok {
		return Set(ctx, normalized), normalized
	}
	id := Generate()
	return Set(ctx, id), id
}

// ID retrieves the correlation ID stored on ctx, if any.
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if st, ok := ctx.Value(contextKey{}).(*state); ok && st != nil {
		st.mu.RLock()
		id := st.id
		st.mu.RUnlock()
		return id
	}
	return ""
}

// Has reports whether ctx carries a correlation ID.
func Has(ctx context.Context) bool {
	return ID(ctx) != ""
}

// Logger returns logger tagged with the correlation id of ctx.
func Logger(ctx context.Context, logger pslog.Logger) pslog.Logger {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if id := ID(ctx); id != "" {
		return logger.With(LogKey, id)
	}
	return logger
}

// Normalize validates and canonicalizes an external correlation identifier.
// It returns the normalized ID and true if the input is acceptable.
func Normalize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false
	}
	if len(id) > MaxIDLength {
		return "", false
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return "", false
		}
	}
	return id, true
}

// Generate produces a new sortable correlation identifier.
func Generate() string {
	return xid.New().String()
}
