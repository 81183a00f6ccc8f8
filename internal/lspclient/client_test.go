package lspclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"pkt.systems/coverbridge/internal/lang"
)

// fakeServer answers the subset of LSP the client speaks.
type fakeServer struct {
	conn       jsonrpc2.Conn
	source     protocol.DocumentURI
	references map[uint32][]protocol.Location

	mu     sync.Mutex
	calls  map[string]int
	opened []protocol.TextDocumentItem
}

func newFakeServer(t *testing.T, side net.Conn, source protocol.DocumentURI, refs map[uint32][]protocol.Location) *fakeServer {
	t.Helper()
	s := &fakeServer{
		conn:       jsonrpc2.NewConn(jsonrpc2.NewStream(side)),
		source:     source,
		references: refs,
		calls:      make(map[string]int),
	}
	s.conn.Go(context.Background(), s.handle)
	t.Cleanup(func() { _ = s.conn.Close() })
	return s
}

func (s *fakeServer) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *fakeServer) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	s.mu.Lock()
	s.calls[req.Method()]++
	s.mu.Unlock()

	switch req.Method() {
	case protocol.MethodInitialize:
		return reply(ctx, map[string]any{"capabilities": map[string]any{"referencesProvider": true}}, nil)
	case protocol.MethodTextDocumentDidOpen:
		var params protocol.DidOpenTextDocumentParams
		if err := json.Unmarshal(req.Params(), &params); err == nil {
			s.mu.Lock()
			s.opened = append(s.opened, params.TextDocument)
			s.mu.Unlock()
		}
		return reply(ctx, nil, nil)
	case protocol.MethodTextDocumentDocumentSymbol:
		symbols := []map[string]any{
			{
				"name":           "Calc",
				"kind":           5,
				"range":          lspRange(0, 0, 4, 0),
				"selectionRange": lspRange(0, 6, 0, 10),
				"children": []map[string]any{{
					"name":           "add",
					"kind":           6,
					"range":          lspRange(1, 4, 2, 0),
					"selectionRange": lspRange(1, 8, 1, 11),
				}},
			},
			{
				"name":           "helper",
				"kind":           12,
				"range":          lspRange(6, 0, 7, 0),
				"selectionRange": lspRange(6, 4, 6, 10),
			},
		}
		return reply(ctx, symbols, nil)
	case protocol.MethodTextDocumentReferences:
		var params protocol.ReferenceParams
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			return reply(ctx, nil, err)
		}
		if params.TextDocument.URI != s.source {
			return reply(ctx, nil, jsonrpc2.NewError(jsonrpc2.InvalidParams, "unexpected document"))
		}
		locs, ok := s.references[params.Position.Line]
		if !ok {
			return reply(ctx, nil, jsonrpc2.NewError(jsonrpc2.InternalError, "no references"))
		}
		return reply(ctx, locs, nil)
	case protocol.MethodShutdown:
		return reply(ctx, nil, nil)
	}
	return reply(ctx, nil, nil)
}

func lspRange(sl, sc, el, ec uint32) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: sl, Character: sc},
		End:   protocol.Position{Line: el, Character: ec},
	}
}

func fileLocation(path string, line uint32) protocol.Location {
	return protocol.Location{URI: protocol.DocumentURI(uri.File(path)), Range: lspRange(line, 0, line, 1)}
}

type fixture struct {
	root   string
	source string
	user   string
	server *fakeServer
	client *Client
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	root := t.TempDir()
	source := filepath.Join(root, "calc.py")
	user := filepath.Join(root, "app", "use_calc.py")
	if err := os.WriteFile(source, []byte("class Calc:\n    def add(self): pass\n"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(user), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(user, []byte("from calc import Calc\n"), 0o644); err != nil {
		t.Fatalf("write user: %v", err)
	}

	clientSide, serverSide := net.Pipe()
	refs := map[uint32][]protocol.Location{
		0: {
			fileLocation(user, 0),
			fileLocation(source, 3),
			fileLocation(filepath.Join(filepath.Dir(root), "outside.py"), 1),
			{URI: protocol.DocumentURI("untitled:Untitled-1")},
		},
	}
	server := newFakeServer(t, serverSide, protocol.DocumentURI(uri.File(source)), refs)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, clientSide, root, lang.Python, opts)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return &fixture{root: root, source: source, user: user, server: server, client: client}
}

func TestRelatedFiles(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{RequestTimeout: 2 * time.Second})
	ctx := context.Background()
	got, err := f.client.RelatedFiles(ctx, f.source)
	if err != nil {
		t.Fatalf("related files: %v", err)
	}
	if !reflect.DeepEqual(got, []string{f.user}) {
		t.Fatalf("expected only %s, got %v", f.user, got)
	}
	if n := f.server.count(protocol.MethodTextDocumentReferences); n != 2 {
		t.Fatalf("expected references for both top-level symbols, got %d", n)
	}

	if _, err := f.client.RelatedFiles(ctx, f.source); err != nil {
		t.Fatalf("second related files: %v", err)
	}
	if n := f.server.count(protocol.MethodTextDocumentDidOpen); n != 1 {
		t.Fatalf("expected the document to be opened once, got %d", n)
	}
	f.server.mu.Lock()
	opened := f.server.opened[0]
	f.server.mu.Unlock()
	if opened.LanguageID != "python" || opened.Text == "" {
		t.Fatalf("unexpected didOpen item %+v", opened)
	}
}

func TestRelatedFilesMaxSymbols(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{MaxSymbols: 1})
	if _, err := f.client.RelatedFiles(context.Background(), f.source); err != nil {
		t.Fatalf("related files: %v", err)
	}
	if n := f.server.count(protocol.MethodTextDocumentReferences); n != 1 {
		t.Fatalf("expected one references request, got %d", n)
	}
}

func TestRelatedFilesMissingSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	if _, err := f.client.RelatedFiles(context.Background(), filepath.Join(f.root, "nope.py")); err == nil {
		t.Fatalf("expected an error for a missing source file")
	}
}

func TestServerRequestsAreAnswered(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var config []any
	params := &protocol.ConfigurationParams{Items: []protocol.ConfigurationItem{{Section: "python"}, {Section: "pyright"}}}
	if _, err := f.server.conn.Call(ctx, protocol.MethodWorkspaceConfiguration, params, &config); err != nil {
		t.Fatalf("workspace/configuration: %v", err)
	}
	if len(config) != 2 {
		t.Fatalf("expected one entry per item, got %v", config)
	}

	var folders []protocol.WorkspaceFolder
	if _, err := f.server.conn.Call(ctx, protocol.MethodWorkspaceWorkspaceFolders, nil, &folders); err != nil {
		t.Fatalf("workspace/workspaceFolders: %v", err)
	}
	if len(folders) != 1 || folders[0].URI != string(uri.File(f.client.Root())) {
		t.Fatalf("unexpected folders %+v", folders)
	}
}

func TestCloseShutsDown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	if err := f.client.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if n := f.server.count(protocol.MethodShutdown); n != 1 {
		t.Fatalf("expected shutdown request, got %d", n)
	}
	if _, err := f.client.RelatedFiles(context.Background(), f.source); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted after close, got %v", err)
	}
	if err := f.client.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestLauncherCommands(t *testing.T) {
	t.Parallel()

	l := NewLauncher(map[lang.Language]string{lang.Go: "gopls serve", lang.Java: "  "}, Options{})
	if cmd, ok := l.Command(lang.Go); !ok || cmd != "gopls serve" {
		t.Fatalf("expected override, got %q ok=%v", cmd, ok)
	}
	if cmd, ok := l.Command(lang.Java); !ok || cmd != "jdtls" {
		t.Fatalf("expected default for blank override, got %q ok=%v", cmd, ok)
	}
	if _, err := l.Launch(context.Background(), t.TempDir(), lang.Unknown); !errors.Is(err, ErrNoServer) {
		t.Fatalf("expected ErrNoServer, got %v", err)
	}
}

func TestStartMissingBinary(t *testing.T) {
	t.Parallel()

	_, err := Start(context.Background(), "coverbridge-missing-langserver --stdio", t.TempDir(), lang.Python, Options{})
	if err == nil {
		t.Fatalf("expected start error")
	}
}

func TestWithin(t *testing.T) {
	t.Parallel()

	root := filepath.FromSlash("/work/proj")
	if !within(root, filepath.FromSlash("/work/proj/a/b.py")) {
		t.Fatalf("expected nested path to be within root")
	}
	if within(root, filepath.FromSlash("/work/other/b.py")) {
		t.Fatalf("expected sibling path to be outside root")
	}
	if !within(root, filepath.FromSlash("/work/proj/..hidden/x.py")) {
		t.Fatalf("expected dot-dot prefixed directory name to be within root")
	}
}
