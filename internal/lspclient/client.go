// Package lspclient drives a language server over JSON-RPC to find the files
// related to a source file.
//
// A Client owns one language server process rooted at a project directory.
// Related files are the files that reference the top-level symbols of the
// source file, as answered by textDocument/documentSymbol followed by
// textDocument/references.
package lspclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"pkt.systems/pslog"

	"pkt.systems/coverbridge/internal/lang"
	"pkt.systems/coverbridge/internal/svcfields"
	"pkt.systems/coverbridge/internal/version"
)

var (
	// ErrNotStarted is returned when a Client is used after Close or before
	// the server finished initialising.
	ErrNotStarted = errors.New("lspclient: language server not started")
	// ErrNoServer is returned when no server command is configured for a language.
	ErrNoServer = errors.New("lspclient: no language server configured")
)

const (
	// DefaultMaxSymbols caps how many top-level symbols are resolved per file.
	DefaultMaxSymbols = 25
	// DefaultRequestTimeout bounds each request sent to the server.
	DefaultRequestTimeout = 10 * time.Second
	shutdownTimeout       = 2 * time.Second
)

// DefaultCommands returns the stock language server command per language.
func DefaultCommands() map[lang.Language]string {
	tsserver := "typescript-language-server --stdio"
	return map[lang.Language]string{
		lang.Python:     "pyright-langserver --stdio",
		lang.Go:         "gopls",
		lang.JavaScript: tsserver,
		lang.TypeScript: tsserver,
		lang.Java:       "jdtls",
	}
}

// Options tune a Client.
type Options struct {
	MaxSymbols     int
	RequestTimeout time.Duration
	Logger         pslog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxSymbols <= 0 {
		o.MaxSymbols = DefaultMaxSymbols
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	o.Logger = svcfields.WithSubsystem(o.Logger, svcfields.LSPClient)
	return o
}

// Client is a connection to one initialised language server.
type Client struct {
	root     string
	language lang.Language
	opts     Options
	logger   pslog.Logger

	conn jsonrpc2.Conn
	cmd  *exec.Cmd

	mu      sync.Mutex
	opened  map[string]struct{}
	closed  bool
	started time.Time
}

// Start spawns command (split with shell quoting rules) in root and
// initialises it as the language server of language.
func Start(ctx context.Context, command, root string, language lang.Language, opts Options) (*Client, error) {
	args, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("lspclient: parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoServer, language)
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = root
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("lspclient: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("lspclient: stdout pipe: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("lspclient: start %s: %w", args[0], err)
	}
	c, err := Dial(ctx, &processStream{ReadCloser: stdout, WriteCloser: stdin}, root, language, opts)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}
	c.cmd = cmd
	c.logger.Info("lsp.server.started", "command", command, "pid", cmd.Process.Pid)
	return c, nil
}

// Dial runs the initialize handshake over an already connected stream.
func Dial(ctx context.Context, rwc io.ReadWriteCloser, root string, language lang.Language, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("lspclient: resolve root: %w", err)
	}
	c := &Client{
		root:     abs,
		language: language,
		opts:     opts,
		logger:   opts.Logger.With("root", abs, "language", language.String()),
		opened:   make(map[string]struct{}),
		started:  time.Now(),
	}
	c.conn = jsonrpc2.NewConn(jsonrpc2.NewStream(rwc))
	c.conn.Go(context.Background(), c.handle)

	if err := c.initialize(ctx); err != nil {
		_ = c.conn.Close()
		return nil, err
	}
	c.logger.Debug("lsp.initialized", "elapsed", time.Since(c.started).String())
	return c, nil
}

// Root returns the absolute project root the server was started in.
func (c *Client) Root() string { return c.root }

// Language returns the language the server was started for.
func (c *Client) Language() lang.Language { return c.language }

func (c *Client) initialize(ctx context.Context) error {
	rootURI := protocol.DocumentURI(uri.File(c.root))
	params := &protocol.InitializeParams{
		ProcessID: int32(os.Getpid()),
		ClientInfo: &protocol.ClientInfo{
			Name:    "coverbridge",
			Version: version.Current(),
		},
		RootURI: rootURI,
		WorkspaceFolders: []protocol.WorkspaceFolder{{
			URI:  string(rootURI),
			Name: filepath.Base(c.root),
		}},
		Capabilities: protocol.ClientCapabilities{
			TextDocument: &protocol.TextDocumentClientCapabilities{
				DocumentSymbol: &protocol.DocumentSymbolClientCapabilities{
					HierarchicalDocumentSymbolSupport: true,
				},
				References: &protocol.ReferencesTextDocumentClientCapabilities{},
			},
		},
	}
	var result json.RawMessage
	if err := c.call(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return fmt.Errorf("lspclient: initialize: %w", err)
	}
	if err := c.conn.Notify(ctx, protocol.MethodInitialized, &protocol.InitializedParams{}); err != nil {
		return fmt.Errorf("lspclient: initialized: %w", err)
	}
	return nil
}

// handle answers server-to-client requests with empty results so servers that
// ask for configuration or progress tokens keep going.
func (c *Client) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	switch req.Method() {
	case protocol.MethodWorkspaceConfiguration:
		var params protocol.ConfigurationParams
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			return reply(ctx, []any{}, nil)
		}
		return reply(ctx, make([]any, len(params.Items)), nil)
	case protocol.MethodWorkspaceWorkspaceFolders:
		rootURI := string(uri.File(c.root))
		return reply(ctx, []protocol.WorkspaceFolder{{URI: rootURI, Name: filepath.Base(c.root)}}, nil)
	}
	return reply(ctx, nil, nil)
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	_, err := c.conn.Call(ctx, method, params, result)
	return err
}

// RelatedFiles returns the files under the project root, other than
// sourceFile, that reference one of its top-level symbols. The result is
// sorted.
func (c *Client) RelatedFiles(ctx context.Context, sourceFile string) ([]string, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrNotStarted
	}
	abs, err := filepath.Abs(sourceFile)
	if err != nil {
		return nil, fmt.Errorf("lspclient: resolve source: %w", err)
	}
	docURI := protocol.DocumentURI(uri.File(abs))
	if err := c.open(ctx, abs, docURI); err != nil {
		return nil, err
	}

	symbols, err := c.documentSymbols(ctx, docURI)
	if err != nil {
		return nil, err
	}
	if len(symbols) > c.opts.MaxSymbols {
		symbols = symbols[:c.opts.MaxSymbols]
	}

	related := make(map[string]struct{})
	for _, sym := range symbols {
		params := &protocol.ReferenceParams{
			TextDocumentPositionParams: protocol.TextDocumentPositionParams{
				TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
				Position:     sym.position,
			},
			Context: protocol.ReferenceContext{IncludeDeclaration: false},
		}
		var locations []protocol.Location
		if err := c.call(ctx, protocol.MethodTextDocumentReferences, params, &locations); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Debug("lsp.references.failed", "symbol", sym.name, "error", err)
			continue
		}
		for _, loc := range locations {
			path, ok := fileFromURI(loc.URI)
			if !ok || path == abs || !within(c.root, path) {
				continue
			}
			related[path] = struct{}{}
		}
	}

	out := make([]string, 0, len(related))
	for path := range related {
		out = append(out, path)
	}
	sort.Strings(out)
	c.logger.Debug("lsp.related_files", "source", abs, "symbols", len(symbols), "related", len(out))
	return out, nil
}

func (c *Client) open(ctx context.Context, path string, docURI protocol.DocumentURI) error {
	c.mu.Lock()
	_, done := c.opened[path]
	c.mu.Unlock()
	if done {
		return nil
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("lspclient: read %s: %w", path, err)
	}
	params := &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        docURI,
			LanguageID: protocol.LanguageIdentifier(c.language.LanguageID()),
			Version:    1,
			Text:       string(text),
		},
	}
	if err := c.conn.Notify(ctx, protocol.MethodTextDocumentDidOpen, params); err != nil {
		return fmt.Errorf("lspclient: didOpen: %w", err)
	}
	c.mu.Lock()
	c.opened[path] = struct{}{}
	c.mu.Unlock()
	return nil
}

type symbolRef struct {
	name     string
	position protocol.Position
}

// wireSymbol decodes both DocumentSymbol and SymbolInformation answers.
type wireSymbol struct {
	Name           string             `json:"name"`
	Range          *protocol.Range    `json:"range,omitempty"`
	SelectionRange *protocol.Range    `json:"selectionRange,omitempty"`
	Location       *protocol.Location `json:"location,omitempty"`
	ContainerName  string             `json:"containerName,omitempty"`
}

func (c *Client) documentSymbols(ctx context.Context, docURI protocol.DocumentURI) ([]symbolRef, error) {
	params := &protocol.DocumentSymbolParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
	}
	var raw []wireSymbol
	if err := c.call(ctx, protocol.MethodTextDocumentDocumentSymbol, params, &raw); err != nil {
		return nil, fmt.Errorf("lspclient: documentSymbol: %w", err)
	}
	out := make([]symbolRef, 0, len(raw))
	for _, sym := range raw {
		if sym.ContainerName != "" {
			continue
		}
		switch {
		case sym.SelectionRange != nil:
			out = append(out, symbolRef{name: sym.Name, position: sym.SelectionRange.Start})
		case sym.Location != nil:
			out = append(out, symbolRef{name: sym.Name, position: sym.Location.Range.Start})
		case sym.Range != nil:
			out = append(out, symbolRef{name: sym.Name, position: sym.Range.Start})
		}
	}
	return out, nil
}

// Close shuts the server down politely and then releases the process.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if _, err := c.conn.Call(shutdownCtx, protocol.MethodShutdown, nil, nil); err != nil {
		c.logger.Debug("lsp.shutdown.failed", "error", err)
	} else {
		_ = c.conn.Notify(shutdownCtx, protocol.MethodExit, nil)
	}
	err := c.conn.Close()
	if c.cmd != nil {
		waitErr := make(chan error, 1)
		go func() { waitErr <- c.cmd.Wait() }()
		select {
		case <-waitErr:
		case <-shutdownCtx.Done():
			_ = c.cmd.Process.Kill()
			<-waitErr
		}
	}
	c.logger.Info("lsp.server.stopped", "uptime", time.Since(c.started).String())
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("lspclient: close: %w", err)
	}
	return nil
}

// fileFromURI converts a file URI to a path. Other schemes are rejected
// because uri.URI.Filename panics on them.
func fileFromURI(u protocol.DocumentURI) (string, bool) {
	parsed, err := url.ParseRequestURI(string(u))
	if err != nil || parsed.Scheme != uri.FileScheme {
		return "", false
	}
	return filepath.Clean(uri.URI(u).Filename()), true
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// processStream joins the pipes of a child process into one stream.
type processStream struct {
	io.ReadCloser
	io.WriteCloser
}

func (s *processStream) Close() error {
	werr := s.WriteCloser.Close()
	rerr := s.ReadCloser.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
