package server

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config/loader"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config/watcher"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/logging"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/lsp"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/pattern"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/regexworker"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/scheduler"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/validator"
)

const waitTimeout = 3 * time.Second

type fakeClient struct {
	published chan lsp.PublishDiagnosticsParams

	mu      sync.Mutex
	calls   []string
	section json.RawMessage
	callErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{published: make(chan lsp.PublishDiagnosticsParams, 64)}
}

func (c *fakeClient) Notify(ctx context.Context, method string, params any) error {
	if method == lsp.MethodPublishDiagnostics {
		c.published <- params.(lsp.PublishDiagnosticsParams)
	}
	return nil
}

func (c *fakeClient) Call(ctx context.Context, method string, params any, result any) error {
	c.mu.Lock()
	c.calls = append(c.calls, method)
	section, err := c.section, c.callErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	data, _ := json.Marshal([]json.RawMessage{section})
	return json.Unmarshal(data, result)
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *fakeClient) next(t *testing.T, uri string) lsp.PublishDiagnosticsParams {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case p := <-c.published:
			if string(p.URI) == uri {
				return p
			}
		case <-deadline:
			t.Fatalf("no diagnostics published for %s", uri)
		}
	}
}

type testServer struct {
	*Server
	client *fakeClient
	root   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()
	client := newFakeClient()

	provider := config.NewProvider(
		config.WithProviderLogger(logging.Nop()),
		config.WithEnv(loader.NewEnvLoaderWithEnviron(loader.EnvPrefix, nil)),
	)
	worker := regexworker.New(regexworker.WithTimeout(time.Second))
	matcher := pattern.NewMatcher(worker, pattern.WithLogger(logging.Nop()))
	v := validator.New(matcher,
		validator.WithDictionary(validator.NewWordList("hello", "world", "this", "text")),
		validator.WithLogger(logging.Nop()),
	)

	s := New(client, provider, v,
		WithLogger(logging.Nop()),
		WithVersion("test"),
		WithSchedulerOptions(scheduler.WithSettleWindows(10*time.Millisecond, 10*time.Millisecond)),
	)
	t.Cleanup(func() {
		s.Close()
		provider.Close()
		_ = matcher.Close()
	})
	return &testServer{Server: s, client: client, root: root}
}

func (ts *testServer) uri(name string) string {
	return "file://" + filepath.ToSlash(filepath.Join(ts.root, name))
}

func (ts *testServer) send(t *testing.T, method string, params any) (any, error) {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			t.Fatal(err)
		}
		raw = data
	}
	return ts.Handle(context.Background(), method, raw)
}

func (ts *testServer) initialize(t *testing.T, caps lsp.ClientCapabilities) lsp.InitializeResult {
	t.Helper()
	result, err := ts.send(t, lsp.MethodInitialize, lsp.InitializeParams{
		RootURI:      lsp.DocumentURI("file://" + filepath.ToSlash(ts.root)),
		Capabilities: caps,
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := ts.send(t, lsp.MethodInitialized, struct{}{}); err != nil {
		t.Fatalf("initialized: %v", err)
	}
	return result.(lsp.InitializeResult)
}

func (ts *testServer) open(t *testing.T, name, text string) string {
	t.Helper()
	uri := ts.uri(name)
	_, err := ts.send(t, lsp.MethodDidOpen, lsp.DidOpenTextDocumentParams{
		TextDocument: lsp.TextDocumentItem{URI: lsp.DocumentURI(uri), LanguageID: "plaintext", Version: 1, Text: text},
	})
	if err != nil {
		t.Fatalf("didOpen: %v", err)
	}
	return uri
}

func messages(diags []lsp.Diagnostic) []string {
	out := make([]string, len(diags))
	for i, d := range diags {
		out[i] = d.Message
	}
	return out
}

func rpcCode(err error) int {
	var rpcErr *lsp.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	return 0
}

func TestRequestBeforeInitialize(t *testing.T) {
	ts := newTestServer(t)

	_, err := ts.send(t, lsp.MethodDidOpen, lsp.DidOpenTextDocumentParams{})
	assert.Equal(t, rpcCode(err), lsp.CodeServerNotInitialized)
}

func TestInitializeCapabilities(t *testing.T) {
	ts := newTestServer(t)
	result := ts.initialize(t, lsp.ClientCapabilities{})

	opts := result.Capabilities.TextDocumentSync
	assert.Equal(t, opts.OpenClose, true)
	assert.Equal(t, opts.Change, lsp.TextDocumentSyncKindIncremental)
	assert.Equal(t, opts.WillSave, true)
	assert.Equal(t, opts.Save.IncludeText, true)
	assert.Equal(t, result.ServerInfo.Version, "test")
	assert.Equal(t, ts.client.callCount(), 0)
}

func TestOpenPublishesDiagnostics(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t, lsp.ClientCapabilities{})

	uri := ts.open(t, "a.txt", "hello wrld")
	p := ts.client.next(t, uri)
	assert.Equal(t, p.Version, 1)
	assert.Equal(t, messages(p.Diagnostics), []string{`"wrld": Unknown word.`})
	assert.Equal(t, p.Diagnostics[0].Range.Start.Character, 6)
}

func TestChangeRevalidates(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t, lsp.ClientCapabilities{})

	uri := ts.open(t, "a.txt", "hello wrld")
	ts.client.next(t, uri)

	_, err := ts.send(t, lsp.MethodDidChange, lsp.DidChangeTextDocumentParams{
		TextDocument: lsp.VersionedTextDocumentIdentifier{TextDocumentIdentifier: lsp.TextDocumentIdentifier{URI: lsp.DocumentURI(uri)}, Version: 2},
		ContentChanges: []lsp.TextDocumentContentChangeEvent{{
			Range: &lsp.Range{Start: lsp.Position{Line: 0, Character: 6}, End: lsp.Position{Line: 0, Character: 10}},
			Text:  "world",
		}},
	})
	assert.Equal(t, err, nil)

	p := ts.client.next(t, uri)
	assert.Equal(t, p.Version, 2)
	assert.Equal(t, len(p.Diagnostics), 0)
}

func TestChangeUnknownDocument(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t, lsp.ClientCapabilities{})

	_, err := ts.send(t, lsp.MethodDidChange, lsp.DidChangeTextDocumentParams{
		TextDocument: lsp.VersionedTextDocumentIdentifier{TextDocumentIdentifier: lsp.TextDocumentIdentifier{URI: "file:///missing.txt"}, Version: 2},
	})
	assert.Equal(t, errors.Is(err, lsp.ErrDocumentNotOpen), true)
}

func TestCloseClearsDiagnostics(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t, lsp.ClientCapabilities{})

	uri := ts.open(t, "a.txt", "hello wrld")
	ts.client.next(t, uri)

	_, err := ts.send(t, lsp.MethodDidClose, lsp.DidCloseTextDocumentParams{TextDocument: lsp.TextDocumentIdentifier{URI: lsp.DocumentURI(uri)}})
	assert.Equal(t, err, nil)

	p := ts.client.next(t, uri)
	assert.Equal(t, len(p.Diagnostics), 0)
	assert.Equal(t, p.Diagnostics != nil, true)
}

func TestSaveWithNewTextRevalidates(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t, lsp.ClientCapabilities{})

	uri := ts.open(t, "a.txt", "hello wrld")
	ts.client.next(t, uri)

	id := lsp.TextDocumentIdentifier{URI: lsp.DocumentURI(uri)}
	_, err := ts.send(t, lsp.MethodWillSave, lsp.WillSaveTextDocumentParams{TextDocument: id, Reason: lsp.SaveReasonManual})
	assert.Equal(t, err, nil)

	text := "hello world"
	_, err = ts.send(t, lsp.MethodDidSave, lsp.DidSaveTextDocumentParams{TextDocument: id, Text: &text})
	assert.Equal(t, err, nil)

	p := ts.client.next(t, uri)
	assert.Equal(t, len(p.Diagnostics), 0)
}

func TestDidChangeConfigurationPushedSettings(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t, lsp.ClientCapabilities{})

	uri := ts.open(t, "a.txt", "hello wrld")
	ts.client.next(t, uri)

	_, err := ts.send(t, lsp.MethodDidChangeConfiguration, map[string]any{
		"settings": map[string]any{"cSpell": map[string]any{"words": []string{"wrld"}}},
	})
	assert.Equal(t, err, nil)

	p := ts.client.next(t, uri)
	assert.Equal(t, len(p.Diagnostics), 0)
}

func TestConfigurationPulledOnInitialized(t *testing.T) {
	ts := newTestServer(t)
	ts.client.section = json.RawMessage(`{"flagWords": ["hello"]}`)
	ts.initialize(t, lsp.ClientCapabilities{Workspace: &lsp.WorkspaceClientCapabilities{Configuration: true}})

	uri := ts.open(t, "a.txt", "hello world")

	deadline := time.After(waitTimeout)
	for {
		select {
		case p := <-ts.client.published:
			if string(p.URI) == uri && len(p.Diagnostics) == 1 {
				assert.Equal(t, p.Diagnostics[0].Message, `"hello": Forbidden word.`)
				assert.Equal(t, ts.client.callCount(), 1)
				return
			}
		case <-deadline:
			t.Fatal("pulled settings were never applied")
		}
	}
}

func TestConfigurationPullFailureKeepsServing(t *testing.T) {
	ts := newTestServer(t)
	ts.client.callErr = errors.New("no configuration")
	ts.initialize(t, lsp.ClientCapabilities{Workspace: &lsp.WorkspaceClientCapabilities{Configuration: true}})

	uri := ts.open(t, "a.txt", "hello wrld")
	p := ts.client.next(t, uri)
	assert.Equal(t, len(p.Diagnostics), 1)
}

func TestIsSpellCheckEnabled(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t, lsp.ClientCapabilities{})

	tests := []struct {
		name    string
		uri     string
		enabled bool
		reason  string
	}{
		{"plain file", ts.uri("notes.txt"), true, ""},
		{"ignored path", ts.uri("node_modules/pkg/readme.md"), false, validator.ReasonExcludedPath},
		{"scheme", "vscode-notebook://x/y.txt", false, validator.ReasonSchemeNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ts.send(t, MethodIsSpellCheckEnabled, map[string]any{
				"textDocument": map[string]any{"uri": tt.uri},
			})
			assert.Equal(t, err, nil)
			status := result.(SpellCheckStatus)
			assert.Equal(t, status.Enabled, tt.enabled)
			assert.Equal(t, status.Reason, tt.reason)
		})
	}
}

func TestWorkspaceFolderChanges(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t, lsp.ClientCapabilities{})

	other := t.TempDir()
	_, err := ts.send(t, lsp.MethodDidChangeWorkspaceFolder, lsp.DidChangeWorkspaceFoldersParams{
		Event: lsp.WorkspaceFoldersChangeEvent{
			Added:   []lsp.WorkspaceFolder{{URI: lsp.FilePathToURI(other), Name: "other"}},
			Removed: []lsp.WorkspaceFolder{{URI: lsp.DocumentURI("file://" + filepath.ToSlash(ts.root))}},
		},
	})
	assert.Equal(t, err, nil)

	ts.mu.Lock()
	folders := append([]string(nil), ts.folders...)
	ts.mu.Unlock()
	assert.Equal(t, folders, []string{filepath.Clean(other)})
}

func TestSettingsFileCreatedInWorkspaceFolder(t *testing.T) {
	ts := newTestServer(t)
	w, err := watcher.New(watcher.WithDebounce(50*time.Millisecond), watcher.WithLogger(logging.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = w.Close() })
	ts.WatchConfigFiles(w)
	ts.initialize(t, lsp.ClientCapabilities{})

	uri := ts.open(t, "a.txt", "hello wrld")
	p := ts.client.next(t, uri)
	assert.Equal(t, len(p.Diagnostics), 1)

	err = os.WriteFile(filepath.Join(ts.root, "cspell.json"), []byte(`{"words": ["wrld"]}`), 0o644)
	assert.Equal(t, err, nil)

	// A reload can run before the write is complete.
	deadline := time.Now().Add(waitTimeout)
	for len(p.Diagnostics) != 0 && time.Now().Before(deadline) {
		p = ts.client.next(t, uri)
	}
	assert.Equal(t, len(p.Diagnostics), 0)
}

func TestShutdownAndExit(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t, lsp.ClientCapabilities{})

	_, err := ts.send(t, lsp.MethodShutdown, nil)
	assert.Equal(t, err, nil)

	_, err = ts.send(t, lsp.MethodDidOpen, lsp.DidOpenTextDocumentParams{})
	assert.Equal(t, rpcCode(err), lsp.CodeInvalidRequest)

	_, err = ts.send(t, lsp.MethodExit, nil)
	assert.Equal(t, err, nil)

	select {
	case <-ts.Done():
	case <-time.After(waitTimeout):
		t.Fatal("Done not closed after exit")
	}
	assert.Equal(t, ts.ExitCode(), 0)
}

func TestExitWithoutShutdown(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t, lsp.ClientCapabilities{})

	_, _ = ts.send(t, lsp.MethodExit, nil)
	<-ts.Done()
	assert.Equal(t, ts.ExitCode(), 1)
}

func TestUnknownMethod(t *testing.T) {
	ts := newTestServer(t)
	ts.initialize(t, lsp.ClientCapabilities{})

	_, err := ts.send(t, "cSpell/unknown", nil)
	assert.Equal(t, errors.Is(err, lsp.ErrMethodNotFound), true)
}
