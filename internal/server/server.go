package server

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config/loader"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config/watcher"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/logging"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/lsp"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/scheduler"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/validator"
)

// ConfigSection is the client settings section read by the server.
const ConfigSection = "cSpell"

// MethodIsSpellCheckEnabled reports whether a document is checked and why not.
const MethodIsSpellCheckEnabled = "cSpell/isSpellCheckEnabled"

const pullTimeout = 5 * time.Second

// Server handles LSP messages for the spell checker.
type Server struct {
	client    Client
	docs      *lsp.DocumentStore
	provider  *config.Provider
	validator *validator.Validator
	sched     *scheduler.Scheduler
	log       *logging.Logger
	name      string
	version   string

	schedOpts []scheduler.Option

	mu           sync.Mutex
	initialized  bool
	shuttingDown bool
	pullConfig   bool
	folders      []string
	watcher      *watcher.Watcher

	exitOnce sync.Once
	exited   chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithVersion sets the version reported in the initialize result.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithSchedulerOptions passes options to the validation scheduler.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(s *Server) { s.schedOpts = append(s.schedOpts, opts...) }
}

// New creates a server that answers client through provider and validator.
func New(client Client, provider *config.Provider, v *validator.Validator, opts ...Option) *Server {
	s := &Server{
		client:    client,
		docs:      lsp.NewDocumentStore(),
		provider:  provider,
		validator: v,
		log:       logging.Default().WithComponent("server"),
		name:      "cspell-lsp",
		exited:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	schedOpts := append([]scheduler.Option{scheduler.WithLogger(s.log.WithComponent("scheduler"))}, s.schedOpts...)
	s.sched = scheduler.New(
		settingsSource{provider: provider, validator: v},
		v,
		publisher{client: client, log: s.log},
		schedOpts...,
	)
	return s
}

// WatchConfigFiles re-validates open documents whenever w reports a change
// to a configuration file. Workspace folder roots are added to w as they
// become known, so a settings file created there is picked up.
func (s *Server) WatchConfigFiles(w *watcher.Watcher) {
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	w.OnChange(func(events []watcher.Event) {
		for _, ev := range events {
			s.log.Info("configuration file %s: %s", ev.Op, ev.Path)
		}
		s.sched.OnConfigurationChanged()
	})
}

// Done is closed when the client sends exit.
func (s *Server) Done() <-chan struct{} {
	return s.exited
}

// ExitCode is 0 when shutdown preceded exit and 1 otherwise.
func (s *Server) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		return 0
	}
	return 1
}

// Close stops the scheduler and waits for background configuration pulls.
func (s *Server) Close() {
	s.sched.Shutdown()
	s.wg.Wait()
}

// Handle implements lsp.Handler.
func (s *Server) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case lsp.MethodInitialize:
		return s.initialize(params)
	case lsp.MethodExit:
		s.exitOnce.Do(func() { close(s.exited) })
		return nil, nil
	case lsp.MethodCancelRequest, "$/setTrace":
		return nil, nil
	}

	s.mu.Lock()
	initialized, shuttingDown := s.initialized, s.shuttingDown
	s.mu.Unlock()
	if !initialized {
		return nil, lsp.NewError(lsp.CodeServerNotInitialized, "server not initialized")
	}
	if shuttingDown {
		return nil, lsp.NewError(lsp.CodeInvalidRequest, "server is shutting down")
	}

	switch method {
	case lsp.MethodInitialized:
		s.mu.Lock()
		pull := s.pullConfig
		s.mu.Unlock()
		if pull {
			s.pullConfiguration()
		}
		return nil, nil
	case lsp.MethodShutdown:
		s.mu.Lock()
		s.shuttingDown = true
		s.mu.Unlock()
		s.sched.Shutdown()
		return nil, nil
	case lsp.MethodDidOpen:
		return nil, s.didOpen(params)
	case lsp.MethodDidChange:
		return nil, s.didChange(params)
	case lsp.MethodWillSave:
		return nil, s.willSave(params)
	case lsp.MethodDidSave:
		return nil, s.didSave(params)
	case lsp.MethodDidClose:
		return nil, s.didClose(params)
	case lsp.MethodDidChangeConfiguration:
		return nil, s.didChangeConfiguration(params)
	case lsp.MethodDidChangeWorkspaceFolder:
		return nil, s.didChangeWorkspaceFolders(params)
	case MethodIsSpellCheckEnabled:
		return s.isSpellCheckEnabled(ctx, params)
	}
	return nil, lsp.ErrMethodNotFound
}

func (s *Server) initialize(params json.RawMessage) (any, error) {
	var p lsp.InitializeParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	folders := workspacePaths(p)
	s.provider.SetWorkspaceFolders(folders...)
	if len(p.InitializationOptions) > 0 {
		if section := loader.Section(p.InitializationOptions, ConfigSection); len(section) > 0 {
			s.provider.SetClientSettings(section)
		}
	}

	s.mu.Lock()
	s.initialized = true
	s.folders = folders
	s.pullConfig = p.Capabilities.Workspace != nil && p.Capabilities.Workspace.Configuration
	s.mu.Unlock()
	s.watchFolders(nil, folders)

	if p.ClientInfo != nil {
		s.log.Info("initialized by %s %s", p.ClientInfo.Name, p.ClientInfo.Version)
	}

	return lsp.InitializeResult{
		Capabilities: lsp.ServerCapabilities{
			TextDocumentSync: &lsp.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    lsp.TextDocumentSyncKindIncremental,
				WillSave:  true,
				Save:      &lsp.SaveOptions{IncludeText: true},
			},
			Workspace: &lsp.ServerWorkspaceCapabilities{
				WorkspaceFolders: &lsp.WorkspaceFoldersServerCapabilities{
					Supported:           true,
					ChangeNotifications: true,
				},
			},
		},
		ServerInfo: &lsp.ServerInfo{Name: s.name, Version: s.version},
	}, nil
}

func (s *Server) didOpen(params json.RawMessage) error {
	var p lsp.DidOpenTextDocumentParams
	if err := decode(params, &p); err != nil {
		return err
	}
	s.submit(s.docs.Open(p.TextDocument))
	return nil
}

func (s *Server) didChange(params json.RawMessage) error {
	var p lsp.DidChangeTextDocumentParams
	if err := decode(params, &p); err != nil {
		return err
	}
	doc, err := s.docs.Change(p.TextDocument, p.ContentChanges)
	if err != nil {
		return err
	}
	s.submit(doc)
	return nil
}

func (s *Server) willSave(params json.RawMessage) error {
	var p lsp.WillSaveTextDocumentParams
	if err := decode(params, &p); err != nil {
		return err
	}
	doc, ok := s.docs.Get(p.TextDocument.URI)
	if !ok {
		return lsp.ErrDocumentNotOpen
	}
	s.sched.OnWillSave(string(doc.URI), doc.Version)
	return nil
}

func (s *Server) didSave(params json.RawMessage) error {
	var p lsp.DidSaveTextDocumentParams
	if err := decode(params, &p); err != nil {
		return err
	}
	before, _ := s.docs.Get(p.TextDocument.URI)
	doc, err := s.docs.Save(p.TextDocument.URI, p.Text)
	if err != nil {
		return err
	}
	s.sched.OnDidSave(string(doc.URI), doc.Version)
	if doc.Text != before.Text {
		s.submit(doc)
	}
	return nil
}

func (s *Server) didClose(params json.RawMessage) error {
	var p lsp.DidCloseTextDocumentParams
	if err := decode(params, &p); err != nil {
		return err
	}
	if err := s.docs.Close(p.TextDocument.URI); err != nil {
		s.log.Debug("close: %v", err)
	}
	s.sched.OnClose(string(p.TextDocument.URI))
	return nil
}

func (s *Server) didChangeConfiguration(params json.RawMessage) error {
	var p lsp.DidChangeConfigurationParams
	if err := decode(params, &p); err != nil {
		return err
	}

	s.mu.Lock()
	pull := s.pullConfig
	s.mu.Unlock()

	if len(p.Settings) == 0 || string(p.Settings) == "null" {
		if pull {
			s.pullConfiguration()
			return nil
		}
	} else {
		s.provider.SetClientSettings(loader.Section(p.Settings, ConfigSection))
	}
	s.sched.OnConfigurationChanged()
	return nil
}

func (s *Server) didChangeWorkspaceFolders(params json.RawMessage) error {
	var p lsp.DidChangeWorkspaceFoldersParams
	if err := decode(params, &p); err != nil {
		return err
	}
	s.mu.Lock()
	before := slices.Clone(s.folders)
	folders := s.applyFolderChange(p.Event)
	s.mu.Unlock()

	s.provider.SetWorkspaceFolders(folders...)
	s.watchFolders(before, folders)
	s.sched.OnConfigurationChanged()
	return nil
}

// pullConfiguration asks the client for the settings section in the
// background; the reply arrives through the same read loop.
func (s *Server) pullConfiguration() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), pullTimeout)
		defer cancel()

		var result []json.RawMessage
		params := lsp.ConfigurationParams{Items: []lsp.ConfigurationItem{{Section: ConfigSection}}}
		if err := s.client.Call(ctx, lsp.MethodWorkspaceConfiguration, params, &result); err != nil {
			if !errors.Is(err, lsp.ErrShutdown) {
				s.log.Warn("fetching client configuration: %v", err)
			}
			return
		}

		settings := map[string]any{}
		if len(result) > 0 {
			if m, err := loader.ParseJSON(lsp.MethodWorkspaceConfiguration, result[0]); err == nil {
				settings = m
			}
		}
		s.provider.SetClientSettings(settings)
		s.sched.OnConfigurationChanged()
	}()
}

// SpellCheckStatus is the result of cSpell/isSpellCheckEnabled.
type SpellCheckStatus struct {
	Enabled    bool     `json:"enabled"`
	Reason     string   `json:"reason,omitempty"`
	ExcludedBy []string `json:"excludedBy,omitempty"`
	ConfigFile string   `json:"configFile,omitempty"`
}

func (s *Server) isSpellCheckEnabled(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		TextDocument lsp.TextDocumentIdentifier `json:"textDocument"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	uri := p.TextDocument.URI
	doc := scheduler.Document{URI: string(uri), LanguageID: lsp.DetectLanguageID(lsp.URIToFilePath(uri))}
	if open, ok := s.docs.Get(uri); ok {
		doc = toSchedulerDoc(open)
	}

	settings, err := s.provider.Get(ctx, doc.URI)
	if err != nil {
		return nil, err
	}
	d := s.validator.ShouldCheck(doc, settings)
	return SpellCheckStatus{
		Enabled:    d.Check,
		Reason:     d.Reason,
		ExcludedBy: d.ExcludedBy,
		ConfigFile: settings.Source,
	}, nil
}

func (s *Server) submit(doc lsp.TextDocument) {
	s.sched.Submit(toSchedulerDoc(doc))
}

func toSchedulerDoc(doc lsp.TextDocument) scheduler.Document {
	return scheduler.Document{
		URI:        string(doc.URI),
		Version:    doc.Version,
		Text:       doc.Text,
		LanguageID: doc.LanguageID,
	}
}

// workspacePaths returns the file system roots of the workspace, falling
// back to rootUri and then rootPath for clients without folder support.
func workspacePaths(p lsp.InitializeParams) []string {
	var paths []string
	for _, f := range p.WorkspaceFolders {
		if path, ok := config.URIToPath(string(f.URI)); ok {
			paths = append(paths, path)
		}
	}
	if len(paths) > 0 {
		return paths
	}
	if path, ok := config.URIToPath(string(p.RootURI)); ok {
		return []string{path}
	}
	if p.RootPath != "" {
		return []string{p.RootPath}
	}
	return nil
}

// watchFolders moves the configuration watcher from the roots in before to
// the roots in after.
func (s *Server) watchFolders(before, after []string) {
	s.mu.Lock()
	w := s.watcher
	s.mu.Unlock()
	if w == nil {
		return
	}
	for _, dir := range after {
		if !slices.Contains(before, dir) {
			if err := w.WatchDir(dir); err != nil {
				s.log.Warn("watching workspace folder %s: %v", dir, err)
			}
		}
	}
	for _, dir := range before {
		if !slices.Contains(after, dir) {
			if err := w.UnwatchDir(dir); err != nil {
				s.log.Warn("unwatching workspace folder %s: %v", dir, err)
			}
		}
	}
}

// applyFolderChange updates the tracked folders. s.mu must be held.
func (s *Server) applyFolderChange(ev lsp.WorkspaceFoldersChangeEvent) []string {
	removed := make(map[string]bool, len(ev.Removed))
	for _, f := range ev.Removed {
		if path, ok := config.URIToPath(string(f.URI)); ok {
			removed[path] = true
		}
	}
	folders := s.folders[:0:0]
	for _, f := range s.folders {
		if !removed[f] {
			folders = append(folders, f)
		}
	}
	for _, f := range ev.Added {
		if path, ok := config.URIToPath(string(f.URI)); ok && !slices.Contains(folders, path) {
			folders = append(folders, path)
		}
	}
	s.folders = folders
	return slices.Clone(folders)
}
