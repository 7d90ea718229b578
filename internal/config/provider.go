package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config/loader"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config/schema"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/glob"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/logging"
)

const (
	defaultTTL      = 5 * time.Minute
	defaultCapacity = 1000
)

// Provider computes and caches settings per document URI.
type Provider struct {
	fs    loader.FileSystem
	env   *loader.EnvLoader
	globs *glob.Set
	log   *logging.Logger
	ttl   time.Duration

	checker *schema.Checker
	onFile  func(path string)

	cache     *ttlcache.Cache[string, Settings]
	closeOnce sync.Once

	mu       sync.RWMutex
	folders  []string
	explicit string
	client   map[string]any
	files    map[string]struct{}
	closed   bool
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithFileSystem sets the file system configuration files are read from.
func WithFileSystem(fsys loader.FileSystem) ProviderOption {
	return func(p *Provider) {
		if fsys != nil {
			p.fs = fsys
		}
	}
}

// WithConfigFile sets an explicit configuration file.
func WithConfigFile(path string) ProviderOption {
	return func(p *Provider) {
		p.explicit = path
	}
}

// WithWorkspaceFolders sets the workspace folder paths.
func WithWorkspaceFolders(folders ...string) ProviderOption {
	return func(p *Provider) {
		p.folders = cleanFolders(folders)
	}
}

// WithEnv sets the environment override loader.
func WithEnv(env *loader.EnvLoader) ProviderOption {
	return func(p *Provider) {
		p.env = env
	}
}

// WithTTL sets how long a computed snapshot stays cached.
func WithTTL(d time.Duration) ProviderOption {
	return func(p *Provider) {
		if d > 0 {
			p.ttl = d
		}
	}
}

// WithProviderLogger sets the logger.
func WithProviderLogger(l *logging.Logger) ProviderOption {
	return func(p *Provider) {
		if l != nil {
			p.log = l
		}
	}
}

// OnConfigFile registers a callback invoked the first time a configuration
// file is read.
func OnConfigFile(fn func(path string)) ProviderOption {
	return func(p *Provider) {
		p.onFile = fn
	}
}

// NewProvider creates a Provider. Close must be called to stop its cache.
func NewProvider(opts ...ProviderOption) *Provider {
	p := &Provider{
		fs:     loader.DefaultFS(),
		env:    loader.NewEnvLoader(loader.EnvPrefix),
		globs:  glob.NewSet(0),
		log:    logging.Default().WithComponent("config"),
		ttl:    defaultTTL,
		client: map[string]any{},
		files:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	sch, err := schema.Settings()
	if err != nil {
		p.log.Warn("settings schema unavailable: %v", err)
	}
	p.checker = schema.NewChecker(sch)

	p.cache = ttlcache.New[string, Settings](
		ttlcache.WithTTL[string, Settings](p.ttl),
		ttlcache.WithCapacity[string, Settings](defaultCapacity),
	)
	go p.cache.Start()

	return p
}

// SetClientSettings replaces the client settings layer.
func (p *Provider) SetClientSettings(settings map[string]any) {
	p.mu.Lock()
	p.client = loader.Clone(settings)
	if p.client == nil {
		p.client = map[string]any{}
	}
	p.mu.Unlock()
}

// SetWorkspaceFolders replaces the workspace folder paths.
func (p *Provider) SetWorkspaceFolders(folders ...string) {
	p.mu.Lock()
	p.folders = cleanFolders(folders)
	p.mu.Unlock()
}

// ConfigFiles returns the configuration files read so far.
func (p *Provider) ConfigFiles() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	files := make([]string, 0, len(p.files))
	for f := range p.files {
		files = append(files, f)
	}
	return files
}

// Get returns the settings for the document at uri.
func (p *Provider) Get(ctx context.Context, uri string) (Settings, error) {
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return Settings{}, ErrProviderClosed
	}

	if item := p.cache.Get(uri); item != nil {
		return item.Value(), nil
	}

	s, err := p.compute(uri)
	if err != nil {
		return Settings{}, err
	}
	p.cache.Set(uri, s, ttlcache.DefaultTTL)
	return s, nil
}

// Reset drops every cached snapshot.
func (p *Provider) Reset() {
	p.cache.DeleteAll()
	p.globs.Clear()
	p.log.Debug("settings cache cleared")
}

// Len returns the number of cached snapshots.
func (p *Provider) Len() int {
	return p.cache.Len()
}

// Close stops the cache. It is safe to call more than once.
func (p *Provider) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cache.Stop()
	})
}

func (p *Provider) compute(uri string) (Settings, error) {
	path := uriPath(uri)

	p.mu.RLock()
	merged := loader.Clone(p.client)
	explicit := p.explicit
	folder := p.folderFor(path)
	p.mu.RUnlock()

	if explicit != "" {
		m, err := p.load(explicit)
		if err != nil {
			return Settings{}, err
		}
		merged = loader.DeepMerge(merged, m)
	}

	var found string
	if path != "" {
		found = loader.FindUp(p.fs, filepath.Dir(path), folder)
		if found != "" && found != explicit {
			m, err := p.load(found)
			if err != nil {
				return Settings{}, err
			}
			merged = loader.DeepMerge(merged, m)
		}
	}

	merged = p.sanitize(uri, merged)

	doc, err := json.Marshal(merged)
	if err != nil {
		return Settings{}, fmt.Errorf("encoding settings for %s: %w", uri, err)
	}
	if p.env != nil {
		if doc, err = p.env.Apply(doc); err != nil {
			return Settings{}, fmt.Errorf("applying environment: %w", err)
		}
	}

	s, err := Decode(doc)
	if err != nil {
		return Settings{}, err
	}

	switch {
	case found != "":
		s.Source = found
	case explicit != "":
		s.Source = explicit
	}
	if s.GlobRoot == "" {
		switch {
		case s.Source != "":
			s.GlobRoot = filepath.Dir(s.Source)
		case folder != "":
			s.GlobRoot = folder
		case path != "":
			s.GlobRoot = filepath.Dir(path)
		}
	}
	s.GlobRoot = filepath.ToSlash(s.GlobRoot)

	s.Compile(p.globs, p.log)
	return s, nil
}

// sanitize drops settings that would not decode so one bad value does not
// discard the whole configuration.
func (p *Provider) sanitize(uri string, merged map[string]any) map[string]any {
	out, dropped := p.checker.Sanitize(merged)
	if len(dropped) > 0 {
		log := p.log.WithField("uri", uri)
		for _, problem := range dropped {
			log.Warn("ignoring setting %s", problem)
		}
	}
	for key, msg := range p.checker.Deprecated(out) {
		p.log.Debug("setting %s is deprecated: %s", key, msg)
	}
	return out
}

// load reads a configuration file and its imports.
func (p *Provider) load(path string) (map[string]any, error) {
	m, err := loader.LoadWithImports(p.fs, path, loader.DefaultImportDepth)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	_, seen := p.files[path]
	p.files[path] = struct{}{}
	p.mu.Unlock()

	if !seen {
		p.log.Info("using configuration %s", path)
		if p.onFile != nil {
			p.onFile(path)
		}
	}
	return m, nil
}

// folderFor returns the longest workspace folder containing path.
// Caller holds p.mu.
func (p *Provider) folderFor(path string) string {
	best := ""
	for _, f := range p.folders {
		if path == f || strings.HasPrefix(path, f+string(filepath.Separator)) {
			if len(f) > len(best) {
				best = f
			}
		}
	}
	if best == "" && path == "" && len(p.folders) > 0 {
		return p.folders[0]
	}
	return best
}

func cleanFolders(folders []string) []string {
	out := make([]string, 0, len(folders))
	for _, f := range folders {
		if f == "" {
			continue
		}
		out = append(out, filepath.Clean(f))
	}
	return out
}

// uriPath returns the file system path of a file URI, or "" for other
// schemes.
func uriPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return ""
	}
	return filepath.FromSlash(u.Path)
}

// URIToPath returns the file system path of a file URI.
func URIToPath(uri string) (string, bool) {
	p := uriPath(uri)
	return p, p != ""
}
