package scheduler

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/logging"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/lsp"
)

// Document is one version of an open text document.
type Document struct {
	URI        string
	Version    int
	Text       string
	LanguageID string
}

// SettingsProvider resolves the effective settings for a document.
type SettingsProvider interface {
	Settings(ctx context.Context, doc Document) (config.Settings, error)
	// Reset invalidates every cached settings snapshot.
	Reset()
}

// Validator produces diagnostics for a document.
type Validator interface {
	Validate(ctx context.Context, doc Document, settings config.Settings) ([]lsp.Diagnostic, error)
}

// Sink receives diagnostics. Publish is called from the scheduler's event
// loop and should not block for long.
type Sink interface {
	Publish(uri string, version int, diagnostics []lsp.Diagnostic)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(uri string, version int, diagnostics []lsp.Diagnostic)

// Publish implements Sink.
func (f SinkFunc) Publish(uri string, version int, diagnostics []lsp.Diagnostic) {
	f(uri, version, diagnostics)
}

const (
	// DefaultConfigSettle is the quiet period after a configuration change
	// before cached settings are dropped.
	DefaultConfigSettle = 100 * time.Millisecond
	// DefaultValidateAllSettle is the quiet period before every open
	// document is re-submitted.
	DefaultValidateAllSettle = 250 * time.Millisecond
)

// Scheduler coordinates validation of open documents.
type Scheduler struct {
	settings  SettingsProvider
	validator Validator
	sink      Sink
	log       *logging.Logger

	retryWhileBusy    bool
	configSettle      time.Duration
	validateAllSettle time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// mailbox
	mu      sync.Mutex
	queue   []event
	wake    chan struct{}
	stopped bool

	done         chan struct{}
	shutdownOnce sync.Once

	// owned by the event loop
	pipelines        map[string]*pipeline
	gate             *gate
	configTimer      *time.Timer
	validateAllTimer *time.Timer
	triggerSeq       uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRetryWhileBusy re-arms the debounce timer instead of dropping the
// release when another validation is running.
func WithRetryWhileBusy() Option {
	return func(s *Scheduler) {
		s.retryWhileBusy = true
	}
}

// WithSettleWindows overrides the configuration-change settle windows.
func WithSettleWindows(config, validateAll time.Duration) Option {
	return func(s *Scheduler) {
		if config > 0 {
			s.configSettle = config
		}
		if validateAll > 0 {
			s.validateAllSettle = validateAll
		}
	}
}

// New creates a Scheduler and starts its event loop.
func New(settings SettingsProvider, validator Validator, sink Sink, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		settings:          settings,
		validator:         validator,
		sink:              sink,
		log:               logging.Default().WithComponent("scheduler"),
		configSettle:      DefaultConfigSettle,
		validateAllSettle: DefaultValidateAllSettle,
		ctx:               ctx,
		cancel:            cancel,
		wake:              make(chan struct{}, 1),
		done:              make(chan struct{}),
		pipelines:         make(map[string]*pipeline),
		gate:              newGate(),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.loop()
	return s
}

// Submit records doc as the latest version wanting validation.
func (s *Scheduler) Submit(doc Document) {
	s.post(submitEvent{doc: doc})
}

// OnWillSave blocks validation of uri until OnDidSave.
func (s *Scheduler) OnWillSave(uri string, version int) {
	s.post(willSaveEvent{uri: uri, version: version})
}

// OnDidSave unblocks uri and re-submits its latest known version.
func (s *Scheduler) OnDidSave(uri string, version int) {
	s.post(didSaveEvent{uri: uri, version: version})
}

// OnConfigurationChanged drops cached settings and re-validates every open
// document once changes have settled.
func (s *Scheduler) OnConfigurationChanged() {
	s.post(configChangedEvent{})
}

// OnClose releases the pipeline for uri and clears its diagnostics.
func (s *Scheduler) OnClose(uri string) {
	s.post(closeEvent{uri: uri})
}

// Shutdown releases every pipeline and stops the event loop. It waits for
// the loop to exit and is safe to call more than once.
func (s *Scheduler) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.queue = append(s.queue, shutdownEvent{})
		s.mu.Unlock()
		s.signal()
	})
	<-s.done
}

// State returns the pipeline state for uri.
func (s *Scheduler) State(uri string) (State, bool, error) {
	var (
		st State
		ok bool
	)
	err := s.query(func() {
		var p *pipeline
		if p, ok = s.pipelines[uri]; ok {
			st = p.state
		}
	})
	return st, ok, err
}

// OpenDocuments returns the URIs with a pipeline, sorted.
func (s *Scheduler) OpenDocuments() ([]string, error) {
	var uris []string
	err := s.query(func() {
		uris = maps.Keys(s.pipelines)
	})
	sort.Strings(uris)
	return uris, err
}

// Busy reports whether a validation is running.
func (s *Scheduler) Busy() (bool, error) {
	var busy bool
	err := s.query(func() { busy = s.gate.busy })
	return busy, err
}

// query runs fn on the event loop and waits for it.
func (s *Scheduler) query(fn func()) error {
	done := make(chan struct{})
	if !s.post(queryEvent{fn: fn, done: done}) {
		return ErrSchedulerClosed
	}
	select {
	case <-done:
		return nil
	case <-s.done:
		return ErrSchedulerClosed
	}
}

// post appends ev to the mailbox. It reports false after Shutdown.
func (s *Scheduler) post(ev event) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
	return true
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for range s.wake {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			if _, ok := ev.(shutdownEvent); ok {
				s.teardown()
				return
			}
			s.handle(ev)
		}
	}
}

// teardown stops every timer and drops all state.
func (s *Scheduler) teardown() {
	s.cancel()
	for uri, p := range s.pipelines {
		p.stopTimer()
		delete(s.pipelines, uri)
	}
	stopTimer(s.configTimer)
	stopTimer(s.validateAllTimer)
	s.log.Debug("scheduler shut down")
}

func (s *Scheduler) handle(ev event) {
	switch e := ev.(type) {
	case submitEvent:
		s.onSubmit(e.doc, false)
	case settingsEvent:
		s.onSettings(e)
	case timerEvent:
		s.onTimer(e)
	case validatedEvent:
		s.onValidated(e)
	case willSaveEvent:
		s.gate.block(e.uri, e.version)
	case didSaveEvent:
		s.gate.unblock(e.uri)
		if p, ok := s.pipelines[e.uri]; ok && p.hasDoc {
			s.onSubmit(p.latest, true)
		}
	case closeEvent:
		s.onClose(e.uri)
	case configChangedEvent:
		s.onConfigChanged()
	case triggerEvent:
		s.onTrigger(e)
	case queryEvent:
		e.fn()
		close(e.done)
	}
}

// onSubmit moves the pipeline for doc to FetchingSettings. Re-submitting
// the version already waiting on the debounce timer only restarts the
// timer unless force is set.
func (s *Scheduler) onSubmit(doc Document, force bool) {
	p, ok := s.pipelines[doc.URI]
	if !ok {
		p = newPipeline(doc.URI)
		s.pipelines[doc.URI] = p
		if scheme := uriScheme(doc.URI); slices.Contains(IgnoredSchemes, scheme) {
			p.state = StateIgnored
			s.log.WithField("uri", doc.URI).Info("ignoring document with scheme %q", scheme)
		}
	}
	if p.state == StateIgnored {
		return
	}

	if !force && p.state == StatePendingDebounce && p.hasDoc &&
		p.latest.Version == doc.Version && p.latest.Text == doc.Text {
		s.armDebounce(p, p.settings.Delay())
		return
	}

	p.stopTimer()
	p.latest = doc
	p.hasDoc = true
	p.seq++
	p.state = StateFetchingSettings

	seq := p.seq
	go func() {
		settings, err := s.fetchSettings(doc)
		s.post(settingsEvent{uri: doc.URI, seq: seq, settings: settings, err: err})
	}()
}

// fetchSettings calls the provider, converting a panic into an error.
func (s *Scheduler) fetchSettings(doc Document) (settings config.Settings, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("settings provider panic: %v", r)
		}
	}()
	return s.settings.Settings(s.ctx, doc)
}

func (s *Scheduler) onSettings(e settingsEvent) {
	p, ok := s.pipelines[e.uri]
	if !ok || p.seq != e.seq || p.state != StateFetchingSettings {
		return
	}
	if e.err != nil {
		s.log.WithField("uri", e.uri).Error("fetching settings: %v", e.err)
		p.state = StateIdle
		s.sink.Publish(e.uri, p.latest.Version, []lsp.Diagnostic{})
		return
	}
	p.settings = e.settings
	p.state = StatePendingDebounce
	s.armDebounce(p, e.settings.Delay())
}

func (s *Scheduler) armDebounce(p *pipeline, d time.Duration) {
	p.stopTimer()
	uri, seq := p.uri, p.seq
	p.timer = time.AfterFunc(d, func() {
		s.post(timerEvent{uri: uri, seq: seq})
	})
}

// onTimer is the gated release of the debounce stage.
func (s *Scheduler) onTimer(e timerEvent) {
	p, ok := s.pipelines[e.uri]
	if !ok || p.seq != e.seq || p.state != StatePendingDebounce {
		return
	}
	p.timer = nil
	log := s.log.WithField("uri", e.uri)

	if s.gate.busy {
		if s.retryWhileBusy {
			log.Debug("validation busy, retrying version %d", p.latest.Version)
			s.armDebounce(p, p.settings.Delay())
			return
		}
		log.Debug("validation busy, dropping version %d", p.latest.Version)
		p.state = StateIdle
		return
	}
	if s.gate.isBlocked(e.uri) {
		log.Debug("save in progress, skipping version %d", p.latest.Version)
		p.state = StateIdle
		return
	}

	s.gate.acquire()
	p.state = StateValidating
	doc, settings, seq := p.latest, p.settings, p.seq
	runID := uuid.NewString()
	log = log.WithField("run", runID)
	log.Debug("validating version %d", doc.Version)

	go func() {
		start := time.Now()
		diags, err := s.validate(doc, settings)
		if err != nil {
			log.Error("validation failed: %v", err)
			diags = []lsp.Diagnostic{}
		}
		log.Debug("validated version %d in %s: %d diagnostics", doc.Version, time.Since(start), len(diags))
		s.post(validatedEvent{uri: doc.URI, seq: seq, doc: doc, diagnostics: diags})
	}()
}

// validate calls the validator, converting a panic into an error.
func (s *Scheduler) validate(doc Document, settings config.Settings) (diags []lsp.Diagnostic, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validator panic: %v", r)
		}
	}()
	diags, err = s.validator.Validate(s.ctx, doc, settings)
	if diags == nil {
		diags = []lsp.Diagnostic{}
	}
	return diags, err
}

func (s *Scheduler) onValidated(e validatedEvent) {
	s.gate.release()

	p, ok := s.pipelines[e.uri]
	if !ok {
		// Closed while validating; the close already cleared diagnostics.
		return
	}
	if p.seq == e.seq && p.state == StateValidating {
		p.state = StateIdle
	}
	s.sink.Publish(e.uri, e.doc.Version, e.diagnostics)
}

func (s *Scheduler) onClose(uri string) {
	p, ok := s.pipelines[uri]
	version := 0
	if ok {
		p.stopTimer()
		version = p.latest.Version
		delete(s.pipelines, uri)
	}
	s.gate.unblock(uri)
	s.sink.Publish(uri, version, []lsp.Diagnostic{})
}

// onConfigChanged restarts the configuration settle window.
func (s *Scheduler) onConfigChanged() {
	stopTimer(s.validateAllTimer)
	s.validateAllTimer = nil
	s.configTimer = s.armTrigger(s.configTimer, s.configSettle, triggerConfig)
}

func (s *Scheduler) armTrigger(t *time.Timer, d time.Duration, kind triggerKind) *time.Timer {
	stopTimer(t)
	s.triggerSeq++
	seq := s.triggerSeq
	return time.AfterFunc(d, func() {
		s.post(triggerEvent{kind: kind, seq: seq})
	})
}

func (s *Scheduler) onTrigger(e triggerEvent) {
	if e.seq != s.triggerSeq {
		return
	}
	switch e.kind {
	case triggerConfig:
		s.configTimer = nil
		s.settings.Reset()
		s.log.Info("configuration changed, settings cache cleared")
		s.validateAllTimer = s.armTrigger(s.validateAllTimer, s.validateAllSettle, triggerValidateAll)
	case triggerValidateAll:
		s.validateAllTimer = nil
		uris := maps.Keys(s.pipelines)
		sort.Strings(uris)
		for _, uri := range uris {
			if p := s.pipelines[uri]; p.hasDoc && p.state != StateIgnored {
				s.onSubmit(p.latest, true)
			}
		}
		s.log.Debug("re-submitted %d documents", len(uris))
	}
}

func uriScheme(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return u.Scheme
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
