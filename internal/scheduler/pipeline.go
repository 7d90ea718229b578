package scheduler

import (
	"time"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/lsp"
)

// pipeline is the per-URI state machine.
type pipeline struct {
	uri      string
	state    State
	latest   Document
	hasDoc   bool
	settings config.Settings

	// seq identifies the latest submit; results carrying an older seq are
	// stale and ignored.
	seq   uint64
	timer *time.Timer
}

func newPipeline(uri string) *pipeline {
	return &pipeline{uri: uri, state: StateIdle}
}

func (p *pipeline) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// event is a message processed by the event loop.
type event interface{}

type submitEvent struct {
	doc Document
}

type settingsEvent struct {
	uri      string
	seq      uint64
	settings config.Settings
	err      error
}

type timerEvent struct {
	uri string
	seq uint64
}

type validatedEvent struct {
	uri         string
	seq         uint64
	doc         Document
	diagnostics []lsp.Diagnostic
}

type willSaveEvent struct {
	uri     string
	version int
}

type didSaveEvent struct {
	uri     string
	version int
}

type closeEvent struct {
	uri string
}

type configChangedEvent struct{}

type triggerKind int

const (
	triggerConfig triggerKind = iota
	triggerValidateAll
)

type triggerEvent struct {
	kind triggerKind
	seq  uint64
}

type queryEvent struct {
	fn   func()
	done chan struct{}
}

type shutdownEvent struct{}
