package server

import (
	"context"
	"encoding/json"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/logging"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/lsp"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/scheduler"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/validator"
)

// Client is the connection back to the editor. *lsp.Conn implements it.
type Client interface {
	Notify(ctx context.Context, method string, params any) error
	Call(ctx context.Context, method string, params any, result any) error
}

// settingsSource feeds the scheduler from the configuration provider.
// Resetting it also forgets documents the validator has blocked.
type settingsSource struct {
	provider  *config.Provider
	validator *validator.Validator
}

func (s settingsSource) Settings(ctx context.Context, doc scheduler.Document) (config.Settings, error) {
	return s.provider.Get(ctx, doc.URI)
}

func (s settingsSource) Reset() {
	s.provider.Reset()
	s.validator.Reset()
}

// publisher sends diagnostics to the client.
type publisher struct {
	client Client
	log    *logging.Logger
}

func (p publisher) Publish(uri string, version int, diagnostics []lsp.Diagnostic) {
	if diagnostics == nil {
		diagnostics = []lsp.Diagnostic{}
	}
	params := lsp.PublishDiagnosticsParams{
		URI:         lsp.DocumentURI(uri),
		Version:     version,
		Diagnostics: diagnostics,
	}
	if err := p.client.Notify(context.Background(), lsp.MethodPublishDiagnostics, params); err != nil {
		p.log.WithField("uri", uri).Warn("publishing diagnostics: %v", err)
	}
}

func decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return lsp.NewError(lsp.CodeInvalidParams, "missing params")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return lsp.NewError(lsp.CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}
