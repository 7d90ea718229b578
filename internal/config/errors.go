package config

import (
	"errors"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config/loader"
)

// Errors returned by configuration operations.
var (
	// ErrProviderClosed is returned by a Provider after Close.
	ErrProviderClosed = errors.New("settings provider is closed")

	// ErrInvalidSettings indicates a settings document that does not decode.
	ErrInvalidSettings = errors.New("invalid settings")
)

// ParseError represents an error while parsing a configuration file.
type ParseError = loader.ParseError
