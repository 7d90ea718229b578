package config

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/glob"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/logging"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/pattern"
)

// DefaultSpellCheckDelay is used when spellCheckDelayMs is not positive.
const DefaultSpellCheckDelay = 50 * time.Millisecond

// MaxSpellCheckDelay caps spellCheckDelayMs.
const MaxSpellCheckDelay = time.Minute

// DictionaryDefinition names a word list file.
type DictionaryDefinition struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Settings is one immutable settings snapshot.
type Settings struct {
	Enabled            bool     `json:"enabled"`
	SpellCheckDelayMs  int      `json:"spellCheckDelayMs"`
	AllowedSchemas     []string `json:"allowedSchemas"`
	EnabledLanguageIds []string `json:"enabledLanguageIds"`
	Language           string   `json:"language"`

	// Glob exclusion, evaluated relative to GlobRoot.
	IgnorePaths []string `json:"ignorePaths"`
	GlobRoot    string   `json:"globRoot"`

	Patterns          []pattern.NamedPattern `json:"patterns"`
	IgnoreRegExpList  []string               `json:"ignoreRegExpList"`
	IncludeRegExpList []string               `json:"includeRegExpList"`

	Words                 []string               `json:"words"`
	UserWords             []string               `json:"userWords"`
	IgnoreWords           []string               `json:"ignoreWords"`
	FlagWords             []string               `json:"flagWords"`
	Dictionaries          []string               `json:"dictionaries"`
	DictionaryDefinitions []DictionaryDefinition `json:"dictionaryDefinitions"`

	// CheckLimit is the number of KiB of a document that are checked.
	CheckLimit          int    `json:"checkLimit"`
	MinWordLength       int    `json:"minWordLength"`
	MaxNumberOfProblems int    `json:"maxNumberOfProblems"`
	DiagnosticLevel     string `json:"diagnosticLevel"`

	BlockCheckingWhenLineLengthGreaterThan       int `json:"blockCheckingWhenLineLengthGreaterThan"`
	BlockCheckingWhenTextChunkSizeGreaterThan    int `json:"blockCheckingWhenTextChunkSizeGreaterThan"`
	BlockCheckingWhenAverageChunkSizeGreaterThan int `json:"blockCheckingWhenAverageChunkSizeGreaterThan"`

	// Source is the configuration file the snapshot was read from, if any.
	Source string `json:"-"`

	compiled *compiled
}

type compiled struct {
	library *pattern.Library
	ignore  *glob.Matcher
}

// DefaultPatterns is the built-in pattern library.
var DefaultPatterns = []pattern.NamedPattern{
	{Name: "Urls", Pattern: []string{`/(?:https?|ftp):\/\/[^\s"'<>)]+/gi`}},
	{Name: "Email", Pattern: []string{`/<?\b[\w.\-+]{1,128}@\w{1,63}(\.\w{1,63}){1,4}\b>?/gi`}},
	{Name: "HexValues", Pattern: []string{`/\b0x[0-9a-f]+\b/gi`, `/#[0-9a-f]{3,8}\b/gi`}},
	{Name: "UUID", Pattern: []string{`/\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b/gi`}},
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Enabled:           true,
		SpellCheckDelayMs: int(DefaultSpellCheckDelay / time.Millisecond),
		AllowedSchemas:    []string{"file", "gist", "sftp", "untitled"},
		EnabledLanguageIds: []string{
			"asciidoc", "c", "cpp", "csharp", "css", "git-commit", "go",
			"graphql", "handlebars", "haskell", "html", "jade", "java",
			"javascript", "javascriptreact", "json", "jsonc", "latex",
			"less", "markdown", "php", "plaintext", "python", "pug",
			"restructuredtext", "rust", "scala", "scss", "swift", "text",
			"typescript", "typescriptreact", "vue", "yaml", "yml",
		},
		Language: "en",
		IgnorePaths: []string{
			"package-lock.json", "node_modules", "vscode-extension",
			".git/objects", ".vscode", ".vscode-insiders",
		},
		Patterns:            slices.Clone(DefaultPatterns),
		IgnoreRegExpList:    []string{"Urls", "Email", "HexValues", "UUID"},
		CheckLimit:          500,
		MinWordLength:       4,
		MaxNumberOfProblems: 100,
		DiagnosticLevel:     "Information",

		BlockCheckingWhenLineLengthGreaterThan:       10000,
		BlockCheckingWhenTextChunkSizeGreaterThan:    500,
		BlockCheckingWhenAverageChunkSizeGreaterThan: 80,
	}
}

// Decode reads a JSON settings document on top of the defaults.
// User patterns are added to the built-in library.
func Decode(doc []byte) (Settings, error) {
	s := Defaults()
	s.Patterns = nil
	if err := json.Unmarshal(doc, &s); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	s.Patterns = append(slices.Clone(DefaultPatterns), s.Patterns...)
	return s, nil
}

// Delay returns the debounce delay.
func (s Settings) Delay() time.Duration {
	if s.SpellCheckDelayMs <= 0 {
		return DefaultSpellCheckDelay
	}
	if s.SpellCheckDelayMs >= int(MaxSpellCheckDelay/time.Millisecond) {
		return MaxSpellCheckDelay
	}
	return time.Duration(s.SpellCheckDelayMs) * time.Millisecond
}

// IsSchemeAllowed reports whether documents with scheme may be checked.
func (s Settings) IsSchemeAllowed(scheme string) bool {
	return slices.Contains(s.AllowedSchemas, scheme)
}

// IsLanguageEnabled reports whether languageID is checked. An empty list
// enables every language.
func (s Settings) IsLanguageEnabled(languageID string) bool {
	if len(s.EnabledLanguageIds) == 0 {
		return true
	}
	return slices.Contains(s.EnabledLanguageIds, languageID)
}

// CheckLimitBytes returns the maximum number of bytes to check.
func (s Settings) CheckLimitBytes() int {
	if s.CheckLimit <= 0 {
		return 0
	}
	return s.CheckLimit * 1024
}

// Compile builds the pattern library and ignore matcher for the snapshot.
// Matchers are shared through globs when it is non-nil.
func (s *Settings) Compile(globs *glob.Set, log *logging.Logger) {
	c := &compiled{library: pattern.NewLibrary(s.Patterns, log)}
	if globs != nil {
		c.ignore = globs.Get(s.IgnorePaths, s.GlobRoot)
	} else {
		c.ignore = glob.New(s.IgnorePaths, s.GlobRoot)
	}
	s.compiled = c
}

// Library returns the pattern library for the snapshot.
func (s Settings) Library() *pattern.Library {
	if s.compiled != nil {
		return s.compiled.library
	}
	return pattern.NewLibrary(s.Patterns, logging.Nop())
}

// IgnoreMatcher returns the ignorePaths matcher for the snapshot.
func (s Settings) IgnoreMatcher() *glob.Matcher {
	if s.compiled != nil {
		return s.compiled.ignore
	}
	return glob.New(s.IgnorePaths, s.GlobRoot)
}
