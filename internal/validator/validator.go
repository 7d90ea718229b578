package validator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config/loader"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/logging"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/lsp"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/pattern"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/regexworker"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/scheduler"
)

// Source is the diagnostic source name.
const Source = "cSpell"

// Validator spell-checks documents. It is safe for concurrent use.
type Validator struct {
	matcher *pattern.Matcher
	dicts   *dictionaries
	log     *logging.Logger

	mu      sync.Mutex
	blocked map[string]string // uri -> reason
}

type options struct {
	fs   loader.FileSystem
	base Dictionary
	log  *logging.Logger
}

// Option configures a Validator.
type Option func(*options)

// WithDictionary sets the base dictionary consulted for every document.
func WithDictionary(d Dictionary) Option {
	return func(o *options) { o.base = d }
}

// WithFileSystem sets the file system used to read dictionary files.
func WithFileSystem(fsys loader.FileSystem) Option {
	return func(o *options) { o.fs = fsys }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// New creates a Validator that finds ignored regions with matcher.
func New(matcher *pattern.Matcher, opts ...Option) *Validator {
	o := options{
		fs:  loader.DefaultFS(),
		log: logging.Default().WithComponent("validator"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Validator{
		matcher: matcher,
		dicts:   newDictionaries(o.fs, o.base, o.log),
		log:     o.log,
		blocked: make(map[string]string),
	}
}

// Decision explains whether a document is checked.
type Decision struct {
	Check  bool
	Reason string
	// ExcludedBy lists the ignorePaths patterns matching the file.
	ExcludedBy []string
}

// ShouldCheck decides whether doc is spell-checked under s. Documents found
// to be minified are remembered until Reset.
func (v *Validator) ShouldCheck(doc scheduler.Document, s config.Settings) Decision {
	if !s.IsSchemeAllowed(lsp.DocumentURI(doc.URI).Scheme()) {
		return Decision{Reason: ReasonSchemeNotAllowed}
	}
	if !s.Enabled {
		return Decision{Reason: ReasonDisabled}
	}
	if doc.LanguageID != "" && !s.IsLanguageEnabled(doc.LanguageID) {
		return Decision{Reason: ReasonLanguageDisabled}
	}
	if path, ok := config.URIToPath(doc.URI); ok {
		m := s.IgnoreMatcher()
		if m.Match(path) {
			return Decision{Reason: ReasonExcludedPath, ExcludedBy: m.MatchingPatterns(path)}
		}
	}

	v.mu.Lock()
	reason, blocked := v.blocked[doc.URI]
	v.mu.Unlock()
	if blocked {
		return Decision{Reason: reason}
	}

	limits := MinifiedLimits{
		LineLength:       s.BlockCheckingWhenLineLengthGreaterThan,
		MaxChunkSize:     s.BlockCheckingWhenTextChunkSizeGreaterThan,
		AverageChunkSize: s.BlockCheckingWhenAverageChunkSizeGreaterThan,
	}
	if reason, ok := likelyMinified(doc.Text, limits); ok {
		v.mu.Lock()
		v.blocked[doc.URI] = reason
		v.mu.Unlock()
		v.log.WithField("uri", doc.URI).Info("not checking: %s", reason)
		return Decision{Reason: reason}
	}
	return Decision{Check: true}
}

// Reset forgets blocked documents and cached word lists.
func (v *Validator) Reset() {
	v.mu.Lock()
	v.blocked = make(map[string]string)
	v.mu.Unlock()
	v.dicts.reset()
}

// Validate implements scheduler.Validator.
func (v *Validator) Validate(ctx context.Context, doc scheduler.Document, s config.Settings) ([]lsp.Diagnostic, error) {
	if d := v.ShouldCheck(doc, s); !d.Check {
		return []lsp.Diagnostic{}, nil
	}

	text := truncate(doc.Text, s.CheckLimitBytes())
	lib := s.Library()

	ignored, err := v.regions(ctx, s.IgnoreRegExpList, text, lib)
	if err != nil {
		return nil, fmt.Errorf("ignore patterns: %w", err)
	}
	var included []regexworker.Range
	if len(s.IncludeRegExpList) > 0 {
		if included, err = v.regions(ctx, s.IncludeRegExpList, text, lib); err != nil {
			return nil, fmt.Errorf("include patterns: %w", err)
		}
	}

	sets := v.dicts.forSettings(s)
	severity := lsp.ParseSeverity(s.DiagnosticLevel)
	pc := lsp.NewPositionConverter(text)

	diags := []lsp.Diagnostic{}
	for _, w := range SplitWords(text) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.MaxNumberOfProblems > 0 && len(diags) >= s.MaxNumberOfProblems {
			break
		}
		if overlaps(ignored, w) || (len(s.IncludeRegExpList) > 0 && !within(included, w)) {
			continue
		}

		message := ""
		switch {
		case sets.flag.Has(w.Text):
			message = fmt.Sprintf("%q: Forbidden word.", w.Text)
		case utf8.RuneCountInString(w.Text) < s.MinWordLength:
			continue
		case sets.ignore.Has(w.Text) || sets.known.Has(w.Text):
			continue
		default:
			message = fmt.Sprintf("%q: Unknown word.", w.Text)
		}

		diags = append(diags, lsp.Diagnostic{
			Range:    pc.ByteOffsetsToRange(w.Offset, w.End()),
			Severity: severity,
			Source:   Source,
			Message:  message,
		})
	}
	return diags, nil
}

// regions runs the named patterns over text and returns their merged match
// ranges. Patterns that time out contribute nothing.
func (v *Validator) regions(ctx context.Context, names []string, text string, lib *pattern.Library) ([]regexworker.Range, error) {
	if len(names) == 0 || text == "" {
		return nil, nil
	}
	reqs := pattern.Requests(names...)
	for i := range reqs {
		reqs[i].All = true
	}
	results, err := v.matcher.MatchPatternsInText(ctx, reqs, text, lib)
	if err != nil {
		return nil, err
	}
	var ranges []regexworker.Range
	for _, r := range results {
		if r.IsTimeout() {
			v.log.WithField("pattern", r.Name).Warn("%s after %.0fms", r.Message, r.ElapsedTimeMs)
			continue
		}
		ranges = append(ranges, r.Ranges...)
	}
	return mergeRanges(ranges), nil
}

// mergeRanges sorts ranges and joins overlapping or touching ones.
func mergeRanges(ranges []regexworker.Range) []regexworker.Range {
	if len(ranges) == 0 {
		return nil
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i][0] < ranges[j][0] })
	out := []regexworker.Range{ranges[0]}
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r[0] <= last[1] {
			last[1] = max(last[1], r[1])
			continue
		}
		out = append(out, r)
	}
	return out
}

// overlaps reports whether w intersects any of the sorted ranges.
func overlaps(ranges []regexworker.Range, w Word) bool {
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i][1] > w.Offset })
	return i < len(ranges) && ranges[i][0] < w.End()
}

// within reports whether w lies inside one of the sorted ranges.
func within(ranges []regexworker.Range, w Word) bool {
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i][1] >= w.End() })
	return i < len(ranges) && ranges[i][0] <= w.Offset
}

// truncate cuts text to at most limit bytes on a rune boundary. A limit of
// zero or less disables truncation.
func truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}
