package pattern

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/logging"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/regexworker"
)

// UnmatchedMessage is the timeout message used when an expression produced
// no execution result.
const UnmatchedMessage = "Unmatched pattern"

// Runner executes regular expressions in isolation. *regexworker.Worker
// implements it. Budget exhaustion must be reported with an error exposing
// ElapsedTimeMs() float64.
type Runner interface {
	RunOne(ctx context.Context, text string, re regexworker.Regex, timeout time.Duration) (regexworker.Result, error)
	RunBatch(ctx context.Context, text string, res []regexworker.Regex, timeout time.Duration) ([]regexworker.Result, error)
	Close() error
}

// timeoutError is the shape of a budget-exhaustion error.
type timeoutError interface {
	error
	ElapsedTimeMs() float64
}

// IsTimeout reports whether err is a timeout-shaped error.
func IsTimeout(err error) bool {
	var te timeoutError
	return errors.As(err, &te)
}

// Matcher matches patterns against text through a Runner.
type Matcher struct {
	runner  Runner
	timeout time.Duration
	log     *logging.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithTimeout sets the budget for the batch and for each individual retry.
// Zero uses the runner's default.
func WithTimeout(d time.Duration) Option {
	return func(m *Matcher) {
		m.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.log = l
		}
	}
}

// NewMatcher creates a Matcher that owns runner. Close disposes of it.
func NewMatcher(runner Runner, opts ...Option) *Matcher {
	m := &Matcher{
		runner: runner,
		log:    logging.Default().WithComponent("pattern"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Close releases the runner. Calls in flight may fail.
func (m *Matcher) Close() error {
	return m.runner.Close()
}

// MatchPatternsInText resolves requested against lib and matches every
// resulting expression in text. The result holds one entry per flattened
// pattern, in request order, duplicates included.
//
// A timeout is never returned as an error; it becomes a KindTimeout result
// for the affected patterns. Any other runner error is returned.
func (m *Matcher) MatchPatternsInText(ctx context.Context, requested []Request, text string, lib *Library) ([]MatchResult, error) {
	entries := m.resolve(requested, lib)
	unique := uniqueRegexps(entries)
	if len(unique) == 0 {
		return pair(entries, nil), nil
	}

	byKey, err := m.runBatch(ctx, text, unique)
	if err != nil {
		if !IsTimeout(err) {
			return nil, err
		}
		m.log.Debug("batch of %d patterns timed out, retrying one by one: %v", len(unique), err)
		byKey, err = m.runEach(ctx, text, unique)
		if err != nil {
			return nil, err
		}
	}
	return pair(entries, byKey), nil
}

// resolve turns requests into flattened entries.
func (m *Matcher) resolve(requested []Request, lib *Library) []entry {
	entries := make([]entry, 0, len(requested))
	for _, req := range requested {
		mp := m.resolveOne(req, lib)
		if req.All {
			mp = mp.global()
		}
		entries = append(entries, mp.flatten()...)
	}
	return entries
}

func (m *Matcher) resolveOne(req Request, lib *Library) MultiPattern {
	if req.Inline != nil {
		return resolveNamed(*req.Inline, m.log)
	}
	if mp, ok := lib.Lookup(req.Name); ok {
		return mp
	}
	mp := MultiPattern{Name: req.Name}
	if re, ok := toRegex(req.Name, "g", m.log); ok {
		mp.Regexps = []regexworker.Regex{re}
	}
	return mp
}

func uniqueRegexps(entries []entry) []regexworker.Regex {
	seen := make(map[string]struct{}, len(entries))
	unique := make([]regexworker.Regex, 0, len(entries))
	for _, e := range entries {
		key := e.regex.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, e.regex)
	}
	return unique
}

func (m *Matcher) runBatch(ctx context.Context, text string, unique []regexworker.Regex) (map[string]MatchResult, error) {
	results, err := m.runner.RunBatch(ctx, text, unique, m.timeout)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]MatchResult, len(results))
	for i, res := range results {
		if i >= len(unique) {
			break
		}
		re := unique[i]
		byKey[re.String()] = matchResult(entry{regex: re}, res)
	}
	return byKey, nil
}

// maxParallelRetries bounds the goroutines waiting on the runner while
// expressions are retried one at a time.
const maxParallelRetries = 8

// runEach runs every expression with its own budget. Timeouts are recorded
// per expression; any other error cancels the rest.
func (m *Matcher) runEach(ctx context.Context, text string, unique []regexworker.Regex) (map[string]MatchResult, error) {
	out := make([]MatchResult, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelRetries)
	for i, re := range unique {
		i, re := i, re
		g.Go(func() error {
			res, err := m.runner.RunOne(gctx, text, re, m.timeout)
			if err != nil {
				var te timeoutError
				if !errors.As(err, &te) {
					return err
				}
				m.log.Warn("pattern %s timed out: %v", re, err)
				out[i] = timeoutResult(entry{regex: re}, te.ElapsedTimeMs(), te.Error())
				return nil
			}
			out[i] = matchResult(entry{regex: re}, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byKey := make(map[string]MatchResult, len(out))
	for i, re := range unique {
		byKey[re.String()] = out[i]
	}
	return byKey, nil
}

// pair maps execution results back onto the flattened entries.
func pair(entries []entry, byKey map[string]MatchResult) []MatchResult {
	results := make([]MatchResult, len(entries))
	for i, e := range entries {
		r, ok := byKey[e.regex.String()]
		if !ok {
			results[i] = timeoutResult(e, 0, UnmatchedMessage)
			continue
		}
		r.Name = e.name
		r.Regexp = e.regex
		if r.Ranges != nil {
			r.Ranges = append(make([]regexworker.Range, 0, len(r.Ranges)), r.Ranges...)
		}
		results[i] = r
	}
	return results
}
