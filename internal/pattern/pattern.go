// Package pattern resolves named regular expression patterns and matches
// them against document text without letting a runaway expression stall
// the caller.
//
// Patterns are executed by a Runner, normally a *regexworker.Worker. All
// unique expressions are first run as one batch under a shared budget; if
// the batch times out, each expression is retried on its own so a single
// slow pattern only costs its own result.
package pattern

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/regexworker"
)

// NamedPattern is a user or library pattern: a name and one or more regular
// expressions, each either a plain body or a /body/flags literal.
type NamedPattern struct {
	Name    string   `json:"name" yaml:"name" toml:"name"`
	Pattern []string `json:"pattern" yaml:"pattern" toml:"pattern"`
}

// UnmarshalJSON accepts a pattern given either as a single string or as a
// list of strings.
func (p *NamedPattern) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name    string          `json:"name"`
		Pattern json.RawMessage `json:"pattern"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Name = raw.Name
	p.Pattern = nil
	if len(raw.Pattern) == 0 || string(raw.Pattern) == "null" {
		return nil
	}

	var single string
	if err := json.Unmarshal(raw.Pattern, &single); err == nil {
		p.Pattern = []string{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw.Pattern, &list); err != nil {
		return fmt.Errorf("pattern %q: must be a string or list of strings", raw.Name)
	}
	p.Pattern = list
	return nil
}

// Request names a pattern to match. It is either a bare name, looked up in
// the Library, or an inline NamedPattern.
type Request struct {
	Name   string
	Inline *NamedPattern

	// All reports every match, whatever flags the pattern was written with.
	All bool
}

// Named returns a Request for a library pattern name or a raw expression.
func Named(name string) Request {
	return Request{Name: name}
}

// Inline returns a Request carrying its own pattern definition.
func Inline(p NamedPattern) Request {
	return Request{Name: p.Name, Inline: &p}
}

// Requests converts plain names into Requests.
func Requests(names ...string) []Request {
	reqs := make([]Request, len(names))
	for i, n := range names {
		reqs[i] = Named(n)
	}
	return reqs
}

// MultiPattern is a resolved pattern with its compiled-checked expressions.
type MultiPattern struct {
	Name    string
	Regexps []regexworker.Regex
}

// global returns p with the g flag added to every expression.
func (p MultiPattern) global() MultiPattern {
	out := MultiPattern{Name: p.Name, Regexps: make([]regexworker.Regex, len(p.Regexps))}
	for i, re := range p.Regexps {
		out.Regexps[i] = regexworker.Regex{Source: re.Source, Flags: re.Flags + "g"}.Normalize()
	}
	return out
}

// entry is one flattened sub-pattern.
type entry struct {
	name  string
	regex regexworker.Regex
}

// flatten names the expressions of p as name, name.1, name.2 and so on.
func (p MultiPattern) flatten() []entry {
	entries := make([]entry, len(p.Regexps))
	for i, re := range p.Regexps {
		name := p.Name
		if i > 0 {
			name += "." + strconv.Itoa(i)
		}
		entries[i] = entry{name: name, regex: re}
	}
	return entries
}

// Kind distinguishes matches from timeouts.
type Kind int

const (
	KindMatch Kind = iota
	KindTimeout
)

// MatchResult is the outcome for one flattened pattern. Ranges is set for
// matches; Message is set for timeouts.
type MatchResult struct {
	Kind          Kind
	Name          string
	Regexp        regexworker.Regex
	ElapsedTimeMs float64
	Ranges        []regexworker.Range
	Message       string
}

// IsTimeout reports whether the pattern failed to finish within its budget.
func (r MatchResult) IsTimeout() bool {
	return r.Kind == KindTimeout
}

// IsMatch reports whether the pattern ran to completion.
func (r MatchResult) IsMatch() bool {
	return r.Kind == KindMatch
}

func matchResult(e entry, res regexworker.Result) MatchResult {
	ranges := res.Ranges
	if ranges == nil {
		ranges = []regexworker.Range{}
	}
	return MatchResult{
		Kind:          KindMatch,
		Name:          e.name,
		Regexp:        e.regex,
		ElapsedTimeMs: res.ElapsedTimeMs,
		Ranges:        ranges,
	}
}

func timeoutResult(e entry, elapsedMs float64, message string) MatchResult {
	return MatchResult{
		Kind:          KindTimeout,
		Name:          e.name,
		Regexp:        e.regex,
		ElapsedTimeMs: elapsedMs,
		Message:       message,
	}
}
