// Package glob implements gitignore-style path exclusion.
//
// A Matcher is built once from a list of patterns and an optional root and is
// immutable afterwards, so it can be shared by concurrent callers without
// locking. Supported syntax:
//   - *.log              - a bare name matches a file or directory anywhere
//   - /build/            - leading slash anchors to the root, trailing slash
//     matches everything below the directory
//   - **/node_modules/** - ** spans any number of path segments
//   - {src,dist}         - brace alternatives
//   - !important.log     - negation; an even number of ! cancels out
//   - # comment          - comments and blank lines never match
package glob

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// rule is a single compiled pattern.
type rule struct {
	original string
	globs    []string // root-relative doublestar patterns without a leading slash
	negation bool
}

// Matcher decides whether a path is excluded by a list of patterns.
type Matcher struct {
	patterns []string
	root     string
	negated  []rule
	positive []rule
}

// New compiles patterns relative to root. Root may be empty.
// Invalid globs never match; they are not reported as errors.
func New(patterns []string, root string) *Matcher {
	m := &Matcher{
		patterns: append([]string(nil), patterns...),
		root:     normalizeRoot(root),
	}
	for _, p := range patterns {
		r := compile(p)
		if len(r.globs) == 0 {
			continue
		}
		if r.negation {
			m.negated = append(m.negated, r)
		} else {
			m.positive = append(m.positive, r)
		}
	}
	return m
}

// compile turns one source pattern into a rule.
func compile(pattern string) rule {
	r := rule{original: pattern}

	p := strings.TrimLeft(pattern, " \t")
	if strings.TrimSpace(p) == "" || strings.HasPrefix(p, "#") {
		return r
	}

	bangs := len(p) - len(strings.TrimLeft(p, "!"))
	r.negation = bangs%2 == 1
	p = p[bangs:]
	if p == "" {
		return r
	}

	var globs []string
	if !strings.Contains(p, "/") {
		// A bare name matches as a file or as a directory at any depth.
		globs = []string{"**/" + p, "**/" + p + "/**"}
	} else {
		if strings.HasSuffix(p, "/") {
			p += "**"
		}
		if !strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "**") {
			p = "/" + p
		}
		globs = []string{strings.TrimLeft(p, "/")}
	}

	for _, g := range globs {
		if g == "" || !doublestar.ValidatePattern(g) {
			continue
		}
		r.globs = append(r.globs, g)
	}
	return r
}

// match reports whether the rule matches rel or one of its directory
// prefixes. The matched span always ends at a segment boundary.
func (r rule) match(rel string) bool {
	for _, g := range r.globs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
		for i := 0; i < len(rel); i++ {
			if rel[i] != '/' {
				continue
			}
			if ok, _ := doublestar.Match(g, rel[:i]); ok {
				return true
			}
		}
	}
	return false
}

// Match reports whether path is excluded. Negated rules win over positive
// rules regardless of order; positive rules are tried in input order.
func (m *Matcher) Match(path string) bool {
	rel := m.relative(path)

	for _, r := range m.negated {
		if r.match(rel) {
			return false
		}
	}
	for _, r := range m.positive {
		if r.match(rel) {
			return true
		}
	}
	return false
}

// MatchingPatterns returns the positive patterns that match path, in input
// order. It ignores negations and is meant for reporting why a file was
// excluded.
func (m *Matcher) MatchingPatterns(path string) []string {
	rel := m.relative(path)
	var out []string
	for _, r := range m.positive {
		if r.match(rel) {
			out = append(out, r.original)
		}
	}
	return out
}

// Patterns returns a copy of the source patterns.
func (m *Matcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

// Root returns the normalized root.
func (m *Matcher) Root() string {
	return m.root
}

// relative converts path to a root-relative form without a leading slash.
func (m *Matcher) relative(path string) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if m.root != "" && strings.HasPrefix(p, m.root) {
		if len(p) == len(m.root) || p[len(m.root)] == '/' {
			p = p[len(m.root):]
		}
	}
	return strings.TrimLeft(p, "/")
}

func normalizeRoot(root string) string {
	if root == "" {
		return ""
	}
	r := filepath.ToSlash(root)
	if !strings.HasPrefix(r, "/") {
		r = "/" + r
	}
	return strings.TrimRight(r, "/")
}
