package pattern

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/logging"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/regexworker"
)

// foldName returns the Unicode case-folded form of name. A Caser keeps
// state, so each call gets its own.
func foldName(name string) string {
	return cases.Fold().String(name)
}

// Library is an immutable lookup table of named patterns, built once per
// settings snapshot. It is safe for concurrent use.
type Library struct {
	exact  map[string]MultiPattern
	folded map[string]MultiPattern
	byExpr map[string]MultiPattern
	names  []string
}

// NewLibrary compiles patterns into a Library. Expressions that do not
// compile are logged and left out; later definitions of a name win.
func NewLibrary(patterns []NamedPattern, log *logging.Logger) *Library {
	if log == nil {
		log = logging.Default()
	}
	lib := &Library{
		exact:  make(map[string]MultiPattern, len(patterns)),
		folded: make(map[string]MultiPattern, len(patterns)),
		byExpr: make(map[string]MultiPattern, len(patterns)),
	}
	for _, p := range patterns {
		mp := resolveNamed(p, log)
		if _, ok := lib.exact[p.Name]; !ok {
			lib.names = append(lib.names, p.Name)
		}
		lib.exact[p.Name] = mp
		lib.folded[foldName(p.Name)] = mp
		if len(mp.Regexps) > 0 {
			lib.byExpr[exprKey(mp.Regexps)] = mp
		}
	}
	return lib
}

// Lookup finds a pattern by exact name, then by case-folded name, then by
// its expression text.
func (l *Library) Lookup(name string) (MultiPattern, bool) {
	if l == nil {
		return MultiPattern{}, false
	}
	if mp, ok := l.exact[name]; ok {
		return mp, true
	}
	if mp, ok := l.folded[foldName(name)]; ok {
		return mp, true
	}
	if mp, ok := l.byExpr[name]; ok {
		return mp, true
	}
	return MultiPattern{}, false
}

// Names returns the pattern names in definition order.
func (l *Library) Names() []string {
	if l == nil {
		return nil
	}
	out := make([]string, len(l.names))
	copy(out, l.names)
	return out
}

// Len returns the number of distinct names.
func (l *Library) Len() int {
	if l == nil {
		return 0
	}
	return len(l.names)
}

func exprKey(res []regexworker.Regex) string {
	parts := make([]string, len(res))
	for i, re := range res {
		parts[i] = re.String()
	}
	return strings.Join(parts, ",")
}

// resolveNamed compiles the expressions of a NamedPattern, skipping any
// that fail. Bodies without a /body/flags literal get no flags, so they
// report their first match only.
func resolveNamed(p NamedPattern, log *logging.Logger) MultiPattern {
	mp := MultiPattern{Name: p.Name, Regexps: make([]regexworker.Regex, 0, len(p.Pattern))}
	for _, src := range p.Pattern {
		if re, ok := toRegex(src, "", log); ok {
			mp.Regexps = append(mp.Regexps, re)
		}
	}
	return mp
}

// toRegex parses src and checks that it compiles.
func toRegex(src, defaultFlags string, log *logging.Logger) (regexworker.Regex, bool) {
	re := regexworker.Parse(src, defaultFlags)
	if err := regexworker.Validate(re); err != nil {
		log.Warn("skipping pattern %q: %v", src, err)
		return re, false
	}
	return re, true
}
