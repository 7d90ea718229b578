package loader

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/sjson"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "CSPELL_"

// EnvLoader maps environment variables onto settings.
//
// CSPELL_SPELL_CHECK_DELAY_MS=100 sets spellCheckDelayMs. Explicit mappings
// take precedence over the derived name.
type EnvLoader struct {
	prefix  string
	mapping map[string]string // env var -> setting path
	lookup  func() []string
}

// NewEnvLoader creates a loader for variables starting with prefix.
// The prefix should include the trailing underscore.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: defaultEnvMapping(),
		lookup:  os.Environ,
	}
}

// NewEnvLoaderWithEnviron creates a loader reading from environ instead of
// the process environment.
func NewEnvLoaderWithEnviron(prefix string, environ []string) *EnvLoader {
	l := NewEnvLoader(prefix)
	l.lookup = func() []string { return environ }
	return l
}

func defaultEnvMapping() map[string]string {
	return map[string]string{
		"CSPELL_DELAY":    "spellCheckDelayMs",
		"CSPELL_LANGUAGE": "language",
		"CSPELL_WORDS":    "words",
		"CSPELL_IGNORE":   "ignorePaths",
	}
}

// Overrides returns setting path -> value for every matching variable.
// Explicitly mapped variables are applied after derived ones.
func (l *EnvLoader) Overrides() map[string]any {
	out := make(map[string]any)
	mapped := make(map[string]string)
	for _, kv := range l.lookup() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) {
			continue
		}
		if path, ok := l.mapping[name]; ok {
			mapped[path] = value
			continue
		}
		if path := l.envToPath(name); path != "" {
			out[path] = parseValue(value)
		}
	}
	for path, value := range mapped {
		out[path] = parseValue(value)
	}
	return out
}

// Apply writes the overrides into a JSON document.
func (l *EnvLoader) Apply(doc []byte) ([]byte, error) {
	overrides := l.Overrides()
	paths := make([]string, 0, len(overrides))
	for p := range overrides {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var err error
	for _, p := range paths {
		doc, err = sjson.SetBytes(doc, p, overrides[p])
		if err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// envToPath converts CSPELL_SPELL_CHECK_DELAY_MS to spellCheckDelayMs.
func (l *EnvLoader) envToPath(env string) string {
	name := strings.TrimPrefix(env, l.prefix)
	parts := strings.Split(strings.ToLower(name), "_")

	var b strings.Builder
	for _, part := range parts {
		if part == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString(part)
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

// parseValue attempts to parse the string value into an appropriate type.
func parseValue(s string) any {
	if s == "" {
		return s
	}

	lower := strings.ToLower(s)
	if lower == "true" || lower == "yes" || lower == "on" {
		return true
	}
	if lower == "false" || lower == "no" || lower == "off" {
		return false
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}

	// JSON arrays and objects
	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}

	// Comma separated lists for list-valued settings.
	if strings.Contains(s, ",") {
		items := strings.Split(s, ",")
		out := make([]any, 0, len(items))
		for _, item := range items {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out
	}

	return s
}
