package regexworker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

// Regex is the message form of a regular expression: its body and flags.
// Two Regex values with the same String() are the same program.
type Regex struct {
	Source string
	Flags  string
}

// Range is a half-open [start, end) byte range into the matched text.
type Range [2]int

// Result is the outcome of running one regex.
type Result struct {
	Regex         Regex
	Ranges        []Range
	ElapsedTimeMs float64
}

const flagOrder = "gimsuy"

// Normalize returns r with its flags deduplicated and in canonical order.
func (r Regex) Normalize() Regex {
	var b strings.Builder
	for _, f := range flagOrder {
		if strings.ContainsRune(r.Flags, f) {
			b.WriteRune(f)
		}
	}
	return Regex{Source: r.Source, Flags: b.String()}
}

// String returns the literal form /source/flags.
func (r Regex) String() string {
	n := r.Normalize()
	return "/" + n.Source + "/" + n.Flags
}

// Global reports whether all matches should be returned.
func (r Regex) Global() bool {
	return strings.ContainsRune(r.Flags, 'g')
}

// Parse converts a pattern string into a Regex. Strings of the form
// /body/flags keep their flags; anything else becomes the body with
// defaultFlags.
func Parse(s, defaultFlags string) Regex {
	if len(s) >= 2 && s[0] == '/' {
		if i := strings.LastIndexByte(s, '/'); i > 0 {
			flags := s[i+1:]
			if validFlags(flags) {
				return Regex{Source: s[1:i], Flags: flags}.Normalize()
			}
		}
	}
	return Regex{Source: s, Flags: defaultFlags}.Normalize()
}

func validFlags(flags string) bool {
	for _, f := range flags {
		if !strings.ContainsRune(flagOrder, f) {
			return false
		}
	}
	return true
}

// options maps JavaScript flags onto regexp2 options. Patterns are
// JavaScript expressions, so every program is compiled in ECMAScript mode.
func options(flags string) (regexp2.RegexOptions, error) {
	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	for _, f := range flags {
		switch f {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 'u':
			opts |= regexp2.Unicode
		case 'g', 's', 'y':
		default:
			return opts, fmt.Errorf("unsupported flag %q", f)
		}
	}
	return opts, nil
}

// dotAll rewrites every "." outside a character class to match any
// character. regexp2 ignores Singleline in ECMAScript mode.
func dotAll(src string) string {
	var b strings.Builder
	inClass, escaped := false, false
	for _, r := range src {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case inClass:
			inClass = r != ']'
		case r == '[':
			inClass = true
		case r == '.':
			b.WriteString(`[\s\S]`)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func compile(r Regex) (*regexp2.Regexp, error) {
	opts, err := options(r.Flags)
	if err != nil {
		return nil, &CompileError{Regex: r, Err: err}
	}
	src := r.Source
	if strings.ContainsRune(r.Flags, 's') {
		src = dotAll(src)
	}
	re, err := regexp2.Compile(src, opts)
	if err != nil {
		return nil, &CompileError{Regex: r, Err: err}
	}
	return re, nil
}

// Validate reports whether r compiles. The compiled program is discarded;
// programs used for matching live inside a Worker.
func Validate(r Regex) error {
	_, err := compile(r.Normalize())
	return err
}

// runeOffsets maps rune indexes to byte offsets; the extra trailing entry
// is len(text).
func runeOffsets(text string) []int {
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}
