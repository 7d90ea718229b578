package validator

import (
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// Word is a candidate for spell checking.
type Word struct {
	Text   string
	Offset int // byte offset in the checked text
}

// End returns the byte offset just past the word.
func (w Word) End() int {
	return w.Offset + len(w.Text)
}

// SplitWords segments text into words on Unicode word boundaries and splits
// compound identifiers (camelCase, snake_case, digits) into their parts.
func SplitWords(text string) []Word {
	var words []Word
	state := -1
	offset := 0
	rest := text
	for len(rest) > 0 {
		var segment string
		segment, rest, state = uniseg.FirstWordInString(rest, state)
		words = appendParts(words, segment, offset)
		offset += len(segment)
	}
	return words
}

// appendParts adds the letter runs of segment, split at case changes.
func appendParts(words []Word, segment string, base int) []Word {
	start := -1
	var prev rune
	flush := func(end int) {
		if start >= 0 {
			if text := trimApostrophes(segment[start:end]); text != "" {
				words = append(words, Word{Text: text, Offset: base + start})
			}
		}
		start = -1
	}

	for i, r := range segment {
		switch {
		case isLetter(r):
			if start >= 0 && caseBreak(prev, r, segment[i+utf8.RuneLen(r):]) {
				flush(i)
			}
			if start < 0 {
				start = i
			}
		case isApostrophe(r) && start >= 0:
			// kept when between letters, trimmed otherwise
		default:
			flush(i)
		}
		prev = r
	}
	flush(len(segment))
	return words
}

// caseBreak reports whether a word boundary falls before r.
// "camelCase" breaks before C; "HTMLParser" breaks before P.
func caseBreak(prev, r rune, next string) bool {
	if unicode.IsLower(prev) && unicode.IsUpper(r) {
		return true
	}
	if unicode.IsUpper(prev) && unicode.IsUpper(r) {
		n, _ := utf8.DecodeRuneInString(next)
		return unicode.IsLower(n)
	}
	return false
}

func isLetter(r rune) bool {
	return unicode.IsLetter(r) || unicode.Is(unicode.Mn, r)
}

func isApostrophe(r rune) bool {
	return r == '\'' || r == '’'
}

func trimApostrophes(s string) string {
	for s != "" {
		r, size := utf8.DecodeLastRuneInString(s)
		if !isApostrophe(r) {
			break
		}
		s = s[:len(s)-size]
	}
	return s
}
