package validator

import (
	"regexp"
	"strings"
)

// Reasons a document is not checked.
const (
	ReasonSchemeNotAllowed = "Scheme is not allowed."
	ReasonDisabled         = "Spell checking is disabled."
	ReasonLanguageDisabled = "Language is not enabled."
	ReasonExcludedPath     = "File is excluded by ignorePaths."
	ReasonLineLength       = "Lines are too long."
	ReasonAverageChunkSize = "Average word size is too high."
	ReasonMaxChunkSize     = "Maximum word length is too high."
)

// MinifiedLimits are the thresholds used to detect minified text.
type MinifiedLimits struct {
	LineLength       int
	MaxChunkSize     int
	AverageChunkSize int
}

// sampleLines is the number of lines inspected.
const sampleLines = 100

var chunkBreaks = regexp.MustCompile(`[\s,{}\[\]]+`)

// likelyMinified returns a reason when text looks minified. Only the first
// lines are sampled.
func likelyMinified(text string, limits MinifiedLimits) (string, bool) {
	var lines []string
	rest := text
	for i := 0; i < sampleLines && rest != ""; i++ {
		line, tail, found := strings.Cut(rest, "\n")
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
		if !found {
			break
		}
		rest = tail
	}
	if len(lines) == 0 {
		return "", false
	}

	if limits.LineLength > 0 {
		for _, line := range lines {
			if len(line) > limits.LineLength {
				return ReasonLineLength, true
			}
		}
	}

	sample := strings.Join(lines, "\n")
	breaks := chunkBreaks.FindAllStringIndex(sample, -1)

	if limits.AverageChunkSize > 0 {
		avg := len(sample) / (len(breaks) + 1)
		if avg > limits.AverageChunkSize {
			return ReasonAverageChunkSize, true
		}
	}

	if limits.MaxChunkSize > 0 {
		maxChunk, prev := 0, 0
		for _, b := range breaks {
			maxChunk = max(maxChunk, b[0]-prev)
			prev = b[1]
		}
		maxChunk = max(maxChunk, len(sample)-prev)
		if maxChunk > limits.MaxChunkSize {
			return ReasonMaxChunkSize, true
		}
	}
	return "", false
}
