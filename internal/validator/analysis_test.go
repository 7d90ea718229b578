package validator

import (
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestLikelyMinified(t *testing.T) {
	limits := MinifiedLimits{LineLength: 10000, MaxChunkSize: 500, AverageChunkSize: 80}

	tests := []struct {
		name   string
		text   string
		reason string
	}{
		{"empty", "", ""},
		{"prose", "The quick brown fox\njumps over the lazy dog.\n", ""},
		{"long line", strings.Repeat("ab ", 4000), ReasonLineLength},
		{"average chunk", strings.Repeat("x", 90), ReasonAverageChunkSize},
		{"max chunk", strings.Repeat("a ", 400) + strings.Repeat("x", 600), ReasonMaxChunkSize},
		{"code", "func main() {\n\tfmt.Println(\"hi\")\n}\n", ""},
		{
			"only first lines sampled",
			strings.Repeat("ok\n", 150) + strings.Repeat("z", 20000),
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := likelyMinified(tt.text, limits)
			assert.Equal(t, reason, tt.reason)
			assert.Equal(t, ok, tt.reason != "")
		})
	}
}

func TestLikelyMinifiedDisabledLimits(t *testing.T) {
	reason, ok := likelyMinified(strings.Repeat("x", 20000), MinifiedLimits{})
	assert.Equal(t, ok, false)
	assert.Equal(t, reason, "")
}
