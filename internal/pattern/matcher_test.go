package pattern

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/logging"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/regexworker"
)

func newTestMatcher(r Runner) *Matcher {
	return NewMatcher(r, WithLogger(logging.Nop()))
}

func names(results []MatchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Name
	}
	return out
}

func TestMatchFlattensMultiPattern(t *testing.T) {
	lib := NewLibrary([]NamedPattern{
		{Name: "foo", Pattern: []string{"a", "b", "c"}},
	}, logging.Nop())
	m := newTestMatcher(&fakeRunner{})

	results, err := m.MatchPatternsInText(context.Background(), Requests("foo"), "abc", lib)
	assert.Equal(t, err, nil)
	assert.Equal(t, names(results), []string{"foo", "foo.1", "foo.2"})
	for _, r := range results {
		assert.Equal(t, r.IsMatch(), true)
		assert.Equal(t, len(r.Ranges), 1)
	}
}

func TestMatchLookupCaseFolding(t *testing.T) {
	lib := NewLibrary([]NamedPattern{
		{Name: "Email", Pattern: []string{"@"}},
		{Name: "url", Pattern: []string{"http"}},
		{Name: "URL", Pattern: []string{"https"}},
	}, logging.Nop())
	m := newTestMatcher(&fakeRunner{})

	results, err := m.MatchPatternsInText(context.Background(), Requests("email", "URL", "Url"), "x@y https", lib)
	assert.Equal(t, err, nil)
	assert.Equal(t, names(results), []string{"Email", "URL", "URL"})
	assert.Equal(t, results[1].Regexp, regexworker.Regex{Source: "https"})
}

func TestMatchUnresolvedNameIsRegex(t *testing.T) {
	m := newTestMatcher(&fakeRunner{})

	results, err := m.MatchPatternsInText(context.Background(), Requests("lo"), "hello lo", nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(results), 1)
	assert.Equal(t, results[0].Name, "lo")
	assert.Equal(t, results[0].Regexp, regexworker.Regex{Source: "lo", Flags: "g"})
	assert.Equal(t, results[0].Ranges, []regexworker.Range{{3, 5}, {6, 8}})
}

func TestMatchDefinedPatternsReportFirstMatch(t *testing.T) {
	lib := NewLibrary([]NamedPattern{{Name: "x", Pattern: []string{"a"}}}, logging.Nop())
	m := newTestMatcher(&fakeRunner{})

	reqs := []Request{
		Named("x"),
		Inline(NamedPattern{Name: "y", Pattern: []string{"a"}}),
		Named("a"),
		{Name: "x", All: true},
	}
	results, err := m.MatchPatternsInText(context.Background(), reqs, "a a a", lib)
	assert.Equal(t, err, nil)
	assert.Equal(t, results[0].Regexp, regexworker.Regex{Source: "a"})
	assert.Equal(t, results[0].Ranges, []regexworker.Range{{0, 1}})
	assert.Equal(t, results[1].Ranges, []regexworker.Range{{0, 1}})
	assert.Equal(t, results[2].Regexp, regexworker.Regex{Source: "a", Flags: "g"})
	assert.Equal(t, len(results[2].Ranges), 3)
	assert.Equal(t, results[3].Name, "x")
	assert.Equal(t, results[3].Regexp, regexworker.Regex{Source: "a", Flags: "g"})
	assert.Equal(t, len(results[3].Ranges), 3)
}

func TestMatchLiteralFlags(t *testing.T) {
	lib := NewLibrary([]NamedPattern{
		{Name: "first", Pattern: []string{"/o/"}},
	}, logging.Nop())
	m := newTestMatcher(&fakeRunner{})

	results, err := m.MatchPatternsInText(context.Background(), Requests("first"), "foo", lib)
	assert.Equal(t, err, nil)
	assert.Equal(t, results[0].Regexp, regexworker.Regex{Source: "o"})
	assert.Equal(t, results[0].Ranges, []regexworker.Range{{1, 2}})
}

func TestMatchInlinePattern(t *testing.T) {
	m := newTestMatcher(&fakeRunner{})

	req := Inline(NamedPattern{Name: "at", Pattern: []string{"(", "@"}})
	results, err := m.MatchPatternsInText(context.Background(), []Request{req}, "a@b", nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, names(results), []string{"at"})
	assert.Equal(t, results[0].Ranges, []regexworker.Range{{1, 2}})
}

func TestMatchSkipsMalformed(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestMatcher(runner)

	results, err := m.MatchPatternsInText(context.Background(), Requests("(", "[a-"), "abc", nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(results), 0)
	assert.Equal(t, runner.batchCalls, 0)
}

func TestMatchDuplicateRequests(t *testing.T) {
	runner := &fakeRunner{}
	lib := NewLibrary([]NamedPattern{{Name: "b", Pattern: []string{"b"}}}, logging.Nop())
	m := newTestMatcher(runner)

	results, err := m.MatchPatternsInText(context.Background(), Requests("b", "a", "b"), "abab", lib)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(results), 3)
	assert.Equal(t, results[0], results[2])
	assert.Equal(t, results[1].Name, "a")
	assert.Equal(t, runner.batchSizes, []int{2})
}

func TestMatchTimeoutFallback(t *testing.T) {
	runner := &fakeRunner{batchErr: &fakeTimeout{elapsed: 2000}}
	m := newTestMatcher(runner)

	results, err := m.MatchPatternsInText(context.Background(), Requests("a", "b", "c", "a"), "abc", nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(results), 4)

	timeouts := 0
	for _, r := range results {
		if r.IsTimeout() {
			timeouts++
		}
	}
	assert.Equal(t, timeouts, 0)
	assert.Equal(t, len(runner.oneCalls), 3)
}

func TestMatchTimeoutIsolated(t *testing.T) {
	runner := &fakeRunner{
		batchErr: &fakeTimeout{elapsed: 2000},
		slow:     map[string]bool{"b": true},
	}
	m := newTestMatcher(runner)

	results, err := m.MatchPatternsInText(context.Background(), Requests("a", "b", "c"), "abc", nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, results[0].IsMatch(), true)
	assert.Equal(t, results[1].IsTimeout(), true)
	assert.Equal(t, results[1].Name, "b")
	assert.Equal(t, results[1].Message, "Request timed out")
	assert.Equal(t, results[1].ElapsedTimeMs, float64(10))
	assert.Equal(t, results[2].IsMatch(), true)
}

func TestMatchFatalBatchError(t *testing.T) {
	runner := &fakeRunner{batchErr: errFatal}
	m := newTestMatcher(runner)

	_, err := m.MatchPatternsInText(context.Background(), Requests("a"), "abc", nil)
	assert.Equal(t, errors.Is(err, errFatal), true)
	assert.Equal(t, len(runner.oneCalls), 0)
}

func TestMatchFatalRetryError(t *testing.T) {
	runner := &fakeRunner{
		batchErr: &fakeTimeout{},
		fail:     map[string]error{"b": errFatal},
	}
	m := newTestMatcher(runner)

	_, err := m.MatchPatternsInText(context.Background(), Requests("a", "b"), "abc", nil)
	assert.Equal(t, errors.Is(err, errFatal), true)
}

func TestPairMissingResult(t *testing.T) {
	e := entry{name: "x", regex: regexworker.Regex{Source: "x", Flags: "g"}}
	results := pair([]entry{e}, nil)

	assert.Equal(t, len(results), 1)
	assert.Equal(t, results[0].IsTimeout(), true)
	assert.Equal(t, results[0].Name, "x")
	assert.Equal(t, results[0].Message, UnmatchedMessage)
}

func TestIsTimeout(t *testing.T) {
	assert.Equal(t, IsTimeout(&fakeTimeout{}), true)
	assert.Equal(t, IsTimeout(errFatal), false)
	assert.Equal(t, IsTimeout(&regexworker.TimeoutError{Message: "t"}), true)
}

func TestMatcherClose(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestMatcher(runner)
	assert.Equal(t, m.Close(), nil)
	assert.Equal(t, runner.closed, true)
}

func TestMatchWithWorker(t *testing.T) {
	w := regexworker.New(regexworker.WithTimeout(time.Second))
	m := newTestMatcher(w)
	defer m.Close()

	text := "\n    Please email: <info@example.com>\n\n    Quote: \"All good things must...\"\n"
	lib := NewLibrary([]NamedPattern{
		{Name: "Email", Pattern: []string{`/<?\b[\w.\-+]{1,128}@\w{1,63}(\.\w{1,63}){1,4}\b>?/gi`}},
	}, logging.Nop())

	results, err := m.MatchPatternsInText(context.Background(), Requests("email"), text, lib)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(results), 1)
	assert.Equal(t, results[0].Name, "Email")
	assert.Equal(t, results[0].IsMatch(), true)

	var found []string
	for _, r := range results[0].Ranges {
		found = append(found, text[r[0]:r[1]])
	}
	assert.Equal(t, found, []string{"<info@example.com>"})
}

func TestMatchTimeoutFallbackManyPatterns(t *testing.T) {
	w := regexworker.New(regexworker.WithTimeout(50 * time.Millisecond))
	m := newTestMatcher(w)
	defer m.Close()

	reqs := Requests(`(a+)+$`)
	for i := 0; i < 150; i++ {
		reqs = append(reqs, Requests(fmt.Sprintf("word%d", i))...)
	}
	text := strings.Repeat("a", 40) + "b"

	results, err := m.MatchPatternsInText(context.Background(), reqs, text, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(results), 151)
	assert.Equal(t, results[0].IsTimeout(), true)
	for _, r := range results[1:] {
		if !r.IsMatch() {
			t.Fatalf("%s: want a completed match result, got %+v", r.Name, r)
		}
	}
}
