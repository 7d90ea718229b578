package pattern

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/regexworker"
)

type fakeTimeout struct {
	elapsed float64
}

func (e *fakeTimeout) Error() string          { return "Request timed out" }
func (e *fakeTimeout) ElapsedTimeMs() float64 { return e.elapsed }

// fakeRunner matches by substring search on the regex source.
type fakeRunner struct {
	mu sync.Mutex

	batchErr error
	slow     map[string]bool
	fail     map[string]error

	batchCalls int
	oneCalls   []string
	batchSizes []int
	closed     bool
}

func (f *fakeRunner) ranges(text string, re regexworker.Regex) []regexworker.Range {
	out := []regexworker.Range{}
	if re.Source == "" {
		return out
	}
	offset := 0
	for {
		i := strings.Index(text[offset:], re.Source)
		if i < 0 {
			return out
		}
		s := offset + i
		out = append(out, regexworker.Range{s, s + len(re.Source)})
		offset = s + len(re.Source)
		if !re.Global() {
			return out
		}
	}
}

func (f *fakeRunner) RunOne(_ context.Context, text string, re regexworker.Regex, _ time.Duration) (regexworker.Result, error) {
	f.mu.Lock()
	f.oneCalls = append(f.oneCalls, re.String())
	slow := f.slow[re.Source]
	failErr := f.fail[re.Source]
	f.mu.Unlock()

	if failErr != nil {
		return regexworker.Result{}, failErr
	}
	if slow {
		return regexworker.Result{}, &fakeTimeout{elapsed: 10}
	}
	return regexworker.Result{Regex: re, Ranges: f.ranges(text, re), ElapsedTimeMs: 1}, nil
}

func (f *fakeRunner) RunBatch(_ context.Context, text string, res []regexworker.Regex, _ time.Duration) ([]regexworker.Result, error) {
	f.mu.Lock()
	f.batchCalls++
	f.batchSizes = append(f.batchSizes, len(res))
	err := f.batchErr
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	out := make([]regexworker.Result, len(res))
	for i, re := range res {
		out[i] = regexworker.Result{Regex: re, Ranges: f.ranges(text, re), ElapsedTimeMs: 1}
	}
	return out, nil
}

func (f *fakeRunner) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var errFatal = errors.New("worker crashed")
