package regexworker

import (
	"errors"
	"fmt"
	"time"
)

// ErrWorkerClosed is returned when submitting to, or waiting on, a closed worker.
var ErrWorkerClosed = errors.New("regex worker is closed")

// TimeoutError reports that a request exhausted its time budget.
type TimeoutError struct {
	Message string
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return e.Message
}

// ElapsedTimeMs returns the time spent before the budget ran out.
func (e *TimeoutError) ElapsedTimeMs() float64 {
	return durationMs(e.Elapsed)
}

func newTimeoutError(elapsed, budget time.Duration) *TimeoutError {
	return &TimeoutError{
		Message: fmt.Sprintf("Request timed out after %dms (budget %dms)", elapsed.Milliseconds(), budget.Milliseconds()),
		Elapsed: elapsed,
	}
}

// CompileError reports a regular expression that could not be compiled.
type CompileError struct {
	Regex Regex
	Err   error
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %v", e.Regex, e.Err)
}

// Unwrap returns the underlying error.
func (e *CompileError) Unwrap() error {
	return e.Err
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
