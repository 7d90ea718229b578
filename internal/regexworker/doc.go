// Package regexworker executes regular expressions on behalf of other
// goroutines with a bounded time budget.
//
// Patterns come from user settings and dictionaries, so a single bad pattern
// can backtrack for a very long time. The Worker owns every compiled program
// and runs them on one dedicated goroutine; callers submit (text, regex,
// budget) messages and receive either the match ranges or a *TimeoutError.
// A runaway match therefore only ever occupies the worker, never the caller.
//
// Usage:
//
//	w := regexworker.New(regexworker.WithTimeout(2 * time.Second))
//	defer w.Close()
//
//	res, err := w.RunOne(ctx, text, regexworker.Regex{Source: `\bfoo\b`, Flags: "gi"}, 0)
//	var te *regexworker.TimeoutError
//	if errors.As(err, &te) {
//	    // te.ElapsedTimeMs(), te.Message
//	}
//
// Expressions compile with github.com/dlclark/regexp2 in ECMAScript mode, so
// \d and \w are ASCII-only and [^] matches any character. Supported flags are
// g (all matches, otherwise only the first), i, m, s and u; y is accepted and
// ignored.
package regexworker
