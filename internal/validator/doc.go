// Package validator spell-checks a document against a settings snapshot.
//
// Validate first decides whether the document should be checked at all
// (scheme, enabled flag, language, ignorePaths, minified text), then limits
// the text to checkLimit, removes ignored regions found with the pattern
// matcher, segments the rest into words and reports each word missing from
// the dictionary as a diagnostic.
package validator
