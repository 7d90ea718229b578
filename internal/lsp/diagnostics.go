package lsp

import (
	"fmt"
	"slices"
	"strings"
)

// ParseSeverity maps a configured diagnostic level onto a severity.
// Matching ignores case; unknown names yield Information.
func ParseSeverity(level string) DiagnosticSeverity {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		return DiagnosticSeverityError
	case "warning":
		return DiagnosticSeverityWarning
	case "hint":
		return DiagnosticSeverityHint
	default:
		return DiagnosticSeverityInformation
	}
}

var severityNames = map[DiagnosticSeverity]string{
	DiagnosticSeverityError:       "Error",
	DiagnosticSeverityWarning:     "Warning",
	DiagnosticSeverityInformation: "Information",
	DiagnosticSeverityHint:        "Hint",
}

// String returns the level name accepted by ParseSeverity.
func (s DiagnosticSeverity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// FormatDiagnosticWithLocation renders d as a compiler-style line with a
// 1-based location, e.g. "notes.md:3:14 - Information: Unknown word (helo)".
func FormatDiagnosticWithLocation(path string, d Diagnostic) string {
	return fmt.Sprintf("%s:%d:%d - %s: %s",
		path, d.Range.Start.Line+1, d.Range.Start.Character+1, d.Severity, d.Message)
}

// SortDiagnostics orders diagnostics by start position, keeping the
// relative order of diagnostics that start at the same place.
func SortDiagnostics(diags []Diagnostic) {
	slices.SortStableFunc(diags, func(a, b Diagnostic) int {
		return ComparePositions(a.Range.Start, b.Range.Start)
	})
}
