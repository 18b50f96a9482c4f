// Package safety implements the advisory-only write scanner: every edit is
// checked against a fixed catalog of risky-pattern regexes, and anything
// that matches is surfaced as a warning. It never blocks the write it is
// scanning — the verdict is for a human to read, not a gate to pass.
package safety

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/corewright/substrate/internal/store"
)

// Warning is one risky-pattern hit on a single added line.
type Warning struct {
	Category    string
	Message     string
	LinePreview string
}

// Result is the outcome of scanning one edit.
type Result struct {
	HasWarnings    bool
	Warnings       []Warning
	Recommendation string
}

// Scanner analyzes edits against the risky-pattern catalog and records
// what it finds. store may be nil, in which case findings are still
// computed and written to stderr but not persisted.
type Scanner struct {
	store *store.Store
}

func New(s *store.Store) *Scanner {
	return &Scanner{store: s}
}

// AnalyzeEdit scans the lines added between old and new content (lines
// present in new but absent from old, excluding pure comment lines)
// against the catalog.
func (s *Scanner) AnalyzeEdit(oldContent, newContent string) Result {
	var warnings []Warning
	for _, line := range addedLines(oldContent, newContent) {
		for category, patterns := range catalog {
			for _, p := range patterns {
				if p.re.MatchString(line) {
					warnings = append(warnings, Warning{
						Category:    category,
						Message:     p.message,
						LinePreview: previewLine(line),
					})
				}
			}
		}
	}
	return Result{
		HasWarnings:    len(warnings) > 0,
		Warnings:       warnings,
		Recommendation: recommendation(warnings),
	}
}

func previewLine(line string) string {
	if len(line) > 80 {
		return line[:80] + "..."
	}
	return line
}

func recommendation(warnings []Warning) string {
	switch {
	case len(warnings) == 0:
		return "No concerns detected."
	case len(warnings) >= 3:
		return "Multiple concerns - consider escalation for review."
	default:
		return "Review flagged items before proceeding."
	}
}

var commentPrefixes = []string{"#", "//", "/*", "*", `"""`, "'''"}

func isCommentLine(line string) bool {
	stripped := strings.TrimSpace(line)
	if stripped == "" {
		return false
	}
	for _, marker := range commentPrefixes {
		if strings.HasPrefix(stripped, marker) {
			return true
		}
	}
	return false
}

// addedLines is a line-set diff: every line in new not present anywhere in
// old, with pure comment lines filtered out to avoid flagging commented-out
// examples of risky code.
func addedLines(old, new string) []string {
	oldSet := make(map[string]bool)
	if old != "" {
		for _, line := range strings.Split(old, "\n") {
			oldSet[line] = true
		}
	}

	var added []string
	if new == "" {
		return added
	}
	for _, line := range strings.Split(new, "\n") {
		if oldSet[line] {
			continue
		}
		if isCommentLine(line) {
			continue
		}
		added = append(added, line)
	}
	return added
}

// LogAdvisoryWarnings writes every warning to stderr and, if a store is
// configured, records one metric_observations row per warning under the
// "advisory_warning" metric name so the volume can be queried later. Every
// failure here is swallowed — advisory logging must never affect the
// caller's write.
func (s *Scanner) LogAdvisoryWarnings(filePath string, result Result) {
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "[ADVISORY] %s: %s\n           Line: %s\n", w.Category, w.Message, w.LinePreview)

		if s.store == nil {
			continue
		}
		meta, err := json.Marshal(map[string]string{
			"file":    filePath,
			"message": w.Message,
			"line":    w.LinePreview,
		})
		if err != nil {
			continue
		}
		_, _ = s.store.InsertMetricObservation("advisory_warning", 1, w.Category, string(meta))
	}

	if len(result.Warnings) >= 3 {
		fmt.Fprintf(os.Stderr, "\n[ADVISORY] %s\n           File: %s\n\n", result.Recommendation, filePath)
	}
}
