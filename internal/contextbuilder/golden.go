package contextbuilder

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var ruleHeaderPattern = regexp.MustCompile(`^## \d+\.`)
var ruleCategoryPattern = regexp.MustCompile(`^\*\*Category:\*\*\s*(.+)`)

// readGoldenRules returns the content of the configured golden-rules file,
// or a standard placeholder if it hasn't been written yet. categories, if
// non-empty, filters the file down to rules tagged with one of them.
func readGoldenRules(path string, categories []string) string {
	if path == "" {
		return "# Golden Rules\n\nNo golden rules have been established yet."
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "# Golden Rules\n\nNo golden rules have been established yet."
	}
	content := string(data)
	if len(categories) == 0 {
		return content
	}
	return filterGoldenRulesByCategory(content, categories)
}

// filterGoldenRulesByCategory keeps only the rules (each a "## N. Title"
// block) whose "**Category:** x" line matches one of categories, plus the
// file header that precedes the first rule.
func filterGoldenRulesByCategory(content string, categories []string) string {
	wanted := make(map[string]bool, len(categories))
	for _, c := range categories {
		wanted[strings.ToLower(strings.TrimSpace(c))] = true
	}

	lines := strings.Split(content, "\n")
	var result []string
	var currentRule []string
	inRule := false
	includeCurrent := false
	headerEnded := false

	flush := func() {
		if inRule && includeCurrent {
			result = append(result, currentRule...)
		}
	}

	for _, line := range lines {
		switch {
		case ruleHeaderPattern.MatchString(line):
			flush()
			inRule = true
			headerEnded = true
			currentRule = []string{line}
			includeCurrent = false
		case inRule:
			currentRule = append(currentRule, line)
			if m := ruleCategoryPattern.FindStringSubmatch(line); m != nil {
				if wanted[strings.ToLower(strings.TrimSpace(m[1]))] {
					includeCurrent = true
				}
			}
		case !headerEnded:
			result = append(result, line)
		}
	}
	flush()

	result = append(result, "", fmt.Sprintf("*[Filtered to categories: %s]*", strings.Join(categories, ", ")))
	return strings.Join(result, "\n")
}

// readCustomGoldenRules returns the content of an optional project-level
// golden-rules override, or "" if none exists.
func readCustomGoldenRules(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
