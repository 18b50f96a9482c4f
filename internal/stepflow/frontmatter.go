package stepflow

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelim = "---"

// readFrontmatter splits a state file into its decoded frontmatter and the
// free-form body text that follows it.
func readFrontmatter(path string) (State, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, "", err
	}

	text := string(data)
	if !strings.HasPrefix(text, frontmatterDelim+"\n") {
		return State{}, "", fmt.Errorf("stepflow: %s has no frontmatter", path)
	}
	rest := text[len(frontmatterDelim)+1:]

	idx := strings.Index(rest, "\n"+frontmatterDelim)
	if idx < 0 {
		return State{}, "", fmt.Errorf("stepflow: %s frontmatter not terminated", path)
	}
	yamlPart := rest[:idx]
	body := strings.TrimPrefix(rest[idx+len(frontmatterDelim)+1:], "\n")

	var state State
	if err := yaml.Unmarshal([]byte(yamlPart), &state); err != nil {
		return State{}, "", fmt.Errorf("stepflow: decode frontmatter: %w", err)
	}
	return state, body, nil
}

// writeFrontmatter writes state and body back out in frontmatter form.
func writeFrontmatter(path string, state State, body string) error {
	yamlBytes, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("stepflow: encode frontmatter: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(frontmatterDelim + "\n")
	sb.Write(yamlBytes)
	sb.WriteString(frontmatterDelim + "\n")
	sb.WriteString(body)
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("stepflow: write state file: %w", err)
	}
	return nil
}
