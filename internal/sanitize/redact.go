// Package sanitize cleans text crossing the backend boundary: model output
// before it is written into a field, and error messages before they reach
// logs or reports.
package sanitize

import (
	"regexp"
	"strings"
)

// Reasoning models served through Ollama or OpenAI-compatible proxies
// prefix their answer with a think block.
var reasoningPattern = regexp.MustCompile(`(?s)<(think|thinking|reasoning)>.*?</(?:think|thinking|reasoning)>`)

// An unterminated block at the start means the answer was cut off inside
// the reasoning.
var openReasoningPattern = regexp.MustCompile(`(?s)^\s*<(?:think|thinking|reasoning)>.*$`)

// StripReasoning removes reasoning blocks from model output and trims the
// remaining text.
func StripReasoning(text string) string {
	if !strings.Contains(text, "<") {
		return strings.TrimSpace(text)
	}
	text = reasoningPattern.ReplaceAllString(text, "")
	text = openReasoningPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// Redact replaces every occurrence of each non-empty secret in text.
func Redact(text string, secrets ...string) string {
	for _, s := range secrets {
		if s == "" {
			continue
		}
		text = strings.ReplaceAll(text, s, "[REDACTED]")
	}
	return text
}
