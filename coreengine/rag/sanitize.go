package rag

import (
	"regexp"
	"strings"
)

// Redaction tokens applied to text before it is embedded or stored. Applied
// in order; each pattern replaces every match.
var redactions = []struct {
	re    *regexp.Regexp
	token string
}{
	{regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b\d{4}\s?\d{4}\s?\d{4}\s?\d{4}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\b\d{10}\b`), "[REDACTED_PHONE]"},
	{regexp.MustCompile(`\b\d{2}/\d{2}/\d{4}\b`), "[REDACTED_DOB]"},
	{regexp.MustCompile(`(?i)\b[A-Z]{2}\d{6,}\b`), "[REDACTED_ID]"},
}

// SanitizeText redacts sensitive data from text and trims whitespace.
func SanitizeText(text string) string {
	for _, r := range redactions {
		text = r.re.ReplaceAllString(text, r.token)
	}
	return strings.TrimSpace(text)
}

// NormalizeDocuments trims each document, drops empty ones, and removes
// duplicates keeping the first occurrence.
func NormalizeDocuments(texts []string) []string {
	seen := make(map[string]struct{}, len(texts))
	out := make([]string, 0, len(texts))
	for _, text := range texts {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
