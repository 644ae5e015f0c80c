// Package guardrails scans profile fields and free text for sensitive data
// and redacts matches before they reach downstream stages.
package guardrails

import (
	"context"
	"regexp"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/leaseflow/coreengine/commbus"
	"github.com/leaseflow/coreengine/coreengine/config"
	"github.com/leaseflow/coreengine/coreengine/storage"
)

// RedactedMarker replaces any profile value that matched a rule.
const RedactedMarker = "[REDACTED]"

// Finding records one redacted profile field.
type Finding struct {
	Field    string `json:"field"`
	Severity string `json:"severity"`
	Reason   string `json:"reason"`
}

// Issue records one rule match in free text.
type Issue struct {
	Pattern     string `json:"pattern"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// TextScanResult is the outcome of a non-mutating text scan.
type TextScanResult struct {
	Issues []Issue `json:"issues"`
	Count  int     `json:"count"`
}

// RuleSource supplies redaction rules, typically the SQLite store.
type RuleSource interface {
	GuardrailRules(ctx context.Context) ([]storage.GuardrailRule, error)
}

type compiledRule struct {
	re          *regexp.Regexp
	pattern     string
	severity    string
	description string
}

// Scanner applies the redaction rules. Rules are loaded once on first use
// and cached; a failing source falls back to the built-in patterns.
type Scanner struct {
	source RuleSource
	bus    commbus.CommBus

	once  sync.Once
	rules []compiledRule
}

// NewScanner creates a scanner backed by source. A nil source uses the
// built-in patterns.
func NewScanner(source RuleSource, bus commbus.CommBus) *Scanner {
	return &Scanner{source: source, bus: bus}
}

func (s *Scanner) loadRules(ctx context.Context) []compiledRule {
	s.once.Do(func() {
		raw := defaultRules()
		if s.source != nil {
			stored, err := s.source.GuardrailRules(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("guardrails_rules_load_failed")
			} else if len(stored) > 0 {
				raw = stored
			}
		}
		for _, r := range raw {
			// Patterns match case-insensitively: a lowercase licence number
			// is as sensitive as an uppercase one.
			re, err := regexp.Compile("(?i)" + r.Pattern)
			if err != nil {
				log.Warn().Str("pattern", r.Pattern).Err(err).Msg("guardrails_pattern_invalid")
				continue
			}
			s.rules = append(s.rules, compiledRule{re: re, pattern: r.Pattern, severity: r.Severity, description: r.Description})
		}
		log.Debug().Int("rules", len(s.rules)).Msg("guardrails_rules_loaded")
	})
	return s.rules
}

func defaultRules() []storage.GuardrailRule {
	rules := make([]storage.GuardrailRule, 0, len(config.DefaultGuardrailPatterns))
	for _, p := range config.DefaultGuardrailPatterns {
		rules = append(rules, storage.GuardrailRule{
			Pattern:     p.Pattern,
			Severity:    p.Severity,
			Description: p.Description,
		})
	}
	return rules
}

// ScanProfile redacts sensitive string values in place and returns one
// finding per redacted field, ordered by field name. Scanning an already
// redacted profile yields no new findings.
func (s *Scanner) ScanProfile(ctx context.Context, requestID string, profile map[string]any) []Finding {
	rules := s.loadRules(ctx)

	keys := make([]string, 0, len(profile))
	for key := range profile {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	findings := make([]Finding, 0)
	for _, key := range keys {
		text, ok := profile[key].(string)
		if !ok {
			continue
		}
		// Every rule is tested against the field's current value, so later
		// rules see the marker once an earlier rule redacted it.
		for _, rule := range rules {
			if rule.re.MatchString(text) {
				profile[key] = RedactedMarker
				text = RedactedMarker
				findings = append(findings, Finding{
					Field:    key,
					Severity: rule.severity,
					Reason:   rule.description,
				})
			}
		}
	}

	if len(findings) > 0 && s.bus != nil {
		fields := make([]string, 0, len(findings))
		for _, f := range findings {
			fields = append(fields, f.Field)
		}
		_ = s.bus.Publish(ctx, &commbus.GuardrailsFlagged{
			RequestID:    requestID,
			FindingCount: len(findings),
			Fields:       fields,
		})
		_ = s.bus.Publish(ctx, &commbus.AuditRecorded{
			RequestID: requestID,
			Action:    "guardrails_scan",
			Details:   map[string]any{"finding_count": len(findings), "fields": fields},
		})
	}
	return findings
}

// ScanText reports rule matches in free text without modifying it. Each rule
// contributes at most one issue.
func (s *Scanner) ScanText(ctx context.Context, text string) TextScanResult {
	rules := s.loadRules(ctx)

	issues := make([]Issue, 0)
	for _, rule := range rules {
		if rule.re.MatchString(text) {
			issues = append(issues, Issue{Pattern: rule.pattern, Severity: rule.severity, Description: rule.description})
		}
	}
	return TextScanResult{Issues: issues, Count: len(issues)}
}
