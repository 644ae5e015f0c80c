// Package extract pulls structured fields out of uploaded application
// documents.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/leaseflow/coreengine/coreengine/llm"
	"github.com/leaseflow/coreengine/coreengine/typeutil"
)

// ErrEmptyDocument is returned when a document has no extractable text.
var ErrEmptyDocument = errors.New("document contains no text")

// ErrNoExtractor is returned when no extractor is registered for a kind.
var ErrNoExtractor = errors.New("no extractor registered")

// Extractor pulls fields from one kind of document.
type Extractor interface {
	Kind() string
	Extract(ctx context.Context, text string) (map[string]any, error)
}

// Registry dispatches documents to extractors by kind.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Register adds an extractor, replacing any previous one for the same kind.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[e.Kind()] = e
}

// Extract dispatches text to the extractor for kind.
func (r *Registry) Extract(ctx context.Context, kind, text string) (map[string]any, error) {
	r.mu.RLock()
	e, ok := r.extractors[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoExtractor, kind)
	}
	return e.Extract(ctx, text)
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.extractors))
	for kind := range r.extractors {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// KindForFilename maps an uploaded filename to a document kind, or "" when
// the file is not a recognized document type.
func KindForFilename(name string) string {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".pdf") || strings.HasSuffix(lower, ".txt") {
		return "payslip"
	}
	return ""
}

// PayslipExtractor extracts employment fields from payslip text. With a
// provider configured it asks the LLM for strict JSON; any LLM failure falls
// back to line heuristics so ingestion never fails hard.
type PayslipExtractor struct {
	provider llm.Provider
}

// NewPayslipExtractor creates a payslip extractor. A nil provider uses
// heuristics only.
func NewPayslipExtractor(provider llm.Provider) *PayslipExtractor {
	return &PayslipExtractor{provider: provider}
}

// Kind implements Extractor.
func (p *PayslipExtractor) Kind() string { return "payslip" }

// Extract implements Extractor.
func (p *PayslipExtractor) Extract(ctx context.Context, text string) (map[string]any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}
	if p.provider == nil {
		return p.parseHeuristic(text), nil
	}

	prompt := "Extract JSON with keys: employee_name, employer_name, pay_date, gross_income " +
		"from the following payslip text. Return strictly JSON with those keys only.\n\n" + text
	raw, err := p.provider.Generate(ctx, "You are a precise information extractor.", prompt)
	if err != nil {
		log.Warn().Err(err).Msg("payslip_llm_extract_failed")
		return p.parseHeuristic(text), nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		log.Warn().Err(err).Msg("payslip_llm_json_invalid")
		return p.parseHeuristic(text), nil
	}
	if amount, ok := typeutil.CoerceFloat(fields["gross_income"]); ok {
		fields["gross_income"] = amount
	} else {
		fields["gross_income"] = 0.0
	}
	fields["source"] = "llm"
	return fields, nil
}

func (p *PayslipExtractor) parseHeuristic(text string) map[string]any {
	fields := map[string]any{
		"employee_name": "",
		"employer_name": "",
		"pay_date":      "",
		"gross_income":  0.0,
		"source":        "heuristic",
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Employee:"):
			fields["employee_name"] = strings.TrimSpace(strings.TrimPrefix(line, "Employee:"))
		case strings.HasPrefix(line, "Employer:"):
			fields["employer_name"] = strings.TrimSpace(strings.TrimPrefix(line, "Employer:"))
		case strings.HasPrefix(line, "Pay Date:"):
			fields["pay_date"] = strings.TrimSpace(strings.TrimPrefix(line, "Pay Date:"))
		case strings.Contains(line, "Income:") || strings.Contains(line, "Gross"):
			if amount, ok := typeutil.CoerceFloat(digitsAndDots(line)); ok {
				fields["gross_income"] = amount
			}
		}
	}
	return fields
}

func digitsAndDots(line string) string {
	var b strings.Builder
	for _, ch := range line {
		if (ch >= '0' && ch <= '9') || ch == '.' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}
