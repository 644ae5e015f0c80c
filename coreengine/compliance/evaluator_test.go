package compliance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaseflow/coreengine/commbus"
	"github.com/leaseflow/coreengine/coreengine/storage"
)

type staticSource struct {
	rules []storage.Rule
	err   error
}

func (s *staticSource) ComplianceRulesFor(ctx context.Context, state string) ([]storage.Rule, error) {
	return s.rules, s.err
}

// ===== RULE CLASSIFICATION =====

func TestClassifyRule(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"proof_of_income", KindIncome},
		{"income_validation", KindIncome},
		{"employment_verification", KindIncome},
		{"identity_check", KindIdentity},
		{"id_verification", KindIdentity},
		{"proof_of_identity", KindIdentity},
		{"references", KindReference},
		{"rental_history", KindRentalHistory},
		{"pet_policy", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyRule(tt.name))
		})
	}
}

// ===== EVALUATION =====

func TestEvaluateCompleteProfile(t *testing.T) {
	evaluator := NewEvaluator(nil, nil)

	result := evaluator.Evaluate(context.Background(), "req-1", "NSW", map[string]any{
		"income":            "85000",
		"identity_document": "passport.pdf",
		"rental_history":    "3 years at prior address",
	})

	assert.Equal(t, 3, result.TotalRules)
	assert.Equal(t, []string{"proof_of_income", "identity_check", "rental_history"}, result.Passed)
	assert.Empty(t, result.Failed)
}

func TestEvaluateMissingIncome(t *testing.T) {
	evaluator := NewEvaluator(nil, nil)

	result := evaluator.Evaluate(context.Background(), "req-1", "NSW", map[string]any{
		"identity_document": "passport.pdf",
		"rental_history":    "3 years",
	})

	assert.Equal(t, []string{"proof_of_income"}, result.Failed)
	assert.Equal(t, []string{"identity_check", "rental_history"}, result.Passed)
}

func TestEvaluateZeroIncomeFails(t *testing.T) {
	evaluator := NewEvaluator(nil, nil)

	result := evaluator.Evaluate(context.Background(), "req-1", "QLD", map[string]any{
		"income":            "0",
		"identity_document": "license.pdf",
		"rental_history":    "none",
	})

	assert.Contains(t, result.Failed, "income_validation")
}

func TestEvaluateFormattedIncomePasses(t *testing.T) {
	evaluator := NewEvaluator(nil, nil)

	result := evaluator.Evaluate(context.Background(), "req-1", "QLD", map[string]any{
		"income":            "$85,000.00",
		"identity_document": "license.pdf",
		"rental_history":    "2 years",
	})

	assert.Contains(t, result.Passed, "income_validation")
}

func TestEvaluateDriversLicenseSatisfiesIdentity(t *testing.T) {
	evaluator := NewEvaluator(nil, nil)

	result := evaluator.Evaluate(context.Background(), "req-1", "NSW", map[string]any{
		"income":          "85000",
		"drivers_license": "12345678",
		"rental_history":  "2 years",
	})

	assert.Contains(t, result.Passed, "identity_check")
}

func TestEvaluateUnknownJurisdictionYieldsEmptyResult(t *testing.T) {
	evaluator := NewEvaluator(nil, nil)

	result := evaluator.Evaluate(context.Background(), "req-1", "ACT", map[string]any{
		"income": "85000",
	})

	assert.Equal(t, 0, result.TotalRules)
	assert.Empty(t, result.Passed)
	assert.Empty(t, result.Failed)
}

func TestEvaluateUnknownRuleKindPasses(t *testing.T) {
	source := &staticSource{rules: []storage.Rule{
		{State: "NSW", Name: "pet_policy", Description: "Pets declared"},
		{State: "NSW", Name: "proof_of_income", Description: "Income shown"},
	}}
	evaluator := NewEvaluator(source, nil)

	result := evaluator.Evaluate(context.Background(), "req-1", "NSW", map[string]any{
		"income": "85000",
	})

	assert.Equal(t, 2, result.TotalRules)
	assert.Equal(t, []string{"pet_policy", "proof_of_income"}, result.Passed)
	assert.Equal(t, []string{"pet_policy"}, result.Unknown)
	assert.Empty(t, result.Failed)
}

func TestEvaluateFailingSourceFallsBack(t *testing.T) {
	source := &staticSource{err: assert.AnError}
	evaluator := NewEvaluator(source, nil)

	result := evaluator.Evaluate(context.Background(), "req-1", "VIC", map[string]any{
		"income":            "70000",
		"references":        "two landlords",
		"identity_document": "passport.pdf",
	})

	assert.Equal(t, 3, result.TotalRules)
	assert.Empty(t, result.Failed)
}

func TestEvaluatePublishesAudit(t *testing.T) {
	bus := commbus.NewInMemoryCommBus(time.Second)
	var mu sync.Mutex
	var audited *commbus.AuditRecorded
	bus.Subscribe("AuditRecorded", func(ctx context.Context, msg commbus.Message) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		audited = msg.(*commbus.AuditRecorded)
		return nil, nil
	})

	evaluator := NewEvaluator(nil, bus)
	evaluator.Evaluate(context.Background(), "req-3", "NSW", map[string]any{})

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, audited)
	assert.Equal(t, "compliance_check", audited.Action)
	assert.Equal(t, "NSW", audited.Jurisdiction)
	assert.Equal(t, 3, audited.Details["total_rules"])
}
