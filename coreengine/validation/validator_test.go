package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeNSWProfile() map[string]any {
	return map[string]any{
		"email":             "renter@example.com",
		"income":            85000,
		"identity_document": "passport",
		"rental_history":    []any{"12 Example St 2022-2024"},
		"drivers_license":   "ZZ123456",
	}
}

func TestValidate_CompleteProfile(t *testing.T) {
	missing := Validate("NSW", completeNSWProfile())
	assert.Empty(t, missing)
}

func TestValidate_CaseInsensitiveJurisdiction(t *testing.T) {
	assert.Empty(t, Validate("nsw", completeNSWProfile()))
	assert.Empty(t, Validate(" Nsw ", completeNSWProfile()))
}

func TestValidate_UnsupportedJurisdiction(t *testing.T) {
	missing := Validate("ACT", map[string]any{"email": "a@b.com"})
	require.Len(t, missing, 1)
	assert.Equal(t, "Unsupported state: ACT", missing[0])
}

func TestValidate_MissingFields(t *testing.T) {
	profile := map[string]any{
		"email":  "renter@example.com",
		"income": 40000,
	}
	missing := Validate("NSW", profile)
	assert.Contains(t, missing, "identity_document")
	assert.Contains(t, missing, "rental_history")
	assert.Contains(t, missing, "drivers_license")
	assert.NotContains(t, missing, "email")
	assert.NotContains(t, missing, "income")
}

func TestValidate_FalsyCountsAsMissing(t *testing.T) {
	profile := completeNSWProfile()
	profile["income"] = 0
	profile["identity_document"] = ""
	profile["rental_history"] = []any{}

	missing := Validate("NSW", profile)
	assert.Contains(t, missing, "income")
	assert.Contains(t, missing, "identity_document")
	assert.Contains(t, missing, "rental_history")
}

func TestValidate_NilProfile(t *testing.T) {
	missing := Validate("QLD", nil)
	assert.Len(t, missing, 4)
}
