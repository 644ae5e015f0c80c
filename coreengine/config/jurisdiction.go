package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RequiredFields maps a jurisdiction code to the profile fields a complete
// application must carry. Lookups are case-insensitive on the code.
var RequiredFields = map[string][]string{
	"NSW": {"email", "income", "identity_document", "rental_history", "drivers_license"},
	"VIC": {"email", "income", "employment", "references", "identity_document"},
	"QLD": {"email", "income", "identity_document", "rental_history"},
}

// RequiredFieldsFor returns the required fields for a jurisdiction, or false
// when the jurisdiction is unknown.
func RequiredFieldsFor(jurisdiction string) ([]string, bool) {
	fields, ok := RequiredFields[strings.ToUpper(strings.TrimSpace(jurisdiction))]
	return fields, ok
}

// SupportedJurisdictions returns the known jurisdiction codes.
func SupportedJurisdictions() []string {
	codes := make([]string, 0, len(RequiredFields))
	for code := range RequiredFields {
		codes = append(codes, code)
	}
	return codes
}

// FallbackRule is a compliance rule from the static fallback table, used when
// the persistent store has no rules for a jurisdiction.
type FallbackRule struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// FallbackComplianceRules holds the static per-jurisdiction compliance rules.
var FallbackComplianceRules = map[string][]FallbackRule{
	"NSW": {
		{Name: "proof_of_income", Description: "Applicant must provide proof of income"},
		{Name: "identity_check", Description: "Applicant must pass an identity check"},
		{Name: "rental_history", Description: "Applicant must supply prior rental history"},
	},
	"VIC": {
		{Name: "employment_verification", Description: "Applicant employment must be verified"},
		{Name: "references", Description: "Applicant must provide references"},
		{Name: "id_verification", Description: "Applicant identity documents must be verified"},
	},
	"QLD": {
		{Name: "income_validation", Description: "Applicant income must be validated"},
		{Name: "rental_history", Description: "Applicant must supply prior rental history"},
		{Name: "proof_of_identity", Description: "Applicant must provide proof of identity"},
	},
}

// GuardrailPattern is a redaction rule seeded into the store at startup.
type GuardrailPattern struct {
	Pattern     string `yaml:"pattern"`
	Severity    string `yaml:"severity"`
	Description string `yaml:"description"`
}

// DefaultGuardrailPatterns are the redaction rules applied to profile fields
// when the store's guardrails table is empty.
var DefaultGuardrailPatterns = []GuardrailPattern{
	{Pattern: `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, Severity: "high", Description: "email address"},
	{Pattern: `\b\d{16}\b`, Severity: "critical", Description: "payment card number"},
	{Pattern: `\b0\d{9}\b`, Severity: "high", Description: "phone number"},
	{Pattern: `\b\d{2}/\d{2}/\d{4}\b`, Severity: "medium", Description: "date of birth"},
	{Pattern: `\b[A-Z]{2}\d{6,}\b`, Severity: "high", Description: "government identifier"},
}

// DefaultKnowledgeCorpus is the jurisdiction guidance seeded into the vector
// index when it is empty.
var DefaultKnowledgeCorpus = []string{
	"NSW rental applications require proof of income, an identity check, and rental history.",
	"VIC rental applications require employment verification, references, and ID verification.",
	"QLD rental applications require income validation, rental history, and proof of identity.",
	"Applicants should provide recent payslips as proof of income where available.",
	"A drivers license or passport is accepted as an identity document in most jurisdictions.",
	"Rental history should cover the previous two tenancies including agent contact details.",
}

// jurisdictionFile is the YAML shape of an operator-supplied rules override.
type jurisdictionFile struct {
	RequiredFields  map[string][]string       `yaml:"required_fields"`
	ComplianceRules map[string][]FallbackRule `yaml:"compliance_rules"`
	Guardrails      []GuardrailPattern        `yaml:"guardrails"`
}

// LoadJurisdictionFile merges an operator YAML file over the static tables.
// Jurisdictions present in the file replace the built-in entry wholesale;
// absent jurisdictions keep their defaults.
func LoadJurisdictionFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}
	var f jurisdictionFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse rules file %s: %w", path, err)
	}
	for code, fields := range f.RequiredFields {
		RequiredFields[strings.ToUpper(code)] = fields
	}
	for code, rules := range f.ComplianceRules {
		FallbackComplianceRules[strings.ToUpper(code)] = rules
	}
	if len(f.Guardrails) > 0 {
		DefaultGuardrailPatterns = f.Guardrails
	}
	return nil
}
