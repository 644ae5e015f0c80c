// Package validation checks rental-application profiles against the
// per-jurisdiction required-field tables.
package validation

import (
	"fmt"
	"strings"

	"github.com/leaseflow/coreengine/coreengine/config"
	"github.com/leaseflow/coreengine/coreengine/typeutil"
)

// Validate returns the required fields missing from the profile for the
// jurisdiction. An unknown jurisdiction yields a single sentinel entry naming
// it unsupported; callers treat any non-empty result as "needs more info",
// never as an error.
func Validate(jurisdiction string, profile map[string]any) []string {
	fields, ok := config.RequiredFieldsFor(jurisdiction)
	if !ok {
		return []string{fmt.Sprintf("Unsupported state: %s", strings.ToUpper(strings.TrimSpace(jurisdiction)))}
	}

	missing := make([]string, 0)
	for _, field := range fields {
		if !typeutil.Truthy(profile[field]) {
			missing = append(missing, field)
		}
	}
	return missing
}
