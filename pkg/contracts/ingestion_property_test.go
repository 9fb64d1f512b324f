//go:build property
// +build property

// Property-based tests for the due-date policy.
package contracts_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/complianceai/certpipe/pkg/contracts"
)

// TestDueDateOrdering verifies the severity ladder never inverts: a more
// severe finding is never given a later deadline than a less severe one
// created at the same instant, and every deadline is after creation.
func TestDueDateOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	ladder := []contracts.ActionSeverity{
		contracts.SeverityImmediate,
		contracts.SeverityUrgent,
		contracts.SeverityRoutine,
		contracts.SeverityAdvisory,
	}

	properties.Property("deadlines follow the severity ladder", prop.ForAll(
		func(unix int64) bool {
			createdAt := time.Unix(unix, 0).UTC()
			prev := createdAt
			for _, sev := range ladder {
				due := contracts.DueDateFor(sev, createdAt)
				if !due.After(createdAt) {
					return false
				}
				if due.Before(prev) {
					return false
				}
				prev = due
			}
			return true
		},
		gen.Int64Range(0, 4102444800), // 1970..2100
	))

	properties.TestingRun(t)
}
