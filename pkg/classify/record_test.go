package classify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complianceai/certpipe/pkg/contracts"
)

func TestNormaliseCanonicalisesApplianceOutcomes(t *testing.T) {
	raw := json.RawMessage(`{
		"appliances": [
			{"type": "Boiler", "outcome": "ID"},
			{"type": "Hob", "outcome": "satisfactory"},
			{"type": "Fire", "outcome": "Service Only"},
			{"type": "Cooker", "outcome": "flue restricted"}
		]
	}`)

	rec := Normalise(raw)
	require.Len(t, rec.Appliances, 4)

	// Short tokens collapse onto PASS/FAIL/N-A.
	assert.Equal(t, "FAIL", rec.Appliances[0].Outcome)
	assert.Equal(t, "PASS", rec.Appliances[1].Outcome)
	assert.Equal(t, "N/A", rec.Appliances[2].Outcome)
	// Free text is left alone for the phrase matcher downstream.
	assert.Equal(t, "flue restricted", rec.Appliances[3].Outcome)
}

func TestNormaliseApplianceFailTokenDrivesGasOutcome(t *testing.T) {
	raw := json.RawMessage(`{
		"appliances": [{"type": "Boiler", "outcome": "AR"}]
	}`)

	rec := Normalise(raw)
	require.Len(t, rec.Appliances, 1)
	assert.Equal(t, "FAIL", rec.Appliances[0].Outcome)
	assert.Equal(t, contracts.OutcomeUnsatisfactory, DetermineOutcome(CategoryGasSafety, rec))
}
