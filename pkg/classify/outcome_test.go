package classify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complianceai/certpipe/pkg/contracts"
)

func boolPtr(b bool) *bool { return &b }

func TestDetermineOutcomeExplicitVerdictWins(t *testing.T) {
	rec := &Record{OverallOutcome: "Unsatisfactory"}
	assert.Equal(t, contracts.OutcomeUnsatisfactory, DetermineOutcome(CategoryGasSafety, rec))

	rec = &Record{OverallOutcome: "Satisfactory"}
	assert.Equal(t, contracts.OutcomeSatisfactory, DetermineOutcome(CategoryGasSafety, rec))
}

func TestDetermineOutcomeGas(t *testing.T) {
	cases := []struct {
		name string
		rec  *Record
		want contracts.Outcome
	}{
		{
			name: "unsafe appliance fails",
			rec:  &Record{Appliances: []Appliance{{Type: "Boiler", Safe: boolPtr(false)}}},
			want: contracts.OutcomeUnsatisfactory,
		},
		{
			name: "AR classification on defect fails",
			rec:  &Record{Findings: []Finding{{Kind: KindDefect, Classification: "AR"}}},
			want: contracts.OutcomeUnsatisfactory,
		},
		{
			name: "AR must not fire inside CARBON",
			rec:  &Record{Appliances: []Appliance{{Outcome: "CARBON MONOXIDE ALARM FITTED - PASS"}}},
			want: contracts.OutcomeSatisfactory,
		},
		{
			name: "all safe passes",
			rec:  &Record{Appliances: []Appliance{{Safe: boolPtr(true), Outcome: "PASS"}}},
			want: contracts.OutcomeSatisfactory,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetermineOutcome(CategoryGasSafety, tc.rec))
		})
	}
}

func TestDetermineOutcomeEICRCounts(t *testing.T) {
	assert.Equal(t, contracts.OutcomeUnsatisfactory,
		DetermineOutcome(CategoryEICR, &Record{C1Count: 1}))
	assert.Equal(t, contracts.OutcomeUnsatisfactory,
		DetermineOutcome(CategoryEICR, &Record{Findings: []Finding{{Kind: KindObservation, Code: "C2"}}}))
	assert.Equal(t, contracts.OutcomeSatisfactory,
		DetermineOutcome(CategoryEICR, &Record{C3Count: 4, Findings: []Finding{{Kind: KindObservation, Code: "C3"}}}))
}

func TestDetermineOutcomeFireAndLegionellaRiskLevels(t *testing.T) {
	assert.Equal(t, contracts.OutcomeUnsatisfactory,
		DetermineOutcome(CategoryFireRisk, &Record{RiskLevel: "Substantial"}))
	assert.Equal(t, contracts.OutcomeSatisfactory,
		DetermineOutcome(CategoryFireRisk, &Record{RiskLevel: "Tolerable"}))
	assert.Equal(t, contracts.OutcomeUnsatisfactory,
		DetermineOutcome(CategoryLegionella, &Record{Findings: []Finding{{Kind: KindRecommendation, Priority: "Immediate"}}}))
}

func TestDetermineOutcomeLift(t *testing.T) {
	assert.Equal(t, contracts.OutcomeUnsatisfactory,
		DetermineOutcome(CategoryLiftLoler, &Record{SafeToOperate: boolPtr(false)}))
	assert.Equal(t, contracts.OutcomeUnsatisfactory,
		DetermineOutcome(CategoryLiftLoler, &Record{Findings: []Finding{{Kind: KindDefect, Category: "A"}}}))
	assert.Equal(t, contracts.OutcomeSatisfactory,
		DetermineOutcome(CategoryLiftLoler, &Record{SafeToOperate: boolPtr(true), Findings: []Finding{{Kind: KindDefect, Category: "C"}}}))
}

func TestDetermineOutcomeGenericSweepAppliesToCleanCategoryPass(t *testing.T) {
	// Category rules pass but the generic sweep still catches a high risk.
	rec := &Record{RiskLevel: "HIGH"}
	assert.Equal(t, contracts.OutcomeUnsatisfactory, DetermineOutcome(CategoryEPC, rec))
}

func TestNormaliseSupersetFieldNames(t *testing.T) {
	raw := json.RawMessage(`{
		"document_type": "Gas Safety Record",
		"certNumber": "GS-99",
		"inspectionDate": "14/01/2026",
		"nextInspectionDate": "2027-01-14",
		"address": {"street": "1 High Street", "town": "Leeds", "postCode": "ls1 4ap"},
		"engineer": {"name": "J. Smith", "gasSafeNumber": "123456"},
		"appliances": [{"applianceType": "Boiler", "safe": true, "result": "PASS"}],
		"defects": ["loose flue bracket"]
	}`)

	rec := Normalise(raw)
	require.NotNil(t, rec)
	assert.Equal(t, "Gas Safety Record", rec.DocumentType)
	assert.Equal(t, "GS-99", rec.CertificateNumber)
	require.NotNil(t, rec.IssueDate)
	assert.Equal(t, 2026, rec.IssueDate.Year())
	require.NotNil(t, rec.ExpiryDate)
	assert.Equal(t, "LS1 4AP", rec.Address.Postcode)
	require.NotNil(t, rec.Issuer)
	assert.Equal(t, "123456", rec.Issuer.RegistrationNumber)
	require.Len(t, rec.Appliances, 1)
	require.NotNil(t, rec.Appliances[0].Safe)
	assert.True(t, *rec.Appliances[0].Safe)
	require.Len(t, rec.Findings, 1)
	assert.Equal(t, KindDefect, rec.Findings[0].Kind)
	assert.Equal(t, "loose flue bracket", rec.Findings[0].Description)
}

func TestNormaliseGarbageInputYieldsEmptyRecord(t *testing.T) {
	rec := Normalise(json.RawMessage(`not json`))
	require.NotNil(t, rec)
	assert.Empty(t, rec.Findings)
	assert.Equal(t, contracts.OutcomeSatisfactory, DetermineOutcome(CategoryOther, rec))
}

func TestNormaliseAddress(t *testing.T) {
	addr := NormaliseAddress("Flat 2, 10 Mill Road, Cambridge CB1 2AD")
	assert.Equal(t, "CB1 2AD", addr.Postcode)
	assert.True(t, addr.Plausible())

	addr = NormaliseAddress(map[string]any{
		"addressLine1": "  14   Acacia   Avenue ",
		"city":         "To Be Verified",
		"postcode":     "unknown",
	})
	assert.Equal(t, "14 Acacia Avenue", addr.Line1)
	assert.False(t, addr.Plausible())

	assert.Equal(t, Address{}, NormaliseAddress(42))
}

func TestMapCertificateTypeToCodeIdempotent(t *testing.T) {
	for _, raw := range []string{"GAS_SAFETY", "EICR", "FIRE_RISK_ASSESSMENT", "LOLER"} {
		once := MapCertificateTypeToCode(raw, nil)
		assert.Equal(t, once, MapCertificateTypeToCode(once, nil), raw)
	}
}

func TestMapApplianceOutcome(t *testing.T) {
	for token, want := range map[string]string{
		"PASS": "PASS", "Safe": "PASS",
		"ID": "FAIL", "AR": "FAIL", "C1": "FAIL", "Condemned": "FAIL",
		"N/A": "N/A", "Not Tested": "N/A",
	} {
		got := MapApplianceOutcome(token, nil)
		require.NotNil(t, got, token)
		assert.Equal(t, want, *got, token)
	}
	assert.Nil(t, MapApplianceOutcome("MAYBE", nil))
}
