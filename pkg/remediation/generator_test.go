package remediation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complianceai/certpipe/pkg/classify"
	"github.com/complianceai/certpipe/pkg/contracts"
)

var testNow = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func sevPtr(s contracts.ActionSeverity) *contracts.ActionSeverity { return &s }

func TestGenerateFallbackGas(t *testing.T) {
	rec := &classify.Record{
		Findings: []classify.Finding{
			{Kind: classify.KindDefect, Classification: "Immediately Dangerous", Description: "Open flue boiler spilling products", Location: "Kitchen"},
			{Kind: classify.KindDefect, Classification: "NCS", Description: "Undersized gas supply pipe"},
		},
	}

	var rb *Rulebook
	drafts := Generate(rb, classify.CategoryGasSafety, rec, contracts.OutcomeUnsatisfactory, testNow, nil)
	require.Len(t, drafts, 2)

	assert.Equal(t, "ID", drafts[0].Code)
	assert.Equal(t, contracts.SeverityImmediate, drafts[0].Severity)
	assert.Equal(t, testNow.AddDate(0, 0, 1), drafts[0].DueDate)
	assert.Equal(t, "Kitchen", drafts[0].Location)

	assert.Equal(t, "NCS", drafts[1].Code)
	assert.Equal(t, contracts.SeverityRoutine, drafts[1].Severity)
	assert.Equal(t, testNow.AddDate(0, 0, 30), drafts[1].DueDate)
}

func TestGenerateConfigRowOverridesSeverityAndCost(t *testing.T) {
	low, high := int64(15000), int64(45000)
	rb := NewRulebook([]contracts.ClassificationCode{
		{
			Code:             "C2",
			ActionRequired:   "Rectify potentially dangerous defect",
			AutoCreateAction: true,
			ActionSeverity:   sevPtr(contracts.SeverityImmediate),
			CostEstimateLow:  &low,
			CostEstimateHigh: &high,
		},
	}, nil)

	rec := &classify.Record{Findings: []classify.Finding{
		{Kind: classify.KindObservation, Code: "C2", Location: "Consumer unit"},
	}}

	drafts := Generate(rb, classify.CategoryEICR, rec, contracts.OutcomeUnsatisfactory, testNow, nil)
	require.Len(t, drafts, 1)
	assert.Equal(t, "Rectify potentially dangerous defect", drafts[0].Description)
	assert.Equal(t, contracts.SeverityImmediate, drafts[0].Severity)
	assert.Equal(t, "£150-450", drafts[0].CostEstimate)
}

func TestGenerateAutoCreateActionFalseSkips(t *testing.T) {
	rb := NewRulebook([]contracts.ClassificationCode{
		{Code: "C3", AutoCreateAction: false},
	}, nil)

	rec := &classify.Record{Findings: []classify.Finding{
		{Kind: classify.KindObservation, Code: "C3", Description: "Improvement recommended"},
	}}

	drafts := Generate(rb, classify.CategoryEICR, rec, contracts.OutcomeSatisfactory, testNow, nil)
	assert.Empty(t, drafts)
}

func TestGenerateCELExpressionClaimsFinding(t *testing.T) {
	rb := NewRulebook([]contracts.ClassificationCode{
		{
			Code:             "FIRE_DOOR_HIGH",
			ActionRequired:   "Replace fire door",
			AutoCreateAction: true,
			MatchExpression:  `finding.description.contains("fire door") && finding.priority == "HIGH"`,
		},
	}, nil)

	rec := &classify.Record{Findings: []classify.Finding{
		{Kind: classify.KindFinding, Priority: "HIGH", Description: "Damaged fire door to communal stairwell"},
	}}

	drafts := Generate(rb, classify.CategoryFireRisk, rec, contracts.OutcomeUnsatisfactory, testNow, nil)
	require.Len(t, drafts, 1)
	assert.Equal(t, "FIRE_DOOR_HIGH", drafts[0].Code)
	assert.Equal(t, "Replace fire door", drafts[0].Description)
}

func TestGenerateUnsatisfactoryWithNoDraftsEmitsReviewSweeper(t *testing.T) {
	rec := &classify.Record{OverallOutcome: "UNSATISFACTORY"}

	drafts := Generate(nil, classify.CategoryEICR, rec, contracts.OutcomeUnsatisfactory, testNow, nil)
	require.Len(t, drafts, 1)
	assert.Equal(t, "REVIEW-EICR", drafts[0].Code)
	assert.Equal(t, contracts.SeverityUrgent, drafts[0].Severity)
	assert.Equal(t, testNow.AddDate(0, 0, 7), drafts[0].DueDate)
}

func TestGenerateFallbackAsbestosIgnoresLowRiskACMs(t *testing.T) {
	rec := &classify.Record{Findings: []classify.Finding{
		{Kind: classify.KindMaterial, Risk: "Low", Condition: "Good", Description: "AIB ceiling tile, sealed"},
		{Kind: classify.KindMaterial, Risk: "High", Condition: "Damaged", Description: "Pipe lagging, friable", Location: "Boiler room"},
	}}

	drafts := Generate(nil, classify.CategoryAsbestos, rec, contracts.OutcomeUnsatisfactory, testNow, nil)
	require.Len(t, drafts, 1)
	assert.Equal(t, "ACM_HIGH", drafts[0].Code)
	assert.Equal(t, contracts.SeverityUrgent, drafts[0].Severity)
}

func TestGenerateFallbackEPCRating(t *testing.T) {
	rec := &classify.Record{CurrentRating: "F"}
	drafts := Generate(nil, classify.CategoryEPC, rec, contracts.OutcomeSatisfactory, testNow, nil)
	require.Len(t, drafts, 1)
	assert.Equal(t, "EPC_F", drafts[0].Code)
	assert.Equal(t, contracts.SeverityRoutine, drafts[0].Severity)

	rec = &classify.Record{CurrentRating: "C"}
	assert.Empty(t, Generate(nil, classify.CategoryEPC, rec, contracts.OutcomeSatisfactory, testNow, nil))
}

func TestDeriveCodeLiftCategories(t *testing.T) {
	assert.Equal(t, "LIFT_CAT_A", DeriveCode(classify.CategoryLiftLoler, classify.Finding{Category: "A"}))
	assert.Equal(t, "LIFT_CAT_C", DeriveCode(classify.CategoryLiftLoler, classify.Finding{Category: "c"}))
	assert.Equal(t, contracts.SeverityImmediate, defaultSeverity("LIFT_CAT_A"))
}

func TestDueDatePolicy(t *testing.T) {
	for sev, days := range map[contracts.ActionSeverity]int{
		contracts.SeverityImmediate: 1,
		contracts.SeverityUrgent:    7,
		contracts.SeverityRoutine:   30,
		contracts.SeverityAdvisory:  90,
	} {
		assert.Equal(t, testNow.AddDate(0, 0, days), contracts.DueDateFor(sev, testNow), string(sev))
	}
}
