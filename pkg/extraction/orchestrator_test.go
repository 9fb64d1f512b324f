package extraction

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complianceai/certpipe/pkg/classify"
	"github.com/complianceai/certpipe/pkg/contracts"
	"github.com/complianceai/certpipe/pkg/ocr"
	"github.com/complianceai/certpipe/pkg/textextract"
	"github.com/complianceai/certpipe/pkg/vision"
)

type stubText struct{ res textextract.Result }

func (s stubText) Extract([]byte) textextract.Result { return s.res }

type stubOCR struct {
	configured bool
	res        ocr.Result
}

func (s stubOCR) Configured() bool { return s.configured }
func (s stubOCR) Analyze(context.Context, []byte, string) ocr.Result {
	return s.res
}

type stubVision struct {
	analysis *vision.Analysis
	err      error
	lastReq  vision.Request
}

func (s *stubVision) Analyze(_ context.Context, req vision.Request) (*vision.Analysis, error) {
	s.lastReq = req
	return s.analysis, s.err
}

func newTestOrchestrator(t *testing.T, text TextExtractor, o OCRClient, v VisionClient) *Orchestrator {
	t.Helper()
	validator, err := NewValidator()
	require.NoError(t, err)
	return New(text, o, v, validator, nil, nil, nil)
}

func gasAnalysis() *vision.Analysis {
	return &vision.Analysis{
		Data: json.RawMessage(`{
			"documentType": "GAS_SAFETY",
			"certificateNumber": "GS-12345",
			"issueDate": "2026-01-10",
			"appliances": [{"type": "Boiler", "outcome": "PASS", "applianceSafe": true}]
		}`),
		Confidence:    0.85,
		Model:         "claude-sonnet-4-5",
		PromptVersion: "2.1.0",
	}
}

func TestTierOrdinalMapping(t *testing.T) {
	for name, want := range map[string]int{
		"tier-0": 0, "tier-0.5": 1, "tier-1": 2, "tier-1.5": 3,
		"tier-2": 4, "tier-3": 5, "tier-4": 6,
	} {
		assert.Equal(t, want, TierOrdinal(name, nil), name)
	}
	assert.Equal(t, 6, TierOrdinal("tier-99", nil))
}

func TestExtractHappyPathWithOCR(t *testing.T) {
	vis := &stubVision{analysis: gasAnalysis()}
	orch := newTestOrchestrator(t,
		stubText{textextract.Result{Text: "short", PageCount: 2}},
		stubOCR{configured: true, res: ocr.Result{
			Succeeded:  true,
			RawText:    longText(),
			Confidence: 0.92,
		}},
		vis,
	)

	res, err := orch.Extract(context.Background(), "cert-1", []byte("%PDF-1.7"), "application/pdf", "gas_cert.pdf", Options{Category: classify.CategoryGasSafety})
	require.NoError(t, err)

	assert.Equal(t, TierVision, res.FinalTier)
	assert.Equal(t, 5, res.FinalTierOrdinal)
	assert.Equal(t, contracts.MethodAzureOCRClaude, res.Method)
	assert.Equal(t, ProviderAzureDI, res.OCRProvider)
	assert.False(t, res.RequiresReview)
	assert.True(t, res.ValidationPassed)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)
	assert.Equal(t, longText(), vis.lastReq.Text)
}

func TestExtractOCRFailureFallsBackToLocalText(t *testing.T) {
	vis := &stubVision{analysis: gasAnalysis()}
	orch := newTestOrchestrator(t,
		stubText{textextract.Result{Text: longText(), PageCount: 3}},
		stubOCR{configured: true, res: ocr.Result{Succeeded: false, Err: "service unavailable"}},
		vis,
	)

	res, err := orch.Extract(context.Background(), "cert-2", []byte("%PDF-1.7"), "application/pdf", "scan.pdf", Options{Category: classify.CategoryGasSafety})
	require.NoError(t, err)

	assert.Equal(t, ProviderLocalPDF, res.OCRProvider)
	assert.Equal(t, 5, res.FinalTierOrdinal)

	byTier := auditIndex(res.Audits)
	assert.Equal(t, contracts.TierFailed, byTier[TierOCR].Status)
	assert.Equal(t, contracts.TierSuccess, byTier[TierVision].Status)
}

func TestExtractInvalidJSONEscalatesToReview(t *testing.T) {
	vis := &stubVision{err: vision.ErrInvalidJSON}
	orch := newTestOrchestrator(t,
		stubText{textextract.Result{Text: longText(), PageCount: 1}},
		stubOCR{configured: false},
		vis,
	)

	res, err := orch.Extract(context.Background(), "cert-3", []byte("%PDF-1.7"), "application/pdf", "doc.pdf", Options{Category: classify.CategoryEICR})
	require.NoError(t, err)

	assert.True(t, res.RequiresReview)
	assert.False(t, res.ValidationPassed)

	byTier := auditIndex(res.Audits)
	assert.Equal(t, contracts.TierSkipped, byTier[TierOCR].Status)
	assert.Equal(t, contracts.TierFailed, byTier[TierVision].Status)
	assert.Equal(t, "invalid_json", byTier[TierVision].EscalationReason)
	assert.Equal(t, contracts.TierPending, byTier[TierHuman].Status)
}

func TestExtractTransientLLMErrorPropagates(t *testing.T) {
	vis := &stubVision{err: vision.ErrLLM}
	orch := newTestOrchestrator(t,
		stubText{textextract.Result{}},
		stubOCR{configured: false},
		vis,
	)

	_, err := orch.Extract(context.Background(), "cert-4", []byte("%PDF-1.7"), "application/pdf", "doc.pdf", Options{Category: classify.CategoryOther, ForceAI: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, vision.ErrLLM)
}

func TestExtractAuditOrderStrictlyIncreasing(t *testing.T) {
	vis := &stubVision{analysis: gasAnalysis()}
	orch := newTestOrchestrator(t,
		stubText{textextract.Result{Text: longText(), PageCount: 1}},
		stubOCR{configured: true, res: ocr.Result{Succeeded: true, RawText: longText(), Confidence: 0.9}},
		vis,
	)

	res, err := orch.Extract(context.Background(), "cert-5", []byte("%PDF-1.7"), "application/pdf", "gas.pdf", Options{Category: classify.CategoryGasSafety})
	require.NoError(t, err)

	require.NotEmpty(t, res.Audits)
	for i := 1; i < len(res.Audits); i++ {
		assert.Greater(t, res.Audits[i].TierOrder, res.Audits[i-1].TierOrder)
	}
}

func TestExtractForceAISkipsCheapTiers(t *testing.T) {
	vis := &stubVision{analysis: gasAnalysis()}
	orch := newTestOrchestrator(t,
		stubText{textextract.Result{Text: longText(), PageCount: 1}},
		stubOCR{configured: false},
		vis,
	)

	res, err := orch.Extract(context.Background(), "cert-6", []byte("%PDF-1.7"), "application/pdf", "gas.pdf", Options{Category: classify.CategoryGasSafety, ForceAI: true})
	require.NoError(t, err)

	byTier := auditIndex(res.Audits)
	assert.Equal(t, contracts.TierSkipped, byTier[TierMetadata].Status)
	assert.Equal(t, contracts.TierSkipped, byTier[TierPattern].Status)
	assert.Equal(t, contracts.TierSuccess, byTier[TierVision].Status)
}

func TestExtractImageGoesToVision(t *testing.T) {
	vis := &stubVision{analysis: gasAnalysis()}
	orch := newTestOrchestrator(t,
		stubText{textextract.Result{}},
		stubOCR{configured: false},
		vis,
	)

	res, err := orch.Extract(context.Background(), "cert-7", []byte{0xFF, 0xD8, 0xFF}, "image/jpeg", "photo.jpg", Options{Category: classify.CategoryGasSafety})
	require.NoError(t, err)

	assert.Equal(t, contracts.MethodClaudeVision, res.Method)
	assert.NotEmpty(t, vis.lastReq.ImageData)
	assert.Equal(t, "image/jpeg", vis.lastReq.ImageMime)
}

func TestValidatorRejectsSkeletonViolations(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	assert.Error(t, v.Validate(classify.CategoryEPC, json.RawMessage(`{}`)))
	assert.Error(t, v.Validate(classify.CategoryEPC, json.RawMessage(`{"documentType":"EPC"}`)))
	assert.NoError(t, v.Validate(classify.CategoryEPC, json.RawMessage(`{"documentType":"EPC","certificateNumber":"E-1"}`)))

	// Gas documents must itemise appliances or defects.
	assert.Error(t, v.Validate(classify.CategoryGasSafety, json.RawMessage(`{"documentType":"GAS_SAFETY","certificateNumber":"G-1"}`)))
	assert.NoError(t, v.Validate(classify.CategoryGasSafety, json.RawMessage(`{"documentType":"GAS_SAFETY","certificateNumber":"G-1","appliances":[{"type":"Boiler"}]}`)))
}

func TestPatternTierRecognisesGasCertificate(t *testing.T) {
	text := `LANDLORD GAS SAFETY RECORD
Certificate Number: GSR-2026-0042
Date of Inspection: 14/01/2026
Gas Safe Registration No: 123456`

	lib, err := LoadPatternLibrary("")
	require.NoError(t, err)

	raw, conf, category, _ := lib.match(text)
	require.NotNil(t, raw)
	assert.Equal(t, classify.CategoryGasSafety, category)
	assert.Greater(t, conf, 0.5)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "GSR-2026-0042", m["certificateNumber"])
	assert.Equal(t, "123456", m["gasSafeNumber"])
}

func auditIndex(audits []contracts.ExtractionTierAudit) map[string]contracts.ExtractionTierAudit {
	out := make(map[string]contracts.ExtractionTierAudit, len(audits))
	for _, a := range audits {
		out[a.TierName] = a
	}
	return out
}

func longText() string {
	s := "This is a scanned compliance certificate with enough body text to satisfy the usability gate. "
	return s + s
}
