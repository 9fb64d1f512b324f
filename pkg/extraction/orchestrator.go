package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/complianceai/certpipe/pkg/classify"
	"github.com/complianceai/certpipe/pkg/contracts"
	"github.com/complianceai/certpipe/pkg/ocr"
	"github.com/complianceai/certpipe/pkg/textextract"
	"github.com/complianceai/certpipe/pkg/vision"
)

// TextExtractor is the local PDF text tier.
type TextExtractor interface {
	Extract(data []byte) textextract.Result
}

// OCRClient is the commercial OCR tier.
type OCRClient interface {
	Configured() bool
	Analyze(ctx context.Context, data []byte, mimeType string) ocr.Result
}

// VisionClient is the multimodal analysis tier.
type VisionClient interface {
	Analyze(ctx context.Context, req vision.Request) (*vision.Analysis, error)
}

// Options tunes one extraction pass.
type Options struct {
	// Category is the uploader-selected certificate category; OTHER lets the
	// cascade infer one.
	Category string
	// ForceAI skips the metadata and pattern tiers.
	ForceAI bool
}

// TieredResult is the single outcome of one cascade pass plus the audit
// trail of every tier attempted.
type TieredResult struct {
	Data             json.RawMessage
	Confidence       float64
	DocumentType     string
	FinalTier        string
	FinalTierOrdinal int
	Method           contracts.ExtractionMethod
	Model            string
	PromptVersion    string
	OCRProvider      string
	PageCount        int
	RequiresReview   bool
	ValidationPassed bool
	ProcessingTimeMs int64
	TotalCost        float64
	Audits           []contracts.ExtractionTierAudit
}

// Orchestrator cascades a document through the extraction tiers.
type Orchestrator struct {
	text       TextExtractor
	ocr        OCRClient
	vision     VisionClient
	validator  *Validator
	patterns   *PatternLibrary
	thresholds map[string]float64
	logger     *slog.Logger
}

// New creates an orchestrator. A nil patterns library falls back to the
// embedded default; thresholds overrides the default per-category confidence
// gate, and a nil map keeps the default for every category.
func New(text TextExtractor, ocrClient OCRClient, visionClient VisionClient, validator *Validator, patterns *PatternLibrary, thresholds map[string]float64, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if patterns == nil {
		patterns = defaultPatterns()
	}
	return &Orchestrator{
		text:       text,
		ocr:        ocrClient,
		vision:     visionClient,
		validator:  validator,
		patterns:   patterns,
		thresholds: thresholds,
		logger:     logger,
	}
}

func (o *Orchestrator) threshold(category string) float64 {
	if t, ok := o.thresholds[category]; ok && t > 0 {
		return t
	}
	return defaultConfidence
}

// cascade accumulates tier attempts and tracks the best one.
type cascade struct {
	audits   []contracts.ExtractionTierAudit
	best     *contracts.ExtractionTierAudit
	bestData json.RawMessage
	cost     float64
}

func (c *cascade) record(tier string, ord int, attemptedAt time.Time, status contracts.TierStatus, confidence, cost float64, fieldCount, pageCount int, reason string, raw json.RawMessage) {
	completed := time.Now()
	audit := contracts.ExtractionTierAudit{
		TierName:         tier,
		TierOrder:        ord,
		AttemptedAt:      attemptedAt,
		CompletedAt:      &completed,
		ProcessingTimeMs: completed.Sub(attemptedAt).Milliseconds(),
		Status:           status,
		Confidence:       confidence,
		Cost:             cost,
		FieldCount:       fieldCount,
		EscalationReason: reason,
		PageCount:        pageCount,
		RawOutput:        raw,
	}
	c.audits = append(c.audits, audit)
	c.cost += cost
	if status != contracts.TierSkipped && len(raw) > 0 {
		if c.best == nil || confidence > c.best.Confidence {
			stored := audit
			c.best = &stored
			c.bestData = raw
		}
	}
}

// Extract runs the cascade over one document. An error is returned only for
// transient LLM failures with no usable earlier tier, so the job layer can
// retry; everything else resolves to a result, possibly requiring review.
func (o *Orchestrator) Extract(ctx context.Context, certificateID string, data []byte, mimeType, filename string, opts Options) (*TieredResult, error) {
	start := time.Now()
	category := opts.Category
	if category == "" {
		category = classify.CategoryOther
	}
	gate := o.threshold(category)
	c := &cascade{}

	// Tier 0: filename and header metadata, category guess only.
	t0 := time.Now()
	if opts.ForceAI {
		c.record(TierMetadata, TierOrdinal(TierMetadata, o.logger), t0, contracts.TierSkipped, 0, 0, 0, 0, "force_ai", nil)
	} else {
		guess := guessFromFilename(filename)
		if category == classify.CategoryOther && guess != classify.CategoryOther {
			category = guess
			gate = o.threshold(category)
		}
		raw, _ := json.Marshal(map[string]string{"documentType": guess})
		c.record(TierMetadata, TierOrdinal(TierMetadata, o.logger), t0, contracts.TierEscalated, 0.3, 0, 1, 0, "metadata_only", raw)
	}

	// Local text extraction feeds the pattern tier and, later, analysis.
	local := textextract.Result{}
	if o.text != nil {
		local = o.text.Extract(data)
	}

	// Tier 0.5: regex library over extracted text.
	t05 := time.Now()
	if opts.ForceAI {
		c.record(TierPattern, TierOrdinal(TierPattern, o.logger), t05, contracts.TierSkipped, 0, 0, 0, 0, "force_ai", nil)
	} else {
		raw, conf, matched, fields := o.patterns.match(local.Text)
		switch {
		case raw == nil:
			c.record(TierPattern, TierOrdinal(TierPattern, o.logger), t05, contracts.TierEscalated, 0, 0, 0, local.PageCount, "no_pattern_match", nil)
		case conf >= gate && o.validator.Validate(matched, raw) == nil:
			c.record(TierPattern, TierOrdinal(TierPattern, o.logger), t05, contracts.TierSuccess, conf, 0, fields, local.PageCount, "", raw)
			if category == classify.CategoryOther {
				category = matched
			}
			return o.finish(start, c, category, matched, conf, contracts.MethodPatternMatch, "", "", ProviderLocalPDF, local.PageCount, raw, false), nil
		default:
			c.record(TierPattern, TierOrdinal(TierPattern, o.logger), t05, contracts.TierEscalated, conf, 0, fields, local.PageCount, "low_confidence", raw)
			if category == classify.CategoryOther && matched != "" {
				category = matched
				gate = o.threshold(category)
			}
		}
	}

	// Tier 1: the local text pass itself.
	t1 := time.Now()
	if strings.TrimSpace(local.Text) == "" {
		c.record(TierText, TierOrdinal(TierText, o.logger), t1, contracts.TierEscalated, 0, 0, 0, local.PageCount, "no_extractable_text", nil)
	} else {
		c.record(TierText, TierOrdinal(TierText, o.logger), t1, contracts.TierEscalated, 0.4, 0, 0, local.PageCount, "analysis_required", nil)
	}

	// Tier 2: commercial OCR.
	t2 := time.Now()
	ocrRes := ocr.Result{}
	switch {
	case o.ocr == nil || !o.ocr.Configured():
		c.record(TierOCR, TierOrdinal(TierOCR, o.logger), t2, contracts.TierSkipped, 0, 0, 0, 0, "ocr_not_configured", nil)
	default:
		ocrRes = o.ocr.Analyze(ctx, data, mimeType)
		switch {
		case ocrRes.Usable():
			c.record(TierOCR, TierOrdinal(TierOCR, o.logger), t2, contracts.TierEscalated, ocrRes.Confidence, 0, 0, 0, "analysis_required", ocrRes.StructuredData)
		default:
			reason := ocrRes.Err
			if reason == "" {
				reason = "ocr_unusable"
			}
			c.record(TierOCR, TierOrdinal(TierOCR, o.logger), t2, contracts.TierFailed, ocrRes.Confidence, 0, 0, 0, reason, nil)
		}
	}

	// Choose the text and provider feeding the analysis tier.
	analysisText, provider := "", ProviderNone
	switch {
	case ocrRes.Usable():
		analysisText, provider = ocrRes.RawText, ProviderAzureDI
	case len(strings.TrimSpace(local.Text)) > minAnalysisTextLen:
		analysisText, provider = local.Text, ProviderLocalPDF
	case ocrRes.Succeeded && ocrRes.RawText != "":
		// Last resort: OCR text that failed the usability gate.
		analysisText, provider = ocrRes.RawText, ProviderAzureDI
	}

	// Tier 3: multimodal analysis.
	t3 := time.Now()
	visReq := vision.Request{Category: category, Text: analysisText}
	method := contracts.MethodAzureOCRClaude
	if analysisText == "" && strings.HasPrefix(mimeType, "image/") {
		visReq = vision.Request{Category: category, ImageData: data, ImageMime: mimeType}
		method = contracts.MethodClaudeVision
	}

	analysis, err := o.vision.Analyze(ctx, visReq)
	switch {
	case errors.Is(err, vision.ErrInvalidJSON):
		c.record(TierVision, TierOrdinal(TierVision, o.logger), t3, contracts.TierFailed, 0, 0, 0, local.PageCount, "invalid_json", nil)
	case err != nil:
		c.record(TierVision, TierOrdinal(TierVision, o.logger), t3, contracts.TierFailed, 0, 0, 0, local.PageCount, "llm_error", nil)
		if c.best == nil {
			return nil, fmt.Errorf("analysis tier: %w", err)
		}
	default:
		docType := documentTypeOf(analysis.Data)
		if category == classify.CategoryOther && docType != "" {
			category = classify.MapDocumentTypeToCategory(docType)
			gate = o.threshold(category)
		}
		valErr := o.validator.Validate(category, analysis.Data)
		conf := analysis.Confidence
		fields := fieldCount(analysis.Data)
		switch {
		case valErr != nil:
			c.record(TierVision, TierOrdinal(TierVision, o.logger), t3, contracts.TierFailed, conf, analysis.CostUSD, fields, local.PageCount, "validation_failed", analysis.Data)
		case conf >= gate:
			c.record(TierVision, TierOrdinal(TierVision, o.logger), t3, contracts.TierSuccess, conf, analysis.CostUSD, fields, local.PageCount, "", analysis.Data)
			return o.finish(start, c, category, docType, conf, method, analysis.Model, analysis.PromptVersion, provider, local.PageCount, analysis.Data, false), nil
		default:
			c.record(TierVision, TierOrdinal(TierVision, o.logger), t3, contracts.TierEscalated, conf, analysis.CostUSD, fields, local.PageCount, "low_confidence", analysis.Data)
		}
	}

	// Tier 4: no tier passed; hand the best attempt to human review.
	c.record(TierHuman, TierOrdinal(TierHuman, o.logger), time.Now(), contracts.TierPending, 0, 0, 0, 0, "awaiting_review", nil)

	bestConf := 0.0
	bestData := c.bestData
	docType := documentTypeOf(bestData)
	if c.best != nil {
		bestConf = c.best.Confidence
	}
	res := o.finish(start, c, category, docType, bestConf, methodForBest(c, method), "", "", provider, local.PageCount, bestData, true)
	if analysis != nil {
		res.Model = analysis.Model
		res.PromptVersion = analysis.PromptVersion
	}
	o.logger.Info("extraction requires review",
		"certificateId", certificateID,
		"category", category,
		"bestConfidence", bestConf)
	return res, nil
}

func (o *Orchestrator) finish(start time.Time, c *cascade, category, docType string, confidence float64, method contracts.ExtractionMethod, model, promptVersion, provider string, pageCount int, data json.RawMessage, review bool) *TieredResult {
	finalTier, finalOrd := TierHuman, TierOrdinal(TierHuman, o.logger)
	if !review && len(c.audits) > 0 {
		last := c.audits[len(c.audits)-1]
		finalTier, finalOrd = last.TierName, last.TierOrder
	} else if review && c.best != nil {
		finalTier, finalOrd = c.best.TierName, c.best.TierOrder
	}
	if docType == "" {
		docType = category
	}
	return &TieredResult{
		Data:             data,
		Confidence:       confidence,
		DocumentType:     docType,
		FinalTier:        finalTier,
		FinalTierOrdinal: finalOrd,
		Method:           method,
		Model:            model,
		PromptVersion:    promptVersion,
		OCRProvider:      provider,
		PageCount:        pageCount,
		RequiresReview:   review,
		ValidationPassed: !review,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		TotalCost:        c.cost,
		Audits:           c.audits,
	}
}

// methodForBest picks the method label for a review-bound result based on
// which tier produced the best attempt.
func methodForBest(c *cascade, visionMethod contracts.ExtractionMethod) contracts.ExtractionMethod {
	if c.best == nil {
		return contracts.MethodManual
	}
	switch c.best.TierName {
	case TierMetadata:
		return contracts.MethodMetadata
	case TierPattern:
		return contracts.MethodPatternMatch
	case TierVision:
		return visionMethod
	default:
		return contracts.MethodManual
	}
}

func documentTypeOf(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var probe struct {
		DocumentType string `json:"documentType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return strings.TrimSpace(probe.DocumentType)
}

func fieldCount(data json.RawMessage) int {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return 0
	}
	n := 0
	for _, v := range m {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if strings.TrimSpace(val) != "" {
				n++
			}
		default:
			n++
		}
	}
	return n
}
