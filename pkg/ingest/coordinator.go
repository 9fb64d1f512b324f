// Package ingest runs one uploaded document through the whole pipeline:
// load bytes, cascade extraction, persist the structured output, synthesise
// remedial actions, auto-link components and contractors, and notify.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/complianceai/certpipe/pkg/classify"
	"github.com/complianceai/certpipe/pkg/contracts"
	"github.com/complianceai/certpipe/pkg/docstore"
	"github.com/complianceai/certpipe/pkg/extraction"
	"github.com/complianceai/certpipe/pkg/queue"
	"github.com/complianceai/certpipe/pkg/remediation"
	"github.com/complianceai/certpipe/pkg/store"
)

const (
	loadTimeout        = 60 * time.Second
	extractBudget      = 300 * time.Second
	defaultMaxAttempts = 3

	docBreakerTrip = 3
	docBreakerCool = 60 * time.Second
)

// errNoDocumentSource marks a job with neither inline bytes nor a storage
// key. Nothing a retry could recover, so it is handled terminally.
var errNoDocumentSource = errors.New("no document bytes and no storage key")

// JobStore is the slice of the ingestion-job store the coordinator needs.
type JobStore interface {
	Get(ctx context.Context, id string) (*contracts.IngestionJob, error)
	Transition(ctx context.Context, id string, from []contracts.IngestionStatus, to contracts.IngestionStatus, message string) error
	MarkAttempt(ctx context.Context, id string) (int, error)
	PinCertificate(ctx context.Context, id, certificateID string) error
	Fail(ctx context.Context, id, message, details string) error
}

// CertificateStore persists certificates and their extraction outcome.
type CertificateStore interface {
	Create(ctx context.Context, cert *contracts.Certificate) (string, error)
	Get(ctx context.Context, id string) (*contracts.Certificate, error)
	SetStatus(ctx context.Context, id string, status contracts.CertificateStatus, message string) error
	ApplyExtraction(ctx context.Context, id string, cert *contracts.Certificate) error
}

// ExtractionStore persists extractions, runs and tier audits.
type ExtractionStore interface {
	SaveExtraction(ctx context.Context, ex *contracts.Extraction) (string, error)
	SaveRun(ctx context.Context, run *contracts.ExtractionRun, audits []contracts.ExtractionTierAudit) (string, error)
}

// ActionStore persists the generated remedial actions.
type ActionStore interface {
	CreateBatch(ctx context.Context, actions []*contracts.RemedialAction) error
}

// PropertyStore updates the owning property and its linked records.
type PropertyStore interface {
	Get(ctx context.Context, id string) (*contracts.Property, error)
	UpdateAddress(ctx context.Context, id, line1, city, postcode string) error
	MergeMetadata(ctx context.Context, id string, metadata json.RawMessage) error
	UpsertComponent(ctx context.Context, c *contracts.Component) (string, error)
	UpsertContractor(ctx context.Context, c *contracts.Contractor) (string, error)
}

// RulebookStore loads classification-code configuration rows.
type RulebookStore interface {
	ForCertificateType(ctx context.Context, certificateType string) ([]contracts.ClassificationCode, error)
}

// EventStore stages outbound webhook events.
type EventStore interface {
	StageEvent(ctx context.Context, ev *contracts.WebhookEvent) (string, error)
}

// Extractor runs the tiered cascade over one document.
type Extractor interface {
	Extract(ctx context.Context, certificateID string, data []byte, mimeType, filename string, opts extraction.Options) (*extraction.TieredResult, error)
}

// Publisher fans lifecycle events out to connected SSE clients.
type Publisher interface {
	Publish(ev contracts.LifecycleEvent)
}

// Deps collects the coordinator's collaborators.
type Deps struct {
	Jobs       JobStore
	Certs      CertificateStore
	Extracts   ExtractionStore
	Actions    ActionStore
	Properties PropertyStore
	Rulebook   RulebookStore
	Events     EventStore
	Docs       docstore.Store
	Extractor  Extractor
	Publisher  Publisher
	Logger     *slog.Logger

	// MaxAttempts caps processing attempts per job; zero means three.
	MaxAttempts int
}

// Coordinator is the certificate-ingestion queue handler.
type Coordinator struct {
	deps        Deps
	logger      *slog.Logger
	breaker     *gobreaker.CircuitBreaker
	maxAttempts int
	now         func() time.Time
}

// New wires a coordinator. The document-store breaker opens after three
// consecutive load failures and cools down for a minute.
func New(deps Deps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "docstore",
		Timeout: docBreakerCool,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= docBreakerTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("document store breaker state change", "from", from.String(), "to", to.String())
		},
	})
	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Coordinator{deps: deps, logger: logger, breaker: breaker, maxAttempts: maxAttempts, now: time.Now}
}

// ingestJob is the queue payload: just the job id, everything else is
// reloaded from the database on each attempt.
type ingestJob struct {
	JobID string `json:"jobId"`
}

// Enqueue stages an ingestion job onto the certificate-ingestion queue.
func Enqueue(ctx context.Context, q *queue.Queue, jobID string) (string, error) {
	return q.Send(ctx, queue.QueueCertificateIngestion, ingestJob{JobID: jobID},
		queue.WithSingletonKey("ingest:"+jobID))
}

// HandleJob is the queue handler for one ingestion attempt.
func (c *Coordinator) HandleJob(ctx context.Context, job *queue.Job) error {
	var payload ingestJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode ingestion payload: %w", err)
	}
	return c.Process(ctx, payload.JobID, nil)
}

// Process runs one document end to end. buffer, when non-nil, short-circuits
// the document-store load (the synchronous upload path passes it through).
// The returned error signals the queue to retry; terminal conditions resolve
// to nil after the job row is marked FAILED.
func (c *Coordinator) Process(ctx context.Context, jobID string, buffer []byte) error {
	job, err := c.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load ingestion job %s: %w", jobID, err)
	}

	if done, err := c.alreadyHandled(ctx, job); done || err != nil {
		return err
	}

	err = c.deps.Jobs.Transition(ctx, job.ID,
		[]contracts.IngestionStatus{contracts.IngestionPending, contracts.IngestionProcessing, contracts.IngestionExtracting, contracts.IngestionFailed},
		contracts.IngestionProcessing, "processing")
	if errors.Is(err, store.ErrStaleTransition) {
		// Another worker finished or is finishing this job.
		return nil
	}
	if err != nil {
		return err
	}
	attempt, err := c.deps.Jobs.MarkAttempt(ctx, job.ID)
	if err != nil {
		return err
	}
	job.AttemptCount = attempt

	prop, err := c.deps.Properties.Get(ctx, job.PropertyID)
	if err != nil {
		return c.fail(ctx, job, "", fmt.Errorf("load property %s: %w", job.PropertyID, err))
	}

	data, err := c.loadDocument(ctx, job, buffer)
	if errors.Is(err, errNoDocumentSource) || errors.Is(err, docstore.ErrNotFound) {
		return c.failMissingInput(ctx, job, prop, err)
	}
	if err != nil {
		return c.fail(ctx, job, "", fmt.Errorf("load document: %w", err))
	}

	certID, err := c.createCertificate(ctx, job, prop, len(data))
	if err != nil {
		return c.fail(ctx, job, "", err)
	}

	if err := c.deps.Jobs.Transition(ctx, job.ID,
		[]contracts.IngestionStatus{contracts.IngestionProcessing},
		contracts.IngestionExtracting, "extracting"); err != nil && !errors.Is(err, store.ErrStaleTransition) {
		return err
	}

	extractCtx, cancel := context.WithTimeout(ctx, extractBudget)
	res, err := c.deps.Extractor.Extract(extractCtx, certID, data, job.MimeType, job.FileName, extraction.Options{Category: job.Category})
	cancel()
	if err != nil {
		return c.fail(ctx, job, certID, fmt.Errorf("extraction: %w", err))
	}

	category := refineCategory(job.Category, res.DocumentType)
	rec := classify.Normalise(res.Data)
	outcome := classify.DetermineOutcome(category, rec)

	if err := c.persistExtraction(ctx, job, certID, category, res, rec, outcome); err != nil {
		return c.fail(ctx, job, certID, err)
	}

	actionCount, err := c.generateActions(ctx, job, certID, category, rec, outcome)
	if err != nil {
		return c.fail(ctx, job, certID, err)
	}

	c.linkRelatedRecords(ctx, job, certID, category, prop.OrganisationID, rec)

	if err := c.deps.Jobs.Transition(ctx, job.ID,
		[]contracts.IngestionStatus{contracts.IngestionProcessing, contracts.IngestionExtracting},
		contracts.IngestionComplete, "complete"); err != nil && !errors.Is(err, store.ErrStaleTransition) {
		return err
	}

	c.notifyComplete(ctx, job, certID, category, outcome, res.RequiresReview, actionCount)

	c.logger.Info("ingestion complete",
		"job", job.ID, "certificate", certID, "category", category,
		"tier", res.FinalTier, "confidence", res.Confidence, "actions", actionCount)
	return nil
}

// alreadyHandled applies the idempotency gate: completed jobs, exhausted
// failures and jobs whose pinned certificate already got past FAILED are
// all no-ops.
func (c *Coordinator) alreadyHandled(ctx context.Context, job *contracts.IngestionJob) (bool, error) {
	switch {
	case job.Status == contracts.IngestionComplete:
		return true, nil
	case job.Status == contracts.IngestionFailed && job.AttemptCount >= c.maxAttempts:
		return true, nil
	}
	if job.CertificateID == "" {
		return false, nil
	}
	cert, err := c.deps.Certs.Get(ctx, job.CertificateID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return cert.Status != contracts.CertStatusFailed, nil
}

// loadDocument prefers the in-memory buffer, then the document store keyed
// by storageKey. Store fetches run under the shared breaker and a 60-second
// timeout.
func (c *Coordinator) loadDocument(ctx context.Context, job *contracts.IngestionJob, buffer []byte) ([]byte, error) {
	if len(buffer) > 0 {
		return buffer, nil
	}
	if job.StorageKey == "" {
		return nil, errNoDocumentSource
	}

	result, err := c.breaker.Execute(func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, loadTimeout)
		defer cancel()
		return c.deps.Docs.Fetch(fetchCtx, job.StorageKey)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("document store cooling down: %w", err)
	}
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Coordinator) createCertificate(ctx context.Context, job *contracts.IngestionJob, prop *contracts.Property, size int) (string, error) {
	if job.CertificateID != "" {
		// Re-run against an existing FAILED certificate: reuse the pin.
		if err := c.deps.Certs.SetStatus(ctx, job.CertificateID, contracts.CertStatusProcessing, "reprocessing"); err != nil {
			return "", err
		}
		return job.CertificateID, nil
	}

	certID, err := c.deps.Certs.Create(ctx, &contracts.Certificate{
		PropertyID:     job.PropertyID,
		OrganisationID: prop.OrganisationID,
		Category:       job.Category,
		FileName:       job.FileName,
		FileSize:       int64(size),
		MimeType:       job.MimeType,
		Status:         contracts.CertStatusProcessing,
	})
	if err != nil {
		return "", fmt.Errorf("create certificate: %w", err)
	}
	if err := c.deps.Jobs.PinCertificate(ctx, job.ID, certID); err != nil {
		return "", err
	}
	job.CertificateID = certID
	return certID, nil
}

func refineCategory(selected, documentType string) string {
	if selected != "" && selected != classify.CategoryOther {
		return selected
	}
	if mapped := classify.MapDocumentTypeToCategory(documentType); mapped != classify.CategoryOther {
		return mapped
	}
	if selected == "" {
		return classify.CategoryOther
	}
	return selected
}

func (c *Coordinator) persistExtraction(ctx context.Context, job *contracts.IngestionJob, certID, category string, res *extraction.TieredResult, rec *classify.Record, outcome contracts.Outcome) error {
	if _, err := c.deps.Extracts.SaveExtraction(ctx, &contracts.Extraction{
		CertificateID: certID,
		Method:        res.Method,
		Model:         res.Model,
		PromptVersion: res.PromptVersion,
		Data:          res.Data,
		Confidence:    res.Confidence,
	}); err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}

	normalised, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal normalised record: %w", err)
	}
	runStatus := contracts.RunAwaitingReview
	if !res.ValidationPassed {
		runStatus = contracts.RunValidationFailed
	}
	run := &contracts.ExtractionRun{
		CertificateID:            certID,
		DocumentType:             res.DocumentType,
		ClassificationConfidence: res.Confidence,
		RawOutput:                res.Data,
		NormalisedOutput:         normalised,
		FinalTier:                res.FinalTierOrdinal,
		FinalTierName:            res.FinalTier,
		ProcessingTimeMs:         res.ProcessingTimeMs,
		ProcessingCost:           res.TotalCost,
		ValidationPassed:         res.ValidationPassed,
		Status:                   runStatus,
	}
	if res.ValidationPassed {
		run.ValidatedOutput = res.Data
	}
	if _, err := c.deps.Extracts.SaveRun(ctx, run, res.Audits); err != nil {
		return fmt.Errorf("save extraction run: %w", err)
	}

	cert := &contracts.Certificate{
		Category:          category,
		Status:            contracts.CertStatusNeedsReview,
		CertificateNumber: rec.CertificateNumber,
		IssueDate:         rec.IssueDate,
		ExpiryDate:        rec.ExpiryDate,
		Outcome:           &outcome,
		StatusMessage:     fmt.Sprintf("extracted via %s", res.FinalTier),
		ExtractedMetadata: res.Data,
	}
	if err := c.deps.Certs.ApplyExtraction(ctx, certID, cert); err != nil {
		return fmt.Errorf("apply extraction to certificate: %w", err)
	}

	if err := c.deps.Properties.MergeMetadata(ctx, job.PropertyID, res.Data); err != nil {
		c.logger.Warn("property metadata merge failed", "property", job.PropertyID, "error", err)
	}
	if rec.Address.Plausible() {
		if err := c.deps.Properties.UpdateAddress(ctx, job.PropertyID, rec.Address.Line1, rec.Address.City, rec.Address.Postcode); err != nil {
			c.logger.Warn("property address update failed", "property", job.PropertyID, "error", err)
		}
	}
	return nil
}

func (c *Coordinator) generateActions(ctx context.Context, job *contracts.IngestionJob, certID, category string, rec *classify.Record, outcome contracts.Outcome) (int, error) {
	var rb *remediation.Rulebook
	rows, err := c.deps.Rulebook.ForCertificateType(ctx, category)
	if err != nil {
		// Configuration unavailable; Generate falls back to the built-in rules.
		c.logger.Warn("classification rulebook unavailable", "category", category, "error", err)
	} else {
		rb = remediation.NewRulebook(rows, c.logger)
	}

	drafts := remediation.Generate(rb, category, rec, outcome, c.now(), c.logger)
	if len(drafts) == 0 {
		return 0, nil
	}

	actions := make([]*contracts.RemedialAction, 0, len(drafts))
	for _, d := range drafts {
		actions = append(actions, &contracts.RemedialAction{
			CertificateID: certID,
			PropertyID:    job.PropertyID,
			Code:          d.Code,
			Description:   d.Description,
			Location:      d.Location,
			Severity:      d.Severity,
			Status:        contracts.ActionOpen,
			DueDate:       d.DueDate,
			CostEstimate:  d.CostEstimate,
		})
	}
	if err := c.deps.Actions.CreateBatch(ctx, actions); err != nil {
		return 0, fmt.Errorf("create remedial actions: %w", err)
	}
	return len(actions), nil
}

// failMissingInput closes out a job whose document can never be loaded: no
// inline bytes and nothing in the store. A retry cannot recover that, so the
// job is failed terminally (nil return keeps it off the retry path) and the
// certificate is parked in NEEDS_REVIEW behind a manual-upload stub.
func (c *Coordinator) failMissingInput(ctx context.Context, job *contracts.IngestionJob, prop *contracts.Property, cause error) error {
	c.logger.Warn("document unavailable, manual upload required",
		"job", job.ID, "attempt", job.AttemptCount, "error", cause)

	certID, err := c.createCertificate(ctx, job, prop, 0)
	if err != nil {
		return c.fail(ctx, job, "", err)
	}

	if _, err := c.deps.Extracts.SaveExtraction(ctx, &contracts.Extraction{
		CertificateID: certID,
		Method:        contracts.MethodManual,
		Data:          json.RawMessage(`{"requiresManualUpload":true}`),
	}); err != nil {
		c.logger.Error("save manual-upload stub", "certificate", certID, "error", err)
	}
	if err := c.deps.Certs.SetStatus(ctx, certID, contracts.CertStatusNeedsReview, "document missing, manual upload required"); err != nil {
		c.logger.Error("mark certificate for review", "certificate", certID, "error", err)
	}
	if err := c.deps.Jobs.Fail(ctx, job.ID, cause.Error(), fmt.Sprintf("%+v", cause)); err != nil {
		c.logger.Error("record job failure", "job", job.ID, "error", err)
	}
	c.notifyFailed(ctx, job, certID, cause)
	return nil
}

func (c *Coordinator) fail(ctx context.Context, job *contracts.IngestionJob, certID string, cause error) error {
	c.logger.Error("ingestion failed",
		"job", job.ID, "attempt", job.AttemptCount, "certificate", certID, "error", cause)

	if err := c.deps.Jobs.Fail(ctx, job.ID, cause.Error(), fmt.Sprintf("%+v", cause)); err != nil {
		c.logger.Error("record job failure", "job", job.ID, "error", err)
	}
	if certID != "" {
		if err := c.deps.Certs.SetStatus(ctx, certID, contracts.CertStatusFailed, cause.Error()); err != nil {
			c.logger.Error("mark certificate failed", "certificate", certID, "error", err)
		}
	}
	c.notifyFailed(ctx, job, certID, cause)
	return cause
}
