package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complianceai/certpipe/pkg/classify"
	"github.com/complianceai/certpipe/pkg/contracts"
	"github.com/complianceai/certpipe/pkg/docstore"
	"github.com/complianceai/certpipe/pkg/extraction"
	"github.com/complianceai/certpipe/pkg/store"
)

type stubJobs struct {
	job         *contracts.IngestionJob
	transitions []contracts.IngestionStatus
	stale       bool
	attempts    int
	pinnedCert  string
	failMessage string
}

func (s *stubJobs) Get(ctx context.Context, id string) (*contracts.IngestionJob, error) {
	if s.job == nil {
		return nil, store.ErrNotFound
	}
	copied := *s.job
	return &copied, nil
}

func (s *stubJobs) Transition(ctx context.Context, id string, from []contracts.IngestionStatus, to contracts.IngestionStatus, message string) error {
	if s.stale {
		return store.ErrStaleTransition
	}
	s.transitions = append(s.transitions, to)
	return nil
}

func (s *stubJobs) MarkAttempt(ctx context.Context, id string) (int, error) {
	s.attempts++
	return s.job.AttemptCount + s.attempts, nil
}

func (s *stubJobs) PinCertificate(ctx context.Context, id, certificateID string) error {
	s.pinnedCert = certificateID
	return nil
}

func (s *stubJobs) Fail(ctx context.Context, id, message, details string) error {
	s.failMessage = message
	return nil
}

type stubCerts struct {
	existing *contracts.Certificate
	created  *contracts.Certificate
	applied  *contracts.Certificate
	statuses []contracts.CertificateStatus
}

func (s *stubCerts) Create(ctx context.Context, cert *contracts.Certificate) (string, error) {
	s.created = cert
	return "cert-1", nil
}

func (s *stubCerts) Get(ctx context.Context, id string) (*contracts.Certificate, error) {
	if s.existing == nil {
		return nil, store.ErrNotFound
	}
	return s.existing, nil
}

func (s *stubCerts) SetStatus(ctx context.Context, id string, status contracts.CertificateStatus, message string) error {
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *stubCerts) ApplyExtraction(ctx context.Context, id string, cert *contracts.Certificate) error {
	s.applied = cert
	return nil
}

type stubExtracts struct {
	extraction *contracts.Extraction
	run        *contracts.ExtractionRun
	audits     []contracts.ExtractionTierAudit
}

func (s *stubExtracts) SaveExtraction(ctx context.Context, ex *contracts.Extraction) (string, error) {
	s.extraction = ex
	return "ex-1", nil
}

func (s *stubExtracts) SaveRun(ctx context.Context, run *contracts.ExtractionRun, audits []contracts.ExtractionTierAudit) (string, error) {
	s.run = run
	s.audits = audits
	return "run-1", nil
}

type stubActions struct {
	batch []*contracts.RemedialAction
}

func (s *stubActions) CreateBatch(ctx context.Context, actions []*contracts.RemedialAction) error {
	s.batch = actions
	return nil
}

type stubProps struct {
	prop        *contracts.Property
	merged      json.RawMessage
	addrLine1   string
	addrUpdated bool
	components  []*contracts.Component
	contractors []*contracts.Contractor
}

func (s *stubProps) Get(ctx context.Context, id string) (*contracts.Property, error) {
	if s.prop == nil {
		return nil, store.ErrNotFound
	}
	return s.prop, nil
}

func (s *stubProps) UpdateAddress(ctx context.Context, id, line1, city, postcode string) error {
	s.addrUpdated = true
	s.addrLine1 = line1
	return nil
}

func (s *stubProps) MergeMetadata(ctx context.Context, id string, metadata json.RawMessage) error {
	s.merged = metadata
	return nil
}

func (s *stubProps) UpsertComponent(ctx context.Context, c *contracts.Component) (string, error) {
	s.components = append(s.components, c)
	return "comp-1", nil
}

func (s *stubProps) UpsertContractor(ctx context.Context, c *contracts.Contractor) (string, error) {
	s.contractors = append(s.contractors, c)
	return "contr-1", nil
}

type stubRules struct {
	rows []contracts.ClassificationCode
	err  error
}

func (s *stubRules) ForCertificateType(ctx context.Context, certificateType string) ([]contracts.ClassificationCode, error) {
	return s.rows, s.err
}

type stubEvents struct {
	staged []*contracts.WebhookEvent
}

func (s *stubEvents) StageEvent(ctx context.Context, ev *contracts.WebhookEvent) (string, error) {
	s.staged = append(s.staged, ev)
	return "ev-1", nil
}

type stubDocs struct {
	data  []byte
	err   error
	calls int
}

func (s *stubDocs) Fetch(ctx context.Context, key string) ([]byte, error) {
	s.calls++
	return s.data, s.err
}

func (s *stubDocs) Put(ctx context.Context, key string, data []byte, mimeType string) error {
	return nil
}

type stubExtractor struct {
	res      *extraction.TieredResult
	err      error
	calls    int
	lastOpts extraction.Options
}

func (s *stubExtractor) Extract(ctx context.Context, certificateID string, data []byte, mimeType, filename string, opts extraction.Options) (*extraction.TieredResult, error) {
	s.calls++
	s.lastOpts = opts
	return s.res, s.err
}

type stubPublisher struct {
	events []contracts.LifecycleEvent
}

func (s *stubPublisher) Publish(ev contracts.LifecycleEvent) {
	s.events = append(s.events, ev)
}

type fixture struct {
	jobs      *stubJobs
	certs     *stubCerts
	extracts  *stubExtracts
	actions   *stubActions
	props     *stubProps
	rules     *stubRules
	events    *stubEvents
	docs      *stubDocs
	extractor *stubExtractor
	publisher *stubPublisher
	coord     *Coordinator
}

func newFixture(job *contracts.IngestionJob) *fixture {
	f := &fixture{
		jobs:      &stubJobs{job: job},
		certs:     &stubCerts{},
		extracts:  &stubExtracts{},
		actions:   &stubActions{},
		props:     &stubProps{prop: &contracts.Property{ID: "prop-1", OrganisationID: "org-1"}},
		rules:     &stubRules{},
		events:    &stubEvents{},
		docs:      &stubDocs{data: []byte("%PDF-1.4")},
		extractor: &stubExtractor{res: gasResult()},
		publisher: &stubPublisher{},
	}
	f.coord = New(Deps{
		Jobs:       f.jobs,
		Certs:      f.certs,
		Extracts:   f.extracts,
		Actions:    f.actions,
		Properties: f.props,
		Rulebook:   f.rules,
		Events:     f.events,
		Docs:       f.docs,
		Extractor:  f.extractor,
		Publisher:  f.publisher,
		Logger:     slog.Default(),
	})
	return f
}

func pendingJob() *contracts.IngestionJob {
	return &contracts.IngestionJob{
		ID:         "job-1",
		PropertyID: "prop-1",
		Category:   classify.CategoryGasSafety,
		FileName:   "cp12-12-mill-road.pdf",
		StorageKey: "org-1/prop-1/cp12-12-mill-road.pdf",
		MimeType:   "application/pdf",
		WebhookURL: "https://hms.example.org/hooks/compliance",
		Status:     contracts.IngestionPending,
	}
}

func gasResult() *extraction.TieredResult {
	data := json.RawMessage(`{
		"documentType": "CP12 Landlord Gas Safety Record",
		"certificateNumber": "GSR-1001",
		"issueDate": "2026-01-10",
		"expiryDate": "2027-01-10",
		"address": {"addressLine1": "12 Mill Road, Cambridge", "city": "Cambridge", "postcode": "CB1 2AD"},
		"engineer": {"name": "A Fitter", "registrationNumber": "512233", "registrationBody": "Gas Safe"},
		"appliances": [{"type": "Boiler", "make": "Vaillant", "model": "EcoTec", "serialNumber": "SN-9", "location": "Kitchen", "outcome": "FAIL", "applianceSafe": false}],
		"defects": [{"description": "Flue spillage at draught diverter", "location": "Kitchen", "classification": "ID"}]
	}`)
	return &extraction.TieredResult{
		Data:             data,
		Confidence:       0.85,
		DocumentType:     "CP12 Landlord Gas Safety Record",
		FinalTier:        extraction.TierVision,
		FinalTierOrdinal: 5,
		Method:           contracts.MethodAzureOCRClaude,
		Model:            "claude-sonnet-4-5",
		PromptVersion:    "2.1.0",
		OCRProvider:      extraction.ProviderAzureDI,
		ValidationPassed: true,
		ProcessingTimeMs: 4200,
		TotalCost:        0.034,
		Audits: []contracts.ExtractionTierAudit{
			{TierName: extraction.TierMetadata, TierOrder: 0, Status: contracts.TierEscalated},
			{TierName: extraction.TierVision, TierOrder: 5, Status: contracts.TierSuccess, Confidence: 0.85},
		},
	}
}

func TestProcessHappyPath(t *testing.T) {
	f := newFixture(pendingJob())

	require.NoError(t, f.coord.Process(context.Background(), "job-1", nil))

	// Job walked PROCESSING -> EXTRACTING -> COMPLETE and pinned the cert.
	assert.Equal(t, []contracts.IngestionStatus{
		contracts.IngestionProcessing, contracts.IngestionExtracting, contracts.IngestionComplete,
	}, f.jobs.transitions)
	assert.Equal(t, 1, f.jobs.attempts)
	assert.Equal(t, "cert-1", f.jobs.pinnedCert)

	require.NotNil(t, f.certs.created)
	assert.Equal(t, contracts.CertStatusProcessing, f.certs.created.Status)
	assert.Equal(t, "org-1", f.certs.created.OrganisationID)

	require.NotNil(t, f.certs.applied)
	assert.Equal(t, contracts.CertStatusNeedsReview, f.certs.applied.Status)
	assert.Equal(t, "GSR-1001", f.certs.applied.CertificateNumber)
	require.NotNil(t, f.certs.applied.Outcome)
	assert.Equal(t, contracts.OutcomeUnsatisfactory, *f.certs.applied.Outcome)

	require.NotNil(t, f.extracts.run)
	assert.Equal(t, 5, f.extracts.run.FinalTier)
	assert.True(t, f.extracts.run.ValidationPassed)
	assert.Len(t, f.extracts.audits, 2)

	// The immediately dangerous defect produced at least one action.
	require.NotEmpty(t, f.actions.batch)
	assert.Equal(t, "ID", f.actions.batch[0].Code)
	assert.Equal(t, contracts.SeverityImmediate, f.actions.batch[0].Severity)
	assert.Equal(t, contracts.ActionOpen, f.actions.batch[0].Status)

	// Address was plausible, so the property record was refreshed.
	assert.True(t, f.props.addrUpdated)
	assert.Equal(t, "12 Mill Road, Cambridge", f.props.addrLine1)
	assert.NotNil(t, f.props.merged)

	// Appliance became a HEATING component; the engineer became a contractor.
	require.Len(t, f.props.components, 1)
	assert.Equal(t, "HEATING", f.props.components[0].TypeCode)
	assert.Equal(t, "SN-9", f.props.components[0].SerialNumber)
	require.Len(t, f.props.contractors, 1)
	assert.Equal(t, "A Fitter", f.props.contractors[0].Name)
	assert.Equal(t, "512233", f.props.contractors[0].RegistrationNumber)

	// Job carried a webhook URL, so a completion event was staged.
	require.Len(t, f.events.staged, 1)
	assert.Equal(t, contracts.WebhookIngestionCompleted, f.events.staged[0].EventType)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, contracts.EventExtractionComplete, f.publisher.events[0].Type)
	assert.Equal(t, "cert-1", f.publisher.events[0].CertificateID)
}

func TestProcessCompleteJobIsNoOp(t *testing.T) {
	job := pendingJob()
	job.Status = contracts.IngestionComplete
	f := newFixture(job)

	require.NoError(t, f.coord.Process(context.Background(), "job-1", nil))
	assert.Empty(t, f.jobs.transitions)
	assert.Zero(t, f.extractor.calls)
}

func TestProcessExhaustedFailureIsNoOp(t *testing.T) {
	job := pendingJob()
	job.Status = contracts.IngestionFailed
	job.AttemptCount = 3
	f := newFixture(job)

	require.NoError(t, f.coord.Process(context.Background(), "job-1", nil))
	assert.Zero(t, f.extractor.calls)
}

func TestProcessPinnedCertificateShortCircuits(t *testing.T) {
	job := pendingJob()
	job.CertificateID = "cert-1"
	f := newFixture(job)
	f.certs.existing = &contracts.Certificate{ID: "cert-1", Status: contracts.CertStatusNeedsReview}

	require.NoError(t, f.coord.Process(context.Background(), "job-1", nil))
	assert.Zero(t, f.extractor.calls)
	assert.Empty(t, f.jobs.transitions)
}

func TestProcessReprocessesPinnedFailedCertificate(t *testing.T) {
	job := pendingJob()
	job.CertificateID = "cert-1"
	f := newFixture(job)
	f.certs.existing = &contracts.Certificate{ID: "cert-1", Status: contracts.CertStatusFailed}

	require.NoError(t, f.coord.Process(context.Background(), "job-1", nil))
	assert.Equal(t, 1, f.extractor.calls)
	// Existing certificate reused, not recreated.
	assert.Nil(t, f.certs.created)
	assert.Contains(t, f.certs.statuses, contracts.CertStatusProcessing)
}

func TestProcessStaleTransitionYieldsToOtherWorker(t *testing.T) {
	f := newFixture(pendingJob())
	f.jobs.stale = true

	require.NoError(t, f.coord.Process(context.Background(), "job-1", nil))
	assert.Zero(t, f.extractor.calls)
}

func TestProcessExtractionErrorFailsJobAndPropagates(t *testing.T) {
	f := newFixture(pendingJob())
	boom := errors.New("llm unavailable")
	f.extractor.res = nil
	f.extractor.err = boom

	err := f.coord.Process(context.Background(), "job-1", nil)
	require.ErrorIs(t, err, boom)

	assert.Contains(t, f.jobs.failMessage, "llm unavailable")
	assert.Contains(t, f.certs.statuses, contracts.CertStatusFailed)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, contracts.EventExtractionFailed, f.publisher.events[0].Type)
	require.Len(t, f.events.staged, 1)
	assert.Equal(t, contracts.WebhookIngestionFailed, f.events.staged[0].EventType)
}

func TestProcessPrefersBufferOverStore(t *testing.T) {
	f := newFixture(pendingJob())

	require.NoError(t, f.coord.Process(context.Background(), "job-1", []byte("%PDF-1.4 inline")))
	assert.Zero(t, f.docs.calls)
}

func TestProcessMissingDocumentIsTerminal(t *testing.T) {
	job := pendingJob()
	job.StorageKey = ""
	f := newFixture(job)

	// No bytes anywhere: the job must not bounce back through the queue.
	require.NoError(t, f.coord.Process(context.Background(), "job-1", nil))
	assert.Zero(t, f.docs.calls)
	assert.Zero(t, f.extractor.calls)

	// A certificate was still created and parked for manual upload.
	require.NotNil(t, f.certs.created)
	assert.Equal(t, "cert-1", f.jobs.pinnedCert)
	assert.Contains(t, f.certs.statuses, contracts.CertStatusNeedsReview)
	assert.NotContains(t, f.certs.statuses, contracts.CertStatusFailed)

	require.NotNil(t, f.extracts.extraction)
	assert.Equal(t, contracts.MethodManual, f.extracts.extraction.Method)
	assert.JSONEq(t, `{"requiresManualUpload":true}`, string(f.extracts.extraction.Data))

	// The job row records the terminal failure and the failure event fires.
	assert.Contains(t, f.jobs.failMessage, "no document bytes")
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, contracts.EventExtractionFailed, f.publisher.events[0].Type)
	require.Len(t, f.events.staged, 1)
	assert.Equal(t, contracts.WebhookIngestionFailed, f.events.staged[0].EventType)
}

func TestProcessStoreNotFoundIsTerminal(t *testing.T) {
	f := newFixture(pendingJob())
	f.docs.data = nil
	f.docs.err = fmt.Errorf("%w: %s", docstore.ErrNotFound, "org-1/prop-1/cp12-12-mill-road.pdf")

	require.NoError(t, f.coord.Process(context.Background(), "job-1", nil))
	assert.Equal(t, 1, f.docs.calls)
	assert.Zero(t, f.extractor.calls)

	require.NotNil(t, f.extracts.extraction)
	assert.Equal(t, contracts.MethodManual, f.extracts.extraction.Method)
	assert.Contains(t, f.certs.statuses, contracts.CertStatusNeedsReview)
	assert.Contains(t, f.jobs.failMessage, "document not found")
}

func TestProcessDocumentBreakerOpensAfterThreeFailures(t *testing.T) {
	f := newFixture(pendingJob())
	f.docs.err = errors.New("bucket unreachable")

	for i := 0; i < docBreakerTrip; i++ {
		err := f.coord.Process(context.Background(), "job-1", nil)
		require.Error(t, err)
	}
	assert.Equal(t, docBreakerTrip, f.docs.calls)

	// Breaker is open now; the store is not touched again.
	err := f.coord.Process(context.Background(), "job-1", nil)
	require.Error(t, err)
	assert.Equal(t, docBreakerTrip, f.docs.calls)
}

func TestProcessImplausibleAddressLeftAlone(t *testing.T) {
	f := newFixture(pendingJob())
	res := gasResult()
	res.Data = json.RawMessage(`{
		"documentType": "CP12 Landlord Gas Safety Record",
		"address": {"addressLine1": "Flat", "city": "To Be Verified", "postcode": "UNKNOWN"}
	}`)
	f.extractor.res = res

	require.NoError(t, f.coord.Process(context.Background(), "job-1", nil))
	assert.False(t, f.props.addrUpdated)
}

func TestProcessNoWebhookURLSkipsStaging(t *testing.T) {
	job := pendingJob()
	job.WebhookURL = ""
	f := newFixture(job)

	require.NoError(t, f.coord.Process(context.Background(), "job-1", nil))
	assert.Empty(t, f.events.staged)
	// SSE fan-out still happens.
	require.Len(t, f.publisher.events, 1)
}

func TestProcessInvalidRunRecordedAsValidationFailed(t *testing.T) {
	f := newFixture(pendingJob())
	res := gasResult()
	res.ValidationPassed = false
	res.RequiresReview = true
	f.extractor.res = res

	require.NoError(t, f.coord.Process(context.Background(), "job-1", nil))
	require.NotNil(t, f.extracts.run)
	assert.Equal(t, contracts.RunValidationFailed, f.extracts.run.Status)
	assert.Empty(t, f.extracts.run.ValidatedOutput)
}

func TestRefineCategory(t *testing.T) {
	cases := []struct {
		selected, docType, want string
	}{
		{classify.CategoryGasSafety, "EICR", classify.CategoryGasSafety},
		{classify.CategoryOther, "Electrical Installation Condition Report", classify.CategoryEICR},
		{"", "Energy Performance Certificate", classify.CategoryEPC},
		{classify.CategoryOther, "Minutes of meeting", classify.CategoryOther},
		{"", "", classify.CategoryOther},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, refineCategory(tc.selected, tc.docType), "%s/%s", tc.selected, tc.docType)
	}
}

func TestDueDatesFollowSeverityPolicy(t *testing.T) {
	f := newFixture(pendingJob())
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.coord.now = func() time.Time { return created }

	require.NoError(t, f.coord.Process(context.Background(), "job-1", nil))
	require.NotEmpty(t, f.actions.batch)
	for _, a := range f.actions.batch {
		assert.Equal(t, contracts.DueDateFor(a.Severity, created), a.DueDate, a.Code)
	}
}
