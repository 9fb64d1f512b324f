// Package contracts defines the persisted entities shared across the
// ingestion pipeline: certificates, extractions, remedial actions, the
// classification rulebook and the outbound webhook records.
package contracts

import (
	"encoding/json"
	"time"
)

// CertificateStatus is the lifecycle state of an uploaded certificate.
type CertificateStatus string

const (
	CertStatusUploaded    CertificateStatus = "UPLOADED"
	CertStatusProcessing  CertificateStatus = "PROCESSING"
	CertStatusNeedsReview CertificateStatus = "NEEDS_REVIEW"
	CertStatusApproved    CertificateStatus = "APPROVED"
	CertStatusRejected    CertificateStatus = "REJECTED"
	CertStatusFailed      CertificateStatus = "FAILED"
)

// Outcome is the binary compliance verdict for a certificate.
type Outcome string

const (
	OutcomeSatisfactory   Outcome = "SATISFACTORY"
	OutcomeUnsatisfactory Outcome = "UNSATISFACTORY"
)

// Certificate is one compliance document owned by exactly one property.
type Certificate struct {
	ID                string            `json:"id"`
	PropertyID        string            `json:"propertyId"`
	OrganisationID    string            `json:"organisationId"`
	Category          string            `json:"category"`
	FileName          string            `json:"fileName"`
	FileSize          int64             `json:"fileSize"`
	MimeType          string            `json:"mimeType"`
	Status            CertificateStatus `json:"status"`
	CertificateNumber string            `json:"certificateNumber,omitempty"`
	IssueDate         *time.Time        `json:"issueDate,omitempty"`
	ExpiryDate        *time.Time        `json:"expiryDate,omitempty"`
	Outcome           *Outcome          `json:"outcome,omitempty"`
	StatusMessage     string            `json:"statusMessage,omitempty"`
	ExtractedMetadata json.RawMessage   `json:"extractedMetadata,omitempty"`
	ReviewApprovedAt  *time.Time        `json:"reviewApprovedAt,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// ExtractionMethod identifies which path produced an extraction.
type ExtractionMethod string

const (
	MethodAzureOCRClaude ExtractionMethod = "AZURE_OCR_CLAUDE_ANALYSIS"
	MethodClaudeVision   ExtractionMethod = "CLAUDE_VISION"
	MethodPatternMatch   ExtractionMethod = "PATTERN_MATCHING"
	MethodMetadata       ExtractionMethod = "METADATA_EXTRACTION"
	MethodManual         ExtractionMethod = "MANUAL"
)

// Extraction is the (effectively one-to-one) structured output attached to a
// certificate once any tier has produced data.
type Extraction struct {
	ID            string           `json:"id"`
	CertificateID string           `json:"certificateId"`
	Method        ExtractionMethod `json:"method"`
	Model         string           `json:"model,omitempty"`
	PromptVersion string           `json:"promptVersion,omitempty"`
	Data          json.RawMessage  `json:"data"`
	Confidence    float64          `json:"confidence"`
	TextQuality   string           `json:"textQuality,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// RunStatus is the review state of one orchestrator pass.
type RunStatus string

const (
	RunPending          RunStatus = "PENDING"
	RunProcessing       RunStatus = "PROCESSING"
	RunValidationFailed RunStatus = "VALIDATION_FAILED"
	RunRepairInProgress RunStatus = "REPAIR_IN_PROGRESS"
	RunAwaitingReview   RunStatus = "AWAITING_REVIEW"
	RunApproved         RunStatus = "APPROVED"
	RunRejected         RunStatus = "REJECTED"
)

// ExtractionRun is the audit-grade record of one full orchestrator pass.
type ExtractionRun struct {
	ID                       string          `json:"id"`
	CertificateID            string          `json:"certificateId"`
	DocumentType             string          `json:"documentType,omitempty"`
	ClassificationConfidence float64         `json:"classificationConfidence"`
	RawOutput                json.RawMessage `json:"rawOutput,omitempty"`
	ValidatedOutput          json.RawMessage `json:"validatedOutput,omitempty"`
	NormalisedOutput         json.RawMessage `json:"normalisedOutput,omitempty"`
	FinalTier                int             `json:"finalTier"`
	FinalTierName            string          `json:"finalTierName"`
	ProcessingTimeMs         int64           `json:"processingTimeMs"`
	ProcessingCost           float64         `json:"processingCost"`
	ValidationPassed         bool            `json:"validationPassed"`
	Status                   RunStatus       `json:"status"`
	CreatedAt                time.Time       `json:"createdAt"`
}

// TierStatus records how a single tier attempt ended.
type TierStatus string

const (
	TierSuccess   TierStatus = "success"
	TierEscalated TierStatus = "escalated"
	TierSkipped   TierStatus = "skipped"
	TierFailed    TierStatus = "failed"
	TierPending   TierStatus = "pending"
)

// ExtractionTierAudit is one row per tier attempt within one run.
type ExtractionTierAudit struct {
	ID               string          `json:"id"`
	RunID            string          `json:"runId"`
	TierName         string          `json:"tierName"`
	TierOrder        int             `json:"tierOrder"`
	AttemptedAt      time.Time       `json:"attemptedAt"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
	Status           TierStatus      `json:"status"`
	Confidence       float64         `json:"confidence"`
	Cost             float64         `json:"cost"`
	FieldCount       int             `json:"fieldCount"`
	EscalationReason string          `json:"escalationReason,omitempty"`
	PageCount        int             `json:"pageCount"`
	RawOutput        json.RawMessage `json:"rawOutput,omitempty"`
}

// Property is the dwelling a certificate belongs to. The pipeline only
// touches its address fields and extracted metadata.
type Property struct {
	ID                string          `json:"id"`
	OrganisationID    string          `json:"organisationId"`
	AddressLine1      string          `json:"addressLine1"`
	AddressLine2      string          `json:"addressLine2,omitempty"`
	City              string          `json:"city,omitempty"`
	Postcode          string          `json:"postcode,omitempty"`
	ExtractedMetadata json.RawMessage `json:"extractedMetadata,omitempty"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Component is plant or equipment identified on a certificate (boiler,
// consumer unit, lift car) and auto-linked to the property.
type Component struct {
	ID            string     `json:"id"`
	PropertyID    string     `json:"propertyId"`
	CertificateID string     `json:"certificateId,omitempty"`
	TypeCode      string     `json:"typeCode"`
	Name          string     `json:"name"`
	Make          string     `json:"make,omitempty"`
	Model         string     `json:"model,omitempty"`
	SerialNumber  string     `json:"serialNumber,omitempty"`
	Location      string     `json:"location,omitempty"`
	InstallDate   *time.Time `json:"installDate,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Contractor is the engineer/inspector/assessor organisation lifted from a
// certificate's issuer block.
type Contractor struct {
	ID                 string    `json:"id"`
	OrganisationID     string    `json:"organisationId"`
	Name               string    `json:"name"`
	RegistrationNumber string    `json:"registrationNumber,omitempty"`
	RegistrationBody   string    `json:"registrationBody,omitempty"`
	Email              string    `json:"email,omitempty"`
	Phone              string    `json:"phone,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}
