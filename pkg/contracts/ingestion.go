package contracts

import (
	"encoding/json"
	"time"
)

// IngestionStatus is the lifecycle state of an ingestion job.
// PENDING -> PROCESSING -> EXTRACTING -> COMPLETE | FAILED.
type IngestionStatus string

const (
	IngestionPending    IngestionStatus = "PENDING"
	IngestionProcessing IngestionStatus = "PROCESSING"
	IngestionExtracting IngestionStatus = "EXTRACTING"
	IngestionComplete   IngestionStatus = "COMPLETE"
	IngestionFailed     IngestionStatus = "FAILED"
)

// IngestionJob tracks one document through the pipeline. AttemptCount only
// ever increases; CertificateID, once set, is never cleared (idempotency pin).
type IngestionJob struct {
	ID            string          `json:"id"`
	PropertyID    string          `json:"propertyId"`
	Category      string          `json:"category"`
	FileName      string          `json:"fileName"`
	StorageKey    string          `json:"storageKey,omitempty"`
	MimeType      string          `json:"mimeType,omitempty"`
	WebhookURL    string          `json:"webhookUrl,omitempty"`
	Status        IngestionStatus `json:"status"`
	AttemptCount  int             `json:"attemptCount"`
	LastAttemptAt *time.Time      `json:"lastAttemptAt,omitempty"`
	CertificateID string          `json:"certificateId,omitempty"`
	StatusMessage string          `json:"statusMessage,omitempty"`
	ErrorDetails  string          `json:"errorDetails,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// ActionSeverity is the urgency tag on a remedial action. Due-date horizons
// are 1/7/30/90 days respectively.
type ActionSeverity string

const (
	SeverityImmediate ActionSeverity = "IMMEDIATE"
	SeverityUrgent    ActionSeverity = "URGENT"
	SeverityRoutine   ActionSeverity = "ROUTINE"
	SeverityAdvisory  ActionSeverity = "ADVISORY"
)

// DueDateFor returns the due date implied by a severity at creation time.
func DueDateFor(severity ActionSeverity, createdAt time.Time) time.Time {
	switch severity {
	case SeverityImmediate:
		return createdAt.AddDate(0, 0, 1)
	case SeverityUrgent:
		return createdAt.AddDate(0, 0, 7)
	case SeverityRoutine:
		return createdAt.AddDate(0, 0, 30)
	default:
		return createdAt.AddDate(0, 0, 90)
	}
}

// ActionStatus is the workflow state of a remedial action.
type ActionStatus string

const (
	ActionOpen       ActionStatus = "OPEN"
	ActionInProgress ActionStatus = "IN_PROGRESS"
	ActionCompleted  ActionStatus = "COMPLETED"
	ActionCancelled  ActionStatus = "CANCELLED"
)

// RemedialAction is one defect remediation synthesised from an extraction.
type RemedialAction struct {
	ID            string         `json:"id"`
	CertificateID string         `json:"certificateId"`
	PropertyID    string         `json:"propertyId"`
	Code          string         `json:"code"`
	Description   string         `json:"description"`
	Location      string         `json:"location"`
	Severity      ActionSeverity `json:"severity"`
	Status        ActionStatus   `json:"status"`
	DueDate       time.Time      `json:"dueDate"`
	CostEstimate  string         `json:"costEstimate,omitempty"`
	CostActual    *int64         `json:"costActual,omitempty"`
	Notes         string         `json:"notes,omitempty"`
	ResolvedAt    *time.Time     `json:"resolvedAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// ClassificationCode is one row of the remediation rulebook. Code is unique
// within a certificate type. MatchExpression, when present, is a CEL
// expression evaluated against the defect record and overrides the plain
// code lookup.
type ClassificationCode struct {
	ID               string          `json:"id"`
	CertificateType  string          `json:"certificateType"`
	Code             string          `json:"code"`
	Severity         string          `json:"severity,omitempty"`
	Description      string          `json:"description"`
	ActionRequired   string          `json:"actionRequired,omitempty"`
	AutoCreateAction bool            `json:"autoCreateAction"`
	CostEstimateLow  *int64          `json:"costEstimateLow,omitempty"`
	CostEstimateHigh *int64          `json:"costEstimateHigh,omitempty"`
	ActionSeverity   *ActionSeverity `json:"actionSeverity,omitempty"`
	MatchExpression  string          `json:"matchExpression,omitempty"`
}

// FactorySetting is one tunable loaded at start-up. Values are strings and
// parsed by the consumer; missing rows fall back to named defaults.
type FactorySetting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LifecycleEvent is the in-process event published on the SSE channel and
// staged for webhook fan-out.
type LifecycleEvent struct {
	Type          string          `json:"type"`
	CertificateID string          `json:"certificateId,omitempty"`
	PropertyID    string          `json:"propertyId,omitempty"`
	Status        string          `json:"status,omitempty"`
	ClientID      string          `json:"clientId,omitempty"`
	Detail        json.RawMessage `json:"detail,omitempty"`
}

// Lifecycle event types surfaced over SSE.
const (
	EventConnected          = "connected"
	EventPing               = "ping"
	EventExtractionComplete = "extraction_complete"
	EventExtractionFailed   = "extraction_failed"
	EventPropertyUpdated    = "property_updated"
	EventCertificateUpdated = "certificate_updated"
)
