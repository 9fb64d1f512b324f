package contracts

import (
	"encoding/json"
	"time"
)

// WebhookAuthMode selects how an outbound request authenticates itself.
type WebhookAuthMode string

const (
	WebhookAuthNone   WebhookAuthMode = "NONE"
	WebhookAuthAPIKey WebhookAuthMode = "API_KEY"
	WebhookAuthBearer WebhookAuthMode = "BEARER"
	WebhookAuthHMAC   WebhookAuthMode = "HMAC_SHA256"
)

// WebhookEndpointStatus is ACTIVE until the failure counter trips it.
type WebhookEndpointStatus string

const (
	EndpointActive WebhookEndpointStatus = "ACTIVE"
	EndpointFailed WebhookEndpointStatus = "FAILED"
)

// WebhookEndpoint is a registered outbound destination.
type WebhookEndpoint struct {
	ID            string                `json:"id"`
	URL           string                `json:"url"`
	AuthMode      WebhookAuthMode       `json:"authMode"`
	Secret        string                `json:"-"`
	EventTypes    []string              `json:"eventTypes"`
	CustomHeaders map[string]string     `json:"customHeaders,omitempty"`
	RetryCount    int                   `json:"retryCount"`
	TimeoutSecs   int                   `json:"timeoutSeconds"`
	FailureCount  int                   `json:"failureCount"`
	Status        WebhookEndpointStatus `json:"status"`
	LastSuccessAt *time.Time            `json:"lastSuccessAt,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
}

// WebhookEvent is a staged outbound event awaiting fan-out.
type WebhookEvent struct {
	ID         string          `json:"id"`
	EventType  string          `json:"eventType"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Payload    json.RawMessage `json:"payload"`
	Processed  bool            `json:"processed"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// DeliveryStatus is the state of one (event, endpoint) delivery.
type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "PENDING"
	DeliveryRetrying DeliveryStatus = "RETRYING"
	DeliverySent     DeliveryStatus = "SENT"
	DeliveryFailed   DeliveryStatus = "FAILED"
)

// WebhookDelivery records attempts to push one event to one endpoint.
type WebhookDelivery struct {
	ID             string         `json:"id"`
	EventID        string         `json:"eventId"`
	EndpointID     string         `json:"endpointId"`
	AttemptCount   int            `json:"attemptCount"`
	LastAttemptAt  *time.Time     `json:"lastAttemptAt,omitempty"`
	ResponseStatus *int           `json:"responseStatus,omitempty"`
	ResponseBody   string         `json:"responseBody,omitempty"`
	NextRetryAt    *time.Time     `json:"nextRetryAt,omitempty"`
	Status         DeliveryStatus `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// IncomingWebhookLog persists every inbound integration body for replay.
type IncomingWebhookLog struct {
	ID           string          `json:"id"`
	Source       string          `json:"source"`
	EventType    string          `json:"eventType"`
	Payload      json.RawMessage `json:"payload"`
	Headers      json.RawMessage `json:"headers,omitempty"`
	Processed    bool            `json:"processed"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	ReceivedAt   time.Time       `json:"receivedAt"`
}

// Dotted outbound event names.
const (
	WebhookIngestionCompleted = "ingestion.completed"
	WebhookIngestionFailed    = "ingestion.failed"
	WebhookActionCreated      = "action.created"
	WebhookActionUpdated      = "action.updated"
	WebhookActionCompleted    = "action.completed"
)
