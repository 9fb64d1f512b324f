package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/complianceai/certpipe/pkg/contracts"
)

// WebhookStore persists endpoints, staged events, deliveries and the
// inbound integration log.
type WebhookStore struct {
	db *sql.DB
}

// ActiveEndpoints lists the endpoints subscribed to an event type.
func (s *WebhookStore) ActiveEndpoints(ctx context.Context, eventType string) ([]*contracts.WebhookEndpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, auth_mode, secret, event_types, custom_headers, retry_count,
			timeout_seconds, failure_count, status, last_success_at, created_at
		FROM webhook_endpoints
		WHERE status = 'ACTIVE' AND $1 = ANY(event_types)
	`, eventType)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.WebhookEndpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// GetEndpoint loads one endpoint.
func (s *WebhookStore) GetEndpoint(ctx context.Context, id string) (*contracts.WebhookEndpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, auth_mode, secret, event_types, custom_headers, retry_count,
			timeout_seconds, failure_count, status, last_success_at, created_at
		FROM webhook_endpoints WHERE id = $1
	`, id)
	return scanEndpoint(row)
}

// RecordEndpointSuccess zeroes the failure counter.
func (s *WebhookStore) RecordEndpointSuccess(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_endpoints SET failure_count = 0, last_success_at = $1 WHERE id = $2
	`, time.Now(), id)
	return err
}

// RecordEndpointFailure bumps the failure counter and disables the endpoint
// once it crosses the threshold. Returns the new counter value.
func (s *WebhookStore) RecordEndpointFailure(ctx context.Context, id string, disableAt int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE webhook_endpoints
		SET failure_count = failure_count + 1,
			status = CASE WHEN failure_count + 1 >= $1 THEN 'FAILED' ELSE status END
		WHERE id = $2
		RETURNING failure_count
	`, disableAt, id).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("record endpoint failure %s: %w", id, err)
	}
	return count, nil
}

// StageEvent writes an outbound event awaiting fan-out.
func (s *WebhookStore) StageEvent(ctx context.Context, ev *contracts.WebhookEvent) (string, error) {
	if ev.ID == "" {
		ev.ID = newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, event_type, entity_type, entity_id, payload, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
	`, ev.ID, ev.EventType, ev.EntityType, ev.EntityID, []byte(ev.Payload), time.Now())
	if err != nil {
		return "", fmt.Errorf("stage webhook event: %w", err)
	}
	return ev.ID, nil
}

// ClaimUnprocessed marks up to limit staged events processed and returns
// them, using SKIP LOCKED so concurrent pollers never double-claim.
func (s *WebhookStore) ClaimUnprocessed(ctx context.Context, limit int) ([]*contracts.WebhookEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE webhook_events
		SET processed = TRUE
		WHERE id IN (
			SELECT id FROM webhook_events
			WHERE processed = FALSE
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_type, entity_type, entity_id, payload, processed, created_at
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim webhook events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.WebhookEvent
	for rows.Next() {
		var ev contracts.WebhookEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.EntityType, &ev.EntityID,
			&payload, &ev.Processed, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// GetEvent loads one staged event, used by replay.
func (s *WebhookStore) GetEvent(ctx context.Context, id string) (*contracts.WebhookEvent, error) {
	var ev contracts.WebhookEvent
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, event_type, entity_type, entity_id, payload, processed, created_at
		FROM webhook_events WHERE id = $1
	`, id).Scan(&ev.ID, &ev.EventType, &ev.EntityType, &ev.EntityID, &payload,
		&ev.Processed, &ev.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load webhook event %s: %w", id, err)
	}
	ev.Payload = json.RawMessage(payload)
	return &ev, nil
}

// CreateDelivery inserts a PENDING delivery row for one (event, endpoint).
func (s *WebhookStore) CreateDelivery(ctx context.Context, eventID, endpointID string) (string, error) {
	id := newID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, event_id, endpoint_id, attempt_count, status, created_at)
		VALUES ($1, $2, $3, 0, 'PENDING', $4)
	`, id, eventID, endpointID, time.Now())
	if err != nil {
		return "", fmt.Errorf("create delivery: %w", err)
	}
	return id, nil
}

// RecordAttempt updates a delivery after one HTTP attempt.
func (s *WebhookStore) RecordAttempt(ctx context.Context, id string, status contracts.DeliveryStatus, responseStatus *int, responseBody string, nextRetry *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET attempt_count = attempt_count + 1,
			last_attempt_at = $1,
			status = $2,
			response_status = $3,
			response_body = $4,
			next_retry_at = $5
		WHERE id = $6
	`, time.Now(), status, responseStatus, nullStr(truncateBody(responseBody)), nullTime(nextRetry), id)
	if err != nil {
		return fmt.Errorf("record delivery attempt %s: %w", id, err)
	}
	return nil
}

// GetDelivery loads one delivery row.
func (s *WebhookStore) GetDelivery(ctx context.Context, id string) (*contracts.WebhookDelivery, error) {
	var d contracts.WebhookDelivery
	var lastAttempt, nextRetry sql.NullTime
	var responseStatus sql.NullInt64
	var responseBody sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, endpoint_id, attempt_count, last_attempt_at,
			response_status, response_body, next_retry_at, status, created_at
		FROM webhook_deliveries WHERE id = $1
	`, id).Scan(&d.ID, &d.EventID, &d.EndpointID, &d.AttemptCount, &lastAttempt,
		&responseStatus, &responseBody, &nextRetry, &d.Status, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load delivery %s: %w", id, err)
	}
	d.LastAttemptAt = timePtr(lastAttempt)
	d.NextRetryAt = timePtr(nextRetry)
	d.ResponseBody = responseBody.String
	if responseStatus.Valid {
		v := int(responseStatus.Int64)
		d.ResponseStatus = &v
	}
	return &d, nil
}

// LogIncoming persists an inbound integration body.
func (s *WebhookStore) LogIncoming(ctx context.Context, log *contracts.IncomingWebhookLog) (string, error) {
	if log.ID == "" {
		log.ID = newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incoming_webhook_logs (id, source, event_type, payload, headers,
			processed, error_message, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, log.ID, log.Source, log.EventType, []byte(log.Payload), []byte(log.Headers),
		log.Processed, nullStr(log.ErrorMessage), time.Now())
	if err != nil {
		return "", fmt.Errorf("log incoming webhook: %w", err)
	}
	return log.ID, nil
}

// MarkIncomingProcessed flags an inbound log row after successful handling.
func (s *WebhookStore) MarkIncomingProcessed(ctx context.Context, id, errorMessage string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE incoming_webhook_logs SET processed = $1, error_message = $2 WHERE id = $3
	`, errorMessage == "", nullStr(errorMessage), id)
	return err
}

func scanEndpoint(row rowScanner) (*contracts.WebhookEndpoint, error) {
	var ep contracts.WebhookEndpoint
	var secret sql.NullString
	var eventTypes pq.StringArray
	var headers []byte
	var lastSuccess sql.NullTime

	err := row.Scan(&ep.ID, &ep.URL, &ep.AuthMode, &secret, &eventTypes, &headers,
		&ep.RetryCount, &ep.TimeoutSecs, &ep.FailureCount, &ep.Status, &lastSuccess,
		&ep.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan webhook endpoint: %w", err)
	}

	ep.Secret = secret.String
	ep.EventTypes = []string(eventTypes)
	ep.LastSuccessAt = timePtr(lastSuccess)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &ep.CustomHeaders); err != nil {
			return nil, fmt.Errorf("corrupt custom headers on endpoint %s: %w", ep.ID, err)
		}
	}
	return &ep, nil
}

// Response bodies are stored as a prefix only.
const maxStoredBody = 512

func truncateBody(body string) string {
	if len(body) > maxStoredBody {
		return body[:maxStoredBody]
	}
	return body
}
