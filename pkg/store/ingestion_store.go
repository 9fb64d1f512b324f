package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/complianceai/certpipe/pkg/contracts"
)

// IngestionStore persists ingestion jobs.
type IngestionStore struct {
	db *sql.DB
}

const ingestionColumns = `id, property_id, category, file_name, storage_key, mime_type,
	webhook_url, status, attempt_count, last_attempt_at, certificate_id,
	status_message, error_details, created_at, updated_at`

// Create inserts a new PENDING job and returns its id.
func (s *IngestionStore) Create(ctx context.Context, job *contracts.IngestionJob) (string, error) {
	if job.ID == "" {
		job.ID = newID()
	}
	now := time.Now()
	query := `
		INSERT INTO ingestion_jobs (id, property_id, category, file_name, storage_key,
			mime_type, webhook_url, status, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING', 0, $8, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.PropertyID, job.Category, job.FileName, nullStr(job.StorageKey),
		nullStr(job.MimeType), nullStr(job.WebhookURL), now)
	if err != nil {
		return "", fmt.Errorf("insert ingestion job: %w", err)
	}
	return job.ID, nil
}

// Get loads one job.
func (s *IngestionStore) Get(ctx context.Context, id string) (*contracts.IngestionJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ingestionColumns+` FROM ingestion_jobs WHERE id = $1`, id)
	return scanIngestion(row)
}

// Transition moves a job from one of the expected statuses to the next. It
// returns ErrStaleTransition when another worker got there first; the caller
// treats that as an idempotent no-op.
func (s *IngestionStore) Transition(ctx context.Context, id string, from []contracts.IngestionStatus, to contracts.IngestionStatus, message string) error {
	query := `
		UPDATE ingestion_jobs
		SET status = $1, status_message = $2, updated_at = $3
		WHERE id = $4 AND status = ANY($5)
	`
	res, err := s.db.ExecContext(ctx, query, to, nullStr(message), time.Now(), id, statusArray(from))
	if err != nil {
		return fmt.Errorf("transition ingestion job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleTransition
	}
	return nil
}

// MarkAttempt bumps the attempt counter and stamps the attempt time.
func (s *IngestionStore) MarkAttempt(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE ingestion_jobs
		SET attempt_count = attempt_count + 1, last_attempt_at = $1, updated_at = $1
		WHERE id = $2
		RETURNING attempt_count
	`, time.Now(), id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("mark attempt on %s: %w", id, err)
	}
	return attempts, nil
}

// PinCertificate sets certificate_id exactly once. Re-runs that pass a
// different id leave the original pin untouched.
func (s *IngestionStore) PinCertificate(ctx context.Context, id, certificateID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs
		SET certificate_id = $1, updated_at = $2
		WHERE id = $3 AND certificate_id IS NULL
	`, certificateID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("pin certificate on %s: %w", id, err)
	}
	return nil
}

// Fail records a terminal failure with diagnostics.
func (s *IngestionStore) Fail(ctx context.Context, id, message, details string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs
		SET status = 'FAILED', status_message = $1, error_details = $2, updated_at = $3
		WHERE id = $4
	`, nullStr(message), nullStr(details), time.Now(), id)
	if err != nil {
		return fmt.Errorf("fail ingestion job %s: %w", id, err)
	}
	return nil
}

// StuckSince lists jobs still PROCESSING or EXTRACTING whose last update is
// older than the cutoff. The watchdog resubmits or fails them.
func (s *IngestionStore) StuckSince(ctx context.Context, cutoff time.Time) ([]*contracts.IngestionJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ingestionColumns+`
		FROM ingestion_jobs
		WHERE status IN ('PROCESSING', 'EXTRACTING') AND updated_at < $1
		ORDER BY updated_at ASC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var jobs []*contracts.IngestionJob
	for rows.Next() {
		job, err := scanIngestion(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIngestion(row rowScanner) (*contracts.IngestionJob, error) {
	var job contracts.IngestionJob
	var storageKey, mimeType, webhookURL, certificateID, statusMessage, errorDetails sql.NullString
	var lastAttempt sql.NullTime

	err := row.Scan(&job.ID, &job.PropertyID, &job.Category, &job.FileName, &storageKey,
		&mimeType, &webhookURL, &job.Status, &job.AttemptCount, &lastAttempt,
		&certificateID, &statusMessage, &errorDetails, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ingestion job: %w", err)
	}

	job.StorageKey = storageKey.String
	job.MimeType = mimeType.String
	job.WebhookURL = webhookURL.String
	job.CertificateID = certificateID.String
	job.StatusMessage = statusMessage.String
	job.ErrorDetails = errorDetails.String
	job.LastAttemptAt = timePtr(lastAttempt)
	return &job, nil
}

// statusArray renders a status slice as a Postgres text array literal.
func statusArray(statuses []contracts.IngestionStatus) string {
	out := "{"
	for i, st := range statuses {
		if i > 0 {
			out += ","
		}
		out += string(st)
	}
	return out + "}"
}
