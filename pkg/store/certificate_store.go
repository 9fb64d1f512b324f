package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/complianceai/certpipe/pkg/contracts"
)

// CertificateStore persists certificates.
type CertificateStore struct {
	db *sql.DB
}

const certificateColumns = `id, property_id, organisation_id, category, file_name, file_size,
	mime_type, status, certificate_number, issue_date, expiry_date, outcome,
	status_message, extracted_metadata, review_approved_at, created_at, updated_at`

// Create inserts a certificate in UPLOADED state.
func (s *CertificateStore) Create(ctx context.Context, cert *contracts.Certificate) (string, error) {
	if cert.ID == "" {
		cert.ID = newID()
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO certificates (id, property_id, organisation_id, category, file_name,
			file_size, mime_type, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'UPLOADED', $8, $8)
	`, cert.ID, cert.PropertyID, cert.OrganisationID, cert.Category, cert.FileName,
		cert.FileSize, cert.MimeType, now)
	if err != nil {
		return "", fmt.Errorf("insert certificate: %w", err)
	}
	return cert.ID, nil
}

// Get loads one certificate.
func (s *CertificateStore) Get(ctx context.Context, id string) (*contracts.Certificate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE id = $1`, id)
	return scanCertificate(row)
}

// SetStatus moves the certificate lifecycle forward with an optional message.
func (s *CertificateStore) SetStatus(ctx context.Context, id string, status contracts.CertificateStatus, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE certificates SET status = $1, status_message = $2, updated_at = $3 WHERE id = $4
	`, status, nullStr(message), time.Now(), id)
	if err != nil {
		return fmt.Errorf("set certificate %s status: %w", id, err)
	}
	return nil
}

// ApplyExtraction writes the fields lifted from the document onto the
// certificate. The outcome guard refuses to flip an UNSATISFACTORY verdict
// back to SATISFACTORY once a human review has approved the certificate.
func (s *CertificateStore) ApplyExtraction(ctx context.Context, id string, cert *contracts.Certificate) error {
	query := `
		UPDATE certificates
		SET status = $1,
			certificate_number = $2,
			issue_date = $3,
			expiry_date = $4,
			outcome = CASE
				WHEN outcome = 'UNSATISFACTORY' AND review_approved_at IS NOT NULL AND $5 = 'SATISFACTORY'
					THEN outcome
				ELSE $5
			END,
			extracted_metadata = $6,
			status_message = $7,
			updated_at = $8
		WHERE id = $9
	`
	var outcome any
	if cert.Outcome != nil {
		outcome = string(*cert.Outcome)
	}
	_, err := s.db.ExecContext(ctx, query,
		cert.Status, nullStr(cert.CertificateNumber), nullTime(cert.IssueDate),
		nullTime(cert.ExpiryDate), outcome, []byte(cert.ExtractedMetadata),
		nullStr(cert.StatusMessage), time.Now(), id)
	if err != nil {
		return fmt.Errorf("apply extraction to certificate %s: %w", id, err)
	}
	return nil
}

// StuckProcessing lists certificates still in PROCESSING whose last update
// is older than the cutoff; the watchdog marks these failed.
func (s *CertificateStore) StuckProcessing(ctx context.Context, cutoff time.Time) ([]*contracts.Certificate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+certificateColumns+`
		FROM certificates
		WHERE status = 'PROCESSING' AND updated_at < $1
		ORDER BY updated_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stuck certificates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cert)
	}
	return out, rows.Err()
}

// ApproveReview stamps a human approval on the certificate.
func (s *CertificateStore) ApproveReview(ctx context.Context, id string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE certificates SET status = 'APPROVED', review_approved_at = $1, updated_at = $1 WHERE id = $2
	`, now, id)
	if err != nil {
		return fmt.Errorf("approve certificate %s: %w", id, err)
	}
	return nil
}

// FindByIngestion returns the certificate pinned to an ingestion job, if any.
func (s *CertificateStore) FindByIngestion(ctx context.Context, ingestionID string) (*contracts.Certificate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+certificateColumns+`
		FROM certificates c
		WHERE c.id = (SELECT certificate_id FROM ingestion_jobs WHERE id = $1)
	`, ingestionID)
	return scanCertificate(row)
}

func scanCertificate(row rowScanner) (*contracts.Certificate, error) {
	var cert contracts.Certificate
	var certNumber, statusMessage, outcome sql.NullString
	var issueDate, expiryDate, reviewApprovedAt sql.NullTime
	var metadata []byte

	err := row.Scan(&cert.ID, &cert.PropertyID, &cert.OrganisationID, &cert.Category,
		&cert.FileName, &cert.FileSize, &cert.MimeType, &cert.Status, &certNumber,
		&issueDate, &expiryDate, &outcome, &statusMessage, &metadata,
		&reviewApprovedAt, &cert.CreatedAt, &cert.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan certificate: %w", err)
	}

	cert.CertificateNumber = certNumber.String
	cert.StatusMessage = statusMessage.String
	cert.IssueDate = timePtr(issueDate)
	cert.ExpiryDate = timePtr(expiryDate)
	cert.ReviewApprovedAt = timePtr(reviewApprovedAt)
	if outcome.Valid {
		o := contracts.Outcome(outcome.String)
		cert.Outcome = &o
	}
	if len(metadata) > 0 {
		cert.ExtractedMetadata = json.RawMessage(metadata)
	}
	return &cert, nil
}
