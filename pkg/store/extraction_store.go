package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/complianceai/certpipe/pkg/contracts"
)

// ExtractionStore persists extractions, extraction runs and their per-tier
// audit rows.
type ExtractionStore struct {
	db *sql.DB
}

// SaveExtraction upserts the certificate's structured output. One extraction
// per certificate; re-runs replace the previous data.
func (s *ExtractionStore) SaveExtraction(ctx context.Context, ex *contracts.Extraction) (string, error) {
	if ex.ID == "" {
		ex.ID = newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extractions (id, certificate_id, method, model, prompt_version,
			data, confidence, text_quality, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (certificate_id) DO UPDATE SET
			method = EXCLUDED.method,
			model = EXCLUDED.model,
			prompt_version = EXCLUDED.prompt_version,
			data = EXCLUDED.data,
			confidence = EXCLUDED.confidence,
			text_quality = EXCLUDED.text_quality
	`, ex.ID, ex.CertificateID, ex.Method, nullStr(ex.Model), nullStr(ex.PromptVersion),
		[]byte(ex.Data), ex.Confidence, nullStr(ex.TextQuality), time.Now())
	if err != nil {
		return "", fmt.Errorf("save extraction for %s: %w", ex.CertificateID, err)
	}
	return ex.ID, nil
}

// SaveRun writes the run row and its audit trail in one transaction, keeping
// audit rows strictly in tier order.
func (s *ExtractionStore) SaveRun(ctx context.Context, run *contracts.ExtractionRun, audits []contracts.ExtractionTierAudit) (string, error) {
	if run.ID == "" {
		run.ID = newID()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin run tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO extraction_runs (id, certificate_id, document_type,
			classification_confidence, raw_output, validated_output, normalised_output,
			final_tier, final_tier_name, processing_time_ms, processing_cost,
			validation_passed, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, run.ID, run.CertificateID, nullStr(run.DocumentType), run.ClassificationConfidence,
		[]byte(run.RawOutput), []byte(run.ValidatedOutput), []byte(run.NormalisedOutput),
		run.FinalTier, run.FinalTierName, run.ProcessingTimeMs, run.ProcessingCost,
		run.ValidationPassed, run.Status, time.Now())
	if err != nil {
		return "", fmt.Errorf("insert extraction run: %w", err)
	}

	for _, a := range audits {
		id := a.ID
		if id == "" {
			id = newID()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO extraction_tier_audits (id, run_id, tier_name, tier_order,
				attempted_at, completed_at, processing_time_ms, status, confidence,
				cost, field_count, escalation_reason, page_count, raw_output)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, id, run.ID, a.TierName, a.TierOrder, a.AttemptedAt, nullTime(a.CompletedAt),
			a.ProcessingTimeMs, a.Status, a.Confidence, a.Cost, a.FieldCount,
			nullStr(a.EscalationReason), a.PageCount, []byte(a.RawOutput))
		if err != nil {
			return "", fmt.Errorf("insert tier audit %s: %w", a.TierName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run tx: %w", err)
	}
	return run.ID, nil
}

// RunsForCertificate lists runs newest-first.
func (s *ExtractionStore) RunsForCertificate(ctx context.Context, certificateID string) ([]*contracts.ExtractionRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, certificate_id, document_type, classification_confidence,
			final_tier, final_tier_name, processing_time_ms, processing_cost,
			validation_passed, status, created_at
		FROM extraction_runs
		WHERE certificate_id = $1
		ORDER BY created_at DESC
	`, certificateID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []*contracts.ExtractionRun
	for rows.Next() {
		var run contracts.ExtractionRun
		var docType sql.NullString
		if err := rows.Scan(&run.ID, &run.CertificateID, &docType,
			&run.ClassificationConfidence, &run.FinalTier, &run.FinalTierName,
			&run.ProcessingTimeMs, &run.ProcessingCost, &run.ValidationPassed,
			&run.Status, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan extraction run: %w", err)
		}
		run.DocumentType = docType.String
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// AuditsForRun lists audit rows in tier order.
func (s *ExtractionStore) AuditsForRun(ctx context.Context, runID string) ([]contracts.ExtractionTierAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, tier_name, tier_order, attempted_at, completed_at,
			processing_time_ms, status, confidence, cost, field_count,
			escalation_reason, page_count
		FROM extraction_tier_audits
		WHERE run_id = $1
		ORDER BY tier_order ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var audits []contracts.ExtractionTierAudit
	for rows.Next() {
		var a contracts.ExtractionTierAudit
		var completed sql.NullTime
		var reason sql.NullString
		if err := rows.Scan(&a.ID, &a.RunID, &a.TierName, &a.TierOrder, &a.AttemptedAt,
			&completed, &a.ProcessingTimeMs, &a.Status, &a.Confidence, &a.Cost,
			&a.FieldCount, &reason, &a.PageCount); err != nil {
			return nil, fmt.Errorf("scan tier audit: %w", err)
		}
		a.CompletedAt = timePtr(completed)
		a.EscalationReason = reason.String
		audits = append(audits, a)
	}
	return audits, rows.Err()
}
