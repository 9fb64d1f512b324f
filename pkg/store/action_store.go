package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/complianceai/certpipe/pkg/contracts"
)

// ActionStore persists remedial actions.
type ActionStore struct {
	db *sql.DB
}

// CreateBatch inserts the drafts generated for one certificate. Re-running
// an ingestion replaces the open auto-generated actions rather than
// duplicating them.
func (s *ActionStore) CreateBatch(ctx context.Context, actions []*contracts.RemedialAction) error {
	if len(actions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin actions tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM remedial_actions WHERE certificate_id = $1 AND status = 'OPEN'
	`, actions[0].CertificateID)
	if err != nil {
		return fmt.Errorf("clear open actions: %w", err)
	}

	for _, a := range actions {
		if a.ID == "" {
			a.ID = newID()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO remedial_actions (id, certificate_id, property_id, code,
				description, location, severity, status, due_date, cost_estimate, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'OPEN', $8, $9, $10)
		`, a.ID, a.CertificateID, a.PropertyID, a.Code, a.Description, a.Location,
			a.Severity, a.DueDate, nullStr(a.CostEstimate), time.Now())
		if err != nil {
			return fmt.Errorf("insert remedial action %s: %w", a.Code, err)
		}
	}
	return tx.Commit()
}

// ListByCertificate returns a certificate's actions ordered by due date.
func (s *ActionStore) ListByCertificate(ctx context.Context, certificateID string) ([]*contracts.RemedialAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, certificate_id, property_id, code, description, location,
			severity, status, due_date, cost_estimate, cost_actual, notes,
			resolved_at, created_at
		FROM remedial_actions
		WHERE certificate_id = $1
		ORDER BY due_date ASC
	`, certificateID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var actions []*contracts.RemedialAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// Get loads one action.
func (s *ActionStore) Get(ctx context.Context, id string) (*contracts.RemedialAction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, certificate_id, property_id, code, description, location,
			severity, status, due_date, cost_estimate, cost_actual, notes,
			resolved_at, created_at
		FROM remedial_actions WHERE id = $1
	`, id)
	return scanAction(row)
}

// UpdateStatus moves an action through its workflow, stamping resolution
// when it completes or is cancelled.
func (s *ActionStore) UpdateStatus(ctx context.Context, id string, status contracts.ActionStatus, notes string, costActual *int64) error {
	var resolvedAt any
	if status == contracts.ActionCompleted || status == contracts.ActionCancelled {
		resolvedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE remedial_actions
		SET status = $1,
			notes = COALESCE($2, notes),
			cost_actual = COALESCE($3, cost_actual),
			resolved_at = COALESCE($4, resolved_at)
		WHERE id = $5
	`, status, nullStr(notes), costActual, resolvedAt, id)
	if err != nil {
		return fmt.Errorf("update action %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// OverdueOpen lists open actions whose due date has passed; the watchdog
// escalates them.
func (s *ActionStore) OverdueOpen(ctx context.Context, asOf time.Time) ([]*contracts.RemedialAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, certificate_id, property_id, code, description, location,
			severity, status, due_date, cost_estimate, cost_actual, notes,
			resolved_at, created_at
		FROM remedial_actions
		WHERE status IN ('OPEN', 'IN_PROGRESS') AND due_date < $1
		ORDER BY due_date ASC
	`, asOf)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var actions []*contracts.RemedialAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func scanAction(row rowScanner) (*contracts.RemedialAction, error) {
	var a contracts.RemedialAction
	var costEstimate, notes sql.NullString
	var costActual sql.NullInt64
	var resolvedAt sql.NullTime

	err := row.Scan(&a.ID, &a.CertificateID, &a.PropertyID, &a.Code, &a.Description,
		&a.Location, &a.Severity, &a.Status, &a.DueDate, &costEstimate, &costActual,
		&notes, &resolvedAt, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan remedial action: %w", err)
	}

	a.CostEstimate = costEstimate.String
	a.Notes = notes.String
	a.ResolvedAt = timePtr(resolvedAt)
	if costActual.Valid {
		v := costActual.Int64
		a.CostActual = &v
	}
	return &a, nil
}
