// Package store is the PostgreSQL persistence layer for the ingestion
// pipeline. All stores take a *sql.DB and use plain parameterised queries;
// the schema lives in migrations/ and is applied with goose at start-up.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrStaleTransition is returned when a conditional status update matched no
// row, meaning another worker already moved the entity on.
var ErrStaleTransition = errors.New("store: stale status transition")

// Stores bundles every table-level store over one connection pool.
type Stores struct {
	Ingestions   *IngestionStore
	Certificates *CertificateStore
	Extractions  *ExtractionStore
	Actions      *ActionStore
	Properties   *PropertyStore
	Rulebook     *RulebookStore
	Settings     *SettingsStore
	Webhooks     *WebhookStore
	db           *sql.DB
}

// New wires the stores over a shared pool.
func New(db *sql.DB) *Stores {
	return &Stores{
		Ingestions:   &IngestionStore{db: db},
		Certificates: &CertificateStore{db: db},
		Extractions:  &ExtractionStore{db: db},
		Actions:      &ActionStore{db: db},
		Properties:   &PropertyStore{db: db},
		Rulebook:     &RulebookStore{db: db},
		Settings:     &SettingsStore{db: db},
		Webhooks:     &WebhookStore{db: db},
		db:           db,
	}
}

// WithinTx runs fn inside a transaction, rolling back on error.
func (s *Stores) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func newID() string { return uuid.NewString() }

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
