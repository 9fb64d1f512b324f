package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/complianceai/certpipe/pkg/contracts"
)

// LiteStore is the sqlite-backed subset used when no DATABASE_URL is
// configured: factory settings and the inbound webhook log, enough to run
// the HTTP surface and replay tooling against a local file.
type LiteStore struct {
	db *sql.DB
}

// OpenLite opens (and initialises) the local sqlite database.
func OpenLite(path string) (*LiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS factory_settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS incoming_webhook_logs (
		id            TEXT PRIMARY KEY,
		source        TEXT NOT NULL,
		event_type    TEXT NOT NULL,
		payload       TEXT NOT NULL,
		headers       TEXT,
		processed     INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		received_at   TIMESTAMP NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &LiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *LiteStore) Close() error { return s.db.Close() }

// Snapshot mirrors SettingsStore.Snapshot.
func (s *LiteStore) Snapshot(ctx context.Context) (SettingsSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM factory_settings`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	snap := SettingsSnapshot{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		snap[k] = v
	}
	return snap, rows.Err()
}

// Put upserts one setting.
func (s *LiteStore) Put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO factory_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	return err
}

// LogIncoming persists an inbound integration body.
func (s *LiteStore) LogIncoming(ctx context.Context, log *contracts.IncomingWebhookLog) (string, error) {
	if log.ID == "" {
		log.ID = newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incoming_webhook_logs (id, source, event_type, payload, headers, processed, error_message, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, log.ID, log.Source, log.EventType, string(log.Payload), string(log.Headers),
		log.Processed, log.ErrorMessage, time.Now())
	if err != nil {
		return "", fmt.Errorf("log incoming webhook: %w", err)
	}
	return log.ID, nil
}

// Unprocessed lists inbound rows awaiting handling.
func (s *LiteStore) Unprocessed(ctx context.Context, limit int) ([]*contracts.IncomingWebhookLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, event_type, payload, headers, processed, error_message, received_at
		FROM incoming_webhook_logs
		WHERE processed = 0
		ORDER BY received_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.IncomingWebhookLog
	for rows.Next() {
		var log contracts.IncomingWebhookLog
		var payload, headers, errMsg sql.NullString
		if err := rows.Scan(&log.ID, &log.Source, &log.EventType, &payload, &headers,
			&log.Processed, &errMsg, &log.ReceivedAt); err != nil {
			return nil, err
		}
		log.Payload = json.RawMessage(payload.String)
		if headers.Valid {
			log.Headers = json.RawMessage(headers.String)
		}
		log.ErrorMessage = errMsg.String
		out = append(out, &log)
	}
	return out, rows.Err()
}

// MarkIncomingProcessed mirrors WebhookStore.MarkIncomingProcessed.
func (s *LiteStore) MarkIncomingProcessed(ctx context.Context, id, errorMessage string) error {
	var errCol any
	if errorMessage != "" {
		errCol = errorMessage
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE incoming_webhook_logs SET processed = 1, error_message = ?
		WHERE id = ?
	`, errCol, id)
	if err != nil {
		return fmt.Errorf("mark incoming webhook processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
