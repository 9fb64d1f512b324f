package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/complianceai/certpipe/pkg/contracts"
)

// RulebookStore reads the classification-code configuration.
type RulebookStore struct {
	db *sql.DB
}

// ForCertificateType loads the rulebook rows for one canonical type code.
func (s *RulebookStore) ForCertificateType(ctx context.Context, certificateType string) ([]contracts.ClassificationCode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, certificate_type, code, severity, description, action_required,
			auto_create_action, cost_estimate_low, cost_estimate_high,
			action_severity, match_expression
		FROM classification_codes
		WHERE certificate_type = $1
		ORDER BY code ASC
	`, certificateType)
	if err != nil {
		return nil, fmt.Errorf("load classification codes for %s: %w", certificateType, err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.ClassificationCode
	for rows.Next() {
		var c contracts.ClassificationCode
		var severity, description, actionRequired, actionSeverity, matchExpression sql.NullString
		var low, high sql.NullInt64
		if err := rows.Scan(&c.ID, &c.CertificateType, &c.Code, &severity, &description,
			&actionRequired, &c.AutoCreateAction, &low, &high, &actionSeverity,
			&matchExpression); err != nil {
			return nil, fmt.Errorf("scan classification code: %w", err)
		}
		c.Severity = severity.String
		c.Description = description.String
		c.ActionRequired = actionRequired.String
		c.MatchExpression = matchExpression.String
		if low.Valid {
			v := low.Int64
			c.CostEstimateLow = &v
		}
		if high.Valid {
			v := high.Int64
			c.CostEstimateHigh = &v
		}
		if actionSeverity.Valid {
			sev := contracts.ActionSeverity(actionSeverity.String)
			c.ActionSeverity = &sev
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SettingsStore reads and writes factory settings.
type SettingsStore struct {
	db *sql.DB
}

// Setting returns the raw value for a key, or ErrNotFound.
func (s *SettingsStore) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM factory_settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load setting %s: %w", key, err)
	}
	return value, nil
}

// All returns every factory setting.
func (s *SettingsStore) All(ctx context.Context) ([]contracts.FactorySetting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM factory_settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.FactorySetting
	for rows.Next() {
		var fs contracts.FactorySetting
		if err := rows.Scan(&fs.Key, &fs.Value, &fs.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan factory setting: %w", err)
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}

// SettingsSnapshot is an in-memory copy of the factory settings, taken once
// per job so a single run sees a consistent view. Satisfies
// config.SettingsSource.
type SettingsSnapshot map[string]string

// GetSetting looks a key up in the snapshot.
func (m SettingsSnapshot) GetSetting(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Snapshot loads every setting into a map.
func (s *SettingsStore) Snapshot(ctx context.Context) (SettingsSnapshot, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	snap := make(SettingsSnapshot, len(all))
	for _, fs := range all {
		snap[fs.Key] = fs.Value
	}
	return snap, nil
}

// Put upserts one setting.
func (s *SettingsStore) Put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO factory_settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}
