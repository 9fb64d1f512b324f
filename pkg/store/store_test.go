package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complianceai/certpipe/pkg/contracts"
)

func TestIngestionTransitionStale(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`UPDATE ingestion_jobs`).
		WithArgs("EXTRACTING", sqlmock.AnyArg(), sqlmock.AnyArg(), "job-1", "{PENDING,PROCESSING}").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := &IngestionStore{db: db}
	err = s.Transition(context.Background(), "job-1",
		[]contracts.IngestionStatus{contracts.IngestionPending, contracts.IngestionProcessing},
		contracts.IngestionExtracting, "")
	assert.ErrorIs(t, err, ErrStaleTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestionPinCertificateOnlyOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	// The WHERE certificate_id IS NULL clause makes the second pin a no-op.
	mock.ExpectExec(`UPDATE ingestion_jobs`).
		WithArgs("cert-1", sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE ingestion_jobs`).
		WithArgs("cert-2", sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := &IngestionStore{db: db}
	require.NoError(t, s.PinCertificate(context.Background(), "job-1", "cert-1"))
	require.NoError(t, s.PinCertificate(context.Background(), "job-1", "cert-2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunWritesAuditsInOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO extraction_runs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO extraction_tier_audits`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO extraction_tier_audits`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := &ExtractionStore{db: db}
	now := time.Now()
	_, err = s.SaveRun(context.Background(), &contracts.ExtractionRun{
		CertificateID: "cert-1",
		FinalTier:     5,
		FinalTierName: "tier-3",
		Status:        contracts.RunApproved,
	}, []contracts.ExtractionTierAudit{
		{TierName: "tier-0", TierOrder: 0, AttemptedAt: now, Status: contracts.TierEscalated},
		{TierName: "tier-3", TierOrder: 5, AttemptedAt: now, Status: contracts.TierSuccess},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordEndpointFailureDisablesAtThreshold(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`UPDATE webhook_endpoints`).
		WithArgs(10, "ep-1").
		WillReturnRows(sqlmock.NewRows([]string{"failure_count"}).AddRow(10))

	s := &WebhookStore{db: db}
	count, err := s.RecordEndpointFailure(context.Background(), "ep-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`SELECT key, value, updated_at FROM factory_settings`).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value", "updated_at"}).
			AddRow("JOB_RETRY_LIMIT", "5", time.Now()).
			AddRow("WEBHOOK_DISABLE_THRESHOLD", "10", time.Now()))

	s := &SettingsStore{db: db}
	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)

	v, ok := snap.GetSetting("JOB_RETRY_LIMIT")
	assert.True(t, ok)
	assert.Equal(t, "5", v)
	_, ok = snap.GetSetting("MISSING")
	assert.False(t, ok)
}
