package queue

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendSingletonConflictReturnsEmptyID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`INSERT INTO queue_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	q := New(db, nil)
	id, err := q.Send(context.Background(), QueueCertificateIngestion,
		map[string]string{"ingestionJobId": "job-1"},
		WithSingletonKey("ingest:job-1"))
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSendReturnsJobID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`INSERT INTO queue_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	q := New(db, nil)
	id, err := q.Send(context.Background(), QueueWebhookDelivery, map[string]string{"deliveryId": "d-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestClaimReturnsNilWhenQueueEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`UPDATE queue_jobs`).
		WithArgs(QueueCertificateIngestion).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload", "retry_count", "retry_limit", "retry_delay_s"}))

	q := New(db, nil)
	job, err := q.claim(context.Background(), QueueCertificateIngestion)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClaimCarriesRetryDelay(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`UPDATE queue_jobs`).
		WithArgs(QueueWebhookDelivery).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload", "retry_count", "retry_limit", "retry_delay_s"}).
			AddRow("j-9", []byte(`{}`), 1, 5, 120))

	q := New(db, nil)
	job, err := q.claim(context.Background(), QueueWebhookDelivery)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 120*time.Second, job.RetryDelay)
}

func TestDispatchRetriesThenDeadLetters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	// First failure requeues with backoff; final attempt dead-letters.
	mock.ExpectExec(`SET state = 'created'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET state = 'failed'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	q := New(db, nil)
	failing := workerSpec{queue: "q", handler: func(context.Context, *Job) error {
		return assert.AnError
	}}

	q.dispatch(context.Background(), failing, &Job{ID: "j-1", Queue: "q", RetryCount: 0, RetryLimit: 3})
	q.dispatch(context.Background(), failing, &Job{ID: "j-1", Queue: "q", RetryCount: 3, RetryLimit: 3})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchRecoversPanickingHandler(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`SET state = 'created'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	q := New(db, nil)
	spec := workerSpec{queue: "q", handler: func(context.Context, *Job) error {
		panic("boom")
	}}

	assert.NotPanics(t, func() {
		q.dispatch(context.Background(), spec, &Job{ID: "j-2", Queue: "q", RetryLimit: 3})
	})
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, 30*time.Second, backoff(0, 30*time.Second))
	assert.Equal(t, 60*time.Second, backoff(1, 30*time.Second))
	assert.Equal(t, 240*time.Second, backoff(3, 30*time.Second))
	assert.Equal(t, 10*time.Minute, backoff(10, 30*time.Second))
}

func TestBackoffHonoursPerJobDelay(t *testing.T) {
	assert.Equal(t, 10*time.Second, backoff(0, 10*time.Second))
	assert.Equal(t, 40*time.Second, backoff(2, 10*time.Second))
	// Missing delay (legacy rows) falls back to the thirty-second base.
	assert.Equal(t, 30*time.Second, backoff(0, 0))
	assert.Equal(t, 10*time.Minute, backoff(12, 10*time.Second))
}

func TestTuneOverridesSendDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	// retry_limit and retry_delay_s come from the tuned settings.
	mock.ExpectExec(`INSERT INTO queue_jobs`).
		WithArgs(sqlmock.AnyArg(), QueueCertificateIngestion, sqlmock.AnyArg(), nil,
			5, 45, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	q := New(db, nil)
	q.Tune(Tunables{RetryLimit: 5, RetryDelay: 45 * time.Second, DeleteAfter: 48 * time.Hour})

	_, err = q.Send(context.Background(), QueueCertificateIngestion, map[string]string{"ingestionJobId": "job-1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTuneIgnoresZeroFields(t *testing.T) {
	q := New(nil, nil)
	q.Tune(Tunables{RetryLimit: 7})

	assert.Equal(t, 7, q.tunables.RetryLimit)
	assert.Equal(t, 30*time.Second, q.tunables.RetryDelay)
	assert.Equal(t, 7*24*time.Hour, q.tunables.ArchiveFailedAfter)
	assert.Equal(t, 30*24*time.Hour, q.tunables.DeleteAfter)
}
