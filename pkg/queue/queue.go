// Package queue is a PostgreSQL-backed job queue: durable jobs with retry
// and backoff, singleton keys, cron schedules, and periodic archival. Jobs
// are claimed with FOR UPDATE SKIP LOCKED so workers never double-dispatch.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Queue names used by the pipeline.
const (
	QueueCertificateIngestion = "certificate-ingestion"
	QueueWebhookDelivery      = "webhook-delivery"
	QueueRateLimitCleanup     = "rate-limit-cleanup"
	QueueCertificateWatchdog  = "certificate-watchdog"
	QueueReportingRefresh     = "reporting-refresh"
	QueueScheduledReport      = "scheduled-report"
	QueuePatternAnalysis      = "pattern-analysis"
	QueueMVRefresh            = "mv-refresh"
)

// Worker counts per queue.
const (
	IngestionWorkers = 3
	DeliveryWorkers  = 5
)

// Job is one claimed unit of work.
type Job struct {
	ID         string
	Queue      string
	Payload    json.RawMessage
	RetryCount int
	RetryLimit int
	RetryDelay time.Duration
}

// Tunables are the operator-adjustable queue knobs, normally sourced from
// the factory settings table at startup.
type Tunables struct {
	// RetryLimit is the default retry limit for Send.
	RetryLimit int
	// RetryDelay is the default base backoff delay for Send.
	RetryDelay time.Duration
	// ArchiveFailedAfter is how long dead-lettered jobs stay queryable.
	ArchiveFailedAfter time.Duration
	// DeleteAfter is how long completed and cancelled jobs are retained.
	DeleteAfter time.Duration
}

// DefaultTunables mirrors the factory-settings defaults.
func DefaultTunables() Tunables {
	return Tunables{
		RetryLimit:         3,
		RetryDelay:         30 * time.Second,
		ArchiveFailedAfter: 7 * 24 * time.Hour,
		DeleteAfter:        30 * 24 * time.Hour,
	}
}

// Handler processes one job. A returned error triggers retry with backoff
// until the retry limit, then the job lands in the failed (dead-letter) set.
type Handler func(ctx context.Context, job *Job) error

// Queue is the manager: producers call Send, consumers register Work
// handlers, and Start spins up the pollers and the cron runner.
type Queue struct {
	db     *sql.DB
	logger *slog.Logger
	cron   *cron.Cron

	mu       sync.Mutex
	workers  []workerSpec
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	interval time.Duration
	tunables Tunables
}

type workerSpec struct {
	queue   string
	count   int
	handler Handler
}

// New creates a queue manager over the shared pool.
func New(db *sql.DB, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		db:       db,
		logger:   logger,
		cron:     cron.New(),
		interval: 2 * time.Second,
		tunables: DefaultTunables(),
	}
}

// Tune replaces the queue knobs. Zero fields keep their defaults. Call
// before Start.
func (q *Queue) Tune(t Tunables) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.RetryLimit > 0 {
		q.tunables.RetryLimit = t.RetryLimit
	}
	if t.RetryDelay > 0 {
		q.tunables.RetryDelay = t.RetryDelay
	}
	if t.ArchiveFailedAfter > 0 {
		q.tunables.ArchiveFailedAfter = t.ArchiveFailedAfter
	}
	if t.DeleteAfter > 0 {
		q.tunables.DeleteAfter = t.DeleteAfter
	}
}

// SendOption customises one Send.
type SendOption func(*sendOptions)

type sendOptions struct {
	singletonKey string
	retryLimit   int
	retryDelay   time.Duration
	startAfter   time.Time
}

// WithSingletonKey suppresses the insert while an identical key is already
// queued or running on the same queue.
func WithSingletonKey(key string) SendOption {
	return func(o *sendOptions) { o.singletonKey = key }
}

// WithRetryLimit overrides the default retry limit.
func WithRetryLimit(n int) SendOption {
	return func(o *sendOptions) { o.retryLimit = n }
}

// WithRetryDelay overrides the base retry delay.
func WithRetryDelay(d time.Duration) SendOption {
	return func(o *sendOptions) { o.retryDelay = d }
}

// WithStartAfter delays first dispatch.
func WithStartAfter(t time.Time) SendOption {
	return func(o *sendOptions) { o.startAfter = t }
}

// Send enqueues a job. Returns the job id; an empty id with nil error means
// a singleton conflict suppressed the insert.
func (q *Queue) Send(ctx context.Context, queue string, payload any, opts ...SendOption) (string, error) {
	q.mu.Lock()
	tun := q.tunables
	q.mu.Unlock()

	o := sendOptions{retryLimit: tun.RetryLimit, retryDelay: tun.RetryDelay, startAfter: time.Now()}
	for _, opt := range opts {
		opt(&o)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	id := uuid.NewString()
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO queue_jobs (id, queue, payload, singleton_key, retry_limit, retry_delay_s, start_after, keep_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`, id, queue, body, sqlNullable(o.singletonKey), o.retryLimit,
		int(o.retryDelay.Seconds()), o.startAfter, time.Now().Add(tun.DeleteAfter))
	if err != nil {
		return "", fmt.Errorf("enqueue on %s: %w", queue, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", nil
	}
	return id, nil
}

// Work registers a handler with a worker pool for a queue. Must be called
// before Start.
func (q *Queue) Work(queue string, workers int, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.workers = append(q.workers, workerSpec{queue: queue, count: workers, handler: handler})
}

// Start launches the worker pollers, the persisted cron schedules and the
// archive sweeper.
func (q *Queue) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	if err := q.loadSchedules(ctx); err != nil {
		cancel()
		return err
	}
	q.cron.Start()

	q.mu.Lock()
	specs := make([]workerSpec, len(q.workers))
	copy(specs, q.workers)
	q.mu.Unlock()

	for _, spec := range specs {
		for i := 0; i < spec.count; i++ {
			q.wg.Add(1)
			go q.poll(ctx, spec)
		}
	}

	q.wg.Add(1)
	go q.sweep(ctx)
	return nil
}

// Stop halts polling and waits for in-flight handlers.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	<-q.cron.Stop().Done()
	q.wg.Wait()
}

func (q *Queue) poll(ctx context.Context, spec workerSpec) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			job, err := q.claim(ctx, spec.queue)
			if err != nil {
				q.logger.Error("claim job failed", "queue", spec.queue, "error", err)
				break
			}
			if job == nil {
				break
			}
			q.dispatch(ctx, spec, job)
		}
	}
}

func (q *Queue) claim(ctx context.Context, queue string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE queue_jobs
		SET state = 'active', started_at = now()
		WHERE id = (
			SELECT id FROM queue_jobs
			WHERE queue = $1 AND state = 'created' AND start_after <= now()
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, payload, retry_count, retry_limit, retry_delay_s
	`, queue)

	job := &Job{Queue: queue}
	var payload []byte
	var delaySeconds int
	err := row.Scan(&job.ID, &payload, &job.RetryCount, &job.RetryLimit, &delaySeconds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	job.Payload = json.RawMessage(payload)
	job.RetryDelay = time.Duration(delaySeconds) * time.Second
	return job, nil
}

func (q *Queue) dispatch(ctx context.Context, spec workerSpec, job *Job) {
	err := func() (handlerErr error) {
		defer func() {
			if r := recover(); r != nil {
				handlerErr = fmt.Errorf("handler panicked: %v", r)
			}
		}()
		return spec.handler(ctx, job)
	}()

	if err == nil {
		if _, dbErr := q.db.ExecContext(ctx, `
			UPDATE queue_jobs SET state = 'completed', completed_at = now() WHERE id = $1
		`, job.ID); dbErr != nil {
			q.logger.Error("complete job failed", "job", job.ID, "error", dbErr)
		}
		return
	}

	q.logger.Warn("job handler failed",
		"queue", job.Queue, "job", job.ID, "attempt", job.RetryCount+1, "error", err)
	if job.RetryCount >= job.RetryLimit {
		if _, dbErr := q.db.ExecContext(ctx, `
			UPDATE queue_jobs SET state = 'failed', completed_at = now(), last_error = $1 WHERE id = $2
		`, err.Error(), job.ID); dbErr != nil {
			q.logger.Error("dead-letter job failed", "job", job.ID, "error", dbErr)
		}
		return
	}

	delay := backoff(job.RetryCount, job.RetryDelay)
	if _, dbErr := q.db.ExecContext(ctx, `
		UPDATE queue_jobs
		SET state = 'created',
			retry_count = retry_count + 1,
			start_after = now() + ($1 * interval '1 second'),
			last_error = $2
		WHERE id = $3
	`, int(delay.Seconds()), err.Error(), job.ID); dbErr != nil {
		q.logger.Error("requeue job failed", "job", job.ID, "error", dbErr)
	}
}

// backoff doubles the job's base delay per attempt, capped at ten minutes.
// A non-positive base falls back to thirty seconds.
func backoff(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		base = 30 * time.Second
	}
	d := base * time.Duration(math.Pow(2, float64(attempt)))
	if d > 10*time.Minute {
		d = 10 * time.Minute
	}
	return d
}

// sweep prunes finished jobs hourly: dead-lettered jobs after the archive
// window, completed and cancelled jobs once their retention expires.
func (q *Queue) sweep(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		q.mu.Lock()
		archiveAfter := q.tunables.ArchiveFailedAfter
		q.mu.Unlock()

		if _, err := q.db.ExecContext(ctx, `
			DELETE FROM queue_jobs
			WHERE state = 'failed' AND completed_at < now() - ($1 * interval '1 second')
		`, int(archiveAfter.Seconds())); err != nil {
			q.logger.Error("queue failed-job sweep failed", "error", err)
		}

		if _, err := q.db.ExecContext(ctx, `
			DELETE FROM queue_jobs
			WHERE state IN ('completed', 'cancelled') AND keep_until < now()
		`); err != nil {
			q.logger.Error("queue sweep failed", "error", err)
		}
	}
}

func sqlNullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
