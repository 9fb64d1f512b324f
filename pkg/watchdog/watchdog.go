// Package watchdog fails over certificates and ingestion jobs that have been
// stuck in PROCESSING for longer than the configured timeout.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/complianceai/certpipe/pkg/contracts"
	"github.com/complianceai/certpipe/pkg/queue"
)

const scheduleName = "certificate-watchdog"

// CertStore is the certificate-store slice the watchdog needs.
type CertStore interface {
	StuckProcessing(ctx context.Context, cutoff time.Time) ([]*contracts.Certificate, error)
	SetStatus(ctx context.Context, id string, status contracts.CertificateStatus, message string) error
}

// JobStore is the ingestion-job slice the watchdog needs.
type JobStore interface {
	StuckSince(ctx context.Context, cutoff time.Time) ([]*contracts.IngestionJob, error)
	Fail(ctx context.Context, id, message, details string) error
}

// Watchdog sweeps stuck work on a schedule.
type Watchdog struct {
	certs   CertStore
	jobs    JobStore
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a watchdog with the given processing timeout.
func New(certs CertStore, jobs JobStore, timeout time.Duration, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	return &Watchdog{certs: certs, jobs: jobs, timeout: timeout, logger: logger, now: time.Now}
}

// Register puts the watchdog on the queue's cron scheduler.
func Register(ctx context.Context, q *queue.Queue, intervalMinutes int) error {
	if intervalMinutes <= 0 {
		intervalMinutes = 5
	}
	return q.Schedule(ctx, scheduleName, queue.QueueCertificateWatchdog,
		fmt.Sprintf("*/%d * * * *", intervalMinutes), nil)
}

// TriggerManual enqueues an immediate sweep. The minute-bucketed singleton
// key collapses repeated triggers within the same 60-second window.
func TriggerManual(ctx context.Context, q *queue.Queue) (string, error) {
	key := "manual-watchdog-trigger:" + time.Now().UTC().Truncate(time.Minute).Format(time.RFC3339)
	return q.Send(ctx, queue.QueueCertificateWatchdog, nil, queue.WithSingletonKey(key))
}

// Handle is the queue handler for one sweep tick.
func (w *Watchdog) Handle(ctx context.Context, _ *queue.Job) error {
	return w.Sweep(ctx)
}

// Sweep fails every certificate and ingestion job whose processing started
// longer ago than the timeout. Individual failures don't stop the sweep.
func (w *Watchdog) Sweep(ctx context.Context) error {
	cutoff := w.now().Add(-w.timeout)
	message := fmt.Sprintf("processing timed out after %s", w.timeout)

	var errs []error

	certs, err := w.certs.StuckProcessing(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("query stuck certificates: %w", err))
	}
	for _, cert := range certs {
		if err := w.certs.SetStatus(ctx, cert.ID, contracts.CertStatusFailed, message); err != nil {
			errs = append(errs, fmt.Errorf("fail certificate %s: %w", cert.ID, err))
			continue
		}
		w.logger.Warn("watchdog failed stuck certificate",
			"certificate", cert.ID, "property", cert.PropertyID, "stuck_since", cert.UpdatedAt)
	}

	jobs, err := w.jobs.StuckSince(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("query stuck ingestion jobs: %w", err))
	}
	for _, job := range jobs {
		if err := w.jobs.Fail(ctx, job.ID, message, ""); err != nil {
			errs = append(errs, fmt.Errorf("fail ingestion job %s: %w", job.ID, err))
			continue
		}
		w.logger.Warn("watchdog failed stuck ingestion job",
			"job", job.ID, "status", job.Status, "stuck_since", job.UpdatedAt)
	}

	return errors.Join(errs...)
}
