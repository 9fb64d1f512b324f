package watchdog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complianceai/certpipe/pkg/contracts"
)

type stubCerts struct {
	stuck     []*contracts.Certificate
	stuckErr  error
	cutoff    time.Time
	failed    []string
	statusErr error
}

func (s *stubCerts) StuckProcessing(ctx context.Context, cutoff time.Time) ([]*contracts.Certificate, error) {
	s.cutoff = cutoff
	return s.stuck, s.stuckErr
}

func (s *stubCerts) SetStatus(ctx context.Context, id string, status contracts.CertificateStatus, message string) error {
	if s.statusErr != nil {
		return s.statusErr
	}
	if status == contracts.CertStatusFailed {
		s.failed = append(s.failed, id)
	}
	return nil
}

type stubJobs struct {
	stuck  []*contracts.IngestionJob
	failed []string
}

func (s *stubJobs) StuckSince(ctx context.Context, cutoff time.Time) ([]*contracts.IngestionJob, error) {
	return s.stuck, nil
}

func (s *stubJobs) Fail(ctx context.Context, id, message, details string) error {
	s.failed = append(s.failed, id)
	return nil
}

func TestSweepFailsStuckWork(t *testing.T) {
	certs := &stubCerts{stuck: []*contracts.Certificate{{ID: "cert-1"}, {ID: "cert-2"}}}
	jobs := &stubJobs{stuck: []*contracts.IngestionJob{{ID: "job-9", Status: contracts.IngestionProcessing}}}

	w := New(certs, jobs, 20*time.Minute, nil)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	require.NoError(t, w.Sweep(context.Background()))
	assert.Equal(t, []string{"cert-1", "cert-2"}, certs.failed)
	assert.Equal(t, []string{"job-9"}, jobs.failed)
	assert.Equal(t, now.Add(-20*time.Minute), certs.cutoff)
}

func TestSweepContinuesPastIndividualFailures(t *testing.T) {
	certs := &stubCerts{
		stuck:     []*contracts.Certificate{{ID: "cert-1"}},
		statusErr: errors.New("db down"),
	}
	jobs := &stubJobs{stuck: []*contracts.IngestionJob{{ID: "job-9"}}}

	w := New(certs, jobs, 20*time.Minute, nil)
	err := w.Sweep(context.Background())
	require.Error(t, err)
	// Job sweep still ran despite the certificate failure.
	assert.Equal(t, []string{"job-9"}, jobs.failed)
}

func TestSweepSurfacesQueryError(t *testing.T) {
	certs := &stubCerts{stuckErr: errors.New("timeout")}
	jobs := &stubJobs{}

	w := New(certs, jobs, 0, nil)
	assert.Equal(t, 20*time.Minute, w.timeout)
	require.Error(t, w.Sweep(context.Background()))
}

func TestSweepNothingStuckIsClean(t *testing.T) {
	w := New(&stubCerts{}, &stubJobs{}, time.Minute, nil)
	require.NoError(t, w.Sweep(context.Background()))
}
