package main

import (
	"context"
	"errors"

	"github.com/complianceai/certpipe/pkg/contracts"
	"github.com/complianceai/certpipe/pkg/queue"
)

// errLiteMode is returned by every Postgres-backed surface in lite mode.
var errLiteMode = errors.New("not available without DATABASE_URL")

type liteJobs struct{}

func (liteJobs) Create(context.Context, *contracts.IngestionJob) (string, error) {
	return "", errLiteMode
}

func (liteJobs) Get(context.Context, string) (*contracts.IngestionJob, error) {
	return nil, errLiteMode
}

type liteCerts struct{}

func (liteCerts) Get(context.Context, string) (*contracts.Certificate, error) {
	return nil, errLiteMode
}

func (liteCerts) ApproveReview(context.Context, string) error { return errLiteMode }

type liteActions struct{}

func (liteActions) ListByCertificate(context.Context, string) ([]*contracts.RemedialAction, error) {
	return nil, errLiteMode
}

func (liteActions) UpdateStatus(context.Context, string, contracts.ActionStatus, string, *int64) error {
	return errLiteMode
}

type liteQueue struct{}

func (liteQueue) Stats(context.Context) ([]queue.QueueStats, error) { return nil, errLiteMode }

func (liteQueue) FailedJobs(context.Context, string, int) ([]*queue.Job, error) {
	return nil, errLiteMode
}

func (liteQueue) Resurrect(context.Context, string) error { return errLiteMode }
