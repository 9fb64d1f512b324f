package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/complianceai/certpipe/pkg/contracts"
	"github.com/complianceai/certpipe/pkg/queue"
	"github.com/complianceai/certpipe/pkg/store"
)

const (
	pollInterval     = 5 * time.Second
	claimBatch       = 50
	disableThreshold = 10
)

// retryLadder is the delay before attempt n+1; attempts beyond the ladder
// reuse the last rung.
var retryLadder = []time.Duration{
	time.Second, 5 * time.Second, 30 * time.Second, 2 * time.Minute, 5 * time.Minute,
}

func retryDelay(attempt int) time.Duration {
	if attempt >= len(retryLadder) {
		attempt = len(retryLadder) - 1
	}
	if attempt < 0 {
		attempt = 0
	}
	return retryLadder[attempt]
}

// deliveryJob is the queue payload for one delivery attempt.
type deliveryJob struct {
	DeliveryID string `json:"deliveryId"`
}

// Worker stages fan-out and executes delivery attempts.
type Worker struct {
	store     *store.WebhookStore
	queue     *queue.Queue
	deliverer *Deliverer
	logger    *slog.Logger
}

// NewWorker wires the webhook worker.
func NewWorker(st *store.WebhookStore, q *queue.Queue, d *Deliverer, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: st, queue: q, deliverer: d, logger: logger}
}

// Run polls for staged events and fans them out until ctx ends.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := w.fanOutBatch(ctx); err != nil {
			w.logger.Error("webhook fan-out failed", "error", err)
		}
	}
}

func (w *Worker) fanOutBatch(ctx context.Context) error {
	events, err := w.store.ClaimUnprocessed(ctx, claimBatch)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := w.fanOut(ctx, ev); err != nil {
			w.logger.Error("event fan-out failed", "event", ev.ID, "error", err)
		}
	}
	return nil
}

func (w *Worker) fanOut(ctx context.Context, ev *contracts.WebhookEvent) error {
	endpoints, err := w.store.ActiveEndpoints(ctx, ev.EventType)
	if err != nil {
		return fmt.Errorf("load endpoints for %s: %w", ev.EventType, err)
	}
	for _, ep := range endpoints {
		deliveryID, err := w.store.CreateDelivery(ctx, ev.ID, ep.ID)
		if err != nil {
			return err
		}
		if _, err := w.queue.Send(ctx, queue.QueueWebhookDelivery, deliveryJob{DeliveryID: deliveryID}); err != nil {
			return fmt.Errorf("enqueue delivery %s: %w", deliveryID, err)
		}
	}
	return nil
}

// ReplayEvent re-fans one staged event to its current subscriber set,
// creating fresh delivery rows.
func (w *Worker) ReplayEvent(ctx context.Context, eventID string) error {
	ev, err := w.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	return w.fanOut(ctx, ev)
}

// HandleDelivery is the queue handler for one delivery attempt. It returns
// nil even on endpoint failure: retry pacing is driven by the delay ladder
// through re-enqueue, not by the queue's own backoff.
func (w *Worker) HandleDelivery(ctx context.Context, job *queue.Job) error {
	var payload deliveryJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode delivery job: %w", err)
	}

	delivery, err := w.store.GetDelivery(ctx, payload.DeliveryID)
	if err != nil {
		return err
	}
	if delivery.Status == contracts.DeliverySent || delivery.Status == contracts.DeliveryFailed {
		return nil
	}

	ep, err := w.store.GetEndpoint(ctx, delivery.EndpointID)
	if err != nil {
		return err
	}
	if ep.Status != contracts.EndpointActive {
		return w.store.RecordAttempt(ctx, delivery.ID, contracts.DeliveryFailed, nil, "endpoint disabled", nil)
	}

	ev, err := w.store.GetEvent(ctx, delivery.EventID)
	if err != nil {
		return err
	}

	body, err := BuildBody(ev.EventType, delivery.ID, ev.Payload, time.Now())
	if err != nil {
		return err
	}

	attempt := w.deliverer.Deliver(ctx, ep, ev.EventType, delivery.ID, body)
	switch {
	case attempt.Success():
		if err := w.store.RecordAttempt(ctx, delivery.ID, contracts.DeliverySent, &attempt.StatusCode, attempt.ResponseBody, nil); err != nil {
			return err
		}
		return w.store.RecordEndpointSuccess(ctx, ep.ID)

	case errors.Is(attempt.Err, ErrBreakerOpen):
		// The host is cooling down; retry later without blaming the endpoint.
		return w.scheduleRetry(ctx, delivery, nil, "host circuit open")

	default:
		if _, err := w.store.RecordEndpointFailure(ctx, ep.ID, disableThreshold); err != nil {
			w.logger.Error("record endpoint failure", "endpoint", ep.ID, "error", err)
		}

		var statusPtr *int
		if attempt.StatusCode != 0 {
			statusPtr = &attempt.StatusCode
		}
		responseBody := attempt.ResponseBody
		if attempt.Err != nil {
			responseBody = attempt.Err.Error()
		}

		if delivery.AttemptCount+1 >= maxAttempts(ep) {
			return w.store.RecordAttempt(ctx, delivery.ID, contracts.DeliveryFailed, statusPtr, responseBody, nil)
		}
		return w.scheduleRetry(ctx, delivery, statusPtr, responseBody)
	}
}

func (w *Worker) scheduleRetry(ctx context.Context, delivery *contracts.WebhookDelivery, statusPtr *int, responseBody string) error {
	next := time.Now().Add(retryDelay(delivery.AttemptCount))
	if err := w.store.RecordAttempt(ctx, delivery.ID, contracts.DeliveryRetrying, statusPtr, responseBody, &next); err != nil {
		return err
	}
	_, err := w.queue.Send(ctx, queue.QueueWebhookDelivery,
		deliveryJob{DeliveryID: delivery.ID}, queue.WithStartAfter(next))
	return err
}

func maxAttempts(ep *contracts.WebhookEndpoint) int {
	if ep.RetryCount > 0 {
		return ep.RetryCount
	}
	return 5
}
