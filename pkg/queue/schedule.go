package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Schedule persists a cron entry and registers it with the runner. The fired
// job is a singleton on its schedule name, so overlapping runs collapse.
func (q *Queue) Schedule(ctx context.Context, name, queue, cronSpec string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal schedule payload: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO queue_schedules (name, queue, cron, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			queue = EXCLUDED.queue, cron = EXCLUDED.cron,
			payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`, name, queue, cronSpec, body, time.Now())
	if err != nil {
		return fmt.Errorf("persist schedule %s: %w", name, err)
	}
	return q.register(name, queue, cronSpec, json.RawMessage(body))
}

// Unschedule removes a cron entry. The in-memory runner drops it on the next
// restart; the persisted row goes immediately.
func (q *Queue) Unschedule(ctx context.Context, name string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM queue_schedules WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("unschedule %s: %w", name, err)
	}
	return nil
}

func (q *Queue) loadSchedules(ctx context.Context) error {
	rows, err := q.db.QueryContext(ctx,
		`SELECT name, queue, cron, payload FROM queue_schedules`)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name, queueName, cronSpec string
		var payload []byte
		if err := rows.Scan(&name, &queueName, &cronSpec, &payload); err != nil {
			return fmt.Errorf("scan schedule: %w", err)
		}
		if err := q.register(name, queueName, cronSpec, json.RawMessage(payload)); err != nil {
			q.logger.Warn("schedule rejected", "name", name, "error", err)
		}
	}
	return rows.Err()
}

func (q *Queue) register(name, queueName, cronSpec string, payload json.RawMessage) error {
	_, err := q.cron.AddFunc(cronSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := q.Send(ctx, queueName, payload, WithSingletonKey("schedule:"+name)); err != nil {
			q.logger.Error("scheduled send failed", "schedule", name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("register cron %q for %s: %w", cronSpec, name, err)
	}
	return nil
}

// QueueStats is a point-in-time per-queue state count.
type QueueStats struct {
	Queue     string `json:"queue"`
	Created   int    `json:"created"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// Stats reports state counts grouped by queue.
func (q *Queue) Stats(ctx context.Context) ([]QueueStats, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT queue,
			count(*) FILTER (WHERE state = 'created'),
			count(*) FILTER (WHERE state = 'active'),
			count(*) FILTER (WHERE state = 'completed'),
			count(*) FILTER (WHERE state = 'failed')
		FROM queue_jobs
		GROUP BY queue
		ORDER BY queue
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []QueueStats
	for rows.Next() {
		var s QueueStats
		if err := rows.Scan(&s.Queue, &s.Created, &s.Active, &s.Completed, &s.Failed); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FailedJobs lists the dead-letter set for a queue, newest first.
func (q *Queue) FailedJobs(ctx context.Context, queue string, limit int) ([]*Job, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, payload, retry_count, retry_limit
		FROM queue_jobs
		WHERE queue = $1 AND state = 'failed'
		ORDER BY completed_at DESC
		LIMIT $2
	`, queue, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Job
	for rows.Next() {
		job := &Job{Queue: queue}
		var payload []byte
		if err := rows.Scan(&job.ID, &payload, &job.RetryCount, &job.RetryLimit); err != nil {
			return nil, err
		}
		job.Payload = json.RawMessage(payload)
		out = append(out, job)
	}
	return out, rows.Err()
}

// Resurrect moves one failed job back to created with a fresh retry budget.
func (q *Queue) Resurrect(ctx context.Context, jobID string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE queue_jobs
		SET state = 'created', retry_count = 0, start_after = now(), last_error = NULL
		WHERE id = $1 AND state = 'failed'
	`, jobID)
	if err != nil {
		return fmt.Errorf("resurrect job %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s is not in the failed state", jobID)
	}
	return nil
}
