// Package processing hands accepted jobs to the external video pipeline.
package processing

import (
	"context"
	"fmt"
	"sync"

	"coursepipe/internal/domain"
	"coursepipe/internal/infra"
	"coursepipe/internal/sqlinline"
)

// Trigger enqueues a job for processing. Implementations must tolerate the
// same job being enqueued twice; the pipeline dedupes on job id.
type Trigger interface {
	Enqueue(ctx context.Context, jobID string, options domain.JobOptions) error
}

// QueueTrigger inserts into processing_queue and notifies listeners on the
// processing_jobs channel.
type QueueTrigger struct {
	sql    infra.SQLExecutor
	logger infra.Logger
}

func NewQueueTrigger(sql infra.SQLExecutor, logger infra.Logger) *QueueTrigger {
	return &QueueTrigger{sql: sql, logger: logger}
}

func (t *QueueTrigger) Enqueue(ctx context.Context, jobID string, options domain.JobOptions) error {
	if _, err := t.sql.Exec(ctx, sqlinline.QEnqueueProcessing, jobID, domain.MarshalOptions(options)); err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	t.logger.Info().Str("job_id", jobID).Msg("processing: job enqueued")
	return nil
}

// Enqueued is one recorded hand-off.
type Enqueued struct {
	JobID   string
	Options domain.JobOptions
}

// MemoryQueue records hand-offs in memory. It backs the memory store driver,
// where no pipeline is attached.
type MemoryQueue struct {
	mu    sync.Mutex
	items []Enqueued
	err   error
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// FailWith makes subsequent Enqueue calls return err.
func (q *MemoryQueue) FailWith(err error) {
	q.mu.Lock()
	q.err = err
	q.mu.Unlock()
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string, options domain.JobOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, Enqueued{JobID: jobID, Options: options})
	return nil
}

// Items returns a copy of everything enqueued so far.
func (q *MemoryQueue) Items() []Enqueued {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Enqueued(nil), q.items...)
}

var (
	_ Trigger = (*QueueTrigger)(nil)
	_ Trigger = (*MemoryQueue)(nil)
)
