package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"vidtube/internal/retry"
)

// Queue accepts workflow runs for asynchronous execution and returns the run
// id.
type Queue interface {
	Enqueue(ctx context.Context, payload Payload) (string, error)
}

var ErrQueueFull = errors.New("workflow queue is full")

// LocalQueue runs workflows in-process. It is the fallback when no NATS
// server is configured; queued runs are lost on restart.
type LocalQueue struct {
	engine  *Engine
	runs    chan Payload
	retry   retry.Config
	workers int
	wg      sync.WaitGroup
}

func NewLocalQueue(engine *Engine, workers, maxAttempts int) *LocalQueue {
	if workers < 1 {
		workers = 1
	}
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = maxAttempts
	return &LocalQueue{
		engine:  engine,
		runs:    make(chan Payload, 256),
		retry:   cfg,
		workers: workers,
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, payload Payload) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", err
	}
	select {
	case q.runs <- payload:
		return payload.RunID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		return "", ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is done and in-flight runs
// have returned.
func (q *LocalQueue) Run(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case payload := <-q.runs:
					q.execute(ctx, payload)
				}
			}
		}()
	}
	q.wg.Wait()
}

func (q *LocalQueue) execute(ctx context.Context, payload Payload) {
	err := retry.Do(ctx, q.retry, func(ctx context.Context) error {
		err := q.engine.Execute(ctx, payload)
		if err != nil && !retry.IsFatal(err) {
			return retry.Transient(err)
		}
		return err
	})
	if err != nil {
		slog.Error("workflow abandoned", "workflow", payload.Workflow, "run_id", payload.RunID, "error", err)
		q.engine.Abandon(ctx, payload.RunID)
	}
}

// redeliveryDelay backs off redeliveries of a failed run: 5s, 10s, 20s, ...
// capped at 5 minutes.
func redeliveryDelay(delivered uint64) time.Duration {
	delay := 5 * time.Second
	for i := uint64(1); i < delivered && delay < 5*time.Minute; i++ {
		delay *= 2
	}
	if delay > 5*time.Minute {
		delay = 5 * time.Minute
	}
	return delay
}
