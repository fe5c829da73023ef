package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"vidtube/internal/retry"
)

const (
	StreamName    = "VIDTUBE_WORKFLOWS"
	ConsumerName  = "vidtube-workflow-worker"
	subjectPrefix = "workflows."
)

func Subject(workflow string) string {
	return subjectPrefix + workflow
}

// EnsureStream creates the work-queue stream the publisher and worker share.
func EnsureStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{subjectPrefix + ">"},
		Retention:  jetstream.WorkQueuePolicy,
		MaxAge:     24 * time.Hour,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}
	return stream, nil
}

type Publisher struct {
	js jetstream.JetStream
}

func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// Enqueue publishes the run. The run id doubles as the message id, so a
// retried publish is deduplicated by the server.
func (p *Publisher) Enqueue(ctx context.Context, payload Payload) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode workflow payload: %w", err)
	}
	if _, err := p.js.Publish(ctx, Subject(payload.Workflow), data, jetstream.WithMsgID(payload.RunID)); err != nil {
		return "", fmt.Errorf("publish workflow %s: %w", payload.Workflow, err)
	}
	return payload.RunID, nil
}

// delivery is the part of jetstream.Msg the worker acknowledges through.
type delivery interface {
	Data() []byte
	Metadata() (*jetstream.MsgMetadata, error)
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

type Worker struct {
	js         jetstream.JetStream
	engine     *Engine
	maxDeliver int
	// fetchBackoff is the first pause after a failed fetch. It doubles per
	// consecutive failure up to maxFetchBackoff.
	fetchBackoff time.Duration
	logger       *slog.Logger
}

const maxFetchBackoff = 30 * time.Second

func NewWorker(js jetstream.JetStream, engine *Engine, maxDeliver int) *Worker {
	if maxDeliver < 1 {
		maxDeliver = 1
	}
	return &Worker{
		js:           js,
		engine:       engine,
		maxDeliver:   maxDeliver,
		fetchBackoff: time.Second,
		logger:       slog.Default().With("component", "workflow-worker"),
	}
}

// fetcher is the part of jetstream.Consumer the worker pulls from.
type fetcher interface {
	Fetch(batch int, opts ...jetstream.FetchOpt) (jetstream.MessageBatch, error)
}

// Run consumes runs until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	stream, err := EnsureStream(ctx, w.js)
	if err != nil {
		return err
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		FilterSubject: subjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		// Long enough for an image generation plus upload.
		AckWait:    5 * time.Minute,
		MaxDeliver: w.maxDeliver,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	w.logger.Info("workflow worker started", "stream", StreamName, "consumer", ConsumerName, "max_deliver", w.maxDeliver)
	w.consume(ctx, consumer)
	return nil
}

func (w *Worker) consume(ctx context.Context, consumer fetcher) {
	failures := 0
	for ctx.Err() == nil {
		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			delay := w.backoff(failures)
			w.logger.Warn("fetch failed", "error", err, "attempt", failures, "retry_in", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		failures = 0
		for msg := range msgs.Messages() {
			w.handle(ctx, msg)
		}
		if err := msgs.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, nats.ErrTimeout) {
			w.logger.Warn("message fetch error", "error", err)
		}
	}
}

func (w *Worker) backoff(failures int) time.Duration {
	delay := w.fetchBackoff
	for i := 1; i < failures && delay < maxFetchBackoff; i++ {
		delay *= 2
	}
	return min(delay, maxFetchBackoff)
}

func (w *Worker) handle(ctx context.Context, msg delivery) {
	payload, err := DecodePayload(msg.Data())
	if err != nil {
		w.logger.Error("dropping malformed workflow message", "error", err)
		w.settle(msg.Term())
		return
	}

	err = w.engine.Execute(ctx, payload)
	switch {
	case err == nil:
		w.settle(msg.Ack())
	case retry.IsFatal(err):
		w.settle(msg.Term())
	default:
		var delivered uint64 = 1
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			delivered = meta.NumDelivered
		}
		if delivered >= uint64(w.maxDeliver) {
			w.logger.Error("workflow gave up", "workflow", payload.Workflow, "run_id", payload.RunID, "deliveries", delivered, "error", err)
			w.engine.Abandon(ctx, payload.RunID)
			w.settle(msg.Term())
			return
		}
		w.settle(msg.NakWithDelay(redeliveryDelay(delivered)))
	}
}

func (w *Worker) settle(err error) {
	if err != nil {
		w.logger.Warn("failed to settle workflow message", "error", err)
	}
}
