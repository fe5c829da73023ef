package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidtube/internal/store"
)

type fakeDelivery struct {
	data      []byte
	delivered uint64
	acked     bool
	termed    bool
	nakDelay  time.Duration
}

func (f *fakeDelivery) Data() []byte { return f.data }

func (f *fakeDelivery) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: f.delivered}, nil
}

func (f *fakeDelivery) Ack() error {
	f.acked = true
	return nil
}

func (f *fakeDelivery) Term() error {
	f.termed = true
	return nil
}

func (f *fakeDelivery) NakWithDelay(delay time.Duration) error {
	f.nakDelay = delay
	return nil
}

func encode(t *testing.T, p Payload) []byte {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return data
}

func TestWorkerAcksSuccessfulRun(t *testing.T) {
	h := newHarness()
	w := NewWorker(nil, h.engine, 3)
	msg := &fakeDelivery{data: encode(t, Payload{RunID: runID, Workflow: Title, UserID: ownerID, VideoID: videoID}), delivered: 1}

	w.handle(context.Background(), msg)
	assert.True(t, msg.acked)
	assert.False(t, msg.termed)
}

func TestWorkerTerminatesMalformedPayload(t *testing.T) {
	h := newHarness()
	w := NewWorker(nil, h.engine, 3)
	msg := &fakeDelivery{data: []byte(`{"workflow":"title"`), delivered: 1}

	w.handle(context.Background(), msg)
	assert.True(t, msg.termed)
}

func TestWorkerNaksTransientFailureUntilMaxDeliver(t *testing.T) {
	h := newHarness()
	h.videos.updateErr = []error{errors.New("db down"), errors.New("db down")}
	w := NewWorker(nil, h.engine, 2)
	data := encode(t, Payload{RunID: runID, Workflow: Title, UserID: ownerID, VideoID: videoID})

	first := &fakeDelivery{data: data, delivered: 1}
	w.handle(context.Background(), first)
	assert.False(t, first.acked)
	assert.Equal(t, 5*time.Second, first.nakDelay)

	second := &fakeDelivery{data: data, delivered: 2}
	w.handle(context.Background(), second)
	assert.True(t, second.termed)
}

func TestRedeliveryDelay(t *testing.T) {
	assert.Equal(t, 5*time.Second, redeliveryDelay(1))
	assert.Equal(t, 10*time.Second, redeliveryDelay(2))
	assert.Equal(t, 40*time.Second, redeliveryDelay(4))
	assert.Equal(t, 5*time.Minute, redeliveryDelay(20))
}

func TestLocalQueueRunsEnqueuedWorkflow(t *testing.T) {
	h := newHarness()
	done := make(chan struct{})
	h.engine.deps.OnVideoUpdated = func(context.Context, store.Video) { close(done) }

	q := NewLocalQueue(h.engine, 1, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	id, err := q.Enqueue(ctx, Payload{Workflow: Description, UserID: ownerID, VideoID: videoID})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workflow did not run")
	}
}

func TestLocalQueueRejectsInvalidPayload(t *testing.T) {
	q := NewLocalQueue(newHarness().engine, 1, 1)
	_, err := q.Enqueue(context.Background(), Payload{Workflow: "nope"})
	assert.Error(t, err)
}

type failingFetcher struct {
	calls int
}

func (f *failingFetcher) Fetch(int, ...jetstream.FetchOpt) (jetstream.MessageBatch, error) {
	f.calls++
	return nil, errors.New("nats: connection closed")
}

func TestWorkerBacksOffWhenFetchFails(t *testing.T) {
	w := NewWorker(nil, newHarness().engine, 3)
	w.fetchBackoff = 40 * time.Millisecond
	consumer := &failingFetcher{}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w.consume(ctx, consumer)

	// Pauses of 40ms, 80ms and 160ms allow about three fetches.
	assert.GreaterOrEqual(t, consumer.calls, 1)
	assert.LessOrEqual(t, consumer.calls, 4)
}

func TestFetchBackoffDoublesToCap(t *testing.T) {
	w := NewWorker(nil, newHarness().engine, 3)
	assert.Equal(t, time.Second, w.backoff(1))
	assert.Equal(t, 4*time.Second, w.backoff(3))
	assert.Equal(t, maxFetchBackoff, w.backoff(20))
}
