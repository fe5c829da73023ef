package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Memo remembers the JSON result of each completed step of a run. Forget
// drops a run once it can no longer be retried.
type Memo interface {
	Load(ctx context.Context, runID, step string) ([]byte, bool, error)
	Save(ctx context.Context, runID, step string, result []byte) error
	Forget(ctx context.Context, runID string) error
}

type RedisMemo struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMemo keeps step results for ttl, which must outlive the longest
// redelivery schedule.
func NewRedisMemo(client *redis.Client, ttl time.Duration) *RedisMemo {
	return &RedisMemo{client: client, prefix: "vidtube:workflow:", ttl: ttl}
}

func (m *RedisMemo) key(runID string) string {
	return m.prefix + runID
}

func (m *RedisMemo) Load(ctx context.Context, runID, step string) ([]byte, bool, error) {
	data, err := m.client.HGet(ctx, m.key(runID), step).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load step %s: %w", step, err)
	}
	return data, true, nil
}

func (m *RedisMemo) Save(ctx context.Context, runID, step string, result []byte) error {
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, m.key(runID), step, result)
	pipe.Expire(ctx, m.key(runID), m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save step %s: %w", step, err)
	}
	return nil
}

func (m *RedisMemo) Forget(ctx context.Context, runID string) error {
	if err := m.client.Del(ctx, m.key(runID)).Err(); err != nil {
		return fmt.Errorf("forget run %s: %w", runID, err)
	}
	return nil
}

// MemoryMemo is used when Redis is not configured. Results do not survive a
// restart, and runs untouched for ttl are swept on the next Save.
type MemoryMemo struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	runs map[string]*memoRun
}

type memoRun struct {
	steps   map[string][]byte
	touched time.Time
}

func NewMemoryMemo(ttl time.Duration) *MemoryMemo {
	return &MemoryMemo{ttl: ttl, now: time.Now, runs: make(map[string]*memoRun)}
}

func (m *MemoryMemo) Load(_ context.Context, runID, step string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok || m.expired(r, m.now()) {
		return nil, false, nil
	}
	data, ok := r.steps[step]
	return data, ok, nil
}

func (m *MemoryMemo) Save(_ context.Context, runID, step string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, r := range m.runs {
		if m.expired(r, now) {
			delete(m.runs, id)
		}
	}
	r, ok := m.runs[runID]
	if !ok {
		r = &memoRun{steps: make(map[string][]byte)}
		m.runs[runID] = r
	}
	r.steps[step] = result
	r.touched = now
	return nil
}

func (m *MemoryMemo) Forget(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, runID)
	return nil
}

// Len reports how many runs are held.
func (m *MemoryMemo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func (m *MemoryMemo) expired(r *memoRun, now time.Time) bool {
	return m.ttl > 0 && now.Sub(r.touched) > m.ttl
}
