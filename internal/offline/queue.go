// Package offline holds form submissions that could not reach the backend
// and replays them once it is reachable again.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/clamflow/clamflow-bff/model"
)

// RedisKey is the hash holding queued operations, keyed by operation id.
const RedisKey = "clamflow_pending_sync"

// Queue stores pending operations.
type Queue interface {
	Enqueue(ctx context.Context, op model.Operation) error
	// List returns pending operations, oldest first.
	List(ctx context.Context) ([]model.Operation, error)
	Update(ctx context.Context, op model.Operation) error
	Remove(ctx context.Context, id string) error
	Len(ctx context.Context) (int, error)
	HealthCheck(ctx context.Context) error
}

// NewOperation builds a queued operation with a fresh op_<uuid> id.
func NewOperation(typ model.OperationType, method, endpoint string, data map[string]any, rctx *model.RequestContext, now time.Time) model.Operation {
	op := model.Operation{
		ID:         "op_" + uuid.NewString(),
		Type:       typ,
		Endpoint:   endpoint,
		Method:     method,
		Data:       data,
		Timestamp:  now.UTC(),
		MaxRetries: model.DefaultMaxRetries,
	}
	if rctx != nil {
		op.UserID = rctx.UserID
		op.SessionID = rctx.SessionID
	}
	return op
}

func sortOldestFirst(ops []model.Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if !ops[i].Timestamp.Equal(ops[j].Timestamp) {
			return ops[i].Timestamp.Before(ops[j].Timestamp)
		}
		return ops[i].ID < ops[j].ID
	})
}

// --- MemoryQueue ---

// MemoryQueue is an in-memory Queue.
type MemoryQueue struct {
	mu  sync.Mutex
	ops map[string]model.Operation
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{ops: make(map[string]model.Operation)}
}

// Enqueue adds the operation.
func (q *MemoryQueue) Enqueue(_ context.Context, op model.Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops[op.ID] = op
	return nil
}

// List returns all operations, oldest first.
func (q *MemoryQueue) List(context.Context) ([]model.Operation, error) {
	q.mu.Lock()
	out := make([]model.Operation, 0, len(q.ops))
	for _, op := range q.ops {
		out = append(out, op)
	}
	q.mu.Unlock()
	sortOldestFirst(out)
	return out, nil
}

// Update replaces a queued operation. Updating a removed operation is a
// no-op.
func (q *MemoryQueue) Update(_ context.Context, op model.Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.ops[op.ID]; ok {
		q.ops[op.ID] = op
	}
	return nil
}

// Remove deletes the operation.
func (q *MemoryQueue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.ops, id)
	return nil
}

// Len returns the number of queued operations.
func (q *MemoryQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops), nil
}

// HealthCheck always succeeds.
func (q *MemoryQueue) HealthCheck(context.Context) error { return nil }

// --- RedisQueue ---

// RedisQueue keeps operations as JSON values in a single hash so they
// survive restarts and are shared between instances.
type RedisQueue struct {
	client redis.Cmdable
	key    string
}

// NewRedisQueue creates a Redis-backed queue.
func NewRedisQueue(client redis.Cmdable) *RedisQueue {
	return &RedisQueue{client: client, key: RedisKey}
}

func (q *RedisQueue) put(ctx context.Context, op model.Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal operation %s: %w", op.ID, err)
	}
	if err := q.client.HSet(ctx, q.key, op.ID, data).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", op.ID, err)
	}
	return nil
}

// Enqueue adds the operation.
func (q *RedisQueue) Enqueue(ctx context.Context, op model.Operation) error {
	return q.put(ctx, op)
}

// List returns all operations, oldest first. Entries that fail to decode
// are skipped.
func (q *RedisQueue) List(ctx context.Context) ([]model.Operation, error) {
	raw, err := q.client.HGetAll(ctx, q.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", q.key, err)
	}
	out := make([]model.Operation, 0, len(raw))
	for _, v := range raw {
		var op model.Operation
		if err := json.Unmarshal([]byte(v), &op); err != nil {
			continue
		}
		out = append(out, op)
	}
	sortOldestFirst(out)
	return out, nil
}

// Update replaces the operation if it is still queued.
func (q *RedisQueue) Update(ctx context.Context, op model.Operation) error {
	exists, err := q.client.HExists(ctx, q.key, op.ID).Result()
	if err != nil {
		return fmt.Errorf("redis hexists %s: %w", op.ID, err)
	}
	if !exists {
		return nil
	}
	return q.put(ctx, op)
}

// Remove deletes the operation.
func (q *RedisQueue) Remove(ctx context.Context, id string) error {
	if err := q.client.HDel(ctx, q.key, id).Err(); err != nil {
		return fmt.Errorf("redis hdel %s: %w", id, err)
	}
	return nil
}

// Len returns the number of queued operations.
func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.HLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hlen %s: %w", q.key, err)
	}
	return int(n), nil
}

// HealthCheck pings Redis.
func (q *RedisQueue) HealthCheck(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
