// Package command deduplicates form submissions carrying an idempotency key.
//
// A tablet that loses its connection mid-submit retries with the same
// X-Idempotency-Key. The first response is kept for a TTL and replayed for
// every retry whose body hashes the same; a retry with a different body
// under the same key is a CONFLICT.
package command

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clamflow/clamflow-bff/model"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "X-Idempotency-Key"

const keyPrefix = "idem"

// StoredResponse is the response replayed for a repeated submission.
type StoredResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// IdempotencyStore remembers the first response per key.
type IdempotencyStore interface {
	// Check returns the remembered response for key. found is true whenever
	// the key is live; a body hash differing from the remembered one yields
	// found with a CONFLICT error and no response.
	Check(ctx context.Context, key, bodyHash string) (resp *StoredResponse, found bool, err error)
	// Store remembers resp under key for ttl, replacing any earlier entry.
	Store(ctx context.Context, key, bodyHash string, resp StoredResponse, ttl time.Duration) error
	HealthCheck(ctx context.Context) error
}

// receipt is what both stores persist per key.
type receipt struct {
	BodyHash string         `json:"input_hash"`
	Response StoredResponse `json:"response"`
}

// replay resolves a live receipt against the hash of a retried body.
func (rc receipt) replay(key, bodyHash string) (*StoredResponse, bool, error) {
	if rc.BodyHash != bodyHash {
		return nil, true, model.NewConflictError(
			fmt.Sprintf("idempotency key %q already used with different input", key))
	}
	resp := rc.Response
	return &resp, true, nil
}

// HashInput returns the hex SHA-256 of a request body.
func HashInput(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// FormatIdempotencyKey scopes a client key to the submitting user and form,
// so two operators reusing a key never see each other's receipts.
func FormatIdempotencyKey(userID, form, key string) string {
	return keyPrefix + ":" + userID + ":" + form + ":" + key
}

// MemoryIdempotencyStore keeps receipts in process. Expired receipts are
// dropped when next read or on the following Store.
type MemoryIdempotencyStore struct {
	mu       sync.Mutex
	receipts map[string]memoryReceipt
	now      func() time.Time
}

type memoryReceipt struct {
	receipt
	expires time.Time
}

// NewMemoryIdempotencyStore returns an empty store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		receipts: make(map[string]memoryReceipt),
		now:      time.Now,
	}
}

func (s *MemoryIdempotencyStore) Check(_ context.Context, key, bodyHash string) (*StoredResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, ok := s.receipts[key]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(rc.expires) {
		delete(s.receipts, key)
		return nil, false, nil
	}
	return rc.replay(key, bodyHash)
}

func (s *MemoryIdempotencyStore) Store(_ context.Context, key, bodyHash string, resp StoredResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, rc := range s.receipts {
		if !now.Before(rc.expires) {
			delete(s.receipts, k)
		}
	}
	s.receipts[key] = memoryReceipt{
		receipt: receipt{BodyHash: bodyHash, Response: resp},
		expires: now.Add(ttl),
	}
	return nil
}

func (s *MemoryIdempotencyStore) HealthCheck(context.Context) error { return nil }

// Len returns the number of receipts held, expired ones included.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receipts)
}

// RedisIdempotencyStore keeps receipts as JSON strings with a Redis TTL, so
// every BFF replica replays the same response.
type RedisIdempotencyStore struct {
	rdb redis.Cmdable
}

// NewRedisIdempotencyStore wraps a Redis client.
func NewRedisIdempotencyStore(rdb redis.Cmdable) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{rdb: rdb}
}

func (s *RedisIdempotencyStore) Check(ctx context.Context, key, bodyHash string) (*StoredResponse, bool, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("command: reading receipt %s: %w", key, err)
	}

	var rc receipt
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, false, fmt.Errorf("command: decoding receipt %s: %w", key, err)
	}
	return rc.replay(key, bodyHash)
}

func (s *RedisIdempotencyStore) Store(ctx context.Context, key, bodyHash string, resp StoredResponse, ttl time.Duration) error {
	raw, err := json.Marshal(receipt{BodyHash: bodyHash, Response: resp})
	if err != nil {
		return fmt.Errorf("command: encoding receipt %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("command: writing receipt %s: %w", key, err)
	}
	return nil
}

func (s *RedisIdempotencyStore) HealthCheck(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
