// Package session keeps BFF sessions: the backend access token and the user
// it was issued to, keyed by an opaque session id handed to the browser.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clamflow/clamflow-bff/model"
)

// Storage key prefixes. A session is two records sharing a session id.
const (
	TokenKeyPrefix = "clamflow_token:"
	UserKeyPrefix  = "clamflow_user:"
)

// TokenKey returns the token record key for a session id.
func TokenKey(sid string) string { return TokenKeyPrefix + sid }

// UserKey returns the user record key for a session id.
func UserKey(sid string) string { return UserKeyPrefix + sid }

// Store persists sessions until they expire.
type Store interface {
	// Save writes the session. It expires at s.ExpiresAt.
	Save(ctx context.Context, s model.Session) error

	// Get returns the session, or found=false when it is missing or expired.
	Get(ctx context.Context, sid string) (s model.Session, found bool, err error)

	// Delete removes both session records. Deleting a missing session is
	// not an error.
	Delete(ctx context.Context, sid string) error

	// HealthCheck reports whether the store is reachable.
	HealthCheck(ctx context.Context) error
}

// --- MemoryStore ---

// MemoryStore is an in-memory Store for tests and single-instance
// deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]model.Session),
		now:      time.Now,
	}
}

// Save stores the session.
func (s *MemoryStore) Save(_ context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

// Get returns the session if present and unexpired. Expired sessions are
// removed on read.
func (s *MemoryStore) Get(_ context.Context, sid string) (model.Session, bool, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sid]
	s.mu.RUnlock()
	if !ok {
		return model.Session{}, false, nil
	}
	if sess.Expired(s.now()) {
		s.mu.Lock()
		delete(s.sessions, sid)
		s.mu.Unlock()
		return model.Session{}, false, nil
	}
	return sess, true, nil
}

// Delete removes the session.
func (s *MemoryStore) Delete(_ context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sid)
	return nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Len returns the number of stored sessions, including expired ones.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// --- RedisStore ---

// RedisStore keeps the token and the user under separate keys with the
// same expiry.
type RedisStore struct {
	client redis.Cmdable
	now    func() time.Time
}

// userRecord is the value stored under the user key.
type userRecord struct {
	User      model.User `json:"user"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// Save writes both records in one transaction.
func (s *RedisStore) Save(ctx context.Context, sess model.Session) error {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("session %s: already expired", sess.ID)
	}
	data, err := json.Marshal(userRecord{
		User:      sess.User,
		CreatedAt: sess.CreatedAt,
		ExpiresAt: sess.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal session user: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, TokenKey(sess.ID), sess.Token, ttl)
		pipe.Set(ctx, UserKey(sess.ID), data, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save session %s: %w", sess.ID, err)
	}
	return nil
}

// Get reads both records. A session missing either record is treated as
// absent.
func (s *RedisStore) Get(ctx context.Context, sid string) (model.Session, bool, error) {
	vals, err := s.client.MGet(ctx, TokenKey(sid), UserKey(sid)).Result()
	if err != nil {
		return model.Session{}, false, fmt.Errorf("redis get session %s: %w", sid, err)
	}
	token, _ := vals[0].(string)
	rawUser, _ := vals[1].(string)
	if token == "" || rawUser == "" {
		return model.Session{}, false, nil
	}

	var rec userRecord
	if err := json.Unmarshal([]byte(rawUser), &rec); err != nil {
		return model.Session{}, false, fmt.Errorf("unmarshal session user %s: %w", sid, err)
	}
	return model.Session{
		ID:        sid,
		Token:     token,
		User:      rec.User,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}, true, nil
}

// Delete removes both records.
func (s *RedisStore) Delete(ctx context.Context, sid string) error {
	if err := s.client.Del(ctx, TokenKey(sid), UserKey(sid)).Err(); err != nil {
		return fmt.Errorf("redis delete session %s: %w", sid, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
