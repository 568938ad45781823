package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/clamflow/clamflow-bff/model"
)

func testResponse() StoredResponse {
	return StoredResponse{
		Status: 201,
		Body:   []byte(`{"id":"wn-1","status":"pending_qc"}`),
	}
}

func isConflict(err error) bool {
	var env *model.ErrorEnvelope
	return errors.As(err, &env) && env.Code == model.ErrConflict
}

func newRedisStore(t *testing.T) (*RedisIdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisIdempotencyStore(client), mr
}

// --- MemoryIdempotencyStore ---

func TestMemoryIdempotencyStore_CheckNotFound(t *testing.T) {
	store := NewMemoryIdempotencyStore()

	resp, found, err := store.Check(context.Background(), "idem:u1:weight_note:k1", "hash-abc")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if found || resp != nil {
		t.Errorf("Check() = %+v, %v, want nil, false", resp, found)
	}
}

func TestMemoryIdempotencyStore_StoreAndCheck(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	key := FormatIdempotencyKey("u1", "weight_note", "k1")

	if err := store.Store(ctx, key, "hash-abc", testResponse(), 5*time.Minute); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	resp, found, err := store.Check(ctx, key, "hash-abc")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if resp.Status != 201 || string(resp.Body) != `{"id":"wn-1","status":"pending_qc"}` {
		t.Errorf("Check() = %+v", resp)
	}
}

func TestMemoryIdempotencyStore_ConflictOnHashMismatch(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	_ = store.Store(ctx, "k", "hash-a", testResponse(), time.Minute)

	resp, found, err := store.Check(ctx, "k", "hash-b")
	if !isConflict(err) {
		t.Fatalf("Check() error = %v, want CONFLICT", err)
	}
	if !found || resp != nil {
		t.Errorf("Check() = %+v, %v, want nil, true", resp, found)
	}
}

func TestMemoryIdempotencyStore_TTLExpiry(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_ = store.Store(ctx, "k", "h", testResponse(), time.Minute)
	now = now.Add(2 * time.Minute)

	_, found, err := store.Check(ctx, "k", "h")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if found {
		t.Error("expired entry found")
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after expired check", store.Len())
	}
}

func TestMemoryIdempotencyStore_OverwriteExistingKey(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	_ = store.Store(ctx, "k", "h1", testResponse(), time.Minute)
	_ = store.Store(ctx, "k", "h2", StoredResponse{Status: 200, Body: []byte(`{}`)}, time.Minute)

	resp, _, err := store.Check(ctx, "k", "h2")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if resp.Status != 200 {
		t.Errorf("Status = %d, want 200", resp.Status)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

// --- RedisIdempotencyStore ---

func TestRedisIdempotencyStore_CheckNotFound(t *testing.T) {
	store, _ := newRedisStore(t)
	_, found, err := store.Check(context.Background(), "missing", "h")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}
}

func TestRedisIdempotencyStore_StoreAndCheck(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	key := FormatIdempotencyKey("u1", "ppc_form", "k1")

	if err := store.Store(ctx, key, "h", testResponse(), 5*time.Minute); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if ttl := mr.TTL(key); ttl != 5*time.Minute {
		t.Errorf("TTL = %v, want 5m", ttl)
	}

	resp, found, err := store.Check(ctx, key, "h")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !found || resp.Status != 201 {
		t.Errorf("Check() = %+v, %v", resp, found)
	}
	if string(resp.Body) != `{"id":"wn-1","status":"pending_qc"}` {
		t.Errorf("Body = %s", resp.Body)
	}
}

func TestRedisIdempotencyStore_ConflictOnHashMismatch(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	_ = store.Store(ctx, "k", "hash-a", testResponse(), time.Minute)

	if _, _, err := store.Check(ctx, "k", "hash-b"); !isConflict(err) {
		t.Errorf("Check() error = %v, want CONFLICT", err)
	}
}

func TestRedisIdempotencyStore_TTLExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	_ = store.Store(ctx, "k", "h", testResponse(), time.Minute)

	mr.FastForward(2 * time.Minute)

	_, found, err := store.Check(ctx, "k", "h")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if found {
		t.Error("expired entry found")
	}
}

func TestRedisIdempotencyStore_HealthCheck(t *testing.T) {
	store, mr := newRedisStore(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	mr.Close()
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() error = nil after close")
	}
}

func TestHashInput(t *testing.T) {
	a := HashInput([]byte(`{"a":1}`))
	if a != HashInput([]byte(`{"a":1}`)) {
		t.Error("HashInput() not stable")
	}
	if a == HashInput([]byte(`{"a":2}`)) {
		t.Error("HashInput() collides for different bodies")
	}
	if len(a) != 64 {
		t.Errorf("len(HashInput()) = %d, want 64", len(a))
	}
}

func TestFormatIdempotencyKey(t *testing.T) {
	if got := FormatIdempotencyKey("u1", "fp_form", "abc"); got != "idem:u1:fp_form:abc" {
		t.Errorf("FormatIdempotencyKey() = %q", got)
	}
}
