package capability

import (
	"sync"
	"time"

	"github.com/clamflow/clamflow-bff/internal/observability"
	"github.com/clamflow/clamflow-bff/model"
)

// Evaluator resolves the capability set for a canonical role.
type Evaluator interface {
	ResolveCapabilities(role model.Role) (model.CapabilitySet, error)
}

type cacheEntry struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Resolver implements model.CapabilityResolver with an in-memory cache keyed
// by canonical role.
type Resolver struct {
	evaluator Evaluator
	ttl       time.Duration
	mu        sync.RWMutex
	cache     map[model.Role]cacheEntry
	metrics   *observability.Metrics
}

// NewResolver creates a new Resolver with the given evaluator and cache TTL.
func NewResolver(evaluator Evaluator, ttl time.Duration) *Resolver {
	return &Resolver{
		evaluator: evaluator,
		ttl:       ttl,
		cache:     make(map[model.Role]cacheEntry),
	}
}

// WithMetrics records cache hits and misses.
func (r *Resolver) WithMetrics(m *observability.Metrics) *Resolver {
	r.metrics = m
	return r
}

// Resolve returns the capability set for the request's role. Results are
// cached for the configured TTL.
func (r *Resolver) Resolve(rctx *model.RequestContext) (model.CapabilitySet, error) {
	role := rctx.Role

	r.mu.RLock()
	if entry, ok := r.cache[role]; ok && time.Now().Before(entry.expires) {
		r.mu.RUnlock()
		r.metrics.RecordCapabilityCacheHit()
		return entry.caps, nil
	}
	r.mu.RUnlock()
	r.metrics.RecordCapabilityCacheMiss()

	caps, err := r.evaluator.ResolveCapabilities(role)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[role] = cacheEntry{caps: caps, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return caps, nil
}

// Invalidate clears cached capabilities for the given role.
func (r *Resolver) Invalidate(role model.Role) {
	r.mu.Lock()
	delete(r.cache, role)
	r.mu.Unlock()
}

// Reload re-reads the policy file into m and drops every cached role.
// On error m and the cache are left unchanged.
func (r *Resolver) Reload(m *Matrix, path string) error {
	if err := m.Sync(path); err != nil {
		return err
	}
	for _, role := range model.AllRoles {
		r.Invalidate(role)
	}
	return nil
}
