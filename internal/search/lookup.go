// Package search serves cached reference-data lookups to form pickers.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clamflow/clamflow-bff/internal/observability"
	"github.com/clamflow/clamflow-bff/model"
)

// Lookup ids.
const (
	LookupSuppliers = "suppliers"
	LookupStaff     = "staff"
	LookupVendors   = "vendors"
	LookupLots      = "lots"
)

// Source fetches the raw records behind one lookup.
type Source func(ctx context.Context) ([]map[string]any, error)

// Backend is the subset of the backend client the default sources use.
type Backend interface {
	Suppliers(ctx context.Context, filters map[string]string) ([]map[string]any, error)
	Staff(ctx context.Context) ([]map[string]any, error)
	Vendors(ctx context.Context) ([]map[string]any, error)
	Lots(ctx context.Context) ([]map[string]any, error)
}

// DefaultSources binds the standard lookup ids to backend list calls.
func DefaultSources(b Backend) map[string]Source {
	return map[string]Source{
		LookupSuppliers: func(ctx context.Context) ([]map[string]any, error) {
			return b.Suppliers(ctx, nil)
		},
		LookupStaff:   b.Staff,
		LookupVendors: b.Vendors,
		LookupLots:    b.Lots,
	}
}

// labelFields are checked in order when picking an option label, and are all
// matched by the query filter.
var labelFields = []string{"name", "full_name", "fullName", "company_name", "lot_number", "lotNumber", "username"}

// LookupProvider resolves lookup ids to option lists with caching.
type LookupProvider struct {
	sources    map[string]Source
	defaultTTL time.Duration
	maxEntries int
	metrics    *observability.Metrics
	now        func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	options   []model.LookupOption
	expiresAt time.Time
}

// NewLookupProvider creates a new LookupProvider.
func NewLookupProvider(sources map[string]Source, defaultTTL time.Duration, maxEntries int, metrics *observability.Metrics) *LookupProvider {
	if defaultTTL <= 0 {
		defaultTTL = 2 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &LookupProvider{
		sources:    sources,
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		metrics:    metrics,
		now:        time.Now,
		cache:      make(map[string]cacheEntry),
	}
}

// IDs returns the registered lookup ids, sorted.
func (lp *LookupProvider) IDs() []string {
	ids := make([]string, 0, len(lp.sources))
	for id := range lp.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetLookup returns the options for lookupID matching query.
func (lp *LookupProvider) GetLookup(ctx context.Context, lookupID, query string) (model.LookupResponse, error) {
	source, ok := lp.sources[lookupID]
	if !ok {
		return model.LookupResponse{}, model.NewNotFoundError(
			fmt.Sprintf("lookup %q not found", lookupID),
		)
	}

	ctx, span := observability.StartSpan(ctx, "lookup.get", observability.AttrLookupID.String(lookupID))

	cacheKey := buildCacheKey(lookupID, query)
	if options, hit := lp.getFromCache(cacheKey); hit {
		lp.metrics.RecordLookupCacheHit(lookupID)
		span.SetAttributes(observability.AttrCacheHit.Bool(true))
		span.End()
		return model.LookupResponse{Options: options, Cached: true}, nil
	}
	lp.metrics.RecordLookupCacheMiss(lookupID)
	span.SetAttributes(observability.AttrCacheHit.Bool(false))

	records, err := source(ctx)
	observability.EndSpanWithError(span, err)
	if err != nil {
		return model.LookupResponse{}, fmt.Errorf("lookup %q: %w", lookupID, err)
	}

	options := filterOptions(mapOptions(records), query)
	lp.putInCache(cacheKey, options)
	return model.LookupResponse{Options: options, Cached: false}, nil
}

func buildCacheKey(lookupID, query string) string {
	return "lookup:" + lookupID + ":" + strings.ToLower(strings.TrimSpace(query))
}

func (lp *LookupProvider) getFromCache(key string) ([]model.LookupOption, bool) {
	lp.mu.RLock()
	defer lp.mu.RUnlock()

	entry, exists := lp.cache[key]
	if !exists || lp.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.options, true
}

func (lp *LookupProvider) putInCache(key string, options []model.LookupOption) {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	if len(lp.cache) >= lp.maxEntries {
		lp.evictExpired()
	}
	// Still full: drop the entry closest to expiry.
	if len(lp.cache) >= lp.maxEntries {
		var oldest string
		var oldestAt time.Time
		for k, v := range lp.cache {
			if oldest == "" || v.expiresAt.Before(oldestAt) {
				oldest, oldestAt = k, v.expiresAt
			}
		}
		delete(lp.cache, oldest)
	}

	lp.cache[key] = cacheEntry{
		options:   options,
		expiresAt: lp.now().Add(lp.defaultTTL),
	}
}

// evictExpired removes expired entries. Must be called with mu held.
func (lp *LookupProvider) evictExpired() {
	now := lp.now()
	for k, v := range lp.cache {
		if now.After(v.expiresAt) {
			delete(lp.cache, k)
		}
	}
}

// Invalidate drops every cached query for a lookup.
func (lp *LookupProvider) Invalidate(lookupID string) {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	prefix := "lookup:" + lookupID + ":"
	for k := range lp.cache {
		if strings.HasPrefix(k, prefix) {
			delete(lp.cache, k)
		}
	}
}

// CacheLen returns the number of entries in the cache. For testing.
func (lp *LookupProvider) CacheLen() int {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return len(lp.cache)
}

func mapOptions(records []map[string]any) []model.LookupOption {
	options := make([]model.LookupOption, 0, len(records))
	for _, rec := range records {
		value := getString(rec, "id")
		label := optionLabel(rec)
		if label == "" && value == "" {
			continue
		}
		if label == "" {
			label = value
		}
		options = append(options, model.LookupOption{Label: label, Value: value, Extra: rec})
	}
	return options
}

func optionLabel(rec map[string]any) string {
	for _, f := range labelFields {
		if s := getString(rec, f); s != "" {
			return s
		}
	}
	first, last := getString(rec, "first_name"), getString(rec, "last_name")
	return strings.TrimSpace(first + " " + last)
}

// filterOptions keeps options whose label or any name-like field contains
// query, case-insensitively.
func filterOptions(options []model.LookupOption, query string) []model.LookupOption {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return options
	}

	filtered := []model.LookupOption{}
	for _, opt := range options {
		if matches(opt, q) {
			filtered = append(filtered, opt)
		}
	}
	return filtered
}

func matches(opt model.LookupOption, q string) bool {
	if strings.Contains(strings.ToLower(opt.Label), q) {
		return true
	}
	for _, f := range labelFields {
		if strings.Contains(strings.ToLower(getString(opt.Extra, f)), q) {
			return true
		}
	}
	return false
}

func getString(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
