package approval

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/clamflow/clamflow-bff/internal/observability"
	"github.com/clamflow/clamflow-bff/model"
)

// EventQueueSnapshot is the realtime event type carrying the queue.
const EventQueueSnapshot = "approval_queue"

// DefaultPollInterval is how often the queue is refreshed.
const DefaultPollInterval = 30 * time.Second

// Broadcaster pushes an event to every connected dashboard, building one
// payload per scope. Scopes are role names.
type Broadcaster interface {
	BroadcastScoped(eventType string, payloadFor func(scope string) any) error
}

// Snapshot is the most recent unfiltered queue.
type Snapshot struct {
	Items     []model.PendingApprovalItem `json:"items"`
	Summary   model.QueueSummary          `json:"summary"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

// ForRole returns the snapshot as seen by roleName.
func (s Snapshot) ForRole(roleName string) any {
	items := Filter(s.Items, roleName, model.QueueFilter{})
	return Snapshot{Items: items, Summary: Summarize(items), UpdatedAt: s.UpdatedAt}
}

// Poller refreshes the queue on a ticker using a service token.
type Poller struct {
	service  *Service
	hub      Broadcaster
	interval time.Duration
	token    string
	logger   *zap.Logger
	metrics  *observability.Metrics

	// fetches numbers each Refresh; applied is the newest fetch stored.
	fetches  atomic.Uint64
	mu       sync.RWMutex
	applied  uint64
	snapshot Snapshot
}

// NewPoller creates a poller. A non-positive interval uses DefaultPollInterval.
func NewPoller(service *Service, hub Broadcaster, interval time.Duration, token string, logger *zap.Logger, metrics *observability.Metrics) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		service:  service,
		hub:      hub,
		interval: interval,
		token:    token,
		logger:   logger,
		metrics:  metrics,
	}
}

// Enabled reports whether a service token is configured.
func (p *Poller) Enabled() bool { return p.token != "" }

// Run refreshes immediately and then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	if p.token == "" {
		p.logger.Warn("approval poller disabled: no service token configured")
		return
	}
	p.logger.Info("approval poller started", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("approval queue refresh failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("approval poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// Refresh fetches the queue once, updates the gauges and broadcasts the
// new snapshot. A fetch that finishes after a later one is discarded.
func (p *Poller) Refresh(ctx context.Context) error {
	seq := p.fetches.Add(1)
	ctx = model.WithRequestContext(ctx, &model.RequestContext{
		UserID: "approval-poller",
		Token:  p.token,
	})
	items, err := p.service.Items(ctx)
	if err != nil {
		return err
	}

	snap := Snapshot{Items: items, Summary: Summarize(items), UpdatedAt: p.service.now()}
	p.mu.Lock()
	if seq < p.applied {
		p.mu.Unlock()
		p.logger.Debug("discarding stale approval queue fetch", zap.Uint64("fetch", seq))
		return nil
	}
	p.applied = seq
	p.snapshot = snap
	p.mu.Unlock()

	priorities := make([]string, len(model.AllPriorities))
	for i, pr := range model.AllPriorities {
		priorities[i] = string(pr)
	}
	p.metrics.SetApprovalQueue(CountByPriority(items), priorities)

	if p.hub != nil {
		if err := p.hub.BroadcastScoped(EventQueueSnapshot, snap.ForRole); err != nil {
			p.logger.Warn("approval queue broadcast failed", zap.Error(err))
		}
	}
	return nil
}

// Snapshot returns the last refreshed queue. UpdatedAt is zero before the
// first successful refresh.
func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}
