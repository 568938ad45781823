package offline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/clamflow/clamflow-bff/internal/backend"
	"github.com/clamflow/clamflow-bff/internal/observability"
	"github.com/clamflow/clamflow-bff/model"
)

// DefaultSyncInterval is how often pending operations are replayed.
const DefaultSyncInterval = 30 * time.Second

// Replayer sends a queued operation to the backend.
type Replayer interface {
	Do(ctx context.Context, req backend.Request) (json.RawMessage, error)
}

// EventOperationSynced is sent to the submitting user when a queued
// operation replays successfully.
const EventOperationSynced = "operation_synced"

// Notifier delivers events to a user's open streams.
type Notifier interface {
	SendToUser(userID, eventType string, payload any) error
}

// TokenSource returns the bearer token to replay an operation with.
type TokenSource func(ctx context.Context, op model.Operation) string

// Queueable reports whether a submission that failed with err should be
// queued for later replay.
func Queueable(err error) bool {
	return model.IsTransient(err)
}

// Syncer replays queued operations on an interval and on demand.
type Syncer struct {
	queue    Queue
	replayer Replayer
	tokens   TokenSource
	interval time.Duration
	retries  int
	notifier Notifier
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	syncing atomic.Bool

	mu          sync.RWMutex
	lastAttempt *time.Time
	lastSuccess *time.Time
}

// NewSyncer creates a syncer. With a nil tokens source, operations are
// replayed without a bearer token.
func NewSyncer(queue Queue, replayer Replayer, tokens TokenSource, interval time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Syncer {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		queue:    queue,
		replayer: replayer,
		tokens:   tokens,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// WithMaxRetries sets how many failed replays a newly queued operation
// survives. Non-positive values keep the default.
func (s *Syncer) WithMaxRetries(n int) *Syncer {
	s.retries = n
	return s
}

// WithNotifier tells submitters when their queued operations sync.
func (s *Syncer) WithNotifier(n Notifier) *Syncer {
	s.notifier = n
	return s
}

// Enqueue queues a submission for replay.
func (s *Syncer) Enqueue(ctx context.Context, rctx *model.RequestContext, typ model.OperationType, method, endpoint string, data map[string]any) (model.Operation, error) {
	op := NewOperation(typ, method, endpoint, data, rctx, s.now())
	if s.retries > 0 {
		op.MaxRetries = s.retries
	}
	if err := s.queue.Enqueue(ctx, op); err != nil {
		return model.Operation{}, err
	}
	s.recordDepth(ctx)
	observability.RequestLogger(ctx, s.logger).Info("queued operation for offline sync",
		zap.String("operation_id", op.ID),
		zap.String("type", string(op.Type)),
		zap.String("endpoint", op.Endpoint),
	)
	return op, nil
}

// Run syncs on every tick while operations are pending, until ctx is
// cancelled.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.queue.Len(ctx)
			if err != nil {
				s.logger.Warn("offline queue unavailable", zap.Error(err))
				continue
			}
			if n == 0 {
				continue
			}
			if _, err := s.SyncNow(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("offline sync failed", zap.Error(err))
			}
		}
	}
}

// SyncNow replays every pending operation once. When a pass is already
// running it returns immediately with an unsuccessful, empty result.
func (s *Syncer) SyncNow(ctx context.Context) (model.SyncResult, error) {
	if !s.syncing.CompareAndSwap(false, true) {
		return model.SyncResult{}, nil
	}
	defer s.syncing.Store(false)

	started := s.now()
	s.mu.Lock()
	s.lastAttempt = &started
	s.mu.Unlock()

	ops, err := s.queue.List(ctx)
	if err != nil {
		return model.SyncResult{}, err
	}

	var synced, failed int
	for _, op := range ops {
		if ctx.Err() != nil {
			break
		}
		if err := s.replay(ctx, op); err != nil {
			failed++
			s.recordFailure(ctx, op, err)
			continue
		}
		synced++
		if err := s.queue.Remove(ctx, op.ID); err != nil {
			s.logger.Error("removing synced operation", zap.String("operation_id", op.ID), zap.Error(err))
		}
		s.notify(op)
	}

	if synced > 0 {
		done := s.now()
		s.mu.Lock()
		s.lastSuccess = &done
		s.mu.Unlock()
	}
	s.metrics.RecordOfflineSyncPass(synced, failed)
	s.recordDepth(ctx)

	if synced+failed > 0 {
		s.logger.Info("offline sync pass complete", zap.Int("synced", synced), zap.Int("failed", failed))
	}
	return model.SyncResult{Success: failed == 0, Synced: synced, Failed: failed}, nil
}

func (s *Syncer) notify(op model.Operation) {
	if s.notifier == nil || op.UserID == "" {
		return
	}
	payload := map[string]any{"operation_id": op.ID, "type": op.Type}
	if err := s.notifier.SendToUser(op.UserID, EventOperationSynced, payload); err != nil {
		s.logger.Warn("notifying submitter", zap.String("operation_id", op.ID), zap.Error(err))
	}
}

func (s *Syncer) replay(ctx context.Context, op model.Operation) error {
	rctx := &model.RequestContext{UserID: op.UserID, SessionID: op.SessionID}
	if s.tokens != nil {
		rctx.Token = s.tokens(ctx, op)
	}
	ctx = model.WithRequestContext(ctx, rctx)
	_, err := s.replayer.Do(ctx, backend.Request{
		Op:     "offline." + string(op.Type),
		Method: op.Method,
		Path:   op.Endpoint,
		Body:   op.Data,
	})
	return err
}

func (s *Syncer) recordFailure(ctx context.Context, op model.Operation, err error) {
	op.RetryCount++
	op.SyncError = errorMessage(err)

	maxRetries := op.MaxRetries
	if maxRetries <= 0 {
		maxRetries = model.DefaultMaxRetries
	}
	if op.RetryCount >= maxRetries {
		s.logger.Warn("dropping operation after max retries",
			zap.String("operation_id", op.ID),
			zap.String("type", string(op.Type)),
			zap.Int("retries", op.RetryCount),
			zap.String("last_error", op.SyncError),
		)
		s.logger.Debug("dropped operation payload",
			zap.String("operation_id", op.ID),
			zap.Any("data", observability.RedactBody(op.Data, nil)),
		)
		if err := s.queue.Remove(ctx, op.ID); err != nil {
			s.logger.Error("removing expired operation", zap.String("operation_id", op.ID), zap.Error(err))
		}
		return
	}
	if err := s.queue.Update(ctx, op); err != nil {
		s.logger.Error("updating operation retry count", zap.String("operation_id", op.ID), zap.Error(err))
	}
}

func errorMessage(err error) string {
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return env.Message
	}
	return err.Error()
}

func (s *Syncer) recordDepth(ctx context.Context) {
	if n, err := s.queue.Len(ctx); err == nil {
		s.metrics.SetOfflineQueueDepth(n)
	}
}

// Status reports the queue depth and the last sync times.
func (s *Syncer) Status(ctx context.Context) (model.SyncStatus, error) {
	n, err := s.queue.Len(ctx)
	if err != nil {
		return model.SyncStatus{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.SyncStatus{
		PendingCount:       n,
		LastSyncAttempt:    s.lastAttempt,
		LastSuccessfulSync: s.lastSuccess,
		IsSyncing:          s.syncing.Load(),
	}, nil
}
