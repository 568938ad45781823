package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clamflow/clamflow-bff/model"
)

// DefaultTTL bounds a session when the token carries no expiry.
const DefaultTTL = 12 * time.Hour

// Manager creates and resolves sessions.
type Manager struct {
	store  Store
	tokens *TokenParser
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a session manager. A non-positive ttl uses DefaultTTL.
func NewManager(store Store, tokens *TokenParser, ttl time.Duration, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if tokens == nil {
		tokens = NewTokenParser("", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, tokens: tokens, ttl: ttl, logger: logger, now: time.Now}
}

// Store returns the underlying session store.
func (m *Manager) Store() Store { return m.store }

// Create opens a session for a freshly issued backend token. The session
// expires at the earlier of the configured TTL and the token's exp claim.
func (m *Manager) Create(ctx context.Context, token string, user model.User) (model.Session, error) {
	exp, err := m.tokens.Expiry(token)
	if err != nil {
		m.logger.Warn("rejecting backend token", zap.Error(err))
		return model.Session{}, model.NewUnauthorizedError("Invalid access token")
	}

	now := m.now()
	expiresAt := now.Add(m.ttl)
	if !exp.IsZero() {
		if !exp.After(now) {
			return model.Session{}, model.NewUnauthorizedError("Access token expired")
		}
		if exp.Before(expiresAt) {
			expiresAt = exp
		}
	}

	sess := model.Session{
		ID:        uuid.NewString(),
		Token:     token,
		User:      user,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	if err := m.store.Save(ctx, sess); err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

// Resolve returns the live session for sid, or UNAUTHORIZED.
func (m *Manager) Resolve(ctx context.Context, sid string) (model.Session, error) {
	if sid == "" {
		return model.Session{}, model.NewUnauthorizedError("Not signed in")
	}
	sess, found, err := m.store.Get(ctx, sid)
	if err != nil {
		return model.Session{}, err
	}
	if !found {
		return model.Session{}, model.NewUnauthorizedError("Session expired")
	}
	if sess.Expired(m.now()) {
		_ = m.store.Delete(ctx, sid)
		return model.Session{}, model.NewUnauthorizedError("Session expired")
	}
	return sess, nil
}

// Destroy removes the session.
func (m *Manager) Destroy(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}
	return m.store.Delete(ctx, sid)
}

// HandleUnauthorized destroys the caller's session when the backend has
// rejected its token. It matches backend.UnauthorizedHandler.
func (m *Manager) HandleUnauthorized(ctx context.Context, token string) {
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil || rctx.SessionID == "" || rctx.Token != token {
		return
	}
	if err := m.Destroy(ctx, rctx.SessionID); err != nil {
		m.logger.Warn("failed to clear rejected session", zap.Error(err))
		return
	}
	m.logger.Info("cleared session after backend 401", zap.String("session_id", rctx.SessionID))
}
