// Package realtime pushes server-sent events to connected dashboard clients.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clamflow/clamflow-bff/internal/observability"
)

const clientBuffer = 64

// DefaultHeartbeat is the keepalive interval for open streams.
const DefaultHeartbeat = 30 * time.Second

// Event is one server-sent event.
type Event struct {
	Type string
	Data []byte
}

// Client is a connected stream. Scope groups clients that may see the same
// payload, such as a role.
type Client struct {
	ID     string
	UserID string
	Scope  string
	Events chan Event
}

// Hub tracks connected clients and fans events out to them. Slow clients
// whose buffer is full miss events rather than block the sender.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(logger *zap.Logger, metrics *observability.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
		metrics: metrics,
	}
}

// RegisterScoped adds a client for the given user within scope.
func (h *Hub) RegisterScoped(userID, scope string) *Client {
	c := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Scope:  scope,
		Events: make(chan Event, clientBuffer),
	}

	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetRealtimeClients(n)
	h.logger.Debug("stream client registered",
		zap.String("client_id", c.ID),
		zap.String("user_id", userID),
		zap.Int("total", n),
	)
	return c
}

// Unregister removes a client and closes its channel.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if ok {
		close(c.Events)
		delete(h.clients, clientID)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.metrics.SetRealtimeClients(n)
		h.logger.Debug("stream client unregistered", zap.String("client_id", clientID), zap.Int("total", n))
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every client.
func (h *Hub) Broadcast(eventType string, payload any) error {
	ev, err := NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.deliver(c, ev)
	}
	return nil
}

// BroadcastScoped sends every client the payload built for its scope.
// payloadFor is called once per distinct scope.
func (h *Hub) BroadcastScoped(eventType string, payloadFor func(scope string) any) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	events := make(map[string]Event)
	for _, c := range h.clients {
		ev, ok := events[c.Scope]
		if !ok {
			var err error
			ev, err = NewEvent(eventType, payloadFor(c.Scope))
			if err != nil {
				return err
			}
			events[c.Scope] = ev
		}
		h.deliver(c, ev)
	}
	return nil
}

// SendToUser sends an event to every stream opened by the given user.
func (h *Hub) SendToUser(userID, eventType string, payload any) error {
	ev, err := NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.UserID == userID {
			h.deliver(c, ev)
		}
	}
	return nil
}

func (h *Hub) deliver(c *Client, ev Event) {
	select {
	case c.Events <- ev:
	default:
		h.logger.Warn("stream client buffer full, dropping event",
			zap.String("client_id", c.ID),
			zap.String("event", ev.Type),
		)
	}
}

// NewEvent marshals payload into an event.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("realtime: marshal %s: %w", eventType, err)
	}
	return Event{Type: eventType, Data: data}, nil
}

// Stream writes events for a registered client until ctx ends, the client
// is unregistered, or a write fails. initial, when non-nil, is written first.
// The server write deadline is lifted for the connection so the stream
// outlives http.Server.WriteTimeout.
func (h *Hub) Stream(ctx context.Context, w http.ResponseWriter, c *Client, initial *Event, heartbeat time.Duration) {
	defer h.Unregister(c.ID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("clearing stream write deadline", zap.String("client_id", c.ID), zap.Error(err))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "event: connected\ndata: {\"client_id\":%q}\n\n", c.ID); err != nil {
		return
	}
	if initial != nil {
		if err := writeEvent(w, *initial); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.Events:
			if !ok {
				return
			}
			err = writeEvent(w, ev)
		case <-ticker.C:
			_, err = fmt.Fprint(w, ": keepalive\n\n")
		}
		if err != nil {
			h.logger.Debug("stream write failed", zap.String("client_id", c.ID), zap.Error(err))
			return
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, ev Event) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data)
	return err
}
