package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/metrics"
	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/session"
)

// ClientInterface is a connected channel the hub can also close.
type ClientInterface interface {
	session.Channel
	Close()
}

type Config struct {
	PushInterval time.Duration
	NotifyErrors bool
}

// Hub owns one session per connected client.
type Hub struct {
	ctx    context.Context
	store  session.Snapshotter
	logger *zap.Logger
	cfg    Config

	mu       sync.RWMutex
	sessions map[string]*entry
	closed   bool
}

type entry struct {
	client  ClientInterface
	session *session.Session
}

var ErrHubClosed = errors.New("hub is shut down")

func NewHub(ctx context.Context, store session.Snapshotter, logger *zap.Logger, cfg Config) *Hub {
	return &Hub{
		ctx:      ctx,
		store:    store,
		logger:   logger,
		cfg:      cfg,
		sessions: make(map[string]*entry),
	}
}

// Register creates the client's session with an empty subscription and starts its push task.
func (h *Hub) Register(client ClientInterface) (*session.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if e, ok := h.sessions[client.ID()]; ok {
		return e.session, nil
	}

	s := session.New(client, h.store, h.logger, h.cfg.PushInterval)
	h.sessions[client.ID()] = &entry{client: client, session: s}
	s.Start(h.ctx)

	metrics.OnSessionOpen()
	h.logger.Debug("Session registered", zap.String("session", client.ID()))
	return s, nil
}

// HandleMessage applies one inbound text frame. Malformed frames are dropped and the
// session keeps its previous subscription.
func (h *Hub) HandleMessage(client ClientInterface, payload []byte) {
	h.mu.RLock()
	e, ok := h.sessions[client.ID()]
	h.mu.RUnlock()
	if !ok {
		return
	}

	symbols, err := protocol.ParseSubscription(payload)
	if err != nil {
		metrics.MalformedMessagesTotal.Inc()
		h.logger.Warn("Dropping malformed message", zap.String("session", client.ID()), zap.Error(err))
		if h.cfg.NotifyErrors {
			h.sendError(client, "invalid subscription request")
		}
		return
	}

	e.session.Subscribe(symbols)
	metrics.SubscriptionsTotal.Inc()
	h.logger.Debug("Subscription replaced", zap.String("session", client.ID()), zap.Strings("symbols", symbols))
}

// Unregister stops the client's push task, then closes the client. Safe to call more than once.
func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	e, ok := h.sessions[client.ID()]
	if ok {
		delete(h.sessions, client.ID())
	}
	h.mu.Unlock()

	if ok {
		e.session.Close()
		metrics.OnSessionClose()
		h.logger.Debug("Session closed", zap.String("session", client.ID()))
	}
	client.Close()
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown closes every session and refuses new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	entries := make([]*entry, 0, len(h.sessions))
	for _, e := range h.sessions {
		entries = append(entries, e)
	}
	h.mu.Unlock()

	for _, e := range entries {
		h.Unregister(e.client)
	}
	h.logger.Info("Hub shut down", zap.Int("sessions", len(entries)))
}

func (h *Hub) sendError(c ClientInterface, msg string) {
	b, err := json.Marshal(protocol.WSResponse{Type: "error", Message: msg})
	if err != nil {
		return
	}
	_ = c.Send(b)
}
