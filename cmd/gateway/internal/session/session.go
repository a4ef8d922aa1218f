package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/metrics"
	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/schedule"
)

// ReadyState mirrors the websocket readyState values.
type ReadyState int32

const (
	Connecting ReadyState = iota
	Open
	Closing
	Closed
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Channel is the duplex connection a session pushes to.
type Channel interface {
	ID() string
	ReadyState() ReadyState
	Send(b []byte) error
}

// Snapshotter is the read side of the price store.
type Snapshotter interface {
	Snapshot() map[string]float64
}

// Session is the per-connection subscription and its push task.
type Session struct {
	ch     Channel
	store  Snapshotter
	logger *zap.Logger
	period time.Duration

	mu         sync.RWMutex
	subscribed []string
	task       *schedule.Task
	closed     bool
	kicked     atomic.Bool
}

func New(ch Channel, store Snapshotter, logger *zap.Logger, period time.Duration) *Session {
	return &Session{
		ch:     ch,
		store:  store,
		logger: logger.With(zap.String("session", ch.ID())),
		period: period,
	}
}

func (s *Session) ID() string { return s.ch.ID() }

func (s *Session) ReadyState() ReadyState { return s.ch.ReadyState() }

// Start launches the periodic push task. Calling it again, or after Close, does nothing.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task != nil || s.closed {
		return
	}
	s.task = schedule.Every(ctx, s.period, func(ctx context.Context) error {
		trigger := "periodic"
		if s.kicked.Swap(false) {
			trigger = "subscribe"
		}
		return s.Push(ctx, trigger)
	}, schedule.WithErrorHandler(func(err error) {
		s.logger.Error("Push failed", zap.Error(err))
	}))
}

// Subscribe replaces the subscription wholesale and requests an immediate push.
func (s *Session) Subscribe(symbols []string) {
	symbols = protocol.Dedupe(symbols)

	s.mu.Lock()
	s.subscribed = symbols
	task := s.task
	s.mu.Unlock()

	if task != nil {
		s.kicked.Store(true)
		task.Kick()
	}
}

// Subscribed returns a copy of the current subscription in received order.
func (s *Session) Subscribed() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.subscribed))
	copy(out, s.subscribed)
	return out
}

// Push sends the subscribed slice of the current prices. It is a no-op unless the channel is open,
// and a failed send is treated the same way.
func (s *Session) Push(ctx context.Context, trigger string) error {
	if s.ch.ReadyState() != Open {
		metrics.PushDroppedTotal.WithLabelValues("not_open").Inc()
		return nil
	}

	prices := s.store.Snapshot()
	snap := protocol.Project(prices, s.Subscribed())

	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	if err := s.ch.Send(payload); err != nil {
		metrics.PushDroppedTotal.WithLabelValues("send_failed").Inc()
		s.logger.Debug("Push not delivered", zap.Error(err))
		return nil
	}
	metrics.PushesTotal.WithLabelValues(trigger).Inc()
	return nil
}

// Close stops the push task and waits for an in-flight push. No push starts after it returns.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	task := s.task
	s.mu.Unlock()

	if task != nil {
		task.Stop()
	}
}
