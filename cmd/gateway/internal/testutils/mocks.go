package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/session"
	"github.com/shubham-shewale/stockpush/pkg/models"
)

var ErrChannelClosed = errors.New("mock channel closed")

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	RawBytes []string // Stores raw bytes
	Closed   bool
	SendErr  error // returned by Send while set
	Mu       sync.Mutex

	state atomic.Int32
}

// NewMockClient returns an open client.
func NewMockClient(id string) *MockClient {
	m := &MockClient{IDVal: id}
	m.state.Store(int32(session.Open))
	return m
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) ReadyState() session.ReadyState { return session.ReadyState(m.state.Load()) }

func (m *MockClient) SetState(s session.ReadyState) { m.state.Store(int32(s)) }

func (m *MockClient) Send(b []byte) error {
	if m.ReadyState() != session.Open {
		return ErrChannelClosed
	}
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.RawBytes = append(m.RawBytes, string(b))
	return nil
}

func (m *MockClient) Close() {
	m.SetState(session.Closed)
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) IsClosed() bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Closed
}

func (m *MockClient) Count() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.RawBytes)
}

// Snapshots decodes every message that is a flat price map.
func (m *MockClient) Snapshots() []map[string]float64 {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	var out []map[string]float64
	for _, raw := range m.RawBytes {
		var snap map[string]float64
		if err := json.Unmarshal([]byte(raw), &snap); err == nil {
			out = append(out, snap)
		}
	}
	return out
}

func (m *MockClient) Last() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.RawBytes) == 0 {
		return ""
	}
	return m.RawBytes[len(m.RawBytes)-1]
}

// StaticStore is a Snapshotter whose prices are set by the test
type StaticStore struct {
	Mu     sync.Mutex
	Prices map[string]float64
}

func NewStaticStore(prices map[string]float64) *StaticStore {
	return &StaticStore{Prices: prices}
}

func (s *StaticStore) Snapshot() map[string]float64 {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	out := make(map[string]float64, len(s.Prices))
	for k, v := range s.Prices {
		out[k] = v
	}
	return out
}

// MockRand returns Values in order, cycling. Each value is clamped to [0, n).
type MockRand struct {
	Values     []int
	Panic      bool // panic on every call
	PanicTimes int  // panic on the next PanicTimes calls
	Mu         sync.Mutex
	idx        int
}

func (m *MockRand) Intn(n int) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Panic {
		panic("mock rand failure")
	}
	if m.PanicTimes > 0 {
		m.PanicTimes--
		panic("mock rand failure")
	}
	if len(m.Values) == 0 {
		return 0
	}
	v := m.Values[m.idx%len(m.Values)]
	m.idx++
	if v >= n {
		v = n - 1
	}
	if v < 0 {
		v = 0
	}
	return v
}

type MockClock struct {
	CurrentTime time.Time
}

func (m *MockClock) Now() time.Time { return m.CurrentTime }

// MockSink records published ticks
type MockSink struct {
	Batches    [][]models.StockUpdate
	ShouldFail bool
	Mu         sync.Mutex
}

func (m *MockSink) Name() string { return "mock" }

func (m *MockSink) Publish(ctx context.Context, updates []models.StockUpdate) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("sink error")
	}
	m.Batches = append(m.Batches, updates)
	return nil
}

func (m *MockSink) Close() error { return nil }

func (m *MockSink) Count() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Batches)
}

type MockKafkaWriter struct {
	Messages   []kafka.Message
	Mu         sync.Mutex
	ShouldFail bool
	Closed     bool
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

type MockKafkaConn struct {
	CreatedTopics []string
}

func (m *MockKafkaConn) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}
func (m *MockKafkaConn) Close() error { return nil }
func (m *MockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	for _, t := range topics {
		m.CreatedTopics = append(m.CreatedTopics, t.Topic)
	}
	return nil
}
func (m *MockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	// Simulate "Ready" state immediately
	return []kafka.Partition{{ID: 0}}, nil
}

type MockKafkaDialer struct {
	ConnSpy *MockKafkaConn
	Fail    bool
}

func (m *MockKafkaDialer) DialContext(ctx context.Context, network, address string) (repository.KafkaConn, error) {
	if m.Fail {
		return nil, errors.New("dial refused")
	}
	if m.ConnSpy == nil {
		m.ConnSpy = &MockKafkaConn{}
	}
	return m.ConnSpy, nil
}

// NoSleep satisfies repository.Sleeper without waiting
type NoSleep struct{ Calls int }

func (n *NoSleep) Sleep(time.Duration) { n.Calls++ }
