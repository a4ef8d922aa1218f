package hub_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/testutils"
)

func setup(cfg hub.Config) (*hub.Hub, *testutils.StaticStore) {
	store := testutils.NewStaticStore(map[string]float64{"AAPL": 95.0, "MSFT": 50.0, "GOOG": 550.0})
	if cfg.PushInterval == 0 {
		cfg.PushInterval = time.Hour
	}
	return hub.NewHub(context.Background(), store, zap.NewNop(), cfg), store
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestHub_Subscribe_Success(t *testing.T) {
	h, _ := setup(hub.Config{})
	client := testutils.NewMockClient("c1")

	if _, err := h.Register(client); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	h.HandleMessage(client, []byte(`{"stocks": ["AAPL"]}`))

	waitFor(t, func() bool { return client.Count() == 1 })
	if client.Last() != `{"AAPL":95}` {
		t.Errorf("Unexpected push %s", client.Last())
	}
}

func TestHub_Subscribe_UnknownSymbolPassesThrough(t *testing.T) {
	h, _ := setup(hub.Config{})
	client := testutils.NewMockClient("c1")
	s, _ := h.Register(client)

	h.HandleMessage(client, []byte(`{"stocks": ["AAPL", "ZZZZ"]}`))

	got := s.Subscribed()
	if len(got) != 2 || got[1] != "ZZZZ" {
		t.Errorf("Unknown symbols should be kept in the subscription, got %v", got)
	}
	waitFor(t, func() bool { return client.Count() == 1 })
	if strings.Contains(client.Last(), "ZZZZ") {
		t.Errorf("Unknown symbol pushed: %s", client.Last())
	}
}

func TestHub_MalformedMessageKeepsSubscription(t *testing.T) {
	h, _ := setup(hub.Config{})
	client := testutils.NewMockClient("c1")
	s, _ := h.Register(client)

	h.HandleMessage(client, []byte(`{"stocks": ["MSFT"]}`))
	h.HandleMessage(client, []byte(`{ "stocks": [`))
	h.HandleMessage(client, []byte(`{"action": "subscribe"}`))
	h.HandleMessage(client, []byte(`{"stocks": [null, "AAPL"]}`))

	got := s.Subscribed()
	if len(got) != 1 || got[0] != "MSFT" {
		t.Errorf("Malformed message changed the subscription: %v", got)
	}

	// only the valid subscribe produced a push, nothing was sent for the bad ones
	waitFor(t, func() bool { return client.Count() >= 1 })
	time.Sleep(20 * time.Millisecond)
	if client.Count() != 1 {
		t.Errorf("Expected a single push, got %d messages", client.Count())
	}
}

func TestHub_MalformedMessageNotifiesWhenEnabled(t *testing.T) {
	h, _ := setup(hub.Config{NotifyErrors: true})
	client := testutils.NewMockClient("c1")
	_, _ = h.Register(client)

	h.HandleMessage(client, []byte(`not json`))

	if !strings.Contains(client.Last(), `"type":"error"`) {
		t.Errorf("Expected error notification, got %q", client.Last())
	}
}

func TestHub_MessageFromUnknownClientIgnored(t *testing.T) {
	h, _ := setup(hub.Config{})
	client := testutils.NewMockClient("ghost")

	h.HandleMessage(client, []byte(`{"stocks": ["AAPL"]}`))

	time.Sleep(10 * time.Millisecond)
	if client.Count() != 0 {
		t.Error("Unregistered client should not receive pushes")
	}
}

func TestHub_NoCrossTalk(t *testing.T) {
	h, _ := setup(hub.Config{PushInterval: 5 * time.Millisecond})
	a := testutils.NewMockClient("a")
	b := testutils.NewMockClient("b")
	_, _ = h.Register(a)
	_, _ = h.Register(b)
	defer h.Shutdown()

	h.HandleMessage(a, []byte(`{"stocks": ["AAPL"]}`))
	h.HandleMessage(b, []byte(`{"stocks": ["MSFT", "GOOG"]}`))

	waitFor(t, func() bool { return a.Count() >= 3 && b.Count() >= 3 })

	for _, snap := range a.Snapshots() {
		if _, ok := snap["MSFT"]; ok {
			t.Fatalf("Session a received b's symbol: %v", snap)
		}
		if _, ok := snap["GOOG"]; ok {
			t.Fatalf("Session a received b's symbol: %v", snap)
		}
	}
	for _, snap := range b.Snapshots() {
		if _, ok := snap["AAPL"]; ok {
			t.Fatalf("Session b received a's symbol: %v", snap)
		}
	}
}

func TestHub_Unregister(t *testing.T) {
	h, _ := setup(hub.Config{PushInterval: 2 * time.Millisecond})
	client := testutils.NewMockClient("c1")
	_, _ = h.Register(client)

	h.HandleMessage(client, []byte(`{"stocks": ["AAPL"]}`))
	waitFor(t, func() bool { return client.Count() >= 2 })

	h.Unregister(client)
	after := client.Count()

	if h.Count() != 0 {
		t.Errorf("Expected 0 sessions, got %d", h.Count())
	}
	if !client.IsClosed() {
		t.Error("Unregister should close the client")
	}

	time.Sleep(20 * time.Millisecond)
	if client.Count() != after {
		t.Errorf("Writes after Unregister: %d -> %d", after, client.Count())
	}

	// second Unregister is a no-op
	h.Unregister(client)
}

func TestHub_ShutdownRefusesNewSessions(t *testing.T) {
	h, _ := setup(hub.Config{})
	c1 := testutils.NewMockClient("c1")
	_, _ = h.Register(c1)

	h.Shutdown()

	if !c1.IsClosed() || h.Count() != 0 {
		t.Error("Shutdown should close existing sessions")
	}
	if _, err := h.Register(testutils.NewMockClient("c2")); err == nil {
		t.Error("Register after Shutdown should fail")
	}
}

func TestHub_RaceCondition(t *testing.T) {
	// Run with `go test -race ./...`
	h, _ := setup(hub.Config{PushInterval: time.Millisecond})
	client := testutils.NewMockClient("c1")
	_, _ = h.Register(client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			h.HandleMessage(client, []byte(`{"stocks": ["AAPL", "MSFT"]}`))
		}
	}()
	for i := 0; i < 50; i++ {
		h.HandleMessage(client, []byte(`{"stocks": ["GOOG"]}`))
	}
	<-done
	h.Unregister(client)
}
