package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/metrics"

	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/testutils"
	"github.com/shubham-shewale/stockpush/pkg/models"
)

func TestKafkaPublisher_KeysBySymbol(t *testing.T) {
	writer := &testutils.MockKafkaWriter{}
	pub := repository.NewKafkaPublisher(writer)

	updates := []models.StockUpdate{
		{Symbol: "AAPL", Price: 95.5, SeqID: 3},
		{Symbol: "FB", Price: 74.0, SeqID: 3},
	}
	if err := pub.Publish(context.Background(), updates); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	writer.Mu.Lock()
	defer writer.Mu.Unlock()
	if len(writer.Messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(writer.Messages))
	}
	if string(writer.Messages[1].Key) != "FB" {
		t.Errorf("Expected key FB, got %s", writer.Messages[1].Key)
	}

	var got models.StockUpdate
	if err := json.Unmarshal(writer.Messages[0].Value, &got); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if got.Symbol != "AAPL" || got.SeqID != 3 {
		t.Errorf("Unexpected payload %+v", got)
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	writer := &testutils.MockKafkaWriter{ShouldFail: true}
	pub := repository.NewKafkaPublisher(writer)

	if err := pub.Publish(context.Background(), []models.StockUpdate{{Symbol: "AAPL"}}); err == nil {
		t.Error("Expected write error to propagate")
	}
	if err := pub.Close(); err != nil || !writer.Closed {
		t.Error("Close should close the writer")
	}
}

func TestKafkaWriter_CountsAsyncDeliveryFailures(t *testing.T) {
	w := repository.NewKafkaWriter(zap.NewNop(), []string{"127.0.0.1:9092"}, "market_ticks")
	if !w.Async || w.Completion == nil {
		t.Fatal("Async writer must report deliveries through Completion")
	}

	counter := metrics.SinkErrorsTotal.WithLabelValues("kafka")
	before := testutil.ToFloat64(counter)

	w.Completion([]kafka.Message{{Key: []byte("AAPL")}}, nil)
	if got := testutil.ToFloat64(counter); got != before {
		t.Errorf("Successful delivery counted as failure: %v -> %v", before, got)
	}

	w.Completion([]kafka.Message{{Key: []byte("AAPL")}, {Key: []byte("MSFT")}}, errors.New("leader not available"))
	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Errorf("Expected sink error counter %v, got %v", before+1, got)
	}
}

func TestTopicCreator_Flow(t *testing.T) {
	mockDialer := &testutils.MockKafkaDialer{} // Will auto-create ConnSpy
	sleeper := &testutils.NoSleep{}

	tc := repository.NewTopicCreator(zap.NewNop(), mockDialer, sleeper)

	if err := tc.Create(context.Background(), []string{"broker:9092"}, "market_ticks"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if mockDialer.ConnSpy == nil {
		t.Fatal("Dialer was never called")
	}
	if len(mockDialer.ConnSpy.CreatedTopics) == 0 || mockDialer.ConnSpy.CreatedTopics[0] != "market_ticks" {
		t.Errorf("Expected topic market_ticks, got %v", mockDialer.ConnSpy.CreatedTopics)
	}
	if sleeper.Calls != 0 {
		t.Errorf("Topic was ready at once, expected no retries, got %d", sleeper.Calls)
	}
}

func TestTopicCreator_DialFailure(t *testing.T) {
	tc := repository.NewTopicCreator(zap.NewNop(), &testutils.MockKafkaDialer{Fail: true}, &testutils.NoSleep{})

	if err := tc.Create(context.Background(), []string{"a:9092", "b:9092"}, "t"); err == nil {
		t.Error("Expected dial error")
	}
	if err := tc.Create(context.Background(), nil, "t"); err == nil {
		t.Error("Expected error with no brokers")
	}
}
