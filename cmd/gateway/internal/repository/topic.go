package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// TopicCreator makes sure the tick topic exists before the publisher starts writing.
type TopicCreator struct {
	logger  *zap.Logger
	dialer  KafkaDialer
	sleeper Sleeper

	Partitions int
	Retries    int
	RetryDelay time.Duration
}

func NewTopicCreator(logger *zap.Logger, dialer KafkaDialer, sleeper Sleeper) *TopicCreator {
	return &TopicCreator{
		logger:     logger,
		dialer:     dialer,
		sleeper:    sleeper,
		Partitions: 4,
		Retries:    5,
		RetryDelay: 200 * time.Millisecond,
	}
}

// Create asks the controller to create topicName and waits for its partitions to show up.
// An "already exists" answer from the controller is not an error.
func (tc *TopicCreator) Create(ctx context.Context, brokers []string, topicName string) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}

	var conn KafkaConn
	var err error
	for _, addr := range brokers {
		conn, err = tc.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("dial brokers: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("get controller: %w", err)
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := tc.dialer.DialContext(ctx, "tcp", controllerAddr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", controllerAddr, err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topicName,
		NumPartitions:     tc.Partitions,
		ReplicationFactor: 1,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topicName, err)
	}
	tc.logger.Info("Topic creation request sent", zap.String("topic", topicName))

	return tc.waitForTopic(conn, topicName)
}

func (tc *TopicCreator) waitForTopic(conn KafkaConn, topicName string) error {
	for i := 0; i < tc.Retries; i++ {
		partitions, err := conn.ReadPartitions(topicName)
		if err == nil && len(partitions) > 0 {
			tc.logger.Info("Topic is ready", zap.String("topic", topicName), zap.Int("partitions", len(partitions)))
			return nil
		}
		tc.sleeper.Sleep(tc.RetryDelay)
	}
	return fmt.Errorf("timed out waiting for topic %s", topicName)
}
