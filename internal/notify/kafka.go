package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// KafkaNotifier produces alerts as JSON to a topic and waits for the delivery report.
type KafkaNotifier struct {
	producer producer
	topic    string
	logger   *zap.Logger
}

func NewKafkaNotifier(brokers, topic string, logger *zap.Logger) (*KafkaNotifier, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	logger.Info("kafka producer initialized", zap.String("brokers", brokers), zap.String("topic", topic))
	return &KafkaNotifier{producer: p, topic: topic, logger: logger}, nil
}

func (k *KafkaNotifier) Send(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("kafka: marshal: %w", err)
	}

	var key []byte
	if len(alert.Symbols) == 1 {
		key = []byte(alert.Symbols[0])
	}

	delivery := make(chan kafka.Event, 1)
	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Key:            key,
		Value:          payload,
	}, delivery)
	if err != nil {
		return fmt.Errorf("kafka: produce: %w", err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("kafka: waiting for delivery: %w", ctx.Err())
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("kafka: unexpected event %v", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("kafka: delivery failed: %w", m.TopicPartition.Error)
		}
	}

	k.logger.Debug("kafka alert delivered", zap.String("topic", k.topic))
	return nil
}

func (k *KafkaNotifier) Close() {
	k.producer.Flush(5000)
	k.producer.Close()
	k.logger.Info("kafka producer closed")
}
