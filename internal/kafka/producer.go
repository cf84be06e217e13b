package kafka

import (
	"context"
	"fmt"
	"time"

	"slack_scheduler/internal/metrics"
	"slack_scheduler/internal/models"

	"github.com/IBM/sarama"
)

type Producer struct {
	topic    string
	producer sarama.SyncProducer
}

func NewSyncProducer(brokers []string, topic string) (*Producer, error) {
	cfg := sarama.NewConfig()

	// SyncProducer обязательно:
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 500 * time.Millisecond

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create sarama sync producer: %w", err)
	}

	return newProducer(prod, topic), nil
}

func newProducer(p sarama.SyncProducer, topic string) *Producer {
	return &Producer{topic: topic, producer: p}
}

func (p *Producer) Close() error {
	return p.producer.Close()
}

// PublishDeliveryEvent sends the outcome of one dispatch attempt, keyed by
// workspace so events of a workspace stay ordered within a partition.
func (p *Producer) PublishDeliveryEvent(ctx context.Context, ev models.DeliveryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b, err := EncodeDeliveryEvent(ev)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(ev.Workspace),
		Value:     sarama.ByteEncoder(b),
		Timestamp: ev.AttemptedAt,
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		metrics.IncKafkaError("producer", "send")
		return fmt.Errorf("send kafka message: %w", err)
	}
	metrics.IncKafkaSent()
	return nil
}
