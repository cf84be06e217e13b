package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slack_scheduler/internal/metrics"
	"slack_scheduler/internal/models"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// MessageProcessor accepts decoded schedule requests. Returning an error means
// "try again later"; requests that can never succeed must be dropped by the processor.
type MessageProcessor interface {
	ProcessScheduleMessage(ctx context.Context, req models.ScheduleRequest) error
}

type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler sarama.ConsumerGroupHandler
	logger  zerolog.Logger
}

func NewConsumer(
	brokers []string,
	groupID string,
	topic string,
	processor MessageProcessor,
	logger zerolog.Logger,
) (*Consumer, error) {
	cfg := sarama.NewConfig()

	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	// Важно: коммит только руками после успешной обработки
	cfg.Consumer.Offsets.AutoCommit.Enable = false

	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRange(),
	}
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &Consumer{
		group:   group,
		topic:   topic,
		handler: newScheduleHandler(processor, logger),
		logger:  logger,
	}, nil
}

func (c *Consumer) Start(ctx context.Context) error {
	// ошибки группы в отдельный поток логов
	go func() {
		for err := range c.group.Errors() {
			c.logger.Error().Err(err).Msg("consumer group error")
			metrics.IncKafkaError("consumer", "group")
		}
	}()

	for {
		err := c.group.Consume(ctx, []string{c.topic}, c.handler)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error().Err(err).Msg("consume loop error")
			time.Sleep(1 * time.Second)
			continue
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type scheduleHandler struct {
	processor MessageProcessor
	logger    zerolog.Logger
	backoff   func(attempt int) time.Duration
}

func newScheduleHandler(p MessageProcessor, logger zerolog.Logger) *scheduleHandler {
	return &scheduleHandler{processor: p, logger: logger, backoff: retryBackoff}
}

func (h *scheduleHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *scheduleHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *scheduleHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for kafkaMsg := range claim.Messages() {
		lag := claim.HighWaterMarkOffset() - kafkaMsg.Offset - 1
		metrics.SetKafkaConsumerLag(kafkaMsg.Topic, kafkaMsg.Partition, lag)

		// retry до успеха (или пока не отменён контекст)
		if err := h.processWithRetry(session.Context(), kafkaMsg); err != nil {
			if !errors.Is(err, ErrMalformedMessage) {
				metrics.IncKafkaError("consumer", "process")
				// не коммитим -> будет прочитано снова
				return err
			}
			metrics.IncKafkaError("consumer", "decode")
			h.logger.Warn().Err(err).
				Str("topic", kafkaMsg.Topic).
				Int32("partition", kafkaMsg.Partition).
				Int64("offset", kafkaMsg.Offset).
				Msg("skipping malformed schedule message")
		} else {
			metrics.IncKafkaProcessed()
		}

		session.MarkMessage(kafkaMsg, "")
		session.Commit()
	}
	return nil
}

func (h *scheduleHandler) processWithRetry(ctx context.Context, m *sarama.ConsumerMessage) error {
	req, err := DecodeScheduleRequest(m.Value)
	if err != nil {
		return err
	}

	attempt := 0
	for {
		attempt++
		err := h.processor.ProcessScheduleMessage(ctx, req)
		if err == nil {
			return nil
		}

		backoff := h.backoff(attempt)
		h.logger.Warn().Err(err).
			Str("topic", m.Topic).
			Int32("partition", m.Partition).
			Int64("offset", m.Offset).
			Int("attempt", attempt).
			Dur("retry_in", backoff).
			Msg("process schedule message failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func retryBackoff(attempt int) time.Duration {
	// линейный backoff 1..30 сек
	d := time.Duration(attempt) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
