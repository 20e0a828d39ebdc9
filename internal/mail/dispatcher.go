package mail

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"swap-service/internal/client"
	"swap-service/internal/config"
)

// KafkaDispatcher publishes mail jobs to the mail topic. The producer is
// async; a broker outage surfaces in the producer's completion callback
// and is logged there, never here.
type KafkaDispatcher struct {
	producer *client.KafkaProducer
	topic    string
	logger   *zap.Logger
}

func NewKafkaDispatcher(producer *client.KafkaProducer, cfg *config.Config, logger *zap.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		producer: producer,
		topic:    cfg.Kafka.MailTopic,
		logger:   logger,
	}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal mail job: %w", err)
	}

	var key []byte
	if len(job.Recipients) > 0 {
		key = []byte(job.Recipients[0])
	}

	if err := d.producer.Produce(ctx, d.topic, key, payload); err != nil {
		return fmt.Errorf("failed to enqueue mail job: %w", err)
	}

	d.logger.Debug("mail job dispatched",
		zap.String("subject", job.Subject),
		zap.Int("recipients", len(job.Recipients)))
	return nil
}

// LogDispatcher is the development fallback when no broker is reachable.
// Jobs are logged and dropped.
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(_ context.Context, job Job) error {
	d.logger.Info("mail job dropped (no broker configured)",
		zap.String("subject", job.Subject),
		zap.Strings("recipients", job.Recipients))
	return nil
}
