package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"payproof/internal/platform/config"
)

// KafkaPublisher produces VerificationDecided events keyed by submission id,
// so per-submission ordering holds within a partition.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

func NewKafkaPublisher(cfg config.KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: cfg.Topic, logger: logger}, nil
}

func (p *KafkaPublisher) PublishDecided(ctx context.Context, event VerificationDecided) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal decided event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.SubmissionID.String()),
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce decided event: %w", err)
	}

	p.logger.InfoContext(ctx, "decided event published",
		"submission_id", event.SubmissionID,
		"outcome", event.Outcome,
	)
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}
