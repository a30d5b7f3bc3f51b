package resync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const fullSweepKey = "all"

// KafkaPublisher writes signals to a topic keyed by listing so that signals
// for one listing stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) Notify(ctx context.Context, sig Signal) error {
	value, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal resync signal: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(messageKey(sig)), Value: value}); err != nil {
		return fmt.Errorf("failed to publish resync signal: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

func messageKey(sig Signal) string {
	if sig.IsFull() {
		return fullSweepKey
	}
	return sig.ListingIDs[0].String()
}

// KafkaConsumer reads signals as part of a consumer group.
type KafkaConsumer struct {
	reader *kafka.Reader
	logger *zap.Logger
}

func NewKafkaConsumer(brokers []string, topic, groupID string, logger *zap.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}),
		logger: logger,
	}
}

// Run hands each signal to handle and commits it afterwards, until ctx ends.
// Undecodable messages are committed and skipped. A handler error is logged
// and the message committed too: the periodic sweep covers anything missed.
func (c *KafkaConsumer) Run(ctx context.Context, handle func(context.Context, Signal) error) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("failed to fetch resync signal: %w", err)
		}

		var sig Signal
		if err := json.Unmarshal(msg.Value, &sig); err != nil {
			c.logger.Warn("skipping malformed resync signal", zap.Int64("offset", msg.Offset), zap.Error(err))
		} else if err := handle(ctx, sig); err != nil {
			c.logger.Error("resync signal handling failed", zap.String("reason", sig.Reason), zap.Error(err))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("failed to commit resync signal: %w", err)
		}
	}
}

func (c *KafkaConsumer) Close() error { return c.reader.Close() }
