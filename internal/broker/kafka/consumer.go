package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r messageReader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return &Consumer{r: kafka.NewReader(cfg)}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume passes fetched messages to handler until the context ends or an
// error surfaces. A handler error stops the loop before the commit, so the
// message is redelivered.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		if err := c.consumeOne(ctx, handler); err != nil {
			return err
		}
	}
}

func (c *Consumer) consumeOne(ctx context.Context, handler func(key, value []byte) error) error {
	msg, err := c.r.FetchMessage(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch message")
	}
	if err := handler(msg.Key, msg.Value); err != nil {
		return err
	}
	return errors.Wrap(c.r.CommitMessages(ctx, msg), "commit message")
}
