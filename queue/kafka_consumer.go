package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// ConsumerConfig holds consumer group configuration.
type ConsumerConfig struct {
	Brokers        []string
	ClientID       string
	GroupID        string
	Topic          string
	MaxPollRecords int
	Worker         WorkerOptions
}

// KafkaConsumer consumes one topic as part of a consumer group. Offsets are
// committed manually and only past records the handler finished.
type KafkaConsumer struct {
	client  *kgo.Client
	handler Handler
	cfg     ConsumerConfig
}

func NewKafkaConsumer(cfg ConsumerConfig, handler Handler) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka consumer group ID not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	if cfg.MaxPollRecords <= 0 {
		cfg.MaxPollRecords = 100
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		// Partitions are not revoked while a polled batch is still being handled.
		kgo.BlockRebalanceOnPoll(),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	return &KafkaConsumer{
		client:  client,
		handler: handler,
		cfg:     cfg,
	}, nil
}

// Run polls until ctx is cancelled. In-flight records get the configured grace
// period; anything unfinished stays uncommitted and is redelivered later.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	logger := logrus.WithFields(logrus.Fields{
		"component": "KafkaConsumer",
		"topic":     c.cfg.Topic,
		"group":     c.cfg.GroupID,
	})
	logger.Info("Kafka consumer started")

	for {
		fetches := c.client.PollRecords(ctx, c.cfg.MaxPollRecords)
		if fetches.IsClientClosed() {
			return nil
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.WithFields(logrus.Fields{
				"fetch_topic": topic,
				"partition":   partition,
			}).WithError(err).Error("Kafka fetch error")
		})

		records := fetches.Records()
		if len(records) > 0 {
			c.processRecords(ctx, records)
		}
		c.client.AllowRebalance()

		if ctx.Err() != nil {
			logger.Info("Kafka consumer stopped")
			return nil
		}
	}
}

func (c *KafkaConsumer) processRecords(ctx context.Context, records []*kgo.Record) {
	msgs := make([]*Message, len(records))
	for i, r := range records {
		msgs[i] = recordToMessage(r)
	}

	handled := processBatch(ctx, msgs, c.handler, c.cfg.Worker)

	prefix := committablePrefix(msgs, handled)
	if len(prefix) == 0 {
		return
	}
	toCommit := make([]*kgo.Record, 0, len(prefix))
	for _, idx := range prefix {
		toCommit = append(toCommit, records[idx])
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := c.client.CommitRecords(commitCtx, toCommit...); err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "KafkaConsumer",
			"records":   len(toCommit),
		}).WithError(err).Error("Failed to commit offsets")
	}
}

// Ping checks broker connectivity.
func (c *KafkaConsumer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

// Close leaves the group and closes the client.
func (c *KafkaConsumer) Close() {
	c.client.Close()
}

func recordToMessage(r *kgo.Record) *Message {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   headers,
		Timestamp: r.Timestamp,
	}
}
