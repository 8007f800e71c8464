package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fenilmodi00/vin-backend/shared"
	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// ProducerConfig holds producer configuration.
type ProducerConfig struct {
	Brokers         []string
	ClientID        string
	Retries         int
	DeliveryTimeout time.Duration
}

// KafkaProducer publishes messages synchronously with all-replica acks.
type KafkaProducer struct {
	client *kgo.Client
	mu     sync.RWMutex
	closed bool
}

func NewKafkaProducer(cfg ProducerConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5 * time.Millisecond),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.Retries > 0 {
		opts = append(opts, kgo.RecordRetries(cfg.Retries))
	}
	if cfg.DeliveryTimeout > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &KafkaProducer{client: client}, nil
}

// Publish waits for the broker to acknowledge the record.
func (p *KafkaProducer) Publish(ctx context.Context, msg *Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return shared.QueueUnavailable("KafkaProducer", "Publish", fmt.Errorf("producer is closed"))
	}
	p.mu.RUnlock()

	var headers []kgo.RecordHeader
	for k, v := range msg.Headers {
		headers = append(headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	record := &kgo.Record{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return shared.QueueUnavailable("KafkaProducer", "Publish", fmt.Errorf("produce message: %w", err))
	}
	return nil
}

// Ping checks broker connectivity.
func (p *KafkaProducer) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("producer is closed")
	}
	return p.client.Ping(ctx)
}

// Close flushes buffered records and shuts the client down.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil {
		logrus.WithField("component", "KafkaProducer").WithError(err).Warn("Kafka producer closed with unflushed messages")
	}

	p.client.Close()
	return nil
}
