package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fenilmodi00/vin-backend/shared"
	"github.com/sirupsen/logrus"
)

type memoryTopic struct {
	messages  []*Message // messages[i] has offset base+i
	base      int64
	committed int64
	notify    chan struct{}
}

func (t *memoryTopic) end() int64 {
	return t.base + int64(len(t.messages))
}

// MemoryBroker is an in-process stand-in for Kafka with a single partition per
// topic and one consumer group. Messages stay in the log until committed, so a
// consumer started later still sees them.
type MemoryBroker struct {
	mu     sync.Mutex
	topics map[string]*memoryTopic
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{topics: make(map[string]*memoryTopic)}
}

func (b *MemoryBroker) topic(name string) *memoryTopic {
	t, ok := b.topics[name]
	if !ok {
		t = &memoryTopic{notify: make(chan struct{})}
		b.topics[name] = t
	}
	return t
}

func (b *MemoryBroker) Publish(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return shared.QueueUnavailable("MemoryBroker", "Publish", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return shared.QueueUnavailable("MemoryBroker", "Publish", fmt.Errorf("broker is closed"))
	}

	t := b.topic(msg.Topic)
	stored := *msg
	stored.Offset = t.end()
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}
	t.messages = append(t.messages, &stored)

	close(t.notify)
	t.notify = make(chan struct{})
	return nil
}

// Messages returns the uncommitted messages of a topic.
func (b *MemoryBroker) Messages(topic string) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		return nil
	}
	out := make([]*Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Committed returns the next offset the consumer group will read after a restart.
func (b *MemoryBroker) Committed(topic string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topic(topic).committed
}

func (b *MemoryBroker) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("broker is closed")
	}
	return nil
}

func (b *MemoryBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// fetch returns up to max messages starting at position, or a channel that is
// closed when the topic grows.
func (b *MemoryBroker) fetch(topic string, position int64, max int) ([]*Message, <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(topic)
	if position < t.base {
		position = t.base
	}
	start := int(position - t.base)
	if start >= len(t.messages) {
		return nil, t.notify
	}
	stop := start + max
	if stop > len(t.messages) {
		stop = len(t.messages)
	}
	out := make([]*Message, stop-start)
	copy(out, t.messages[start:stop])
	return out, nil
}

// commit advances the committed offset and drops the acknowledged prefix.
func (b *MemoryBroker) commit(topic string, next int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(topic)
	if next <= t.committed {
		return
	}
	t.committed = next
	drop := int(next - t.base)
	if drop > len(t.messages) {
		drop = len(t.messages)
	}
	t.messages = t.messages[drop:]
	t.base += int64(drop)
}

// MemoryConsumer consumes one topic of a MemoryBroker.
type MemoryConsumer struct {
	broker         *MemoryBroker
	topic          string
	handler        Handler
	opts           WorkerOptions
	maxPollRecords int
}

func NewMemoryConsumer(broker *MemoryBroker, topic string, handler Handler, opts WorkerOptions) *MemoryConsumer {
	return &MemoryConsumer{
		broker:         broker,
		topic:          topic,
		handler:        handler,
		opts:           opts,
		maxPollRecords: 100,
	}
}

// Run consumes from the committed offset until ctx is cancelled.
func (c *MemoryConsumer) Run(ctx context.Context) error {
	logger := logrus.WithFields(logrus.Fields{
		"component": "MemoryConsumer",
		"topic":     c.topic,
	})
	logger.Info("In-memory consumer started")

	position := c.broker.Committed(c.topic)
	for {
		msgs, wait := c.broker.fetch(c.topic, position, c.maxPollRecords)
		if len(msgs) == 0 {
			select {
			case <-ctx.Done():
				logger.Info("In-memory consumer stopped")
				return nil
			case <-wait:
				continue
			}
		}

		handled := processBatch(ctx, msgs, c.handler, c.opts)
		for _, idx := range committablePrefix(msgs, handled) {
			c.broker.commit(c.topic, msgs[idx].Offset+1)
		}
		position = msgs[len(msgs)-1].Offset + 1

		if ctx.Err() != nil {
			logger.Info("In-memory consumer stopped")
			return nil
		}
	}
}
