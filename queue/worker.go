package queue

import (
	"context"
	"time"

	"github.com/fenilmodi00/vin-backend/shared"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// WorkerOptions controls how a polled batch is processed.
type WorkerOptions struct {
	Workers       int
	RetryBackoff  time.Duration
	ShutdownGrace time.Duration
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = 30 * time.Second
	}
	return o
}

// processBatch runs handler over msgs with at most opts.Workers in flight and
// reports which messages were handled. Once ctx is cancelled no new message is
// started and failed ones are not retried; handlers already running keep a
// context that stays alive for opts.ShutdownGrace.
func processBatch(ctx context.Context, msgs []*Message, handler Handler, opts WorkerOptions) []bool {
	opts = opts.withDefaults()
	handled := make([]bool, len(msgs))

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	stopGrace := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(opts.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			logrus.WithField("component", "QueueWorker").Warn("Shutdown grace period elapsed, abandoning in-flight messages")
			cancelWork()
		case <-workCtx.Done():
		}
	})
	defer stopGrace()

	var g errgroup.Group
	g.SetLimit(opts.Workers)

	for i, msg := range msgs {
		if ctx.Err() != nil {
			break
		}
		i, msg := i, msg
		// g.Go may block for a free slot, so shutdown is checked again here.
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			handled[i] = handleWithRetry(ctx, workCtx, msg, handler, opts.RetryBackoff)
			return nil
		})
	}
	g.Wait()

	return handled
}

// handleWithRetry retries infrastructure failures until the handler succeeds
// or shutdown begins.
func handleWithRetry(ctx, workCtx context.Context, msg *Message, handler Handler, backoff time.Duration) bool {
	for attempt := 1; ; attempt++ {
		err := handler.Handle(workCtx, msg)
		if err == nil {
			return true
		}

		delay := shared.RetryBackoff(backoff, attempt)
		logrus.WithFields(logrus.Fields{
			"component": "QueueWorker",
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
			"attempt":   attempt,
			"retry_in":  delay,
			"retryable": shared.IsRetryableError(err),
		}).WithError(err).Error("Failed to handle message")

		if ctx.Err() != nil || workCtx.Err() != nil {
			return false
		}
		if err := shared.SleepContext(ctx, delay); err != nil {
			return false
		}
	}
}

type topicPartition struct {
	topic     string
	partition int32
}

// committablePrefix returns, per topic partition, the index of the last
// message in the contiguous handled run starting at that partition's first
// message. Messages must be in offset order within each partition.
func committablePrefix(msgs []*Message, handled []bool) []int {
	blocked := make(map[topicPartition]bool)
	last := make(map[topicPartition]int)
	var order []topicPartition

	for i, msg := range msgs {
		tp := topicPartition{topic: msg.Topic, partition: msg.Partition}
		if blocked[tp] {
			continue
		}
		if !handled[i] {
			blocked[tp] = true
			continue
		}
		if _, seen := last[tp]; !seen {
			order = append(order, tp)
		}
		last[tp] = i
	}

	out := make([]int, 0, len(order))
	for _, tp := range order {
		out = append(out, last[tp])
	}
	return out
}
