package guard

import (
	"context"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/bslinger/go-redlock/v1/redlock"
)

// KafkaConsumer consumes Kafka partitions and runs each message handler
// under a Guard, so replicas consuming the same partition range execute a
// given message at most once per lease window.
type KafkaConsumer struct {
	consumer sarama.Consumer
	guard    *Guard[*sarama.ConsumerMessage]
	logger   *slog.Logger

	mu  sync.Mutex
	pcs []sarama.PartitionConsumer
	wg  sync.WaitGroup
}

// NewKafkaConsumer returns a consumer over the provided sarama consumer.
// The caller keeps ownership of the underlying client.
func NewKafkaConsumer(consumer sarama.Consumer, g *Guard[*sarama.ConsumerMessage]) *KafkaConsumer {
	return &KafkaConsumer{consumer: consumer, guard: g, logger: slog.Default()}
}

// Consume starts processing messages from the given topic partition at
// offset. The loop stops when ctx is cancelled or Close is called.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, partition int32, offset int64, handler func(ctx context.Context, msg *sarama.ConsumerMessage) error) error {
	pc, err := c.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.pcs = append(c.pcs, pc)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case m, ok := <-pc.Messages():
				if !ok {
					return
				}
				executed, err := c.guard.Run(ctx, m, func(ctx context.Context, refresh redlock.RefreshFunc) error {
					return handler(ctx, m)
				})
				if err != nil {
					c.logger.Error("guarded handler failed",
						"topic", topic, "partition", partition, "offset", m.Offset, "err", err)
					continue
				}
				if !executed {
					c.logger.Debug("message handled by another replica",
						"topic", topic, "partition", partition, "offset", m.Offset)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Close stops every partition consumer and waits for the loops to drain.
func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	pcs := c.pcs
	c.pcs = nil
	c.mu.Unlock()
	var first error
	for _, pc := range pcs {
		if err := pc.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.wg.Wait()
	return first
}
