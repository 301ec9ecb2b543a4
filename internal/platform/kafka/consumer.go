package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is the transport-level view a handler receives.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// Handler processes one message. Returning nil commits the record; returning
// an error rewinds the partition to the failed record so it is processed
// again after a short backoff. Handlers must therefore return nil for
// conditions that retrying cannot fix (expected misses, contract drift).
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Consumer runs one consumer group over one topic with manual commits.
type Consumer struct {
	client  *kgo.Client
	topic   string
	handler Handler
	logger  *slog.Logger
	backoff time.Duration
}

func NewConsumer(brokers []string, group, topic string, handler Handler, logger *slog.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer client for %s: %w", topic, err)
	}
	return &Consumer{
		client:  client,
		topic:   topic,
		handler: handler,
		logger:  logger,
		backoff: 5 * time.Second,
	}, nil
}

// Run polls until the context is cancelled. Each record is handled to
// completion before its offset is committed.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("kafka fetch error",
				"topic", topic, "partition", partition, "error", err)
		})

		var failed bool
		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			msg := &Message{Topic: record.Topic, Key: record.Key, Value: record.Value}
			if err := c.handler.Handle(ctx, msg); err != nil {
				c.logger.Error("message handling failed, will redeliver",
					"topic", record.Topic,
					"partition", record.Partition,
					"offset", record.Offset,
					"error", err,
				)
				// Rewind so the failed record is fetched again.
				c.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
					record.Topic: {record.Partition: {
						Epoch:  record.LeaderEpoch,
						Offset: record.Offset,
					}},
				})
				failed = true
				break
			}
			if err := c.client.CommitRecords(ctx, record); err != nil {
				c.logger.Error("commit failed, record may redeliver",
					"topic", record.Topic, "offset", record.Offset, "error", err)
			}
		}

		if failed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
		}
	}
}
