// Package bus adapts the Kafka consumer-group API to the pipeline. Offsets
// are never auto-committed; consumers acknowledge explicitly through the
// Committer handed to each delivery, which lets the calculation pipeline
// keep its own per-partition ordering discipline.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Message is one bus delivery.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Committer acknowledges offsets back to the bus. Committing offset n means
// "the next message I want on this partition is n"; callers therefore pass
// lastProcessed+1.
type Committer interface {
	CommitOffset(topic string, partition int32, offset int64) error
}

// Handler receives every delivery on the consumer's claims. It must not
// block: long work is fanned out to a goroutine and the handler returns so
// the claim loop keeps draining.
type Handler func(ctx context.Context, commit Committer, msg *Message)

// Consumer wraps a sarama consumer group subscribed to a fixed topic set.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler Handler
	log     zerolog.Logger
}

// NewConsumer joins the given consumer group, retrying the initial connect
// with exponential backoff before giving up.
func NewConsumer(brokers []string, groupID string, topics []string, handler Handler, log zerolog.Logger) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = groupID
	cfg.Version = sarama.V3_6_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Offsets.AutoCommit.Enable = false
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	var group sarama.ConsumerGroup
	connect := func() error {
		var err error
		group, err = sarama.NewConsumerGroup(brokers, groupID, cfg)
		return err
	}
	if err := backoff.RetryNotify(connect, ConnectBackoff(), func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("retry_in", next).Msg("kafka connect failed")
	}); err != nil {
		return nil, err
	}

	return &Consumer{
		group:   group,
		topics:  topics,
		handler: handler,
		log:     log.With().Str("component", "bus-consumer").Str("group", groupID).Logger(),
	}, nil
}

// Run consumes until ctx is cancelled. Rebalances re-enter Consume; session
// errors are logged and retried.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.log.Error().Err(err).Msg("consumer group error")
		}
	}()

	h := &groupHandler{consumer: c}
	for {
		if err := c.group.Consume(ctx, c.topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.log.Error().Err(err).Msg("consume session ended")
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the group and releases the client.
func (c *Consumer) Close() error {
	return c.group.Close()
}

// ConnectBackoff is the shared startup retry policy: exponential from 1s,
// capped at 30s, five attempts total.
func ConnectBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 0
	return backoff.WithMaxRetries(b, 4)
}

type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.consumer.log.Info().Interface("claims", sess.Claims()).Msg("partitions assigned")
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	commit := sessionCommitter{sess: sess}
	for msg := range claim.Messages() {
		h.consumer.handler(sess.Context(), commit, &Message{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
			Timestamp: msg.Timestamp,
		})
	}
	return nil
}

// sessionCommitter marks and flushes offsets on the live group session.
type sessionCommitter struct {
	sess sarama.ConsumerGroupSession
}

func (s sessionCommitter) CommitOffset(topic string, partition int32, offset int64) error {
	s.sess.MarkOffset(topic, partition, offset, "")
	s.sess.Commit()
	return nil
}
