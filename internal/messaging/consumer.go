package messaging

import (
	"context"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var consumerTracer = otel.Tracer("messaging/consumer")

type Consumer struct {
	reader  *kafka.Reader
	topic   string
	groupID string
	retries uint64
}

type consumerOptions struct {
	reader  kafka.ReaderConfig
	retries uint64
}

type ConsumerOption func(*consumerOptions)

func WithStartOffset(offset int64) ConsumerOption {
	return func(o *consumerOptions) {
		o.reader.StartOffset = offset
	}
}

// WithHandlerRetries retries a failing handler with exponential backoff
// before giving up on the message.
func WithHandlerRetries(n uint64) ConsumerOption {
	return func(o *consumerOptions) {
		o.retries = n
	}
}

func NewConsumer(brokers []string, topic, groupID string, opts ...ConsumerOption) *Consumer {
	o := consumerOptions{
		reader: kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		},
	}

	for _, opt := range opts {
		opt(&o)
	}

	return &Consumer{
		reader:  kafka.NewReader(o.reader),
		topic:   topic,
		groupID: groupID,
		retries: o.retries,
	}
}

// HandlerFunc processes one message payload. An error that outlives the
// handler retries stops the consumer without committing, so the message is
// redelivered on restart.
type HandlerFunc func(ctx context.Context, payload []byte) error

func (c *Consumer) Consume(ctx context.Context, handler HandlerFunc) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		if err := c.processMessage(ctx, msg, handler); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message, handler HandlerFunc) error {
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, carrierFor(&msg))

	spanCtx, span := consumerTracer.Start(parentCtx, "process "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingKafkaConsumerGroup(c.groupID),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
		),
	)
	defer span.End()

	attempts := 0
	op := func() error {
		attempts++
		return handler(spanCtx, msg.Value)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries), spanCtx)

	err := backoff.Retry(op, policy)
	span.SetAttributes(attribute.Int("messaging.handler.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
