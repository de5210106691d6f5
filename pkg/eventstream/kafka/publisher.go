// Package kafka publishes relay events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/scout/pkg/eventstream"
)

// DefaultTopic is used when Config.Topic is empty.
const DefaultTopic = eventstream.EventTypeRelayCompleted

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config configures the Kafka publisher.
type Config struct {
	// Brokers is a comma-separated host:port list.
	Brokers string
	Topic   string
	Logger  *slog.Logger

	// Writer overrides the kafka-go writer built from Brokers.
	Writer MessageWriter
}

// Publisher writes one message per relay event, keyed by session id so a
// session's events stay ordered within a partition.
type Publisher struct {
	writer MessageWriter
	topic  string
	logger *slog.Logger
}

var _ eventstream.Publisher = (*Publisher)(nil)

// NewPublisher creates a Kafka eventstream publisher.
func NewPublisher(c Config) (*Publisher, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	topic := c.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	writer := c.Writer
	if writer == nil {
		brokers := splitBrokers(c.Brokers)
		if len(brokers) == 0 {
			return nil, errors.New("kafka brokers are required")
		}
		writer = &kafkago.Writer{
			Addr:                   kafkago.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireOne,
			BatchTimeout:           50 * time.Millisecond,
			AllowAutoTopicCreation: true,
			ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...any) {
				logger.Error("kafka writer", "message", fmt.Sprintf(msg, args...))
			}),
		}
	}

	return &Publisher{writer: writer, topic: topic, logger: logger}, nil
}

func splitBrokers(s string) []string {
	var out []string
	for b := range strings.SplitSeq(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// PublishRelay serializes event as JSON and writes it synchronously.
func (p *Publisher) PublishRelay(ctx context.Context, event *eventstream.RelayCompletedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling relay event: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(event.SessionID),
		Value: value,
		Time:  event.EmittedAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "schema_version", Value: []byte(fmt.Sprint(event.SchemaVersion))},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing relay event to %s: %w", p.topic, err)
	}

	p.logger.Debug("published relay event", "topic", p.topic, "event_id", event.EventID, "session_id", event.SessionID)
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
