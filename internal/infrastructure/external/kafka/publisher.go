package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/garyjia/fleet-requests/internal/application/dispatcher"
	"github.com/garyjia/fleet-requests/internal/domain/event"
)

// Config holds broker and topic settings
type Config struct {
	Brokers      []string
	RequestTopic string
	TripTopic    string
	WriteTimeout time.Duration
}

// messageWriter is the subset of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher forwards committed domain events to Kafka.
// Request lifecycle events and trip telemetry go to separate topics, keyed by aggregate id
// so each request or trip stays ordered within its partition.
type Publisher struct {
	writer       messageWriter
	requestTopic string
	tripTopic    string
	timeout      time.Duration
	logger       *zap.Logger
}

// NewPublisher creates a publisher over a kafka-go writer. Topics are set per message.
func NewPublisher(cfg Config, logger *zap.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return newPublisher(w, cfg, logger)
}

func newPublisher(w messageWriter, cfg Config, logger *zap.Logger) *Publisher {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Publisher{
		writer:       w,
		requestTopic: cfg.RequestTopic,
		tripTopic:    cfg.TripTopic,
		timeout:      timeout,
		logger:       logger,
	}
}

// Register subscribes the publisher to every event of the dispatcher
func (p *Publisher) Register(d dispatcher.Dispatcher) {
	d.SubscribeAll("kafka-publisher", p.Handle)
}

// Handle publishes one event
func (p *Publisher) Handle(ctx context.Context, evt *event.Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", evt.ID, err)
	}

	topic := p.requestTopic
	if evt.Type.IsTrip() {
		topic = p.tripTopic
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(evt.AggregateID),
		Value: value,
		Time:  evt.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
			{Key: "correlation_id", Value: []byte(evt.CorrelationID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type.String()),
			zap.String("topic", topic),
			zap.Error(err))
		return fmt.Errorf("failed to publish event %s: %w", evt.ID, err)
	}
	return nil
}

// Close flushes and closes the writer
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
