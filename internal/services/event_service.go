package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Order event names published to the stream.
const (
	EventOrderCreated   = "order.created"
	EventOrderDelivered = "order.delivered"
	EventOrderCancelled = "order.cancelled"
)

// OrderEvent is the message published after an order transaction commits.
type OrderEvent struct {
	Event     string    `json:"event"`
	OrderID   uint      `json:"order_id"`
	UserID    uint      `json:"user_id"`
	Status    string    `json:"status"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// EventService publishes order lifecycle events to Kafka, best-effort.
// With no brokers configured it is a no-op.
type EventService struct {
	writer *kafka.Writer
}

// NewEventService constructs EventService. brokers is a comma-separated
// list; empty disables publishing.
func NewEventService(brokers, topic string) *EventService {
	if brokers == "" {
		return &EventService{}
	}

	return &EventService{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
	}
}

// Publish emits one order event. Failures are logged, never returned to
// the request path.
func (s *EventService) Publish(ctx context.Context, event OrderEvent) {
	if s.writer == nil {
		return
	}

	event.Timestamp = time.Now()
	payload, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Msg("marshal order event")
		return
	}

	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("order-%d", event.OrderID)),
		Value: payload,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		log.Warn().Uint("order_id", event.OrderID).Str("event", event.Event).Err(err).
			Msg("order event publish failed")
	}
}

// Close flushes and closes the underlying writer.
func (s *EventService) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
