package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
	HeaderTraceID      = "x-trace-id"
)

// EventPublisher implements orders.Publisher on top of a Producer.
type EventPublisher struct {
	P *Producer
}

func (e EventPublisher) Publish(ctx context.Context, topic string, env orders.Envelope) error {
	m, err := EnvelopeMessage(topic, env)
	if err != nil {
		return err
	}
	return e.P.Publish(ctx, m)
}

// EnvelopeMessage keys the message by order id so one order's events stay
// on one partition, in order.
func EnvelopeMessage(topic string, env orders.Envelope) (kafka.Message, error) {
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal %s envelope: %w", env.EventType, err)
	}
	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(env.EventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	}
	if env.TraceID != "" {
		headers = append(headers, kafka.Header{Key: HeaderTraceID, Value: []byte(env.TraceID)})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     orders.PartitionKey(env.CorrelationID),
		Value:   value,
		Headers: headers,
	}, nil
}

func Header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
