package kafka

import (
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType     = "event_type"
	HeaderSchemaVersion = "schema_version"
	schemaVersion       = "1.0"
)

// Message is what callers hand to the producer. Payload is JSON encoded.
type Message struct {
	Key     string
	Type    string
	Payload any
	Headers map[string]string
}

// IncomingMessage wraps a fetched kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string
}

func (m *IncomingMessage) EventType() string {
	return m.Headers[HeaderEventType]
}

// Decode unmarshals the message value into dst.
func (m *IncomingMessage) Decode(dst any) error {
	return json.Unmarshal(m.Value, dst)
}

func newIncoming(msg kafka.Message) *IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &IncomingMessage{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Topic:     msg.Topic,
	}
}

// headerCarrier adapts kafka headers to the otel text map carrier.
type headerCarrier map[string]string

func (c headerCarrier) Get(key string) string { return c[key] }

func (c headerCarrier) Set(key, value string) { c[key] = value }

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
