// Package queue carries session lifecycle events over RabbitMQ and hands
// them to a Sink (the MySQL audit table or a log file).
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/piewallah/pw-gateway/internal/model"
)

// DefaultQueue is used when the configuration leaves the name empty.
const DefaultQueue = "session.events"

// Sink stores delivered events.
type Sink interface {
	Record(ctx context.Context, ev model.SessionEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev model.SessionEvent) error

func (f SinkFunc) Record(ctx context.Context, ev model.SessionEvent) error { return f(ctx, ev) }

// Encode serializes an event for the wire.
func Encode(ev model.SessionEvent) ([]byte, error) { return json.Marshal(ev) }

// Decode parses a delivered event and rejects messages missing an id or type.
func Decode(body []byte) (model.SessionEvent, error) {
	var ev model.SessionEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return model.SessionEvent{}, fmt.Errorf("unmarshal: %w", err)
	}
	if ev.ID == "" || ev.Type == "" {
		return model.SessionEvent{}, fmt.Errorf("event missing id or type")
	}
	return ev, nil
}

// SinkPublisher records events synchronously. It stands in for the broker
// when RabbitMQ is disabled.
type SinkPublisher struct{ Sink Sink }

func (p SinkPublisher) Publish(ctx context.Context, ev model.SessionEvent) error {
	return p.Sink.Record(ctx, ev)
}
