package streaming

import (
	"context"

	"github.com/inkwell-ai/fabler/pkg/schema"
)

// EventFilter specifies which progress events a subscriber wants to receive.
type EventFilter struct {
	RunID      string         `json:"run_id,omitempty"`
	EventTypes []string       `json:"event_types,omitempty"`
	Stages     []schema.Stage `json:"stages,omitempty"`
}

// EventHub provides pub/sub for real-time pipeline progress events.
type EventHub interface {
	Publish(ctx context.Context, event schema.ProgressEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan schema.ProgressEvent, func(), error)
}

// Sink adapts an EventHub to the fire-and-forget sink the engine emits into.
type Sink struct {
	hub EventHub
}

// NewSink wraps a hub. A nil hub yields a sink that discards events.
func NewSink(hub EventHub) *Sink {
	return &Sink{hub: hub}
}

// Publish forwards the event, dropping it when no hub is attached.
func (s *Sink) Publish(event schema.ProgressEvent) {
	if s == nil || s.hub == nil {
		return
	}
	_ = s.hub.Publish(context.Background(), event)
}
