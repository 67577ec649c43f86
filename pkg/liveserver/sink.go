package liveserver

import (
	"context"

	"liquidity_engine/internal/core"
)

// EventSink publishes recorded engine events to stream subscribers
type EventSink struct {
	hub *Hub
}

func NewEventSink(hub *Hub) *EventSink {
	return &EventSink{hub: hub}
}

func (s *EventSink) Name() string {
	return "stream"
}

// Consume never fails; a full hub drops the message and counts it
func (s *EventSink) Consume(_ context.Context, event core.Event) error {
	s.hub.Broadcast(NewMessage(TypeEvent, event))
	return nil
}

// Publish pushes an arbitrary payload such as a tick report or position snapshot
func (s *EventSink) Publish(msgType string, data interface{}) {
	s.hub.Broadcast(NewMessage(msgType, data))
}
