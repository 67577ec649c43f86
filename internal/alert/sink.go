package alert

import (
	"context"
	"fmt"

	"liquidity_engine/internal/core"
)

// EventSink turns protective audit events into alerts
type EventSink struct {
	manager *AlertManager
}

func NewEventSink(manager *AlertManager) *EventSink {
	return &EventSink{manager: manager}
}

func (s *EventSink) Name() string {
	return "alerts"
}

// Consume alerts on stop-loss and mitigation events and ignores the rest.
// A withdrawal of zero units moved nothing and is not alerted.
func (s *EventSink) Consume(ctx context.Context, e core.Event) error {
	if e.Units != nil && e.Units.IsZero() {
		return nil
	}
	switch e.Type {
	case core.EventStopLossTriggered:
		s.manager.Alert(ctx, "Stop-loss triggered",
			fmt.Sprintf("Price %s breached the stop-loss threshold", e.Price), Critical, eventFields(e))
	case core.EventImpermanentLossMitigation:
		s.manager.Alert(ctx, "Impermanent loss mitigation",
			fmt.Sprintf("Withdrew pool share at price %s", e.Price), Warning, eventFields(e))
	}
	return nil
}

func eventFields(e core.Event) map[string]string {
	fields := map[string]string{"event_id": e.ID}
	if e.TickID != "" {
		fields["tick_id"] = e.TickID
	}
	if e.Units != nil {
		fields["units"] = e.Units.String()
	}
	if e.AmountA != nil {
		fields["amount_a"] = e.AmountA.String()
	}
	if e.AmountB != nil {
		fields["amount_b"] = e.AmountB.String()
	}
	return fields
}
