package mock

import (
	"context"
	"sync"

	"liquidity_engine/internal/core"
)

// Recorder keeps recorded events in memory
type Recorder struct {
	mu     sync.Mutex
	events []core.Event
	Err    error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Record(ctx context.Context, event core.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if event.TickID == "" {
		event.TickID = core.TickIDFromContext(ctx)
	}
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Event(nil), r.events...)
}

// OfType filters recorded events by type
func (r *Recorder) OfType(t core.EventType) []core.Event {
	var out []core.Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
