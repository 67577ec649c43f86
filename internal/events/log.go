// Package events implements the append-only audit log the engine records to
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"liquidity_engine/internal/core"
	"liquidity_engine/pkg/concurrency"
	apperrors "liquidity_engine/pkg/errors"

	"github.com/google/uuid"
)

// Sink receives every recorded event after it is appended
type Sink interface {
	Name() string
	Consume(ctx context.Context, event core.Event) error
}

// DefaultRetention is the number of events kept in memory
const DefaultRetention = 10000

// Log stamps events with an id, a timestamp and the tick id carried by ctx,
// appends them in order and delivers them to sinks. Sink failures are logged
// and never fail Record.
type Log struct {
	mu        sync.RWMutex
	events    []core.Event
	seq       uint64
	retention int
	sinks     []Sink

	pool    *concurrency.WorkerPool
	pending sync.WaitGroup
	logger  core.ILogger
	now     func() time.Time
}

// NewLog creates a log. With a nil pool sinks are called synchronously.
func NewLog(pool *concurrency.WorkerPool, retention int, logger core.ILogger) *Log {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Log{
		retention: retention,
		pool:      pool,
		logger:    logger.WithField("component", "event_log"),
		now:       time.Now,
	}
}

// AddSink registers a sink for events recorded from now on
func (l *Log) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
	l.logger.Info("Registered event sink", "sink", s.Name())
}

func (l *Log) Record(ctx context.Context, event core.Event) error {
	if event.Type == "" {
		return fmt.Errorf("%w: event type is required", apperrors.ErrInvalidInput)
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	if event.TickID == "" {
		event.TickID = core.TickIDFromContext(ctx)
	}

	l.mu.Lock()
	l.seq++
	l.events = append(l.events, event)
	if over := len(l.events) - l.retention; over > 0 {
		l.events = append(l.events[:0:0], l.events[over:]...)
	}
	sinks := append([]Sink(nil), l.sinks...)
	l.mu.Unlock()

	l.logger.Info("Event recorded", "type", event.Type, "id", event.ID, "tick_id", event.TickID)
	l.dispatch(context.WithoutCancel(ctx), sinks, event)
	return nil
}

func (l *Log) dispatch(ctx context.Context, sinks []Sink, event core.Event) {
	for _, s := range sinks {
		s := s
		deliver := func() {
			defer l.pending.Done()
			if err := s.Consume(ctx, event); err != nil {
				l.logger.Error("Event sink failed", "sink", s.Name(), "type", event.Type, "id", event.ID, "error", err)
			}
		}
		l.pending.Add(1)
		if l.pool == nil {
			deliver()
			continue
		}
		if err := l.pool.Submit(deliver); err != nil {
			l.pending.Done()
			l.logger.Warn("Event sink delivery dropped", "sink", s.Name(), "id", event.ID, "error", err)
		}
	}
}

// Events returns a copy of the retained events, oldest first
func (l *Log) Events() []core.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]core.Event(nil), l.events...)
}

// Recent returns up to n of the newest retained events, oldest first
func (l *Log) Recent(n int) []core.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.events) {
		n = len(l.events)
	}
	return append([]core.Event(nil), l.events[len(l.events)-n:]...)
}

// Count is the number of events ever recorded, including those no longer retained
func (l *Log) Count() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// Flush waits for sink deliveries in flight
func (l *Log) Flush() {
	l.pending.Wait()
}
