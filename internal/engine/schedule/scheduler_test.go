package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"liquidity_engine/internal/core"
	"liquidity_engine/internal/engine"
	apperrors "liquidity_engine/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})               {}
func (m *mockLogger) Info(msg string, fields ...interface{})                {}
func (m *mockLogger) Warn(msg string, fields ...interface{})                {}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

type fakeTicker struct {
	ticks   atomic.Int32
	upkeeps atomic.Int32
	needed  atomic.Bool
	tickErr error
}

func (f *fakeTicker) Tick(ctx context.Context, now time.Time) (engine.TickReport, error) {
	f.ticks.Add(1)
	return engine.TickReport{TickID: "t"}, f.tickErr
}

func (f *fakeTicker) CheckUpkeep(ctx context.Context) (engine.Upkeep, error) {
	f.upkeeps.Add(1)
	return engine.Upkeep{Needed: f.needed.Load()}, nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(&fakeTicker{}, Config{}, &mockLogger{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = New(&fakeTicker{}, Config{Cron: "not a cron"}, &mockLogger{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	s, err := New(&fakeTicker{}, Config{Cron: "*/5 * * * *"}, &mockLogger{})
	require.NoError(t, err)
	assert.NotNil(t, s.schedule)
}

func TestRun_Interval(t *testing.T) {
	target := &fakeTicker{tickErr: errors.New("oracle down")}
	s, err := New(target, Config{Interval: 10 * time.Millisecond}, &mockLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	// Failed ticks do not stop the schedule
	assert.GreaterOrEqual(t, target.ticks.Load(), int32(3))
}

func TestRun_UpkeepTriggersTick(t *testing.T) {
	target := &fakeTicker{}
	s, err := New(target, Config{Interval: time.Hour, UpkeepInterval: 10 * time.Millisecond}, &mockLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	go func() {
		time.Sleep(30 * time.Millisecond)
		target.needed.Store(true)
	}()
	require.NoError(t, s.Run(ctx))

	assert.Greater(t, target.upkeeps.Load(), int32(1))
	assert.Greater(t, target.ticks.Load(), int32(0))
}

func TestFire_SkipsBusyAndStopped(t *testing.T) {
	target := &fakeTicker{tickErr: apperrors.ErrTickInProgress}
	s, err := New(target, Config{Interval: time.Second}, &mockLogger{})
	require.NoError(t, err)

	assert.False(t, s.fire(context.Background(), "test"))
	target.tickErr = apperrors.ErrEngineStopped
	assert.False(t, s.fire(context.Background(), "test"))
	target.tickErr = nil
	assert.True(t, s.fire(context.Background(), "test"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, s.fire(ctx, "test"))
	assert.Equal(t, int32(3), target.ticks.Load())
}
