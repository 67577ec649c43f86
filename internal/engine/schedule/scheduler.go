// Package schedule drives engine ticks from a cron expression or a fixed interval,
// optionally polling the upkeep check between scheduled ticks.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"liquidity_engine/internal/core"
	"liquidity_engine/internal/engine"
	apperrors "liquidity_engine/pkg/errors"

	"github.com/robfig/cron/v3"
)

// Config selects the trigger. Cron takes precedence over Interval.
type Config struct {
	Cron           string
	Interval       time.Duration
	UpkeepInterval time.Duration
}

// Scheduler fires ticks. A failed tick is logged and the next one fires on time;
// nothing is retried.
type Scheduler struct {
	target   engine.Ticker
	cfg      Config
	schedule cron.Schedule
	logger   core.ILogger
	now      func() time.Time
}

func New(target engine.Ticker, cfg Config, logger core.ILogger) (*Scheduler, error) {
	s := &Scheduler{
		target: target,
		cfg:    cfg,
		logger: logger.WithField("component", "scheduler"),
		now:    time.Now,
	}
	switch {
	case cfg.Cron != "":
		sched, err := cron.ParseStandard(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("%w: cron %q: %v", apperrors.ErrInvalidInput, cfg.Cron, err)
		}
		s.schedule = sched
	case cfg.Interval <= 0:
		return nil, fmt.Errorf("%w: either a cron expression or a positive interval is required", apperrors.ErrInvalidInput)
	}
	return s, nil
}

// Run blocks until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if s.cfg.UpkeepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.pollUpkeep(ctx)
		}()
	}

	var err error
	if s.schedule != nil {
		err = s.runCron(ctx)
	} else {
		err = s.runInterval(ctx)
	}
	wg.Wait()
	return err
}

func (s *Scheduler) runCron(ctx context.Context) error {
	c := cron.New(cron.WithLogger(cronLogger{s.logger}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.fire(ctx, "cron") }))
	c.Start()
	s.logger.Info("Scheduler started", "cron", s.cfg.Cron, "upkeep_interval", s.cfg.UpkeepInterval)

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) runInterval(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.logger.Info("Scheduler started", "interval", s.cfg.Interval, "upkeep_interval", s.cfg.UpkeepInterval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.fire(ctx, "interval")
		}
	}
}

func (s *Scheduler) pollUpkeep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.UpkeepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			up, err := s.target.CheckUpkeep(ctx)
			if err != nil {
				s.logger.Warn("Upkeep check failed", "error", err)
				continue
			}
			if up.Needed {
				s.logger.Info("Upkeep needed", "decision", up.Evaluation.Decision.String(), "price", up.Price.String())
				s.fire(ctx, "upkeep")
			}
		}
	}
}

// fire runs one tick; it returns whether the tick ran
func (s *Scheduler) fire(ctx context.Context, trigger string) bool {
	if ctx.Err() != nil {
		return false
	}
	report, err := s.target.Tick(ctx, s.now())
	switch {
	case errors.Is(err, apperrors.ErrTickInProgress):
		s.logger.Debug("Tick skipped, previous tick still running", "trigger", trigger)
		return false
	case errors.Is(err, apperrors.ErrEngineStopped):
		return false
	case err != nil:
		s.logger.Error("Tick failed", "trigger", trigger, "tick_id", report.TickID, "error", err)
	default:
		s.logger.Debug("Tick complete", "trigger", trigger, "tick_id", report.TickID,
			"action", report.Action.String(), "duration", report.Duration)
	}
	return true
}

type cronLogger struct {
	logger core.ILogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
