// Package scheduler runs the fuel price sync on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/fuelwatch/fpdsync/internal/models"
	"github.com/fuelwatch/fpdsync/internal/syncer"
)

// Runner runs a single sync.
type Runner interface {
	Run(ctx context.Context, opts syncer.RunOptions) (models.SyncResult, error)
}

// Scheduler manages the sync schedule.
type Scheduler struct {
	runner     Runner
	expr       string
	schedule   cron.Schedule
	runOnStart bool
	logger     zerolog.Logger

	mu         sync.RWMutex
	nextSyncAt time.Time
	lastSyncAt *time.Time
	running    bool
}

// New creates a new Scheduler. expr is a standard five field cron
// expression or a descriptor such as @hourly or @every 15m.
func New(r Runner, expr string, runOnStart bool, logger zerolog.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, eris.Wrapf(err, "parsing sync schedule %q", expr)
	}

	return &Scheduler{
		runner:     r,
		expr:       expr,
		schedule:   schedule,
		runOnStart: runOnStart,
		logger:     logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Start starts the scheduler and blocks until the context is cancelled.
// A run still in progress is awaited before Start returns.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info().Str("schedule", s.expr).Bool("runOnStart", s.runOnStart).Msg("starting scheduler")

	if s.runOnStart {
		s.runSync(ctx)
	}

	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() {
		s.runSync(ctx)
	}))
	c.Start()

	s.updateNext()
	s.logger.Info().Time("nextSync", s.NextSyncAt()).Msg("next sync scheduled")

	<-ctx.Done()

	stopped := c.Stop()
	<-stopped.Done()

	s.logger.Info().Msg("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) runSync(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	s.logger.Info().Msg("running scheduled sync")

	now := time.Now()
	s.mu.Lock()
	s.lastSyncAt = &now
	s.mu.Unlock()

	result, err := s.runner.Run(ctx, syncer.RunOptions{})
	switch {
	case errors.Is(err, syncer.ErrAlreadyRunning):
		s.logger.Warn().Msg("previous sync still running, skipping")
	case err != nil:
		s.logger.Error().Err(err).Msg("scheduled sync failed")
	default:
		s.logger.Info().
			Int("sites", result.Sites).
			Dur("duration", result.Duration).
			Msg("scheduled sync completed")
	}

	s.updateNext()
}

func (s *Scheduler) updateNext() {
	next := s.schedule.Next(time.Now())
	s.mu.Lock()
	s.nextSyncAt = next
	s.mu.Unlock()
}

// Schedule returns the cron expression.
func (s *Scheduler) Schedule() string {
	return s.expr
}

// NextSyncAt returns the time of the next scheduled sync.
func (s *Scheduler) NextSyncAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSyncAt
}

// LastSyncAt returns when the last scheduled sync started.
func (s *Scheduler) LastSyncAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSyncAt
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
