package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSweepSchedule runs retention hourly.
const DefaultSweepSchedule = "@every 1h"

var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a five-field cron expression or an @-descriptor
// such as "@every 30m".
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Sweeper deletes sessions idle for longer than the retention period.
type Sweeper struct {
	pruner    Pruner
	retention time.Duration
	schedule  cron.Schedule
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper builds a sweeper for pruner. schedule defaults to DefaultSweepSchedule.
func NewSweeper(pruner Pruner, retention time.Duration, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	if pruner == nil {
		return nil, errors.New("sweeper: store does not support pruning")
	}
	if retention <= 0 {
		return nil, errors.New("sweeper: retention must be positive")
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}

	return &Sweeper{
		pruner:    pruner,
		retention: retention,
		schedule:  sched,
		logger:    logger.With().Str("component", "sweeper").Logger(),
		now:       time.Now,
	}, nil
}

// Sweep prunes once.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.pruner.Prune(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Session sweep failed")
		return n, err
	}
	if n > 0 {
		s.logger.Info().Int("removed", n).Time("cutoff", cutoff).Msg("Expired sessions removed")
	}
	return n, nil
}

// Start schedules sweeps in the background.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("sweeper is already running")
	}

	c := cron.New()
	c.Schedule(s.schedule, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, _ = s.Sweep(ctx)
	}))
	c.Start()

	s.cron = c
	s.running = true
	s.logger.Info().Dur("retention", s.retention).Msg("Session sweeper started")
	return nil
}

// Stop halts scheduling and waits for a running sweep or ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
