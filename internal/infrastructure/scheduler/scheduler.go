package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts standard 5 field expressions, an optional leading seconds
// field and descriptors such as @hourly.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a cron expression.
func ParseCron(spec string) (cron.Schedule, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return schedule, nil
}

type Logger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

type Options struct {
	Cron  string
	Delay time.Duration
	Hours []int
}

// Scheduler times engine iterations. A cron expression takes precedence
// over the fixed delay, and iterations only start inside active hours.
type Scheduler struct {
	schedule cron.Schedule
	delay    time.Duration
	hours    ActiveHours
	logger   Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	started  bool
}

func New(opts Options, logger Logger) (*Scheduler, error) {
	hours, err := NewActiveHours(opts.Hours)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		delay:  opts.Delay,
		hours:  hours,
		logger: logger,
		now:    time.Now,
		sleep:  Sleep,
	}
	if opts.Cron != "" {
		if s.schedule, err = ParseCron(opts.Cron); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) Hours() ActiveHours {
	return s.hours
}

// Next returns the start time of the iteration following now.
func (s *Scheduler) Next(now time.Time) time.Time {
	if s.schedule != nil {
		next := s.schedule.Next(now)
		if !next.IsZero() {
			return next
		}
		s.logger.Warnf("Cron expression has no next run time, using delay of %s", s.delay)
	}
	return now.Add(s.delay)
}

// WaitForNextIteration blocks until the next iteration may start. The first
// call returns at once unless a cron expression is set. It is not safe for
// concurrent use.
func (s *Scheduler) WaitForNextIteration(ctx context.Context) error {
	if s.started || s.schedule != nil {
		now := s.now()
		if err := s.sleep(ctx, s.Next(now).Sub(now)); err != nil {
			return err
		}
	}
	s.started = true

	return s.WaitUntilActiveHours(ctx)
}

// WaitUntilActiveHours blocks until the current hour is an active hour.
func (s *Scheduler) WaitUntilActiveHours(ctx context.Context) error {
	for {
		now := s.now()
		if s.hours.Allowed(now) {
			return ctx.Err()
		}
		next := s.hours.NextActive(now)
		s.logger.Infof("Outside active hours, waiting until %s", next.Format(time.RFC3339))
		if err := s.sleep(ctx, next.Sub(now)); err != nil {
			return err
		}
	}
}

// WaitUntil blocks until t or until ctx is done.
func WaitUntil(ctx context.Context, t time.Time) error {
	return Sleep(ctx, time.Until(t))
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
