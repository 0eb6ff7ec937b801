package summarize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/keithlinneman/stancemap/internal/log"
	"github.com/keithlinneman/stancemap/internal/store"
)

const (
	// DefaultInterval is how often the scheduler summarizes active rooms
	DefaultInterval = 5 * time.Minute

	// maxBackoff caps exponential backoff on consecutive failed ticks
	maxBackoff = 30 * time.Minute
)

// Runner is the part of Summarizer the scheduler drives
type Runner interface {
	Run(ctx context.Context, roomID, matchLabel string) (store.RoomSummary, error)
}

// ActiveRooms lists rooms with recent activity
type ActiveRooms interface {
	RoomsWithVotesSince(ctx context.Context, since time.Time) ([]string, error)
}

// SchedulerMetrics is implemented by the metrics package
type SchedulerMetrics interface {
	IncSummarizeRun(result string)
	ObserveSummarizeDuration(seconds float64)
	SetSummarizeLastSuccess(unixSeconds float64)
}

// run results reported to SchedulerMetrics
const (
	ResultOK      = "ok"
	ResultNoVotes = "no_votes"
	ResultError   = "error"
)

type SchedulerOptions struct {
	Logger     log.Logger
	Summarizer Runner
	// Active is optional. Without it only Rooms are summarized.
	Active   ActiveRooms
	Rooms    []string
	Interval time.Duration
	Metrics  SchedulerMetrics
	Now      func() time.Time
}

// Scheduler summarizes rooms on a fixed cadence
type Scheduler struct {
	runner   Runner
	active   ActiveRooms
	rooms    []string
	logger   log.Logger
	interval time.Duration
	metrics  SchedulerMetrics
	now      func() time.Time

	// rooms with votes at or after since are picked up on the next tick
	since time.Time

	consecutiveErrs int

	tickCount int64
	runCount  int64
}

// NewScheduler creates a scheduler. Call Run to start the loop.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		runner:   opts.Summarizer,
		active:   opts.Active,
		rooms:    opts.Rooms,
		logger:   opts.Logger,
		interval: interval,
		metrics:  opts.Metrics,
		now:      now,
		since:    now().Add(-interval),
	}
}

// Run starts the tick loop. Blocks until ctx is cancelled.
// Intended to be launched as: go scheduler.Run(ctx)
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info(ctx, "summarize scheduler starting",
		"interval", s.interval.String(),
		"rooms", s.rooms,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "summarize scheduler stopping",
				"reason", ctx.Err(),
				"ticks", s.tickCount,
				"runs", s.runCount,
			)
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.consecutiveErrs++
				backoff := s.backoffDuration()
				s.logger.Warn(ctx, "summarize scheduler: backing off",
					"consecutive_errors", s.consecutiveErrs,
					"next_tick_in", backoff.String(),
				)
				ticker.Reset(backoff)
			} else if s.consecutiveErrs > 0 {
				s.logger.Info(ctx, "summarize scheduler: recovered, resuming normal interval",
					"had_consecutive_errors", s.consecutiveErrs,
				)
				s.consecutiveErrs = 0
				ticker.Reset(s.interval)
			}
		}
	}
}

// Tick summarizes every due room once. Rooms without votes are skipped.
// The activity window only advances when every room succeeded, so failed
// rooms are retried on the next tick.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.tickCount++
	start := s.now()

	rooms, err := s.dueRooms(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "summarize scheduler: listing active rooms failed")
		return err
	}

	var errs []error
	for _, room := range rooms {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.runOne(ctx, room); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.since = start
	return nil
}

func (s *Scheduler) dueRooms(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{}, len(s.rooms))
	var out []string
	add := func(r string) {
		if r == "" {
			return
		}
		if _, ok := seen[r]; ok {
			return
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	for _, r := range s.rooms {
		add(r)
	}
	if s.active != nil {
		active, err := s.active.RoomsWithVotesSince(ctx, s.since)
		if err != nil {
			return nil, err
		}
		sort.Strings(active)
		for _, r := range active {
			add(r)
		}
	}
	return out, nil
}

func (s *Scheduler) runOne(ctx context.Context, room string) (err error) {
	s.runCount++
	start := s.now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("summarize panic in room %s: %v", room, r)
			s.logger.Error(ctx, err, "summarize scheduler: run panicked, continuing")
			s.observe(ResultError, start)
		}
	}()

	_, err = s.runner.Run(ctx, room, "")
	switch {
	case errors.Is(err, ErrNoVotes):
		s.observe(ResultNoVotes, start)
		return nil
	case err != nil:
		s.logger.Error(ctx, err, "summarize scheduler: room failed", "room_id", room)
		s.observe(ResultError, start)
		return err
	}
	s.observe(ResultOK, start)
	if s.metrics != nil {
		s.metrics.SetSummarizeLastSuccess(float64(s.now().Unix()))
	}
	return nil
}

func (s *Scheduler) observe(result string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncSummarizeRun(result)
	s.metrics.ObserveSummarizeDuration(s.now().Sub(start).Seconds())
}

// backoffDuration computes exponential backoff capped at maxBackoff.
// consecutiveErrs=1 → 2x interval, =2 → 4x, =3 → 8x, etc.
func (s *Scheduler) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(s.consecutiveErrs))
	d := time.Duration(float64(s.interval) * mult)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
