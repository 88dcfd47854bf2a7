// Package scheduler owns the recurring ingestion triggers and guarantees
// that at most one ingestion run is active process-wide.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/agrayLee/SAM-Log-Analysis/internal/config"
	"github.com/agrayLee/SAM-Log-Analysis/internal/ingest"
	"github.com/agrayLee/SAM-Log-Analysis/internal/model"
)

// ErrAlreadyRunning is returned by a manual trigger while a run is in
// flight. Recurring triggers skip silently instead.
var ErrAlreadyRunning = errors.New("ingestion run already in progress")

// startupDelay is how long after Start the first realtime pass fires, so a
// restarted process does not wait a full interval.
const startupDelay = 5 * time.Second

// RunFunc executes one ingestion pass. Satisfied by (*ingest.Runner).Run.
type RunFunc func(ctx context.Context, kind ingest.Kind, date *time.Time, sink ingest.EventSink) (*model.Summary, error)

// Scheduler drives the realtime, hourly, and daily triggers plus the
// manual entry point. The running flag and last process time are the only
// cross-trigger shared state and are always touched under the mutex.
type Scheduler struct {
	run  RunFunc
	cron *cron.Cron
	log  zerolog.Logger

	triggers []string

	mu          sync.Mutex
	running     bool
	lastProcess time.Time

	startupTimer *time.Timer
}

// New builds a scheduler from the configured cron expressions. Triggers do
// not fire until Start is called.
func New(cfg config.SchedulerConfig, run RunFunc, log zerolog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	s := &Scheduler{
		run:  run,
		cron: cron.New(cron.WithLocation(loc)),
		log:  log.With().Str("component", "scheduler").Logger(),
	}

	for _, t := range []struct {
		name string
		spec string
		kind ingest.Kind
	}{
		{"realtime", cfg.RealtimeSpec, ingest.KindRealtime},
		{"hourly", cfg.HourlySpec, ingest.KindRecent},
		{"daily", cfg.DailySpec, ingest.KindDaily},
	} {
		kind := t.kind
		if _, err := s.cron.AddFunc(t.spec, func() { s.trigger(kind) }); err != nil {
			return nil, fmt.Errorf("trigger %s (%q): %w", t.name, t.spec, err)
		}
		s.triggers = append(s.triggers, t.name)
	}
	return s, nil
}

// Start begins firing triggers and kicks a realtime pass shortly after, in
// addition to its recurring cadence.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.startupTimer = time.AfterFunc(startupDelay, func() { s.trigger(ingest.KindRealtime) })
	s.log.Info().Strs("triggers", s.triggers).Msg("scheduler started")
}

// Stop stops firing triggers. An in-flight run is not interrupted.
func (s *Scheduler) Stop() {
	if s.startupTimer != nil {
		s.startupTimer.Stop()
	}
	s.cron.Stop()
	s.log.Info().Msg("scheduler stopped")
}

// trigger is the recurring-tick path: check-and-spawn, never wait. A tick
// that finds a run in progress is a silent no-op; the next tick picks up
// the same watermark.
func (s *Scheduler) trigger(kind ingest.Kind) {
	if !s.begin() {
		s.log.Debug().Str("kind", string(kind)).Msg("run in progress, trigger skipped")
		return
	}
	go func() {
		defer s.end()
		if _, err := s.run(context.Background(), kind, nil, nil); err != nil {
			s.log.Error().Err(err).Str("kind", string(kind)).Msg("scheduled run failed")
			return
		}
		s.markProcessed()
	}()
}

// RunManual runs one pass synchronously for the API layer. Unlike the
// recurring triggers it surfaces the run's error to the caller, and it
// reports ErrAlreadyRunning instead of skipping.
func (s *Scheduler) RunManual(ctx context.Context, date *time.Time, sink ingest.EventSink) (*model.Summary, error) {
	if !s.begin() {
		return nil, ErrAlreadyRunning
	}
	defer s.end()

	summary, err := s.run(ctx, ingest.KindManual, date, sink)
	if err != nil {
		return nil, err
	}
	s.markProcessed()
	return summary, nil
}

// Status reports scheduler state for the HTTP layer.
func (s *Scheduler) Status() model.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := model.RunStatus{
		IsRunning:         s.running,
		ScheduledTriggers: append([]string(nil), s.triggers...),
	}
	if !s.lastProcess.IsZero() {
		t := s.lastProcess
		st.LastProcessTime = &t
	}
	return st
}

// begin atomically claims the single-flight slot.
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

// end releases the slot unconditionally, however the run finished.
func (s *Scheduler) end() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Scheduler) markProcessed() {
	s.mu.Lock()
	s.lastProcess = time.Now()
	s.mu.Unlock()
}
