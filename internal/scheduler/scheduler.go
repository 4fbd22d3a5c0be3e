// Package scheduler owns the single reservation job: it starts it in the background,
// cancels it, and reports on it.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/example/srt-scheduler/internal/domain/reservation"
	"github.com/example/srt-scheduler/internal/engine"
	"github.com/example/srt-scheduler/internal/jobs"
	"github.com/example/srt-scheduler/internal/logger"
)

// Runner drives one claimed job to a terminal phase.
type Runner interface {
	Run(ctx context.Context, st *jobs.State, req reservation.Request) jobs.Phase
}

// Scheduler runs at most one job at a time against State.
type Scheduler struct {
	State  *jobs.State
	Runner Runner
	Log    logger.Logger

	// NewID generates job IDs. Defaults to random UUIDs.
	NewID func() string

	mu     sync.Mutex
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func New(st *jobs.State, runner Runner, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{State: st, Runner: runner, Log: log}
}

// Start validates in and launches a job in the background, returning its ID.
// A job that was cancelled but has not yet released its browser still counts as running.
func (s *Scheduler) Start(in reservation.Input) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy() {
		return "", reservation.ErrAlreadyRunning
	}
	req, err := reservation.Parse(in)
	if err != nil {
		return "", err
	}

	id := s.newID()
	if !s.State.Begin(id, "starting") {
		return "", reservation.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	log := s.Log.With(logger.String("job_id", id))
	log.Info("job started", logger.String("route", req.Route()))

	go func() {
		defer close(done)
		defer cancel(nil)
		defer func() {
			// The runner recovers its own panics; this keeps the state usable if it does not.
			if p := recover(); p != nil {
				log.Error("job panicked", logger.Any("panic", p))
				s.State.Append(fmt.Sprintf("unexpected error: %v", p))
				_ = s.State.Transition(jobs.PhaseFatal, fmt.Sprintf("error: %v", p))
				s.State.Stop(fmt.Sprintf("error: %v", p))
			}
		}()

		phase := s.Runner.Run(ctx, s.State, req)
		log.Info("job finished", logger.String("phase", string(phase)))
	}()

	return id, nil
}

func (s *Scheduler) busy() bool {
	if s.State.Running() {
		return true
	}
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Scheduler) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// Cancel asks the running job to stop. The job releases its browser on its own.
func (s *Scheduler) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.State.Stop("cancelled") {
		return reservation.ErrNotRunning
	}
	s.State.Append("cancelled by user")
	if s.cancel != nil {
		s.cancel(engine.ErrCancelled)
	}
	s.Log.Info("job cancel requested", logger.String("job_id", s.State.Snapshot().JobID))
	return nil
}

// Status returns the current job snapshot.
func (s *Scheduler) Status() jobs.Snapshot {
	return s.State.Snapshot()
}

// Wait blocks until the current job, if any, has finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels the running job and waits for it to release its browser.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.State.Stop("cancelled") {
		s.State.Append("server shutting down")
	}
	if s.cancel != nil {
		s.cancel(engine.ErrCancelled)
	}
	s.mu.Unlock()
	return s.Wait(ctx)
}
