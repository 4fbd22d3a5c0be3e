package jobs

import (
	"fmt"
	"sync"
	"time"
)

// DefaultRetention keeps one hour of log.
const DefaultRetention = MaxAge(time.Hour)

// Entry is one line of the job log.
type Entry struct {
	At      time.Time
	Message string
}

func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s", e.At.Format("2006-01-02 15:04:05"), e.Message)
}

// Snapshot is a consistent copy of the state at one instant.
type Snapshot struct {
	JobID     string
	Running   bool
	Phase     Phase
	Status    string
	StartedAt time.Time
	Logs      []string
}

// State is the process-wide record of the reservation job.
// The engine is its only writer while a job runs, except for Cancel (running flag and
// status) and Begin (fresh log).
type State struct {
	mu        sync.RWMutex
	jobID     string
	running   bool
	phase     Phase
	status    string
	startedAt time.Time
	entries   []Entry

	retention Retention
	now       func() time.Time
	observers []func(Entry)
}

// NewState returns an idle state. A nil retention means DefaultRetention.
func NewState(retention Retention) *State {
	if retention == nil {
		retention = DefaultRetention
	}
	return &State{
		phase:     PhaseIdle,
		status:    "idle",
		retention: retention,
		now:       time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (s *State) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Observe registers fn to be called with every appended entry, outside the lock.
func (s *State) Observe(fn func(Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Begin atomically claims the state for a new job. It fails if a job is running.
func (s *State) Begin(jobID, status string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.jobID = jobID
	s.running = true
	s.phase = PhaseStarting
	s.status = status
	s.startedAt = s.now()
	s.entries = nil
	return true
}

// Running reports whether the job has not been stopped.
func (s *State) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Phase returns the current phase.
func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Transition moves to phase p and sets the human readable status.
// An invalid transition is rejected and leaves the state untouched.
func (s *State) Transition(p Phase, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != p {
		if err := ValidateTransition(s.phase, p); err != nil {
			return err
		}
	}
	s.phase = p
	s.status = status
	if p.IsTerminal() {
		s.running = false
	}
	return nil
}

// SetStatus changes the status text without changing phase.
func (s *State) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Stop clears the running flag for a cancel request. It returns false if no job was running.
func (s *State) Stop(status string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.running = false
	s.status = status
	return true
}

// Append adds a log entry and applies the retention policy.
func (s *State) Append(msg string) Entry {
	s.mu.Lock()
	e := Entry{At: s.now(), Message: msg}
	s.entries = append(s.entries, e)
	s.entries = s.retention.Prune(s.entries, e.At)
	observers := s.observers
	s.mu.Unlock()

	for _, fn := range observers {
		fn(e)
	}
	return e
}

// Appendf is Append with formatting.
func (s *State) Appendf(format string, args ...any) Entry {
	return s.Append(fmt.Sprintf(format, args...))
}

// Entries returns a copy of the retained log.
func (s *State) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Snapshot returns the state as of now. It has no side effects.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := make([]string, len(s.entries))
	for i, e := range s.entries {
		logs[i] = e.String()
	}
	return Snapshot{
		JobID:     s.jobID,
		Running:   s.running,
		Phase:     s.phase,
		Status:    s.status,
		StartedAt: s.startedAt,
		Logs:      logs,
	}
}
