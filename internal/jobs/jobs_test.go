package jobs

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func TestNewState_Idle(t *testing.T) {
	t.Parallel()

	snap := NewState(nil).Snapshot()
	assert.False(t, snap.Running)
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Equal(t, "idle", snap.Status)
	assert.Empty(t, snap.Logs)
}

func TestBegin_MutualExclusion(t *testing.T) {
	t.Parallel()

	s := NewState(nil)
	s.Append("left over from a previous job")
	require.True(t, s.Begin("a", "starting"))
	assert.False(t, s.Begin("b", "starting"))

	snap := s.Snapshot()
	assert.Equal(t, "a", snap.JobID)
	assert.True(t, snap.Running)
	assert.Empty(t, snap.Logs, "Begin must start a fresh log")
}

func TestBegin_Concurrent(t *testing.T) {
	t.Parallel()

	s := NewState(nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if s.Begin(fmt.Sprint(i), "starting") {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, won)
}

func TestTransition_TerminalClearsRunning(t *testing.T) {
	t.Parallel()

	for _, terminal := range []Phase{PhaseSucceeded, PhaseLoginFailed, PhaseCancelled, PhaseFatal} {
		s := NewState(nil)
		require.True(t, s.Begin("a", "starting"))
		require.NoError(t, s.Transition(PhaseLoggingIn, "logging in"))
		if terminal == PhaseSucceeded {
			require.NoError(t, s.Transition(PhaseConfiguringSearch, "configuring"))
			require.NoError(t, s.Transition(PhasePolling, "polling"))
			require.NoError(t, s.Transition(PhaseBooking, "booking"))
		}
		require.NoError(t, s.Transition(terminal, "done"), terminal)
		assert.False(t, s.Running(), terminal)
		assert.True(t, terminal.IsTerminal())
	}
}

func TestTransition_Invalid(t *testing.T) {
	t.Parallel()

	s := NewState(nil)
	require.True(t, s.Begin("a", "starting"))
	err := s.Transition(PhaseSucceeded, "nope")
	require.Error(t, err)
	assert.Equal(t, PhaseStarting, s.Phase())
	assert.True(t, s.Running())
}

func TestValidateTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Phase
		wantErr  bool
	}{
		{PhaseIdle, PhaseStarting, false},
		{PhaseIdle, PhasePolling, true},
		{PhaseStarting, PhaseLoggingIn, false},
		{PhaseLoggingIn, PhaseLoginFailed, false},
		{PhaseLoggingIn, PhaseSucceeded, true},
		{PhaseConfiguringSearch, PhasePolling, false},
		{PhasePolling, PhaseBooking, false},
		{PhasePolling, PhaseSucceeded, true},
		{PhaseBooking, PhaseSucceeded, false},
		{PhaseBooking, PhasePolling, false},
		{PhaseSucceeded, PhasePolling, true},
		{PhaseCancelled, PhaseStarting, false},
		{Phase("bogus"), PhaseStarting, true},
	}
	for _, tt := range tests {
		err := ValidateTransition(tt.from, tt.to)
		if tt.wantErr {
			assert.Error(t, err, "%s -> %s", tt.from, tt.to)
		} else {
			assert.NoError(t, err, "%s -> %s", tt.from, tt.to)
		}
	}
}

func TestStop(t *testing.T) {
	t.Parallel()

	s := NewState(nil)
	assert.False(t, s.Stop("cancelled"), "nothing to stop")

	require.True(t, s.Begin("a", "starting"))
	assert.True(t, s.Stop("cancelled"))
	assert.False(t, s.Stop("cancelled"), "second stop is a no-op")

	snap := s.Snapshot()
	assert.False(t, snap.Running)
	assert.Equal(t, "cancelled", snap.Status)
}

func TestAppend_MaxAgeRetention(t *testing.T) {
	t.Parallel()

	clock := newClock()
	s := NewState(MaxAge(time.Hour))
	s.SetClock(clock.Now)

	s.Append("first")
	clock.Advance(30 * time.Minute)
	s.Append("second")
	clock.Advance(31 * time.Minute)
	s.Append("third")

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Message)
	assert.Equal(t, "third", entries[1].Message)
	for _, e := range entries {
		assert.True(t, clock.Now().Sub(e.At) <= time.Hour)
	}
}

func TestAppend_MaxAgeRetentionEdge(t *testing.T) {
	t.Parallel()

	clock := newClock()
	s := NewState(MaxAge(time.Hour))
	s.SetClock(clock.Now)

	s.Append("old")
	clock.Advance(time.Nanosecond)
	s.Append("younger")

	clock.Advance(time.Hour - time.Nanosecond)
	s.Append("now")

	entries := s.Entries()
	require.Len(t, entries, 2, "an entry exactly one window old is dropped")
	assert.Equal(t, "younger", entries[0].Message)
	assert.Equal(t, time.Hour-time.Nanosecond, clock.Now().Sub(entries[0].At))
	assert.Equal(t, "now", entries[1].Message)
}

func TestAppend_MaxCountRetention(t *testing.T) {
	t.Parallel()

	s := NewState(MaxCount(100))
	for i := 0; i < 101; i++ {
		s.Appendf("line %d", i)
	}
	entries := s.Entries()
	require.Len(t, entries, 100)
	assert.Equal(t, "line 1", entries[0].Message)
	assert.Equal(t, "line 100", entries[99].Message)
}

func TestAppend_CombinedRetention(t *testing.T) {
	t.Parallel()

	clock := newClock()
	s := NewState(Both{MaxAge(time.Minute), MaxCount(2)})
	s.SetClock(clock.Now)

	s.Append("a")
	s.Append("b")
	s.Append("c")
	assert.Len(t, s.Entries(), 2)

	clock.Advance(2 * time.Minute)
	s.Append("d")
	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "d", entries[0].Message)
}

func TestAppend_Observers(t *testing.T) {
	t.Parallel()

	s := NewState(nil)
	var got []string
	s.Observe(func(e Entry) { got = append(got, e.Message) })
	s.Append("one")
	s.Appendf("two %d", 2)
	assert.Equal(t, []string{"one", "two 2"}, got)
}

func TestSnapshot_FormatsLogs(t *testing.T) {
	t.Parallel()

	clock := newClock()
	s := NewState(nil)
	s.SetClock(clock.Now)
	s.Append("hello")

	snap := s.Snapshot()
	require.Len(t, snap.Logs, 1)
	assert.Equal(t, "[2025-03-01 08:00:00] hello", snap.Logs[0])
}
