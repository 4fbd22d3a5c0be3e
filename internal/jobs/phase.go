package jobs

import "fmt"

// Phase is a reservation engine state.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseStarting          Phase = "starting"
	PhaseLoggingIn         Phase = "logging_in"
	PhaseConfiguringSearch Phase = "configuring_search"
	PhasePolling           Phase = "polling"
	PhaseBooking           Phase = "booking"
	PhaseSucceeded         Phase = "succeeded"
	PhaseLoginFailed       Phase = "login_failed"
	PhaseCancelled         Phase = "cancelled"
	PhaseFatal             Phase = "fatal"
)

var transitions = map[Phase][]Phase{
	PhaseIdle:              {PhaseStarting},
	PhaseStarting:          {PhaseLoggingIn, PhaseCancelled, PhaseFatal},
	PhaseLoggingIn:         {PhaseConfiguringSearch, PhaseLoginFailed, PhaseCancelled, PhaseFatal},
	PhaseConfiguringSearch: {PhasePolling, PhaseCancelled, PhaseFatal},
	PhasePolling:           {PhaseBooking, PhaseConfiguringSearch, PhaseCancelled, PhaseFatal},
	// A booking attempt that is not confirmed goes back to polling.
	PhaseBooking: {PhaseSucceeded, PhasePolling, PhaseConfiguringSearch, PhaseCancelled, PhaseFatal},
	// Terminal phases only lead to a fresh job.
	PhaseSucceeded:   {PhaseStarting},
	PhaseLoginFailed: {PhaseStarting},
	PhaseCancelled:   {PhaseStarting},
	PhaseFatal:       {PhaseStarting},
}

// ValidateTransition reports whether from -> to is allowed.
func ValidateTransition(from, to Phase) error {
	allowed, ok := transitions[from]
	if !ok {
		return fmt.Errorf("unknown phase: %s", from)
	}
	for _, p := range allowed {
		if p == to {
			return nil
		}
	}
	return fmt.Errorf("invalid phase transition from %s to %s", from, to)
}

// IsTerminal reports whether p ends a job.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseSucceeded, PhaseLoginFailed, PhaseCancelled, PhaseFatal:
		return true
	}
	return false
}
