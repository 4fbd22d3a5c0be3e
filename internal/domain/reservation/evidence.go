package reservation

import "strings"

// Verdict is the outcome of a booking click as far as the page lets us tell.
type Verdict int

const (
	Unknown Verdict = iota
	Success
	Failure
)

func (v Verdict) String() string {
	switch v {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Evidence is what was observed during the booking window.
type Evidence struct {
	DialogSeen bool
	DialogText string
	Location   string
}

// Markers are the substrings that turn evidence into a verdict.
type Markers struct {
	DialogSuccess []string `yaml:"dialog_success"`
	DialogFailure []string `yaml:"dialog_failure"`
	// Locations are URL fragments of pages reached only after a seat was held.
	Locations []string `yaml:"locations"`
}

// Judge combines the dialog (primary) and the location (secondary) signals.
// Absence of a negative signal is not success: without positive confirmation the verdict
// is Unknown.
func (m Markers) Judge(ev Evidence) Verdict {
	if ev.DialogSeen {
		if containsAny(ev.DialogText, m.DialogFailure) {
			return Failure
		}
		if containsAny(ev.DialogText, m.DialogSuccess) {
			return Success
		}
	}
	if containsAny(ev.Location, m.Locations) {
		return Success
	}
	return Unknown
}

func containsAny(s string, subs []string) bool {
	if s == "" {
		return false
	}
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
