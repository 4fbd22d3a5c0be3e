package jobs

import "time"

// Retention bounds the job log. Prune is called after every append.
type Retention interface {
	Prune(entries []Entry, now time.Time) []Entry
}

// MaxAge keeps entries strictly newer than the window; one exactly at the edge is dropped.
type MaxAge time.Duration

func (m MaxAge) Prune(entries []Entry, now time.Time) []Entry {
	cutoff := now.Add(-time.Duration(m))
	i := 0
	for i < len(entries) && !entries[i].At.After(cutoff) {
		i++
	}
	return entries[i:]
}

// MaxCount keeps the newest n entries.
type MaxCount int

func (m MaxCount) Prune(entries []Entry, _ time.Time) []Entry {
	if n := int(m); n >= 0 && len(entries) > n {
		return entries[len(entries)-n:]
	}
	return entries
}

// Both applies every policy in turn.
type Both []Retention

func (b Both) Prune(entries []Entry, now time.Time) []Entry {
	for _, r := range b {
		entries = r.Prune(entries, now)
	}
	return entries
}
