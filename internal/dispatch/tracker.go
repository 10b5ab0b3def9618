package dispatch

import "sort"

// Tracker remembers which procedures already ran while processing one
// specification file. A fresh tracker is used for every file.
type Tracker struct {
	ran map[string]bool
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{ran: make(map[string]bool)}
}

// Ran reports whether procedure name ran in this file.
func (t *Tracker) Ran(name string) bool {
	return t.ran[name]
}

// Mark records that procedure name ran, whatever its outcome.
func (t *Tracker) Mark(name string) {
	t.ran[name] = true
}

// Names returns the procedures that ran, sorted.
func (t *Tracker) Names() []string {
	names := make([]string, 0, len(t.ran))
	for n := range t.ran {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
