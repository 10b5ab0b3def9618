package dispatch

import (
	"github.com/google/uuid"

	"github.com/psychoinformatics-de/hirni/internal/dataset"
	"github.com/psychoinformatics-de/hirni/internal/spec"
)

// Session is the state of processing one specification file.
type Session struct {
	// ID identifies the session on spans and published records.
	ID      string
	Dataset *dataset.Dataset
	// SpecPath is the absolute path of the specification file.
	SpecPath string
	// RelPath is the recorded specification path, as reported on results
	// and handed to procedures.
	RelPath   string
	Anonymize bool
	Tracker   *Tracker
}

// NewSession starts processing target with a fresh tracker.
func NewSession(ds *dataset.Dataset, target spec.Target, anonymize bool) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Dataset:   ds,
		SpecPath:  target.Path,
		RelPath:   target.RelPath,
		Anonymize: anonymize,
		Tracker:   NewTracker(),
	}
}
