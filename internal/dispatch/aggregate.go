package dispatch

import (
	"fmt"
	"strings"

	"github.com/psychoinformatics-de/hirni/internal/spec"
	"github.com/psychoinformatics-de/hirni/internal/types"
)

// Summary messages
const (
	MessageConverted        = "acquisition converted"
	MessageConversionFailed = "acquisition conversion failed. See previous message(s)."
)

// Summarize builds the record closing one directive: ok when every record
// the procedure produced is ok or notneeded, error otherwise. An empty
// result list counts as success.
func Summarize(procName, specPath string, snippet *types.Snippet, results []types.Result) types.Result {
	summary := types.Result{
		Action:  procName,
		Path:    specPath,
		Status:  types.StatusOK,
		Message: MessageConverted,
		Snippet: snippet,
	}
	for _, r := range results {
		if !r.IsSuccess() {
			summary.Status = types.StatusError
			summary.Message = MessageConversionFailed
			break
		}
	}
	return summary
}

// NotNeeded is the record for a snippet without procedures.
func NotNeeded(specPath string, snippet *types.Snippet) types.Result {
	return types.Result{
		Action:  spec.ActionSpec2BIDS,
		Path:    specPath,
		Status:  types.StatusNotNeeded,
		Snippet: snippet,
	}
}

// Rejected is the record for a snippet that cannot be converted at all.
func Rejected(specPath string, snippet *types.Snippet, err error) types.Result {
	return types.Result{
		Action:  spec.ActionSpec2BIDS,
		Path:    specPath,
		Status:  types.StatusImpossible,
		Message: err.Error(),
		Snippet: snippet,
	}
}

// FileDone is the record closing one specification file.
func FileDone(specPath string) types.Result {
	return types.Result{
		Action: spec.ActionSpec2BIDS,
		Path:   specPath,
		Status: types.StatusOK,
	}
}

// Tally counts records by status. It only observes the stream.
type Tally struct {
	counts map[types.Status]int
	total  int
}

// NewTally returns an empty tally.
func NewTally() *Tally {
	return &Tally{counts: make(map[types.Status]int)}
}

// Add counts r.
func (t *Tally) Add(r types.Result) {
	t.counts[r.Status]++
	t.total++
}

// Count returns the number of records with status s.
func (t *Tally) Count(s types.Status) int {
	return t.counts[s]
}

// Total returns the number of records seen.
func (t *Tally) Total() int {
	return t.total
}

// Failures returns the number of records that are neither ok nor notneeded.
func (t *Tally) Failures() int {
	return t.total - t.counts[types.StatusOK] - t.counts[types.StatusNotNeeded]
}

// OK reports whether no failure was seen.
func (t *Tally) OK() bool {
	return t.Failures() == 0
}

func (t *Tally) String() string {
	var parts []string
	for _, s := range []types.Status{types.StatusOK, types.StatusNotNeeded, types.StatusImpossible, types.StatusError} {
		if n := t.counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s (%d)", s, n))
		}
	}
	if len(parts) == 0 {
		return "no results"
	}
	return strings.Join(parts, ", ")
}
