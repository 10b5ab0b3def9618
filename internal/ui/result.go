package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/psychoinformatics-de/hirni/internal/types"
)

// RenderStatus renders a result status in its status color.
func RenderStatus(s types.Status) string {
	switch s {
	case types.StatusOK:
		return RenderPass(string(s))
	case types.StatusNotNeeded:
		return RenderMuted(string(s))
	case types.StatusImpossible:
		return RenderWarn(string(s))
	default:
		return RenderFail(string(s))
	}
}

// StatusIcon returns the styled icon for a status.
func StatusIcon(s types.Status) string {
	switch s {
	case types.StatusOK:
		return PassStyle.Render(IconPass)
	case types.StatusNotNeeded:
		return MutedStyle.Render(IconSkip)
	case types.StatusImpossible:
		return WarnStyle.Render(IconWarn)
	default:
		return FailStyle.Render(IconFail)
	}
}

// FormatResult renders one result record as a single line:
//
//	action(status): path (message)
func FormatResult(r types.Result, icons bool) string {
	var b strings.Builder
	if icons {
		b.WriteString(StatusIcon(r.Status))
		b.WriteByte(' ')
	}
	b.WriteString(r.Action)
	b.WriteByte('(')
	b.WriteString(RenderStatus(r.Status))
	b.WriteString("): ")
	b.WriteString(r.Path)
	if r.Message != "" {
		msg := r.Message
		if !r.IsSuccess() {
			msg = RenderBold(msg)
		}
		fmt.Fprintf(&b, " (%s)", msg)
	}
	return b.String()
}

// ActionSummary counts records per action and status for the closing summary.
type ActionSummary struct {
	counts map[string]map[types.Status]int
}

// NewActionSummary returns an empty summary.
func NewActionSummary() *ActionSummary {
	return &ActionSummary{counts: make(map[string]map[types.Status]int)}
}

// Add counts r.
func (s *ActionSummary) Add(r types.Result) {
	byStatus, ok := s.counts[r.Action]
	if !ok {
		byStatus = make(map[types.Status]int)
		s.counts[r.Action] = byStatus
	}
	byStatus[r.Status]++
}

// Render returns the summary, one line per action, or "" when nothing was counted.
func (s *ActionSummary) Render() string {
	if len(s.counts) == 0 {
		return ""
	}
	actions := make([]string, 0, len(s.counts))
	for a := range s.counts {
		actions = append(actions, a)
	}
	sort.Strings(actions)

	var b strings.Builder
	b.WriteString("action summary:\n")
	for _, a := range actions {
		byStatus := s.counts[a]
		statuses := make([]string, 0, len(byStatus))
		for st := range byStatus {
			statuses = append(statuses, string(st))
		}
		sort.Strings(statuses)
		parts := make([]string, len(statuses))
		for i, st := range statuses {
			parts[i] = fmt.Sprintf("%s: %d", RenderStatus(types.Status(st)), byStatus[types.Status(st)])
		}
		fmt.Fprintf(&b, "  %s (%s)\n", a, strings.Join(parts, ", "))
	}
	return b.String()
}
