package ui

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/psychoinformatics-de/hirni/internal/types"
)

func TestShouldUseColor(t *testing.T) {
	tests := []struct {
		name          string
		noColor       string
		setNoColor    bool
		cliColor      string
		cliColorForce string
		wantColor     bool
	}{
		{name: "NO_COLOR disables color", noColor: "1", setNoColor: true, wantColor: false},
		{name: "empty NO_COLOR still disables", setNoColor: true, cliColorForce: "1", wantColor: false},
		{name: "CLICOLOR=0 disables color", cliColor: "0", wantColor: false},
		{name: "CLICOLOR_FORCE enables color without a TTY", cliColorForce: "1", wantColor: true},
		{name: "NO_COLOR wins over CLICOLOR_FORCE", noColor: "1", setNoColor: true, cliColorForce: "1", wantColor: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CLICOLOR", tt.cliColor)
			t.Setenv("CLICOLOR_FORCE", tt.cliColorForce)
			t.Setenv("NO_COLOR", tt.noColor)
			if !tt.setNoColor {
				unsetenv(t, "NO_COLOR")
			}
			assert.Equal(t, tt.wantColor, ShouldUseColor())
		})
	}
}

func TestShouldUseEmoji(t *testing.T) {
	t.Setenv("HIRNI_NO_EMOJI", "1")
	assert.False(t, ShouldUseEmoji())
}

func TestFormatResult(t *testing.T) {
	ForceColor(false)

	tests := []struct {
		name   string
		result types.Result
		icons  bool
		want   string
	}{
		{
			name:   "ok with message",
			result: types.Result{Action: "heudiconv", Path: "acq1/studyspec.json", Status: types.StatusOK, Message: "acquisition converted"},
			want:   "heudiconv(ok): acq1/studyspec.json (acquisition converted)",
		},
		{
			name:   "no message",
			result: types.Result{Action: "spec2bids", Path: "acq1/studyspec.json", Status: types.StatusNotNeeded},
			want:   "spec2bids(notneeded): acq1/studyspec.json",
		},
		{
			name:   "icon",
			result: types.Result{Action: "spec2bids", Path: "missing", Status: types.StatusImpossible, Message: "missing not found"},
			icons:  true,
			want:   "⚠ spec2bids(impossible): missing (missing not found)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatResult(tt.result, tt.icons))
		})
	}
}

func TestActionSummary(t *testing.T) {
	ForceColor(false)

	s := NewActionSummary()
	assert.Equal(t, "", s.Render())

	s.Add(types.Result{Action: "spec2bids", Status: types.StatusOK})
	s.Add(types.Result{Action: "spec2bids", Status: types.StatusNotNeeded})
	s.Add(types.Result{Action: "spec2bids", Status: types.StatusNotNeeded})
	s.Add(types.Result{Action: "heudiconv", Status: types.StatusError})

	assert.Equal(t, "action summary:\n  heudiconv (error: 1)\n  spec2bids (notneeded: 2, ok: 1)\n", s.Render())
}

// unsetenv removes key for the rest of the test. t.Setenv must have been
// called for key first so that the original value is restored afterwards.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unsetenv %s: %v", key, err)
	}
}
