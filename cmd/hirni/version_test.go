package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	oldStdout := os.Stdout
	defer func() { os.Stdout = oldStdout }()
	oldJSON := jsonOutput
	defer func() { jsonOutput = oldJSON }()

	capture := func(t *testing.T) string {
		t.Helper()
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("Failed to create pipe: %v", err)
		}
		os.Stdout = w
		versionCmd.Run(versionCmd, []string{})
		w.Close()
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		return buf.String()
	}

	t.Run("plain text version output", func(t *testing.T) {
		jsonOutput = false
		output := capture(t)
		if !strings.Contains(output, "hirni version") {
			t.Errorf("Expected output to contain 'hirni version', got: %s", output)
		}
		if !strings.Contains(output, Version) {
			t.Errorf("Expected output to contain version %s, got: %s", Version, output)
		}
	})

	t.Run("json version output", func(t *testing.T) {
		jsonOutput = true
		output := capture(t)

		var result map[string]string
		if err := json.Unmarshal([]byte(output), &result); err != nil {
			t.Fatalf("Failed to parse JSON output: %v", err)
		}
		if result["version"] != Version {
			t.Errorf("Expected version %s, got %s", Version, result["version"])
		}
		if result["build"] != Build {
			t.Errorf("Expected build %s, got %s", Build, result["build"])
		}
	})
}

func TestVersionLine(t *testing.T) {
	if got, want := versionLine(""), "hirni version "+Version+" ("+Build+")"; got != want {
		t.Errorf("versionLine() = %q, want %q", got, want)
	}
	got := versionLine("0123456789abcdef0123")
	if !strings.HasSuffix(got, ": 0123456789ab)") {
		t.Errorf("expected shortened commit, got %q", got)
	}
}
