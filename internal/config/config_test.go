package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInitialize(t *testing.T) {
	err := Initialize()
	if err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	if v == nil {
		t.Fatal("viper instance is nil after Initialize()")
	}
}

func TestDefaults(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	tests := []struct {
		key      string
		expected interface{}
		getter   func(string) interface{}
	}{
		{KeyJSON, false, func(k string) interface{} { return GetBool(k) }},
		{KeyStudySpecFilename, "studyspec.json", func(k string) interface{} { return GetString(k) }},
		{KeyConverter, "hirni-dicom-converter", func(k string) interface{} { return GetString(k) }},
		{KeyLockTimeout, 30 * time.Second, func(k string) interface{} { return GetDuration(k) }},
		{KeyProcedureTimeout, time.Duration(0), func(k string) interface{} { return GetDuration(k) }},
		{KeyNATSURL, "", func(k string) interface{} { return GetString(k) }},
		{KeyNATSSubjectPrefix, "hirni.results", func(k string) interface{} { return GetString(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := tt.getter(tt.key)
			if got != tt.expected {
				t.Errorf("GetXXX(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}

	if got := GetStringSlice(KeyDicomRules); len(got) != 0 {
		t.Errorf("GetStringSlice(KeyDicomRules) = %v, want empty", got)
	}
}

func TestEnvironmentBinding(t *testing.T) {
	tests := []struct {
		envVar   string
		key      string
		value    string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"HIRNI_JSON", KeyJSON, "true", true, func(k string) interface{} { return GetBool(k) }},
		{"HIRNI_STUDYSPEC_FILENAME", KeyStudySpecFilename, "spec.json", "spec.json", func(k string) interface{} { return GetString(k) }},
		{"HIRNI_LOCK_TIMEOUT", KeyLockTimeout, "5s", 5 * time.Second, func(k string) interface{} { return GetDuration(k) }},
		{"HIRNI_PROCEDURES_HEUDICONV_CALL_FORMAT", "procedures.heudiconv.call-format", "heudiconv {location}", "heudiconv {location}", func(k string) interface{} { return GetString(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.envVar, func(t *testing.T) {
			t.Setenv(tt.envVar, tt.value)

			if err := Initialize(); err != nil {
				t.Fatalf("Initialize() returned error: %v", err)
			}

			got := tt.getter(tt.key)
			if got != tt.expected {
				t.Errorf("GetXXX(%q) with %s=%s = %v, want %v", tt.key, tt.envVar, tt.value, got, tt.expected)
			}
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestDatasetConfig(t *testing.T) {
	root := t.TempDir()
	writeFile(t, DatasetConfigPath(root), `
studyspec:
  filename: acquisition.json
dicom2spec:
  rules:
    - code/rules/custom.py
procedures:
  converter: my-converter
  search-path:
    - code/procedures
  heudiconv:
    call-format: "heudiconv -s {bids-subject}"
lock-timeout: 2m
`)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if err := LoadDataset(root); err != nil {
		t.Fatalf("LoadDataset() returned error: %v", err)
	}

	if got := StudySpecFilename(); got != "acquisition.json" {
		t.Errorf("StudySpecFilename() = %q", got)
	}
	if got := ConverterProcedure(); got != "my-converter" {
		t.Errorf("ConverterProcedure() = %q", got)
	}
	if got := ProcedureSearchPath(); len(got) != 1 || got[0] != "code/procedures" {
		t.Errorf("ProcedureSearchPath() = %v", got)
	}
	if got := ProcedureCallFormat("heudiconv"); got != "heudiconv -s {bids-subject}" {
		t.Errorf("ProcedureCallFormat() = %q", got)
	}
	if got := GetStringSlice(KeyDicomRules); len(got) != 1 || got[0] != "code/rules/custom.py" {
		t.Errorf("GetStringSlice(KeyDicomRules) = %v", got)
	}
	if got := LockTimeout(); got != 2*time.Minute {
		t.Errorf("LockTimeout() = %v", got)
	}
}

func TestDatasetConfigOverridesUserConfig(t *testing.T) {
	userDir := t.TempDir()
	t.Setenv("HIRNI_CONFIG_DIR", userDir)
	writeFile(t, filepath.Join(userDir, FileName), "studyspec:\n  filename: user.json\nprocedures:\n  converter: user-converter\n")

	root := t.TempDir()
	writeFile(t, DatasetConfigPath(root), "studyspec:\n  filename: dataset.json\n")

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := StudySpecFilename(); got != "user.json" {
		t.Errorf("before LoadDataset StudySpecFilename() = %q, want user.json", got)
	}
	if err := LoadDataset(root); err != nil {
		t.Fatalf("LoadDataset() returned error: %v", err)
	}
	if got := StudySpecFilename(); got != "dataset.json" {
		t.Errorf("StudySpecFilename() = %q, want dataset.json", got)
	}
	if got := ConverterProcedure(); got != "user-converter" {
		t.Errorf("ConverterProcedure() = %q, want user-converter", got)
	}
}

func TestConfigPrecedence(t *testing.T) {
	root := t.TempDir()
	writeFile(t, DatasetConfigPath(root), "json: false\n")

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if err := LoadDataset(root); err != nil {
		t.Fatal(err)
	}
	if got := GetBool(KeyJSON); got != false {
		t.Errorf("GetBool(json) from config file = %v, want false", got)
	}

	t.Setenv("HIRNI_JSON", "true")
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := LoadDataset(root); err != nil {
		t.Fatal(err)
	}
	if got := GetBool(KeyJSON); got != true {
		t.Errorf("GetBool(json) with env var = %v, want true (env should override config)", got)
	}
}

func TestLoadDatasetMissingFile(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := LoadDataset(t.TempDir()); err != nil {
		t.Errorf("LoadDataset() without config file returned error: %v", err)
	}
}

func TestLoadDatasetInvalidYAML(t *testing.T) {
	root := t.TempDir()
	writeFile(t, DatasetConfigPath(root), "studyspec: [unclosed\n")

	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := LoadDataset(root); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestSetAndGet(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	Set("studyspec.filename", "override.json")
	if got := StudySpecFilename(); got != "override.json" {
		t.Errorf("StudySpecFilename() after Set = %q", got)
	}
}

func TestNilViperBehavior(t *testing.T) {
	savedV := v
	v = nil
	defer func() { v = savedV }()

	if got := GetString("any-key"); got != "" {
		t.Errorf("GetString with nil viper = %q, want \"\"", got)
	}
	if got := GetBool("any-key"); got != false {
		t.Errorf("GetBool with nil viper = %v, want false", got)
	}
	if got := GetInt("any-key"); got != 0 {
		t.Errorf("GetInt with nil viper = %d, want 0", got)
	}
	if got := GetDuration("any-key"); got != 0 {
		t.Errorf("GetDuration with nil viper = %v, want 0", got)
	}
	if got := GetStringSlice("any-key"); got == nil || len(got) != 0 {
		t.Errorf("GetStringSlice with nil viper = %v, want empty slice", got)
	}
	if got := AllSettings(); got == nil || len(got) != 0 {
		t.Errorf("AllSettings with nil viper = %v, want empty map", got)
	}
	if got := StudySpecFilename(); got != DefaultStudySpecFilename {
		t.Errorf("StudySpecFilename with nil viper = %q", got)
	}
	if got := LockTimeout(); got != DefaultLockTimeout {
		t.Errorf("LockTimeout with nil viper = %v", got)
	}

	Set("any-key", "any-value")
}
