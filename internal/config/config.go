// Package config provides hirni configuration backed by viper.
//
// Values are looked up in this order (first wins):
//
//  1. values set in code (Set, command line flags bound via BindPFlag)
//  2. HIRNI_* environment variables (dots and hyphens become underscores)
//  3. the dataset config file <dataset>/.hirni/config.yaml
//  4. the user config file ~/.config/hirni/config.yaml
//  5. defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config keys
const (
	KeyJSON              = "json"
	KeyStudySpecFilename = "studyspec.filename"
	KeyDicomRules        = "dicom2spec.rules"
	KeyConverter         = "procedures.converter"
	KeySearchPath        = "procedures.search-path"
	KeyProcedureTimeout  = "procedures.timeout"
	KeyLockTimeout       = "lock-timeout"
	KeyNATSURL           = "nats.url"
	KeyNATSSubjectPrefix = "nats.subject-prefix"
)

// Defaults
const (
	DefaultStudySpecFilename = "studyspec.json"
	DefaultConverter         = "hirni-dicom-converter"
	DefaultLockTimeout       = 30 * time.Second
	DefaultNATSSubjectPrefix = "hirni.results"
)

// DirName is the per-dataset configuration directory.
const DirName = ".hirni"

// FileName is the configuration file name inside DirName and the user config dir.
const FileName = "config.yaml"

var v *viper.Viper

// Initialize sets up a fresh viper instance with defaults, environment
// binding and the user config file. Dataset configuration is layered on top
// by LoadDataset once the dataset root is known.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("HIRNI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyJSON, false)
	v.SetDefault(KeyStudySpecFilename, DefaultStudySpecFilename)
	v.SetDefault(KeyDicomRules, []string{})
	v.SetDefault(KeyConverter, DefaultConverter)
	v.SetDefault(KeySearchPath, []string{})
	v.SetDefault(KeyProcedureTimeout, time.Duration(0))
	v.SetDefault(KeyLockTimeout, DefaultLockTimeout)
	v.SetDefault(KeyNATSURL, "")
	v.SetDefault(KeyNATSSubjectPrefix, DefaultNATSSubjectPrefix)

	if dir, err := UserConfigDir(); err == nil {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("error reading user config %s: %w", path, err)
			}
		}
	}
	return nil
}

// LoadDataset merges <root>/.hirni/config.yaml over the current settings.
// A missing file is not an error.
func LoadDataset(root string) error {
	if v == nil {
		if err := Initialize(); err != nil {
			return err
		}
	}
	path := DatasetConfigPath(root)
	f, err := os.Open(path) // #nosec G304 -- path is inside the dataset's config dir
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error opening dataset config: %w", err)
	}
	defer f.Close()

	if err := v.MergeConfig(f); err != nil {
		return fmt.Errorf("error reading dataset config %s: %w", path, err)
	}
	return nil
}

// DatasetConfigPath returns the dataset config file location for root.
func DatasetConfigPath(root string) string {
	return filepath.Join(root, DirName, FileName)
}

// UserConfigDir returns the directory holding the user config and user procedures.
func UserConfigDir() (string, error) {
	if dir := os.Getenv("HIRNI_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "hirni"), nil
}

// ResetForTesting drops the current instance and starts from defaults.
func ResetForTesting() {
	v = nil
	_ = Initialize()
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice retrieves a string slice configuration value
func GetStringSlice(key string) []string {
	if v == nil {
		return []string{}
	}
	return v.GetStringSlice(key)
}

// Set sets a configuration value
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// StudySpecFilename is the name of the specification file inside an acquisition directory.
func StudySpecFilename() string {
	if name := GetString(KeyStudySpecFilename); name != "" {
		return name
	}
	return DefaultStudySpecFilename
}

// ConverterProcedure is the procedure every conversion directive is routed through.
func ConverterProcedure() string {
	if name := GetString(KeyConverter); name != "" {
		return name
	}
	return DefaultConverter
}

// ProcedureSearchPath lists extra directories searched for procedures.
func ProcedureSearchPath() []string {
	return GetStringSlice(KeySearchPath)
}

// ProcedureCallFormat returns the configured call format of a procedure, if any.
func ProcedureCallFormat(name string) string {
	return GetString("procedures." + name + ".call-format")
}

// ProcedureTimeout bounds a single procedure run. Zero means no limit.
func ProcedureTimeout() time.Duration {
	return GetDuration(KeyProcedureTimeout)
}

// LockTimeout is how long to wait for the dataset conversion lock.
func LockTimeout() time.Duration {
	if d := GetDuration(KeyLockTimeout); d > 0 {
		return d
	}
	return DefaultLockTimeout
}

// NATSURL is the server results are published to. Empty disables publishing.
func NATSURL() string {
	return GetString(KeyNATSURL)
}

// NATSSubjectPrefix is the subject prefix for published results.
func NATSSubjectPrefix() string {
	if p := GetString(KeyNATSSubjectPrefix); p != "" {
		return p
	}
	return DefaultNATSSubjectPrefix
}
