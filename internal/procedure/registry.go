package procedure

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/psychoinformatics-de/hirni/internal/config"
	"github.com/psychoinformatics-de/hirni/internal/dataset"
)

// ErrNotFound is returned when no procedure with the requested name exists.
var ErrNotFound = errors.New("procedure not found")

// Script extensions recognised as procedures, in lookup order. The empty
// extension requires the file to be executable.
var scriptExts = []string{"", ".sh", ".py"}

// Definition file extensions, in lookup order.
var definitionExts = []string{".yaml", ".yml", ".toml"}

// Definition carries optional metadata of a procedure, read from a
// <name>.yaml or <name>.toml file next to the script.
type Definition struct {
	Help       string `yaml:"help" toml:"help" json:"help,omitempty"`
	CallFormat string `yaml:"call-format" toml:"call-format" json:"call_format,omitempty"`
}

// Procedure is a discovered procedure.
type Procedure struct {
	Name       string      `json:"name"`
	Path       string      `json:"path"`
	Definition *Definition `json:"definition,omitempty"`
	// DefinitionPath is the file the definition was read from.
	DefinitionPath string `json:"definition_path,omitempty"`
}

// DefaultCallFormat is the call format used when neither configuration nor a
// definition provides one.
func (p *Procedure) DefaultCallFormat() string {
	switch filepath.Ext(p.Path) {
	case ".sh":
		return "bash {script} {ds} {args}"
	case ".py":
		return "python3 {script} {ds} {args}"
	}
	return "{script} {ds} {args}"
}

// Help returns the procedure's help text, if any.
func (p *Procedure) Help() string {
	if p.Definition == nil {
		return ""
	}
	return strings.TrimSpace(p.Definition.Help)
}

// Registry finds procedures in an ordered list of directories. The first
// directory holding a procedure wins.
type Registry struct {
	dirs []string
}

// NewRegistry creates a registry searching dirs in order.
func NewRegistry(dirs ...string) *Registry {
	return &Registry{dirs: dirs}
}

// DefaultSearchPath returns the procedure directories for a dataset: the
// dataset's own procedures, configured procedures.search-path entries
// (relative entries are taken relative to the dataset root) and the user's
// procedures.
func DefaultSearchPath(ds *dataset.Dataset) []string {
	var dirs []string
	if ds != nil {
		dirs = append(dirs, ds.ProceduresDir())
	}
	for _, dir := range config.ProcedureSearchPath() {
		if ds != nil {
			dir = ds.Resolve(dir)
		}
		dirs = append(dirs, dir)
	}
	if dir, err := config.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, "procedures"))
	}
	return dirs
}

// Dirs returns the search path.
func (r *Registry) Dirs() []string {
	return append([]string(nil), r.dirs...)
}

// Find looks up a procedure by name.
func (r *Registry) Find(name string) (*Procedure, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	for _, dir := range r.dirs {
		for _, ext := range scriptExts {
			path := filepath.Join(dir, name+ext)
			if !isScript(path, ext) {
				continue
			}
			return load(name, path)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// List returns every discoverable procedure, sorted by name.
func (r *Registry) List() ([]*Procedure, error) {
	seen := make(map[string]bool)
	var out []*Procedure
	for _, dir := range r.dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read procedure directory %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := filepath.Ext(e.Name())
			if !isScriptExt(ext) {
				continue
			}
			name := strings.TrimSuffix(e.Name(), ext)
			if seen[name] {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if !isScript(path, ext) {
				continue
			}
			p, err := load(name, path)
			if err != nil {
				return nil, err
			}
			seen[name] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func isScriptExt(ext string) bool {
	for _, e := range scriptExts {
		if e == ext {
			return true
		}
	}
	return false
}

func isScript(path, ext string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if ext == "" {
		return info.Mode()&0111 != 0
	}
	return true
}

func load(name, path string) (*Procedure, error) {
	p := &Procedure{Name: name, Path: path}
	dir := filepath.Dir(path)
	for _, ext := range definitionExts {
		defPath := filepath.Join(dir, name+ext)
		if _, err := os.Stat(defPath); err != nil {
			continue
		}
		def, err := ParseDefinition(defPath)
		if err != nil {
			return nil, err
		}
		p.Definition = def
		p.DefinitionPath = defPath
		break
	}
	return p, nil
}

// ParseDefinition reads a procedure definition. The format follows the
// extension: .yaml/.yml or .toml.
func ParseDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is inside a procedure directory
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var def Definition
	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), &def); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported definition format: %s", path)
	}
	return &def, nil
}
