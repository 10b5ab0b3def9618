// Package dataset locates the dataset a command operates on and resolves
// paths relative to its root.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/psychoinformatics-de/hirni/internal/config"
)

// ErrNotADataset is returned when no dataset can be found.
var ErrNotADataset = errors.New("not a dataset")

// markers identify a dataset root, checked in order.
var markers = []string{".datalad", config.DirName, ".git"}

// Dataset is a dataset rooted at an absolute, symlink-free path.
type Dataset struct {
	root string
}

// Open returns the dataset rooted exactly at path.
func Open(path string) (*Dataset, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dataset path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotADataset, path)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotADataset, path)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return &Dataset{root: abs}, nil
}

// Find walks up from dir to the closest directory carrying a dataset marker.
func Find(dir string) (*Dataset, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	for cur := abs; ; {
		for _, m := range markers {
			if info, err := os.Stat(filepath.Join(cur, m)); err == nil && info.IsDir() {
				return Open(cur)
			}
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return nil, fmt.Errorf("%w: no dataset found at or above %s", ErrNotADataset, abs)
		}
		cur = parent
	}
}

// Require returns the dataset at path if given, otherwise the dataset
// containing the current working directory.
func Require(path string) (*Dataset, error) {
	if path != "" {
		return Open(path)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return Find(cwd)
}

// Root returns the dataset root.
func (d *Dataset) Root() string {
	return d.root
}

// String implements fmt.Stringer.
func (d *Dataset) String() string {
	return d.root
}

// Resolve makes path absolute. Relative paths are taken relative to the dataset root.
func (d *Dataset) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(d.root, path)
}

// Rel returns path relative to the dataset root using forward slashes.
// Paths outside the dataset are returned unchanged.
func (d *Dataset) Rel(path string) string {
	rel, err := filepath.Rel(d.root, d.Resolve(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.ToSlash(rel)
}

// IsTopLevel reports whether dir is a direct child of the dataset root.
// Symlinks are resolved on both sides before comparing.
func (d *Dataset) IsTopLevel(dir string) bool {
	real, err := filepath.EvalSymlinks(d.Resolve(dir))
	if err != nil {
		return false
	}
	return filepath.Dir(real) == d.root
}

// ConfigDir returns the dataset's hirni configuration directory.
func (d *Dataset) ConfigDir() string {
	return filepath.Join(d.root, config.DirName)
}

// ProceduresDir returns the directory holding dataset procedures.
func (d *Dataset) ProceduresDir() string {
	return filepath.Join(d.ConfigDir(), "procedures")
}
