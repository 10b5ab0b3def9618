// Package spec resolves study specification inputs to files and reads the
// snippets they contain.
package spec

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/psychoinformatics-de/hirni/internal/dataset"
	"github.com/psychoinformatics-de/hirni/internal/types"
)

// ActionSpec2BIDS is the action reported on records that are not tied to a
// single procedure.
const ActionSpec2BIDS = "spec2bids"

// Target is one resolved input: either a specification file to process or a
// result explaining why the input cannot be processed.
type Target struct {
	// Path is the absolute path of the specification file.
	Path string
	// RelPath is the path recorded on results and handed to procedures.
	RelPath string
	// Failure is set when the input could not be resolved.
	Failure *types.Result
}

// OK reports whether the target resolved to a specification file.
func (t Target) OK() bool {
	return t.Failure == nil
}

// Resolve maps each input to a specification file. Relative inputs are taken
// relative to the dataset root. A directory resolves to filename inside it,
// but only when it is an acquisition directory (a direct child of the
// dataset root). Inputs that cannot be resolved yield an impossible result
// and do not affect the remaining inputs.
func Resolve(ds *dataset.Dataset, inputs []string, filename string) []Target {
	targets := make([]Target, 0, len(inputs))
	for _, in := range inputs {
		targets = append(targets, resolveOne(ds, in, filename))
	}
	return targets
}

func resolveOne(ds *dataset.Dataset, input, filename string) Target {
	abs := ds.Resolve(input)

	info, err := os.Stat(abs)
	if err != nil {
		return impossible(abs, fmt.Sprintf("%s not found", abs))
	}

	specPath := abs
	recorded := input
	if info.IsDir() {
		if !ds.IsTopLevel(abs) {
			return impossible(abs, fmt.Sprintf("%s is neither a specification file nor an acquisition directory", abs))
		}
		specPath = filepath.Join(abs, filename)
		recorded = filepath.Join(input, filename)
		if _, err := os.Stat(specPath); err != nil {
			return impossible(specPath, fmt.Sprintf("%s not found", specPath))
		}
	}

	if filepath.IsAbs(input) {
		recorded = ds.Rel(specPath)
	}
	return Target{
		Path:    specPath,
		RelPath: filepath.ToSlash(filepath.Clean(recorded)),
	}
}

func impossible(path, msg string) Target {
	return Target{
		Path: path,
		Failure: &types.Result{
			Action:  ActionSpec2BIDS,
			Path:    path,
			Status:  types.StatusImpossible,
			Message: msg,
		},
	}
}
