// Package hirni provides a minimal public API for running spec2bids
// conversions from Go programs.
//
// The hirni command line tool is built on the same entry point. Extensions
// that need a custom execution environment can pass their own Runner.
package hirni

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/psychoinformatics-de/hirni/internal/config"
	"github.com/psychoinformatics-de/hirni/internal/dataset"
	"github.com/psychoinformatics-de/hirni/internal/dispatch"
	"github.com/psychoinformatics-de/hirni/internal/procedure"
	"github.com/psychoinformatics-de/hirni/internal/subst"
	"github.com/psychoinformatics-de/hirni/internal/types"
)

// Core types for working with results
type (
	Result  = types.Result
	Status  = types.Status
	Snippet = types.Snippet
	// Runner executes a named procedure with an environment overlay.
	Runner = procedure.Runner
	// RunnerFunc adapts a function to Runner.
	RunnerFunc = procedure.RunnerFunc
	// Env is the environment overlay handed to a Runner.
	Env = subst.Env
)

// Status constants
const (
	StatusOK         = types.StatusOK
	StatusNotNeeded  = types.StatusNotNeeded
	StatusImpossible = types.StatusImpossible
	StatusError      = types.StatusError
)

// Options configure a Spec2BIDS run.
type Options struct {
	// Dataset is the dataset root. Empty means the dataset containing the
	// working directory.
	Dataset string
	// Inputs are specification files or acquisition directories.
	Inputs    []string
	Anonymize bool
	// Filename overrides the specification file name looked up in
	// acquisition directories.
	Filename string
	// Runner executes procedures. Nil runs dataset procedures as processes.
	Runner Runner
	Logger *zap.Logger
	// LockTimeout bounds the wait for the dataset lock. Zero means the
	// configured lock-timeout; negative skips locking.
	LockTimeout time.Duration
}

// Spec2BIDS converts the acquisitions described by opts.Inputs and returns
// the lazy result stream. The dataset lock is held while the stream is
// consumed and released when iteration ends.
func Spec2BIDS(ctx context.Context, opts Options) iter.Seq2[Result, error] {
	return func(yield func(Result, error) bool) {
		ds, err := dataset.Require(opts.Dataset)
		if err != nil {
			yield(Result{}, err)
			return
		}
		if err := config.LoadDataset(ds.Root()); err != nil {
			yield(Result{}, err)
			return
		}

		if opts.LockTimeout >= 0 {
			timeout := opts.LockTimeout
			if timeout == 0 {
				timeout = config.LockTimeout()
			}
			lock, err := ds.Lock(ctx, timeout)
			if err != nil {
				yield(Result{}, fmt.Errorf("dataset %s: %w", ds, err))
				return
			}
			defer func() { _ = lock.Release() }()
		}

		runner := opts.Runner
		if runner == nil {
			runner = procedure.NewExecRunner(ds)
		}
		d := dispatch.New(runner, opts.Logger)
		for r, err := range d.Run(ctx, dispatch.Request{
			Dataset:   ds,
			Inputs:    opts.Inputs,
			Anonymize: opts.Anonymize,
			Filename:  opts.Filename,
		}) {
			if !yield(r, err) || err != nil {
				return
			}
		}
	}
}
