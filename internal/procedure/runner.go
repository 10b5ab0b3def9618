// Package procedure runs conversion procedures: external programs that take
// their parameters from an environment overlay and report what they did as
// a stream of result records.
package procedure

import (
	"context"
	"iter"

	"github.com/psychoinformatics-de/hirni/internal/subst"
	"github.com/psychoinformatics-de/hirni/internal/types"
)

// ActionRunProcedure is the action reported on records synthesised by the runner.
const ActionRunProcedure = "run_procedure"

// Runner invokes a procedure by identifier with an environment overlay and
// yields its results lazily. A non-nil error is a failure that could not be
// expressed as a result record; iteration ends after it.
type Runner interface {
	Run(ctx context.Context, id string, env subst.Env) iter.Seq2[types.Result, error]
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, id string, env subst.Env) iter.Seq2[types.Result, error]

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, id string, env subst.Env) iter.Seq2[types.Result, error] {
	return f(ctx, id, env)
}

// Results returns a result stream over a fixed list of records.
func Results(results ...types.Result) iter.Seq2[types.Result, error] {
	return func(yield func(types.Result, error) bool) {
		for _, r := range results {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Fail returns a result stream that fails with err before producing any record.
func Fail(err error) iter.Seq2[types.Result, error] {
	return func(yield func(types.Result, error) bool) {
		yield(types.Result{}, err)
	}
}
