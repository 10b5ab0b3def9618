// Package dispatch runs the conversion procedures a study specification asks
// for and turns their outcome into one ordered stream of result records.
//
// Everything is lazy: nothing runs until the caller pulls the next record,
// and procedures run strictly one after the other in specification order.
// Stopping the iteration stops the work.
package dispatch

import (
	"context"
	"iter"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/psychoinformatics-de/hirni/internal/config"
	"github.com/psychoinformatics-de/hirni/internal/dataset"
	"github.com/psychoinformatics-de/hirni/internal/debug"
	"github.com/psychoinformatics-de/hirni/internal/procedure"
	"github.com/psychoinformatics-de/hirni/internal/spec"
	"github.com/psychoinformatics-de/hirni/internal/subst"
	"github.com/psychoinformatics-de/hirni/internal/telemetry"
	"github.com/psychoinformatics-de/hirni/internal/types"
)

const scopeName = "github.com/psychoinformatics-de/hirni/dispatch"

// Dispatcher interprets specification snippets and runs their procedures.
type Dispatcher struct {
	// Runner executes procedures.
	Runner procedure.Runner
	// Converter is the procedure every directive is routed through. The
	// converter reads the per-procedure call format from the overlay.
	Converter string
	Logger    *zap.Logger
}

// New creates a dispatcher using the configured converter procedure.
func New(runner procedure.Runner, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		Runner:    runner,
		Converter: config.ConverterProcedure(),
		Logger:    logger,
	}
}

// Request describes one spec2bids run.
type Request struct {
	Dataset *dataset.Dataset
	// Inputs are specification files or acquisition directories.
	Inputs    []string
	Anonymize bool
	// Filename is the specification file name inside acquisition
	// directories. Empty means the configured default.
	Filename string
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Dispatcher) converter() string {
	if d.Converter == "" {
		return config.DefaultConverter
	}
	return d.Converter
}

// Run resolves every input and processes the resulting specification files
// in order. Inputs that cannot be resolved produce an impossible record and
// do not stop the others.
func (d *Dispatcher) Run(ctx context.Context, req Request) iter.Seq2[types.Result, error] {
	return func(yield func(types.Result, error) bool) {
		filename := req.Filename
		if filename == "" {
			filename = config.StudySpecFilename()
		}
		emit := func(r types.Result, err error) bool {
			if err == nil {
				telemetry.Results.Record(ctx, r.Action, string(r.Status))
			}
			return yield(r, err)
		}

		for _, target := range spec.Resolve(req.Dataset, req.Inputs, filename) {
			if !target.OK() {
				if !emit(*target.Failure, nil) {
					return
				}
				continue
			}
			for r, err := range d.File(ctx, req.Dataset, target, req.Anonymize) {
				if !emit(r, err) || err != nil {
					return
				}
			}
		}
	}
}

// File processes the snippets of one specification file with a fresh
// session and closes with an ok record for the file. A malformed
// specification ends the stream with an error.
func (d *Dispatcher) File(ctx context.Context, ds *dataset.Dataset, target spec.Target, anonymize bool) iter.Seq2[types.Result, error] {
	return func(yield func(types.Result, error) bool) {
		s := NewSession(ds, target, anonymize)

		ctx, span := telemetry.Tracer(scopeName).Start(ctx, "spec2bids.file",
			trace.WithAttributes(
				attribute.String("hirni.session", s.ID),
				attribute.String("hirni.spec", s.RelPath),
				attribute.Bool("hirni.anonymize", anonymize),
			),
		)
		defer span.End()

		debug.Logf("processing %s (session %s)\n", s.RelPath, s.ID)
		n := 0
		for snip, err := range spec.Stream(s.SpecPath) {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				yield(types.Result{}, err)
				return
			}
			n++
			for r, err := range d.Snippet(ctx, s, snip) {
				if !yield(r, err) || err != nil {
					return
				}
			}
		}
		span.SetAttributes(
			attribute.Int("hirni.snippets", n),
			attribute.StringSlice("hirni.procedures", s.Tracker.Names()),
		)
		yield(FileDone(s.RelPath), nil)
	}
}

// Snippet runs the procedures listed by one snippet.
//
// A snippet without procedures yields a single notneeded record. Otherwise
// every directive runs the converter with the snippet's environment overlay
// and yields the converter's records unchanged followed by a summary record.
// Directives without a procedure name are logged and skipped, "ignore"
// directives are skipped silently, and once-per-acquisition directives are
// skipped when the procedure already ran in this file.
func (d *Dispatcher) Snippet(ctx context.Context, s *Session, snip *types.Snippet) iter.Seq2[types.Result, error] {
	return func(yield func(types.Result, error) bool) {
		if !snip.NeedsAction() {
			yield(NotNeeded(s.RelPath, snip), nil)
			return
		}

		sub, err := subst.Build(snip, s.RelPath, s.Anonymize)
		if err != nil {
			yield(Rejected(s.RelPath, snip, err), nil)
			return
		}
		overlay := sub.Overlay(s.RelPath, s.Anonymize)

		for _, dir := range snip.Procedures {
			name, ok := dir.ProcedureName()
			if !ok {
				d.logger().Warn("conversion procedure missing key 'procedure-name', skipping",
					zap.String("spec", s.RelPath),
					zap.String("directive", dir.String()),
				)
				continue
			}
			if name == types.ProcedureIgnore {
				continue
			}
			if dir.OncePerAcquisition() && s.Tracker.Ran(name) {
				debug.Logf("%s: %s already ran for this acquisition\n", s.RelPath, name)
				continue
			}

			env := overlay
			if call, ok := dir.ProcedureCall(); ok {
				env = overlay.WithCallFormat(name, call)
			}
			if !d.directive(ctx, s, snip, name, env, yield) {
				return
			}
		}
	}
}

// directive runs one procedure and reports whether the caller wants more.
func (d *Dispatcher) directive(ctx context.Context, s *Session, snip *types.Snippet, name string, env subst.Env,
	yield func(types.Result, error) bool) bool {
	ctx, span := telemetry.Tracer(scopeName).Start(ctx, "spec2bids.directive",
		trace.WithAttributes(
			attribute.String("hirni.session", s.ID),
			attribute.String("hirni.procedure", name),
			attribute.String("hirni.converter", d.converter()),
		),
	)
	defer span.End()

	// Whatever happens from here on, the procedure counts as run.
	defer s.Tracker.Mark(name)

	var collected []types.Result
	for r, err := range d.Runner.Run(ctx, d.converter(), env) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(types.Result{}, err)
			return false
		}
		collected = append(collected, r)
		if !yield(r, nil) {
			return false
		}
	}

	summary := Summarize(name, s.RelPath, snip, collected)
	span.SetAttributes(
		attribute.Int("hirni.results", len(collected)),
		attribute.String("hirni.status", string(summary.Status)),
	)
	if !summary.IsSuccess() {
		span.SetStatus(codes.Error, summary.Message)
	}
	return yield(summary, nil)
}
