package procedure

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/psychoinformatics-de/hirni/internal/config"
	"github.com/psychoinformatics-de/hirni/internal/dataset"
	"github.com/psychoinformatics-de/hirni/internal/debug"
	"github.com/psychoinformatics-de/hirni/internal/subst"
	"github.com/psychoinformatics-de/hirni/internal/telemetry"
	"github.com/psychoinformatics-de/hirni/internal/types"
)

const execScopeName = "github.com/psychoinformatics-de/hirni/procedure"

// maxStderrBytes is how much procedure stderr is kept for error messages and span events.
const maxStderrBytes = 4096

// maxLineBytes bounds a single line of procedure output.
const maxLineBytes = 16 * 1024 * 1024

// ExecRunner runs procedures as external programs.
//
// The command line comes from the procedure's call format with {script},
// {ds}, {args} and every substitution carried by the overlay expanded, and
// runs through sh -c in the dataset root. The overlay is applied to a copy
// of the process environment. Lines the procedure prints to stdout that are
// JSON objects with a valid status are yielded as results; any other output
// goes to the debug log.
//
// Only {script} and {ds} are shell-quoted. Substitution values are inserted
// verbatim, so a call format must quote its own placeholders, as in
// "bash {script} {ds} '{bids-subject}'".
type ExecRunner struct {
	Registry *Registry
	// Dir is the dataset root. Procedures run there and receive it as {ds}.
	Dir string
	// Timeout bounds a single run. Zero means no limit.
	Timeout time.Duration
	// Stderr receives a copy of procedure stderr. Nil discards it.
	Stderr io.Writer
	// Environ returns the base environment. Defaults to os.Environ.
	Environ func() []string
}

// NewExecRunner creates a runner for procedures of ds using the configured
// search path and timeout.
func NewExecRunner(ds *dataset.Dataset) *ExecRunner {
	return &ExecRunner{
		Registry: NewRegistry(DefaultSearchPath(ds)...),
		Dir:      ds.Root(),
		Timeout:  config.ProcedureTimeout(),
		Stderr:   os.Stderr,
	}
}

// CallFormat returns the call format of p. An override carried by the
// overlay wins over configuration, which wins over the definition file.
func (r *ExecRunner) CallFormat(p *Procedure, env subst.Env) string {
	if call, ok := env.CallFormat(p.Name); ok && call != "" {
		return call
	}
	if call := config.ProcedureCallFormat(p.Name); call != "" {
		return call
	}
	if p.Definition != nil && p.Definition.CallFormat != "" {
		return p.Definition.CallFormat
	}
	return p.DefaultCallFormat()
}

// CommandLine returns the shell command line that runs p under env.
func (r *ExecRunner) CommandLine(p *Procedure, env subst.Env) string {
	values := env.Substitutions()
	values["script"] = shellQuote(p.Path)
	values["ds"] = shellQuote(r.Dir)
	values["args"] = ""
	return strings.TrimSpace(subst.Expand(r.CallFormat(p, env), values))
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, id string, env subst.Env) iter.Seq2[types.Result, error] {
	return func(yield func(types.Result, error) bool) {
		p, err := r.Registry.Find(id)
		if errors.Is(err, ErrNotFound) {
			yield(types.Result{
				Action:  ActionRunProcedure,
				Path:    r.Dir,
				Status:  types.StatusImpossible,
				Message: fmt.Sprintf("cannot find procedure with name '%s'", id),
			}, nil)
			return
		}
		if err != nil {
			yield(types.Result{}, err)
			return
		}
		r.exec(ctx, p, env, yield)
	}
}

func (r *ExecRunner) exec(ctx context.Context, p *Procedure, env subst.Env, yield func(types.Result, error) bool) {
	line := r.CommandLine(p, env)

	ctx, span := telemetry.Tracer(execScopeName).Start(ctx, "procedure.exec",
		trace.WithAttributes(
			attribute.String("hirni.procedure", p.Name),
			attribute.String("hirni.procedure.path", p.Path),
		),
	)
	start := time.Now()
	var spanErr error
	defer func() {
		telemetry.Results.RecordRun(ctx, p.Name, float64(time.Since(start).Milliseconds()))
		if spanErr != nil {
			span.RecordError(spanErr)
			span.SetStatus(codes.Error, spanErr.Error())
		}
		span.End()
	}()
	fail := func(err error) {
		spanErr = err
		yield(types.Result{}, err)
	}

	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	debug.Logf("running procedure %s: %s\n", p.Name, line)

	// #nosec G204 -- the command line comes from the dataset's own procedure configuration
	cmd := exec.CommandContext(runCtx, "sh", "-c", line)
	cmd.Dir = r.Dir
	cmd.Env = env.Environ(r.environ())
	stderr := &tailBuffer{max: maxStderrBytes}
	if r.Stderr != nil {
		cmd.Stderr = io.MultiWriter(r.Stderr, stderr)
	} else {
		cmd.Stderr = stderr
	}
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		fail(fmt.Errorf("procedure %s: %w", p.Name, err))
		return
	}
	if err := cmd.Start(); err != nil {
		fail(fmt.Errorf("failed to start procedure %s: %w", p.Name, err))
		return
	}

	emitted := 0
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		res, ok := parseResult(scanner.Bytes())
		if !ok {
			debug.Logf("%s: %s\n", p.Name, scanner.Text())
			continue
		}
		emitted++
		if !yield(res, nil) {
			// The consumer stopped pulling; nothing may keep running behind its back.
			_ = killProcessGroup(cmd)
			_ = cmd.Wait()
			span.AddEvent("procedure.abandoned")
			return
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		_ = killProcessGroup(cmd)
	}
	waitErr := cmd.Wait()
	addStderrEvent(span, stderr)
	span.SetAttributes(attribute.Int("hirni.procedure.results", emitted))

	switch {
	case ctx.Err() != nil:
		fail(fmt.Errorf("procedure %s: %w", p.Name, ctx.Err()))
	case scanErr != nil:
		fail(fmt.Errorf("failed to read output of procedure %s: %w", p.Name, scanErr))
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		spanErr = runCtx.Err()
		yield(types.Result{
			Action:  ActionRunProcedure,
			Path:    r.Dir,
			Status:  types.StatusError,
			Message: fmt.Sprintf("procedure '%s' timed out after %v", p.Name, r.Timeout),
		}, nil)
	case waitErr != nil:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			fail(fmt.Errorf("procedure %s: %w", p.Name, waitErr))
			return
		}
		spanErr = waitErr
		msg := fmt.Sprintf("procedure '%s' failed with exit code %d", p.Name, exitErr.ExitCode())
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			msg += ": " + tail
		}
		yield(types.Result{
			Action:  ActionRunProcedure,
			Path:    r.Dir,
			Status:  types.StatusError,
			Message: msg,
		}, nil)
	case emitted == 0:
		yield(types.Result{
			Action: ActionRunProcedure,
			Path:   r.Dir,
			Status: types.StatusOK,
		}, nil)
	}
}

func (r *ExecRunner) environ() []string {
	if r.Environ != nil {
		return r.Environ()
	}
	return os.Environ()
}

// parseResult decodes a line of procedure output as a result record.
func parseResult(line []byte) (types.Result, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return types.Result{}, false
	}
	var res types.Result
	if err := json.Unmarshal(line, &res); err != nil {
		return types.Result{}, false
	}
	if !res.Status.IsValid() {
		return types.Result{}, false
	}
	return res, true
}

func addStderrEvent(span trace.Span, stderr *tailBuffer) {
	if stderr.total == 0 {
		return
	}
	span.AddEvent("procedure.stderr", trace.WithAttributes(
		attribute.String("output", stderr.String()),
		attribute.Int("bytes", stderr.total),
	))
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max   int
	total int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.total += len(p)
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}

// shellQuote quotes s for sh.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:@%+,", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
