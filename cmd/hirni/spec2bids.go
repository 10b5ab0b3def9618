package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/psychoinformatics-de/hirni"
	"github.com/psychoinformatics-de/hirni/internal/config"
	"github.com/psychoinformatics-de/hirni/internal/dataset"
	"github.com/psychoinformatics-de/hirni/internal/debug"
	"github.com/psychoinformatics-de/hirni/internal/dispatch"
	"github.com/psychoinformatics-de/hirni/internal/eventbus"
	"github.com/psychoinformatics-de/hirni/internal/types"
	"github.com/psychoinformatics-de/hirni/internal/ui"
)

// onFailure controls what a non-success record does to the run.
type onFailure string

const (
	onFailureIgnore   onFailure = "ignore"
	onFailureContinue onFailure = "continue"
	onFailureStop     onFailure = "stop"
)

func parseOnFailure(s string) (onFailure, error) {
	switch m := onFailure(s); m {
	case onFailureIgnore, onFailureContinue, onFailureStop:
		return m, nil
	}
	return "", fmt.Errorf("invalid --on-failure %q (valid: ignore, continue, stop)", s)
}

// resultPublisher receives every record of a run.
type resultPublisher interface {
	Publish(ctx context.Context, r types.Result) error
}

// renderer writes records as they arrive and keeps the counts for the
// closing summary and exit code.
type renderer struct {
	mu      sync.Mutex
	w       io.Writer
	json    bool
	icons   bool
	quiet   bool
	summary *ui.ActionSummary
	tally   *dispatch.Tally
}

func newRenderer(w io.Writer, asJSON bool) *renderer {
	return &renderer{
		w:       w,
		json:    asJSON,
		icons:   ui.ShouldUseEmoji(),
		quiet:   debug.IsQuiet(),
		summary: ui.NewActionSummary(),
		tally:   dispatch.NewTally(),
	}
}

func (r *renderer) add(res types.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Add(res)
	r.tally.Add(res)

	if r.json {
		data, err := json.Marshal(res)
		if err != nil {
			WarnError("failed to encode result: %v", err)
			return
		}
		fmt.Fprintf(r.w, "%s\n", data)
		return
	}
	if r.quiet && res.IsSuccess() {
		return
	}
	fmt.Fprintln(r.w, ui.FormatResult(res, r.icons))
}

// finish prints the action summary in text mode.
func (r *renderer) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.json || r.quiet {
		return
	}
	if s := r.summary.Render(); s != "" {
		fmt.Fprint(r.w, s)
	}
}

// runConversion pulls the result stream, rendering and publishing each
// record. With onFailureStop it stops pulling at the first failed record,
// which also stops any procedure that is still running.
func runConversion(ctx context.Context, opts hirni.Options, mode onFailure, out *renderer, pub resultPublisher) error {
	publishWarned := false
	for res, err := range hirni.Spec2BIDS(ctx, opts) {
		if err != nil {
			return err
		}
		out.add(res)
		if pub != nil {
			if err := pub.Publish(ctx, res); err != nil && !publishWarned {
				WarnError("failed to publish result: %v", err)
				publishWarned = true
			}
		}
		if mode == onFailureStop && !res.IsSuccess() {
			debug.Logf("stopping at first failure: %s\n", res.Path)
			return nil
		}
	}
	return nil
}

// exitCode maps the tally of a finished run to the process exit status.
func exitCode(t *dispatch.Tally, mode onFailure) int {
	if mode == onFailureIgnore || t.OK() {
		return 0
	}
	return 1
}

// publishURL returns the NATS server to publish to. Publishing happens only
// when requested with --publish and a server is configured.
func publishURL(requested bool) (string, error) {
	if !requested {
		return "", nil
	}
	url := config.NATSURL()
	if url == "" {
		return "", fmt.Errorf("--publish needs nats.url to be configured; results are not published")
	}
	return url, nil
}

// connectPublisher connects to NATS when --publish was given. A failed
// connection disables publishing.
func connectPublisher(ds *dataset.Dataset, requested bool, session string) *eventbus.Publisher {
	url, err := publishURL(requested)
	if err != nil {
		WarnError("%v", err)
		return nil
	}
	if url == "" {
		return nil
	}
	p, err := eventbus.Connect(eventbus.Options{
		URL:     url,
		Token:   os.Getenv("HIRNI_NATS_TOKEN"),
		Prefix:  config.NATSSubjectPrefix(),
		Session: session,
		Dataset: ds.Root(),
	})
	if err != nil {
		WarnError("results are not published: %v", err)
		return nil
	}
	debug.Logf("publishing results to %s\n", url)
	return p
}

var spec2bidsCmd = &cobra.Command{
	Use:   "spec2bids [SPEC_FILE|ACQ_DIR]...",
	Short: "Convert acquisitions to BIDS as described by their study specifications",
	Long: `Run the conversion procedures listed in study specifications.

Each argument is a specification file or an acquisition directory (a direct
subdirectory of the dataset) holding one. Snippets without procedures are
reported as notneeded; every procedure run is reported followed by a summary
record for its snippet.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		anonymize, _ := cmd.Flags().GetBool("anonymize")
		failureFlag, _ := cmd.Flags().GetString("on-failure")
		watch, _ := cmd.Flags().GetBool("watch")
		publish, _ := cmd.Flags().GetBool("publish")

		mode, err := parseOnFailure(failureFlag)
		if err != nil {
			FatalError("%v", err)
		}

		ds := requireDataset()
		opts := hirni.Options{
			Dataset:   ds.Root(),
			Inputs:    args,
			Anonymize: anonymize,
			Logger:    logger,
		}

		var pub resultPublisher
		if p := connectPublisher(ds, publish, uuid.NewString()); p != nil {
			defer p.Close()
			pub = p
		}

		out := newRenderer(os.Stdout, jsonOutput)
		if err := runConversion(rootCtx, opts, mode, out, pub); err != nil {
			FatalError("%v", err)
		}
		out.finish()

		if watch {
			if err := watchSpecs(rootCtx, ds, opts, mode, out, pub); err != nil {
				FatalError("%v", err)
			}
			return
		}

		if code := exitCode(out.tally, mode); code != 0 {
			debug.Logf("results: %s\n", out.tally)
			shutdown()
			exit(code)
		}
	},
}

func init() {
	spec2bidsCmd.Flags().Bool("anonymize", false, "Use the anonymized subject identifier for BIDS output")
	spec2bidsCmd.Flags().String("on-failure", string(onFailureContinue), "Behavior on failed results: ignore, continue, stop")
	spec2bidsCmd.Flags().Bool("watch", false, "Re-run conversions when their specification changes")
	spec2bidsCmd.Flags().Bool("publish", false, "Publish results to the configured NATS server")
	rootCmd.AddCommand(spec2bidsCmd)
}
