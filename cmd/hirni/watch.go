package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/psychoinformatics-de/hirni"
	"github.com/psychoinformatics-de/hirni/internal/config"
	"github.com/psychoinformatics-de/hirni/internal/dataset"
	"github.com/psychoinformatics-de/hirni/internal/debug"
	"github.com/psychoinformatics-de/hirni/internal/spec"
)

const watchDebounce = 500 * time.Millisecond

// watchTargets resolves the inputs of a run to the specification files to
// watch. Inputs that do not resolve are left out.
func watchTargets(ds *dataset.Dataset, inputs []string, filename string) map[string]bool {
	targets := make(map[string]bool)
	for _, t := range spec.Resolve(ds, inputs, filename) {
		if t.OK() {
			targets[filepath.Clean(t.Path)] = true
		}
	}
	return targets
}

// changedSpec reports the specification file an event touches. Editors
// often replace a file instead of writing it, so creates and renames count.
func changedSpec(event fsnotify.Event, targets map[string]bool) (string, bool) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return "", false
	}
	path := filepath.Clean(event.Name)
	return path, targets[path]
}

// rerunner runs conversions one at a time so that re-runs never wait on
// each other for the dataset lock. A request for a file that is already
// converting joins that run.
type rerunner struct {
	group singleflight.Group
	mu    sync.Mutex
	run   func(path string)
}

// Do runs the conversion of path once no other conversion is running.
func (r *rerunner) Do(path string) {
	_, _, _ = r.group.Do(path, func() (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.run(path)
		return nil, nil
	})
}

// watchSpecs re-runs the conversion of a specification file whenever it
// changes, until ctx is done. Changes are debounced per file and re-runs
// are serialized.
func watchSpecs(ctx context.Context, ds *dataset.Dataset, opts hirni.Options, mode onFailure, out *renderer, pub resultPublisher) error {
	filename := opts.Filename
	if filename == "" {
		filename = config.StudySpecFilename()
	}
	targets := watchTargets(ds, opts.Inputs, filename)
	if len(targets) == 0 {
		return fmt.Errorf("no specification files to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }() // Best effort cleanup

	dirs := make(map[string]bool)
	for path := range targets {
		dir := filepath.Dir(path)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("error watching %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
		wg     sync.WaitGroup
	)
	runner := &rerunner{run: func(path string) {
		run := opts
		run.Inputs = []string{path}
		if err := runConversion(ctx, run, mode, out, pub); err != nil {
			WarnError("%s: %v", ds.Rel(path), err)
		}
		out.finish()
	}}
	rerun := func(path string) {
		defer wg.Done()
		runner.Do(path)
	}

	fmt.Fprintf(os.Stderr, "\nWatching %d specification file(s)... (Press Ctrl+C to exit)\n", len(targets))
	defer func() {
		mu.Lock()
		for _, t := range timers {
			if t.Stop() {
				wg.Done()
			}
		}
		mu.Unlock()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "\nStopped watching.\n")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			path, ok := changedSpec(event, targets)
			if !ok {
				continue
			}
			debug.Logf("watch: %s %s\n", event.Op, path)
			mu.Lock()
			if t, ok := timers[path]; ok && t.Stop() {
				wg.Done()
			}
			wg.Add(1)
			timers[path] = time.AfterFunc(watchDebounce, func() { rerun(path) })
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			WarnError("watcher error: %v", err)
		}
	}
}
