package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"

	"github.com/psychoinformatics-de/hirni/internal/debug"
)

// lockFileName is the lock coordinating conversions of one dataset.
const lockFileName = "hirni-spec2bids.lock"

// ErrLockTimeout is returned when another process holds the conversion lock
// for longer than the configured timeout.
var ErrLockTimeout = errors.New("timeout waiting for dataset lock")

// Lock serialises conversions running against the same dataset. Two
// concurrent spec2bids runs would otherwise write into the same BIDS tree.
type Lock struct {
	flock *flock.Flock
}

// LockPath returns the lock file location. The lock lives inside .git when
// the dataset has one so that it never shows up as untracked content.
func (d *Dataset) LockPath() string {
	gitDir := filepath.Join(d.root, ".git")
	if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
		return filepath.Join(gitDir, lockFileName)
	}
	return filepath.Join(d.ConfigDir(), lockFileName)
}

// Lock acquires the exclusive conversion lock, retrying with exponential
// backoff until timeout elapses or ctx is done. A zero timeout tries once.
func (d *Dataset) Lock(ctx context.Context, timeout time.Duration) (*Lock, error) {
	path := d.LockPath()
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	l := &Lock{flock: flock.New(path)}

	start := time.Now()
	try := func() error {
		locked, err := l.flock.TryLock()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to acquire dataset lock: %w", err))
		}
		if !locked {
			return ErrLockTimeout
		}
		return nil
	}

	if timeout <= 0 {
		if err := try(); err != nil {
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				return nil, perm.Err
			}
			return nil, fmt.Errorf("%w after 0s (another conversion is running on %s)", ErrLockTimeout, d.root)
		}
		debug.Logf("acquired dataset lock immediately: %s\n", path)
		return l, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = timeout
	if err := backoff.Retry(try, backoff.WithContext(bo, ctx)); err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return nil, fmt.Errorf("%w after %v (another conversion is running on %s)",
				ErrLockTimeout, time.Since(start).Round(time.Millisecond), d.root)
		}
		return nil, err
	}
	debug.Logf("acquired dataset lock after %v: %s\n", time.Since(start), path)
	return l, nil
}

// Release releases the lock. Safe to call multiple times.
func (l *Lock) Release() error {
	if l == nil || l.flock == nil {
		return nil
	}
	debug.Logf("releasing dataset lock: %s\n", l.flock.Path())
	return l.flock.Unlock()
}
