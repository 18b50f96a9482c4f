// Package lockfile provides advisory file locking shared by every component
// that guards a filesystem artifact against concurrent writers: the event
// log's sequence counter and the blackboard's JSON snapshot.
package lockfile

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Lock holds an exclusive advisory lock on a file. The zero value is not
// usable; obtain one with Acquire.
type Lock struct {
	f    *os.File
	path string
}

// Acquire blocks (up to the deadline in ctx, if any) trying to take an
// exclusive, non-blocking flock on path, creating it if necessary. Retries
// are spaced with jitter so that many competing processes don't thunder on
// the same file.
func Acquire(ctx context.Context, path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	backoff := 10 * time.Millisecond
	const maxBackoff = 250 * time.Millisecond
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if err != unix.EWOULDBLOCK {
			f.Close()
			return nil, fmt.Errorf("lockfile: flock %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("lockfile: timed out acquiring %s: %w", path, ctx.Err())
		case <-time.After(backoff + time.Duration(rand.Int63n(int64(backoff)))):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	f.Truncate(0)
	f.Seek(0, 0)
	fmt.Fprintf(f, "%d\n", os.Getpid())

	return &Lock{f: f, path: path}, nil
}

// AcquireTimeout is a convenience wrapper around Acquire for callers that
// want a plain timeout instead of threading a context through.
func AcquireTimeout(path string, timeout time.Duration) (*Lock, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return Acquire(ctx, path)
}

// Release unlocks and closes the underlying file. It does not remove the
// lock file itself: callers that hold repeated short-lived locks on a
// long-lived path (the event log sequence counter, the blackboard snapshot)
// want the path to persist across acquisitions.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}

// ReleaseAndRemove unlocks, closes, and deletes the lock file. Use this for
// process-scoped singleton locks where no other process expects the path to
// survive.
func (l *Lock) ReleaseAndRemove() error {
	if l == nil || l.f == nil {
		return nil
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	name := l.f.Name()
	err := l.f.Close()
	os.Remove(name)
	return err
}
