package lockfile

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "substrate.lock")

	l, err := AcquireTimeout(path, time.Second)
	if err != nil {
		t.Fatalf("first acquire should succeed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := Acquire(ctx, path); err == nil {
		t.Fatal("second acquire should time out while the first lock is held")
	}

	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	l2, err := AcquireTimeout(path, time.Second)
	if err != nil {
		t.Fatalf("acquire after release should succeed: %v", err)
	}
	l2.ReleaseAndRemove()
}

func TestReleaseAndRemoveDeletesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "substrate.lock")

	l, err := AcquireTimeout(path, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.ReleaseAndRemove(); err != nil {
		t.Fatal(err)
	}

	l2, err := AcquireTimeout(path, time.Second)
	if err != nil {
		t.Fatalf("lock should be re-acquirable after removal: %v", err)
	}
	l2.ReleaseAndRemove()
}
