// Package lockgate serializes mount and unmount operations against the
// same host using an advisory file lock, so that two concurrent
// requests for the same backup target never race against the same
// ledger row or the same kernel mount table entry.
package lockgate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dittomount/dms/pkg/metrics"
	"github.com/dittomount/dms/pkg/model"
)

// Gate guards one lock file per host, serializing Mount/Unmount calls
// for that host across processes on the same machine. fcntl record
// locks belong to the process, so goroutines within one process are
// not excluded from each other by the Gate.
type Gate struct {
	dir string
	met *metrics.Metrics
}

// New returns a Gate that places lock files under dir. The directory
// is created on first Acquire if it does not exist.
func New(dir string) *Gate {
	return &Gate{dir: dir}
}

// SetMetrics attaches met so Acquire reports lock wait time. A nil met
// (the default) disables this instrumentation.
func (g *Gate) SetMetrics(met *metrics.Metrics) {
	g.met = met
}

// Token represents a held lock. It must be passed to Release exactly
// once.
type Token struct {
	file *os.File
	path string
}

func (g *Gate) path(host string) string {
	return filepath.Join(g.dir, host+".lock")
}

// Acquire blocks until the host's lock is held, ctx is canceled, or
// timeout elapses, polling at a fixed interval between attempts since
// F_SETLKW cannot itself be bounded by a deadline.
func (g *Gate) Acquire(ctx context.Context, host string, timeout time.Duration) (*Token, error) {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return nil, &model.LockTimeoutError{LockPath: g.path(host), Waited: "0s"}
	}

	path := g.path(host)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, &model.LockTimeoutError{LockPath: path, Waited: "0s"}
	}

	start := time.Now()
	deadline := start.Add(timeout)
	const pollInterval = 50 * time.Millisecond

	for {
		flock := unix.Flock_t{
			Type:   unix.F_WRLCK,
			Whence: int16(unix.SEEK_SET),
			Start:  0,
			Len:    0,
		}
		if err := unix.FcntlFlock(file.Fd(), unix.F_SETLK, &flock); err == nil {
			g.met.ObserveLockWait(host, time.Since(start))
			return &Token{file: file, path: path}, nil
		}

		if time.Now().After(deadline) {
			file.Close()
			g.met.ObserveLockWait(host, time.Since(start))
			return nil, &model.LockTimeoutError{LockPath: path, Waited: timeout.String()}
		}
		select {
		case <-ctx.Done():
			file.Close()
			g.met.ObserveLockWait(host, time.Since(start))
			return nil, &model.LockTimeoutError{LockPath: path, Waited: timeout.String()}
		case <-time.After(pollInterval):
		}
	}
}

// Release unlocks and closes the underlying file. The lock file itself
// is left on disk; it is a permanent marker for the host, never
// deleted, so a fresh open always targets the same inode.
func (g *Gate) Release(tok *Token) error {
	if tok == nil || tok.file == nil {
		return nil
	}
	flock := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: int16(unix.SEEK_SET),
		Start:  0,
		Len:    0,
	}
	if err := unix.FcntlFlock(tok.file.Fd(), unix.F_SETLK, &flock); err != nil {
		tok.file.Close()
		return fmt.Errorf("lockgate: unlock %q: %w", tok.path, err)
	}
	return tok.file.Close()
}
