package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Norgate-AV/gobuild/internal/codes"
)

// LockFile is the lock's name inside the output directory
const LockFile = ".gobuild.lock"

// lockPoll is how often a contended lock is retried
const lockPoll = 50 * time.Millisecond

var errLocked = errors.New("lock held by another process")

// Lock is an exclusive advisory lock on an output directory. The operating
// system drops it when the holder exits, so a crashed build never leaves
// the directory locked.
type Lock struct {
	f    *os.File
	path string
}

// Acquire locks dir, waiting until the lock is free or ctx is done.
// Builds into different directories never contend.
func Acquire(ctx context.Context, dir string, logger *slog.Logger) (*Lock, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, codes.Wrap(codes.IOError, err, "failed to create output directory")
	}

	path := filepath.Join(dir, LockFile)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, codes.Wrap(codes.IOError, err, "failed to open lock file")
	}

	waiting := false

	for {
		err := tryLock(f)
		if err == nil {
			break
		}

		if !errors.Is(err, errLocked) {
			f.Close()
			return nil, codes.Wrap(codes.IOError, err, "failed to lock %s", dir)
		}

		if !waiting {
			waiting = true
			logger.Info("waiting for output directory lock", "dir", dir, "holder", readPID(f))
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, codes.Wrap(codes.IOError, ctx.Err(), "gave up waiting for lock on %s", dir)
		case <-time.After(lockPoll):
		}
	}

	// A pid left behind belongs to a holder that died without releasing
	if pid := readPID(f); pid > 0 && pid != os.Getpid() && !processAlive(pid) {
		logger.Warn("reclaimed stale output directory lock", "dir", dir, "pid", pid)
	}

	if err := writePID(f); err != nil {
		_ = unlock(f)
		f.Close()

		return nil, codes.Wrap(codes.IOError, err, "failed to write lock file")
	}

	return &Lock{f: f, path: path}, nil
}

// Release unlocks the directory. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}

	f := l.f
	l.f = nil

	_ = f.Truncate(0)

	if err := unlock(f); err != nil {
		f.Close()
		return codes.Wrap(codes.IOError, err, "failed to unlock %s", l.path)
	}

	return f.Close()
}

func readPID(f *os.File) int {
	buf := make([]byte, 32)

	n, err := f.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}

	return pid
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}

	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return err
	}

	return f.Sync()
}
