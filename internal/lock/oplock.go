package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrLocked is returned when another process already holds the lock.
var ErrLocked = errors.New("another backup operation is running")

// OpLock serializes backup, restore and delete operations against one backup
// root. It is a PID file + flock(2); keep the lock alive by keeping the file
// descriptor open.
type OpLock struct {
	f *os.File
}

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID       int
	Operation string
}

// Acquire takes an exclusive non-blocking lock at lockPath and records the
// current PID and operation name in the file.
func Acquire(lockPath, operation string) (*OpLock, error) {
	if lockPath == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if h, rerr := ReadHolder(lockPath); rerr == nil {
				return nil, fmt.Errorf("%w (pid %d, %s)", ErrLocked, h.PID, h.Operation)
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	fail := func(step string, err error) (*OpLock, error) {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("%s lock file: %w", step, err)
	}

	if err := f.Truncate(0); err != nil {
		return fail("truncate", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fail("seek", err)
	}
	if _, err := fmt.Fprintf(f, "%d %s\n", os.Getpid(), operation); err != nil {
		return fail("write", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}

	return &OpLock{f: f}, nil
}

// ReadHolder parses the PID and operation recorded in a lock file.
func ReadHolder(lockPath string) (Holder, error) {
	b, err := os.ReadFile(lockPath)
	if err != nil {
		return Holder{}, err
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return Holder{}, fmt.Errorf("lock file %s is empty", lockPath)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return Holder{}, fmt.Errorf("parse pid in %s: %w", lockPath, err)
	}
	h := Holder{PID: pid}
	if len(fields) > 1 {
		h.Operation = fields[1]
	}
	return h, nil
}

// Release unlocks and closes the lock file. Releasing a nil or already
// released lock is a no-op.
func (l *OpLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
