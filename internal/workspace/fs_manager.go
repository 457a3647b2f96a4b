package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/satchel/internal/fsutil"
	"github.com/mattjoyce/satchel/internal/log"
)

// fsManager manages workspace directories on local disk.
type fsManager struct {
	baseDir  string
	notifier CleanupNotifier
	now      func() time.Time
}

var _ Manager = (*fsManager)(nil)

// NewFSManager creates a filesystem-backed workspace manager rooted at baseDir.
// notifier may be nil, in which case releases never get vetoed.
func NewFSManager(baseDir string, notifier CleanupNotifier) (*fsManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}

	return &fsManager{
		baseDir:  filepath.Clean(trimmed),
		notifier: notifier,
		now:      time.Now,
	}, nil
}

// Acquire creates a workspace directory for name with mode 0750.
func (m *fsManager) Acquire(ctx context.Context, name string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(name)
	if err != nil {
		return Workspace{}, err
	}

	if _, err := os.Stat(path); err == nil {
		log.WithComponent("workspace").Debug("removing stale workspace", "path", path)
		if err := fsutil.RemoveTree(path); err != nil {
			return Workspace{}, fmt.Errorf("remove stale workspace %q: %w", name, err)
		}
	} else if !os.IsNotExist(err) {
		return Workspace{}, fmt.Errorf("stat workspace %q: %w", name, err)
	}

	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return Workspace{}, fmt.Errorf("create workspace base directory: %w", err)
	}
	if err := os.Mkdir(path, 0o750); err != nil {
		return Workspace{}, fmt.Errorf("create workspace %q: %w", name, err)
	}
	// Mkdir is subject to umask.
	if err := os.Chmod(path, 0o750); err != nil {
		return Workspace{}, fmt.Errorf("chmod workspace %q: %w", name, err)
	}

	return Workspace{Name: name, Dir: path}, nil
}

// AcquireAt uses dir, which must already exist, as the workspace.
func (m *fsManager) AcquireAt(ctx context.Context, name, dir string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	if err := validateName(name); err != nil {
		return Workspace{}, err
	}

	info, err := os.Stat(dir)
	if err != nil {
		return Workspace{}, fmt.Errorf("open workspace directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace path %q is not a directory", dir)
	}

	return Workspace{Name: name, Dir: filepath.Clean(dir), External: true}, nil
}

// Release asks the notifier whether the workspace may go, then removes it.
// A vetoed release logs a warning and leaves the tree for inspection.
func (m *fsManager) Release(ctx context.Context, ws Workspace, status int) error {
	logger := log.WithComponent("workspace")

	if ws.External && status == StatusOK {
		logger.Debug("keeping output directory", "path", ws.Dir)
		return nil
	}

	if m.notifier != nil {
		if failed := m.notifier.NotifyCleanup(ctx, ws.Dir, status); len(failed) > 0 {
			logger.Warn("cleanup vetoed, workspace left in place",
				"path", ws.Dir, "status", status, "failed", failed)
			return nil
		}
	}

	if err := fsutil.RemoveTree(ws.Dir); err != nil {
		return fmt.Errorf("remove workspace %q: %w", ws.Name, err)
	}
	logger.Debug("workspace released", "path", ws.Dir, "status", status)
	return nil
}

// Scoped acquires a workspace for name, runs body and always releases it with
// the status body returns. A body error with status 0 is released as StatusFailed.
func Scoped(ctx context.Context, m Manager, name string, body func(ws Workspace) (int, error)) error {
	ws, err := m.Acquire(ctx, name)
	if err != nil {
		return err
	}
	return ScopedAt(ctx, m, ws, body)
}

// ScopedAt runs body against an already acquired workspace and releases it.
func ScopedAt(ctx context.Context, m Manager, ws Workspace, body func(ws Workspace) (int, error)) (err error) {
	status := StatusFailed
	defer func() {
		if r := recover(); r != nil {
			_ = m.Release(context.WithoutCancel(ctx), ws, StatusFailed)
			panic(r)
		}
		if relErr := m.Release(context.WithoutCancel(ctx), ws, status); relErr != nil {
			err = errors.Join(err, relErr)
		}
	}()

	status, err = body(ws)
	if err != nil && status == StatusOK {
		status = StatusFailed
	}
	return err
}

// Cleanup removes workspace directories older than olderThan based on directory
// modification time.
func (m *fsManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.baseDir, entry.Name())
		if err := fsutil.RemoveTree(path); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

func (m *fsManager) workspacePath(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, name), nil
}

func validateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("workspace name is empty")
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("workspace name %q is invalid", name)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("workspace name %q must not contain path separators", name)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("workspace name %q is invalid", name)
	}
	return nil
}
