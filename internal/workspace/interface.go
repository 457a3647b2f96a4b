package workspace

import (
	"context"
	"time"
)

// Release status codes passed to the cleanup notifier.
const (
	StatusOK          = 0
	StatusNothingDone = 1
	StatusFailed      = 2
)

// Workspace is a disposable directory owned by a single backup or restore run.
type Workspace struct {
	Name string
	Dir  string

	// External is set for workspaces acquired at a caller-provided path
	// (no-compression backups). A successful release leaves them in place.
	External bool
}

// CleanupNotifier is asked before a workspace is removed. Any reported failure
// vetoes the deletion.
type CleanupNotifier interface {
	NotifyCleanup(ctx context.Context, dir string, status int) (failed []string)
}

// CleanupReport summarizes a stale workspace sweep.
type CleanupReport struct {
	DeletedDirs int
}

// Manager governs workspace lifecycle under a single root directory.
type Manager interface {
	// Acquire creates a fresh workspace for name, destroying any stale one.
	Acquire(ctx context.Context, name string) (Workspace, error)

	// AcquireAt adopts an existing, caller-owned directory as the workspace.
	AcquireAt(ctx context.Context, name, dir string) (Workspace, error)

	// Release runs the cleanup notifier and removes the workspace unless vetoed.
	Release(ctx context.Context, ws Workspace, status int) error

	// Cleanup removes workspaces older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
