package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type recordingNotifier struct {
	calls  []int
	dirs   []string
	failed []string
}

func (n *recordingNotifier) NotifyCleanup(_ context.Context, dir string, status int) []string {
	n.calls = append(n.calls, status)
	n.dirs = append(n.dirs, dir)
	return n.failed
}

func TestAcquireCreatesFreshDirectory(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "tmp")
	mgr, err := NewFSManager(baseDir, nil)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	ws, err := mgr.Acquire(context.Background(), "20240101-000000")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	wantPath := filepath.Join(baseDir, "20240101-000000")
	if ws.Dir != wantPath {
		t.Fatalf("Acquire() dir = %q, want %q", ws.Dir, wantPath)
	}

	info, err := os.Stat(ws.Dir)
	if err != nil {
		t.Fatalf("Stat(workspace) error = %v", err)
	}
	if got := info.Mode().Perm(); got != 0o750 {
		t.Fatalf("workspace mode = %o, want 750", got)
	}
}

func TestAcquireDestroysStaleWorkspace(t *testing.T) {
	baseDir := t.TempDir()
	mgr, err := NewFSManager(baseDir, nil)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	stale := filepath.Join(baseDir, "nightly", "leftover.txt")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	ws, err := mgr.Acquire(context.Background(), "nightly")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	entries, err := os.ReadDir(ws.Dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("workspace has %d entries, want fresh directory", len(entries))
	}
}

func TestAcquireRejectsInvalidNames(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "../escape"} {
		if _, err := mgr.Acquire(context.Background(), name); err == nil {
			t.Errorf("Acquire(%q) expected error", name)
		}
	}
}

func TestReleaseRemovesWhenNotifierAgrees(t *testing.T) {
	notifier := &recordingNotifier{}
	mgr, err := NewFSManager(t.TempDir(), notifier)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	ws, err := mgr.Acquire(context.Background(), "job")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := mgr.Release(context.Background(), ws, StatusNothingDone); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatalf("workspace still exists after release, stat err = %v", err)
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != StatusNothingDone || notifier.dirs[0] != ws.Dir {
		t.Fatalf("notifier calls = %v dirs = %v", notifier.calls, notifier.dirs)
	}
}

func TestReleaseKeepsWorkspaceOnVeto(t *testing.T) {
	notifier := &recordingNotifier{failed: []string{"forensics"}}
	mgr, err := NewFSManager(t.TempDir(), notifier)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	ws, err := mgr.Acquire(context.Background(), "job")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := mgr.Release(context.Background(), ws, StatusFailed); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(ws.Dir); err != nil {
		t.Fatalf("vetoed workspace should remain, stat err = %v", err)
	}
}

func TestReleaseExternalWorkspace(t *testing.T) {
	notifier := &recordingNotifier{}
	mgr, err := NewFSManager(t.TempDir(), notifier)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	out := filepath.Join(t.TempDir(), "export")
	if err := os.Mkdir(out, 0o750); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	ws, err := mgr.AcquireAt(context.Background(), "export", out)
	if err != nil {
		t.Fatalf("AcquireAt() error = %v", err)
	}
	if !ws.External {
		t.Fatalf("AcquireAt() workspace not marked external")
	}

	if err := mgr.Release(context.Background(), ws, StatusOK); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("successful release removed output directory: %v", err)
	}
	if len(notifier.calls) != 0 {
		t.Fatalf("notifier called %d times for kept output directory", len(notifier.calls))
	}

	if err := mgr.Release(context.Background(), ws, StatusFailed); err != nil {
		t.Fatalf("Release(failed) error = %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("failed release should remove output directory, stat err = %v", err)
	}
}

func TestScopedReleasesOnEveryPath(t *testing.T) {
	tests := []struct {
		name       string
		bodyStatus int
		bodyErr    error
		wantStatus int
	}{
		{name: "success", bodyStatus: StatusOK, wantStatus: StatusOK},
		{name: "nothing done", bodyStatus: StatusNothingDone, bodyErr: errors.New("nothing"), wantStatus: StatusNothingDone},
		{name: "error without status", bodyStatus: StatusOK, bodyErr: errors.New("boom"), wantStatus: StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &recordingNotifier{}
			mgr, err := NewFSManager(t.TempDir(), notifier)
			if err != nil {
				t.Fatalf("NewFSManager() error = %v", err)
			}

			var seen string
			err = Scoped(context.Background(), mgr, "scoped", func(ws Workspace) (int, error) {
				seen = ws.Dir
				return tt.bodyStatus, tt.bodyErr
			})
			if !errors.Is(err, tt.bodyErr) {
				t.Fatalf("Scoped() error = %v, want %v", err, tt.bodyErr)
			}
			if len(notifier.calls) != 1 || notifier.calls[0] != tt.wantStatus {
				t.Fatalf("notifier calls = %v, want [%d]", notifier.calls, tt.wantStatus)
			}
			if _, err := os.Stat(seen); !os.IsNotExist(err) {
				t.Fatalf("workspace not removed, stat err = %v", err)
			}
		})
	}
}

func TestCleanupRemovesOnlyStaleWorkspaces(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "tmp")
	mgr, err := NewFSManager(baseDir, nil)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	now := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return now }

	oldWS, err := mgr.Acquire(context.Background(), "old")
	if err != nil {
		t.Fatalf("Acquire(old) error = %v", err)
	}
	newWS, err := mgr.Acquire(context.Background(), "new")
	if err != nil {
		t.Fatalf("Acquire(new) error = %v", err)
	}

	if err := os.Chtimes(oldWS.Dir, now.Add(-48*time.Hour), now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("Chtimes(old) error = %v", err)
	}
	if err := os.Chtimes(newWS.Dir, now.Add(-1*time.Hour), now.Add(-1*time.Hour)); err != nil {
		t.Fatalf("Chtimes(new) error = %v", err)
	}

	report, err := mgr.Cleanup(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if report.DeletedDirs != 1 {
		t.Fatalf("Cleanup() deleted = %d, want 1", report.DeletedDirs)
	}
	if _, err := os.Stat(oldWS.Dir); !os.IsNotExist(err) {
		t.Fatalf("old workspace should be deleted, stat err = %v", err)
	}
	if _, err := os.Stat(newWS.Dir); err != nil {
		t.Fatalf("new workspace should remain: %v", err)
	}
}
