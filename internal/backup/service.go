// Package backup orchestrates backup creation and restoration: workspace
// lifecycle, system hooks, application scripts and archive packaging.
package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/mattjoyce/satchel/internal/app"
	"github.com/mattjoyce/satchel/internal/archive"
	"github.com/mattjoyce/satchel/internal/hook"
	"github.com/mattjoyce/satchel/internal/journal"
	"github.com/mattjoyce/satchel/internal/lock"
	"github.com/mattjoyce/satchel/internal/log"
	"github.com/mattjoyce/satchel/internal/prompt"
	"github.com/mattjoyce/satchel/internal/storage"
	"github.com/mattjoyce/satchel/internal/workspace"
)

// Deps are the collaborators of a Service.
type Deps struct {
	Repository *archive.Repository
	Hooks      *hook.Adapter
	Apps       *app.Runner
	Platform   Platform
	Confirmer  Confirmer
	Space      SpaceProbe

	// Journal is optional. Without it history and verify are unavailable.
	Journal *journal.Journal

	BackupRoot    string
	WorkspacesDir string
	LockPath      string
}

// Service is the operation surface: create, restore, list, info and delete,
// plus verify, history and workspace cleanup.
type Service struct {
	repo          *archive.Repository
	hooks         *hook.Adapter
	apps          *app.Runner
	platform      Platform
	confirm       Confirmer
	space         SpaceProbe
	journal       *journal.Journal
	backupRoot    string
	workspacesDir string
	lockPath      string
	now           func() time.Time
}

// NewService validates deps and builds a Service.
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Repository == nil:
		return nil, fmt.Errorf("archive repository is required")
	case d.Hooks == nil:
		return nil, fmt.Errorf("hook adapter is required")
	case d.Apps == nil:
		return nil, fmt.Errorf("application runner is required")
	case d.Platform == nil:
		return nil, fmt.Errorf("platform is required")
	case d.BackupRoot == "" || d.WorkspacesDir == "" || d.LockPath == "":
		return nil, fmt.Errorf("backup root, workspaces directory and lock path are required")
	}

	s := &Service{
		repo:          d.Repository,
		hooks:         d.Hooks,
		apps:          d.Apps,
		platform:      d.Platform,
		confirm:       d.Confirmer,
		space:         d.Space,
		journal:       d.Journal,
		backupRoot:    d.BackupRoot,
		workspacesDir: d.WorkspacesDir,
		lockPath:      d.LockPath,
		now:           time.Now,
	}
	if s.confirm == nil {
		s.confirm = prompt.Decline{}
	}
	if s.space == nil {
		s.space = volumeProbe{}
	}
	return s, nil
}

type volumeProbe struct{}

func (volumeProbe) FreeSpace(path string) (uint64, error) {
	return storage.FreeSpace(path)
}

// Create builds a new archive. See CreateOptions for the knobs.
func (s *Service) Create(ctx context.Context, opts CreateOptions) (CreateResult, error) {
	plan, err := s.planCreate(opts)
	if err != nil {
		return CreateResult{}, classify("create", err)
	}

	var res CreateResult
	err = s.locked(ctx, journal.KindCreate, plan.name, func(logger logFn) (any, error) {
		var err error
		res, err = s.create(ctx, plan, opts)
		if err == nil && res.Checksum != "" && plan.destDir == s.repo.Dir() && s.journal != nil {
			if cerr := s.journal.RecordChecksum(ctx, plan.name, res.Checksum, res.Size); cerr != nil {
				logger("failed to record archive checksum", "error", cerr)
			}
		}
		return res, err
	})
	return res, classify("create", err)
}

// Restore restores system and application state from a stored archive.
func (s *Service) Restore(ctx context.Context, opts RestoreOptions) (RestoreResult, error) {
	if opts.IgnoreHooks && opts.IgnoreApps {
		return RestoreResult{}, classify("restore", ErrBothDisabled)
	}

	var res RestoreResult
	err := s.locked(ctx, journal.KindRestore, opts.Name, func(logFn) (any, error) {
		var err error
		res, err = s.restore(ctx, opts)
		return res, err
	})
	return res, classify("restore", err)
}

// List returns the stored archives, optionally with their metadata.
func (s *Service) List(withInfo, humanReadable bool) ([]archive.Archive, error) {
	archives, err := s.repo.List(withInfo, humanReadable)
	return archives, classify("list", err)
}

// Info describes one stored archive.
func (s *Service) Info(name string, withDetails, humanReadable bool) (archive.Archive, error) {
	a, err := s.repo.Info(name, withDetails, humanReadable)
	return a, classify("info", err)
}

// Delete removes an archive and its sidecar between the pre and post delete
// hook phases.
func (s *Service) Delete(ctx context.Context, name string) error {
	err := s.locked(ctx, journal.KindDelete, name, func(warn logFn) (any, error) {
		if !s.repo.Exists(name) {
			return nil, fmt.Errorf("%w: %s", archive.ErrUnknownArchive, name)
		}
		if failed := s.hooks.Notify(ctx, hook.PhasePreBackupDelete, name); len(failed) > 0 {
			warn("pre-delete hooks failed", "failed", failed)
		}
		if err := s.repo.Delete(name); err != nil {
			return nil, err
		}
		if s.journal != nil {
			if err := s.journal.ForgetChecksum(ctx, name); err != nil {
				warn("failed to forget archive checksum", "error", err)
			}
		}
		if failed := s.hooks.Notify(ctx, hook.PhasePostBackupDelete, name); len(failed) > 0 {
			warn("post-delete hooks failed", "failed", failed)
		}
		return map[string]string{"name": name}, nil
	})
	return classify("delete", err)
}

// VerifyResult reports an archive checksum comparison.
type VerifyResult struct {
	Name      string `json:"name"`
	Algorithm string `json:"algorithm"`
	Checksum  string `json:"checksum"`
	Valid     bool   `json:"valid"`
}

// Verify recomputes the checksum of a stored archive and compares it with the
// one recorded at creation.
func (s *Service) Verify(ctx context.Context, name string) (VerifyResult, error) {
	if s.journal == nil {
		return VerifyResult{}, classify("verify", fmt.Errorf("no journal configured"))
	}
	if !s.repo.Exists(name) {
		return VerifyResult{}, classify("verify", fmt.Errorf("%w: %s", archive.ErrUnknownArchive, name))
	}

	sum, err := s.journal.ChecksumFor(ctx, name)
	if err != nil {
		return VerifyResult{}, classify("verify", err)
	}
	res := VerifyResult{Name: name, Algorithm: sum.Algorithm, Checksum: sum.Value}
	if err := archive.VerifyFileHash(s.repo.Path(name), sum.Value); err != nil {
		return res, classify("verify", fmt.Errorf("%w: %v", ErrChecksumMismatch, err))
	}
	res.Valid = true
	return res, nil
}

// History returns journaled operations, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]journal.Entry, error) {
	if s.journal == nil {
		return nil, classify("history", fmt.Errorf("no journal configured"))
	}
	entries, err := s.journal.List(ctx, limit)
	return entries, classify("history", err)
}

// Cleanup removes abandoned workspaces older than olderThan.
func (s *Service) Cleanup(ctx context.Context, olderThan time.Duration) (workspace.CleanupReport, error) {
	l, err := lock.Acquire(s.lockPath, "cleanup")
	if err != nil {
		return workspace.CleanupReport{}, classify("cleanup", err)
	}
	defer l.Release()

	mgr, err := workspace.NewFSManager(s.workspacesDir, nil)
	if err != nil {
		return workspace.CleanupReport{}, classify("cleanup", err)
	}
	report, err := mgr.Cleanup(ctx, olderThan)
	return report, classify("cleanup", err)
}

type logFn func(msg string, args ...any)

// locked runs op under the repository lock and journals it.
func (s *Service) locked(ctx context.Context, kind journal.Kind, name string, op func(warn logFn) (any, error)) error {
	l, err := lock.Acquire(s.lockPath, string(kind))
	if err != nil {
		return err
	}
	defer l.Release()

	var opID string
	if s.journal != nil {
		if opID, err = s.journal.Start(ctx, kind, name); err != nil {
			log.WithComponent("backup").Warn("failed to journal operation start", "error", err)
		}
	}
	logger := log.WithOperation(string(kind), opID).With("archive", name)

	detail, opErr := op(logger.Warn)
	if opErr != nil {
		logger.Error("operation failed", "error", opErr)
	} else {
		logger.Info("operation completed")
	}

	if opID != "" {
		if err := s.journal.Finish(context.WithoutCancel(ctx), opID, opErr, detail); err != nil {
			logger.Warn("failed to journal operation result", "error", err)
		}
	}
	return opErr
}
