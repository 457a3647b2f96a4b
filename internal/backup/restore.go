package backup

import (
	"context"
	"fmt"
	"sort"

	"github.com/mattjoyce/satchel/internal/app"
	"github.com/mattjoyce/satchel/internal/archive"
	"github.com/mattjoyce/satchel/internal/hook"
	"github.com/mattjoyce/satchel/internal/log"
	"github.com/mattjoyce/satchel/internal/workspace"
)

const installedQuestion = "The system is already installed. Restoring may overwrite its configuration. Proceed?"

// RestoreOptions are the parameters of a restore.
type RestoreOptions struct {
	Name        string   `json:"name"`
	Hooks       []string `json:"hooks,omitempty"`
	IgnoreHooks bool     `json:"ignore_hooks,omitempty"`
	Apps        []string `json:"apps,omitempty"`
	IgnoreApps  bool     `json:"ignore_apps,omitempty"`
	Force       bool     `json:"force,omitempty"`
}

// RestoreResult lists what a restore brought back.
type RestoreResult struct {
	Name  string                 `json:"name"`
	Apps  []string               `json:"apps"`
	Hooks map[string]hook.Result `json:"hooks"`

	FailedHooks []string   `json:"failed_hooks,omitempty"`
	AppReport   app.Report `json:"app_report,omitempty"`
}

func (s *Service) restore(ctx context.Context, opts RestoreOptions) (RestoreResult, error) {
	logger := log.WithComponent("backup").With("archive", opts.Name)
	result := RestoreResult{
		Name:  opts.Name,
		Apps:  []string{},
		Hooks: make(map[string]hook.Result),
	}

	// VALIDATE_ARCHIVE
	stored, err := s.repo.Info(opts.Name, false, false)
	if err != nil {
		return result, err
	}

	// CHECK_DISK_SPACE
	free, err := s.space.FreeSpace(s.backupRoot)
	if err != nil {
		return result, fmt.Errorf("%w: %s: %v", ErrSpaceUnknown, s.backupRoot, err)
	}
	if stored.Size > 0 && free < uint64(stored.Size) {
		return result, fmt.Errorf("%w: need %d bytes, %d available", ErrInsufficientSpace, stored.Size, free)
	}

	mgr, err := workspace.NewFSManager(s.workspacesDir, s.hooks.CleanupNotifier(hook.PhasePostBackupRestore))
	if err != nil {
		return result, err
	}

	err = workspace.Scoped(ctx, mgr, opts.Name, func(ws workspace.Workspace) (int, error) {
		// EXTRACT, LOAD_METADATA
		info, err := archive.Unpack(ctx, s.repo.Path(opts.Name), ws.Dir)
		if err != nil {
			return workspace.StatusFailed, err
		}

		// CHECK_INSTALL_PRECONDITION
		if s.platform.IsInstalled() {
			if !opts.Force {
				ok, err := s.confirm.Confirm(ctx, installedQuestion)
				if err != nil {
					logger.Warn("confirmation failed, assuming no", "error", err)
				}
				if !ok {
					return workspace.StatusFailed, ErrRestoreRefused
				}
			}
		} else {
			domain, err := archive.ReadCurrentHost(ws.Dir)
			if err != nil {
				return workspace.StatusFailed, err
			}
			logger.Info("system not installed, running post-install", "domain", domain)
			if err := s.platform.PostInstall(ctx, domain); err != nil {
				return workspace.StatusFailed, err
			}
		}

		// RUN_SYSTEM_HOOKS
		if !opts.IgnoreHooks {
			names := s.restoreHooks(ws.Dir, info, opts.Hooks)
			if len(names) > 0 {
				outcome := s.hooks.Run(ctx, hook.PhaseRestore, names, ws.Dir)
				result.Hooks = outcome.Succeeded
				result.FailedHooks = outcome.FailedNames()
			}
		}

		// RUN_APP_SCRIPTS
		if !opts.IgnoreApps {
			restored, report := s.apps.Restore(ctx, ws.Dir, info.Apps, opts.Apps)
			if restored != nil {
				result.Apps = restored
			}
			result.AppReport = report
		}

		// CHECK_NONEMPTY
		if len(result.Hooks) == 0 && len(result.Apps) == 0 {
			return workspace.StatusNothingDone, ErrNothingRestored
		}

		// FINALIZE
		if len(result.Apps) > 0 {
			if err := s.platform.Regenerate(ctx); err != nil {
				logger.Error("service configuration regeneration failed", "error", err)
			}
		}
		logger.Info("restore complete", "apps", result.Apps, "hooks", len(result.Hooks))
		return workspace.StatusOK, nil
	})
	return result, err
}

// restoreHooks picks the restore hooks to run: only names recorded in the
// archive, resolved in the live registry first and then in the routines
// bundled with the archive.
func (s *Service) restoreHooks(workspaceDir string, info archive.Info, requested []string) []string {
	logger := log.WithComponent("backup")

	var candidates []string
	if len(requested) == 0 {
		for name := range info.Hooks {
			candidates = append(candidates, name)
		}
		sort.Strings(candidates)
	} else {
		seen := make(map[string]bool, len(requested))
		for _, name := range requested {
			if seen[name] {
				continue
			}
			seen[name] = true
			if _, ok := info.Hooks[name]; !ok {
				logger.Error("hook not found in archive", "hook", name)
				continue
			}
			candidates = append(candidates, name)
		}
	}

	var names []string
	for _, name := range candidates {
		if s.hooks.Known(hook.PhaseRestore, name) {
			names = append(names, name)
			continue
		}
		ok, err := s.hooks.ImportBundled(workspaceDir, name)
		if err != nil {
			logger.Error("failed to import restore hook from archive", "hook", name, "error", err)
			continue
		}
		if !ok {
			logger.Warn("no restore hook available", "hook", name)
			continue
		}
		names = append(names, name)
	}
	return names
}
