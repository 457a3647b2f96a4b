package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattjoyce/satchel/internal/app"
	"github.com/mattjoyce/satchel/internal/archive"
	"github.com/mattjoyce/satchel/internal/fsutil"
	"github.com/mattjoyce/satchel/internal/hook"
	"github.com/mattjoyce/satchel/internal/log"
	"github.com/mattjoyce/satchel/internal/workspace"
)

// defaultNameLayout names archives after their local creation time.
const defaultNameLayout = "20060102-150405"

// forbiddenOutput matches system roots an output directory may never be.
var forbiddenOutput = regexp.MustCompile(`^/(|(bin|boot|dev|etc|lib|root|run|sbin|sys|usr|var)(|/.*))$`)

// CreateOptions are the parameters of a backup.
type CreateOptions struct {
	Name            string   `json:"name,omitempty"`
	Description     string   `json:"description,omitempty"`
	OutputDirectory string   `json:"output_directory,omitempty"`
	NoCompress      bool     `json:"no_compress,omitempty"`
	IgnoreHooks     bool     `json:"ignore_hooks,omitempty"`
	Hooks           []string `json:"hooks,omitempty"`
	IgnoreApps      bool     `json:"ignore_apps,omitempty"`
	Apps            []string `json:"apps,omitempty"`
}

// CreateResult is the archive metadata of a finished backup.
type CreateResult struct {
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	archive.Info

	FailedHooks []string   `json:"failed_hooks,omitempty"`
	AppReport   app.Report `json:"app_report,omitempty"`
}

type createPlan struct {
	name      string
	outputDir string
	destDir   string
}

// planCreate validates options before anything is written. The only side
// effect is creating a missing output directory once every check passed.
func (s *Service) planCreate(opts CreateOptions) (createPlan, error) {
	if opts.IgnoreHooks && opts.IgnoreApps {
		return createPlan{}, ErrBothDisabled
	}

	name := opts.Name
	if name == "" {
		name = s.now().Format(defaultNameLayout)
	}
	if !validArchiveName(name) {
		return createPlan{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if s.repo.Exists(name) {
		return createPlan{}, fmt.Errorf("%w: %s", ErrArchiveExists, name)
	}

	plan := createPlan{name: name, destDir: s.repo.Dir()}
	if opts.OutputDirectory == "" {
		if opts.NoCompress {
			return createPlan{}, ErrNoCompressNoOutput
		}
		return plan, nil
	}

	out, err := filepath.Abs(opts.OutputDirectory)
	if err != nil {
		return createPlan{}, fmt.Errorf("%w: %v", ErrForbiddenOutput, err)
	}
	if forbiddenOutput.MatchString(out) || within(out, s.repo.Dir()) || within(out, s.workspacesDir) {
		return createPlan{}, fmt.Errorf("%w: %s", ErrForbiddenOutput, out)
	}
	if !opts.NoCompress {
		if _, err := os.Stat(filepath.Join(out, name+".tar.gz")); err == nil {
			return createPlan{}, fmt.Errorf("%w: %s in %s", ErrArchiveExists, name, out)
		}
	}

	if err := os.MkdirAll(out, 0o750); err != nil {
		return createPlan{}, fmt.Errorf("%w: create %s: %v", ErrForbiddenOutput, out, err)
	}
	if opts.NoCompress {
		empty, err := fsutil.IsEmptyDir(out)
		if err != nil {
			return createPlan{}, fmt.Errorf("%w: %v", ErrForbiddenOutput, err)
		}
		if !empty {
			return createPlan{}, fmt.Errorf("%w: %s", ErrOutputNotEmpty, out)
		}
	}

	plan.outputDir = out
	plan.destDir = out
	return plan, nil
}

// create runs RUN_SYSTEM_HOOKS, RUN_APP_SCRIPTS, CHECK_NONEMPTY and PACKAGE
// inside a scoped workspace, which is released on every exit path.
func (s *Service) create(ctx context.Context, plan createPlan, opts CreateOptions) (CreateResult, error) {
	logger := log.WithComponent("backup").With("archive", plan.name)
	result := CreateResult{Name: plan.name}
	info := archive.NewInfo(opts.Description, s.now().Unix())

	mgr, err := workspace.NewFSManager(s.workspacesDir, s.hooks.CleanupNotifier(hook.PhasePostBackupCreate))
	if err != nil {
		return result, err
	}

	body := func(ws workspace.Workspace) (int, error) {
		if !opts.IgnoreHooks {
			names := s.hooks.Select(hook.PhaseBackup, opts.Hooks)
			if len(names) == 0 {
				logger.Warn("no backup hooks to run")
			} else {
				outcome := s.hooks.Run(ctx, hook.PhaseBackup, names, ws.Dir)
				info.Hooks = outcome.Succeeded
				result.FailedHooks = outcome.FailedNames()
				if len(outcome.Succeeded) > 0 {
					if err := s.hooks.BundleRestoreRoutines(outcome.Succeeded, ws.Dir); err != nil {
						return workspace.StatusFailed, err
					}
				}
			}
		}

		if !opts.IgnoreApps {
			info.Apps, result.AppReport = s.apps.Backup(ctx, ws.Dir, opts.Apps)
		}

		sealed, err := archive.Seal(ws.Dir, info)
		if err != nil {
			if errors.Is(err, archive.ErrNothingToBackup) {
				return workspace.StatusNothingDone, err
			}
			return workspace.StatusFailed, err
		}
		result.Info = sealed

		if opts.NoCompress {
			logger.Info("backup written uncompressed", "path", ws.Dir)
			result.Path = ws.Dir
			return workspace.StatusOK, nil
		}

		packed, err := archive.Pack(ctx, ws.Dir, plan.name, plan.destDir, sealed)
		if err != nil {
			return workspace.StatusFailed, err
		}
		result.Path = packed.ArchivePath
		result.Checksum = packed.Checksum
		logger.Info("backup archive created", "path", packed.ArchivePath, "size", sealed.Size)
		return workspace.StatusOK, nil
	}

	if opts.NoCompress {
		ws, err := mgr.AcquireAt(ctx, plan.name, plan.outputDir)
		if err != nil {
			return result, err
		}
		return result, workspace.ScopedAt(ctx, mgr, ws, body)
	}
	return result, workspace.Scoped(ctx, mgr, plan.name, body)
}

func validArchiveName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// within reports whether path is dir or lies below it.
func within(path, dir string) bool {
	dir = filepath.Clean(dir)
	path = filepath.Clean(path)
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}
