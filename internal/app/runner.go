package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/mattjoyce/satchel/internal/archive"
	"github.com/mattjoyce/satchel/internal/fsutil"
	"github.com/mattjoyce/satchel/internal/log"
	"github.com/mattjoyce/satchel/internal/script"
)

// Status is the per-application result of a backup or restore pass.
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusSucceeded Status = "succeeded"
)

// Outcome records what happened to one application.
type Outcome struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Report collects outcomes by application id.
type Report map[string]Outcome


// Runner drives application backup and restore scripts.
type Runner struct {
	registry   Registry
	scripts    script.Runner
	appsDir    string
	scriptsTmp string
	now        func() time.Time
}

// NewRunner creates an application script runner. appsDir is the live
// settings root restores write into; scriptsTmp is where scripts are staged.
func NewRunner(registry Registry, scripts script.Runner, appsDir, scriptsTmp string) *Runner {
	return &Runner{
		registry:   registry,
		scripts:    scripts,
		appsDir:    appsDir,
		scriptsTmp: scriptsTmp,
		now:        time.Now,
	}
}

// Backup runs the backup script of each requested installed application into
// <workspaceDir>/apps/<id>. An empty request backs up every installed app.
func (r *Runner) Backup(ctx context.Context, workspaceDir string, requested []string) (map[string]archive.AppInfo, Report) {
	logger := log.WithComponent("app")
	report := make(Report)
	apps := make(map[string]archive.AppInfo)

	installed, err := r.registry.List()
	if err != nil {
		logger.Error("failed to list installed applications", "error", err)
		return apps, report
	}

	selected := installed
	if len(requested) > 0 {
		known := make(map[string]bool, len(installed))
		for _, id := range installed {
			known[id] = true
		}
		selected = nil
		for _, id := range dedupe(requested) {
			if !known[id] {
				logger.Warn("application not installed, not backed up", "app", id)
				report[id] = Outcome{Status: StatusSkipped, Reason: "not installed"}
				continue
			}
			selected = append(selected, id)
		}
	}

	staged := filepath.Join(r.scriptsTmp, "backup_"+strconv.FormatInt(r.now().Unix(), 10))
	for _, id := range selected {
		if err := ctx.Err(); err != nil {
			report[id] = Outcome{Status: StatusFailed, Reason: err.Error()}
			continue
		}

		settingsDir := filepath.Join(r.appsDir, id)
		backupScript := filepath.Join(settingsDir, "scripts", "backup")
		if !isFile(backupScript) {
			logger.Warn("application has no backup script, skipped", "app", id)
			report[id] = Outcome{Status: StatusSkipped, Reason: "no backup script"}
			continue
		}
		if !isFile(filepath.Join(settingsDir, "scripts", "restore")) {
			logger.Warn("application has no restore script, it will not be restorable", "app", id)
		}

		appDir := filepath.Join(workspaceDir, "apps", id)
		backupDir := filepath.Join(appDir, "backup")
		logger.Info("running application backup script", "app", id)

		err := r.backupOne(ctx, id, settingsDir, appDir, backupDir, backupScript, staged)
		if err == nil {
			var info archive.AppInfo
			info, err = r.registry.Info(id)
			if err == nil {
				apps[id] = info
				report[id] = Outcome{Status: StatusSucceeded}
				continue
			}
		}

		logFailure(logger, "application backup failed", id, err)
		if rmErr := fsutil.RemoveTree(appDir); rmErr != nil {
			logger.Warn("failed to clean application backup directory", "app", id, "error", rmErr)
		}
		report[id] = Outcome{Status: StatusFailed, Reason: err.Error()}
	}
	return apps, report
}

func (r *Runner) backupOne(ctx context.Context, id, settingsDir, appDir, backupDir, backupScript, staged string) error {
	defer os.Remove(staged)

	if err := os.MkdirAll(backupDir, 0o750); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	if err := fsutil.CopyTree(settingsDir, filepath.Join(appDir, "settings")); err != nil {
		return fmt.Errorf("copy settings: %w", err)
	}
	if err := script.Stage(backupScript, staged); err != nil {
		return err
	}
	_, err := r.scripts.Run(ctx, script.Request{
		Path: staged,
		Args: []string{backupDir, id},
		Dir:  backupDir,
	})
	return err
}

// Restore runs the archived restore script of each requested application found
// in the archive. Already installed applications are never touched.
func (r *Runner) Restore(ctx context.Context, workspaceDir string, archived map[string]archive.AppInfo, requested []string) ([]string, Report) {
	logger := log.WithComponent("app")
	report := make(Report)

	var selected []string
	if len(requested) > 0 {
		for _, id := range dedupe(requested) {
			if _, ok := archived[id]; !ok {
				logger.Error("application not found in archive", "app", id)
				report[id] = Outcome{Status: StatusSkipped, Reason: "not in archive"}
				continue
			}
			selected = append(selected, id)
		}
	} else {
		for id := range archived {
			selected = append(selected, id)
		}
		sort.Strings(selected)
	}

	var restored []string
	for _, id := range selected {
		if err := ctx.Err(); err != nil {
			report[id] = Outcome{Status: StatusFailed, Reason: err.Error()}
			continue
		}
		if !validID(id) {
			logger.Error("invalid application id in archive", "app", id)
			report[id] = Outcome{Status: StatusFailed, Reason: "invalid id"}
			continue
		}

		if r.registry.IsInstalled(id) {
			logger.Error("application already installed, not restored", "app", id)
			report[id] = Outcome{Status: StatusFailed, Reason: "already installed"}
			continue
		}

		appDir := filepath.Join(workspaceDir, "apps", id)
		restoreScript := filepath.Join(appDir, "settings", "scripts", "restore")
		if !isFile(restoreScript) {
			logger.Warn("application has no restore script, skipped", "app", id)
			report[id] = Outcome{Status: StatusSkipped, Reason: "no restore script"}
			continue
		}

		liveDir := filepath.Join(r.appsDir, id)
		staged := filepath.Join(r.scriptsTmp, "restore_"+id)
		logger.Info("running application restore script", "app", id)

		if err := r.restoreOne(ctx, id, appDir, liveDir, restoreScript, staged); err != nil {
			logFailure(logger, "application restore failed", id, err)
			if rmErr := fsutil.RemoveTree(liveDir); rmErr != nil {
				logger.Warn("failed to clean application settings", "app", id, "error", rmErr)
			}
			report[id] = Outcome{Status: StatusFailed, Reason: err.Error()}
			continue
		}
		report[id] = Outcome{Status: StatusSucceeded}
		restored = append(restored, id)
	}
	return restored, report
}

func (r *Runner) restoreOne(ctx context.Context, id, appDir, liveDir, restoreScript, staged string) error {
	defer os.Remove(staged)

	if err := fsutil.CopyTree(filepath.Join(appDir, "settings"), liveDir); err != nil {
		return fmt.Errorf("copy settings: %w", err)
	}
	if err := fsutil.ChmodTree(liveDir, 0o555, 0o444); err != nil {
		return fmt.Errorf("set settings permissions: %w", err)
	}
	settingsFile := filepath.Join(liveDir, "settings.yml")
	if info, err := os.Lstat(settingsFile); err == nil && info.Mode().IsRegular() {
		if err := os.Chmod(settingsFile, 0o400); err != nil {
			return fmt.Errorf("protect settings file: %w", err)
		}
	}

	if err := script.Stage(restoreScript, staged); err != nil {
		return err
	}
	backupDir := filepath.Join(appDir, "backup")
	_, err := r.scripts.Run(ctx, script.Request{
		Path: staged,
		Args: []string{backupDir, id},
		Dir:  backupDir,
	})
	return err
}

func logFailure(logger interface{ Error(string, ...any) }, msg, id string, err error) {
	attrs := []any{"app", id, "error", err.Error()}
	var exitErr *script.ExitError
	if errors.As(err, &exitErr) {
		attrs = append(attrs, "exit_code", exitErr.ExitCode, "stderr", exitErr.Stderr)
	}
	logger.Error(msg, attrs...)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
