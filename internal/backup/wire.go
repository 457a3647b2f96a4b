package backup

import (
	"github.com/mattjoyce/satchel/internal/app"
	"github.com/mattjoyce/satchel/internal/archive"
	"github.com/mattjoyce/satchel/internal/config"
	"github.com/mattjoyce/satchel/internal/hook"
	"github.com/mattjoyce/satchel/internal/journal"
	"github.com/mattjoyce/satchel/internal/platform"
	"github.com/mattjoyce/satchel/internal/script"
)

// FromConfig wires a Service from configuration. j and confirm may be nil.
func FromConfig(cfg *config.Config, j *journal.Journal, confirm Confirmer) (*Service, error) {
	runner := script.NewExecRunner(cfg.Scripts.Timeout, cfg.Scripts.Shell)
	hooks := hook.NewAdapter(hook.NewRegistry(cfg.Paths.HooksDir, cfg.Paths.CustomHooksDir, true), runner)
	apps := app.NewRunner(app.NewFSRegistry(cfg.Paths.AppsDir), runner, cfg.Paths.AppsDir, cfg.Paths.ScriptsTmp)

	// Platform commands are argv lists, never wrapped in the script shell.
	plat := platform.NewCommands(
		cfg.Paths.InstalledMarker,
		cfg.Platform.PostInstallCommand,
		cfg.Platform.RegenCommand,
		script.NewExecRunner(cfg.Scripts.Timeout, ""),
	)

	return NewService(Deps{
		Repository:    archive.NewRepository(cfg.Paths.ArchivesDir()),
		Hooks:         hooks,
		Apps:          apps,
		Platform:      plat,
		Confirmer:     confirm,
		Journal:       j,
		BackupRoot:    cfg.Paths.BackupRoot,
		WorkspacesDir: cfg.Paths.WorkspacesDir(),
		LockPath:      cfg.Paths.LockPath(),
	})
}
