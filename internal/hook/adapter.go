package hook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mattjoyce/satchel/internal/fsutil"
	"github.com/mattjoyce/satchel/internal/log"
	"github.com/mattjoyce/satchel/internal/script"
	"github.com/mattjoyce/satchel/internal/workspace"
)

// BundleDir is where restore routines travel inside a workspace or archive.
const BundleDir = "hooks/restore"

// Result is the recorded outcome of one hook name.
type Result struct {
	Path     string `json:"path"`
	Priority int    `json:"priority"`
	Source   Source `json:"source"`
	Success  bool   `json:"success"`
}

// Outcome partitions hook results of one phase run.
type Outcome struct {
	Succeeded map[string]Result
	Failed    map[string]Result
}

// FailedNames returns the sorted names of failed hooks.
func (o Outcome) FailedNames() []string {
	names := make([]string, 0, len(o.Failed))
	for name := range o.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Adapter runs registry hooks through a script runner. A failing hook is
// recorded and never stops the hooks after it.
type Adapter struct {
	registry *Registry
	runner   script.Runner
	imported map[string]bool
}

// NewAdapter creates a hook adapter.
func NewAdapter(registry *Registry, runner script.Runner) *Adapter {
	return &Adapter{
		registry: registry,
		runner:   runner,
		imported: make(map[string]bool),
	}
}

// Known reports whether (phase, name) resolves in the registry.
func (a *Adapter) Known(phase, name string) bool {
	_, err := a.registry.Lookup(phase, name)
	return err == nil
}

// Select returns the requested names known to the registry for phase. Unknown
// names are logged and dropped. An empty request selects every hook of phase.
func (a *Adapter) Select(phase string, requested []string) []string {
	logger := log.WithComponent("hook").With("phase", phase)

	all, err := a.registry.List(phase)
	if err != nil {
		logger.Error("failed to list hooks", "error", err)
		return nil
	}

	if len(requested) == 0 {
		names := make([]string, 0, len(all))
		for name := range all {
			names = append(names, name)
		}
		sort.Strings(names)
		return names
	}

	seen := make(map[string]bool, len(requested))
	selected := make([]string, 0, len(requested))
	for _, name := range requested {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := all[name]; !ok {
			logger.Error("unknown hook", "hook", name)
			continue
		}
		selected = append(selected, name)
	}
	return selected
}

// Run executes every file of the given hook names for phase, ordered by
// priority, passing args positionally. An empty names list runs the whole phase.
func (a *Adapter) Run(ctx context.Context, phase string, names []string, args ...string) Outcome {
	logger := log.WithComponent("hook").With("phase", phase)
	outcome := Outcome{
		Succeeded: make(map[string]Result),
		Failed:    make(map[string]Result),
	}

	all, err := a.registry.List(phase)
	if err != nil {
		logger.Error("failed to list hooks", "error", err)
		return outcome
	}
	if len(names) == 0 {
		for name := range all {
			names = append(names, name)
		}
	}

	var queue []Hook
	for _, name := range names {
		hooks, ok := all[name]
		if !ok {
			logger.Warn("hook vanished before execution", "hook", name)
			continue
		}
		queue = append(queue, hooks...)
	}
	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].Priority != queue[j].Priority {
			return queue[i].Priority < queue[j].Priority
		}
		return queue[i].Name < queue[j].Name
	})

	for _, h := range queue {
		res := Result{Path: h.Path, Priority: h.Priority, Source: h.Source}
		if a.imported[h.Name] && phase == PhaseRestore {
			res.Source = SourceArchive
		}

		logger.Info("running hook", "hook", h.Name, "path", h.Path, "priority", h.Priority)
		_, runErr := a.runner.Run(ctx, script.Request{Path: h.Path, Args: args})
		if runErr != nil {
			attrs := []any{"hook", h.Name, "path", h.Path, "error", runErr.Error()}
			var exitErr *script.ExitError
			if errors.As(runErr, &exitErr) {
				attrs = append(attrs, "stderr", exitErr.Stderr)
			}
			logger.Error("hook failed", attrs...)
			delete(outcome.Succeeded, h.Name)
			outcome.Failed[h.Name] = res
			continue
		}

		if _, failed := outcome.Failed[h.Name]; failed {
			continue
		}
		res.Success = true
		if _, done := outcome.Succeeded[h.Name]; !done {
			outcome.Succeeded[h.Name] = res
		}
	}
	return outcome
}

// BundleRestoreRoutines copies the restore routines paired with each succeeded
// backup hook into <workspaceDir>/hooks/restore. A missing routine is a warning.
func (a *Adapter) BundleRestoreRoutines(succeeded map[string]Result, workspaceDir string) error {
	logger := log.WithComponent("hook")

	bundleDir := filepath.Join(workspaceDir, BundleDir)
	if err := os.MkdirAll(bundleDir, 0o750); err != nil {
		return fmt.Errorf("create restore hook bundle: %w", err)
	}

	for _, name := range sortedKeys(succeeded) {
		hooks, err := a.registry.Lookup(PhaseRestore, name)
		if err != nil {
			logger.Warn("restore hook unavailable, data kept but not restorable by hook", "hook", name)
			continue
		}
		for _, h := range hooks {
			dst := filepath.Join(bundleDir, filepath.Base(h.Path))
			if err := fsutil.CopyFile(h.Path, dst, 0o755); err != nil {
				logger.Warn("failed to bundle restore hook", "hook", name, "path", h.Path, "error", err)
			}
		}
	}
	return nil
}

// ImportBundled registers the restore routines for name found in the
// workspace bundle into the custom hook tree. It reports whether any existed.
func (a *Adapter) ImportBundled(workspaceDir, name string) (bool, error) {
	logger := log.WithComponent("hook")

	matches, err := filepath.Glob(filepath.Join(workspaceDir, BundleDir, "*-"+name))
	if err != nil {
		return false, fmt.Errorf("search bundled hooks: %w", err)
	}
	if len(matches) == 0 {
		return false, nil
	}

	imported := 0
	for _, src := range matches {
		// Only exact name matches: "*-conf" would also match "10-old-conf".
		if _, n := parseHookFilename(filepath.Base(src)); n != name {
			continue
		}
		dst, err := a.registry.Register(PhaseRestore, src)
		if err != nil {
			return false, err
		}
		logger.Debug("added restore hook from archive", "hook", name, "path", dst)
		imported++
	}
	if imported == 0 {
		return false, nil
	}
	a.imported[name] = true
	return true, nil
}

// Notify runs every hook of a callback phase and returns the names that failed.
func (a *Adapter) Notify(ctx context.Context, phase string, args ...string) []string {
	return a.Run(ctx, phase, nil, args...).FailedNames()
}

// CleanupNotifier adapts a callback phase to the workspace release protocol.
func (a *Adapter) CleanupNotifier(phase string) workspace.CleanupNotifier {
	return cleanupNotifier{adapter: a, phase: phase}
}

type cleanupNotifier struct {
	adapter *Adapter
	phase   string
}

func (n cleanupNotifier) NotifyCleanup(ctx context.Context, dir string, status int) []string {
	return n.adapter.Notify(ctx, n.phase, dir, fmt.Sprint(status))
}

func sortedKeys(m map[string]Result) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
