package hook

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mattjoyce/satchel/internal/fsutil"
	"github.com/mattjoyce/satchel/internal/log"
)

// Hook phases.
const (
	PhaseBackup            = "backup"
	PhaseRestore           = "restore"
	PhasePostBackupCreate  = "post_backup_create"
	PhasePostBackupRestore = "post_backup_restore"
	PhasePreBackupDelete   = "pre_backup_delete"
	PhasePostBackupDelete  = "post_backup_delete"
)

// defaultPriority applies to hook files without a numeric prefix.
const defaultPriority = 50

// ErrUnknownHook is returned when no hook file exists for a (phase, name).
var ErrUnknownHook = errors.New("unknown hook")

// Source tells where a hook file came from.
type Source string

const (
	SourceSystem  Source = "system"
	SourceCustom  Source = "custom"
	SourceArchive Source = "archive"
)

// Hook is one executable hook file.
type Hook struct {
	Name     string
	Phase    string
	Priority int
	Path     string
	Source   Source
}

// Registry discovers hook files named `<priority>-<name>` under
// `<systemDir>/<phase>/` and `<customDir>/<phase>/`. A custom file replaces a
// system file with the same file name. The directories are rescanned on every
// lookup, so routines registered mid-run are visible immediately.
type Registry struct {
	systemDir   string
	customDir   string
	requireExec bool
}

// NewRegistry creates a registry over the system and custom hook trees.
// When requireExec is set, files without an executable bit are ignored.
func NewRegistry(systemDir, customDir string, requireExec bool) *Registry {
	return &Registry{systemDir: systemDir, customDir: customDir, requireExec: requireExec}
}

// List returns every trusted hook of phase, grouped by name.
func (r *Registry) List(phase string) (map[string][]Hook, error) {
	byFile := make(map[string]Hook)

	roots := []struct {
		dir    string
		source Source
	}{
		{r.systemDir, SourceSystem},
		{r.customDir, SourceCustom},
	}
	for _, root := range roots {
		if strings.TrimSpace(root.dir) == "" {
			continue
		}
		hooks, err := r.scan(filepath.Join(root.dir, phase), phase, root.source)
		if err != nil {
			return nil, err
		}
		for _, h := range hooks {
			byFile[filepath.Base(h.Path)] = h
		}
	}

	result := make(map[string][]Hook)
	for _, h := range byFile {
		result[h.Name] = append(result[h.Name], h)
	}
	for name := range result {
		sortHooks(result[name])
	}
	return result, nil
}

// Lookup returns the hook files registered for (phase, name), in priority order.
func (r *Registry) Lookup(phase, name string) ([]Hook, error) {
	all, err := r.List(phase)
	if err != nil {
		return nil, err
	}
	hooks, ok := all[name]
	if !ok || len(hooks) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownHook, phase, name)
	}
	return hooks, nil
}

// Names returns the sorted hook names of phase.
func (r *Registry) Names(phase string) ([]string, error) {
	all, err := r.List(phase)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Register copies a hook file into the custom tree for phase.
func (r *Registry) Register(phase, src string) (string, error) {
	if strings.TrimSpace(r.customDir) == "" {
		return "", fmt.Errorf("no custom hook directory configured")
	}
	dir := filepath.Join(r.customDir, phase)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create custom hook directory: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(src))
	if err := fsutil.CopyFile(src, dst, 0o755); err != nil {
		return "", fmt.Errorf("register hook %s: %w", filepath.Base(src), err)
	}
	return dst, nil
}

func (r *Registry) scan(dir, phase string, source Source) ([]Hook, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read hook directory %s: %w", dir, err)
	}

	logger := log.WithComponent("hook")
	var hooks []Hook
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := validateTrust(path, dir, r.requireExec); err != nil {
			logger.Warn("ignoring untrusted hook", "path", path, "error", err.Error())
			continue
		}
		priority, name := parseHookFilename(entry.Name())
		hooks = append(hooks, Hook{
			Name:     name,
			Phase:    phase,
			Priority: priority,
			Path:     path,
			Source:   source,
		})
	}
	return hooks, nil
}

// parseHookFilename splits "05-conf_ldap" into (5, "conf_ldap").
func parseHookFilename(filename string) (int, string) {
	prefix, rest, ok := strings.Cut(filename, "-")
	if !ok || rest == "" {
		return defaultPriority, filename
	}
	priority, err := strconv.Atoi(prefix)
	if err != nil {
		return defaultPriority, filename
	}
	return priority, rest
}

// validateTrust rejects hook files an unprivileged user could have planted.
func validateTrust(path, dir string, requireExec bool) error {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("failed to resolve hook symlink: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Errorf("hook not found: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("hook is not a regular file: %s", resolved)
	}
	if requireExec && info.Mode()&0o111 == 0 {
		return fmt.Errorf("hook is not executable: %s", resolved)
	}
	if info.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("hook is world-writable: %s", resolved)
	}

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("hook directory not found: %w", err)
	}
	if dirInfo.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("hook directory is world-writable: %s", dir)
	}
	return nil
}

func sortHooks(hooks []Hook) {
	sort.Slice(hooks, func(i, j int) bool {
		if hooks[i].Priority != hooks[j].Priority {
			return hooks[i].Priority < hooks[j].Priority
		}
		return hooks[i].Path < hooks[j].Path
	})
}
