package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/satchel/internal/archive"
)

// ErrNotInstalled is returned when an application id has no settings directory.
var ErrNotInstalled = errors.New("application not installed")

// manifestFiles are tried in order; YAML is a superset of JSON so one decoder
// reads both.
var manifestFiles = []string{"manifest.yaml", "manifest.yml", "manifest.json"}

// Registry is the platform's view of installed applications.
type Registry interface {
	Info(id string) (archive.AppInfo, error)
	IsInstalled(id string) bool
	List() ([]string, error)
}

// Manifest is the subset of an application manifest satchel reads.
type Manifest struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description any    `yaml:"description"`
}

// FSRegistry reads applications from <appsDir>/<id>/.
type FSRegistry struct {
	appsDir string
}

var _ Registry = (*FSRegistry)(nil)

// NewFSRegistry creates a registry over an apps settings directory.
func NewFSRegistry(appsDir string) *FSRegistry {
	return &FSRegistry{appsDir: appsDir}
}

// SettingsDir returns the live settings directory of id.
func (r *FSRegistry) SettingsDir(id string) string {
	return filepath.Join(r.appsDir, id)
}

// IsInstalled reports whether id has a settings directory.
func (r *FSRegistry) IsInstalled(id string) bool {
	if !validID(id) {
		return false
	}
	info, err := os.Stat(r.SettingsDir(id))
	return err == nil && info.IsDir()
}

// List returns installed application ids, sorted.
func (r *FSRegistry) List() ([]string, error) {
	entries, err := os.ReadDir(r.appsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read apps directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Info loads {version, name, description} from the application manifest.
func (r *FSRegistry) Info(id string) (archive.AppInfo, error) {
	if !r.IsInstalled(id) {
		return archive.AppInfo{}, fmt.Errorf("%w: %s", ErrNotInstalled, id)
	}

	for _, name := range manifestFiles {
		data, err := os.ReadFile(filepath.Join(r.SettingsDir(id), name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return archive.AppInfo{}, fmt.Errorf("read %s manifest: %w", id, err)
		}

		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return archive.AppInfo{}, fmt.Errorf("parse %s manifest: %w", id, err)
		}
		if m.Name == "" {
			m.Name = id
		}
		return archive.AppInfo{
			Version:     m.Version,
			Name:        m.Name,
			Description: describe(m.Description),
		}, nil
	}

	return archive.AppInfo{}, fmt.Errorf("no manifest found for %s", id)
}

// describe flattens localized descriptions ({en: ..., fr: ...}) to one string.
func describe(v any) string {
	switch d := v.(type) {
	case string:
		return d
	case map[string]any:
		if en, ok := d["en"].(string); ok {
			return en
		}
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := d[k].(string); ok {
				return s
			}
		}
	}
	return ""
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && filepath.Base(id) == id
}
