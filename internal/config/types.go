package config

import (
	"path/filepath"
	"time"
)

// Config represents the complete satchel configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Paths    PathsConfig    `yaml:"paths"`
	State    StateConfig    `yaml:"state"`
	Scripts  ScriptsConfig  `yaml:"scripts"`
	Platform PlatformConfig `yaml:"platform"`
	API      APIConfig      `yaml:"api,omitempty"`

	// SourceFile is the file the configuration was loaded from, empty for defaults.
	SourceFile string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	LogLevel string `yaml:"log_level"`
}

// PathsConfig defines the filesystem layout of the platform and the backup root.
type PathsConfig struct {
	// BackupRoot holds archives/ and tmp/ (workspaces).
	BackupRoot      string `yaml:"backup_root"`
	AppsDir         string `yaml:"apps_dir"`
	HooksDir        string `yaml:"hooks_dir"`
	CustomHooksDir  string `yaml:"custom_hooks_dir"`
	InstalledMarker string `yaml:"installed_marker"`
	ScriptsTmp      string `yaml:"scripts_tmp"`
}

// ArchivesDir is the archive repository directory.
func (p PathsConfig) ArchivesDir() string {
	return filepath.Join(p.BackupRoot, "archives")
}

// WorkspacesDir is the parent directory of per-operation workspaces.
func (p PathsConfig) WorkspacesDir() string {
	return filepath.Join(p.BackupRoot, "tmp")
}

// LockPath is the operation lock file shared by every mutating command.
func (p PathsConfig) LockPath() string {
	return filepath.Join(p.BackupRoot, ".satchel.lock")
}

// StateConfig defines journal storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// ScriptsConfig defines how hooks and application scripts are executed.
type ScriptsConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// Shell, when set, is used to invoke scripts (e.g. /bin/bash) instead of
	// executing them directly.
	Shell string `yaml:"shell,omitempty"`
}

// PlatformConfig names the platform commands satchel drives.
type PlatformConfig struct {
	// PostInstallCommand is run with the restored primary domain appended.
	PostInstallCommand []string `yaml:"postinstall_command"`
	// RegenCommand regenerates the reverse proxy / SSO configuration.
	RegenCommand []string `yaml:"regen_command"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// Defaults returns a Config matching a stock platform install.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			LogLevel: "info",
		},
		Paths: PathsConfig{
			BackupRoot:      "/home/yunohost.backup",
			AppsDir:         "/etc/yunohost/apps",
			HooksDir:        "/usr/share/yunohost/hooks",
			CustomHooksDir:  "/etc/yunohost/hooks.d",
			InstalledMarker: "/etc/yunohost/installed",
			ScriptsTmp:      "/tmp",
		},
		State: StateConfig{
			Path: "/var/lib/satchel/journal.db",
		},
		Scripts: ScriptsConfig{
			Timeout: 2 * time.Hour,
		},
		Platform: PlatformConfig{
			PostInstallCommand: []string{"yunohost", "tools", "postinstall", "--ignore-dyndns", "--password", "yunohost", "--domain"},
			RegenCommand:       []string{"yunohost", "app", "ssowatconf"},
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8091",
		},
	}
}
