package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file, applying defaults for
// anything the file leaves unset.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg = applyConfigDefaults(cfg)
	cfg.SourceFile = absPath

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefaults loads configPath when given, otherwise the discovered config,
// otherwise built-in defaults.
func LoadOrDefaults(configPath string) (*Config, error) {
	if configPath == "" {
		discovered, err := DiscoverConfigPath()
		if err != nil {
			cfg := Defaults()
			return cfg, validate(cfg)
		}
		configPath = discovered
	}
	return Load(configPath)
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)

	if cfg.Paths.BackupRoot == "" {
		cfg.Paths.BackupRoot = defaults.Paths.BackupRoot
	}
	if cfg.Paths.AppsDir == "" {
		cfg.Paths.AppsDir = defaults.Paths.AppsDir
	}
	if cfg.Paths.HooksDir == "" {
		cfg.Paths.HooksDir = defaults.Paths.HooksDir
	}
	if cfg.Paths.CustomHooksDir == "" {
		cfg.Paths.CustomHooksDir = defaults.Paths.CustomHooksDir
	}
	if cfg.Paths.InstalledMarker == "" {
		cfg.Paths.InstalledMarker = defaults.Paths.InstalledMarker
	}
	if cfg.Paths.ScriptsTmp == "" {
		cfg.Paths.ScriptsTmp = defaults.Paths.ScriptsTmp
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.Scripts.Timeout == 0 {
		cfg.Scripts.Timeout = defaults.Scripts.Timeout
	}
	if cfg.Platform.PostInstallCommand == nil {
		cfg.Platform.PostInstallCommand = defaults.Platform.PostInstallCommand
	}
	if cfg.Platform.RegenCommand == nil {
		cfg.Platform.RegenCommand = defaults.Platform.RegenCommand
	}
	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place; validation rejects it where it matters.
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	paths := map[string]string{
		"paths.backup_root":      cfg.Paths.BackupRoot,
		"paths.apps_dir":         cfg.Paths.AppsDir,
		"paths.hooks_dir":        cfg.Paths.HooksDir,
		"paths.custom_hooks_dir": cfg.Paths.CustomHooksDir,
		"paths.installed_marker": cfg.Paths.InstalledMarker,
		"paths.scripts_tmp":      cfg.Paths.ScriptsTmp,
		"state.path":             cfg.State.Path,
	}
	for field, p := range paths {
		if envVarPattern.MatchString(p) {
			return fmt.Errorf("%s: unresolved environment variable in %q", field, p)
		}
		if !filepath.IsAbs(p) {
			return fmt.Errorf("%s must be an absolute path (got %q)", field, p)
		}
	}

	if cfg.Scripts.Timeout <= 0 {
		return fmt.Errorf("scripts.timeout must be positive")
	}
	if len(cfg.Platform.PostInstallCommand) == 0 {
		return fmt.Errorf("platform.postinstall_command is required")
	}
	if len(cfg.Platform.RegenCommand) == 0 {
		return fmt.Errorf("platform.regen_command is required")
	}

	if cfg.API.Enabled {
		if envVarPattern.MatchString(cfg.API.Auth.APIKey) {
			matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey)
			return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
		}
		if strings.TrimSpace(cfg.API.Auth.APIKey) == "" {
			return fmt.Errorf("api.auth.api_key is required when api is enabled")
		}
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api is enabled")
		}
	}

	return nil
}
