// Package archive reads and writes backup archives: a gzip-compressed tar of
// a workspace plus a `<name>.info.json` sidecar describing it.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mattjoyce/satchel/internal/hook"
)

const (
	// InfoFile is the metadata file at the root of a workspace and an archive.
	InfoFile = "info.json"

	// CurrentHostFile carries the originating system's primary domain.
	CurrentHostFile = "yunohost/current_host"

	archiveExt = ".tar.gz"
	sidecarExt = ".info.json"

	// deletingExt marks files of an archive being deleted.
	deletingExt = ".deleting"
)

var (
	ErrNothingToBackup = errors.New("nothing to back up")
	ErrArchiveOpen     = errors.New("unable to open archive")
	ErrInvalidArchive  = errors.New("invalid archive")
	ErrUnknownArchive  = errors.New("unknown archive")
	ErrDelete          = errors.New("unable to delete archive")
)

// AppInfo describes one backed up application.
type AppInfo struct {
	Version     string `json:"version"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Info is the metadata written inside an archive and next to it.
type Info struct {
	Description string                 `json:"description"`
	CreatedAt   int64                  `json:"created_at"`
	Apps        map[string]AppInfo     `json:"apps"`
	Hooks       map[string]hook.Result `json:"hooks"`
	Size        int64                  `json:"size"`
}

// NewInfo returns an Info with empty, non-nil maps.
func NewInfo(description string, createdAt int64) Info {
	return Info{
		Description: description,
		CreatedAt:   createdAt,
		Apps:        make(map[string]AppInfo),
		Hooks:       make(map[string]hook.Result),
	}
}

// Empty reports whether neither hooks nor apps contributed anything.
func (i Info) Empty() bool {
	return len(i.Apps) == 0 && len(i.Hooks) == 0
}

// Validate checks field-level constraints after decoding.
func (i *Info) Validate() error {
	if i.CreatedAt <= 0 {
		return fmt.Errorf("created_at must be positive")
	}
	if i.Size < 0 {
		return fmt.Errorf("size must not be negative")
	}
	if i.Apps == nil {
		i.Apps = make(map[string]AppInfo)
	}
	if i.Hooks == nil {
		i.Hooks = make(map[string]hook.Result)
	}
	return nil
}

// LoadInfo reads and validates an info file. Any failure is ErrInvalidArchive.
func LoadInfo(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("%w: read %s: %v", ErrInvalidArchive, path, err)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidArchive, path, err)
	}
	if err := info.Validate(); err != nil {
		return Info{}, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, path, err)
	}
	return info, nil
}

// WriteInfo writes info as JSON to path.
func WriteInfo(path string, info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal info: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write info: %w", err)
	}
	return nil
}
