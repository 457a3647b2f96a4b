package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/satchel/internal/hook"
	"github.com/mattjoyce/satchel/internal/log"
)

// Archive is the listing and inspection view of a stored archive.
type Archive struct {
	Name        string                 `json:"name"`
	Path        string                 `json:"path"`
	CreatedAt   time.Time              `json:"created_at"`
	Description string                 `json:"description"`
	Size        int64                  `json:"size"`
	HumanSize   string                 `json:"human_size,omitempty"`
	Apps        map[string]AppInfo     `json:"apps,omitempty"`
	Hooks       map[string]hook.Result `json:"hooks,omitempty"`
}

// Repository is the directory holding archives and their sidecars.
type Repository struct {
	dir string
}

// NewRepository creates a repository over dir.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Path returns the archive file path for name.
func (r *Repository) Path(name string) string {
	return filepath.Join(r.dir, name+archiveExt)
}

// SidecarPath returns the sidecar path for name.
func (r *Repository) SidecarPath(name string) string {
	return filepath.Join(r.dir, name+sidecarExt)
}

// Exists reports whether an archive file named name is present.
func (r *Repository) Exists(name string) bool {
	info, err := os.Stat(r.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// Names lists archive names (files ending in .tar.gz), sorted. A missing
// repository directory lists as empty.
func (r *Repository) Names() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		log.WithComponent("archive").Debug("unable to iterate over local archives", "error", err)
		return []string{}, nil
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(entry.Name(), archiveExt); ok && name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// List returns every archive, with sidecar details when withInfo is set.
func (r *Repository) List(withInfo, humanReadable bool) ([]Archive, error) {
	names, err := r.Names()
	if err != nil {
		return nil, err
	}

	archives := make([]Archive, 0, len(names))
	for _, name := range names {
		if !withInfo {
			archives = append(archives, Archive{Name: name, Path: r.Path(name)})
			continue
		}
		a, err := r.Info(name, false, humanReadable)
		if err != nil {
			return nil, err
		}
		archives = append(archives, a)
	}
	return archives, nil
}

// Info describes the archive name from its sidecar. A zero recorded size is
// recomputed from the archive members.
func (r *Repository) Info(name string, withDetails, humanReadable bool) (Archive, error) {
	if !validName(name) || !r.Exists(name) {
		return Archive{}, fmt.Errorf("%w: %s", ErrUnknownArchive, name)
	}

	info, err := r.LoadSidecar(name)
	if err != nil {
		return Archive{}, err
	}

	size := info.Size
	if size == 0 {
		if size, err = MemberSize(r.Path(name)); err != nil {
			return Archive{}, err
		}
	}

	a := Archive{
		Name:        name,
		Path:        r.Path(name),
		CreatedAt:   time.Unix(info.CreatedAt, 0).UTC(),
		Description: info.Description,
		Size:        size,
	}
	if humanReadable {
		a.HumanSize = humanize.Bytes(uint64(size))
	}
	if withDetails {
		a.Apps = info.Apps
		a.Hooks = info.Hooks
	}
	return a, nil
}

// LoadSidecar reads the sidecar of name.
func (r *Repository) LoadSidecar(name string) (Info, error) {
	return LoadInfo(r.SidecarPath(name))
}

// Delete removes both the archive and its sidecar. Both must exist. The pair
// is first renamed out of the listing together, so a failure never leaves one
// visible without the other.
func (r *Repository) Delete(name string) error {
	if !validName(name) {
		return fmt.Errorf("%w: %s", ErrUnknownArchive, name)
	}
	files := []string{r.Path(name), r.SidecarPath(name)}
	for _, p := range files {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %s", ErrUnknownArchive, p)
		}
	}

	logger := log.WithComponent("archive")
	var moved []string
	for _, p := range files {
		if err := os.Rename(p, p+deletingExt); err != nil {
			for _, done := range moved {
				if rbErr := os.Rename(done+deletingExt, done); rbErr != nil {
					logger.Error("unable to restore archive file", "path", done, "error", rbErr)
				}
			}
			return fmt.Errorf("%w: %s: %v", ErrDelete, p, err)
		}
		moved = append(moved, p)
	}

	var errs []error
	for _, p := range moved {
		if err := os.Remove(p + deletingExt); err != nil {
			logger.Error("orphaned archive file left behind", "path", p+deletingExt, "error", err)
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrDelete, p, err))
		}
	}
	return errors.Join(errs...)
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
