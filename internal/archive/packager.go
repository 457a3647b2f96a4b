package archive

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/satchel/internal/fsutil"
	"github.com/mattjoyce/satchel/internal/log"
)

// PackResult describes a written archive.
type PackResult struct {
	ArchivePath string
	SidecarPath string
	Checksum    string
	Info        Info
}

// Seal finalizes the workspace content: it refuses an empty contribution,
// records the workspace byte size and writes info.json at the workspace root.
func Seal(workspaceDir string, info Info) (Info, error) {
	if info.Empty() {
		return info, ErrNothingToBackup
	}

	size, err := fsutil.DirSize(workspaceDir)
	if err != nil {
		return info, err
	}
	info.Size = size

	if err := WriteInfo(filepath.Join(workspaceDir, InfoFile), info); err != nil {
		return info, err
	}
	return info, nil
}

// Pack streams a sealed workspace into <destDir>/<name>.tar.gz and moves its
// info.json next to it as <name>.info.json.
func Pack(ctx context.Context, workspaceDir, name, destDir string, info Info) (PackResult, error) {
	logger := log.WithComponent("archive")

	archivePath := filepath.Join(destDir, name+archiveExt)
	sidecarPath := filepath.Join(destDir, name+sidecarExt)

	out, err := openArchive(archivePath, destDir)
	if err != nil {
		return PackResult{}, err
	}

	logger.Info("creating archive", "path", archivePath)
	hasher := blake3.New()
	writeErr := writeTarGz(ctx, workspaceDir, io.MultiWriter(out, hasher))
	if closeErr := out.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = os.Remove(archivePath)
		return PackResult{}, fmt.Errorf("write archive %s: %w", archivePath, writeErr)
	}

	if err := os.Rename(filepath.Join(workspaceDir, InfoFile), sidecarPath); err != nil {
		_ = os.Remove(archivePath)
		return PackResult{}, fmt.Errorf("move info file: %w", err)
	}

	return PackResult{
		ArchivePath: archivePath,
		SidecarPath: sidecarPath,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		Info:        info,
	}, nil
}

// openArchive creates the archive file. If the destination directory is
// missing it is created and the open retried exactly once.
func openArchive(archivePath, destDir string) (*os.File, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	f, err := os.OpenFile(archivePath, flags, 0o640)
	if err == nil {
		return f, nil
	}

	logger := log.WithComponent("archive")
	if _, statErr := os.Stat(destDir); !os.IsNotExist(statErr) {
		logger.Debug("unable to open archive for writing", "path", archivePath, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveOpen, archivePath, err)
	}

	if mkErr := os.MkdirAll(destDir, 0o750); mkErr != nil {
		logger.Debug("unable to create archives directory", "path", destDir, "error", mkErr)
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveOpen, archivePath, mkErr)
	}
	f, err = os.OpenFile(archivePath, flags, 0o640)
	if err != nil {
		logger.Debug("unable to open archive for writing", "path", archivePath, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveOpen, archivePath, err)
	}
	return f, nil
}

func writeTarGz(ctx context.Context, sourceDir string, w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1<<20)
	gzWriter := gzip.NewWriter(bw)
	tarWriter := tar.NewWriter(gzWriter)

	err := addToTar(ctx, tarWriter, sourceDir)
	if closeErr := tarWriter.Close(); err == nil {
		err = closeErr
	}
	if closeErr := gzWriter.Close(); err == nil {
		err = closeErr
	}
	if flushErr := bw.Flush(); err == nil {
		err = flushErr
	}
	return err
}

// addToTar writes every entry below sourceDir with a root-relative name. The
// root itself is not a member.
func addToTar(ctx context.Context, tarWriter *tar.Writer, sourceDir string) error {
	return filepath.WalkDir(sourceDir, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return walkErr
		}

		relPath, err := filepath.Rel(sourceDir, p)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		info, err := os.Lstat(p)
		if err != nil {
			return err
		}

		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			if linkTarget, err = os.Readlink(p); err != nil {
				return fmt.Errorf("read symlink %s: %w", p, err)
			}
		}

		header, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return fmt.Errorf("create header for %s: %w", p, err)
		}
		header.Name = filepath.ToSlash(relPath)
		if info.IsDir() {
			header.Name += "/"
		}

		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("write tar header: %w", err)
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tarWriter, f); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
		return nil
	})
}

// Unpack extracts archivePath into workspaceDir and loads the embedded
// info.json. An unreadable container is ErrArchiveOpen; missing or broken
// metadata is ErrInvalidArchive.
func Unpack(ctx context.Context, archivePath, workspaceDir string) (Info, error) {
	logger := log.WithComponent("archive")

	f, err := os.Open(archivePath)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s: %v", ErrArchiveOpen, archivePath, err)
	}
	defer f.Close()

	gzReader, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s: %v", ErrArchiveOpen, archivePath, err)
	}
	defer gzReader.Close()

	logger.Info("extracting archive", "path", archivePath, "workspace", workspaceDir)
	if err := extractTar(ctx, tar.NewReader(gzReader), workspaceDir); err != nil {
		return Info{}, err
	}

	info, err := LoadInfo(filepath.Join(workspaceDir, InfoFile))
	if err != nil {
		logger.Debug("unable to load archive info", "error", err)
		return Info{}, err
	}
	return info, nil
}

func extractTar(ctx context.Context, tr *tar.Reader, destRoot string) error {
	type dirMode struct {
		path string
		mode fs.FileMode
	}
	type link struct {
		target   string
		linkname string
	}
	var (
		dirs      []dirMode
		hardlinks []link
		symlinks  []link
	)

	// Links are created once every directory and file is in place, so no
	// member can be written through a link from the same archive.
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: read tar: %v", ErrArchiveOpen, err)
		}

		target, err := entryTarget(destRoot, header.Name)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}
		if target == "" {
			continue
		}

		mode := fs.FileMode(header.Mode).Perm()
		switch header.Typeflag {
		case tar.TypeDir:
			if err := prepareTarget(destRoot, target); err != nil {
				return err
			}
			if err := rejectSymlink(target); err != nil {
				return err
			}
			if err := os.MkdirAll(target, 0o700); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}
			dirs = append(dirs, dirMode{path: target, mode: mode})
		case tar.TypeReg:
			if err := prepareTarget(destRoot, target); err != nil {
				return err
			}
			if err := extractFile(tr, target, mode); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := checkLinkTarget(destRoot, target, header.Linkname); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
			}
			symlinks = append(symlinks, link{target: target, linkname: header.Linkname})
		case tar.TypeLink:
			source, err := entryTarget(destRoot, header.Linkname)
			if err != nil || source == "" {
				return fmt.Errorf("%w: hardlink target escapes root: %s", ErrInvalidArchive, header.Linkname)
			}
			hardlinks = append(hardlinks, link{target: target, linkname: source})
		default:
			log.WithComponent("archive").Debug("skipping unsupported entry", "name", header.Name, "type", header.Typeflag)
		}
	}

	for _, l := range hardlinks {
		if err := prepareTarget(destRoot, l.target); err != nil {
			return err
		}
		if err := checkParents(destRoot, l.linkname); err != nil {
			return err
		}
		_ = os.Remove(l.target)
		if err := os.Link(l.linkname, l.target); err != nil {
			return fmt.Errorf("create hardlink: %w", err)
		}
	}
	for _, l := range symlinks {
		if err := prepareTarget(destRoot, l.target); err != nil {
			return err
		}
		_ = os.Remove(l.target)
		if err := os.Symlink(l.linkname, l.target); err != nil {
			return fmt.Errorf("create symlink: %w", err)
		}
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Chmod(dirs[i].path, dirs[i].mode); err != nil {
			return fmt.Errorf("chmod directory: %w", err)
		}
	}
	return nil
}

// prepareTarget makes sure the parent of target is a real directory below
// destRoot, creating it when missing.
func prepareTarget(destRoot, target string) error {
	if err := checkParents(destRoot, target); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	return nil
}

// checkParents rejects target when any existing directory between destRoot
// and target is a symlink.
func checkParents(destRoot, target string) error {
	root := filepath.Clean(destRoot)
	rel, err := filepath.Rel(root, filepath.Dir(target))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return fmt.Errorf("%w: path escapes root: %s", ErrInvalidArchive, target)
	}
	if rel == "." {
		return nil
	}

	current := root
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", current, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: path crosses a symlink: %s", ErrInvalidArchive, target)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: parent is not a directory: %s", ErrInvalidArchive, target)
		}
	}
	return nil
}

func rejectSymlink(target string) error {
	info, err := os.Lstat(target)
	if err == nil && info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: directory replaces a symlink: %s", ErrInvalidArchive, target)
	}
	return nil
}

func extractFile(r io.Reader, target string, mode fs.FileMode) error {
	_ = os.Remove(target)
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("%w: write file content: %v", ErrArchiveOpen, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	return os.Chmod(target, mode)
}

// entryTarget maps a member name below destRoot. The root entry ("", "./")
// maps to "". Names climbing out of the root are rejected.
func entryTarget(destRoot, name string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(name))
	if cleaned == "/" {
		return "", nil
	}
	raw := strings.TrimPrefix(path.Clean(strings.TrimSpace(name)), "./")
	if raw == ".." || strings.HasPrefix(raw, "../") {
		return "", fmt.Errorf("illegal path: %s", name)
	}
	return filepath.Join(destRoot, filepath.FromSlash(strings.TrimPrefix(cleaned, "/"))), nil
}

func checkLinkTarget(destRoot, target, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("absolute symlink target: %s -> %s", target, linkname)
	}
	resolved := filepath.Clean(filepath.Join(filepath.Dir(target), linkname))
	root := filepath.Clean(destRoot)
	if resolved != root && !strings.HasPrefix(resolved, root+string(os.PathSeparator)) {
		return fmt.Errorf("symlink escapes root: %s -> %s", target, linkname)
	}
	return nil
}

// ReadCurrentHost returns the primary domain recorded in an extracted workspace.
func ReadCurrentHost(workspaceDir string) (string, error) {
	p := filepath.Join(workspaceDir, filepath.FromSlash(CurrentHostFile))
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("%w: unable to retrieve domain from %s: %v", ErrInvalidArchive, p, err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("%w: read %s: %v", ErrInvalidArchive, p, err)
	}
	domain := strings.TrimRight(line, "\r\n \t")
	if domain == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidArchive, p)
	}
	return domain, nil
}

// MemberSize sums the sizes of every member of a tar.gz archive.
func MemberSize(archivePath string) (int64, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrArchiveOpen, err)
	}
	defer f.Close()

	gzReader, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrArchiveOpen, err)
	}
	defer gzReader.Close()

	var total int64
	tr := tar.NewReader(gzReader)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrArchiveOpen, err)
		}
		total += header.Size
	}
}
