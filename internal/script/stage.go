package script

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// StagedMode is the permission given to scripts copied out for execution.
const StagedMode os.FileMode = 0o555

// Stage copies src to dst with StagedMode, creating parent directories.
// An existing dst is replaced.
func Stage(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open script: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove previous staged script: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o700)
	if err != nil {
		return fmt.Errorf("create staged script: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy script: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("close staged script: %w", err)
	}
	if err := os.Chmod(dst, StagedMode); err != nil {
		os.Remove(dst)
		return fmt.Errorf("chmod staged script: %w", err)
	}
	return nil
}
