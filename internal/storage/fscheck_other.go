//go:build !darwin && !linux

package storage

import "fmt"

func detectFilesystemType(path string) (string, error) {
	return "", fmt.Errorf("filesystem detection is unsupported on this platform")
}

func availableBytes(path string) (uint64, error) {
	return 0, fmt.Errorf("free space detection is unsupported on this platform")
}
