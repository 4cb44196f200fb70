package system

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// ValidateKeyfilePath validates and resolves a key file path, checking for
// security issues like symlinks, incorrect file types, and insecure
// permissions. Returns the canonical absolute path if valid.
func ValidateKeyfilePath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("key file not found: %s", path)
		}
		return "", fmt.Errorf("failed to resolve key file path: %w", err)
	}

	resolved = filepath.Clean(resolved)

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("key file not accessible: %w", err)
	}

	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("key file must be a regular file, not a directory or device: %s", resolved)
	}

	// Warn if readable by group or others
	mode := info.Mode().Perm()
	if mode&0044 != 0 {
		fmt.Fprintf(os.Stderr, "WARNING: key file %s has insecure permissions (%04o), consider chmod 600\n", resolved, mode)
	}

	return resolved, nil
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// GetFileSize returns the size of a file in bytes
func GetFileSize(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat file: %w", err)
	}
	return uint64(info.Size()), nil
}

// GetAvailableSpace returns available space in bytes for the filesystem
// containing path. The path itself does not need to exist; its parent
// directory does.
func GetAvailableSpace(path string) (uint64, error) {
	var stat syscall.Statfs_t
	probe := path
	if _, err := os.Stat(probe); err != nil {
		probe = filepath.Dir(path)
	}
	if err := syscall.Statfs(probe, &stat); err != nil {
		return 0, fmt.Errorf("failed to get filesystem stats: %w", err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// AllocateFile creates path exclusively with mode 0600 and reserves the
// full requested size using fallocate, so the space is committed rather
// than merely declared. The file is removed again if reservation fails.
func AllocateFile(e *Executor, path string, size uint64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("file already exists: %s", path)
		}
		return fmt.Errorf("failed to create file: %w", err)
	}
	f.Close()

	if err := e.Run("fallocate", "-l", fmt.Sprintf("%d", size), path); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to reserve %d bytes for %s: %w", size, path, err)
	}
	return nil
}
