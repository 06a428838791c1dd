//go:build !windows

package preflight

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// checkReadable verifies the directory can be listed and entered.
func checkReadable(path string) error {
	return unix.Access(path, unix.R_OK|unix.X_OK)
}

// checkWritable verifies entries can be created in the directory.
func checkWritable(path string) error {
	return unix.Access(path, unix.W_OK|unix.X_OK)
}

// isUnsafeRoot checks if the given path is empty or the current directory.
func isUnsafeRoot(path string) bool {
	return path == "" || path == "."
}

// IsOnSeparateVolume reports whether path lives on a different device than
// the root filesystem.
func IsOnSeparateVolume(path string) (bool, error) {
	var rootStat, pathStat unix.Stat_t
	if err := unix.Stat("/", &rootStat); err != nil {
		return false, fmt.Errorf("failed to stat root: %w", err)
	}
	if err := unix.Stat(path, &pathStat); err != nil {
		return false, fmt.Errorf("failed to stat target path: %w", err)
	}
	return pathStat.Dev != rootStat.Dev, nil
}

// platformValidateMountPoint checks whether a path under a common mount
// location resides on the root filesystem. If it does, it assumes the drive
// is NOT mounted (Ghost detection).
func platformValidateMountPoint(path string) error {
	if !looksLikeMountLocation(path) {
		return nil
	}
	separate, err := IsOnSeparateVolume(path)
	if err != nil {
		return err
	}
	if !separate {
		return fmt.Errorf("path '%s' is on the root filesystem (system disk). "+
			"Ensure your external drive is mounted", path)
	}
	return nil
}
