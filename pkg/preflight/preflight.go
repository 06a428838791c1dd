// Package preflight provides the checks that run before a mirror begins.
// Apart from EnsureTargetRoot, which creates the target root directory, the
// checks are stateless and do not change the system.
package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

var (
	// ErrSourceRoot is returned when the source root cannot be used.
	ErrSourceRoot = errors.New("source root unusable")
	// ErrTargetRoot is returned when the target root cannot be used or created.
	ErrTargetRoot = errors.New("target root unusable")
)

// Plan selects the checks Run performs.
type Plan struct {
	SourceAccessible   bool
	PathNesting        bool
	TargetAccessible   bool
	EnsureTargetExists bool
	TargetWriteable    bool
	FreeSpace          bool

	// Global Flags
	DryRun bool
}

// NewPlan returns a plan with every check enabled.
func NewPlan(dryRun bool) *Plan {
	return &Plan{
		SourceAccessible:   true,
		PathNesting:        true,
		TargetAccessible:   true,
		EnsureTargetExists: true,
		TargetWriteable:    true,
		FreeSpace:          true,
		DryRun:             dryRun,
	}
}

// Run performs the checks selected by p for a mirror of absSource into
// absTargetRoot. In a dry run the target root is never created and the write
// check is skipped.
func Run(absSource, absTargetRoot string, p *Plan) error {
	if p.SourceAccessible {
		if err := CheckSourceAccessible(absSource); err != nil {
			return err
		}
	}
	if p.PathNesting {
		if err := CheckPathNesting(absSource, absTargetRoot); err != nil {
			return err
		}
	}
	if p.TargetAccessible {
		if err := CheckTargetAccessible(absTargetRoot); err != nil {
			return err
		}
	}
	if p.EnsureTargetExists {
		if err := EnsureTargetRoot(absSource, absTargetRoot, p.DryRun); err != nil {
			return err
		}
	}
	if p.TargetWriteable && !p.DryRun {
		if err := CheckTargetWritable(absTargetRoot); err != nil {
			return err
		}
	}
	if p.FreeSpace {
		LogFreeSpace(absTargetRoot)
	}
	return nil
}

// CheckSourceAccessible validates that the source path exists, is a directory
// and can be listed.
func CheckSourceAccessible(srcPath string) error {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: source directory %s does not exist", ErrSourceRoot, srcPath)
		}
		return fmt.Errorf("%w: cannot stat source directory %s: %v", ErrSourceRoot, srcPath, err)
	}
	if !srcInfo.IsDir() {
		return fmt.Errorf("%w: source path %s is not a directory", ErrSourceRoot, srcPath)
	}
	if err := checkReadable(srcPath); err != nil {
		return fmt.Errorf("%w: source directory %s is not readable: %v", ErrSourceRoot, srcPath, err)
	}
	return nil
}

// CheckPathNesting rejects a target inside the source and vice versa. Mirroring
// either way would make the run compare its own output.
func CheckPathNesting(absSource, absTarget string) error {
	if util.IsSubPath(absSource, absTarget) {
		return fmt.Errorf("%w: target %s is inside source %s", ErrTargetRoot, absTarget, absSource)
	}
	if util.IsSubPath(absTarget, absSource) {
		return fmt.Errorf("%w: source %s is inside target %s", ErrTargetRoot, absSource, absTarget)
	}
	return nil
}

// CheckTargetAccessible ensures the target is usable. It provides more
// user-friendly errors than letting os.MkdirAll fail.
//
// The checks include:
//  1. The path must not be an ambiguous root like "." or a bare drive letter.
//  2. If the target path exists, it must be a directory.
//  3. If it does not exist, its deepest existing ancestor must be an accessible directory.
//  4. For paths under common mount locations, the volume must actually be mounted,
//     to prevent writing into a "ghost" directory on the system disk.
func CheckTargetAccessible(targetPath string) error {
	if isUnsafeRoot(targetPath) {
		return fmt.Errorf("%w: target path cannot be the current directory or a bare drive: %s", ErrTargetRoot, targetPath)
	}

	info, err := os.Stat(targetPath)
	if os.IsNotExist(err) {
		ancestor, err := deepestExistingAncestor(targetPath)
		if err != nil {
			return fmt.Errorf("%w: cannot access ancestor directory of %s: %v", ErrTargetRoot, targetPath, err)
		}
		if err := checkReadable(ancestor); err != nil {
			return fmt.Errorf("%w: cannot access ancestor directory %s: %v", ErrTargetRoot, ancestor, err)
		}
		return validateMountPoint(ancestor)
	} else if err != nil {
		return fmt.Errorf("%w: cannot access target path: %v", ErrTargetRoot, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: target path exists but is not a directory: %s", ErrTargetRoot, targetPath)
	}
	return validateMountPoint(targetPath)
}

// deepestExistingAncestor walks up from path to the first directory that exists.
func deepestExistingAncestor(path string) (string, error) {
	ancestor := path
	for {
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		info, err := os.Stat(parent)
		if err == nil {
			if !info.IsDir() {
				return "", fmt.Errorf("%s is not a directory", parent)
			}
			return parent, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		ancestor = parent
	}
}

// EnsureTargetRoot creates the target root directory if it is missing, using
// the source root's permissions with the user-write bit added. In a dry run
// the creation is only reported.
func EnsureTargetRoot(absSource, absTargetRoot string, dryRun bool) error {
	if info, err := os.Stat(absTargetRoot); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%w: target path exists but is not a directory: %s", ErrTargetRoot, absTargetRoot)
		}
		return nil
	}

	if dryRun {
		plog.Info("[DRY RUN] MKDIR", "path", absTargetRoot)
		return nil
	}

	perm := util.UserWritableDirPerms
	if srcInfo, err := os.Stat(absSource); err == nil {
		perm = util.WithUserExecutePermission(util.WithUserWritePermission(srcInfo.Mode().Perm()))
	}
	if err := os.MkdirAll(absTargetRoot, perm); err != nil {
		return fmt.Errorf("%w: failed to create target directory %s: %v", ErrTargetRoot, absTargetRoot, err)
	}
	plog.Notice("MKDIR", "path", absTargetRoot)
	return nil
}

// CheckTargetWritable ensures the existing target directory is writable.
func CheckTargetWritable(targetPath string) error {
	info, err := os.Stat(targetPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: target directory does not exist: %s", ErrTargetRoot, targetPath)
	} else if err != nil {
		return fmt.Errorf("%w: cannot access target directory %s: %v", ErrTargetRoot, targetPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: target path exists but is not a directory: %s", ErrTargetRoot, targetPath)
	}
	if err := checkWritable(targetPath); err != nil {
		return fmt.Errorf("%w: target directory %s is not writable: %v", ErrTargetRoot, targetPath, err)
	}
	return nil
}

// mountLocations are the directories removable and network volumes are
// usually mounted under.
var mountLocations = []string{"/mnt", "/media", "/run/media", "/Volumes"}

// looksLikeMountLocation reports whether path lies under a common mount location.
func looksLikeMountLocation(path string) bool {
	for _, loc := range mountLocations {
		if path == loc || strings.HasPrefix(path, loc+"/") {
			return true
		}
	}
	return false
}

// validateMountPoint dispatches to the platform check for paths that are
// expected to be on a separate volume.
func validateMountPoint(path string) error {
	if err := platformValidateMountPoint(path); err != nil {
		return fmt.Errorf("%w: %v", ErrTargetRoot, err)
	}
	return nil
}
