package pathmirror

// A key design principle is ensuring the mirror does not lock itself out.
// All directories and files created in the target get the owner-write
// permission bit (0200), so the user running the mirror can always update
// or remove them in subsequent runs, even when the source is read-only.

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/pool"
	"github.com/paulschiretz/pgl-mirror/pkg/shallowdiff"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// ErrUnsupportedKind is returned when an update source is neither a regular
// file, a directory nor a symlink, or when the filesystem cannot create links.
var ErrUnsupportedKind = errors.New("unsupported entry kind")

// DefaultBufferSize is the copy buffer size when none is configured.
const DefaultBufferSize = 256 * 1024

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	RetryCount int
	RetryWait  time.Duration
	BufferSize int64
	Metrics    Metrics
}

// Executor applies single update and removal actions to a filesystem.
type Executor struct {
	fs         afero.Fs
	bufPool    *pool.FixedBufferPool
	retryCount int
	retryWait  time.Duration
	metrics    Metrics
}

// NewExecutor creates an executor operating on fsys.
func NewExecutor(fsys afero.Fs, opts ExecutorOptions) *Executor {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Metrics == nil {
		opts.Metrics = &NoopMetrics{}
	}
	return &Executor{
		fs:         fsys,
		bufPool:    pool.NewFixedBuffer(opts.BufferSize),
		retryCount: max(opts.RetryCount, 0),
		retryWait:  opts.RetryWait,
		metrics:    opts.Metrics,
	}
}

// metricWriter wraps an io.Writer and updates metrics on every write.
type metricWriter struct {
	w       io.Writer
	metrics Metrics
}

func (mw *metricWriter) Write(p []byte) (n int, err error) {
	n, err = mw.w.Write(p)
	if n > 0 {
		mw.metrics.AddBytesWritten(int64(n))
	}
	return
}

// ApplyUpdate makes absTrgPath a copy of absSrcPath. Directories are copied
// recursively into an existing or new target directory; a failure on one
// entry does not stop the copy of its siblings and all failures are returned
// together.
func (e *Executor) ApplyUpdate(absSrcPath, absTrgPath string) error {
	info, err := shallowdiff.Lstat(e.fs, absSrcPath)
	if err != nil {
		return fmt.Errorf("failed to lstat source %s: %w", absSrcPath, err)
	}
	switch shallowdiff.KindOf(info.Mode()) {
	case shallowdiff.KindDirectory:
		return e.copyTree(absSrcPath, absTrgPath)
	case shallowdiff.KindRegular:
		if err := e.copyFileSafe(absSrcPath, absTrgPath, info); err != nil {
			return err
		}
		e.metrics.AddFilesCopied(1)
		return nil
	case shallowdiff.KindSymlink:
		if err := e.copySymlink(absSrcPath, absTrgPath); err != nil {
			return err
		}
		e.metrics.AddSymlinksCopied(1)
		return nil
	default:
		return fmt.Errorf("%w: %s has mode %s", ErrUnsupportedKind, absSrcPath, info.Mode())
	}
}

// ApplyRemoval removes absTrgPath. Directories are removed with all contents.
func (e *Executor) ApplyRemoval(absTrgPath string) error {
	info, err := shallowdiff.Lstat(e.fs, absTrgPath)
	if err != nil {
		return fmt.Errorf("failed to lstat target %s: %w", absTrgPath, err)
	}
	if info.IsDir() {
		if err := e.fs.RemoveAll(absTrgPath); err != nil {
			return fmt.Errorf("failed to remove directory %s: %w", absTrgPath, err)
		}
		e.metrics.AddDirsRemoved(1)
		return nil
	}
	if err := e.fs.Remove(absTrgPath); err != nil {
		return fmt.Errorf("failed to remove %s: %w", absTrgPath, err)
	}
	e.metrics.AddFilesRemoved(1)
	return nil
}

// copyTree copies the directory absSrcDir into absTrgDir. Directory modes
// and timestamps are applied after their contents, deepest first, so that
// writing the contents does not disturb them.
func (e *Executor) copyTree(absSrcDir, absTrgDir string) error {
	type dirMeta struct {
		path    string
		mode    os.FileMode
		modTime time.Time
	}
	var dirs []dirMeta
	var errs []error

	walkErr := afero.Walk(e.fs, absSrcDir, func(absSrcPath string, info os.FileInfo, err error) error {
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to walk %s: %w", absSrcPath, err))
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(absSrcDir, absSrcPath)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		absTrgPath := absTrgDir
		if rel != "." {
			absTrgPath = shallowdiff.JoinPath(absTrgDir, rel)
		}

		switch shallowdiff.KindOf(info.Mode()) {
		case shallowdiff.KindDirectory:
			perm := util.WithUserExecutePermission(util.WithUserWritePermission(info.Mode().Perm()))
			if err := e.fs.MkdirAll(absTrgPath, perm); err != nil {
				errs = append(errs, fmt.Errorf("failed to create directory %s: %w", absTrgPath, err))
				return filepath.SkipDir
			}
			e.metrics.AddDirsCopied(1)
			dirs = append(dirs, dirMeta{path: absTrgPath, mode: perm, modTime: info.ModTime()})
		case shallowdiff.KindRegular:
			if err := e.copyFileSafe(absSrcPath, absTrgPath, info); err != nil {
				errs = append(errs, err)
				return nil
			}
			e.metrics.AddFilesCopied(1)
		case shallowdiff.KindSymlink:
			if err := e.copySymlink(absSrcPath, absTrgPath); err != nil {
				errs = append(errs, err)
				return nil
			}
			e.metrics.AddSymlinksCopied(1)
		default:
			errs = append(errs, fmt.Errorf("%w: %s has mode %s", ErrUnsupportedKind, absSrcPath, info.Mode()))
		}
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}

	for _, d := range slices.Backward(dirs) {
		if err := e.fs.Chmod(d.path, d.mode); err != nil {
			errs = append(errs, fmt.Errorf("failed to set permissions on %s: %w", d.path, err))
		}
		if err := e.fs.Chtimes(d.path, d.modTime, d.modTime); err != nil {
			errs = append(errs, fmt.Errorf("failed to set timestamps on %s: %w", d.path, err))
		}
	}
	return errors.Join(errs...)
}

// copyFileSafe handles the low-level details of copying a single file.
// It ensures atomicity by writing to a temporary file first and then renaming it.
func (e *Executor) copyFileSafe(absSrcPath, absTrgPath string, info os.FileInfo) error {
	var lastErr error
	for i := range e.retryCount + 1 {
		if i > 0 {
			plog.Warn("Retrying file copy", "file", absSrcPath, "attempt", fmt.Sprintf("%d/%d", i, e.retryCount), "after", e.retryWait)
			time.Sleep(e.retryWait)
		}

		lastErr = func() (err error) {
			// 1. Open source file.
			in, err := e.fs.Open(absSrcPath)
			if err != nil {
				return fmt.Errorf("failed to open source file %s: %w", absSrcPath, err)
			}
			defer in.Close()

			absTrgDir := filepath.Dir(absTrgPath)

			// 2. Create a temporary file next to the target.
			out, err := afero.TempFile(e.fs, absTrgDir, "pgl-mirror-*.tmp")
			if err != nil {
				return fmt.Errorf("failed to create temporary file in %s: %w", absTrgDir, err)
			}
			// Closing twice would touch the modification time on some filesystems.
			closed := false
			defer func() {
				if !closed {
					out.Close()
				}
			}()

			absTempPath := out.Name()
			// Cleared once the rename succeeds.
			defer func() {
				if absTempPath != "" {
					e.fs.Remove(absTempPath)
				}
			}()

			// 3. Copy content through a pooled buffer.
			bufPtr := e.bufPool.Get()
			defer e.bufPool.Put(bufPtr)
			buf := (*bufPtr)[:cap(*bufPtr)]

			if _, err = io.CopyBuffer(&metricWriter{w: out, metrics: e.metrics}, in, buf); err != nil {
				return fmt.Errorf("failed to copy content from %s to %s: %w", absSrcPath, absTempPath, err)
			}

			// 4. Copy permissions, always keeping the user-write bit.
			if err := e.fs.Chmod(absTempPath, util.WithUserWritePermission(info.Mode().Perm())); err != nil {
				return fmt.Errorf("failed to set permissions on temporary file %s: %w", absTempPath, err)
			}

			// 5. Close before Chtimes, flushing may update the modification time.
			closed = true
			if err := out.Close(); err != nil {
				return fmt.Errorf("failed to close temporary file %s: %w", absTempPath, err)
			}

			// 6. Copy timestamps.
			if err := e.fs.Chtimes(absTempPath, info.ModTime(), info.ModTime()); err != nil {
				return fmt.Errorf("failed to set timestamps on %s: %w", absTempPath, err)
			}

			// 7. Move the temporary file over the target.
			if err := e.fs.Rename(absTempPath, absTrgPath); err != nil {
				return fmt.Errorf("failed to rename %s to %s: %w", absTempPath, absTrgPath, err)
			}
			absTempPath = ""
			return nil
		}()

		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to copy file from '%s' to '%s' after %d attempts: %w", absSrcPath, absTrgPath, e.retryCount+1, lastErr)
}

// copySymlink recreates the link at absSrcPath as absTrgPath, pointing at the
// same (unresolved) destination. It creates a temporary link first and then
// renames it over the target.
func (e *Executor) copySymlink(absSrcPath, absTrgPath string) error {
	reader, okReader := e.fs.(afero.LinkReader)
	linker, okLinker := e.fs.(afero.Linker)
	if !okReader || !okLinker {
		return fmt.Errorf("%w: filesystem %s cannot create symlinks (%s)", ErrUnsupportedKind, e.fs.Name(), absSrcPath)
	}
	dest, err := reader.ReadlinkIfPossible(absSrcPath)
	if err != nil {
		return fmt.Errorf("failed to read symlink %s: %w", absSrcPath, err)
	}

	var lastErr error
	for i := range e.retryCount + 1 {
		if i > 0 {
			plog.Warn("Retrying symlink creation", "file", absTrgPath, "attempt", fmt.Sprintf("%d/%d", i, e.retryCount), "after", e.retryWait)
			time.Sleep(e.retryWait)
		}

		lastErr = func() error {
			absTrgDir := filepath.Dir(absTrgPath)

			// Reserve a unique name, then free it for the link.
			f, err := afero.TempFile(e.fs, absTrgDir, "pgl-mirror-symlink-*.tmp")
			if err != nil {
				return fmt.Errorf("failed to generate temp name for symlink: %w", err)
			}
			tempName := f.Name()
			f.Close()
			e.fs.Remove(tempName)

			defer func() {
				if tempName != "" {
					e.fs.Remove(tempName)
				}
			}()

			if err := linker.SymlinkIfPossible(dest, tempName); err != nil {
				if runtime.GOOS == "windows" && strings.Contains(err.Error(), "privilege") {
					return fmt.Errorf("failed to create symlink (requires Admin or Developer Mode): %w", err)
				}
				return fmt.Errorf("failed to create symlink %s -> %s: %w", tempName, dest, err)
			}

			if err := e.fs.Rename(tempName, absTrgPath); err != nil {
				return fmt.Errorf("failed to rename temp symlink to %s: %w", absTrgPath, err)
			}
			tempName = ""
			return nil
		}()

		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to create symlink at '%s' after %d attempts: %w", absTrgPath, e.retryCount+1, lastErr)
}
