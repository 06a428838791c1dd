// Package lockfile keeps two mirror runs from writing into the same target
// root at once. The lock file lives next to the target root, never inside
// it, so the mirrored tree does not contain it.
//
// A held lock is refreshed by a heartbeat. A lock whose heartbeat is older
// than the stale timeout belongs to a crashed run and is taken over. Takeover
// is serialized through a guard file created with O_EXCL, under which the lock
// is read again before it is replaced.
package lockfile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

const (
	lockPrefix  = ".~pgl-mirror."
	lockSuffix  = ".lock"
	guardSuffix = ".takeover"
)

// Owner is the content of a lock file.
type Owner struct {
	PID       int64     `json:"pid"`
	Hostname  string    `json:"hostname"`
	Target    string    `json:"target"`
	Heartbeat time.Time `json:"heartbeat"`
	Token     string    `json:"token"`
}

// ErrLockActive is returned when another run holds the lock.
type ErrLockActive struct {
	Owner Owner
	Age   time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("target %s is locked by PID %d on host '%s', last heartbeat %s ago",
		e.Owner.Target, e.Owner.PID, e.Owner.Hostname, e.Age.Truncate(time.Second))
}

// ErrLostRace is returned when another process is taking over the same stale lock.
var ErrLostRace = errors.New("lost race during stale lock takeover")

// ErrCorruptLockFile indicates that the lock file is empty or not valid JSON.
var ErrCorruptLockFile = errors.New("lock file is corrupt or empty")

// These are vars to allow modification during testing.
var (
	heartbeatInterval = 1 * time.Minute
	staleTimeout      = 3 * heartbeatInterval
	retryDelay        = 100 * time.Millisecond
)

// PathFor returns the path of the lock file guarding absTargetRoot.
func PathFor(absTargetRoot string) string {
	return filepath.Join(filepath.Dir(absTargetRoot), lockPrefix+filepath.Base(absTargetRoot)+lockSuffix)
}

// Lock is a held lock. Release it when the run is done.
type Lock struct {
	path  string
	owner Owner

	mu   sync.Mutex
	held bool
	stop context.CancelFunc
	done chan struct{}
}

// Acquire takes the lock for absTargetRoot. It returns *ErrLockActive when
// another live run holds it.
func Acquire(ctx context.Context, absTargetRoot string) (*Lock, error) {
	path := PathFor(absTargetRoot)
	const maxAttempts = 3

	for range maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		owner, err := newOwner(absTargetRoot)
		if err != nil {
			return nil, err
		}

		err = createExclusive(path, owner)
		if err == nil {
			return start(path, owner), nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		current, readErr := readOwner(path)
		switch {
		case readErr == nil:
			if age := time.Since(current.Heartbeat); age < staleTimeout {
				return nil, &ErrLockActive{Owner: current, Age: age}
			}
			plog.Warn("Found stale lock, attempting takeover", "path", path, "pid", current.PID, "host", current.Hostname)
		case errors.Is(readErr, ErrCorruptLockFile):
			plog.Warn("Found corrupt lock file, treating as stale", "path", path, "error", readErr)
		case os.IsNotExist(readErr):
			// Released between our create and read.
			continue
		default:
			time.Sleep(retryDelay)
			continue
		}

		if err := takeover(path, owner); err != nil {
			if errors.Is(err, ErrLostRace) {
				plog.Debug("Lock takeover race lost, retrying acquisition", "path", path)
			} else {
				plog.Warn("Failed to take over lock, retrying", "path", path, "error", err)
			}
			time.Sleep(retryDelay)
			continue
		}
		return start(path, owner), nil
	}
	return nil, fmt.Errorf("failed to acquire lock %s after %d attempts (contention)", path, maxAttempts)
}

func newOwner(target string) (Owner, error) {
	token := make([]byte, 16)
	if _, err := rand.Read(token); err != nil {
		return Owner{}, fmt.Errorf("failed to generate lock token: %w", err)
	}
	hostname, err := os.Hostname()
	if err != nil {
		return Owner{}, err
	}
	return Owner{
		PID:       int64(os.Getpid()),
		Hostname:  hostname,
		Target:    target,
		Heartbeat: time.Now().UTC(),
		Token:     hex.EncodeToString(token),
	}, nil
}

// createExclusive creates path with O_EXCL and writes owner into it.
func createExclusive(path string, owner Owner) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return err
	}
	if err := writeOwner(f, owner); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// takeover replaces a stale or corrupt lock at path with owner. Only the
// holder of the guard file may replace the lock, and it re-checks staleness
// first so a lock refreshed in the meantime is left alone.
func takeover(path string, owner Owner) error {
	guard := path + guardSuffix
	if err := createExclusive(guard, owner); err != nil {
		if !os.IsExist(err) {
			return err
		}
		// A guard left behind by a crashed takeover.
		if info, statErr := os.Stat(guard); statErr == nil && time.Since(info.ModTime()) > staleTimeout {
			os.Remove(guard)
		}
		return ErrLostRace
	}
	defer os.Remove(guard)

	current, err := readOwner(path)
	switch {
	case err == nil:
		if time.Since(current.Heartbeat) < staleTimeout {
			return ErrLostRace
		}
	case errors.Is(err, ErrCorruptLockFile), os.IsNotExist(err):
	default:
		return err
	}
	if err := writeAtomic(path, owner); err != nil {
		return err
	}
	plog.Debug("Took over stale lock", "path", path)
	return nil
}

func start(path string, owner Owner) *Lock {
	cleanupTempFiles(path)
	ctx, cancel := context.WithCancel(context.Background())
	l := &Lock{path: path, owner: owner, held: true, stop: cancel, done: make(chan struct{})}
	go l.heartbeat(ctx)
	plog.Debug("Lock acquired", "path", path)
	return l
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release stops the heartbeat and removes the lock file. It is safe to call
// more than once.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.held = false
	l.stop()
	<-l.done

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
		return
	}
	plog.Debug("Lock released", "path", l.path)
}

func (l *Lock) heartbeat(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.owner.Heartbeat = time.Now().UTC()
			if err := writeAtomic(l.path, l.owner); err != nil {
				// Try again on the next tick.
				plog.Warn("Heartbeat failed to update lock file", "path", l.path, "error", err)
			}
		}
	}
}

// writeAtomic writes owner to a temporary file beside path and renames it
// over path, so readers never see a partial file.
func writeAtomic(path string, owner Owner) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove temporary lock file", "path", tmp.Name(), "error", err)
		}
	}()

	if err := writeOwner(tmp, owner); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	// Must close the file before renaming (mandatory on Windows).
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp lock file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename temp lock file: %w", err)
	}
	return nil
}

// cleanupTempFiles removes temporary lock files of crashed runs. Files
// younger than the stale timeout may belong to a live heartbeat and are kept.
func cleanupTempFiles(path string) {
	pattern := filepath.Join(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		plog.Warn("Failed to glob for temporary lock files", "pattern", pattern, "error", err)
		return
	}

	threshold := time.Now().Add(-staleTimeout)
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}
		plog.Debug("Removing old temporary lock file", "path", match, "age", time.Since(info.ModTime()))
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove leftover temporary lock file", "path", match, "error", err)
		}
	}
}

func writeOwner(w io.Writer, owner Owner) error {
	data, err := json.MarshalIndent(owner, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock content: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write lock content: %w", err)
	}
	return nil
}

// readOwner reads the lock file, retrying briefly while it is empty or
// partially written.
func readOwner(path string) (Owner, error) {
	var lastErr error
	for range 3 {
		data, err := os.ReadFile(path)
		if err != nil {
			return Owner{}, err
		}
		if len(data) == 0 {
			lastErr = errors.New("lock file is empty")
		} else {
			var owner Owner
			if lastErr = json.Unmarshal(data, &owner); lastErr == nil {
				return owner, nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return Owner{}, fmt.Errorf("%w: %v", ErrCorruptLockFile, lastErr)
}
