package pathmirror

import (
	"fmt"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, fsys afero.Fs, path, content string, modTime time.Time) {
	t.Helper()
	if err := afero.WriteFile(fsys, path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	if err := fsys.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("failed to set times on %s: %v", path, err)
	}
}

func mkdir(t *testing.T, fsys afero.Fs, path string) {
	t.Helper()
	if err := fsys.MkdirAll(path, 0755); err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
}

func readFile(t *testing.T, fsys afero.Fs, path string) string {
	t.Helper()
	b, err := afero.ReadFile(fsys, path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(b)
}

func exists(fsys afero.Fs, path string) bool {
	_, err := fsys.Stat(path)
	return err == nil
}

// populateNested writes count small files spread over a few directory levels
// under root and returns their paths relative to root.
func populateNested(t *testing.T, fsys afero.Fs, root string, count int) []string {
	t.Helper()
	var rel []string
	for i := range count {
		path := fmt.Sprintf("d%d/e%d/f%d/file%d.txt", i%10, (i/10)%10, (i/100)%5, i)
		rel = append(rel, path)
		writeFile(t, fsys, root+"/"+path, fmt.Sprintf("content-%d", i), testTime)
	}
	return rel
}

func sortedPairs(pairs []UpdatePair) []UpdatePair {
	out := slices.Clone(pairs)
	slices.SortFunc(out, func(a, b UpdatePair) int {
		switch {
		case a.Source < b.Source:
			return -1
		case a.Source > b.Source:
			return 1
		default:
			return 0
		}
	})
	return out
}

// snapshot records the signature of every entry under root.
func snapshot(t *testing.T, fsys afero.Fs, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		out[path] = fmt.Sprintf("%s|%d|%d", info.Mode(), info.Size(), info.ModTime().UnixNano())
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("failed to snapshot %s: %v", root, err)
	}
	return out
}

// slowFs delays opening one path, simulating a hanging directory listing.
type slowFs struct {
	afero.Fs
	slowPath string
	delay    time.Duration
}

func (s *slowFs) Open(name string) (afero.File, error) {
	if name == s.slowPath {
		time.Sleep(s.delay)
	}
	return s.Fs.Open(name)
}

// failingFs fails to open the listed paths.
type failingFs struct {
	afero.Fs
	failOpen map[string]bool
}

func (f *failingFs) Open(name string) (afero.File, error) {
	if f.failOpen[name] {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return f.Fs.Open(name)
}

// recordingFs logs renames and removals in call order.
type recordingFs struct {
	afero.Fs
	mu  sync.Mutex
	ops []string
}

func (r *recordingFs) record(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recordingFs) Rename(oldname, newname string) error {
	r.record("rename " + newname)
	return r.Fs.Rename(oldname, newname)
}

func (r *recordingFs) Remove(name string) error {
	r.record("remove " + name)
	return r.Fs.Remove(name)
}

func (r *recordingFs) RemoveAll(name string) error {
	r.record("removeall " + name)
	return r.Fs.RemoveAll(name)
}

// recordingReporter collects dry-run reports.
type recordingReporter struct {
	updates  []UpdatePair
	removals []string
}

func (r *recordingReporter) ReportUpdate(u UpdatePair)       { r.updates = append(r.updates, u) }
func (r *recordingReporter) ReportRemoval(absTrgPath string) { r.removals = append(r.removals, absTrgPath) }
