package pathmirror_test

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/pathmirror"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

func TestMirrorMetrics_Adders(t *testing.T) {
	t.Run("correctly increments all counters", func(t *testing.T) {
		m := &pathmirror.MirrorMetrics{}

		m.AddDirsVisited(7)
		m.AddEntriesCompared(11)
		m.AddFilesCopied(5)
		m.AddDirsCopied(4)
		m.AddSymlinksCopied(2)
		m.AddFilesRemoved(3)
		m.AddDirsRemoved(1)
		m.AddBytesWritten(1024)
		m.AddFailures(6)

		checks := []struct {
			name string
			got  int64
			want int64
		}{
			{"DirsVisited", m.DirsVisited.Load(), 7},
			{"EntriesCompared", m.EntriesCompared.Load(), 11},
			{"FilesCopied", m.FilesCopied.Load(), 5},
			{"DirsCopied", m.DirsCopied.Load(), 4},
			{"SymlinksCopied", m.SymlinksCopied.Load(), 2},
			{"FilesRemoved", m.FilesRemoved.Load(), 3},
			{"DirsRemoved", m.DirsRemoved.Load(), 1},
			{"BytesWritten", m.BytesWritten.Load(), 1024},
			{"Failures", m.Failures.Load(), 6},
		}
		for _, c := range checks {
			if c.got != c.want {
				t.Errorf("expected %s to be %d, got %d", c.name, c.want, c.got)
			}
		}
	})
}

func TestMirrorMetrics_Log(t *testing.T) {
	t.Run("logs the correct summary values", func(t *testing.T) {
		var logBuf bytes.Buffer
		plog.SetOutput(&logBuf)
		t.Cleanup(func() { plog.SetOutput(os.Stderr) })

		m := &pathmirror.MirrorMetrics{}
		m.AddFilesCopied(10)
		m.AddEntriesCompared(20)
		m.AddBytesWritten(500)
		m.StartProgress("Test", time.Hour) // Initialize startTime
		m.StopProgress()                   // Stop immediately to avoid leaks
		m.LogSummary("Test Summary")

		output := logBuf.String()
		for _, want := range []string{
			`msg="Test Summary"`,
			"files_copied=10",
			"entries_compared=20",
			`bytes_written="500 B"`,
			"files_removed=0",
			"duration=",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("expected log output to contain %q, but it didn't. Got: %s", want, output)
			}
		}
	})
}

func TestNoopMetrics(t *testing.T) {
	t.Run("all methods execute without panicking", func(t *testing.T) {
		m := &pathmirror.NoopMetrics{}

		defer func() {
			if r := recover(); r != nil {
				t.Errorf("NoopMetrics method panicked: %v", r)
			}
		}()

		m.AddDirsVisited(1)
		m.AddEntriesCompared(1)
		m.AddFilesCopied(1)
		m.AddDirsCopied(1)
		m.AddSymlinksCopied(1)
		m.AddFilesRemoved(1)
		m.AddDirsRemoved(1)
		m.AddBytesWritten(1)
		m.AddFailures(1)
		m.StartProgress("noop", time.Millisecond)
		m.StopProgress()
		m.LogSummary("noop test")
	})
}
