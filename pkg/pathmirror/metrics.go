package pathmirror

import (
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// Metrics defines the interface for collecting and reporting mirror statistics.
type Metrics interface {
	AddDirsVisited(n int64)
	AddEntriesCompared(n int64)
	AddFilesCopied(n int64)
	AddDirsCopied(n int64)
	AddSymlinksCopied(n int64)
	AddFilesRemoved(n int64)
	AddDirsRemoved(n int64)
	AddBytesWritten(n int64)
	AddFailures(n int64)
	LogSummary(msg string)

	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// MirrorMetrics holds the atomic counters for tracking a mirror run's progress.
// It is the concrete implementation of the Metrics interface.
type MirrorMetrics struct {
	DirsVisited     atomic.Int64
	EntriesCompared atomic.Int64
	FilesCopied     atomic.Int64
	DirsCopied      atomic.Int64
	SymlinksCopied  atomic.Int64
	FilesRemoved    atomic.Int64
	DirsRemoved     atomic.Int64
	BytesWritten    atomic.Int64
	Failures        atomic.Int64

	stopChan  chan struct{}
	startTime time.Time
}

func (m *MirrorMetrics) AddDirsVisited(n int64)     { m.DirsVisited.Add(n) }
func (m *MirrorMetrics) AddEntriesCompared(n int64) { m.EntriesCompared.Add(n) }
func (m *MirrorMetrics) AddFilesCopied(n int64)     { m.FilesCopied.Add(n) }
func (m *MirrorMetrics) AddDirsCopied(n int64)      { m.DirsCopied.Add(n) }
func (m *MirrorMetrics) AddSymlinksCopied(n int64)  { m.SymlinksCopied.Add(n) }
func (m *MirrorMetrics) AddFilesRemoved(n int64)    { m.FilesRemoved.Add(n) }
func (m *MirrorMetrics) AddDirsRemoved(n int64)     { m.DirsRemoved.Add(n) }
func (m *MirrorMetrics) AddBytesWritten(n int64)    { m.BytesWritten.Add(n) }
func (m *MirrorMetrics) AddFailures(n int64)        { m.Failures.Add(n) }

func (m *MirrorMetrics) StartProgress(msg string, interval time.Duration) {
	m.startTime = time.Now()
	m.stopChan = make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *MirrorMetrics) StopProgress() {
	if m.stopChan != nil {
		close(m.stopChan)
		m.stopChan = nil
	}
}

// LogSummary prints the current counters with a custom message.
// This can be called by a background ticker or at the end of the run.
func (m *MirrorMetrics) LogSummary(msg string) {
	duration := time.Duration(0)
	if !m.startTime.IsZero() {
		duration = time.Since(m.startTime)
	}

	plog.Info(msg,
		"dirs_visited", m.DirsVisited.Load(),
		"entries_compared", m.EntriesCompared.Load(),
		"files_copied", m.FilesCopied.Load(),
		"dirs_copied", m.DirsCopied.Load(),
		"symlinks_copied", m.SymlinksCopied.Load(),
		"files_removed", m.FilesRemoved.Load(),
		"dirs_removed", m.DirsRemoved.Load(),
		"bytes_written", humanize.IBytes(uint64(m.BytesWritten.Load())),
		"failures", m.Failures.Load(),
		"duration", duration.Round(time.Millisecond),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
type NoopMetrics struct{}

func (m *NoopMetrics) AddDirsVisited(n int64)                           {}
func (m *NoopMetrics) AddEntriesCompared(n int64)                       {}
func (m *NoopMetrics) AddFilesCopied(n int64)                           {}
func (m *NoopMetrics) AddDirsCopied(n int64)                            {}
func (m *NoopMetrics) AddSymlinksCopied(n int64)                        {}
func (m *NoopMetrics) AddFilesRemoved(n int64)                          {}
func (m *NoopMetrics) AddDirsRemoved(n int64)                           {}
func (m *NoopMetrics) AddBytesWritten(n int64)                          {}
func (m *NoopMetrics) AddFailures(n int64)                              {}
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

// Statically assert that our types implement the interface.
var _ Metrics = (*MirrorMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
