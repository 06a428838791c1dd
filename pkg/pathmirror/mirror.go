package pathmirror

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/maruel/natural"
	"github.com/spf13/afero"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// Reporter receives the actions a dry run would have applied.
type Reporter interface {
	ReportUpdate(u UpdatePair)
	ReportRemoval(absTrgPath string)
}

// LogReporter reports planned actions through plog.
type LogReporter struct{}

func (LogReporter) ReportUpdate(u UpdatePair) {
	plog.Info("[DRY RUN] COPY", "source", u.Source, "target", u.Target)
}

func (LogReporter) ReportRemoval(absTrgPath string) {
	plog.Info("[DRY RUN] REMOVE", "target", absTrgPath)
}

// PathMirror makes a target directory tree mirror a source directory tree.
type PathMirror struct {
	fs afero.Fs
}

// NewPathMirror creates a PathMirror operating on fsys.
func NewPathMirror(fsys afero.Fs) *PathMirror {
	return &PathMirror{fs: fsys}
}

// Mirror compares absSource with absTarget and, unless p.DryRun is set,
// copies every new or changed entry and then removes every entry that no
// longer exists in the source. All copies happen before any removal.
//
// Per-item problems are returned in the Result. The error is non-nil only
// when ctx is canceled; the Result then holds what was done so far.
func (m *PathMirror) Mirror(ctx context.Context, absSource, absTarget string, p *Plan) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if p == nil {
		p = NewPlan()
	}

	t := &mirrorTask{
		PathMirror: m,
		ctx:        ctx,
		plan:       p,
		src:        absSource,
		trg:        absTarget,
		reporter:   p.Reporter,
		metrics:    &NoopMetrics{},
	}
	if t.reporter == nil {
		t.reporter = LogReporter{}
	}
	if p.Metrics {
		t.metrics = &MirrorMetrics{}
	}
	return t.execute()
}

// naturalCompare orders paths the way a person reading the report expects
// (file2 before file10).
func naturalCompare(a, b string) int {
	switch {
	case a == b:
		return 0
	case natural.Less(a, b):
		return -1
	default:
		return 1
	}
}

func sortUpdates(updates []UpdatePair) {
	slices.SortFunc(updates, func(a, b UpdatePair) int { return naturalCompare(a.Source, b.Source) })
}

func sortPaths(paths []string) {
	slices.SortFunc(paths, naturalCompare)
}

// logProblems prints the aggregated per-item problems of a run.
func logProblems(r *Result) {
	if len(r.Timeouts) > 0 {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%d subtree visit(s) timed out; their updates were not collected:", len(r.Timeouts))
		for _, to := range r.Timeouts {
			fmt.Fprintf(&sb, "\n  %s (after %s)", to.LeftPath, to.After)
		}
		plog.Warn(sb.String(), "count", len(r.Timeouts))
	}
	if len(r.ReadErrors) > 0 {
		plog.Warn("Some directories could not be read", "count", len(r.ReadErrors))
	}
	if len(r.Ambiguous) > 0 {
		plog.Warn("Some entries could not be compared and were left untouched", "count", len(r.Ambiguous))
		for _, path := range r.Ambiguous {
			plog.Info("AMBIGUOUS", "path", path)
		}
	}
	if len(r.Failures) > 0 {
		plog.Warn("Some actions failed", "count", len(r.Failures))
	}
}
