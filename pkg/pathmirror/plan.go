package pathmirror

import (
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/shallowdiff"
)

// Plan holds the settings of one mirror run.
type Plan struct {
	Workers     int
	TaskTimeout time.Duration

	RetryCount    int
	RetryWait     time.Duration
	ModTimeWindow time.Duration // The time window to consider file modification times equal.
	BufferSize    int64

	// CaseInsensitive pairs names ignoring case. NewPlan sets it from the host.
	CaseInsensitive bool

	// Reporter receives every planned action in a dry run. Nil logs them.
	Reporter Reporter

	// Global Flags
	DryRun  bool
	Metrics bool
}

// NewPlan returns a plan with default engine settings.
func NewPlan() *Plan {
	return &Plan{
		Workers:         DefaultWorkers,
		TaskTimeout:     DefaultTaskTimeout,
		BufferSize:      DefaultBufferSize,
		CaseInsensitive: shallowdiff.DefaultOptions().CaseInsensitive,
	}
}

// Failure is an action that could not be applied.
type Failure struct {
	Action Action
	Source string // empty for removals
	Target string
	Err    error
}

// Result describes the outcome of a mirror run. Per-item problems are
// collected here; they never abort the run.
type Result struct {
	Source string
	Target string
	DryRun bool

	Updates    []UpdatePair
	Removals   []string
	Ambiguous  []string
	ReadErrors []shallowdiff.ReadError
	Timeouts   []Timeout
	Failures   []Failure
}

// Incomplete reports whether part of the trees could not be compared or part
// of the plan could not be applied. Ambiguous entries alone do not count.
func (r *Result) Incomplete() bool {
	return len(r.ReadErrors) > 0 || len(r.Timeouts) > 0 || len(r.Failures) > 0
}
