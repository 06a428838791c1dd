package pathmirror

// --- ARCHITECTURAL OVERVIEW ---
// The diff walker turns a lazily expanded shallowdiff.Tree into the set of
// UpdatePairs (entries to copy from source to target).
//
// --- Scheduling ---
//
// A run owns a fixed pool of worker goroutines (errgroup) and a runState that
// holds, under a single mutex:
//   - the registry of scheduled tasks that have not completed yet,
//   - the queue of tasks waiting for a worker,
//   - the number of tasks currently running.
//
// A worker pops a task, visits it and completes it. Completing a task
// registers its children and broadcasts on the condition variable. A worker
// that finds the queue empty waits until either work arrives or the run is
// quiescent (queue empty AND nothing running). Quiescence is re-checked after
// every completion, so no task scheduled by a running visit can be missed.
//
// --- Visiting ---
//
// A visit expands one node under its own deadline (TaskTimeout). On success
// it emits the node's local UpdatePairs to the accumulator channel and
// schedules one task per child directory. A visit that hits its deadline
// commits nothing, schedules nothing and is recorded as a Timeout. Only
// cancellation of the run's own context aborts the walk.
//
// --- Accumulation ---
//
// UpdatePairs flow through a channel drained by a single collector goroutine,
// so workers never share a slice. The driver closes the channel only after the
// pool has been joined.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/shallowdiff"
)

const (
	// DefaultWorkers is the walker pool width when none is configured.
	DefaultWorkers = 10
	// DefaultTaskTimeout bounds a single subtree visit.
	DefaultTaskTimeout = 30 * time.Second

	updateChannelSize = 1024
)

// UpdatePair is one entry to copy from Source to Target.
type UpdatePair struct {
	Source string
	Target string
}

// Timeout records a subtree visit that exceeded its deadline.
// The subtree rooted at LeftPath contributed no updates.
type Timeout struct {
	LeftPath string
	After    time.Duration
}

// WalkOptions configures CollectUpdates.
type WalkOptions struct {
	// Workers is the pool width. Values <= 1 select the sequential walker.
	Workers int
	// TaskTimeout bounds each subtree visit. Values <= 0 disable the deadline.
	TaskTimeout time.Duration
	Metrics     Metrics
}

func (o WalkOptions) withDefaults() WalkOptions {
	if o.Metrics == nil {
		o.Metrics = &NoopMetrics{}
	}
	return o
}

// WalkResult is the outcome of a completed walk.
type WalkResult struct {
	Updates  []UpdatePair
	Timeouts []Timeout
}

// pendingTask is a scheduled visit of one subtree.
type pendingTask struct {
	id       shallowdiff.NodeID
	leftPath string
	enqueued time.Time
}

// runState is the scheduling state of one CollectUpdates call.
type runState struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  map[shallowdiff.NodeID]pendingTask
	queue    []pendingTask
	running  int
	timeouts []Timeout
}

func newRunState(root pendingTask) *runState {
	s := &runState{
		pending: map[shallowdiff.NodeID]pendingTask{root.id: root},
		queue:   []pendingTask{root},
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// next blocks until a task is available and marks it running. It returns
// false once the run is quiescent or ctx is done.
func (s *runState) next(ctx context.Context) (pendingTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && s.running > 0 && ctx.Err() == nil {
		s.cond.Wait()
	}
	if ctx.Err() != nil || len(s.queue) == 0 {
		return pendingTask{}, false
	}
	// LIFO keeps the walk roughly depth first, which bounds the queue.
	t := s.queue[len(s.queue)-1]
	s.queue = s.queue[:len(s.queue)-1]
	s.running++
	return t, true
}

// complete unregisters t, registers its children and wakes waiting workers.
func (s *runState) complete(t pendingTask, children []pendingTask, timeout *Timeout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, t.id)
	for _, c := range children {
		s.pending[c.id] = c
		s.queue = append(s.queue, c)
	}
	if timeout != nil {
		s.timeouts = append(s.timeouts, *timeout)
	}
	s.running--
	s.cond.Broadcast()
}

func (s *runState) wake() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cond.Broadcast()
}

// CollectUpdates walks tree from its root and returns every UpdatePair of the
// expanded tree. Per-subtree problems (read errors, timeouts) never fail the
// walk; only cancellation of ctx does, in which case ctx.Err() is returned.
func CollectUpdates(ctx context.Context, tree *shallowdiff.Tree, opts WalkOptions) (*WalkResult, error) {
	opts = opts.withDefaults()
	if opts.Workers <= 1 {
		return collectSequential(ctx, tree, opts)
	}

	plog.Debug("Collecting updates", "workers", opts.Workers, "task_timeout", opts.TaskTimeout)

	updates := make(chan UpdatePair, updateChannelSize)
	collected := make(chan []UpdatePair, 1)
	go func() {
		var all []UpdatePair
		for u := range updates {
			all = append(all, u)
		}
		collected <- all
	}()

	root := tree.Root()
	s := newRunState(pendingTask{id: root.ID, leftPath: root.LeftPath, enqueued: time.Now()})
	stop := context.AfterFunc(ctx, s.wake)
	defer stop()

	emit := func(u UpdatePair) { updates <- u }

	var g errgroup.Group
	for range opts.Workers {
		g.Go(func() error {
			for {
				t, ok := s.next(ctx)
				if !ok {
					return ctx.Err()
				}
				children, timeout, err := visit(ctx, tree, t, opts, emit)
				s.complete(t, children, timeout)
				if err != nil {
					return err
				}
			}
		})
	}
	err := g.Wait()
	close(updates)
	all := <-collected

	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) != 0 || s.running != 0 {
		return nil, fmt.Errorf("walker stopped with %d pending and %d running tasks", len(s.pending), s.running)
	}
	return &WalkResult{Updates: all, Timeouts: s.timeouts}, nil
}

// visit expands the task's node and reports its local updates through emit.
// A visit that exceeds its deadline returns a Timeout instead of children.
// The returned error is non-nil only when the run's ctx is done.
func visit(ctx context.Context, tree *shallowdiff.Tree, t pendingTask, opts WalkOptions, emit func(UpdatePair)) ([]pendingTask, *Timeout, error) {
	taskCtx, cancel := ctx, context.CancelFunc(func() {})
	if opts.TaskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, opts.TaskTimeout)
	}
	defer cancel()

	start := time.Now()
	n, err := tree.Expand(taskCtx, t.id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, err
		}
		after := time.Since(start)
		plog.Warn("Subtree visit timed out, skipping subtree", "path", t.leftPath, "after", after.Round(time.Millisecond))
		return nil, &Timeout{LeftPath: t.leftPath, After: after}, nil
	}

	opts.Metrics.AddDirsVisited(1)
	opts.Metrics.AddEntriesCompared(int64(len(n.Same) + len(n.Differing) + len(n.Ambiguous)))

	for _, u := range localUpdates(n) {
		emit(u)
	}

	names := n.ChildNames()
	children := make([]pendingTask, 0, len(names))
	now := time.Now()
	for _, name := range names {
		id := n.Children[name]
		children = append(children, pendingTask{id: id, leftPath: tree.Node(id).LeftPath, enqueued: now})
	}
	plog.Debug("Visited subtree", "path", t.leftPath, "queued_for", start.Sub(t.enqueued).Round(time.Millisecond), "children", len(children))
	return children, nil, nil
}

// localUpdates returns the UpdatePairs of a single expanded node:
// everything only on the left plus everything that differs.
func localUpdates(n *shallowdiff.Node) []UpdatePair {
	out := make([]UpdatePair, 0, len(n.OnlyLeft)+len(n.Differing))
	for _, names := range [][]string{n.OnlyLeft, n.Differing} {
		for _, name := range names {
			src, trg := shallowdiff.JoinPair(n.LeftPath, n.RightPath, name)
			out = append(out, UpdatePair{Source: src, Target: trg})
		}
	}
	return out
}
