package pathmirror

import (
	"context"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/shallowdiff"
)

// mirrorTask holds the mutable state for a single mirror execution.
// This keeps PathMirror itself stateless and safe for concurrent use.
type mirrorTask struct {
	*PathMirror

	ctx  context.Context
	plan *Plan

	src string
	trg string

	reporter Reporter
	metrics  Metrics
}

func (t *mirrorTask) execute() (*Result, error) {
	plog.Info("Mirroring", "source", t.src, "target", t.trg, "dry_run", t.plan.DryRun)

	t.metrics.StartProgress("Mirror progress", 10*time.Second)
	defer func() {
		t.metrics.StopProgress()
		t.metrics.LogSummary("Mirror finished")
	}()

	res := &Result{Source: t.src, Target: t.trg, DryRun: t.plan.DryRun}

	tree := shallowdiff.NewTree(t.fs, t.src, t.trg, shallowdiff.Options{
		CaseInsensitive: t.plan.CaseInsensitive,
		ModTimeWindow:   t.plan.ModTimeWindow,
	})

	// 1. Collect updates with the worker pool.
	walk, err := CollectUpdates(t.ctx, tree, WalkOptions{
		Workers:     t.plan.Workers,
		TaskTimeout: t.plan.TaskTimeout,
		Metrics:     t.metrics,
	})
	if err != nil {
		return nil, err
	}
	res.Updates = walk.Updates
	res.Timeouts = walk.Timeouts

	// 2. Collect removals and unclassifiable entries from the same tree.
	if res.Removals, err = CollectRemovals(t.ctx, tree); err != nil {
		return nil, err
	}
	if res.Ambiguous, err = CollectAmbiguous(t.ctx, tree); err != nil {
		return nil, err
	}
	res.ReadErrors = tree.ReadErrors()

	sortUpdates(res.Updates)
	sortPaths(res.Removals)
	sortPaths(res.Ambiguous)

	plog.Info("Comparison finished",
		"updates", len(res.Updates),
		"removals", len(res.Removals),
		"ambiguous", len(res.Ambiguous),
		"nodes", tree.Len(),
	)

	defer logProblems(res)

	if t.plan.DryRun {
		for _, u := range res.Updates {
			t.reporter.ReportUpdate(u)
		}
		for _, path := range res.Removals {
			t.reporter.ReportRemoval(path)
		}
		return res, nil
	}

	// 3. Apply. Every copy completes before the first removal.
	exec := NewExecutor(t.fs, ExecutorOptions{
		RetryCount: t.plan.RetryCount,
		RetryWait:  t.plan.RetryWait,
		BufferSize: t.plan.BufferSize,
		Metrics:    t.metrics,
	})
	if err := t.applyUpdates(exec, res); err != nil {
		return res, err
	}
	if err := t.applyRemovals(exec, res); err != nil {
		return res, err
	}
	return res, nil
}

func (t *mirrorTask) applyUpdates(exec *Executor, res *Result) error {
	for _, u := range res.Updates {
		if err := t.ctx.Err(); err != nil {
			return err
		}
		if err := exec.ApplyUpdate(u.Source, u.Target); err != nil {
			plog.Error("Failed to apply update", "operation", ActionCopy, "source", u.Source, "target", u.Target, "error", err)
			res.Failures = append(res.Failures, Failure{Action: ActionCopy, Source: u.Source, Target: u.Target, Err: err})
			t.metrics.AddFailures(1)
			continue
		}
		plog.Info("COPY", "source", u.Source, "target", u.Target)
	}
	return nil
}

func (t *mirrorTask) applyRemovals(exec *Executor, res *Result) error {
	for _, path := range res.Removals {
		if err := t.ctx.Err(); err != nil {
			return err
		}
		if err := exec.ApplyRemoval(path); err != nil {
			plog.Error("Failed to apply removal", "operation", ActionRemove, "target", path, "error", err)
			res.Failures = append(res.Failures, Failure{Action: ActionRemove, Target: path, Err: err})
			t.metrics.AddFailures(1)
			continue
		}
		plog.Info("REMOVE", "target", path)
	}
	return nil
}
