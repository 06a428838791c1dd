package pathmirror

import (
	"context"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/shallowdiff"
)

// collectSequential is the single-threaded walker. It uses the same visit as
// the pool, driven by an explicit stack instead of workers.
func collectSequential(ctx context.Context, tree *shallowdiff.Tree, opts WalkOptions) (*WalkResult, error) {
	root := tree.Root()
	stack := []pendingTask{{id: root.ID, leftPath: root.LeftPath, enqueued: time.Now()}}

	res := &WalkResult{}
	emit := func(u UpdatePair) { res.Updates = append(res.Updates, u) }

	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, timeout, err := visit(ctx, tree, t, opts, emit)
		if err != nil {
			return nil, err
		}
		if timeout != nil {
			res.Timeouts = append(res.Timeouts, *timeout)
		}
		stack = append(stack, children...)
	}
	return res, nil
}

// walkExpanded calls fn for every expanded node reachable from the root,
// depth first. A node the walker could not expand in time is skipped with
// its whole subtree: nothing below it is known, so nothing below it is
// removed either.
func walkExpanded(ctx context.Context, tree *shallowdiff.Tree, fn func(n *shallowdiff.Node)) error {
	stack := []shallowdiff.NodeID{shallowdiff.RootID}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !tree.Expanded(id) {
			plog.Debug("Skipping subtree that was not compared", "path", tree.Node(id).LeftPath)
			continue
		}
		n := tree.Node(id)
		fn(n)
		for _, name := range n.ChildNames() {
			stack = append(stack, n.Children[name])
		}
	}
	return nil
}

// CollectRemovals returns the target path of every entry that exists only on
// the right side, at every level the walker compared. The order is
// unspecified.
func CollectRemovals(ctx context.Context, tree *shallowdiff.Tree) ([]string, error) {
	var removals []string
	err := walkExpanded(ctx, tree, func(n *shallowdiff.Node) {
		for _, name := range n.OnlyRight {
			removals = append(removals, shallowdiff.JoinPath(n.RightPath, name))
		}
	})
	if err != nil {
		return nil, err
	}
	return removals, nil
}

// CollectAmbiguous returns the source path of every entry that could not be
// classified. These are neither copied nor removed.
func CollectAmbiguous(ctx context.Context, tree *shallowdiff.Tree) ([]string, error) {
	var ambiguous []string
	err := walkExpanded(ctx, tree, func(n *shallowdiff.Node) {
		for _, name := range n.Ambiguous {
			ambiguous = append(ambiguous, shallowdiff.JoinPath(n.LeftPath, name))
		}
	})
	if err != nil {
		return nil, err
	}
	return ambiguous, nil
}
