// Package shallowdiff compares two directory trees using entry metadata only.
//
// --- ARCHITECTURAL OVERVIEW ---
// A Tree is an arena of Nodes, one per directory pair (left, right). Nodes are
// addressed by NodeID and reference their parent and children by id, so a
// traversal never needs parent pointers or recursion.
//
// A Node starts out unexpanded. Expand lists both directories once, partitions
// the names and allocates child nodes for every name that is a directory on
// both sides. The listing and comparing happens outside the tree lock; the
// result is committed under the lock only if the caller's context is still
// live. An expansion abandoned by cancellation leaves the node untouched, so a
// later caller can expand it again.
//
// Read failures are local: the node is committed with no entries, the failure
// is recorded as a ReadError and the rest of the tree is unaffected.
package shallowdiff

import (
	"context"
	"errors"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// NodeID addresses a node inside its Tree.
type NodeID int

const (
	// RootID is the id of the node built for the root pair.
	RootID NodeID = 0
	// NoParent is the Parent of the root node.
	NoParent NodeID = -1
)

// Node is the comparison result for one directory pair.
// The name sets and Children are only valid once the node is expanded, after
// which the node is never modified again.
type Node struct {
	ID        NodeID
	Parent    NodeID
	LeftPath  string
	RightPath string

	// OnlyLeft holds names present only in the left directory.
	OnlyLeft []string
	// OnlyRight holds names present only in the right directory (right spelling).
	OnlyRight []string
	// Same holds regular files whose signatures match.
	Same []string
	// Differing holds regular files whose signatures differ.
	Differing []string
	// Ambiguous holds names present on both sides that could not be
	// classified: kind mismatch, non-regular entries or stat failures.
	Ambiguous []string
	// Children maps names that are directories on both sides to their node.
	Children map[string]NodeID

	expanded bool
}

// ChildNames returns the names in Children in sorted order.
func (n *Node) ChildNames() []string {
	names := lo.Keys(n.Children)
	slices.Sort(names)
	return names
}

// ReadError records a directory that could not be listed.
type ReadError struct {
	Path string
	Err  error
}

func (e ReadError) Error() string {
	return "failed to read directory " + e.Path + ": " + e.Err.Error()
}

func (e ReadError) Unwrap() error { return e.Err }

// Options configures how a Tree pairs and compares entries.
type Options struct {
	// CaseInsensitive pairs names by their lower-cased form. The child node
	// keeps the right side's spelling in its RightPath.
	CaseInsensitive bool
	// ModTimeWindow is passed to the Comparator.
	ModTimeWindow time.Duration
}

// DefaultOptions returns options matching the host filesystem.
func DefaultOptions() Options {
	return Options{CaseInsensitive: util.IsHostCaseInsensitiveFS()}
}

// Tree is the arena of directory-pair nodes for one comparison.
type Tree struct {
	fs   afero.Fs
	cmp  Comparator
	opts Options

	mu         sync.RWMutex
	nodes      []*Node
	readErrors []ReadError
}

// NewTree creates a tree holding a single unexpanded root node for (left, right).
func NewTree(fsys afero.Fs, left, right string, opts Options) *Tree {
	return &Tree{
		fs:   fsys,
		cmp:  Comparator{Fs: fsys, ModTimeWindow: opts.ModTimeWindow},
		opts: opts,
		nodes: []*Node{{
			ID:        RootID,
			Parent:    NoParent,
			LeftPath:  left,
			RightPath: right,
		}},
	}
}

// BuildTree creates a tree for (left, right) and expands it completely.
// Only context cancellation is returned as an error.
func BuildTree(ctx context.Context, fsys afero.Fs, left, right string, opts Options) (*Tree, error) {
	t := NewTree(fsys, left, right, opts)
	if err := t.ExpandAll(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Fs returns the filesystem the tree reads from.
func (t *Tree) Fs() afero.Fs { return t.fs }

// Root returns the root node.
func (t *Tree) Root() *Node { return t.Node(RootID) }

// Node returns the node with the given id.
func (t *Tree) Node(id NodeID) *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[id]
}

// Len returns the number of allocated nodes, expanded or not.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Expanded reports whether the node has been committed.
func (t *Tree) Expanded(id NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[id].expanded
}

// ReadErrors returns a copy of the listing failures committed so far.
func (t *Tree) ReadErrors() []ReadError {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.readErrors)
}

// ExpandAll expands every node reachable from the root, depth first, using an
// explicit stack. Already expanded nodes are walked but not listed again.
func (t *Tree) ExpandAll(ctx context.Context) error {
	stack := []NodeID{RootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n, err := t.Expand(ctx, id)
		if err != nil {
			return err
		}
		for _, name := range n.ChildNames() {
			stack = append(stack, n.Children[name])
		}
	}
	return nil
}

// Expand lists and classifies the node's directory pair and commits the result.
// It returns the expanded node, or the context's error if ctx ended before the
// commit, in which case the node is left unexpanded.
func (t *Tree) Expand(ctx context.Context, id NodeID) (*Node, error) {
	n := t.Node(id)
	if t.Expanded(id) {
		return n, nil
	}

	p, err := t.partition(ctx, n.LeftPath, n.RightPath)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if n.expanded {
		return n, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.readErr != nil {
		plog.Warn("Failed to read directory, skipping subtree", "path", p.readErr.Path, "error", p.readErr.Err)
		t.readErrors = append(t.readErrors, *p.readErr)
	}

	n.OnlyLeft = p.onlyLeft
	n.OnlyRight = p.onlyRight
	n.Same = p.same
	n.Differing = p.differing
	n.Ambiguous = p.ambiguous
	n.Children = make(map[string]NodeID, len(p.dirs))
	for _, d := range p.dirs {
		child := &Node{
			ID:        NodeID(len(t.nodes)),
			Parent:    id,
			LeftPath:  JoinPath(n.LeftPath, d.left),
			RightPath: JoinPath(n.RightPath, d.right),
		}
		t.nodes = append(t.nodes, child)
		n.Children[d.left] = child.ID
	}
	n.expanded = true
	return n, nil
}

type dirPair struct {
	left, right string
}

type partition struct {
	onlyLeft, onlyRight         []string
	same, differing, ambiguous []string
	dirs                       []dirPair
	readErr                    *ReadError
}

// partition computes the node contents without touching the tree.
func (t *Tree) partition(ctx context.Context, leftPath, rightPath string) (partition, error) {
	leftEntries, err := afero.ReadDir(t.fs, leftPath)
	if err != nil {
		return partition{readErr: &ReadError{Path: leftPath, Err: err}}, nil
	}
	if err := ctx.Err(); err != nil {
		return partition{}, err
	}
	rightEntries, err := afero.ReadDir(t.fs, rightPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return partition{readErr: &ReadError{Path: rightPath, Err: err}}, nil
		}
		// A missing right side lists as empty.
		rightEntries = nil
	}
	if err := ctx.Err(); err != nil {
		return partition{}, err
	}

	pairKey := t.pairKeys(leftEntries, rightEntries)
	rightByKey := lo.KeyBy(rightEntries, func(fi os.FileInfo) string { return pairKey(fi.Name()) })
	leftKeys := make(map[string]struct{}, len(leftEntries))

	var p partition
	for _, l := range leftEntries {
		key := pairKey(l.Name())
		leftKeys[key] = struct{}{}

		r, ok := rightByKey[key]
		if !ok {
			p.onlyLeft = append(p.onlyLeft, l.Name())
			continue
		}
		if err := ctx.Err(); err != nil {
			return partition{}, err
		}
		t.classify(&p, leftPath, rightPath, l, r)
	}
	for _, r := range rightEntries {
		if _, ok := leftKeys[pairKey(r.Name())]; !ok {
			p.onlyRight = append(p.onlyRight, r.Name())
		}
	}
	sort.Strings(p.onlyRight)
	return p, nil
}

// classify sorts a name present on both sides into exactly one category.
func (t *Tree) classify(p *partition, leftPath, rightPath string, l, r os.FileInfo) {
	name := l.Name()
	lk, rk := KindOf(l.Mode()), KindOf(r.Mode())
	switch {
	case lk == KindDirectory && rk == KindDirectory:
		p.dirs = append(p.dirs, dirPair{left: name, right: r.Name()})
	case lk == KindRegular && rk == KindRegular:
		leftFile, rightFile := JoinPath(leftPath, name), JoinPath(rightPath, r.Name())
		same, err := t.cmp.Same(leftFile, rightFile)
		switch {
		case err != nil:
			plog.Debug("Comparison failed, marking ambiguous", "left", leftFile, "right", rightFile, "error", err)
			p.ambiguous = append(p.ambiguous, name)
		case same:
			p.same = append(p.same, name)
		default:
			p.differing = append(p.differing, name)
		}
	default:
		p.ambiguous = append(p.ambiguous, name)
	}
}

// pairKeys returns the key that pairs a left name with a right name. Names
// whose folded key is shared by several entries on one side (a case-sensitive
// directory on a case-insensitive host) are paired by their exact spelling.
func (t *Tree) pairKeys(left, right []os.FileInfo) func(string) string {
	if !t.opts.CaseInsensitive {
		return t.key
	}
	byName := func(fi os.FileInfo) string { return t.key(fi.Name()) }
	leftCount, rightCount := lo.CountValuesBy(left, byName), lo.CountValuesBy(right, byName)
	return func(name string) string {
		key := t.key(name)
		if leftCount[key] > 1 || rightCount[key] > 1 {
			return name
		}
		return key
	}
}

func (t *Tree) key(name string) string {
	if t.opts.CaseInsensitive {
		return strings.ToLower(name)
	}
	return name
}
