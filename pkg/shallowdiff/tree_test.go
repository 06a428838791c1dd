package shallowdiff

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/spf13/afero"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sensitive() Options { return Options{} }

func TestBuildTree_Scenarios(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(t *testing.T, fsys afero.Fs)
		wantOnlyLeft  []string
		wantOnlyRight []string
		wantSameInD   []string
		wantDiffInD   []string
		wantChildren  []string
	}{
		{
			name: "New file on source",
			setup: func(t *testing.T, fsys afero.Fs) {
				writeFile(t, fsys, "/src/a.txt", "X", testTime)
				if err := fsys.MkdirAll("/dst", 0755); err != nil {
					t.Fatal(err)
				}
			},
			wantOnlyLeft: []string{"a.txt"},
		},
		{
			name: "Stale file on target",
			setup: func(t *testing.T, fsys afero.Fs) {
				if err := fsys.MkdirAll("/src", 0755); err != nil {
					t.Fatal(err)
				}
				writeFile(t, fsys, "/dst/old.txt", "X", testTime)
			},
			wantOnlyRight: []string{"old.txt"},
		},
		{
			name: "Changed size in subdirectory",
			setup: func(t *testing.T, fsys afero.Fs) {
				writeFile(t, fsys, "/src/d/f", "0123456789", testTime)
				writeFile(t, fsys, "/dst/d/f", "01234567890123456789", testTime)
			},
			wantChildren: []string{"d"},
			wantDiffInD:  []string{"f"},
		},
		{
			name: "Identical file in subdirectory",
			setup: func(t *testing.T, fsys afero.Fs) {
				writeFile(t, fsys, "/src/d/f", "0123456789", testTime)
				writeFile(t, fsys, "/dst/d/f", "9876543210", testTime)
			},
			wantChildren: []string{"d"},
			wantSameInD:  []string{"f"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			tc.setup(t, fsys)

			tree, err := BuildTree(context.Background(), fsys, "/src", "/dst", sensitive())
			if err != nil {
				t.Fatalf("BuildTree failed: %v", err)
			}
			root := tree.Root()
			assertNames(t, "OnlyLeft", root.OnlyLeft, tc.wantOnlyLeft)
			assertNames(t, "OnlyRight", root.OnlyRight, tc.wantOnlyRight)
			assertNames(t, "Children", root.ChildNames(), tc.wantChildren)

			if id, ok := root.Children["d"]; ok {
				d := tree.Node(id)
				assertNames(t, "d.Same", d.Same, tc.wantSameInD)
				assertNames(t, "d.Differing", d.Differing, tc.wantDiffInD)
				if d.Parent != RootID {
					t.Errorf("expected child parent %d, got %d", RootID, d.Parent)
				}
				if d.LeftPath != filepath.Join("/src", "d") || d.RightPath != filepath.Join("/dst", "d") {
					t.Errorf("unexpected child paths (%q, %q)", d.LeftPath, d.RightPath)
				}
			}
			if len(tree.ReadErrors()) != 0 {
				t.Errorf("expected no read errors, got %v", tree.ReadErrors())
			}
		})
	}
}

func TestBuildTree_Disjoint(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/src/only-left", "x", testTime)
	writeFile(t, fsys, "/dst/only-right", "x", testTime)
	writeFile(t, fsys, "/src/same", "x", testTime)
	writeFile(t, fsys, "/dst/same", "x", testTime)
	writeFile(t, fsys, "/src/diff", "x", testTime)
	writeFile(t, fsys, "/dst/diff", "xx", testTime)
	writeFile(t, fsys, "/src/kind", "x", testTime)
	writeFile(t, fsys, "/dst/kind/inner", "x", testTime)
	writeFile(t, fsys, "/src/dir/inner", "x", testTime)
	writeFile(t, fsys, "/dst/dir/inner", "x", testTime)

	tree, err := BuildTree(context.Background(), fsys, "/src", "/dst", sensitive())
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}
	root := tree.Root()

	seen := make(map[string]string)
	for category, names := range map[string][]string{
		"OnlyLeft":  root.OnlyLeft,
		"OnlyRight": root.OnlyRight,
		"Same":      root.Same,
		"Differing": root.Differing,
		"Ambiguous": root.Ambiguous,
		"Children":  root.ChildNames(),
	} {
		for _, name := range names {
			if prev, dup := seen[name]; dup {
				t.Errorf("name %q is in both %s and %s", name, prev, category)
			}
			seen[name] = category
		}
	}

	want := map[string]string{
		"only-left":  "OnlyLeft",
		"only-right": "OnlyRight",
		"same":       "Same",
		"diff":       "Differing",
		"kind":       "Ambiguous",
		"dir":        "Children",
	}
	for name, category := range want {
		if seen[name] != category {
			t.Errorf("expected %q in %s, got %q", name, category, seen[name])
		}
	}
}

func TestExpand_MissingRightListsEmpty(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/src/a.txt", "x", testTime)
	writeFile(t, fsys, "/src/sub/b.txt", "x", testTime)

	tree, err := BuildTree(context.Background(), fsys, "/src", "/missing", sensitive())
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}
	root := tree.Root()
	assertNames(t, "OnlyLeft", root.OnlyLeft, []string{"a.txt", "sub"})
	if len(root.Children) != 0 {
		t.Errorf("expected no children, got %v", root.ChildNames())
	}
	if len(tree.ReadErrors()) != 0 {
		t.Errorf("a missing right side must not be a read error, got %v", tree.ReadErrors())
	}
}

func TestExpand_LeftReadErrorIsLocal(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/dst/a.txt", "x", testTime)

	tree, err := BuildTree(context.Background(), fsys, "/gone", "/dst", sensitive())
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}
	root := tree.Root()
	if !tree.Expanded(RootID) {
		t.Fatal("expected the root to be committed despite the read error")
	}
	if len(root.OnlyRight) != 0 || len(root.OnlyLeft) != 0 {
		t.Errorf("expected a node without entries, got %+v", root)
	}
	readErrs := tree.ReadErrors()
	if len(readErrs) != 1 || readErrs[0].Path != "/gone" {
		t.Fatalf("expected one read error for /gone, got %v", readErrs)
	}
	if !errors.Is(readErrs[0], os.ErrNotExist) {
		t.Errorf("expected read error to wrap os.ErrNotExist, got %v", readErrs[0].Err)
	}
}

func TestExpand_CanceledCommitsNothing(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/src/d/f", "x", testTime)
	writeFile(t, fsys, "/dst/d/f", "x", testTime)

	tree := NewTree(fsys, "/src", "/dst", sensitive())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := tree.Expand(ctx, RootID); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if tree.Expanded(RootID) {
		t.Fatal("a canceled expansion must not commit")
	}
	if tree.Len() != 1 {
		t.Fatalf("a canceled expansion must not allocate children, got %d nodes", tree.Len())
	}

	root, err := tree.Expand(context.Background(), RootID)
	if err != nil {
		t.Fatalf("second Expand failed: %v", err)
	}
	assertNames(t, "Children", root.ChildNames(), []string{"d"})

	again, err := tree.Expand(context.Background(), RootID)
	if err != nil || again != root || tree.Len() != 2 {
		t.Errorf("expanding twice must be a no-op (err=%v, len=%d)", err, tree.Len())
	}
}

func TestExpand_CaseInsensitivePairing(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/src/Docs/a.txt", "x", testTime)
	writeFile(t, fsys, "/dst/docs/a.txt", "x", testTime)
	writeFile(t, fsys, "/src/README", "x", testTime)
	writeFile(t, fsys, "/dst/readme", "x", testTime)

	tree, err := BuildTree(context.Background(), fsys, "/src", "/dst", Options{CaseInsensitive: true})
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}
	root := tree.Root()
	assertNames(t, "OnlyLeft", root.OnlyLeft, nil)
	assertNames(t, "OnlyRight", root.OnlyRight, nil)
	assertNames(t, "Same", root.Same, []string{"README"})

	id, ok := root.Children["Docs"]
	if !ok {
		t.Fatalf("expected child keyed by the left spelling, got %v", root.ChildNames())
	}
	child := tree.Node(id)
	if child.RightPath != filepath.Join("/dst", "docs") {
		t.Errorf("expected right spelling in RightPath, got %q", child.RightPath)
	}
	assertNames(t, "Docs.Same", child.Same, []string{"a.txt"})
}

func TestExpand_CaseInsensitiveCollisions(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(t *testing.T, fsys afero.Fs)
		wantOnlyLeft  []string
		wantOnlyRight []string
		wantSame      []string
		wantDiffering []string
	}{
		{
			name: "Two right names fold together",
			setup: func(t *testing.T, fsys afero.Fs) {
				writeFile(t, fsys, "/src/a", "x", testTime)
				writeFile(t, fsys, "/dst/a", "x", testTime)
				writeFile(t, fsys, "/dst/A", "x", testTime)
			},
			wantOnlyRight: []string{"A"},
			wantSame:      []string{"a"},
		},
		{
			name: "Two left names fold together",
			setup: func(t *testing.T, fsys afero.Fs) {
				writeFile(t, fsys, "/src/a", "x", testTime)
				writeFile(t, fsys, "/src/A", "x", testTime)
				writeFile(t, fsys, "/dst/a", "x", testTime)
			},
			wantOnlyLeft: []string{"A"},
			wantSame:     []string{"a"},
		},
		{
			name: "Collisions on both sides pair exactly",
			setup: func(t *testing.T, fsys afero.Fs) {
				writeFile(t, fsys, "/src/a", "x", testTime)
				writeFile(t, fsys, "/src/A", "new", testTime)
				writeFile(t, fsys, "/dst/a", "x", testTime)
				writeFile(t, fsys, "/dst/A", "old-content", testTime)
				writeFile(t, fsys, "/src/Other", "x", testTime)
				writeFile(t, fsys, "/dst/other", "x", testTime)
			},
			wantSame:      []string{"Other", "a"},
			wantDiffering: []string{"A"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			tc.setup(t, fsys)

			tree, err := BuildTree(context.Background(), fsys, "/src", "/dst", Options{CaseInsensitive: true})
			if err != nil {
				t.Fatalf("BuildTree failed: %v", err)
			}
			root := tree.Root()
			assertNames(t, "OnlyLeft", root.OnlyLeft, tc.wantOnlyLeft)
			assertNames(t, "OnlyRight", root.OnlyRight, tc.wantOnlyRight)
			assertNames(t, "Same", root.Same, tc.wantSame)
			assertNames(t, "Differing", root.Differing, tc.wantDiffering)
			assertNames(t, "Ambiguous", root.Ambiguous, nil)
		})
	}
}

func TestBuildTree_BrokenSymlinkIsAmbiguous(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	dst := filepath.Join(t.TempDir(), "dst")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "link"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(dst, "nowhere"), filepath.Join(dst, "link")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	tree, err := BuildTree(context.Background(), afero.NewOsFs(), src, dst, sensitive())
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}
	root := tree.Root()
	assertNames(t, "Ambiguous", root.Ambiguous, []string{"link"})
	assertNames(t, "OnlyLeft", root.OnlyLeft, nil)
	assertNames(t, "OnlyRight", root.OnlyRight, nil)
	assertNames(t, "Differing", root.Differing, nil)
}

func assertNames(t *testing.T, label string, got, want []string) {
	t.Helper()
	got = slices.Sorted(slices.Values(got))
	want = slices.Sorted(slices.Values(want))
	if !slices.Equal(got, want) {
		t.Errorf("%s = %v, want %v", label, got, want)
	}
}
