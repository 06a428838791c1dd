package shallowdiff

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
)

// ErrNotRegular is returned by Comparator.Same when at least one side is not
// a regular file. Callers classify such pairs as ambiguous.
var ErrNotRegular = errors.New("entries are not both regular files")

// Kind is the coarse filesystem entry type used in a Signature.
type Kind int

const (
	KindOther Kind = iota
	KindRegular
	KindDirectory
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return "other"
	}
}

// KindOf maps file mode bits to a Kind.
func KindOf(mode os.FileMode) Kind {
	switch {
	case mode.IsRegular():
		return KindRegular
	case mode.IsDir():
		return KindDirectory
	case mode&os.ModeSymlink != 0:
		return KindSymlink
	default:
		return KindOther
	}
}

// Signature is the cheap identity of a filesystem entry: kind, size and
// modification time. File content is never part of it.
type Signature struct {
	Kind    Kind
	Size    int64
	ModTime int64 // Unix nano
}

// SignatureOf extracts the signature from already fetched metadata.
func SignatureOf(info os.FileInfo) Signature {
	return Signature{
		Kind:    KindOf(info.Mode()),
		Size:    info.Size(),
		ModTime: info.ModTime().UnixNano(),
	}
}

// Lstat returns metadata for path without following a trailing symlink
// when the filesystem supports it.
func Lstat(fsys afero.Fs, path string) (os.FileInfo, error) {
	if l, ok := fsys.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(path)
		return info, err
	}
	return fsys.Stat(path)
}

// Comparator decides whether two entries are the same using metadata only.
type Comparator struct {
	Fs afero.Fs
	// ModTimeWindow truncates modification times before comparing them, to
	// tolerate filesystems with coarser timestamp resolution. 0 means exact.
	ModTimeWindow time.Duration
}

// Signature stats path and returns its signature.
func (c Comparator) Signature(path string) (Signature, error) {
	info, err := Lstat(c.Fs, path)
	if err != nil {
		return Signature{}, fmt.Errorf("failed to lstat %s: %w", path, err)
	}
	return SignatureOf(info), nil
}

// Same reports whether left and right are regular files with equal signatures.
// It fails if either side cannot be stat'd, or with ErrNotRegular if either
// side is not a regular file.
func (c Comparator) Same(left, right string) (bool, error) {
	ls, err := c.Signature(left)
	if err != nil {
		return false, err
	}
	rs, err := c.Signature(right)
	if err != nil {
		return false, err
	}
	if ls.Kind != KindRegular || rs.Kind != KindRegular {
		return false, fmt.Errorf("%w: %s is %s, %s is %s", ErrNotRegular, left, ls.Kind, right, rs.Kind)
	}
	return ls.Size == rs.Size && c.truncate(ls.ModTime) == c.truncate(rs.ModTime), nil
}

func (c Comparator) truncate(unixNano int64) int64 {
	if c.ModTimeWindow <= 0 {
		return unixNano
	}
	return time.Unix(0, unixNano).Truncate(c.ModTimeWindow).UnixNano()
}
