package shallowdiff

import "os"

// JoinPath appends name to parent using the host path separator. It does not
// clean, resolve or otherwise rewrite either part.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	if os.IsPathSeparator(parent[len(parent)-1]) {
		return parent + name
	}
	return parent + string(os.PathSeparator) + name
}

// JoinPair joins name onto both sides of a directory pair.
func JoinPair(leftParent, rightParent, name string) (left, right string) {
	return JoinPath(leftParent, name), JoinPath(rightParent, name)
}
