package preflight

import (
	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// lowFreeSpaceThreshold is the free space below which a warning is logged.
const lowFreeSpaceThreshold = 1 << 30 // 1 GiB

// FreeSpace returns the free bytes on the volume holding path, or on the
// volume of its deepest existing ancestor if path does not exist yet.
func FreeSpace(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		ancestor, aerr := deepestExistingAncestor(path)
		if aerr != nil {
			return 0, err
		}
		if usage, err = disk.Usage(ancestor); err != nil {
			return 0, err
		}
	}
	return usage.Free, nil
}

// LogFreeSpace reports the free space of the target volume. It never fails
// the run; the space needed is only known after the comparison.
func LogFreeSpace(path string) {
	free, err := FreeSpace(path)
	if err != nil {
		plog.Debug("Could not determine free space", "path", path, "error", err)
		return
	}
	if free < lowFreeSpaceThreshold {
		plog.Warn("Low free space on target volume", "path", path, "free", humanize.IBytes(free))
		return
	}
	plog.Debug("Target volume free space", "path", path, "free", humanize.IBytes(free))
}
