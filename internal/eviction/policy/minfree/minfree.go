package minfree

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// Policy triggers eviction when the filesystem holding the cache runs low on space.
type Policy struct {
	Path         string
	MinFreeBytes int64

	// statfs is swapped in tests.
	statfs func(path string, buf *unix.Statfs_t) error
}

func (m *Policy) BytesToFree(currentSize int64) (int64, error) {
	statfs := m.statfs
	if statfs == nil {
		statfs = unix.Statfs
	}

	var stat unix.Statfs_t
	if err := statfs(m.Path, &stat); err != nil {
		return 0, fmt.Errorf("failed to check disk space: %w", err)
	}

	freeSpace := int64(stat.Bavail) * int64(stat.Bsize)

	slog.Debug("Disk space check", "path", m.Path, "free_bytes", freeSpace, "min_required", m.MinFreeBytes)

	if freeSpace >= m.MinFreeBytes {
		return 0, nil
	}
	// Never ask for more than the cache itself holds.
	return min(m.MinFreeBytes-freeSpace, currentSize), nil
}
