//go:build linux

package plaszip

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves size bytes for the output file before any worker
// writes at its precomputed offset, so a commit write deep into the file
// cannot fail on allocation. Falls back to ftruncate on filesystems that
// reject fallocate (NFS among them).
func preallocate(file *os.File, size int64) error {
	if err := unix.Fallocate(int(file.Fd()), 0, 0, size); err != nil {
		return unix.Ftruncate(int(file.Fd()), size)
	}
	// fallocate reserves blocks without extending the file size.
	return unix.Ftruncate(int(file.Fd()), size)
}
