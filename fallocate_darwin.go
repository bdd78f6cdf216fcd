//go:build darwin

package plaszip

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves size bytes for the output file before any worker
// writes at its precomputed offset. On macOS this is fcntl F_PREALLOCATE
// with all-or-nothing allocation, then ftruncate to set the length.
func preallocate(file *os.File, size int64) error {
	fst := unix.Fstore_t{
		Flags:   unix.F_ALLOCATEALL,
		Posmode: unix.F_PEOFPOSMODE,
		Offset:  0,
		Length:  size,
	}
	if err := unix.FcntlFstore(file.Fd(), unix.F_PREALLOCATE, &fst); err != nil {
		return unix.Ftruncate(int(file.Fd()), size)
	}
	return unix.Ftruncate(int(file.Fd()), size)
}
