//go:build !linux && !darwin

package plaszip

import "os"

// preallocate sets the output file length before workers write at their
// precomputed offsets. Plain truncate: the length is set but blocks may
// not be reserved on every filesystem.
func preallocate(file *os.File, size int64) error {
	return file.Truncate(size)
}
