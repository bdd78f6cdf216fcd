//go:build !linux

package plaszip

// fadviseSequential is a no-op on platforms without posix_fadvise.
func fadviseSequential(fd int, offset, length int64) {
}
