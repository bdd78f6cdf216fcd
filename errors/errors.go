// Package errors defines all exported error sentinels for the plaszip library.
//
// This is the single source of truth for error values. Both the top-level
// plaszip package and the comm package import from here, so errors.Is
// checks work across package boundaries.
package errors

import "errors"

// Conversion errors
var (
	ErrTooFewChunks        = errors.New("plaszip: fewer whole chunks than workers")
	ErrEmptyInput          = errors.New("plaszip: input contains zero points")
	ErrSourceExhausted     = errors.New("plaszip: point source exhausted before declared count")
	ErrProbeCommitMismatch = errors.New("plaszip: commit pass byte count diverged from probe pass")
	ErrSameFile            = errors.New("plaszip: input and output are the same file")
)

// Communication errors
var (
	ErrCollectiveMismatch = errors.New("plaszip: collective send/receive pairing mismatch")
	ErrInvalidRank        = errors.New("plaszip: rank outside worker group")
	ErrGroupClosed        = errors.New("plaszip: worker group is closed")
)

// Format errors
var (
	ErrInvalidMagic        = errors.New("plaszip: invalid magic number")
	ErrInvalidVersion      = errors.New("plaszip: unsupported format version")
	ErrTruncatedFile       = errors.New("plaszip: file is truncated")
	ErrCorruptedChunkTable = errors.New("plaszip: chunk table is corrupted")
	ErrChecksumFailed      = errors.New("plaszip: chunk checksum verification failed")
	ErrUnknownCodec        = errors.New("plaszip: unknown chunk codec")
	ErrUnknownChecksum     = errors.New("plaszip: unknown checksum algorithm")
	ErrWriterClosed        = errors.New("plaszip: writer is closed")
	ErrReaderClosed        = errors.New("plaszip: reader is closed")
	ErrPointOutOfRange     = errors.New("plaszip: point index out of range")
	ErrNotChunked          = errors.New("plaszip: file has no chunk table")
)
