package plaszip

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jwend/plaszip/comm"
	plaserrors "github.com/jwend/plaszip/errors"
)

// openOutput opens the shared output file for one worker's commit pass.
//
// Rank 0 creates the file, writes the preamble, and preallocates the full
// output size so that every other worker's write at a large offset lands in
// reserved space. The barrier keeps other workers from opening the file
// before it exists on disk. All workers return a Writer positioned at their
// own byte offset.
func openOutput(ctx context.Context, c comm.Communicator, path string, hdr Header, offset, totalSize int64) (*os.File, *Writer, error) {
	if c.Rank() == 0 {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("create output: %w", err)
		}
		w, err := NewWriter(f, hdr, true)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		if err := preallocate(f, totalSize); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("preallocate %d bytes: %w", totalSize, err)
		}
		if err := comm.Barrier(ctx, c); err != nil {
			f.Close()
			return nil, nil, err
		}
		// Rank 0's offset is the preamble size, where the writer already is.
		return f, w, nil
	}

	if err := comm.Barrier(ctx, c); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("seek output: %w", err)
	}
	w, err := NewWriter(f, hdr, false)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, w, nil
}

// commitRange is the second pass: it re-reads the same point range through a
// fresh encoder and writes the real bytes at the precomputed offset, then
// verifies the pass produced exactly the bytes the probe measured. A
// divergence means the encoder is not deterministic and the offsets every
// other worker computed are wrong, so it is fatal.
func commitRange(src *Reader, w *Writer, rng PointRange, probeBytes int64) ([]uint32, error) {
	written, err := copyRange(src, w, rng)
	if err != nil {
		return nil, fmt.Errorf("commit pass: %w", err)
	}
	if written != probeBytes {
		return nil, fmt.Errorf("%w: probe measured %d bytes, commit wrote %d",
			plaserrors.ErrProbeCommitMismatch, probeBytes, written)
	}
	return w.ChunkSizes(), nil
}
