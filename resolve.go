package plaszip

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jwend/plaszip/comm"
	plaserrors "github.com/jwend/plaszip/errors"
)

// copyRange streams the points of rng from src into w in increasing index
// order, then finalizes the trailing partial chunk. Returns the number of
// output bytes produced. Reader exhaustion inside the range is fatal: it
// means the input header's point count does not match the file.
func copyRange(src *Reader, w *Writer, rng PointRange) (int64, error) {
	if err := src.SeekPoint(rng.Start); err != nil {
		return 0, err
	}

	start := w.Tell()
	var p Point
	for i := rng.Start; i < rng.End; i++ {
		if err := src.ReadPoint(&p); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, fmt.Errorf("%w: point %d of range [%d,%d)",
					plaserrors.ErrSourceExhausted, i, rng.Start, rng.End)
			}
			return 0, err
		}
		if err := w.WritePoint(p); err != nil {
			return 0, err
		}
	}
	if err := w.FinalizeChunk(); err != nil {
		return 0, err
	}
	return w.Tell() - start, nil
}

// resolveOffsets runs the probe pass and the offset exchange: it measures
// this worker's exact output byte length against a fresh counting sink,
// all-gathers every worker's length, and prefix-sums them into this worker's
// absolute write offset.
//
// Returns (offset, probeBytes, lengths) where lengths is indexed by rank;
// the total output size is outHdr.PreambleSize() plus the sum of lengths.
func resolveOffsets(ctx context.Context, c comm.Communicator, src *Reader, rng PointRange, outHdr Header) (int64, int64, []int64, error) {
	probe, err := NewProbeWriter(outHdr)
	if err != nil {
		return 0, 0, nil, err
	}
	probeBytes, err := copyRange(src, probe, rng)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("probe pass: %w", err)
	}
	if _, err := probe.Close(); err != nil {
		return 0, 0, nil, fmt.Errorf("probe pass: %w", err)
	}

	lengths, err := comm.AllGatherInt64(ctx, c, probeBytes)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("length exchange: %w", err)
	}

	return offsetForRank(outHdr.PreambleSize(), lengths, c.Rank()), probeBytes, lengths, nil
}

// offsetForRank prefix-sums the rank-ordered byte lengths into one worker's
// absolute write offset. Regions abut: rank i+1 starts exactly where rank
// i's bytes end.
func offsetForRank(preamble int64, lengths []int64, rank comm.WorkerID) int64 {
	offset := preamble
	for _, n := range lengths[:rank] {
		offset += n
	}
	return offset
}
