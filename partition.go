package plaszip

import (
	"fmt"

	plaserrors "github.com/jwend/plaszip/errors"
)

// Direction selects which way a conversion runs.
type Direction int

const (
	// Compress converts flat records into a chunked container.
	Compress Direction = iota
	// Decompress converts a chunked container back into flat records.
	Decompress
)

func (d Direction) String() string {
	switch d {
	case Compress:
		return "compress"
	case Decompress:
		return "decompress"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// PointRange is a half-open range [Start, End) of point indices assigned to
// one worker.
type PointRange struct {
	Start uint64
	End   uint64
}

// Count returns the number of points in the range.
func (r PointRange) Count() uint64 {
	return r.End - r.Start
}

// Ranges computes every worker's point range for a conversion. The result is
// a pure function of its arguments, so all workers compute identical ranges
// without communicating.
//
// For Compress, ranges are chunk-aligned: whole chunks are distributed as
// evenly as possible, the first totalChunks%worldSize workers receive one
// extra chunk, and the final partial chunk (if any) goes to the last worker.
// Every worker except the last therefore starts and ends on a chunk
// boundary, which is what lets chunks be encoded independently. When there
// are fewer whole chunks than workers, Ranges fails with ErrTooFewChunks
// rather than assigning empty ranges.
//
// For Decompress, points are split evenly with the remainder going to the
// last worker. Output records are fixed-size, so no alignment is needed.
func Ranges(totalPoints uint64, chunkSize uint32, worldSize int, dir Direction) ([]PointRange, error) {
	if worldSize < 1 {
		return nil, fmt.Errorf("%w: world size %d", plaserrors.ErrInvalidRank, worldSize)
	}
	if totalPoints == 0 {
		return nil, plaserrors.ErrEmptyInput
	}

	ranges := make([]PointRange, worldSize)

	switch dir {
	case Compress:
		if chunkSize == 0 {
			return nil, fmt.Errorf("plaszip: chunk size must be positive")
		}
		totalChunks := totalPoints / uint64(chunkSize)
		if totalChunks < uint64(worldSize) {
			return nil, fmt.Errorf("%w: %d whole chunks for %d workers (total %d points, chunk size %d)",
				plaserrors.ErrTooFewChunks, totalChunks, worldSize, totalPoints, chunkSize)
		}
		baseChunks := totalChunks / uint64(worldSize)
		extraChunks := totalChunks % uint64(worldSize)

		var start uint64
		for i := range ranges {
			chunks := baseChunks
			if uint64(i) < extraChunks {
				chunks++
			}
			end := start + chunks*uint64(chunkSize)
			ranges[i] = PointRange{Start: start, End: end}
			start = end
		}
		// The last worker absorbs the final partial chunk.
		ranges[worldSize-1].End = totalPoints

	case Decompress:
		base := totalPoints / uint64(worldSize)
		var start uint64
		for i := range ranges {
			end := start + base
			ranges[i] = PointRange{Start: start, End: end}
			start = end
		}
		ranges[worldSize-1].End = totalPoints

	default:
		return nil, fmt.Errorf("plaszip: unknown direction %d", int(dir))
	}

	return ranges, nil
}

// PartitionPoints returns the range assigned to one worker. It is
// Ranges(...)[rank] with bounds checking on rank.
func PartitionPoints(totalPoints uint64, chunkSize uint32, worldSize, rank int, dir Direction) (PointRange, error) {
	if rank < 0 || rank >= worldSize {
		return PointRange{}, fmt.Errorf("%w: rank %d of %d", plaserrors.ErrInvalidRank, rank, worldSize)
	}
	ranges, err := Ranges(totalPoints, chunkSize, worldSize, dir)
	if err != nil {
		return PointRange{}, err
	}
	return ranges[rank], nil
}
