package plaszip

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/jwend/plaszip/comm"
	plaserrors "github.com/jwend/plaszip/errors"
)

// Stats reports what one worker produced during a conversion.
type Stats struct {
	Rank         comm.WorkerID
	Direction    Direction
	Range        PointRange
	BytesWritten int64
	Chunks       int
}

// Convert runs one worker's share of a conversion. Every worker in the
// group must call Convert with the same paths and options; the direction is
// taken from the input file's header (flat input compresses, chunked input
// decompresses).
//
// The protocol is phase-separated: probe pass and offset exchange, then the
// parallel commit pass into the shared output file, then (when compressing)
// the chunk-table gather and single table write by the highest rank. A
// barrier ends every phase, so no worker acts on global state before all
// workers have finished producing it. Any error on any worker is fatal to
// the whole group; cancelling ctx unblocks workers stalled in collectives.
func Convert(ctx context.Context, c comm.Communicator, inPath, outPath string, opts ...Option) (*Stats, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if filepath.Clean(inPath) == filepath.Clean(outPath) {
		return nil, fmt.Errorf("%w: %s", plaserrors.ErrSameFile, inPath)
	}

	src, err := OpenWithCache(inPath, cfg.cacheSize)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dir := Compress
	outHdr := NewChunkedHeader(src.Count(), cfg.chunkSize, cfg.codec, cfg.checksum)
	partChunk := cfg.chunkSize
	if src.Header().Chunked {
		dir = Decompress
		outHdr = NewFlatHeader(src.Count())
		partChunk = src.Header().ChunkSize
	}

	rng, err := PartitionPoints(src.Count(), partChunk, c.Size(), int(c.Rank()), dir)
	if err != nil {
		return nil, err
	}
	log := cfg.logger.With("rank", int(c.Rank()), "direction", dir.String())
	log.Debug("partitioned", "start", rng.Start, "end", rng.End)

	offset, probeBytes, lengths, err := resolveOffsets(ctx, c, src, rng, outHdr)
	if err != nil {
		return nil, err
	}
	totalSize := outHdr.PreambleSize()
	for _, n := range lengths {
		totalSize += n
	}
	log.Debug("resolved offset", "offset", offset, "bytes", probeBytes, "file_size", totalSize)

	f, w, err := openOutput(ctx, c, outPath, outHdr, offset, totalSize)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	chunkSizes, err := commitRange(src, w, rng, probeBytes)
	if err != nil {
		return nil, err
	}
	// All point data must be on disk before the finalizer writes the table
	// and before anyone reports success.
	if err := comm.Barrier(ctx, c); err != nil {
		return nil, err
	}
	log.Debug("committed", "chunks", len(chunkSizes))

	if dir == Compress {
		if err := reconstructChunkTable(ctx, c, w, outHdr, chunkSizes, w.TableSlotPos()); err != nil {
			return nil, err
		}
		if err := comm.Barrier(ctx, c); err != nil {
			return nil, err
		}
	}

	if _, err := w.Close(); err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close output: %w", err)
	}

	log.Info("conversion complete", "points", rng.Count(), "bytes", probeBytes)
	return &Stats{
		Rank:         c.Rank(),
		Direction:    dir,
		Range:        rng,
		BytesWritten: probeBytes,
		Chunks:       len(chunkSizes),
	}, nil
}

// RunLocal converts a file with an in-process group of workers, one
// goroutine per rank over the channel transport. Stats are indexed by rank.
// On failure the first error is returned and the remaining workers are
// cancelled rather than left stalled in a collective.
func RunLocal(ctx context.Context, workers int, inPath, outPath string, opts ...Option) ([]*Stats, error) {
	if workers < 1 {
		return nil, fmt.Errorf("%w: %d workers", plaserrors.ErrInvalidRank, workers)
	}

	group := comm.NewLocalGroup(workers)
	stats := make([]*Stats, workers)

	g, gctx := errgroup.WithContext(ctx)
	for rank, c := range group {
		g.Go(func() error {
			defer c.Close()
			s, err := Convert(gctx, c, inPath, outPath, opts...)
			if err != nil {
				return fmt.Errorf("rank %d: %w", rank, err)
			}
			stats[rank] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

// Direction of an existing container file, from its header. Convenience for
// callers that branch before converting.
func FileDirection(path string) (Direction, error) {
	src, err := Open(path)
	if err != nil {
		return 0, err
	}
	chunked := src.Header().Chunked
	if err := src.Close(); err != nil {
		return 0, err
	}
	if chunked {
		return Decompress, nil
	}
	return Compress, nil
}
