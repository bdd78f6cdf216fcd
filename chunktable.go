package plaszip

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/jwend/plaszip/comm"
	plaserrors "github.com/jwend/plaszip/errors"
)

// tagTableSlotPos carries the chunk-table slot offset from rank 0, which
// wrote the preamble, to the finalizing worker.
const tagTableSlotPos comm.Tag = 1

// finalizerRank returns the worker that assembles and writes the chunk
// table: the highest rank. After the commit barrier its file cursor sits at
// the end of the point data, which is exactly where the table goes.
func finalizerRank(c comm.Communicator) comm.WorkerID {
	return comm.WorkerID(c.Size() - 1)
}

// reconstructChunkTable gathers every worker's ordered chunk-size list at
// the finalizer, concatenates them in rank order, and writes the unified
// table through the finalizer's writer. slotPos is meaningful on rank 0
// only; it travels to the finalizer point-to-point. w is used by the
// finalizer only and must be positioned at the end of the point data.
//
// All validation happens before the table write: a count or size
// disagreement aborts the job without touching the file, so a failed run
// never leaves a partially written table.
func reconstructChunkTable(ctx context.Context, c comm.Communicator, w *Writer, hdr Header, chunkSizes []uint32, slotPos int64) error {
	finalizer := finalizerRank(c)

	counts, err := comm.GatherUint32(ctx, c, uint32(len(chunkSizes)), finalizer)
	if err != nil {
		return fmt.Errorf("chunk count gather: %w", err)
	}
	parts, err := comm.GatherVar(ctx, c, comm.EncodeUint32s(chunkSizes), finalizer)
	if err != nil {
		return fmt.Errorf("chunk size gather: %w", err)
	}

	// Slot position travels from the preamble writer to the finalizer.
	switch {
	case c.Size() == 1:
		// Rank 0 is the finalizer; slotPos is already local.
	case c.Rank() == 0:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(slotPos))
		if err := c.Send(ctx, finalizer, tagTableSlotPos, buf[:]); err != nil {
			return fmt.Errorf("table slot send: %w", err)
		}
	case c.Rank() == finalizer:
		buf, err := c.Recv(ctx, 0, tagTableSlotPos)
		if err != nil {
			return fmt.Errorf("table slot recv: %w", err)
		}
		if len(buf) != 8 {
			return fmt.Errorf("%w: table slot position carried %d bytes",
				plaserrors.ErrCollectiveMismatch, len(buf))
		}
		slotPos = int64(binary.LittleEndian.Uint64(buf))
	}

	if c.Rank() != finalizer {
		return nil
	}

	var total uint32
	combined := make([]uint32, 0, hdr.NumChunks())
	for rank, part := range parts {
		sizes, err := comm.DecodeUint32s(part)
		if err != nil {
			return fmt.Errorf("chunk sizes from rank %d: %w", rank, err)
		}
		if uint32(len(sizes)) != counts[rank] {
			return fmt.Errorf("%w: rank %d announced %d chunks, sent %d",
				plaserrors.ErrCollectiveMismatch, rank, counts[rank], len(sizes))
		}
		combined = append(combined, sizes...)
		total += counts[rank]
	}
	if total != hdr.NumChunks() {
		return fmt.Errorf("%w: gathered %d chunks, header expects %d",
			plaserrors.ErrCollectiveMismatch, total, hdr.NumChunks())
	}

	w.SetChunkTable(total, slotPos, combined)
	if err := w.WriteChunkTable(); err != nil {
		return fmt.Errorf("write chunk table: %w", err)
	}
	return nil
}
