package comm

import (
	"context"
	"fmt"

	plaserrors "github.com/jwend/plaszip/errors"
)

// frame is one point-to-point transfer.
type frame struct {
	tag     Tag
	payload []byte
}

// localComm is the in-process transport: one goroutine per worker, every
// ordered (src, dst) pair connected by its own channel. Workers still share
// nothing but messages; the channel is the wire.
type localComm struct {
	rank  WorkerID
	size  int
	wires [][]chan frame // wires[src][dst]
}

// NewLocalGroup creates a worker group of the given size living in a single
// process, one Communicator per rank. Used by single-machine runs and tests.
func NewLocalGroup(size int) []Communicator {
	if size <= 0 {
		panic("comm: group size must be positive")
	}

	wires := make([][]chan frame, size)
	for src := range wires {
		wires[src] = make([]chan frame, size)
		for dst := range wires[src] {
			// Capacity 1 lets a sender queue one frame without rendezvous,
			// so the length+payload pair in GatherVar does not serialize
			// the whole group on the root's consumption order.
			wires[src][dst] = make(chan frame, 1)
		}
	}

	group := make([]Communicator, size)
	for rank := range group {
		group[rank] = &localComm{rank: WorkerID(rank), size: size, wires: wires}
	}
	return group
}

func (l *localComm) Rank() WorkerID { return l.rank }
func (l *localComm) Size() int      { return l.size }

func (l *localComm) Send(ctx context.Context, dst WorkerID, tag Tag, payload []byte) error {
	if int(dst) < 0 || int(dst) >= l.size {
		return fmt.Errorf("%w: send to %v in group of %d", plaserrors.ErrInvalidRank, dst, l.size)
	}
	// Copy so the sender may reuse its buffer immediately.
	f := frame{tag: tag, payload: append([]byte(nil), payload...)}
	select {
	case l.wires[l.rank][dst] <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *localComm) Recv(ctx context.Context, src WorkerID, tag Tag) ([]byte, error) {
	if int(src) < 0 || int(src) >= l.size {
		return nil, fmt.Errorf("%w: receive from %v in group of %d", plaserrors.ErrInvalidRank, src, l.size)
	}
	select {
	case f := <-l.wires[src][l.rank]:
		if f.tag != tag {
			return nil, fmt.Errorf("%w: %v sent tag %#x, expected %#x",
				plaserrors.ErrCollectiveMismatch, src, uint32(f.tag), uint32(tag))
		}
		return f.payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *localComm) Close() error { return nil }
