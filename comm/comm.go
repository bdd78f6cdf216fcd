// Package comm provides the communication substrate for a fixed-size group of
// cooperating workers: blocking point-to-point send/receive plus the
// collective operations the conversion protocol is built on.
//
// Two transports are provided: an in-process channel group (NewLocalGroup)
// and a TCP full mesh (DialMesh). Collectives are implemented once, on top of
// the point-to-point layer, so they behave identically on both.
//
// Message matching is strict: a receive names its source and tag, and a frame
// arriving with a different tag is a protocol error, not a reorder. The
// conversion protocol is phase-separated by barriers, so per-peer traffic is
// always consumed in the order it was sent.
package comm

import (
	"context"
	"encoding/binary"
	"fmt"

	plaserrors "github.com/jwend/plaszip/errors"
)

// WorkerID is a worker's rank: its position in the group's total order.
// Output byte regions and chunk-table entries are ordered by WorkerID, so it
// is a distinct type rather than a bare array index.
type WorkerID int

// Before reports whether id precedes other in the group's total order.
func (id WorkerID) Before(other WorkerID) bool {
	return id < other
}

func (id WorkerID) String() string {
	return fmt.Sprintf("rank %d", int(id))
}

// Tag labels a point-to-point transfer by purpose.
type Tag uint32

// Reserved tags used by the collective implementations. Application tags must
// stay below tagReserved.
const (
	tagReserved Tag = 0xFFFF0000

	tagBarrierArrive Tag = tagReserved + iota
	tagBarrierRelease
	tagGather
	tagGatherVarLen
	tagGatherVarPayload
	tagBroadcast
)

// Communicator is one worker's handle on the group.
//
// Send blocks until the transfer is accepted by the transport; Recv blocks
// until a frame from src arrives. Neither is safe for concurrent use with
// itself on the same peer; workers in this protocol are single-threaded.
type Communicator interface {
	Rank() WorkerID
	Size() int
	Send(ctx context.Context, dst WorkerID, tag Tag, payload []byte) error
	Recv(ctx context.Context, src WorkerID, tag Tag) ([]byte, error)
	Close() error
}

// Barrier blocks until every worker in the group has entered it.
func Barrier(ctx context.Context, c Communicator) error {
	size := c.Size()
	if size == 1 {
		return nil
	}
	if c.Rank() == 0 {
		for src := WorkerID(1); int(src) < size; src++ {
			if _, err := c.Recv(ctx, src, tagBarrierArrive); err != nil {
				return fmt.Errorf("barrier arrive from %v: %w", src, err)
			}
		}
		for dst := WorkerID(1); int(dst) < size; dst++ {
			if err := c.Send(ctx, dst, tagBarrierRelease, nil); err != nil {
				return fmt.Errorf("barrier release to %v: %w", dst, err)
			}
		}
		return nil
	}
	if err := c.Send(ctx, 0, tagBarrierArrive, nil); err != nil {
		return fmt.Errorf("barrier arrive: %w", err)
	}
	if _, err := c.Recv(ctx, 0, tagBarrierRelease); err != nil {
		return fmt.Errorf("barrier release: %w", err)
	}
	return nil
}

// Gather collects a fixed-size value from every worker at root. On root the
// result is indexed by rank; on other workers it is nil. All contributions
// must have the same length; a length disagreement is a fatal collective
// mismatch.
func Gather(ctx context.Context, c Communicator, local []byte, root WorkerID) ([][]byte, error) {
	if c.Rank() != root {
		if err := c.Send(ctx, root, tagGather, local); err != nil {
			return nil, fmt.Errorf("gather to %v: %w", root, err)
		}
		return nil, nil
	}

	out := make([][]byte, c.Size())
	out[root] = append([]byte(nil), local...)
	for src := WorkerID(0); int(src) < c.Size(); src++ {
		if src == root {
			continue
		}
		payload, err := c.Recv(ctx, src, tagGather)
		if err != nil {
			return nil, fmt.Errorf("gather from %v: %w", src, err)
		}
		if len(payload) != len(local) {
			return nil, fmt.Errorf("%w: gather from %v carried %d bytes, expected %d",
				plaserrors.ErrCollectiveMismatch, src, len(payload), len(local))
		}
		out[src] = payload
	}
	return out, nil
}

// Broadcast distributes root's payload to every worker and returns it.
func Broadcast(ctx context.Context, c Communicator, payload []byte, root WorkerID) ([]byte, error) {
	if c.Rank() == root {
		for dst := WorkerID(0); int(dst) < c.Size(); dst++ {
			if dst == root {
				continue
			}
			if err := c.Send(ctx, dst, tagBroadcast, payload); err != nil {
				return nil, fmt.Errorf("broadcast to %v: %w", dst, err)
			}
		}
		return payload, nil
	}
	payload, err := c.Recv(ctx, root, tagBroadcast)
	if err != nil {
		return nil, fmt.Errorf("broadcast from %v: %w", root, err)
	}
	return payload, nil
}

// AllGather collects a fixed-size value from every worker and distributes the
// rank-ordered result to all of them.
func AllGather(ctx context.Context, c Communicator, local []byte) ([][]byte, error) {
	parts, err := Gather(ctx, c, local, 0)
	if err != nil {
		return nil, err
	}

	var buf []byte
	if c.Rank() == 0 {
		buf = make([]byte, 0, c.Size()*len(local))
		for _, p := range parts {
			buf = append(buf, p...)
		}
	}
	buf, err = Broadcast(ctx, c, buf, 0)
	if err != nil {
		return nil, err
	}
	if len(local) == 0 || len(buf) != c.Size()*len(local) {
		return nil, fmt.Errorf("%w: all-gather of %d-byte values returned %d bytes",
			plaserrors.ErrCollectiveMismatch, len(local), len(buf))
	}

	out := make([][]byte, c.Size())
	for i := range out {
		out[i] = buf[i*len(local) : (i+1)*len(local)]
	}
	return out, nil
}

// GatherVar collects a variable-length payload from every worker at root:
// a fixed-size length gather followed by point-to-point payload transfers.
// This is the building block fixed-size Gather cannot provide, since
// contributions may differ in length per rank.
func GatherVar(ctx context.Context, c Communicator, local []byte, root WorkerID) ([][]byte, error) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(local)))

	if c.Rank() != root {
		if err := c.Send(ctx, root, tagGatherVarLen, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("length gather to %v: %w", root, err)
		}
		if err := c.Send(ctx, root, tagGatherVarPayload, local); err != nil {
			return nil, fmt.Errorf("payload transfer to %v: %w", root, err)
		}
		return nil, nil
	}

	out := make([][]byte, c.Size())
	out[root] = append([]byte(nil), local...)
	for src := WorkerID(0); int(src) < c.Size(); src++ {
		if src == root {
			continue
		}
		lenPayload, err := c.Recv(ctx, src, tagGatherVarLen)
		if err != nil {
			return nil, fmt.Errorf("length gather from %v: %w", src, err)
		}
		if len(lenPayload) != 4 {
			return nil, fmt.Errorf("%w: length gather from %v carried %d bytes",
				plaserrors.ErrCollectiveMismatch, src, len(lenPayload))
		}
		want := binary.LittleEndian.Uint32(lenPayload)

		payload, err := c.Recv(ctx, src, tagGatherVarPayload)
		if err != nil {
			return nil, fmt.Errorf("payload transfer from %v: %w", src, err)
		}
		if uint32(len(payload)) != want {
			return nil, fmt.Errorf("%w: %v announced %d payload bytes, sent %d",
				plaserrors.ErrCollectiveMismatch, src, want, len(payload))
		}
		out[src] = payload
	}
	return out, nil
}

// AllGatherInt64 all-gathers one int64 per worker, indexed by rank.
func AllGatherInt64(ctx context.Context, c Communicator, v int64) ([]int64, error) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	parts, err := AllGather(ctx, c, buf[:])
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(parts))
	for i, p := range parts {
		out[i] = int64(binary.LittleEndian.Uint64(p))
	}
	return out, nil
}

// GatherUint32 gathers one uint32 per worker at root, indexed by rank.
// Non-root workers receive nil.
func GatherUint32(ctx context.Context, c Communicator, v uint32, root WorkerID) ([]uint32, error) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	parts, err := Gather(ctx, c, buf[:], root)
	if err != nil || parts == nil {
		return nil, err
	}
	out := make([]uint32, len(parts))
	for i, p := range parts {
		out[i] = binary.LittleEndian.Uint32(p)
	}
	return out, nil
}

// EncodeUint32s serializes a uint32 slice little-endian for transfer.
func EncodeUint32s(vs []uint32) []byte {
	buf := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[4*i:], v)
	}
	return buf
}

// DecodeUint32s reverses EncodeUint32s.
func DecodeUint32s(buf []byte) ([]uint32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("%w: %d is not a whole number of uint32s",
			plaserrors.ErrCollectiveMismatch, len(buf))
	}
	out := make([]uint32, len(buf)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	return out, nil
}
