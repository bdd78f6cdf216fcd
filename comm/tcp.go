package comm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	plaserrors "github.com/jwend/plaszip/errors"
)

const (
	// helloMagic opens the rank handshake on every mesh connection.
	helloMagic = uint32(0x504C5A43)

	// dialRetryInterval is how long a dialer waits before retrying a peer
	// that is not listening yet.
	dialRetryInterval = 100 * time.Millisecond

	// maxFrameSize bounds a single transfer (a chunk-size list for ~268M
	// chunks); anything larger indicates a corrupted frame header.
	maxFrameSize = 1 << 30
)

// tcpComm is the multi-process transport: a full mesh of TCP connections,
// one per peer pair. Rank i accepts connections from higher ranks and dials
// lower ranks, so every pair connects exactly once.
//
// Frames are [tag u32][len u32][payload], little-endian. Reads and writes on
// a peer connection are serialized per direction; the protocol's workers are
// single-threaded so this never contends.
type tcpComm struct {
	rank  WorkerID
	size  int
	peers []*peerConn // indexed by rank; peers[rank] is nil
}

type peerConn struct {
	conn net.Conn
	rmu  sync.Mutex
	wmu  sync.Mutex
}

// DialMesh establishes the full mesh for this worker. addrs lists every
// worker's listen address in rank order; len(addrs) is the group size.
// The call blocks until all peer connections are up or ctx is done. Peers may
// start in any order; dialing retries until the peer's listener appears.
func DialMesh(ctx context.Context, rank int, addrs []string) (Communicator, error) {
	size := len(addrs)
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("%w: rank %d in group of %d", plaserrors.ErrInvalidRank, rank, size)
	}

	c := &tcpComm{rank: WorkerID(rank), size: size, peers: make([]*peerConn, size)}
	if size == 1 {
		return c, nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addrs[rank])
	if err != nil {
		return nil, fmt.Errorf("mesh listen on %s: %w", addrs[rank], err)
	}
	defer ln.Close()

	if err := c.connectMesh(ctx, ln, addrs); err != nil {
		return nil, errors.Join(err, c.Close())
	}
	return c, nil
}

// connectMesh accepts connections from all higher ranks while dialing all
// lower ranks, then verifies the mesh is complete.
func (c *tcpComm) connectMesh(ctx context.Context, ln net.Listener, addrs []string) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- c.acceptPeers(ln) }()

	dialer := net.Dialer{}
	for peer := 0; peer < int(c.rank); peer++ {
		conn, err := dialPeer(ctx, &dialer, addrs[peer])
		if err != nil {
			return fmt.Errorf("dial rank %d at %s: %w", peer, addrs[peer], err)
		}
		var hello [8]byte
		binary.LittleEndian.PutUint32(hello[0:4], helloMagic)
		binary.LittleEndian.PutUint32(hello[4:8], uint32(c.rank))
		if _, err := conn.Write(hello[:]); err != nil {
			return errors.Join(fmt.Errorf("handshake with rank %d: %w", peer, err), conn.Close())
		}
		c.peers[peer] = &peerConn{conn: conn}
	}

	if err := <-acceptErr; err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	for peer := range c.peers {
		if peer != int(c.rank) && c.peers[peer] == nil {
			return fmt.Errorf("mesh incomplete: no connection to rank %d", peer)
		}
	}
	return nil
}

// acceptPeers accepts and handshakes one connection from every higher rank.
func (c *tcpComm) acceptPeers(ln net.Listener) error {
	for accepted := 0; accepted < c.size-1-int(c.rank); accepted++ {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("mesh accept: %w", err)
		}
		var hello [8]byte
		if _, err := io.ReadFull(conn, hello[:]); err != nil {
			return errors.Join(fmt.Errorf("mesh handshake read: %w", err), conn.Close())
		}
		if binary.LittleEndian.Uint32(hello[0:4]) != helloMagic {
			return errors.Join(fmt.Errorf("mesh handshake: bad magic"), conn.Close())
		}
		peer := WorkerID(binary.LittleEndian.Uint32(hello[4:8]))
		if !c.rank.Before(peer) || int(peer) >= c.size || c.peers[peer] != nil {
			return errors.Join(fmt.Errorf("%w: unexpected handshake from %v",
				plaserrors.ErrInvalidRank, peer), conn.Close())
		}
		c.peers[peer] = &peerConn{conn: conn}
	}
	return nil
}

// dialPeer retries until the peer's listener is up or ctx is done.
func dialPeer(ctx context.Context, dialer *net.Dialer, addr string) (net.Conn, error) {
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		select {
		case <-time.After(dialRetryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *tcpComm) Rank() WorkerID { return c.rank }
func (c *tcpComm) Size() int      { return c.size }

func (c *tcpComm) peer(id WorkerID) (*peerConn, error) {
	if int(id) < 0 || int(id) >= c.size || id == c.rank {
		return nil, fmt.Errorf("%w: peer %v in group of %d", plaserrors.ErrInvalidRank, id, c.size)
	}
	p := c.peers[id]
	if p == nil {
		return nil, plaserrors.ErrGroupClosed
	}
	return p, nil
}

func (c *tcpComm) Send(ctx context.Context, dst WorkerID, tag Tag, payload []byte) error {
	p, err := c.peer(dst)
	if err != nil {
		return err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	stop := context.AfterFunc(ctx, func() { p.conn.SetWriteDeadline(time.Now()) })
	defer stop()

	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(tag))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	if _, err := p.conn.Write(hdr[:]); err != nil {
		return c.transportErr(ctx, dst, err)
	}
	if len(payload) > 0 {
		if _, err := p.conn.Write(payload); err != nil {
			return c.transportErr(ctx, dst, err)
		}
	}
	return nil
}

func (c *tcpComm) Recv(ctx context.Context, src WorkerID, tag Tag) ([]byte, error) {
	p, err := c.peer(src)
	if err != nil {
		return nil, err
	}

	p.rmu.Lock()
	defer p.rmu.Unlock()

	stop := context.AfterFunc(ctx, func() { p.conn.SetReadDeadline(time.Now()) })
	defer stop()

	var hdr [8]byte
	if _, err := io.ReadFull(p.conn, hdr[:]); err != nil {
		return nil, c.transportErr(ctx, src, err)
	}
	gotTag := Tag(binary.LittleEndian.Uint32(hdr[0:4]))
	size := binary.LittleEndian.Uint32(hdr[4:8])
	if gotTag != tag {
		return nil, fmt.Errorf("%w: %v sent tag %#x, expected %#x",
			plaserrors.ErrCollectiveMismatch, src, uint32(gotTag), uint32(tag))
	}
	if size > maxFrameSize {
		return nil, fmt.Errorf("%w: %v announced %d-byte frame",
			plaserrors.ErrCollectiveMismatch, src, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(p.conn, payload); err != nil {
		return nil, c.transportErr(ctx, src, err)
	}
	return payload, nil
}

// transportErr maps a connection error to ctx.Err() when the deadline was
// forced by cancellation.
func (c *tcpComm) transportErr(ctx context.Context, peer WorkerID, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("transport to %v: %w", peer, err)
}

func (c *tcpComm) Close() error {
	var errs []error
	for i, p := range c.peers {
		if p == nil {
			continue
		}
		c.peers[i] = nil
		if err := p.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
