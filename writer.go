package plaszip

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	plaserrors "github.com/jwend/plaszip/errors"
)

// Writer produces a container file point by point.
//
// A probe writer (NewProbeWriter) measures the exact number of output bytes a
// point sequence would produce without persisting anything: it writes into a
// virtual counting sink positioned after the preamble. A commit writer
// (NewWriter) writes real bytes into an io.WriteSeeker, typically an *os.File
// pre-positioned at the worker's byte offset.
//
// Compression is a pure function of the chunk's record bytes, so a probe pass
// and a commit pass over the same points report identical byte counts. Each
// Writer owns its own encoder; no compressor state survives between writers.
type Writer struct {
	target io.WriteSeeker
	hdr    Header
	enc    *zstd.Encoder

	// current chunk accumulation (chunked files only)
	records   []byte
	bufPoints uint32

	chunkSizes []uint32
	pos        int64

	// chunk table metadata, set via SetChunkTable
	tableCount   uint32
	tableSlotPos int64
	tableSizes   []uint32

	recBuf [RecordLen]byte
	closed bool
}

// NewProbeWriter returns a writer that discards payload while advancing a
// virtual cursor, positioned as if the preamble had just been written.
func NewProbeWriter(hdr Header) (*Writer, error) {
	w, err := newWriter(&countingSeeker{}, hdr)
	if err != nil {
		return nil, err
	}
	if err := w.SeekTo(hdr.PreambleSize()); err != nil {
		return nil, err
	}
	return w, nil
}

// NewWriter returns a commit-mode writer over target. If writeHeader is set,
// the header (and, for chunked files, a zeroed chunk-table slot) is written at
// the target's current position, which must be the start of the file.
// Otherwise the writer adopts the target's current position.
func NewWriter(target io.WriteSeeker, hdr Header, writeHeader bool) (*Writer, error) {
	w, err := newWriter(target, hdr)
	if err != nil {
		return nil, err
	}

	pos, err := target.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("writer position: %w", err)
	}
	w.pos = pos

	if writeHeader {
		if err := w.writePreamble(); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func newWriter(target io.WriteSeeker, hdr Header) (*Writer, error) {
	w := &Writer{
		target: target,
		hdr:    hdr,
	}
	if hdr.Chunked {
		w.records = make([]byte, 0, int(hdr.ChunkSize)*RecordLen)
		if hdr.Codec == CodecZstd {
			enc, err := newZstdEncoder()
			if err != nil {
				return nil, fmt.Errorf("zstd encoder: %w", err)
			}
			w.enc = enc
		}
	}
	return w, nil
}

// writePreamble emits the header and, for chunked files, the zeroed
// chunk-table slot.
func (w *Writer) writePreamble() error {
	buf := make([]byte, w.hdr.PreambleSize())
	w.hdr.encodeTo(buf)
	return w.write(buf)
}

// TableSlotPos returns the absolute offset of the chunk-table position slot.
func (w *Writer) TableSlotPos() int64 {
	return HeaderSize
}

// Tell returns the current byte position in the output.
func (w *Writer) Tell() int64 {
	return w.pos
}

// SeekTo positions the underlying sink at an absolute byte offset.
func (w *Writer) SeekTo(off int64) error {
	if w.closed {
		return plaserrors.ErrWriterClosed
	}
	if _, err := w.target.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("writer seek: %w", err)
	}
	w.pos = off
	return nil
}

// WritePoint appends one point. For chunked files the point is buffered and
// the chunk is flushed once ChunkSize points have accumulated; for flat files
// the record is written immediately.
func (w *Writer) WritePoint(p Point) error {
	if w.closed {
		return plaserrors.ErrWriterClosed
	}

	if !w.hdr.Chunked {
		p.EncodeTo(w.recBuf[:])
		return w.write(w.recBuf[:])
	}

	p.EncodeTo(w.recBuf[:])
	w.records = append(w.records, w.recBuf[:]...)
	w.bufPoints++
	if w.bufPoints == w.hdr.ChunkSize {
		return w.flushChunk()
	}
	return nil
}

// FinalizeChunk flushes the current partial chunk, if any. It must be called
// after the final point of a worker's range so trailing partial chunks are
// counted. No-op for flat files.
func (w *Writer) FinalizeChunk() error {
	if w.closed {
		return plaserrors.ErrWriterClosed
	}
	if !w.hdr.Chunked || w.bufPoints == 0 {
		return nil
	}
	return w.flushChunk()
}

func (w *Writer) flushChunk() error {
	frame, err := encodeChunk(w.records, w.hdr.Codec, w.enc)
	if err != nil {
		return err
	}
	if cs := w.hdr.Checksum; cs != ChecksumNone {
		var digest [checksumSize]byte
		binary.LittleEndian.PutUint64(digest[:], cs.Sum(frame[chunkFrameSize:]))
		frame = append(frame, digest[:]...)
	}
	if err := w.write(frame); err != nil {
		return err
	}
	w.chunkSizes = append(w.chunkSizes, uint32(len(frame)))
	w.records = w.records[:0]
	w.bufPoints = 0
	return nil
}

// ChunkSizes returns the byte sizes of the chunks finalized so far, in the
// order they were produced.
func (w *Writer) ChunkSizes() []uint32 {
	out := make([]uint32, len(w.chunkSizes))
	copy(out, w.chunkSizes)
	return out
}

// SetChunkTable installs the table metadata written by WriteChunkTable:
// the global chunk count, the absolute offset of the table slot, and the
// combined chunk sizes in global order.
func (w *Writer) SetChunkTable(total uint32, slotPos int64, sizes []uint32) {
	w.tableCount = total
	w.tableSlotPos = slotPos
	w.tableSizes = sizes
}

// WriteChunkTable serializes the chunk table at the current position and
// back-patches the table slot with the table's absolute offset. The caller
// must have installed the combined table via SetChunkTable first.
func (w *Writer) WriteChunkTable() error {
	if w.closed {
		return plaserrors.ErrWriterClosed
	}
	if uint32(len(w.tableSizes)) != w.tableCount {
		return fmt.Errorf("%w: %d sizes for %d chunks",
			plaserrors.ErrCorruptedChunkTable, len(w.tableSizes), w.tableCount)
	}

	tablePos := w.pos
	buf := encodeChunkTable(w.tableSizes, w.hdr.Checksum)
	if err := w.write(buf); err != nil {
		return err
	}

	end := w.pos
	if err := w.SeekTo(w.tableSlotPos); err != nil {
		return err
	}
	var slot [TableSlotSize]byte
	binary.LittleEndian.PutUint64(slot[:], uint64(tablePos))
	if err := w.write(slot[:]); err != nil {
		return err
	}
	return w.SeekTo(end)
}

// Close finalizes the writer and returns the final byte position. Any
// buffered partial chunk must have been flushed via FinalizeChunk; Close does
// not flush implicitly because probe and commit passes flush explicitly.
func (w *Writer) Close() (int64, error) {
	if w.closed {
		return 0, plaserrors.ErrWriterClosed
	}
	w.closed = true
	if w.enc != nil {
		w.enc.Close()
		w.enc = nil
	}
	if w.bufPoints != 0 {
		return w.pos, fmt.Errorf("%w: %d points left unflushed",
			plaserrors.ErrCorruptedChunkTable, w.bufPoints)
	}
	return w.pos, nil
}

func (w *Writer) write(buf []byte) error {
	n, err := w.target.Write(buf)
	w.pos += int64(n)
	if err != nil {
		return fmt.Errorf("writer write: %w", err)
	}
	return nil
}

// encodeChunkTable serializes [count u32][size u32 × count] plus a digest of
// the size entries when checksums are enabled.
func encodeChunkTable(sizes []uint32, cs Checksum) []byte {
	buf := make([]byte, 4+4*len(sizes)+cs.Size())
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(sizes)))
	for i, s := range sizes {
		binary.LittleEndian.PutUint32(buf[4+4*i:], s)
	}
	if cs != ChecksumNone {
		binary.LittleEndian.PutUint64(buf[4+4*len(sizes):], cs.Sum(buf[:4+4*len(sizes)]))
	}
	return buf
}

// countingSeeker is a discard sink that tracks a virtual write cursor, used
// by probe passes to measure output size without touching the filesystem.
type countingSeeker struct {
	pos  int64
	size int64
}

func (c *countingSeeker) Write(p []byte) (int, error) {
	c.pos += int64(len(p))
	if c.pos > c.size {
		c.size = c.pos
	}
	return len(p), nil
}

func (c *countingSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = c.pos + offset
	case io.SeekEnd:
		abs = c.size + offset
	default:
		return 0, fmt.Errorf("countingSeeker: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("countingSeeker: negative position")
	}
	c.pos = abs
	if c.pos > c.size {
		c.size = c.pos
	}
	return abs, nil
}
