package plaszip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"

	plaserrors "github.com/jwend/plaszip/errors"
)

// DefaultChunkCacheSize is the default number of decoded chunks kept in the
// reader's LRU cache.
const DefaultChunkCacheSize = 16

// Reader provides sequential and random access to a container file.
//
// The file is memory-mapped read-only; decoded chunks are cached in an LRU so
// that interleaved random access does not re-decompress the same chunk.
//
// Thread safety: a Reader carries a cursor and is not safe for concurrent
// use. Workers open independent Readers over the same file.
type Reader struct {
	mmap mmap.MMap
	data []byte
	hdr  *Header

	// chunked files: absolute chunk start offsets, one past the last chunk
	// included, so chunk i spans [chunkOffsets[i], chunkOffsets[i+1]).
	chunkOffsets []int64
	cache        *lru.Cache[uint32, []byte]
	dec          *zstd.Decoder

	// cursor
	cur         uint64
	curChunk    []byte
	curChunkIdx uint32

	closed bool
}

// Open memory-maps a container file and validates its header and, for
// chunked files, its chunk table.
func Open(path string) (*Reader, error) {
	return OpenWithCache(path, DefaultChunkCacheSize)
}

// OpenWithCache is Open with an explicit decoded-chunk cache capacity.
func OpenWithCache(path string, cacheSize int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("stat container: %w", err), f.Close())
	}
	if st.Size() < HeaderSize {
		return nil, errors.Join(plaserrors.ErrTruncatedFile, f.Close())
	}

	// Conversion reads each worker's range front to back.
	fadviseSequential(int(f.Fd()), 0, st.Size())

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("mmap container: %w", err), f.Close())
	}
	// The mapping stays valid without the descriptor.
	if err := f.Close(); err != nil {
		return nil, errors.Join(err, mm.Unmap())
	}

	r := &Reader{
		mmap: mm,
		data: []byte(mm),
	}

	hdr, err := DecodeHeader(r.data)
	if err != nil {
		return nil, errors.Join(err, mm.Unmap())
	}
	r.hdr = hdr

	if err := r.init(cacheSize); err != nil {
		return nil, errors.Join(err, mm.Unmap())
	}
	return r, nil
}

func (r *Reader) init(cacheSize int) error {
	if !r.hdr.Chunked {
		need := r.hdr.PreambleSize() + int64(r.hdr.TotalPoints)*RecordLen
		if int64(len(r.data)) < need {
			return plaserrors.ErrTruncatedFile
		}
		return nil
	}

	offsets, err := parseChunkTable(r.data, r.hdr)
	if err != nil {
		return err
	}
	r.chunkOffsets = offsets

	if cacheSize <= 0 {
		cacheSize = DefaultChunkCacheSize
	}
	cache, err := lru.New[uint32, []byte](cacheSize)
	if err != nil {
		return fmt.Errorf("chunk cache: %w", err)
	}
	r.cache = cache

	if r.hdr.Codec == CodecZstd {
		dec, err := newZstdDecoder()
		if err != nil {
			return fmt.Errorf("zstd decoder: %w", err)
		}
		r.dec = dec
	}
	return nil
}

// parseChunkTable locates the table via the slot, validates it, and returns
// absolute chunk start offsets (numChunks+1 entries; the last one is the
// table position, so every chunk's extent is known).
func parseChunkTable(data []byte, hdr *Header) ([]int64, error) {
	preamble := hdr.PreambleSize()
	if int64(len(data)) < preamble {
		return nil, plaserrors.ErrTruncatedFile
	}

	tablePos := int64(binary.LittleEndian.Uint64(data[HeaderSize : HeaderSize+TableSlotSize]))
	numChunks := hdr.NumChunks()
	tableLen := int64(4 + 4*numChunks + uint32(hdr.Checksum.Size()))
	if tablePos < preamble || tablePos+tableLen > int64(len(data)) {
		return nil, plaserrors.ErrCorruptedChunkTable
	}

	table := data[tablePos : tablePos+tableLen]
	count := binary.LittleEndian.Uint32(table[0:4])
	if count != numChunks {
		return nil, fmt.Errorf("%w: %d entries for %d chunks",
			plaserrors.ErrCorruptedChunkTable, count, numChunks)
	}
	if cs := hdr.Checksum; cs != ChecksumNone {
		want := binary.LittleEndian.Uint64(table[4+4*count:])
		if cs.Sum(table[:4+4*count]) != want {
			return nil, fmt.Errorf("%w: chunk table digest", plaserrors.ErrChecksumFailed)
		}
	}

	offsets := make([]int64, numChunks+1)
	pos := preamble
	for i := uint32(0); i < count; i++ {
		offsets[i] = pos
		pos += int64(binary.LittleEndian.Uint32(table[4+4*i:]))
	}
	offsets[numChunks] = pos
	if pos != tablePos {
		return nil, fmt.Errorf("%w: chunk sizes sum to %d, table at %d",
			plaserrors.ErrCorruptedChunkTable, pos, tablePos)
	}
	return offsets, nil
}

// Header returns a copy of the file header.
func (r *Reader) Header() Header {
	return *r.hdr
}

// Count returns the total number of points in the file.
func (r *Reader) Count() uint64 {
	return r.hdr.TotalPoints
}

// NumChunks returns the number of chunks in the file (zero for flat files).
func (r *Reader) NumChunks() uint32 {
	return r.hdr.NumChunks()
}

// ChunkSizes returns the byte size of every chunk in global order.
// Returns ErrNotChunked for flat files.
func (r *Reader) ChunkSizes() ([]uint32, error) {
	if !r.hdr.Chunked {
		return nil, plaserrors.ErrNotChunked
	}
	sizes := make([]uint32, len(r.chunkOffsets)-1)
	for i := range sizes {
		sizes[i] = uint32(r.chunkOffsets[i+1] - r.chunkOffsets[i])
	}
	return sizes, nil
}

// SeekPoint positions the cursor at the given absolute point index.
// Seeking to Count() is allowed and makes the next ReadPoint return io.EOF.
func (r *Reader) SeekPoint(index uint64) error {
	if r.closed {
		return plaserrors.ErrReaderClosed
	}
	if index > r.hdr.TotalPoints {
		return fmt.Errorf("%w: %d of %d", plaserrors.ErrPointOutOfRange, index, r.hdr.TotalPoints)
	}
	r.cur = index
	r.curChunk = nil
	return nil
}

// ReadPoint decodes the point at the cursor into p and advances the cursor.
// Returns io.EOF past the last point.
func (r *Reader) ReadPoint(p *Point) error {
	if r.closed {
		return plaserrors.ErrReaderClosed
	}
	if r.cur >= r.hdr.TotalPoints {
		return io.EOF
	}

	if !r.hdr.Chunked {
		off := r.hdr.PreambleSize() + int64(r.cur)*RecordLen
		p.DecodeFrom(r.data[off:])
		r.cur++
		return nil
	}

	ci := uint32(r.cur / uint64(r.hdr.ChunkSize))
	if r.curChunk == nil || ci != r.curChunkIdx {
		records, err := r.chunk(ci)
		if err != nil {
			return err
		}
		r.curChunk = records
		r.curChunkIdx = ci
	}

	within := r.cur % uint64(r.hdr.ChunkSize)
	off := int(within) * RecordLen
	if off+RecordLen > len(r.curChunk) {
		return plaserrors.ErrTruncatedFile
	}
	p.DecodeFrom(r.curChunk[off:])
	r.cur++
	return nil
}

// chunk returns the decoded records of chunk ci, consulting the LRU cache.
func (r *Reader) chunk(ci uint32) ([]byte, error) {
	if records, ok := r.cache.Get(ci); ok {
		return records, nil
	}

	frame := r.data[r.chunkOffsets[ci]:r.chunkOffsets[ci+1]]
	if cs := r.hdr.Checksum; cs != ChecksumNone {
		if len(frame) < checksumSize {
			return nil, plaserrors.ErrTruncatedFile
		}
		payload := frame[:len(frame)-checksumSize]
		want := binary.LittleEndian.Uint64(frame[len(frame)-checksumSize:])
		if len(payload) < chunkFrameSize || cs.Sum(payload[chunkFrameSize:]) != want {
			return nil, fmt.Errorf("%w: chunk %d", plaserrors.ErrChecksumFailed, ci)
		}
		frame = payload
	}

	records, err := decodeChunk(frame, r.hdr.Codec, r.dec)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", ci, err)
	}
	// Copy out of the mmap so cached chunks stay valid if callers hold them
	// across Close. Raw-stored chunks alias the mapping otherwise.
	owned := make([]byte, len(records))
	copy(owned, records)
	r.cache.Add(ci, owned)
	return owned, nil
}

// Close unmaps the file. The Reader must not be used afterwards.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.dec != nil {
		r.dec.Close()
		r.dec = nil
	}
	mm := r.mmap
	r.mmap = nil
	r.data = nil
	r.curChunk = nil
	return mm.Unmap()
}
