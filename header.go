package plaszip

import (
	"encoding/binary"

	plaserrors "github.com/jwend/plaszip/errors"
)

const (
	// magic number for plaszip container files
	// "PLZ1" in little-endian
	magic = uint32(0x315A4C50)

	// version is the current format version
	version = uint16(0x0001)

	// HeaderSize is the exact size of the serialized header (64 bytes)
	HeaderSize = 64

	// TableSlotSize is the size of the chunk-table position slot that
	// follows the header in chunked files.
	TableSlotSize = 8

	// flagChunked marks a file as chunk-compressed rather than flat records.
	flagChunked = uint16(1 << 0)
)

// Header is the 64-byte file header shared by flat and chunked files.
//
// Layout:
//
//	Offset  Size  Field        Type
//	0       4     Magic        0x315A4C50 ("PLZ1")
//	4       2     Version      0x0001
//	6       2     Flags        uint16_le (bit 0: chunked)
//	8       8     TotalPoints  uint64_le
//	16      4     ChunkSize    uint32_le (points per chunk; 0 for flat files)
//	20      2     RecordLen    uint16_le
//	22      1     Codec        uint8 (0=Store, 1=LZ4, 2=Zstd)
//	23      1     Checksum     uint8 (0=None, 1=XXHash64, 2=XXH3)
//	24      40    Reserved     [40]byte (zero)
type Header struct {
	TotalPoints uint64
	ChunkSize   uint32 // points per chunk; 0 for flat files
	RecordLen   uint16
	Codec       Codec
	Checksum    Checksum
	Chunked     bool
}

// NewFlatHeader returns the header for an uncompressed flat-record file.
func NewFlatHeader(totalPoints uint64) Header {
	return Header{
		TotalPoints: totalPoints,
		RecordLen:   RecordLen,
	}
}

// NewChunkedHeader returns the header for a chunk-compressed file.
func NewChunkedHeader(totalPoints uint64, chunkSize uint32, codec Codec, checksum Checksum) Header {
	return Header{
		TotalPoints: totalPoints,
		ChunkSize:   chunkSize,
		RecordLen:   RecordLen,
		Codec:       codec,
		Checksum:    checksum,
		Chunked:     true,
	}
}

// PreambleSize returns the number of bytes preceding point data: the header
// plus, for chunked files, the chunk-table position slot.
func (h *Header) PreambleSize() int64 {
	if h.Chunked {
		return HeaderSize + TableSlotSize
	}
	return HeaderSize
}

// NumChunks returns the number of chunks spanning the whole file, counting a
// trailing partial chunk. Zero for flat files.
func (h *Header) NumChunks() uint32 {
	if !h.Chunked || h.ChunkSize == 0 {
		return 0
	}
	return uint32((h.TotalPoints + uint64(h.ChunkSize) - 1) / uint64(h.ChunkSize))
}

// encodeTo serializes the header to an existing buffer of at least HeaderSize bytes.
func (h *Header) encodeTo(buf []byte) {
	var flags uint16
	if h.Chunked {
		flags |= flagChunked
	}
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint16(buf[4:6], version)
	binary.LittleEndian.PutUint16(buf[6:8], flags)
	binary.LittleEndian.PutUint64(buf[8:16], h.TotalPoints)
	binary.LittleEndian.PutUint32(buf[16:20], h.ChunkSize)
	binary.LittleEndian.PutUint16(buf[20:22], h.RecordLen)
	buf[22] = uint8(h.Codec)
	buf[23] = uint8(h.Checksum)
	clear(buf[24:HeaderSize])
}

// DecodeHeader parses and validates a 64-byte header.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, plaserrors.ErrTruncatedFile
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != magic {
		return nil, plaserrors.ErrInvalidMagic
	}
	if binary.LittleEndian.Uint16(buf[4:6]) != version {
		return nil, plaserrors.ErrInvalidVersion
	}

	flags := binary.LittleEndian.Uint16(buf[6:8])
	h := &Header{
		TotalPoints: binary.LittleEndian.Uint64(buf[8:16]),
		ChunkSize:   binary.LittleEndian.Uint32(buf[16:20]),
		RecordLen:   binary.LittleEndian.Uint16(buf[20:22]),
		Codec:       Codec(buf[22]),
		Checksum:    Checksum(buf[23]),
		Chunked:     flags&flagChunked != 0,
	}

	if !h.Codec.valid() {
		return nil, plaserrors.ErrUnknownCodec
	}
	if !h.Checksum.valid() {
		return nil, plaserrors.ErrUnknownChecksum
	}
	if h.RecordLen != RecordLen {
		return nil, plaserrors.ErrInvalidVersion
	}
	if h.Chunked && h.ChunkSize == 0 {
		return nil, plaserrors.ErrCorruptedChunkTable
	}

	return h, nil
}
