package plaszip

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	plaserrors "github.com/jwend/plaszip/errors"
)

// Codec identifies the per-chunk compression algorithm.
type Codec uint8

const (
	// CodecStore stores chunk payloads uncompressed.
	CodecStore Codec = 0
	// CodecLZ4 uses LZ4 block compression (fast, moderate ratio).
	CodecLZ4 Codec = 1
	// CodecZstd uses zstd compression (better ratio).
	CodecZstd Codec = 2
)

// chunkFrameSize is the per-chunk framing overhead:
// [UncompressedLen u32][CompressedLen u32], CompressedLen == 0 meaning the
// payload is stored raw. An 8-byte payload digest follows the payload when
// checksums are enabled.
const chunkFrameSize = 8

func (c Codec) valid() bool {
	return c <= CodecZstd
}

func (c Codec) String() string {
	switch c {
	case CodecStore:
		return "store"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec converts a codec name to its identifier.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "store":
		return CodecStore, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("%w: %q", plaserrors.ErrUnknownCodec, name)
	}
}

// newZstdEncoder returns a single-goroutine zstd encoder. Concurrency is
// pinned to one so identical input always yields identical frames, which the
// two-pass write protocol depends on.
func newZstdEncoder() (*zstd.Encoder, error) {
	return zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1))
}

func newZstdDecoder() (*zstd.Decoder, error) {
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
}

// encodeChunk frames and compresses one chunk of records.
// The returned slice is newly allocated: [uncompLen][compLen][payload].
// Incompressible chunks fall back to raw storage with CompressedLen == 0.
func encodeChunk(records []byte, codec Codec, enc *zstd.Encoder) ([]byte, error) {
	var compressed []byte
	switch codec {
	case CodecStore:
		// raw below
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(records)))
		n, err := lz4.CompressBlock(records, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n > 0 {
			compressed = buf[:n]
		}
	case CodecZstd:
		compressed = enc.EncodeAll(records, nil)
	default:
		return nil, plaserrors.ErrUnknownCodec
	}

	// Store raw when compression does not help.
	if compressed == nil || len(compressed) >= len(records) {
		frame := make([]byte, chunkFrameSize+len(records))
		binary.LittleEndian.PutUint32(frame[0:4], uint32(len(records)))
		binary.LittleEndian.PutUint32(frame[4:8], 0)
		copy(frame[chunkFrameSize:], records)
		return frame, nil
	}

	frame := make([]byte, chunkFrameSize+len(compressed))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(records)))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(compressed)))
	copy(frame[chunkFrameSize:], compressed)
	return frame, nil
}

// decodeChunk reverses encodeChunk, returning the raw record bytes.
// frame must not include the trailing payload digest.
func decodeChunk(frame []byte, codec Codec, dec *zstd.Decoder) ([]byte, error) {
	if len(frame) < chunkFrameSize {
		return nil, plaserrors.ErrTruncatedFile
	}
	uncompLen := binary.LittleEndian.Uint32(frame[0:4])
	compLen := binary.LittleEndian.Uint32(frame[4:8])
	payload := frame[chunkFrameSize:]

	if compLen == 0 {
		if uint32(len(payload)) != uncompLen {
			return nil, plaserrors.ErrTruncatedFile
		}
		return payload, nil
	}
	if uint32(len(payload)) != compLen {
		return nil, plaserrors.ErrTruncatedFile
	}

	switch codec {
	case CodecLZ4:
		records := make([]byte, uncompLen)
		n, err := lz4.UncompressBlock(payload, records)
		if err != nil {
			return nil, fmt.Errorf("lz4 uncompress: %w", err)
		}
		if uint32(n) != uncompLen {
			return nil, plaserrors.ErrTruncatedFile
		}
		return records, nil
	case CodecZstd:
		records, err := dec.DecodeAll(payload, make([]byte, 0, uncompLen))
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		if uint32(len(records)) != uncompLen {
			return nil, plaserrors.ErrTruncatedFile
		}
		return records, nil
	case CodecStore:
		// Store chunks always have CompressedLen == 0.
		return nil, plaserrors.ErrTruncatedFile
	default:
		return nil, plaserrors.ErrUnknownCodec
	}
}
