package plaszip

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"

	plaserrors "github.com/jwend/plaszip/errors"
)

// Checksum identifies the 64-bit digest algorithm applied to chunk payloads
// and to the serialized chunk table.
type Checksum uint8

const (
	// ChecksumNone disables integrity digests.
	ChecksumNone Checksum = 0
	// ChecksumXXHash64 uses xxHash64 digests.
	ChecksumXXHash64 Checksum = 1
	// ChecksumXXH3 uses XXH3-64 digests.
	ChecksumXXH3 Checksum = 2
)

// checksumSize is the on-disk size of one digest.
const checksumSize = 8

func (a Checksum) valid() bool {
	return a <= ChecksumXXH3
}

func (a Checksum) String() string {
	switch a {
	case ChecksumNone:
		return "none"
	case ChecksumXXHash64:
		return "xxhash64"
	case ChecksumXXH3:
		return "xxh3"
	default:
		return fmt.Sprintf("checksum(%d)", uint8(a))
	}
}

// ParseChecksum converts a checksum algorithm name to its identifier.
func ParseChecksum(name string) (Checksum, error) {
	switch name {
	case "none":
		return ChecksumNone, nil
	case "xxhash64":
		return ChecksumXXHash64, nil
	case "xxh3":
		return ChecksumXXH3, nil
	default:
		return 0, fmt.Errorf("%w: %q", plaserrors.ErrUnknownChecksum, name)
	}
}

// Size returns the number of digest bytes appended per protected region.
func (a Checksum) Size() int {
	if a == ChecksumNone {
		return 0
	}
	return checksumSize
}

// Sum computes the digest of data. Callers must not invoke Sum for ChecksumNone.
func (a Checksum) Sum(data []byte) uint64 {
	switch a {
	case ChecksumXXHash64:
		return xxhash.Sum64(data)
	case ChecksumXXH3:
		return xxh3.Hash(data)
	default:
		panic("format: Sum called with no checksum algorithm")
	}
}
