package plaszip

import (
	"log/slog"
)

const (
	// DefaultChunkSize is the number of points per compressed chunk when
	// none is configured.
	DefaultChunkSize = 50000
)

type config struct {
	chunkSize uint32
	codec     Codec
	checksum  Checksum
	cacheSize int
	logger    *slog.Logger
}

func defaultConfig() config {
	return config{
		chunkSize: DefaultChunkSize,
		codec:     CodecZstd,
		checksum:  ChecksumXXHash64,
		cacheSize: DefaultChunkCacheSize,
		logger:    slog.New(slog.DiscardHandler),
	}
}

// Option configures a conversion.
type Option func(*config)

// WithChunkSize sets the number of points per compressed chunk. Only used
// when compressing; decompression takes the chunk size from the input file.
func WithChunkSize(n uint32) Option {
	return func(c *config) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithCodec sets the compression codec for chunked output.
func WithCodec(codec Codec) Option {
	return func(c *config) {
		c.codec = codec
	}
}

// WithChecksum sets the per-chunk checksum algorithm for chunked output.
func WithChecksum(sum Checksum) Option {
	return func(c *config) {
		c.checksum = sum
	}
}

// WithChunkCacheSize sets how many decoded chunks each worker caches while
// reading a chunked input file.
func WithChunkCacheSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}

// WithLogger sets the structured logger for conversion progress. The default
// logger discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}
