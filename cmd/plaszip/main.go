// Command plaszip converts point-cloud files between the flat record layout
// and the chunk-compressed container.
//
// Single-machine use runs an in-process worker group:
//
//	plaszip -i points.pts -o points.plz -workers 4
//
// Distributed use runs one process per rank over a TCP mesh; every process
// names the full rank-ordered address list and its own rank:
//
//	plaszip -i points.pts -o points.plz -rank 0 -addrs host0:7000,host1:7000
//	plaszip -i points.pts -o points.plz -rank 1 -addrs host0:7000,host1:7000
//
// The direction is taken from the input file's header: flat input is
// compressed, chunked input is decompressed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jwend/plaszip"
	"github.com/jwend/plaszip/comm"
)

func main() {
	var (
		inPath   = flag.String("i", "", "input file (required)")
		outPath  = flag.String("o", "", "output file (required)")
		chunk    = flag.Uint("chunk", plaszip.DefaultChunkSize, "points per compressed chunk")
		codec    = flag.String("codec", "zstd", "chunk codec: store, lz4, zstd")
		checksum = flag.String("checksum", "xxhash64", "chunk checksum: none, xxhash64, xxh3")
		cache    = flag.Int("cache", plaszip.DefaultChunkCacheSize, "decoded chunks cached per worker")
		workers  = flag.Int("workers", 1, "local worker count (single-machine mode)")
		rank     = flag.Int("rank", -1, "this process's rank (distributed mode)")
		addrs    = flag.String("addrs", "", "comma-separated rank-ordered listen addresses (distributed mode)")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *inPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "plaszip: -i and -o are required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*inPath, *outPath, uint32(*chunk), *codec, *checksum, *cache, *workers, *rank, *addrs, logger); err != nil {
		logger.Error("conversion failed", "error", err)
		os.Exit(1)
	}
}

func run(inPath, outPath string, chunk uint32, codecName, checksumName string, cache, workers, rank int, addrList string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec, err := plaszip.ParseCodec(codecName)
	if err != nil {
		return err
	}
	sum, err := plaszip.ParseChecksum(checksumName)
	if err != nil {
		return err
	}

	opts := []plaszip.Option{
		plaszip.WithChunkSize(chunk),
		plaszip.WithCodec(codec),
		plaszip.WithChecksum(sum),
		plaszip.WithChunkCacheSize(cache),
		plaszip.WithLogger(logger),
	}

	if addrList == "" {
		stats, err := plaszip.RunLocal(ctx, workers, inPath, outPath, opts...)
		if err != nil {
			return err
		}
		report(logger, stats)
		return nil
	}

	addrs := strings.Split(addrList, ",")
	if rank < 0 || rank >= len(addrs) {
		return fmt.Errorf("rank %d outside address list of %d", rank, len(addrs))
	}
	c, err := comm.DialMesh(ctx, rank, addrs)
	if err != nil {
		return fmt.Errorf("mesh setup: %w", err)
	}
	defer c.Close()

	stats, err := plaszip.Convert(ctx, c, inPath, outPath, opts...)
	if err != nil {
		return err
	}
	report(logger, []*plaszip.Stats{stats})
	return nil
}

func report(logger *slog.Logger, stats []*plaszip.Stats) {
	for _, s := range stats {
		logger.Info("worker done",
			"rank", int(s.Rank),
			"direction", s.Direction.String(),
			"points", s.Range.Count(),
			"bytes", s.BytesWritten,
			"chunks", s.Chunks)
	}
}
