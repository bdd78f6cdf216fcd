// Package plaszip converts point-cloud files between a flat record layout
// and a chunk-compressed container, splitting the work across a fixed group
// of workers that each write their share directly into one shared output
// file.
//
// The container is a 64-byte header followed either by fixed-size point
// records (flat files) or by independently compressed chunks plus a chunk
// table (chunked files):
//
//	[Header 64B][TableSlot 8B][Chunk 0]...[Chunk N-1][Chunk table]
//
// The table slot is back-patched with the absolute chunk table position when
// the table is written, so a reader can locate the table without scanning.
//
// Conversion runs in two passes. Every worker first encodes its range into a
// counting sink to measure the exact bytes it will produce, the byte counts
// are all-gathered and prefix-summed into per-worker file offsets, then each
// worker re-encodes its range for real at its offset. Encoding is
// deterministic, so the second pass produces byte-for-byte what the first
// pass measured. Workers coordinate through the comm package; any error on
// any worker aborts the whole conversion.
//
// Convert is the entry point for one worker. RunLocal drives a full
// in-process group for single-machine use.
package plaszip
