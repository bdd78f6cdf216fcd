package plaszip

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jwend/plaszip/comm"
	plaserrors "github.com/jwend/plaszip/errors"
)

func TestOffsetForRank(t *testing.T) {
	lengths := []int64{120, 95, 130}
	preamble := int64(HeaderSize + TableSlotSize)

	want := []int64{preamble, preamble + 120, preamble + 215}
	for rank, w := range want {
		if got := offsetForRank(preamble, lengths, comm.WorkerID(rank)); got != w {
			t.Errorf("rank %d: offset %d, want %d", rank, got, w)
		}
	}
}

// A multi-worker compression must produce the same file, byte for byte, as
// a single worker over the same input and configuration.
func TestCompressMatchesSingleWorker(t *testing.T) {
	pts := generatePoints(21, 10_500)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pts")
	writeFlat(t, in, pts)

	single := filepath.Join(dir, "single.plz")
	if _, err := RunLocal(t.Context(), 1, in, single, WithChunkSize(1000)); err != nil {
		t.Fatalf("RunLocal(1): %v", err)
	}
	singleBytes, err := os.ReadFile(single)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	for _, workers := range []int{2, 3, 4} {
		out := filepath.Join(dir, "multi.plz")
		stats, err := RunLocal(t.Context(), workers, in, out, WithChunkSize(1000))
		if err != nil {
			t.Fatalf("RunLocal(%d): %v", workers, err)
		}

		got, err := os.ReadFile(out)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !bytes.Equal(got, singleBytes) {
			t.Fatalf("%d-worker output differs from single-worker output", workers)
		}

		var points uint64
		var payload int64
		for rank, s := range stats {
			if s.Rank != comm.WorkerID(rank) {
				t.Errorf("stats[%d].Rank = %v", rank, s.Rank)
			}
			points += s.Range.Count()
			payload += s.BytesWritten
		}
		if points != uint64(len(pts)) {
			t.Errorf("%d workers covered %d points, want %d", workers, points, len(pts))
		}

		// preamble + point data + chunk table accounts for the whole file.
		hdr := NewChunkedHeader(uint64(len(pts)), 1000, CodecZstd, ChecksumXXHash64)
		tableLen := int64(4+4*hdr.NumChunks()) + int64(hdr.Checksum.Size())
		if want := hdr.PreambleSize() + payload + tableLen; int64(len(got)) != want {
			t.Errorf("file is %d bytes, want %d", len(got), want)
		}
	}
}

func TestRoundTripThroughWorkers(t *testing.T) {
	pts := generatePoints(5, 7003)
	dir := t.TempDir()
	flat := filepath.Join(dir, "in.pts")
	writeFlat(t, flat, pts)

	packed := filepath.Join(dir, "packed.plz")
	if _, err := RunLocal(t.Context(), 4, flat, packed, WithChunkSize(500)); err != nil {
		t.Fatalf("compress: %v", err)
	}

	restored := filepath.Join(dir, "restored.pts")
	stats, err := RunLocal(t.Context(), 3, packed, restored)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	for _, s := range stats {
		if s.Direction != Decompress {
			t.Errorf("rank %v direction = %v, want decompress", s.Rank, s.Direction)
		}
	}

	want, err := os.ReadFile(flat)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got, err := os.ReadFile(restored)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("restored flat file differs from the original")
	}
}

func TestConvertCodecMatrix(t *testing.T) {
	pts := generatePoints(8, 2600)

	for _, codec := range []Codec{CodecStore, CodecLZ4, CodecZstd} {
		for _, cs := range []Checksum{ChecksumNone, ChecksumXXH3} {
			t.Run(codec.String()+"_"+cs.String(), func(t *testing.T) {
				dir := t.TempDir()
				flat := filepath.Join(dir, "in.pts")
				writeFlat(t, flat, pts)

				packed := filepath.Join(dir, "packed.plz")
				_, err := RunLocal(t.Context(), 2, flat, packed,
					WithChunkSize(250), WithCodec(codec), WithChecksum(cs))
				if err != nil {
					t.Fatalf("compress: %v", err)
				}

				r, err := Open(packed)
				if err != nil {
					t.Fatalf("Open: %v", err)
				}
				defer r.Close()
				if got := r.Header().Codec; got != codec {
					t.Errorf("codec = %v, want %v", got, codec)
				}
				got := readAll(t, r)
				for i := range pts {
					if got[i] != pts[i] {
						t.Fatalf("point %d mismatch", i)
					}
				}
			})
		}
	}
}

// The multi-worker chunk table must match the single-worker table entry for
// entry, which is what makes the parallel output independently decodable.
func TestGlobalChunkTable(t *testing.T) {
	pts := generatePoints(13, 5250)
	dir := t.TempDir()
	flat := filepath.Join(dir, "in.pts")
	writeFlat(t, flat, pts)

	read := func(path string) []uint32 {
		r, err := Open(path)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer r.Close()
		sizes, err := r.ChunkSizes()
		if err != nil {
			t.Fatalf("ChunkSizes: %v", err)
		}
		return sizes
	}

	single := filepath.Join(dir, "single.plz")
	if _, err := RunLocal(t.Context(), 1, flat, single, WithChunkSize(500)); err != nil {
		t.Fatalf("RunLocal(1): %v", err)
	}
	multi := filepath.Join(dir, "multi.plz")
	if _, err := RunLocal(t.Context(), 5, flat, multi, WithChunkSize(500)); err != nil {
		t.Fatalf("RunLocal(5): %v", err)
	}

	want := read(single)
	got := read(multi)
	if len(got) != len(want) {
		t.Fatalf("table has %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("table entry %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestConvertErrors(t *testing.T) {
	pts := generatePoints(1, 2200)
	dir := t.TempDir()
	flat := filepath.Join(dir, "in.pts")
	writeFlat(t, flat, pts)

	t.Run("too_few_chunks", func(t *testing.T) {
		// 2 whole chunks of 1000 cannot feed 4 workers.
		out := filepath.Join(dir, "out.plz")
		_, err := RunLocal(t.Context(), 4, flat, out, WithChunkSize(1000))
		if !errors.Is(err, plaserrors.ErrTooFewChunks) {
			t.Errorf("got %v, want ErrTooFewChunks", err)
		}
	})

	t.Run("same_file", func(t *testing.T) {
		_, err := RunLocal(t.Context(), 2, flat, flat, WithChunkSize(100))
		if !errors.Is(err, plaserrors.ErrSameFile) {
			t.Errorf("got %v, want ErrSameFile", err)
		}
	})

	t.Run("missing_input", func(t *testing.T) {
		_, err := RunLocal(t.Context(), 2, filepath.Join(dir, "absent.pts"),
			filepath.Join(dir, "out.plz"))
		if err == nil {
			t.Error("expected error for missing input")
		}
	})

	t.Run("not_a_container", func(t *testing.T) {
		junk := filepath.Join(dir, "junk.bin")
		if err := os.WriteFile(junk, bytes.Repeat([]byte{0xAB}, 256), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		_, err := RunLocal(t.Context(), 2, junk, filepath.Join(dir, "out.plz"))
		if !errors.Is(err, plaserrors.ErrInvalidMagic) {
			t.Errorf("got %v, want ErrInvalidMagic", err)
		}
	})
}

func TestFileDirection(t *testing.T) {
	pts := generatePoints(3, 1200)
	dir := t.TempDir()

	flat := filepath.Join(dir, "in.pts")
	writeFlat(t, flat, pts)
	if d, err := FileDirection(flat); err != nil || d != Compress {
		t.Errorf("flat file: direction %v err %v, want compress", d, err)
	}

	packed := filepath.Join(dir, "packed.plz")
	writeChunked(t, packed, pts, 100, CodecLZ4, ChecksumXXHash64)
	if d, err := FileDirection(packed); err != nil || d != Decompress {
		t.Errorf("chunked file: direction %v err %v, want decompress", d, err)
	}
}

// Running the commit pass twice over the same range and offset must produce
// identical bytes and identical chunk sizes.
func TestCommitDeterminism(t *testing.T) {
	pts := generatePoints(17, 1500)
	dir := t.TempDir()
	flat := filepath.Join(dir, "in.pts")
	writeFlat(t, flat, pts)

	src, err := Open(flat)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	hdr := NewChunkedHeader(uint64(len(pts)), 200, CodecZstd, ChecksumXXHash64)
	rng := PointRange{Start: 400, End: 1100}

	run := func(path string) ([]byte, []uint32) {
		f, err := os.Create(path)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		defer f.Close()
		w, err := NewWriter(f, hdr, false)
		if err != nil {
			t.Fatalf("NewWriter: %v", err)
		}
		if _, err := copyRange(src, w, rng); err != nil {
			t.Fatalf("copyRange: %v", err)
		}
		sizes := w.ChunkSizes()
		if _, err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		buf, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return buf, sizes
	}

	buf1, sizes1 := run(filepath.Join(dir, "pass1.bin"))
	buf2, sizes2 := run(filepath.Join(dir, "pass2.bin"))
	if !bytes.Equal(buf1, buf2) {
		t.Error("two commit passes produced different bytes")
	}
	if len(sizes1) != len(sizes2) {
		t.Fatalf("chunk counts differ: %d vs %d", len(sizes1), len(sizes2))
	}
	for i := range sizes1 {
		if sizes1[i] != sizes2[i] {
			t.Errorf("chunk %d: %d vs %d bytes", i, sizes1[i], sizes2[i])
		}
	}
}
