package plaszip

import (
	"errors"
	"testing"

	plaserrors "github.com/jwend/plaszip/errors"
)

func TestRangesCompress(t *testing.T) {
	tests := []struct {
		name        string
		totalPoints uint64
		chunkSize   uint32
		worldSize   int
		want        []PointRange
	}{
		{
			// 10 chunks over 4 workers: first 10%4=2 workers get an extra chunk.
			name:        "even_chunks",
			totalPoints: 10_000,
			chunkSize:   1000,
			worldSize:   4,
			want: []PointRange{
				{0, 3000}, {3000, 6000}, {6000, 8000}, {8000, 10_000},
			},
		},
		{
			// Trailing partial chunk of 500 points goes to the last worker only.
			name:        "partial_tail_chunk",
			totalPoints: 10_500,
			chunkSize:   1000,
			worldSize:   3,
			want: []PointRange{
				{0, 4000}, {4000, 7000}, {7000, 10_500},
			},
		},
		{
			name:        "single_worker",
			totalPoints: 2500,
			chunkSize:   1000,
			worldSize:   1,
			want:        []PointRange{{0, 2500}},
		},
		{
			name:        "one_chunk_per_worker",
			totalPoints: 300,
			chunkSize:   100,
			worldSize:   3,
			want:        []PointRange{{0, 100}, {100, 200}, {200, 300}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Ranges(tt.totalPoints, tt.chunkSize, tt.worldSize, Compress)
			if err != nil {
				t.Fatalf("Ranges: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d ranges, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("rank %d: got [%d,%d), want [%d,%d)",
						i, got[i].Start, got[i].End, tt.want[i].Start, tt.want[i].End)
				}
			}
		})
	}
}

func TestRangesDecompress(t *testing.T) {
	got, err := Ranges(101, 0, 4, Decompress)
	if err != nil {
		t.Fatalf("Ranges: %v", err)
	}
	want := []PointRange{{0, 25}, {25, 50}, {50, 75}, {75, 101}}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("rank %d: got [%d,%d), want [%d,%d)",
				i, got[i].Start, got[i].End, want[i].Start, want[i].End)
		}
	}
}

// Ranges must tile [0, totalPoints) exactly, in rank order, and every
// compress-direction boundary except the last must land on a chunk boundary.
func TestRangesProperties(t *testing.T) {
	configs := []struct {
		totalPoints uint64
		chunkSize   uint32
		worldSize   int
	}{
		{10_000, 1000, 4},
		{10_500, 1000, 3},
		{999_999, 777, 13},
		{1_000_000, 50_000, 7},
		{64, 8, 8},
		{1000, 3, 5},
	}
	for _, cfg := range configs {
		for _, dir := range []Direction{Compress, Decompress} {
			ranges, err := Ranges(cfg.totalPoints, cfg.chunkSize, cfg.worldSize, dir)
			if err != nil {
				t.Fatalf("Ranges(%+v, %v): %v", cfg, dir, err)
			}

			var prev uint64
			for rank, r := range ranges {
				if r.Start != prev {
					t.Errorf("%+v %v rank %d: starts at %d, previous ended at %d",
						cfg, dir, rank, r.Start, prev)
				}
				if dir == Compress && rank < cfg.worldSize-1 && r.End%uint64(cfg.chunkSize) != 0 {
					t.Errorf("%+v rank %d: end %d not chunk-aligned", cfg, rank, r.End)
				}
				prev = r.End
			}
			if prev != cfg.totalPoints {
				t.Errorf("%+v %v: ranges end at %d, want %d", cfg, dir, prev, cfg.totalPoints)
			}
		}
	}
}

func TestRangesErrors(t *testing.T) {
	// 2 whole chunks cannot feed 4 workers.
	if _, err := Ranges(2500, 1000, 4, Compress); !errors.Is(err, plaserrors.ErrTooFewChunks) {
		t.Errorf("got %v, want ErrTooFewChunks", err)
	}
	if _, err := Ranges(0, 1000, 2, Compress); !errors.Is(err, plaserrors.ErrEmptyInput) {
		t.Errorf("got %v, want ErrEmptyInput", err)
	}
	if _, err := Ranges(1000, 100, 0, Compress); !errors.Is(err, plaserrors.ErrInvalidRank) {
		t.Errorf("got %v, want ErrInvalidRank", err)
	}
}

func TestPartitionPoints(t *testing.T) {
	r, err := PartitionPoints(10_000, 1000, 4, 2, Compress)
	if err != nil {
		t.Fatalf("PartitionPoints: %v", err)
	}
	if r != (PointRange{6000, 8000}) {
		t.Errorf("got [%d,%d), want [6000,8000)", r.Start, r.End)
	}

	if _, err := PartitionPoints(10_000, 1000, 4, 4, Compress); !errors.Is(err, plaserrors.ErrInvalidRank) {
		t.Errorf("rank out of bounds: got %v, want ErrInvalidRank", err)
	}
	if _, err := PartitionPoints(10_000, 1000, 4, -1, Compress); !errors.Is(err, plaserrors.ErrInvalidRank) {
		t.Errorf("negative rank: got %v, want ErrInvalidRank", err)
	}
}
