package mining

import (
	"sync"
	"testing"
)

func TestAllocatorDisjointRanges(t *testing.T) {
	var a NonceAllocator

	seen := make(map[uint64]bool)
	var next uint64
	for i := 0; i < 100; i++ {
		r := a.Allocate(1000)
		if r.Start != next {
			t.Fatalf("range %d starts at %d, want %d (contiguous prefix)", i, r.Start, next)
		}
		for n := r.Start; n < r.Start+r.Count; n += 250 {
			if seen[n] {
				t.Fatalf("nonce %d allocated twice", n)
			}
			seen[n] = true
		}
		next = r.Start + r.Count
	}
}

func TestAllocatorConcurrent(t *testing.T) {
	var a NonceAllocator

	const workers = 8
	const perWorker = 200

	var mu sync.Mutex
	starts := make(map[uint64]bool)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				r := a.Allocate(1000)
				mu.Lock()
				if starts[r.Start] {
					t.Errorf("duplicate range start %d", r.Start)
				}
				starts[r.Start] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	final := a.Allocate(0)
	if final.Start != workers*perWorker*1000 {
		t.Errorf("cursor = %d, want %d", final.Start, workers*perWorker*1000)
	}
}

func TestJobStateVersionMonotonic(t *testing.T) {
	s := NewJobState()

	if s.Version() != 0 {
		t.Fatalf("initial version = %d, want 0", s.Version())
	}

	var last uint64
	for i := 0; i < 10; i++ {
		v := s.Install(&Job{ID: "job"})
		if v <= last {
			t.Fatalf("version %d not strictly greater than %d", v, last)
		}
		last = v
	}
}

func TestJobStateInstallResetsAllocator(t *testing.T) {
	s := NewJobState()
	s.Install(&Job{ID: "a"})

	s.Allocator().Allocate(5000)
	s.Install(&Job{ID: "b"})

	r := s.Allocator().Allocate(1000)
	if r.Start != 0 {
		t.Errorf("allocator start after new job = %d, want 0", r.Start)
	}
}

func TestJobStateSnapshotSeesLatest(t *testing.T) {
	s := NewJobState()
	s.Install(&Job{ID: "old"})
	s.Install(&Job{ID: "new"})

	job, version := s.Snapshot()
	if job.ID != "new" {
		t.Errorf("snapshot job = %q, want new", job.ID)
	}
	if version != 2 {
		t.Errorf("snapshot version = %d, want 2", version)
	}
}

func TestApplyNonce(t *testing.T) {
	blob := make([]byte, 76)
	if err := ApplyNonce(blob, 0x04030201); err != nil {
		t.Fatalf("ApplyNonce: %v", err)
	}

	want := []byte{0x01, 0x02, 0x03, 0x04}
	for i, b := range want {
		if blob[NonceOffset+i] != b {
			t.Errorf("blob[%d] = %#x, want %#x", NonceOffset+i, blob[NonceOffset+i], b)
		}
	}

	if err := ApplyNonce(make([]byte, 10), 1); err == nil {
		t.Error("short blob should error")
	}
}

func TestAlgorithmCycle(t *testing.T) {
	tests := []struct {
		from, to Algorithm
	}{
		{AlgoCosmicHarmony, AlgoRandomX},
		{AlgoRandomX, AlgoYescrypt},
		{AlgoYescrypt, AlgoCosmicHarmony},
		{AlgoAutolykos2, AlgoCosmicHarmony},
	}
	for _, tt := range tests {
		if got := tt.from.Next(); got != tt.to {
			t.Errorf("%s.Next() = %s, want %s", tt.from, got, tt.to)
		}
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{"randomx", AlgoRandomX, false},
		{"RandomX", AlgoRandomX, false},
		{"cosmic_harmony", AlgoCosmicHarmony, false},
		{"cosmic-harmony", AlgoCosmicHarmony, false},
		{"yescrypt", AlgoYescrypt, false},
		{"autolykos2", AlgoAutolykos2, false},
		{"scrypt", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAlgorithm(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAlgorithm(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAlgorithm(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
