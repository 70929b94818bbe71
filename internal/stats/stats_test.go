package stats

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
)

func TestCountersConcurrent(t *testing.T) {
	st := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				st.AddCPUHashes(64)
				st.AddGPUHashes(10)
				st.ShareSent()
				st.ShareAccepted()
			}
		}()
	}
	wg.Wait()

	snap := st.Snapshot()
	if snap.CPUHashes != 8*100*64 {
		t.Errorf("cpu hashes = %d, want %d", snap.CPUHashes, 8*100*64)
	}
	if snap.TotalHashes != snap.CPUHashes+snap.GPUHashes {
		t.Error("total should be cpu + gpu")
	}
	if snap.SharesAccepted != 800 {
		t.Errorf("accepted = %d, want 800", snap.SharesAccepted)
	}
}

func TestRejectRecordsLastError(t *testing.T) {
	st := New()
	st.ShareRejected("low difficulty share")
	st.ShareRejected("stale job")

	snap := st.Snapshot()
	if snap.SharesRejected != 2 {
		t.Errorf("rejected = %d, want 2", snap.SharesRejected)
	}
	if snap.LastShareError != "stale job" {
		t.Errorf("last error = %q, want most recent", snap.LastShareError)
	}
}

func TestAcceptRate(t *testing.T) {
	tests := []struct {
		name     string
		accepted uint64
		rejected uint64
		want     float64
	}{
		{"no shares", 0, 0, 100.0},
		{"all accepted", 10, 0, 100.0},
		{"half", 5, 5, 50.0},
		{"all rejected", 0, 4, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := Snapshot{SharesAccepted: tt.accepted, SharesRejected: tt.rejected}
			if got := snap.AcceptRate(); got != tt.want {
				t.Errorf("AcceptRate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReset(t *testing.T) {
	st := New()
	st.AddCPUHashes(100)
	st.ShareSent()
	st.ShareRejected("x")

	st.Reset()

	snap := st.Snapshot()
	if snap.TotalHashes != 0 || snap.SharesSent != 0 || snap.SharesRejected != 0 {
		t.Errorf("counters not zeroed: %+v", snap)
	}
	if snap.LastShareError != "" {
		t.Error("last error should be cleared")
	}
}

func TestWriteStatsFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.json")

	fs := FileSnapshot{
		Algorithm:      "cosmic_harmony",
		State:          "mining",
		Hashrate:       1234.5,
		SharesAccepted: 7,
		JobID:          "j1",
	}

	if err := WriteStatsFile(path, fs); err != nil {
		t.Fatalf("WriteStatsFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}

	var got FileSnapshot
	if err := sonic.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Algorithm != "cosmic_harmony" || got.SharesAccepted != 7 {
		t.Errorf("round trip mismatch: %+v", got)
	}

	// Overwrite must not leave temp files behind.
	fs.SharesAccepted = 8
	if err := WriteStatsFile(path, fs); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the stats file", len(entries))
	}
}
