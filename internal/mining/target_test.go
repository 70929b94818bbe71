package mining

import (
	"encoding/binary"
	"testing"
)

func digestWithLE64(v uint64) [32]byte {
	var d [32]byte
	binary.LittleEndian.PutUint64(d[0:8], v)
	return d
}

func digestWithLE32(v uint32) [32]byte {
	var d [32]byte
	binary.LittleEndian.PutUint32(d[0:4], v)
	return d
}

func TestRandomXTarget(t *testing.T) {
	tgt := NewTarget(AlgoRandomX, 2)

	if got := tgt.Target64(); got != 0x7FFFFFFFFFFFFFFF {
		t.Fatalf("target64 = %#x, want 0x7FFFFFFFFFFFFFFF", got)
	}

	if !tgt.Meets(digestWithLE64(0x7FFFFFFFFFFFFFFF)) {
		t.Error("value equal to target should be accepted")
	}
	if tgt.Meets(digestWithLE64(0x8000000000000000)) {
		t.Error("value one above target should be rejected")
	}
}

func TestRandomXDifficultyOne(t *testing.T) {
	tgt := NewTarget(AlgoRandomX, 1)

	var all [32]byte
	for i := range all {
		all[i] = 0xFF
	}
	if !tgt.Meets(all) {
		t.Error("difficulty 1 should accept any digest")
	}
}

func TestCosmicHarmonyTruncatedTarget(t *testing.T) {
	tests := []struct {
		difficulty uint64
		truncated  uint32
	}{
		{1, 0xFFFFFFFF},
		{2, 0x7FFFFFFF},
		{16, 0x0FFFFFFF},
	}

	for _, tt := range tests {
		tgt := NewTarget(AlgoCosmicHarmony, tt.difficulty)
		if got := tgt.Truncated32(); got != tt.truncated {
			t.Errorf("diff %d: truncated32 = %#x, want %#x", tt.difficulty, got, tt.truncated)
		}
	}

	tgt := NewTarget(AlgoCosmicHarmony, 2)
	if !tgt.Meets(digestWithLE32(0x7FFFFFFF)) {
		t.Error("value equal to truncated target should be accepted")
	}
	if tgt.Meets(digestWithLE32(0x80000000)) {
		t.Error("value above truncated target should be rejected")
	}
}

func TestCosmicHarmonyDifficultyOneAcceptsAll(t *testing.T) {
	tgt := NewTarget(AlgoCosmicHarmony, 1)

	var all [32]byte
	for i := range all {
		all[i] = 0xFF
	}
	if !tgt.Meets(all) {
		t.Error("difficulty 1 should accept any digest")
	}
}

func TestYescrypt256BitStrictCompare(t *testing.T) {
	tgt := NewTarget(AlgoYescrypt, 1)

	// target256 is 2^256-1; a digest of all 0xFF equals it and the
	// comparison is strict, so it must be rejected.
	var all [32]byte
	for i := range all {
		all[i] = 0xFF
	}
	if tgt.Meets(all) {
		t.Error("digest equal to target should be rejected (strict less-than)")
	}

	var zero [32]byte
	if !tgt.Meets(zero) {
		t.Error("zero digest should be accepted")
	}
}

func TestZeroDifficultyTreatedAsOne(t *testing.T) {
	tgt := NewTarget(AlgoRandomX, 0)
	if got := tgt.Target64(); got != ^uint64(0) {
		t.Errorf("target64 = %#x, want MaxUint64", got)
	}
}

func TestHighDifficultyUsedVerbatim(t *testing.T) {
	tgt := NewTarget(AlgoRandomX, ^uint64(0))
	if got := tgt.Target64(); got != 1 {
		t.Errorf("target64 = %d, want 1", got)
	}
}
