package mining

import (
	"encoding/binary"
	"math"
	"math/big"
)

// maxTarget256 is 2^256 - 1.
var maxTarget256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Target holds the precomputed share target for one (algorithm, difficulty)
// pair. The representation differs per algorithm family and each one
// reproduces the corresponding pool check bit for bit.
type Target struct {
	algo       Algorithm
	difficulty uint64

	// RandomX family: LE uint64 of digest[0:8] <= target64.
	target64 uint64

	// 256-bit family: full target as a big integer.
	target256 *big.Int

	// Cosmic Harmony: LE uint32 of digest[0:4] <= truncated32,
	// where truncated32 is the top 32 bits of target256.
	truncated32 uint32
}

// NewTarget computes the share target for the given pool difficulty.
// Difficulty is used verbatim; zero is treated as one.
func NewTarget(algo Algorithm, difficulty uint64) *Target {
	diff := max(difficulty, 1)

	t := &Target{algo: algo, difficulty: difficulty}

	if algo.Uses64BitTarget() {
		t.target64 = math.MaxUint64 / diff
		return t
	}

	t.target256 = new(big.Int).Div(maxTarget256, new(big.Int).SetUint64(diff))
	if algo == AlgoCosmicHarmony {
		t.truncated32 = uint32(new(big.Int).Rsh(t.target256, 224).Uint64())
	}
	return t
}

// Difficulty returns the pool difficulty this target was derived from.
func (t *Target) Difficulty() uint64 {
	return t.difficulty
}

// Target64 returns the 64-bit target (RandomX family only).
func (t *Target) Target64() uint64 {
	return t.target64
}

// Truncated32 returns the truncated 32-bit target (Cosmic Harmony only).
func (t *Target) Truncated32() uint32 {
	return t.truncated32
}

// Meets reports whether digest satisfies the target under this
// algorithm's comparison rule.
func (t *Target) Meets(digest [32]byte) bool {
	switch {
	case t.algo.Uses64BitTarget():
		return binary.LittleEndian.Uint64(digest[0:8]) <= t.target64

	case t.algo == AlgoCosmicHarmony:
		return binary.LittleEndian.Uint32(digest[0:4]) <= t.truncated32

	default:
		// Big-endian 256-bit value strictly below the target.
		v := new(big.Int).SetBytes(digest[:])
		return v.Cmp(t.target256) < 0
	}
}
