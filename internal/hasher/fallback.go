package hasher

import (
	"encoding/binary"
	"math/bits"
)

func init() {
	Register(VariantCosmicFallback, func() (Provider, error) {
		return &CosmicHarmonyFallback{}, nil
	})
}

// CosmicHarmonyFallback is the pure-software Cosmic Harmony hasher. It
// reproduces the GPU kernel exactly: SHA-256 IV state, header words and
// nonce XORed in, 12 mix rounds with a half swap, an XOR fold and a PHI
// multiply, state emitted little-endian.
type CosmicHarmonyFallback struct{}

const cosmicPhi = 0x9E3779B9

func cosmicMix(a, b, c uint32) uint32 {
	return bits.RotateLeft32(a^b, 5) + c
}

// Variant implements Provider.
func (*CosmicHarmonyFallback) Variant() Variant {
	return VariantCosmicFallback
}

// Compute implements Provider. Only the low 32 bits of the nonce are
// significant; the wire nonce is a uint32.
func (*CosmicHarmonyFallback) Compute(data []byte, nonce uint64) ([32]byte, error) {
	state := [8]uint32{
		0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a,
		0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19,
	}

	words := len(data) / 4
	if words > 8 {
		words = 8
	}
	for i := 0; i < words; i++ {
		state[i] ^= binary.LittleEndian.Uint32(data[i*4:])
	}

	n := uint32(nonce)
	state[0] ^= n
	state[1] ^= n >> 16

	for round := 0; round < 12; round++ {
		for i := 0; i < 8; i++ {
			state[i] = cosmicMix(state[i], state[(i+1)%8], state[(i+2)%8])
		}
		for i := 0; i < 4; i++ {
			state[i], state[i+4] = state[i+4], state[i]
		}
	}

	var fold uint32
	for _, s := range state {
		fold ^= s
	}
	for i := range state {
		state[i] ^= fold
		state[i] *= cosmicPhi
	}

	var out [32]byte
	for i, s := range state {
		binary.LittleEndian.PutUint32(out[i*4:], s)
	}
	return out, nil
}

// Close implements Provider.
func (*CosmicHarmonyFallback) Close() error {
	return nil
}
