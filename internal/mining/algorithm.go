// Package mining holds the core mining domain types: algorithms, jobs,
// difficulty targets and nonce allocation.
package mining

import (
	"fmt"
	"strings"
)

// Algorithm identifies a supported proof-of-work algorithm.
type Algorithm string

const (
	AlgoCosmicHarmony Algorithm = "cosmic_harmony"
	AlgoRandomX       Algorithm = "randomx"
	AlgoYescrypt      Algorithm = "yescrypt"
	AlgoAutolykos2    Algorithm = "autolykos2"
)

// algorithmCycle is the order the interactive algorithm-switch command
// walks through.
var algorithmCycle = []Algorithm{AlgoCosmicHarmony, AlgoRandomX, AlgoYescrypt}

// ParseAlgorithm converts a config string into an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosmic_harmony", "cosmic-harmony", "cosmicharmony":
		return AlgoCosmicHarmony, nil
	case "randomx", "rx":
		return AlgoRandomX, nil
	case "yescrypt":
		return AlgoYescrypt, nil
	case "autolykos2", "autolykos":
		return AlgoAutolykos2, nil
	default:
		return "", fmt.Errorf("unknown algorithm %q", s)
	}
}

// Next returns the algorithm that follows a in the switch cycle.
// Algorithms outside the cycle (autolykos2) fall back to the cycle head.
func (a Algorithm) Next() Algorithm {
	for i, algo := range algorithmCycle {
		if algo == a {
			return algorithmCycle[(i+1)%len(algorithmCycle)]
		}
	}
	return algorithmCycle[0]
}

// Uses64BitTarget reports whether share checks compare the first 8 digest
// bytes against a 64-bit target (RandomX convention) instead of a 256-bit one.
func (a Algorithm) Uses64BitTarget() bool {
	return a == AlgoRandomX
}

// NonceInBlob reports whether the nonce is written into the work blob
// before hashing. Cosmic Harmony and Autolykos take the nonce as a
// separate provider argument instead.
func (a Algorithm) NonceInBlob() bool {
	switch a {
	case AlgoRandomX, AlgoYescrypt:
		return true
	default:
		return false
	}
}

// SupportsGPU reports whether a GPU backend exists for this algorithm.
func (a Algorithm) SupportsGPU() bool {
	switch a {
	case AlgoCosmicHarmony, AlgoAutolykos2:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (a Algorithm) String() string {
	return string(a)
}

// NonceOffset is the byte offset of the little-endian uint32 nonce field
// inside work blobs for blob-embedded algorithms.
const NonceOffset = 38

// ApplyNonce writes nonce as a little-endian uint32 at NonceOffset.
// The blob must be at least NonceOffset+4 bytes.
func ApplyNonce(blob []byte, nonce uint32) error {
	if len(blob) < NonceOffset+4 {
		return fmt.Errorf("blob too short for nonce: %d bytes", len(blob))
	}
	blob[NonceOffset] = byte(nonce)
	blob[NonceOffset+1] = byte(nonce >> 8)
	blob[NonceOffset+2] = byte(nonce >> 16)
	blob[NonceOffset+3] = byte(nonce >> 24)
	return nil
}
