package hasher

import (
	"encoding/binary"

	"github.com/minio/sha256-simd"
)

func init() {
	Register(VariantDev, func() (Provider, error) {
		return &devProvider{}, nil
	})
}

// devProvider is a deterministic SHA-256 stand-in used by benchmarks and
// tests. It never ships as a real algorithm backend.
type devProvider struct{}

func (*devProvider) Variant() Variant {
	return VariantDev
}

func (*devProvider) Compute(data []byte, nonce uint64) ([32]byte, error) {
	h := sha256.New()
	h.Write(data)

	var nb [8]byte
	binary.LittleEndian.PutUint64(nb[:], nonce)
	h.Write(nb[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

func (*devProvider) Close() error {
	return nil
}
