// Package hasher defines the hash provider boundary. The mining loops treat
// proof-of-work functions as opaque capabilities selected once per session;
// native-backed variants are registered by embedders at startup.
package hasher

import (
	"sort"
	"sync"

	"github.com/zion-network/zminer/internal/mining"
	"github.com/zion-network/zminer/pkg/errors"
)

// Provider computes one digest per (data, nonce) pair. Implementations
// must be deterministic and safe for concurrent use.
type Provider interface {
	Variant() Variant
	Compute(data []byte, nonce uint64) ([32]byte, error)
	Close() error
}

// BatchProvider computes a contiguous run of nonces in one call. The
// result at index i must equal Compute(data, nonceStart+uint64(i)).
type BatchProvider interface {
	Provider
	ComputeBatch(data []byte, nonceStart uint64, count int) ([][32]byte, error)
}

// Variant names one concrete provider implementation.
type Variant string

const (
	VariantRandomX        Variant = "randomx"
	VariantYescrypt       Variant = "yescrypt"
	VariantCosmicNative   Variant = "cosmic_harmony_native"
	VariantCosmicFallback Variant = "cosmic_harmony_fallback"
	VariantAutolykosGpu   Variant = "autolykos2_gpu"
	VariantDev            Variant = "dev_sha256"
)

// Factory constructs a provider, or fails if the backing implementation
// cannot initialize (missing native library, no GPU device).
type Factory func() (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[Variant]Factory{}
)

// Register installs a factory for a variant. Embedders call this for
// native-backed variants before the session starts. Later registrations
// replace earlier ones.
func Register(v Variant, f Factory) {
	registryMu.Lock()
	registry[v] = f
	registryMu.Unlock()
}

// New constructs the provider for a variant.
func New(v Variant) (Provider, error) {
	registryMu.RLock()
	f, ok := registry[v]
	registryMu.RUnlock()

	if !ok {
		return nil, errors.New(errors.ErrorTypeHashProvider, "new_provider",
			"no implementation registered").
			WithContext("variant", string(v))
	}
	return f()
}

// Registered returns the variants with an installed factory, sorted.
func Registered() []Variant {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]Variant, 0, len(registry))
	for v := range registry {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// variantPreference maps each algorithm to its provider variants in
// selection order. Native implementations win over software fallbacks.
var variantPreference = map[mining.Algorithm][]Variant{
	mining.AlgoCosmicHarmony: {VariantCosmicNative, VariantCosmicFallback},
	mining.AlgoRandomX:       {VariantRandomX},
	mining.AlgoYescrypt:      {VariantYescrypt},
	mining.AlgoAutolykos2:    {VariantAutolykosGpu},
}

// ForAlgorithm constructs the best available provider for an algorithm.
// A factory error from the preferred variant falls through to the next
// candidate; if none can initialize the last error is returned.
func ForAlgorithm(algo mining.Algorithm) (Provider, error) {
	prefs, ok := variantPreference[algo]
	if !ok {
		return nil, errors.New(errors.ErrorTypeHashProvider, "for_algorithm",
			"no provider variants defined").
			WithContext("algorithm", algo.String())
	}

	var lastErr error
	for _, v := range prefs {
		p, err := New(v)
		if err == nil {
			return p, nil
		}
		lastErr = err
	}
	return nil, errors.Wrap(lastErr, errors.ErrorTypeHashProvider, "for_algorithm",
		"no provider available").
		WithContext("algorithm", algo.String())
}

// batchAdapter turns any Provider into a BatchProvider with a per-nonce
// loop, for environments without a real batch kernel.
type batchAdapter struct {
	Provider
}

// AsBatch returns p unchanged if it already batches, otherwise wraps it
// in a per-nonce loop adapter.
func AsBatch(p Provider) BatchProvider {
	if bp, ok := p.(BatchProvider); ok {
		return bp
	}
	return &batchAdapter{Provider: p}
}

func (b *batchAdapter) ComputeBatch(data []byte, nonceStart uint64, count int) ([][32]byte, error) {
	out := make([][32]byte, count)
	for i := 0; i < count; i++ {
		d, err := b.Compute(data, nonceStart+uint64(i))
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
