package crush

import (
	"math"

	"github.com/voxfield/kitbash/core/grain"
)

// float32Bytes is the per-component cost of the dense embedding baseline.
const float32Bytes = 4

// CompressionStats compares a grain's bit-sliced footprint against a dense
// float32 vector of the same dimensionality.
type CompressionStats struct {
	TernarySizeBytes   int     `json:"ternary_size_bytes"`
	EmbeddingSizeBytes int     `json:"embedding_size_bytes"`
	CompressionRatio   float64 `json:"compression_ratio"`
	SavingsPercent     float64 `json:"savings_percent"`
}

// ComputeCompressionStats reports how much storage the grain saves over a
// float32 embedding with one component per bit position. The baseline
// follows the grain's own NumBits rather than assuming a fixed geometry.
func ComputeCompressionStats(g *grain.Grain) CompressionStats {
	ternarySize := len(g.BitArrayPlus) + len(g.BitArrayMinus)
	embeddingSize := g.NumBits * float32Bytes
	if embeddingSize <= 0 {
		return CompressionStats{TernarySizeBytes: ternarySize}
	}

	ratio := float64(ternarySize) / float64(embeddingSize)
	return CompressionStats{
		TernarySizeBytes:   ternarySize,
		EmbeddingSizeBytes: embeddingSize,
		CompressionRatio:   roundTo(ratio, 3),
		SavingsPercent:     roundTo(100*(1-ratio), 1),
	}
}

func roundTo(value float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(value*scale) / scale
}
