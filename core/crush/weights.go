package crush

import (
	"fmt"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/floats"

	"github.com/voxfield/kitbash/core/grain"
)

// =============================================================================
// Ternary Weights
// =============================================================================

// TernaryWeight is a single position in a grain's weight vector. Value is
// restricted to {-1, 0, +1}; Confidence records how strongly the inference
// supported that value and is not preserved by the bit-sliced encoding.
type TernaryWeight struct {
	Position   int     `json:"position"`
	Value      int8    `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Heuristic inference partitions the bit space into contiguous runs. The
// shares are placeholders until real observation vectors flow through the
// pipeline; roughly half of every synthetic grain stays void.
const (
	// HeuristicPositiveShare is the fraction of positions forced to +1.
	HeuristicPositiveShare = 0.30
	// HeuristicNegativeShare is the fraction of positions forced to -1.
	HeuristicNegativeShare = 0.20
	// HeuristicConfidenceBoost is added to the phantom's average confidence
	// for positive positions.
	HeuristicConfidenceBoost = 0.05
)

// Strategy infers ternary weights for a phantom candidate.
//
// Implementations must return exactly one weight per bit position, in
// position order, so that the slicer can pack them without gaps.
type Strategy interface {
	// Name identifies the strategy in logs and grain provenance.
	Name() string

	// Infer produces the dense weight vector for the phantom. The vectors
	// argument may be nil for strategies that do not consume observations.
	Infer(phantom *grain.PhantomCandidate, vectors [][]float64) ([]TernaryWeight, error)
}

// =============================================================================
// Vector Strategy
// =============================================================================

// VectorStrategy aggregates real observation vectors into a confidence-
// weighted mean and thresholds each component to ternary. Components whose
// aggregate magnitude stays within the threshold band become void.
type VectorStrategy struct {
	// NumBits is the required dimensionality of every observation vector.
	NumBits int

	// Threshold is the minimum aggregate magnitude for a non-void weight.
	Threshold float64
}

// Name implements Strategy.
func (s *VectorStrategy) Name() string { return "vector" }

// Infer implements Strategy. Every observation vector must have exactly
// NumBits components; a mismatch is a hard error rather than a degraded
// grain. Vectors are paired with the phantom's confidence scores in order,
// and unpaired trailing vectors are ignored.
func (s *VectorStrategy) Infer(phantom *grain.PhantomCandidate, vectors [][]float64) ([]TernaryWeight, error) {
	if len(vectors) == 0 {
		return []TernaryWeight{}, nil
	}

	for i, vec := range vectors {
		if len(vec) != s.NumBits {
			return nil, fmt.Errorf("%w: vector %d has %d components, want %d",
				ErrVectorDimension, i, len(vec), s.NumBits)
		}
	}

	confidences := phantom.ConfidenceScores
	totalConfidence := 0.0
	if len(confidences) > 0 {
		totalConfidence = floats.Sum(confidences)
	}

	paired := len(vectors)
	if len(confidences) < paired {
		paired = len(confidences)
	}

	aggregated := make([]float64, s.NumBits)
	scratch := make([]float64, s.NumBits)
	uniform := 1.0 / float64(len(vectors))

	for i := 0; i < paired; i++ {
		weight := uniform
		if totalConfidence > 0 {
			weight = confidences[i] / totalConfidence
		}
		copy(scratch, vectors[i])
		vek.MulNumber_Inplace(scratch, weight)
		vek.Add_Inplace(aggregated, scratch)
	}

	weights := make([]TernaryWeight, 0, s.NumBits)
	for position, value := range aggregated {
		w := TernaryWeight{Position: position}
		switch {
		case value > s.Threshold:
			w.Value = 1
			w.Confidence = min(1.0, value)
		case value < -s.Threshold:
			w.Value = -1
			w.Confidence = min(1.0, -value)
		}
		weights = append(weights, w)
	}

	return weights, nil
}

// =============================================================================
// Heuristic Strategy
// =============================================================================

// HeuristicStrategy seeds weights from the phantom's confidence history
// alone. The first ~30% of positions go positive with boosted confidence,
// the next ~20% go negative with inverted confidence, and the remainder
// stays void. It never fails and never reads observation vectors.
type HeuristicStrategy struct {
	NumBits int
}

// Name implements Strategy.
func (s *HeuristicStrategy) Name() string { return "heuristic" }

// Infer implements Strategy.
func (s *HeuristicStrategy) Infer(phantom *grain.PhantomCandidate, _ [][]float64) ([]TernaryWeight, error) {
	avgConf := phantom.AvgConfidence()

	positiveCount := int(float64(s.NumBits) * HeuristicPositiveShare)
	negativeCount := int(float64(s.NumBits) * HeuristicNegativeShare)

	weights := make([]TernaryWeight, 0, s.NumBits)
	for position := 0; position < s.NumBits; position++ {
		w := TernaryWeight{Position: position}
		switch {
		case position < positiveCount:
			w.Value = 1
			w.Confidence = avgConf + HeuristicConfidenceBoost
		case position < positiveCount+negativeCount:
			w.Value = -1
			w.Confidence = 1.0 - avgConf
		}
		weights = append(weights, w)
	}

	return weights, nil
}
