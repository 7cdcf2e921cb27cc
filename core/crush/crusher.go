// Package crush compresses validated phantom candidates into immutable
// ternary grains.
//
// A grain stores one ternary weight per bit position, bit-sliced into two
// parallel planes:
//   - plus plane:  bit set where the weight is +1
//   - minus plane: bit set where the weight is -1
//   - both clear:  the weight is void (0)
//
// Two planes of ceil(num_bits/8) bytes each hold the full ternary state, a
// 16x reduction over a float32 vector of the same dimensionality. The
// encoding is lossless for weight values; per-weight confidences are
// collapsed to 1.0 (set) or 0.0 (void) on the way back out.
package crush

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
	"gonum.org/v1/gonum/stat"

	"github.com/voxfield/kitbash/core/grain"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNilPhantom indicates a nil phantom candidate was passed in.
	ErrNilPhantom = errors.New("crush: phantom candidate is nil")

	// ErrVectorDimension indicates an observation vector whose length does
	// not match the configured bit count.
	ErrVectorDimension = errors.New("crush: observation vector dimension mismatch")

	// ErrPlaneLengthMismatch indicates bit planes whose sizes disagree with
	// each other or with the configured bit count.
	ErrPlaneLengthMismatch = errors.New("crush: bit plane length mismatch")

	// ErrInvalidConfig indicates an unusable crusher configuration.
	ErrInvalidConfig = errors.New("crush: invalid config")
)

// grainIDBytes is the digest length drawn from SHAKE-128 for grain IDs,
// rendering as 16 hex characters.
const grainIDBytes = 8

// =============================================================================
// Configuration
// =============================================================================

// Config controls grain geometry and weight inference.
type Config struct {
	// NumBits is the number of ternary positions per grain.
	NumBits int `json:"num_bits" yaml:"num_bits"`

	// ConfidenceThreshold is the minimum aggregate magnitude a vector
	// component needs before it becomes a non-void weight. Only the vector
	// strategy consults it.
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
}

// DefaultConfig returns the standard 256-bit grain geometry.
func DefaultConfig() Config {
	return Config{
		NumBits:             256,
		ConfidenceThreshold: 0.7,
	}
}

// Validate checks the configuration for usability.
func (c Config) Validate() error {
	if c.NumBits <= 0 {
		return fmt.Errorf("%w: num_bits must be positive, got %d", ErrInvalidConfig, c.NumBits)
	}
	if c.ConfidenceThreshold < 0 {
		return fmt.Errorf("%w: confidence_threshold must be non-negative, got %f",
			ErrInvalidConfig, c.ConfidenceThreshold)
	}
	return nil
}

// PlaneSize returns the byte length of each bit plane.
func (c Config) PlaneSize() int {
	return (c.NumBits + 7) / 8
}

// =============================================================================
// Crusher
// =============================================================================

// Crusher converts phantom candidates into bit-sliced ternary grains. It
// holds only configuration and stateless strategies, so a single instance
// is safe for concurrent use.
type Crusher struct {
	config    Config
	vector    Strategy
	heuristic Strategy
}

// New creates a Crusher with the given configuration.
func New(config Config) (*Crusher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Crusher{
		config: config,
		vector: &VectorStrategy{
			NumBits:   config.NumBits,
			Threshold: config.ConfidenceThreshold,
		},
		heuristic: &HeuristicStrategy{NumBits: config.NumBits},
	}, nil
}

// Config returns the crusher's configuration.
func (cr *Crusher) Config() Config {
	return cr.config
}

// InferWeights produces the ternary weight vector for a phantom. When
// observation vectors are present the vector strategy aggregates and
// thresholds them; otherwise the heuristic strategy seeds weights from the
// confidence history alone.
func (cr *Crusher) InferWeights(phantom *grain.PhantomCandidate, vectors [][]float64) ([]TernaryWeight, error) {
	if phantom == nil {
		return nil, ErrNilPhantom
	}
	strategy := cr.heuristic
	if len(vectors) > 0 {
		strategy = cr.vector
	}
	weights, err := strategy.Infer(phantom, vectors)
	if err != nil {
		return nil, fmt.Errorf("%s strategy: %w", strategy.Name(), err)
	}
	return weights, nil
}

// =============================================================================
// Bit-Sliced Storage
// =============================================================================

// SliceBits packs ternary weights into the plus and minus planes. Void
// weights leave both planes clear; positions outside [0, NumBits) are
// ignored.
func (cr *Crusher) SliceBits(weights []TernaryWeight) (plus, minus BitPlane) {
	plus = NewBitPlane(cr.config.NumBits)
	minus = NewBitPlane(cr.config.NumBits)

	for _, w := range weights {
		if w.Position < 0 || w.Position >= cr.config.NumBits {
			continue
		}
		switch w.Value {
		case 1:
			plus.SetBit(w.Position, true)
		case -1:
			minus.SetBit(w.Position, true)
		}
	}
	return plus, minus
}

// WeightsFromBits reconstructs the dense weight vector from two planes.
// Weight values round-trip exactly; confidences come back as 1.0 for set
// positions and 0.0 for void ones, because the planes do not store them.
// If a corrupt grain has a position set in both planes, the plus plane
// wins.
func (cr *Crusher) WeightsFromBits(plus, minus BitPlane) ([]TernaryWeight, error) {
	planeSize := cr.config.PlaneSize()
	if len(plus) != planeSize || len(minus) != planeSize {
		return nil, fmt.Errorf("%w: plus=%d minus=%d, want %d bytes",
			ErrPlaneLengthMismatch, len(plus), len(minus), planeSize)
	}

	weights := make([]TernaryWeight, 0, cr.config.NumBits)
	for position := 0; position < cr.config.NumBits; position++ {
		w := TernaryWeight{Position: position}
		switch {
		case plus.Bit(position):
			w.Value = 1
			w.Confidence = 1.0
		case minus.Bit(position):
			w.Value = -1
			w.Confidence = 1.0
		}
		weights = append(weights, w)
	}
	return weights, nil
}

// =============================================================================
// Crystallization
// =============================================================================

// Crystallize converts a phantom into a complete grain: weights are
// inferred, sliced into planes, and wrapped with quality metrics and
// provenance hashes. The phantom itself is not modified.
func (cr *Crusher) Crystallize(phantom *grain.PhantomCandidate, vectors [][]float64, axiomIDs []string) (*grain.Grain, error) {
	if phantom == nil {
		return nil, ErrNilPhantom
	}

	weights, err := cr.InferWeights(phantom, vectors)
	if err != nil {
		return nil, err
	}

	positiveCount := 0
	negativeCount := 0
	for _, w := range weights {
		switch w.Value {
		case 1:
			positiveCount++
		case -1:
			negativeCount++
		}
	}
	voidCount := cr.config.NumBits - positiveCount - negativeCount

	plus, minus := cr.SliceBits(weights)

	evidenceHash, err := deriveEvidenceHash(phantom)
	if err != nil {
		return nil, fmt.Errorf("crush: evidence hash: %w", err)
	}

	ids := make([]string, len(axiomIDs))
	copy(ids, axiomIDs)

	g := &grain.Grain{
		GrainID:          deriveGrainID(phantom.PhantomID, phantom.CreatedAt),
		SourcePhantomID:  phantom.PhantomID,
		CartridgeID:      phantom.CartridgeID,
		SourceFactIDs:    phantom.SortedFactIDs(),
		NumBits:          cr.config.NumBits,
		BitsPositive:     positiveCount,
		BitsNegative:     negativeCount,
		BitsVoid:         voidCount,
		AxiomIDs:         ids,
		EvidenceHash:     evidenceHash,
		InternalHamming:  internalHamming(weights),
		WeightSkew:       weightSkew(positiveCount, negativeCount),
		AvgConfidence:    phantom.AvgConfidence(),
		ObservationCount: phantom.HitCount,
		BitArrayPlus:     []byte(plus),
		BitArrayMinus:    []byte(minus),
		EpistemicLevel:   phantom.EpistemicLevel,
	}
	return g, nil
}

// EvidenceFingerprint returns the evidence hash a grain crystallized from
// this phantom would carry, without performing the crystallization. Callers
// use it to detect duplicate evidence before committing to a crush.
func (cr *Crusher) EvidenceFingerprint(phantom *grain.PhantomCandidate) (string, error) {
	if phantom == nil {
		return "", ErrNilPhantom
	}
	hash, err := deriveEvidenceHash(phantom)
	if err != nil {
		return "", fmt.Errorf("crush: evidence hash: %w", err)
	}
	return hash, nil
}

// =============================================================================
// Quality Metrics
// =============================================================================

// internalHamming estimates intra-grain coherence from the spread of weight
// confidences: sample variance scaled onto the 0-8 range used by the
// quality thresholds. It is a proxy, not a pairwise bit distance; see
// HammingDistance for the literal metric.
func internalHamming(weights []TernaryWeight) float64 {
	if len(weights) < 2 {
		return 0.0
	}
	values := make([]float64, len(weights))
	for i, w := range weights {
		values[i] = w.Confidence
	}
	return min(stat.Variance(values, nil)*10, 8.0)
}

// weightSkew measures imbalance between the positive and negative
// populations as a coefficient of variation: population standard deviation
// over mean of the two counts. Zero when both counts are zero.
func weightSkew(positiveCount, negativeCount int) float64 {
	if positiveCount == 0 && negativeCount == 0 {
		return 0.0
	}
	values := []float64{float64(positiveCount), float64(negativeCount)}
	mean := stat.Mean(values, nil)
	if mean == 0 {
		return 0.0
	}
	return stat.PopStdDev(values, nil) / mean
}

// =============================================================================
// Identity & Evidence
// =============================================================================

// deriveGrainID produces a 16-hex-character grain identifier from the
// phantom's identity and creation time via SHAKE-128.
func deriveGrainID(phantomID, createdAt string) string {
	shake := sha3.NewShake128()
	shake.Write([]byte(phantomID))
	shake.Write([]byte(":"))
	shake.Write([]byte(createdAt))
	var buf [grainIDBytes]byte
	shake.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

// evidenceRecord is the canonical evidence form. Fields are declared in
// alphabetical key order so the marshaled bytes are stable.
type evidenceRecord struct {
	AvgConfidence float64  `json:"avg_confidence"`
	FactIDs       []int64  `json:"fact_ids"`
	HitCount      int      `json:"hit_count"`
	PhantomID     string   `json:"phantom_id"`
	QueryConcepts []string `json:"query_concepts"`
}

// deriveEvidenceHash fingerprints the evidence that supported a grain:
// the full content hash of the canonicalized evidence record. Fact IDs are
// sorted so the hash is insensitive to observation order.
func deriveEvidenceHash(phantom *grain.PhantomCandidate) (string, error) {
	concepts := phantom.QueryConcepts
	if concepts == nil {
		concepts = []string{}
	}
	record := evidenceRecord{
		AvgConfidence: phantom.AvgConfidence(),
		FactIDs:       phantom.SortedFactIDs(),
		HitCount:      phantom.HitCount,
		PhantomID:     phantom.PhantomID,
		QueryConcepts: concepts,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	return grain.ContentHash(payload), nil
}
