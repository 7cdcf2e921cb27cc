package grain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Grain
// =============================================================================

// Grain is the immutable compressed record produced by crystallizing a
// validated phantom candidate. Ternary evidence is stored as two parallel
// bit planes: bit p of BitArrayPlus set means positive evidence at position
// p, bit p of BitArrayMinus means negative evidence, both unset means void.
// At most one of the two may be set for any position.
type Grain struct {
	// GrainID is a 16-hex-char digest derived from the source phantom ID
	// and its creation timestamp. Unique per crystallization.
	GrainID string `json:"grain_id"`

	SourcePhantomID string `json:"source_phantom_id"`
	CartridgeID     string `json:"cartridge_id"`

	// SourceFactIDs is the fact set the grain crystallized from. The
	// independence rule reads it through the Identity capability; records
	// restored without it are skipped by that rule, not errored.
	SourceFactIDs []int64 `json:"source_fact_ids,omitempty"`

	NumBits      int `json:"num_bits"`
	BitsPositive int `json:"bits_positive"`
	BitsNegative int `json:"bits_negative"`
	BitsVoid     int `json:"bits_void"`

	AxiomIDs []string `json:"axiom_ids"`

	// EvidenceHash is the full hex digest of the canonicalized evidence
	// behind the grain. Unlike GrainID it does not vary with
	// crystallization time, so it serves as an idempotence fingerprint.
	EvidenceHash string `json:"evidence_hash"`

	// InternalHamming is a coherence score on a 0-8 scale, derived from
	// the variance of per-weight confidences. It is a proxy, not a
	// pairwise Hamming distance between observations.
	InternalHamming float64 `json:"internal_hamming"`

	// WeightSkew is the coefficient of variation of the positive and
	// negative bit counts. Lower means a more balanced grain.
	WeightSkew float64 `json:"weight_skew"`

	AvgConfidence    float64 `json:"avg_confidence"`
	ObservationCount int     `json:"observation_count"`

	BitArrayPlus  []byte `json:"bit_array_plus"`
	BitArrayMinus []byte `json:"bit_array_minus"`

	EpistemicLevel EpistemicLevel `json:"epistemic_level"`
}

// Identity names the attributes the independence rule compares grains by.
type Identity struct {
	GrainID string
	FactIDs []int64
}

// Identity reports the grain's identity for independence scoring. A grain
// restored without its source fact set answers false and is skipped.
func (g *Grain) Identity() (Identity, bool) {
	if g == nil || len(g.SourceFactIDs) == 0 {
		return Identity{}, false
	}
	return Identity{GrainID: g.GrainID, FactIDs: g.SourceFactIDs}, true
}

// =============================================================================
// Invariant checks
// =============================================================================

// Validation errors for Grain.
var (
	ErrGrainIDEmpty       = errors.New("grain: grain id cannot be empty")
	ErrGrainBitSumInvalid = errors.New("grain: positive+negative+void must equal num_bits")
	ErrGrainPlaneSize     = errors.New("grain: bit plane size must be ceil(num_bits/8)")
	ErrGrainBitConflict   = errors.New("grain: a position cannot carry both plus and minus bits")
)

// Validate checks the grain's structural invariants.
func (g *Grain) Validate() error {
	if g.GrainID == "" {
		return ErrGrainIDEmpty
	}
	if g.BitsPositive+g.BitsNegative+g.BitsVoid != g.NumBits {
		return fmt.Errorf("%w: %d+%d+%d != %d",
			ErrGrainBitSumInvalid, g.BitsPositive, g.BitsNegative, g.BitsVoid, g.NumBits)
	}
	planeLen := (g.NumBits + 7) / 8
	if len(g.BitArrayPlus) != planeLen || len(g.BitArrayMinus) != planeLen {
		return fmt.Errorf("%w: got %d/%d bytes, want %d",
			ErrGrainPlaneSize, len(g.BitArrayPlus), len(g.BitArrayMinus), planeLen)
	}
	for i := range g.BitArrayPlus {
		if g.BitArrayPlus[i]&g.BitArrayMinus[i] != 0 {
			return fmt.Errorf("%w: byte %d", ErrGrainBitConflict, i)
		}
	}
	return nil
}
