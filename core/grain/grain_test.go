package grain

import (
	"errors"
	"math"
	"testing"
)

func validGrain() *Grain {
	return &Grain{
		GrainID:         "a1b2c3d4e5f60718",
		SourcePhantomID: "phantom-1",
		CartridgeID:     "cart-1",
		SourceFactIDs:   []int64{1, 2, 3},
		NumBits:         16,
		BitsPositive:    2,
		BitsNegative:    1,
		BitsVoid:        13,
		AxiomIDs:        []string{"axiom-persistence"},
		EvidenceHash:    "deadbeef",
		AvgConfidence:   0.9,
		BitArrayPlus:    []byte{0b00000011, 0b00000000},
		BitArrayMinus:   []byte{0b00000100, 0b00000000},
		EpistemicLevel:  LevelCrystallized,
	}
}

// =============================================================================
// TestGrain_Validate - structural invariants
// =============================================================================

func TestGrain_Validate(t *testing.T) {
	if err := validGrain().Validate(); err != nil {
		t.Fatalf("valid grain failed validation: %v", err)
	}
}

func TestGrain_Validate_EmptyID(t *testing.T) {
	g := validGrain()
	g.GrainID = ""
	if err := g.Validate(); !errors.Is(err, ErrGrainIDEmpty) {
		t.Errorf("Validate() = %v, want ErrGrainIDEmpty", err)
	}
}

func TestGrain_Validate_BitSumInvariant(t *testing.T) {
	g := validGrain()
	g.BitsVoid = 12
	if err := g.Validate(); !errors.Is(err, ErrGrainBitSumInvalid) {
		t.Errorf("Validate() = %v, want ErrGrainBitSumInvalid", err)
	}
}

func TestGrain_Validate_PlaneSize(t *testing.T) {
	g := validGrain()
	g.BitArrayPlus = []byte{0b00000011}
	if err := g.Validate(); !errors.Is(err, ErrGrainPlaneSize) {
		t.Errorf("Validate() = %v, want ErrGrainPlaneSize", err)
	}
}

func TestGrain_Validate_MutualExclusivity(t *testing.T) {
	g := validGrain()
	// Position 0 set in both planes.
	g.BitArrayMinus[0] |= 0b00000001
	if err := g.Validate(); !errors.Is(err, ErrGrainBitConflict) {
		t.Errorf("Validate() = %v, want ErrGrainBitConflict", err)
	}
}

// =============================================================================
// TestGrain_Identity - independence capability
// =============================================================================

func TestGrain_Identity(t *testing.T) {
	g := validGrain()
	id, ok := g.Identity()
	if !ok {
		t.Fatal("grain with fact IDs should report an identity")
	}
	if id.GrainID != g.GrainID {
		t.Errorf("identity GrainID = %q, want %q", id.GrainID, g.GrainID)
	}
	if len(id.FactIDs) != 3 {
		t.Errorf("identity FactIDs = %v, want 3 entries", id.FactIDs)
	}
}

func TestGrain_Identity_MissingFactSet(t *testing.T) {
	g := validGrain()
	g.SourceFactIDs = nil
	if _, ok := g.Identity(); ok {
		t.Error("grain without fact IDs should not report an identity")
	}

	var nilGrain *Grain
	if _, ok := nilGrain.Identity(); ok {
		t.Error("nil grain should not report an identity")
	}
}

// =============================================================================
// TestPhantomCandidate - candidate helpers
// =============================================================================

func TestPhantomCandidate_AvgConfidence(t *testing.T) {
	tests := []struct {
		name     string
		scores   []float64
		expected float64
	}{
		{"no scores", nil, 0.0},
		{"single score", []float64{0.8}, 0.8},
		{"several scores", []float64{0.5, 1.0, 0.75}, 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &PhantomCandidate{ConfidenceScores: tt.scores}
			if got := c.AvgConfidence(); math.Abs(got-tt.expected) > 1e-12 {
				t.Errorf("AvgConfidence() = %f, want %f", got, tt.expected)
			}
		})
	}
}

func TestPhantomCandidate_SortedFactIDs(t *testing.T) {
	c := &PhantomCandidate{FactIDs: []int64{30, 10, 20}}
	sorted := c.SortedFactIDs()

	for i, want := range []int64{10, 20, 30} {
		if sorted[i] != want {
			t.Errorf("sorted[%d] = %d, want %d", i, sorted[i], want)
		}
	}
	// The candidate's own slice stays untouched.
	if c.FactIDs[0] != 30 {
		t.Error("SortedFactIDs() must not mutate the candidate")
	}
}

func TestPhantomCandidate_FactIDSet(t *testing.T) {
	c := &PhantomCandidate{FactIDs: []int64{1, 2, 2, 3}}
	set := c.FactIDSet()
	if len(set) != 3 {
		t.Errorf("FactIDSet() has %d entries, want 3", len(set))
	}
	if _, ok := set[2]; !ok {
		t.Error("FactIDSet() missing id 2")
	}
}

// =============================================================================
// TestEpistemicLevel - ladder ordering
// =============================================================================

func TestEpistemicLevel_IsValid(t *testing.T) {
	for _, l := range []EpistemicLevel{LevelObserved, LevelCorroborated, LevelCrystallized, LevelAxiomatic} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if EpistemicLevel("hunch").IsValid() {
		t.Error("unknown level should not be valid")
	}
}

func TestEpistemicLevel_AtLeast(t *testing.T) {
	if !LevelCrystallized.AtLeast(LevelObserved) {
		t.Error("crystallized should rank at least observed")
	}
	if !LevelAxiomatic.AtLeast(LevelAxiomatic) {
		t.Error("a level should rank at least itself")
	}
	if LevelObserved.AtLeast(LevelCorroborated) {
		t.Error("observed should rank below corroborated")
	}
}

func TestParseEpistemicLevel(t *testing.T) {
	l, err := ParseEpistemicLevel("corroborated")
	if err != nil {
		t.Fatalf("ParseEpistemicLevel() error = %v", err)
	}
	if l != LevelCorroborated {
		t.Errorf("ParseEpistemicLevel() = %q, want %q", l, LevelCorroborated)
	}

	if _, err := ParseEpistemicLevel("guesswork"); err == nil {
		t.Error("expected error for unknown level")
	}
}

// =============================================================================
// TestContentHash - shared fingerprint helper
// =============================================================================

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("evidence"))
	b := ContentHash([]byte("evidence"))
	c := ContentHash([]byte("other evidence"))

	if len(a) != 64 {
		t.Errorf("ContentHash() length = %d, want 64", len(a))
	}
	if a != b {
		t.Error("ContentHash() should be deterministic")
	}
	if a == c {
		t.Error("different payloads should hash differently")
	}
}
