package axiom

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/voxfield/kitbash/core/grain"
)

func testValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New(DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return v
}

func goodPhantom() *grain.PhantomCandidate {
	return &grain.PhantomCandidate{
		PhantomID:        "phantom_good",
		CartridgeID:      "cart-test",
		FactIDs:          []int64{1, 2, 3},
		HitCount:         10,
		ConfidenceScores: []float64{0.85, 0.86, 0.84, 0.87, 0.85, 0.85, 0.86, 0.84, 0.87, 0.85},
		QueryConcepts:    []string{"concept_a", "concept_b"},
		CycleConsistency: 0.85,
		Status:           grain.StatusPersistent,
		CreatedAt:        "2025-11-02T10:00:00Z",
		EpistemicLevel:   grain.LevelCorroborated,
	}
}

func lowConfidencePhantom() *grain.PhantomCandidate {
	return &grain.PhantomCandidate{
		PhantomID:        "phantom_low_conf",
		CartridgeID:      "cart-test",
		FactIDs:          []int64{4, 5},
		HitCount:         3,
		ConfidenceScores: []float64{0.50, 0.45, 0.48},
		QueryConcepts:    []string{"concept_c"},
	}
}

func incoherentPhantom() *grain.PhantomCandidate {
	return &grain.PhantomCandidate{
		PhantomID:        "phantom_incoherent",
		CartridgeID:      "cart-test",
		FactIDs:          []int64{6, 7, 8},
		HitCount:         10,
		ConfidenceScores: []float64{0.95, 0.10, 0.92, 0.08, 0.94},
		QueryConcepts:    []string{"concept_d"},
	}
}

func grainWithFacts(id string, factIDs ...int64) *grain.Grain {
	return &grain.Grain{
		GrainID:       id,
		SourceFactIDs: factIDs,
	}
}

// =============================================================================
// TestConfig - threshold validation
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero observations allowed", func(c *Config) { c.MinObservations = 0 }, false},
		{"negative observations", func(c *Config) { c.MinObservations = -1 }, true},
		{"confidence above one", func(c *Config) { c.MinConfidence = 1.5 }, true},
		{"negative confidence", func(c *Config) { c.MinConfidence = -0.1 }, true},
		{"negative hamming bound", func(c *Config) { c.MaxInternalHamming = -1 }, true},
		{"negative skew bound", func(c *Config) { c.MaxWeightSkew = -1 }, true},
		{"coherence above one", func(c *Config) { c.CoherenceThreshold = 1.1 }, true},
		{"independence above one", func(c *Config) { c.IndependenceThreshold = 1.1 }, true},
		{"zero max variance", func(c *Config) { c.MaxVariance = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(&config)
			err := config.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.MaxVariance = 0
	if _, err := New(config, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New() = %v, want ErrInvalidConfig", err)
	}
}

// =============================================================================
// TestCheckPersistence - rule 1
// =============================================================================

func TestCheckPersistence(t *testing.T) {
	v := testValidator(t)

	tests := []struct {
		name         string
		hitCount     int
		scores       []float64
		expectPass   bool
		reasonPrefix string
	}{
		{"passes both conditions", 10, []float64{0.85, 0.86, 0.84}, true, "Persistent"},
		{"exactly at thresholds", 5, []float64{0.75, 0.75}, true, "Persistent"},
		{"too few hits", 4, []float64{0.9, 0.9}, false, "Too few hits"},
		{"low confidence", 10, []float64{0.5, 0.6}, false, "Low confidence"},
		{"hit shortfall reported first", 2, []float64{0.1}, false, "Too few hits"},
		{"no scores", 10, nil, false, "Low confidence"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phantom := &grain.PhantomCandidate{
				PhantomID:        "phantom-p",
				HitCount:         tt.hitCount,
				ConfidenceScores: tt.scores,
			}
			report := v.CheckPersistence(phantom)

			if report.Passed != tt.expectPass {
				t.Errorf("Passed = %v, want %v (reason: %s)", report.Passed, tt.expectPass, report.Reason)
			}
			if !strings.HasPrefix(report.Reason, tt.reasonPrefix) {
				t.Errorf("Reason = %q, want prefix %q", report.Reason, tt.reasonPrefix)
			}
			if report.Rule != RulePersistence {
				t.Errorf("Rule = %q, want %q", report.Rule, RulePersistence)
			}
			if report.MinRequired != 5 {
				t.Errorf("MinRequired = %d, want 5", report.MinRequired)
			}
		})
	}
}

// =============================================================================
// TestCheckLeastResistance - rule 2
// =============================================================================

func TestCheckLeastResistance_CoherentPasses(t *testing.T) {
	v := testValidator(t)
	report := v.CheckLeastResistance(goodPhantom())

	if !report.Passed {
		t.Fatalf("coherent phantom should pass, got reason %q", report.Reason)
	}
	if report.Reason != "Coherent observations" {
		t.Errorf("Reason = %q", report.Reason)
	}
	if report.CoherenceScore < 0.9 {
		t.Errorf("CoherenceScore = %f, want near 1 for tight confidences", report.CoherenceScore)
	}
}

func TestCheckLeastResistance_IncoherentFails(t *testing.T) {
	v := testValidator(t)
	report := v.CheckLeastResistance(incoherentPhantom())

	if report.Passed {
		t.Fatal("high-variance phantom should fail")
	}
	if report.Reason != "Low coherence (contradictions detected)" {
		t.Errorf("Reason = %q", report.Reason)
	}
	if report.CoherenceScore >= v.Config().CoherenceThreshold {
		t.Errorf("CoherenceScore = %f, want below %f", report.CoherenceScore, v.Config().CoherenceThreshold)
	}
}

func TestCheckLeastResistance_FewSamplesCoherent(t *testing.T) {
	v := testValidator(t)
	phantom := &grain.PhantomCandidate{
		PhantomID:        "phantom-single",
		ConfidenceScores: []float64{0.1},
	}
	report := v.CheckLeastResistance(phantom)

	// Fewer than two samples means zero variance by definition.
	if report.ConfidenceVariance != 0 {
		t.Errorf("ConfidenceVariance = %f, want 0", report.ConfidenceVariance)
	}
	if !report.Passed {
		t.Error("single-sample phantom should pass coherence")
	}
}

func TestCheckLeastResistance_ConceptConsistencyReportedNotGating(t *testing.T) {
	v := testValidator(t)
	phantom := goodPhantom()
	phantom.QueryConcepts = []string{"same", "same", "same", "other"}

	report := v.CheckLeastResistance(phantom)
	if math.Abs(report.ConceptConsistency-0.5) > 1e-9 {
		t.Errorf("ConceptConsistency = %f, want 0.5", report.ConceptConsistency)
	}
	// Low concept consistency alone must not fail the rule.
	if !report.Passed {
		t.Error("concept consistency must not gate the coherence rule")
	}
}

// =============================================================================
// TestCheckIndependence - rule 3
// =============================================================================

func TestCheckIndependence_NoGrainsAutoPasses(t *testing.T) {
	v := testValidator(t)
	report := v.CheckIndependence(goodPhantom(), nil)

	if !report.Passed {
		t.Fatal("empty grain list should auto-pass")
	}
	if report.Reason != "No existing grains to check against" {
		t.Errorf("Reason = %q", report.Reason)
	}
	if report.ExistingGrains != 0 {
		t.Errorf("ExistingGrains = %d, want 0", report.ExistingGrains)
	}
}

func TestCheckIndependence_Overlap(t *testing.T) {
	v := testValidator(t)

	tests := []struct {
		name        string
		grains      []*grain.Grain
		expectPass  bool
		wantOverlap float64
		wantSimilar string
	}{
		{
			"low overlap passes",
			[]*grain.Grain{grainWithFacts("grain-a", 1, 2, 4)}, // 2/4 with {1,2,3}
			true, 0.5, "grain-a",
		},
		{
			"overlap at threshold fails",
			[]*grain.Grain{grainWithFacts("grain-b", 1, 2, 3, 4, 5)}, // 3/5
			false, 0.6, "grain-b",
		},
		{
			"high overlap fails",
			[]*grain.Grain{grainWithFacts("grain-c", 1, 2, 3, 4)}, // 3/4
			false, 0.75, "grain-c",
		},
		{
			"disjoint facts pass",
			[]*grain.Grain{grainWithFacts("grain-d", 40, 50)},
			true, 0.0, "",
		},
		{
			"most similar tracked across grains",
			[]*grain.Grain{
				grainWithFacts("grain-far", 40, 50),
				grainWithFacts("grain-near", 1, 2, 3),
			},
			false, 1.0, "grain-near",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := v.CheckIndependence(goodPhantom(), tt.grains)

			if report.Passed != tt.expectPass {
				t.Errorf("Passed = %v, want %v (reason: %s)", report.Passed, tt.expectPass, report.Reason)
			}
			if math.Abs(report.MaxOverlap-tt.wantOverlap) > 1e-9 {
				t.Errorf("MaxOverlap = %f, want %f", report.MaxOverlap, tt.wantOverlap)
			}
			if report.MostSimilarGrain != tt.wantSimilar {
				t.Errorf("MostSimilarGrain = %q, want %q", report.MostSimilarGrain, tt.wantSimilar)
			}
		})
	}
}

func TestCheckIndependence_SkipsGrainsWithoutIdentity(t *testing.T) {
	v := testValidator(t)
	grains := []*grain.Grain{
		{GrainID: "grain-opaque"}, // no source fact IDs
		nil,
	}

	report := v.CheckIndependence(goodPhantom(), grains)
	if !report.Passed {
		t.Fatalf("grains without identity must be skipped, got reason %q", report.Reason)
	}
	if report.MaxOverlap != 0 {
		t.Errorf("MaxOverlap = %f, want 0", report.MaxOverlap)
	}
	if report.ExistingGrains != 2 {
		t.Errorf("ExistingGrains = %d, want 2", report.ExistingGrains)
	}
}

// =============================================================================
// TestCheckQuality - rule 4 (post-crush)
// =============================================================================

func TestCheckQuality(t *testing.T) {
	v := testValidator(t)

	tests := []struct {
		name       string
		hamming    float64
		skew       float64
		expectPass bool
		wantInWhy  string
	}{
		{"within thresholds", 5.0, 1.0, true, "within quality thresholds"},
		{"at thresholds passes", 8.0, 2.0, true, "within quality thresholds"},
		{"hamming too high", 8.5, 1.0, false, "Internal hamming"},
		{"skew too high", 5.0, 2.5, false, "Weight skew"},
		{"both too high", 8.5, 2.5, false, "; "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &grain.Grain{
				GrainID:         "grain-q",
				InternalHamming: tt.hamming,
				WeightSkew:      tt.skew,
			}
			report := v.CheckQuality(g)

			if report.Passed != tt.expectPass {
				t.Errorf("Passed = %v, want %v (reason: %s)", report.Passed, tt.expectPass, report.Reason)
			}
			if !strings.Contains(report.Reason, tt.wantInWhy) {
				t.Errorf("Reason = %q, want substring %q", report.Reason, tt.wantInWhy)
			}
		})
	}
}

// =============================================================================
// TestValidate - combined rules
// =============================================================================

func TestValidate_GoodPhantomPasses(t *testing.T) {
	v := testValidator(t)
	passed, report := v.Validate(goodPhantom(), nil)

	if !passed {
		t.Fatalf("good phantom should pass, verdict %q", report.Verdict)
	}
	if !report.OverallPassed {
		t.Error("OverallPassed should be true")
	}
	if len(report.FailedRules) != 0 {
		t.Errorf("FailedRules = %v, want empty", report.FailedRules)
	}
	if report.Verdict != "CRYSTALLIZE - All validation rules passed" {
		t.Errorf("Verdict = %q", report.Verdict)
	}
	if report.PhantomID != "phantom_good" || report.CartridgeID != "cart-test" {
		t.Errorf("report identity = %s/%s", report.PhantomID, report.CartridgeID)
	}
}

func TestValidate_NoShortCircuit(t *testing.T) {
	v := testValidator(t)

	// Fails persistence, but later rule reports must still be populated.
	passed, report := v.Validate(lowConfidencePhantom(), nil)
	if passed {
		t.Fatal("low-confidence phantom should fail")
	}
	if report.Rules.LeastResistance.Rule != RuleLeastResistance {
		t.Error("least resistance report missing despite earlier failure")
	}
	if report.Rules.Independence.Rule != RuleIndependence {
		t.Error("independence report missing despite earlier failure")
	}
	if !report.Rules.Independence.Passed {
		t.Error("independence should still pass with no grains")
	}
}

func TestValidate_FailedRuleOrderAndVerdict(t *testing.T) {
	v := testValidator(t)

	// Fails persistence (low avg confidence) and coherence (high variance).
	passed, report := v.Validate(incoherentPhantom(), nil)
	if passed {
		t.Fatal("incoherent phantom should fail")
	}
	if len(report.FailedRules) != 2 {
		t.Fatalf("FailedRules = %v, want 2 entries", report.FailedRules)
	}
	if report.FailedRules[0] != RulePersistence || report.FailedRules[1] != RuleLeastResistance {
		t.Errorf("FailedRules = %v, want [persistence least_resistance]", report.FailedRules)
	}
	want := "REJECT - Failed 2 rule(s): persistence, least_resistance"
	if report.Verdict != want {
		t.Errorf("Verdict = %q, want %q", report.Verdict, want)
	}
}

// =============================================================================
// TestValidateBatch - screening
// =============================================================================

func TestValidateBatch(t *testing.T) {
	v := testValidator(t)
	phantoms := []*grain.PhantomCandidate{
		goodPhantom(),
		lowConfidencePhantom(),
		incoherentPhantom(),
	}

	result := v.ValidateBatch(phantoms, nil)

	if result.TotalPhantoms != 3 {
		t.Errorf("TotalPhantoms = %d, want 3", result.TotalPhantoms)
	}
	if len(result.Ready) != 1 {
		t.Fatalf("Ready = %d, want 1", len(result.Ready))
	}
	if result.Ready[0].PhantomID != "phantom_good" {
		t.Errorf("Ready[0] = %q, want phantom_good", result.Ready[0].PhantomID)
	}
	if len(result.Rejected) != 2 {
		t.Fatalf("Rejected = %d, want 2", len(result.Rejected))
	}

	// Low-confidence phantom is still coherent; incoherent phantom also
	// fails persistence on its depressed average.
	if result.Summary.PassedPersistence != 1 {
		t.Errorf("PassedPersistence = %d, want 1", result.Summary.PassedPersistence)
	}
	if result.Summary.PassedLeastResistance != 2 {
		t.Errorf("PassedLeastResistance = %d, want 2", result.Summary.PassedLeastResistance)
	}
	if result.Summary.PassedIndependence != 3 {
		t.Errorf("PassedIndependence = %d, want 3", result.Summary.PassedIndependence)
	}
	if result.Summary.PassedAll != 1 {
		t.Errorf("PassedAll = %d, want 1", result.Summary.PassedAll)
	}
	if math.Abs(result.Summary.RejectionRate-2.0/3.0) > 1e-9 {
		t.Errorf("RejectionRate = %f, want %f", result.Summary.RejectionRate, 2.0/3.0)
	}

	for _, rejected := range result.Rejected {
		if len(rejected.Reasons) == 0 {
			t.Errorf("rejected %s has no reasons", rejected.PhantomID)
		}
		if rejected.Report.PhantomID != rejected.PhantomID {
			t.Errorf("rejected %s carries mismatched report", rejected.PhantomID)
		}
	}
}

func TestValidateBatch_Empty(t *testing.T) {
	v := testValidator(t)
	result := v.ValidateBatch(nil, nil)

	if result.TotalPhantoms != 0 {
		t.Errorf("TotalPhantoms = %d, want 0", result.TotalPhantoms)
	}
	if result.Summary.RejectionRate != 0 {
		t.Errorf("RejectionRate = %f, want 0 for empty batch", result.Summary.RejectionRate)
	}
	if len(result.Ready) != 0 || len(result.Rejected) != 0 {
		t.Error("empty batch should produce empty partitions")
	}
}
