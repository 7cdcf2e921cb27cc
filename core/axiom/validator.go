// Package axiom gates phantom candidates before crystallization. Three
// rules screen every candidate:
//
//  1. Persistence: the pattern recurred enough times with high confidence.
//  2. Least resistance: the observations agree with each other.
//  3. Independence: the pattern is not a rehash of an existing grain.
//
// All rules run unconditionally so a rejection report is always complete.
// A fourth check, CheckQuality, gates crystallized grains on their stored
// metrics after crushing.
package axiom

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/voxfield/kitbash/core/grain"
)

// ErrInvalidConfig indicates an unusable validator configuration.
var ErrInvalidConfig = errors.New("axiom: invalid config")

// =============================================================================
// Configuration
// =============================================================================

// Config holds the validation thresholds. Explicit injection keeps gating
// behavior reproducible across deployments.
type Config struct {
	// MinObservations is the minimum hit count for persistence.
	MinObservations int `json:"min_observations" yaml:"min_observations"`

	// MinConfidence is the minimum average confidence for persistence.
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`

	// MaxInternalHamming bounds a grain's internal hamming metric in the
	// post-crush quality gate.
	MaxInternalHamming float64 `json:"max_internal_hamming" yaml:"max_internal_hamming"`

	// MaxWeightSkew bounds a grain's weight skew in the post-crush
	// quality gate.
	MaxWeightSkew float64 `json:"max_weight_skew" yaml:"max_weight_skew"`

	// CoherenceThreshold is the minimum coherence score for least
	// resistance.
	CoherenceThreshold float64 `json:"coherence_threshold" yaml:"coherence_threshold"`

	// IndependenceThreshold is the Jaccard overlap at or above which a
	// candidate counts as derivable from an existing grain.
	IndependenceThreshold float64 `json:"independence_threshold" yaml:"independence_threshold"`

	// MaxVariance is the confidence variance that maps to a coherence
	// score of zero.
	MaxVariance float64 `json:"max_variance" yaml:"max_variance"`
}

// DefaultConfig returns the standard gating thresholds.
func DefaultConfig() Config {
	return Config{
		MinObservations:       5,
		MinConfidence:         0.75,
		MaxInternalHamming:    8.0,
		MaxWeightSkew:         2.0,
		CoherenceThreshold:    0.7,
		IndependenceThreshold: 0.6,
		MaxVariance:           0.25,
	}
}

// Validate checks the configuration for usability.
func (c Config) Validate() error {
	if c.MinObservations < 0 {
		return fmt.Errorf("%w: min_observations must be non-negative, got %d",
			ErrInvalidConfig, c.MinObservations)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence must be in [0, 1], got %f",
			ErrInvalidConfig, c.MinConfidence)
	}
	if c.MaxInternalHamming < 0 {
		return fmt.Errorf("%w: max_internal_hamming must be non-negative, got %f",
			ErrInvalidConfig, c.MaxInternalHamming)
	}
	if c.MaxWeightSkew < 0 {
		return fmt.Errorf("%w: max_weight_skew must be non-negative, got %f",
			ErrInvalidConfig, c.MaxWeightSkew)
	}
	if c.CoherenceThreshold < 0 || c.CoherenceThreshold > 1 {
		return fmt.Errorf("%w: coherence_threshold must be in [0, 1], got %f",
			ErrInvalidConfig, c.CoherenceThreshold)
	}
	if c.IndependenceThreshold < 0 || c.IndependenceThreshold > 1 {
		return fmt.Errorf("%w: independence_threshold must be in [0, 1], got %f",
			ErrInvalidConfig, c.IndependenceThreshold)
	}
	if c.MaxVariance <= 0 {
		return fmt.Errorf("%w: max_variance must be positive, got %f",
			ErrInvalidConfig, c.MaxVariance)
	}
	return nil
}

// =============================================================================
// Validator
// =============================================================================

// Validator screens candidates against the gating rules. It holds only
// configuration and a logger, so a single instance is safe for concurrent
// use. Candidates passed to its methods must be non-nil.
type Validator struct {
	config Config
	logger *slog.Logger
}

// New creates a Validator with the given thresholds. A nil logger falls
// back to slog.Default().
func New(config Config, logger *slog.Logger) (*Validator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{config: config, logger: logger}, nil
}

// Config returns the validator's thresholds.
func (v *Validator) Config() Config {
	return v.config
}

// =============================================================================
// Rule 1: Persistence
// =============================================================================

// CheckPersistence passes a candidate that recurred at least
// MinObservations times with average confidence at or above MinConfidence.
func (v *Validator) CheckPersistence(phantom *grain.PhantomCandidate) PersistenceReport {
	hitCount := phantom.HitCount
	avgConfidence := phantom.AvgConfidence()

	report := PersistenceReport{
		Rule:             RulePersistence,
		HitCount:         hitCount,
		MinRequired:      v.config.MinObservations,
		AvgConfidence:    roundTo(avgConfidence, 3),
		MinConfidence:    v.config.MinConfidence,
		CycleConsistency: roundTo(phantom.CycleConsistency, 3),
	}

	report.Passed = hitCount >= v.config.MinObservations &&
		avgConfidence >= v.config.MinConfidence

	switch {
	case report.Passed:
		report.Reason = "Persistent pattern detected"
	case hitCount < v.config.MinObservations:
		report.Reason = fmt.Sprintf("Too few hits (%d < %d)", hitCount, v.config.MinObservations)
	default:
		report.Reason = fmt.Sprintf("Low confidence (%.2f < %g)", avgConfidence, v.config.MinConfidence)
	}
	return report
}

// =============================================================================
// Rule 2: Least Resistance
// =============================================================================

// CheckLeastResistance passes a candidate whose observations agree: the
// sample variance of its confidence scores, normalized against
// MaxVariance, must leave a coherence score at or above the threshold.
// Concept consistency is computed for the report but does not gate.
func (v *Validator) CheckLeastResistance(phantom *grain.PhantomCandidate) CoherenceReport {
	variance := 0.0
	if len(phantom.ConfidenceScores) >= 2 {
		variance = stat.Variance(phantom.ConfidenceScores, nil)
	}
	coherence := 1.0 - min(variance/v.config.MaxVariance, 1.0)

	conceptConsistency := 1.0
	if len(phantom.QueryConcepts) > 0 {
		unique := make(map[string]struct{}, len(phantom.QueryConcepts))
		for _, concept := range phantom.QueryConcepts {
			unique[concept] = struct{}{}
		}
		conceptConsistency = min(1.0, float64(len(unique))/float64(len(phantom.QueryConcepts)))
	}

	report := CoherenceReport{
		Rule:               RuleLeastResistance,
		FactIDs:            phantom.SortedFactIDs(),
		ConfidenceVariance: roundTo(variance, 3),
		CoherenceScore:     roundTo(coherence, 3),
		CoherenceThreshold: v.config.CoherenceThreshold,
		ConceptConsistency: roundTo(conceptConsistency, 3),
		Passed:             coherence >= v.config.CoherenceThreshold,
	}

	if report.Passed {
		report.Reason = "Coherent observations"
	} else {
		report.Reason = "Low coherence (contradictions detected)"
	}
	return report
}

// =============================================================================
// Rule 3: Independence
// =============================================================================

// CheckIndependence passes a candidate whose fact set is not derivable
// from any existing grain: the maximum Jaccard overlap must stay below the
// independence threshold. Grains that do not expose an identity are
// skipped, not errored, and an empty grain list auto-passes.
func (v *Validator) CheckIndependence(phantom *grain.PhantomCandidate, existing []*grain.Grain) IndependenceReport {
	report := IndependenceReport{
		Rule:                  RuleIndependence,
		PhantomID:             phantom.PhantomID,
		ExistingGrains:        len(existing),
		IndependenceThreshold: v.config.IndependenceThreshold,
	}

	if len(existing) == 0 {
		report.Passed = true
		report.Reason = "No existing grains to check against"
		return report
	}

	factSet := phantom.FactIDSet()
	maxOverlap := 0.0
	mostSimilar := ""

	for _, g := range existing {
		id, ok := g.Identity()
		if !ok {
			continue
		}
		overlap := jaccard(factSet, id.FactIDs)
		if overlap > maxOverlap {
			maxOverlap = overlap
			mostSimilar = id.GrainID
		}
	}

	report.MaxOverlap = roundTo(maxOverlap, 3)
	report.MostSimilarGrain = mostSimilar
	report.Passed = maxOverlap < v.config.IndependenceThreshold

	if report.Passed {
		report.Reason = fmt.Sprintf("Independent pattern (max overlap: %.1f%%)", maxOverlap*100)
	} else {
		report.Reason = fmt.Sprintf("Too similar to existing grain %s (%.1f%% overlap)",
			mostSimilar, maxOverlap*100)
	}
	return report
}

// jaccard computes |intersection| / |union| of a fact set against a fact
// ID list. An empty union degrades to 0 rather than erroring.
func jaccard(a map[int64]struct{}, b []int64) float64 {
	bSet := make(map[int64]struct{}, len(b))
	for _, id := range b {
		bSet[id] = struct{}{}
	}

	intersection := 0
	for id := range bSet {
		if _, ok := a[id]; ok {
			intersection++
		}
	}
	union := len(a) + len(bSet) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// =============================================================================
// Rule 4: Post-crush quality gate
// =============================================================================

// CheckQuality gates a crystallized grain on its stored metrics. It runs
// after crushing because internal hamming and weight skew only exist once
// weights have been inferred.
func (v *Validator) CheckQuality(g *grain.Grain) QualityReport {
	report := QualityReport{
		Rule:               RuleQuality,
		GrainID:            g.GrainID,
		InternalHamming:    g.InternalHamming,
		MaxInternalHamming: v.config.MaxInternalHamming,
		WeightSkew:         g.WeightSkew,
		MaxWeightSkew:      v.config.MaxWeightSkew,
	}

	var failures []string
	if g.InternalHamming > v.config.MaxInternalHamming {
		failures = append(failures, fmt.Sprintf("Internal hamming %.2f exceeds %.2f",
			g.InternalHamming, v.config.MaxInternalHamming))
	}
	if g.WeightSkew > v.config.MaxWeightSkew {
		failures = append(failures, fmt.Sprintf("Weight skew %.2f exceeds %.2f",
			g.WeightSkew, v.config.MaxWeightSkew))
	}

	report.Passed = len(failures) == 0
	if report.Passed {
		report.Reason = "Grain metrics within quality thresholds"
	} else {
		report.Reason = strings.Join(failures, "; ")
	}

	v.logger.Debug("quality gate",
		"grain_id", g.GrainID,
		"passed", report.Passed,
		"internal_hamming", g.InternalHamming,
		"weight_skew", g.WeightSkew)
	return report
}

// =============================================================================
// Combined validation
// =============================================================================

// Validate runs all three rules against a candidate. Rules never
// short-circuit, so the report carries complete metrics even when the
// first rule already failed.
func (v *Validator) Validate(phantom *grain.PhantomCandidate, existing []*grain.Grain) (bool, Report) {
	report := Report{
		PhantomID:   phantom.PhantomID,
		CartridgeID: phantom.CartridgeID,
		Timestamp:   phantom.CreatedAt,
		FailedRules: []Rule{},
	}

	report.Rules.Persistence = v.CheckPersistence(phantom)
	if !report.Rules.Persistence.Passed {
		report.FailedRules = append(report.FailedRules, RulePersistence)
	}

	report.Rules.LeastResistance = v.CheckLeastResistance(phantom)
	if !report.Rules.LeastResistance.Passed {
		report.FailedRules = append(report.FailedRules, RuleLeastResistance)
	}

	report.Rules.Independence = v.CheckIndependence(phantom, existing)
	if !report.Rules.Independence.Passed {
		report.FailedRules = append(report.FailedRules, RuleIndependence)
	}

	report.OverallPassed = len(report.FailedRules) == 0
	if report.OverallPassed {
		report.Verdict = "CRYSTALLIZE - All validation rules passed"
	} else {
		report.Verdict = fmt.Sprintf("REJECT - Failed %d rule(s): %s",
			len(report.FailedRules), joinRules(report.FailedRules))
	}

	v.logger.Debug("validated phantom",
		"phantom_id", phantom.PhantomID,
		"passed", report.OverallPassed,
		"failed_rules", joinRules(report.FailedRules))
	return report.OverallPassed, report
}

// ValidateBatch screens a batch of candidates and partitions them into
// crystallization-ready and rejected sets with per-rule tallies.
func (v *Validator) ValidateBatch(phantoms []*grain.PhantomCandidate, existing []*grain.Grain) BatchResult {
	result := BatchResult{
		TotalPhantoms: len(phantoms),
		Ready:         []ReadyCandidate{},
		Rejected:      []RejectedCandidate{},
	}

	for _, phantom := range phantoms {
		passed, report := v.Validate(phantom, existing)

		if passed {
			result.Ready = append(result.Ready, ReadyCandidate{
				PhantomID:  phantom.PhantomID,
				FactIDs:    phantom.SortedFactIDs(),
				Confidence: roundTo(phantom.AvgConfidence(), 3),
			})
			result.Summary.PassedAll++
		} else {
			result.Rejected = append(result.Rejected, RejectedCandidate{
				PhantomID: phantom.PhantomID,
				Reasons:   report.FailedRules,
				Report:    report,
			})
		}

		if report.Rules.Persistence.Passed {
			result.Summary.PassedPersistence++
		}
		if report.Rules.LeastResistance.Passed {
			result.Summary.PassedLeastResistance++
		}
		if report.Rules.Independence.Passed {
			result.Summary.PassedIndependence++
		}
	}

	if len(phantoms) > 0 {
		result.Summary.RejectionRate = float64(len(result.Rejected)) / float64(len(phantoms))
	}

	v.logger.Info("batch validation complete",
		"total", result.TotalPhantoms,
		"ready", len(result.Ready),
		"rejected", len(result.Rejected),
		"rejection_rate", result.Summary.RejectionRate)
	return result
}

func joinRules(rules []Rule) string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}

func roundTo(value float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(value*scale) / scale
}
