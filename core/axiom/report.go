package axiom

// Rule names a validation rule in reports and rejection summaries.
type Rule string

const (
	// RulePersistence requires enough high-confidence observations.
	RulePersistence Rule = "persistence"

	// RuleLeastResistance requires internally coherent observations.
	RuleLeastResistance Rule = "least_resistance"

	// RuleIndependence requires novelty against existing grains.
	RuleIndependence Rule = "independence"

	// RuleQuality gates crystallized grains on their stored metrics. It
	// runs after crushing, not as part of Validate.
	RuleQuality Rule = "quality"
)

// =============================================================================
// Per-rule reports
// =============================================================================

// PersistenceReport carries the metrics behind a persistence decision.
type PersistenceReport struct {
	Rule             Rule    `json:"rule"`
	HitCount         int     `json:"hit_count"`
	MinRequired      int     `json:"min_required"`
	AvgConfidence    float64 `json:"avg_confidence"`
	MinConfidence    float64 `json:"min_confidence"`
	CycleConsistency float64 `json:"cycle_consistency"`
	Passed           bool    `json:"passed"`
	Reason           string  `json:"reason"`
}

// CoherenceReport carries the metrics behind a least-resistance decision.
// ConceptConsistency is reported for observability but does not gate.
type CoherenceReport struct {
	Rule               Rule    `json:"rule"`
	FactIDs            []int64 `json:"fact_ids"`
	ConfidenceVariance float64 `json:"confidence_variance"`
	CoherenceScore     float64 `json:"coherence_score"`
	CoherenceThreshold float64 `json:"coherence_threshold"`
	ConceptConsistency float64 `json:"concept_consistency"`
	Passed             bool    `json:"passed"`
	Reason             string  `json:"reason"`
}

// IndependenceReport carries the metrics behind an independence decision.
type IndependenceReport struct {
	Rule                  Rule    `json:"rule"`
	PhantomID             string  `json:"phantom_id"`
	ExistingGrains        int     `json:"existing_grains"`
	MaxOverlap            float64 `json:"max_overlap_with_existing"`
	IndependenceThreshold float64 `json:"independence_threshold"`
	MostSimilarGrain      string  `json:"most_similar_grain,omitempty"`
	Passed                bool    `json:"passed"`
	Reason                string  `json:"reason"`
}

// QualityReport carries the post-crystallization gate decision on a grain's
// stored metrics.
type QualityReport struct {
	Rule               Rule    `json:"rule"`
	GrainID            string  `json:"grain_id"`
	InternalHamming    float64 `json:"internal_hamming"`
	MaxInternalHamming float64 `json:"max_internal_hamming"`
	WeightSkew         float64 `json:"weight_skew"`
	MaxWeightSkew      float64 `json:"max_weight_skew"`
	Passed             bool    `json:"passed"`
	Reason             string  `json:"reason"`
}

// =============================================================================
// Combined reports
// =============================================================================

// RuleReports groups the three per-rule reports of a full validation.
type RuleReports struct {
	Persistence     PersistenceReport  `json:"persistence"`
	LeastResistance CoherenceReport    `json:"least_resistance"`
	Independence    IndependenceReport `json:"independence"`
}

// Report is the complete validation record for one candidate. All three
// rules always run, so the report is complete even for rejections.
type Report struct {
	PhantomID     string      `json:"phantom_id"`
	CartridgeID   string      `json:"cartridge_id"`
	Timestamp     string      `json:"timestamp"`
	Rules         RuleReports `json:"rules"`
	OverallPassed bool        `json:"overall_passed"`
	FailedRules   []Rule      `json:"failed_rules"`
	Verdict       string      `json:"verdict"`
}

// ReadyCandidate summarizes a candidate cleared for crystallization.
type ReadyCandidate struct {
	PhantomID  string  `json:"phantom_id"`
	FactIDs    []int64 `json:"fact_ids"`
	Confidence float64 `json:"confidence"`
}

// RejectedCandidate pairs a rejected candidate with its failed rules and
// the full report explaining the decision.
type RejectedCandidate struct {
	PhantomID string `json:"phantom_id"`
	Reasons   []Rule `json:"reasons"`
	Report    Report `json:"report"`
}

// BatchSummary tallies per-rule and overall pass counts for a batch.
type BatchSummary struct {
	PassedPersistence     int     `json:"passed_persistence"`
	PassedLeastResistance int     `json:"passed_least_resistance"`
	PassedIndependence    int     `json:"passed_independence"`
	PassedAll             int     `json:"passed_all"`
	RejectionRate         float64 `json:"rejection_rate"`
}

// BatchResult partitions a batch of candidates into crystallization-ready
// and rejected sets.
type BatchResult struct {
	TotalPhantoms int                 `json:"total_phantoms"`
	Ready         []ReadyCandidate    `json:"crystallization_ready"`
	Rejected      []RejectedCandidate `json:"rejected"`
	Summary       BatchSummary        `json:"summary"`
}
