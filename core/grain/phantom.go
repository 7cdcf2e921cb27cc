// Package grain defines the entities shared across the crystallization
// pipeline: phantom candidates (recurring fact-patterns tracked by the delta
// registry) and grains (the immutable ternary-compressed records they become).
package grain

import "sort"

// PhantomStatus tracks a candidate through the registry lifecycle.
type PhantomStatus string

const (
	// StatusTracking means the pattern is accumulating hits.
	StatusTracking PhantomStatus = "tracking"

	// StatusPersistent means the pattern has recurred across enough
	// cycles to be offered for crystallization.
	StatusPersistent PhantomStatus = "persistent"

	// StatusLocked means the pattern is frozen pending crystallization.
	StatusLocked PhantomStatus = "locked"

	// StatusCrystallized means a grain has been produced from the pattern.
	StatusCrystallized PhantomStatus = "crystallized"

	// StatusRejected means validation rejected the pattern.
	StatusRejected PhantomStatus = "rejected"
)

// PhantomCandidate is a recurring fact-pattern observed by the delta
// registry across query cycles. Candidates are created and mutated only by
// the registry; the validator and crusher treat them as read-only.
type PhantomCandidate struct {
	PhantomID   string  `json:"phantom_id"`
	CartridgeID string  `json:"cartridge_id"`
	FactIDs     []int64 `json:"fact_ids"`

	// HitCount is the number of observations. Soft invariant, not
	// enforced: len(ConfidenceScores) should equal HitCount.
	HitCount         int       `json:"hit_count"`
	ConfidenceScores []float64 `json:"confidence_scores"`

	QueryConcepts    []string `json:"query_concepts"`
	CycleConsistency float64  `json:"cycle_consistency"`

	Status         PhantomStatus  `json:"status"`
	CreatedAt      string         `json:"created_at"`
	EpistemicLevel EpistemicLevel `json:"epistemic_level"`
}

// AvgConfidence returns the mean of the candidate's confidence scores,
// or 0 when no scores have been recorded.
func (c *PhantomCandidate) AvgConfidence() float64 {
	if len(c.ConfidenceScores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range c.ConfidenceScores {
		sum += s
	}
	return sum / float64(len(c.ConfidenceScores))
}

// SortedFactIDs returns the candidate's fact IDs in ascending order without
// mutating the candidate. Canonical ordering for evidence hashing.
func (c *PhantomCandidate) SortedFactIDs() []int64 {
	ids := make([]int64, len(c.FactIDs))
	copy(ids, c.FactIDs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FactIDSet returns the candidate's fact IDs as a set.
func (c *PhantomCandidate) FactIDSet() map[int64]struct{} {
	set := make(map[int64]struct{}, len(c.FactIDs))
	for _, id := range c.FactIDs {
		set[id] = struct{}{}
	}
	return set
}
