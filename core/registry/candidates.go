package registry

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/voxfield/kitbash/core/grain"
)

// =============================================================================
// Co-occurrence patterns
// =============================================================================

// pattern tracks a cartridge-scoped fact set that was hit together within
// one or more cycles. Patterns recurring often enough get promoted to
// phantom candidates.
type pattern struct {
	Key         string
	CartridgeID string
	FactIDs     []int64

	CyclesSeen int
	FirstCycle int
	LastCycle  int

	HitCount    int
	Confidences []float64
	Concepts    []string

	// PhantomID and PromotedAt are assigned once, on first promotion, so
	// repeated Candidates calls return stable identities.
	PhantomID  string
	PromotedAt string
}

// foldCycleIntoPatterns groups the open cycle's hits by cartridge and
// accumulates each group as one co-occurrence pattern. Caller holds the
// write lock.
func (r *Registry) foldCycleIntoPatterns() {
	if len(r.cycleHits) == 0 {
		return
	}

	byCartridge := make(map[string][]int64)
	for factID := range r.cycleHits {
		cartridgeID := r.facts[factID].CartridgeID
		byCartridge[cartridgeID] = append(byCartridge[cartridgeID], factID)
	}

	for cartridgeID, factIDs := range byCartridge {
		sort.Slice(factIDs, func(i, j int) bool { return factIDs[i] < factIDs[j] })
		key := patternKey(cartridgeID, factIDs)

		p, ok := r.patterns[key]
		if !ok {
			p = &pattern{
				Key:         key,
				CartridgeID: cartridgeID,
				FactIDs:     append([]int64(nil), factIDs...),
				FirstCycle:  r.currentCycle,
			}
			r.patterns[key] = p
		}

		p.CyclesSeen++
		p.LastCycle = r.currentCycle
		for _, factID := range factIDs {
			p.HitCount += r.cycleHits[factID]
			p.Confidences = append(p.Confidences, r.cycleConfs[factID]...)
		}
		p.Concepts = mergeConcepts(p.Concepts, r.cycleConcepts)
	}
}

// mergeConcepts appends new concepts, dropping duplicates while keeping
// first-seen order.
func mergeConcepts(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		seen[c] = struct{}{}
	}
	for _, c := range incoming {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		existing = append(existing, c)
	}
	return existing
}

// =============================================================================
// Promotion
// =============================================================================

// Candidates promotes every pattern that co-occurred in at least
// PromotionThreshold cycles to a phantom candidate. Promotion assigns a
// stable phantom ID and creation timestamp on first call; candidates are
// returned most-consistent first.
func (r *Registry) Candidates() []*grain.PhantomCandidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*grain.PhantomCandidate
	for _, p := range r.patterns {
		if p.CyclesSeen < r.config.PromotionThreshold {
			continue
		}
		if p.PhantomID == "" {
			p.PhantomID = "phantom_" + uuid.New().String()[:8]
			p.PromotedAt = time.Now().UTC().Format(time.RFC3339)
		}
		out = append(out, r.promote(p))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CycleConsistency != out[j].CycleConsistency {
			return out[i].CycleConsistency > out[j].CycleConsistency
		}
		return out[i].PhantomID < out[j].PhantomID
	})

	r.logger.Debug("candidates promoted",
		"patterns", len(r.patterns),
		"promoted", len(out),
		"threshold", r.config.PromotionThreshold)
	return out
}

// promote builds the read-only candidate view of a pattern. Caller holds
// the lock.
func (r *Registry) promote(p *pattern) *grain.PhantomCandidate {
	return &grain.PhantomCandidate{
		PhantomID:        p.PhantomID,
		CartridgeID:      p.CartridgeID,
		FactIDs:          append([]int64(nil), p.FactIDs...),
		HitCount:         p.HitCount,
		ConfidenceScores: append([]float64(nil), p.Confidences...),
		QueryConcepts:    append([]string(nil), p.Concepts...),
		CycleConsistency: r.cycleConsistency(p),
		Status:           grain.StatusPersistent,
		CreatedAt:        p.PromotedAt,
		EpistemicLevel:   grain.LevelObserved,
	}
}

// cycleConsistency is the fraction of cycles since first sighting in which
// the pattern recurred.
func (r *Registry) cycleConsistency(p *pattern) float64 {
	total := r.currentCycle - p.FirstCycle
	if total <= 0 {
		return 1.0
	}
	return min(1.0, float64(p.CyclesSeen)/float64(total))
}

// PromotableCount returns how many patterns currently clear the promotion
// threshold, without promoting them.
func (r *Registry) PromotableCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, p := range r.patterns {
		if p.CyclesSeen >= r.config.PromotionThreshold {
			n++
		}
	}
	return n
}

// Retire removes the patterns behind the given phantom IDs, taking them
// out of the promotion path once their grains are stored. Returns how many
// patterns were removed; the removal persists on the next Save.
func (r *Registry) Retire(phantomIDs ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	retired := map[string]bool{}
	for _, id := range phantomIDs {
		retired[id] = true
	}

	n := 0
	for key, p := range r.patterns {
		if p.PhantomID != "" && retired[p.PhantomID] {
			delete(r.patterns, key)
			n++
		}
	}
	if n > 0 {
		r.logger.Debug("patterns retired", "count", n)
	}
	return n
}
