// Package registry implements the delta registry: per-fact hit tracking
// across query cycles. Callers record fact hits as queries resolve; the
// registry closes cycles, tracks which fact sets recur together, and
// promotes persistent patterns to phantom candidates for the
// crystallization pipeline.
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrRegistryClosed indicates the registry has been closed.
	ErrRegistryClosed = errors.New("registry: closed")

	// ErrFactNotFound indicates the fact has never been recorded.
	ErrFactNotFound = errors.New("registry: fact not found")
)

// =============================================================================
// Configuration
// =============================================================================

const (
	DefaultDBPath             = ".kitbash/registry.db"
	DefaultPromotionThreshold = 3
	defaultMaxOpenConns       = 1
)

// Config holds registry settings.
type Config struct {
	// DBPath is the SQLite snapshot location.
	DBPath string `json:"db_path" yaml:"db_path"`

	// PromotionThreshold is the number of cycles a fact set must co-occur
	// in before it is promoted to a phantom candidate.
	PromotionThreshold int `json:"promotion_threshold" yaml:"promotion_threshold"`
}

// DefaultConfig returns a Config with standard settings.
func DefaultConfig() Config {
	return Config{
		DBPath:             DefaultDBPath,
		PromotionThreshold: DefaultPromotionThreshold,
	}
}

func normalizeConfig(cfg Config) Config {
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath
	}
	if cfg.PromotionThreshold <= 0 {
		cfg.PromotionThreshold = DefaultPromotionThreshold
	}
	return cfg
}

// =============================================================================
// Fact statistics
// =============================================================================

// FactStats accumulates hit history for a single fact.
type FactStats struct {
	FactID      int64     `json:"fact_id"`
	CartridgeID string    `json:"cartridge_id"`
	HitCount    int       `json:"hit_count"`
	Confidences []float64 `json:"confidences"`

	// FirstCycle and LastCycle bracket the fact's activity window.
	FirstCycle int `json:"first_cycle"`
	LastCycle  int `json:"last_cycle"`

	// CyclesActive counts distinct cycles in which the fact was hit.
	CyclesActive int `json:"cycles_active"`
}

// AverageConfidence returns the mean recorded confidence, 0 when empty.
func (s *FactStats) AverageConfidence() float64 {
	if len(s.Confidences) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range s.Confidences {
		sum += c
	}
	return sum / float64(len(s.Confidences))
}

func (s *FactStats) clone() FactStats {
	out := *s
	out.Confidences = append([]float64(nil), s.Confidences...)
	return out
}

// =============================================================================
// Registry
// =============================================================================

// Registry tracks fact hits across query cycles. In-memory state is
// authoritative; Save snapshots it to SQLite and New restores it.
type Registry struct {
	config Config
	logger *slog.Logger
	db     *sql.DB

	mu           sync.RWMutex
	closed       bool
	currentCycle int
	facts        map[int64]*FactStats
	patterns     map[string]*pattern

	// Open-cycle scratch state, folded in at AdvanceCycle.
	cycleHits     map[int64]int
	cycleConfs    map[int64][]float64
	cycleConcepts []string
}

// New opens (or creates) a registry backed by the configured SQLite
// snapshot. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) (*Registry, error) {
	cfg = normalizeConfig(cfg)
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		config:     cfg,
		logger:     logger,
		facts:      make(map[int64]*FactStats),
		patterns:   make(map[string]*pattern),
		cycleHits:  make(map[int64]int),
		cycleConfs: make(map[int64][]float64),
	}

	if err := r.initSQLite(); err != nil {
		return nil, fmt.Errorf("registry: initialize sqlite: %w", err)
	}
	if err := r.loadState(); err != nil {
		r.db.Close()
		return nil, fmt.Errorf("registry: load state: %w", err)
	}

	r.logger.Debug("registry opened",
		"db_path", cfg.DBPath,
		"cycle", r.currentCycle,
		"facts", len(r.facts),
		"patterns", len(r.patterns))
	return r, nil
}

// Close closes the underlying snapshot store. In-flight state that has not
// been saved is discarded.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.Close()
}

// =============================================================================
// Hit recording
// =============================================================================

// RecordHit accumulates one observation of a fact within the open cycle.
// Confidence is clamped to [0, 1].
func (r *Registry) RecordHit(factID int64, cartridgeID string, confidence float64) error {
	confidence = clamp01(confidence)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}

	stats, ok := r.facts[factID]
	if !ok {
		stats = &FactStats{
			FactID:      factID,
			CartridgeID: cartridgeID,
			FirstCycle:  r.currentCycle,
			LastCycle:   r.currentCycle,
		}
		r.facts[factID] = stats
	}

	stats.HitCount++
	stats.Confidences = append(stats.Confidences, confidence)

	r.cycleHits[factID]++
	r.cycleConfs[factID] = append(r.cycleConfs[factID], confidence)
	return nil
}

// RecordConcepts notes query concepts for the open cycle. Patterns that
// recur this cycle absorb them, giving promoted candidates their concept
// history.
func (r *Registry) RecordConcepts(concepts ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	r.cycleConcepts = append(r.cycleConcepts, concepts...)
	return nil
}

// AdvanceCycle closes the open cycle: per-fact activity windows are
// updated, fact sets that were hit together are folded into co-occurrence
// patterns, and the cycle counter moves on.
func (r *Registry) AdvanceCycle() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}

	for factID := range r.cycleHits {
		stats := r.facts[factID]
		stats.CyclesActive++
		stats.LastCycle = r.currentCycle
	}

	r.foldCycleIntoPatterns()

	r.logger.Debug("cycle advanced",
		"cycle", r.currentCycle,
		"facts_hit", len(r.cycleHits),
		"patterns", len(r.patterns))

	r.currentCycle++
	r.cycleHits = make(map[int64]int)
	r.cycleConfs = make(map[int64][]float64)
	r.cycleConcepts = nil
	return nil
}

// CurrentCycle returns the index of the open cycle.
func (r *Registry) CurrentCycle() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentCycle
}

// FactCount returns the number of distinct facts ever recorded.
func (r *Registry) FactCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.facts)
}

// PatternCount returns the number of co-occurrence patterns being tracked.
func (r *Registry) PatternCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.patterns)
}

// Stats returns a copy of the accumulated statistics for a fact.
func (r *Registry) Stats(factID int64) (FactStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats, ok := r.facts[factID]
	if !ok {
		return FactStats{}, fmt.Errorf("%w: %d", ErrFactNotFound, factID)
	}
	return stats.clone(), nil
}

// AverageConfidence returns the mean recorded confidence for a fact,
// 0 when the fact is unknown.
func (r *Registry) AverageConfidence(factID int64) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats, ok := r.facts[factID]
	if !ok {
		return 0
	}
	return stats.AverageConfidence()
}

// HotFacts returns the top-n facts by hit count, ties broken by recency
// and then by fact ID for determinism.
func (r *Registry) HotFacts(n int) []FactStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FactStats, 0, len(r.facts))
	for _, stats := range r.facts {
		out = append(out, stats.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HitCount != out[j].HitCount {
			return out[i].HitCount > out[j].HitCount
		}
		if out[i].LastCycle != out[j].LastCycle {
			return out[i].LastCycle > out[j].LastCycle
		}
		return out[i].FactID < out[j].FactID
	})

	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// =============================================================================
// Helpers
// =============================================================================

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// patternKey canonicalizes a cartridge-scoped fact set.
func patternKey(cartridgeID string, factIDs []int64) string {
	parts := make([]string, len(factIDs))
	for i, id := range factIDs {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return cartridgeID + ":" + strings.Join(parts, ",")
}
