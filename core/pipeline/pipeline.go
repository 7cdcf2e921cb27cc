// Package pipeline runs phantom candidates through the full
// crystallization flow: axiom validation, duplicate-evidence checks,
// ternary crushing, the post-crush quality gate, and storage. It is the
// only place the validator, crusher, and grain store meet; the packages
// underneath never import each other.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/voxfield/kitbash/core/axiom"
	"github.com/voxfield/kitbash/core/crush"
	"github.com/voxfield/kitbash/core/grain"
	"github.com/voxfield/kitbash/core/grainstore"
)

var (
	// ErrNilValidator indicates the pipeline was constructed without a validator.
	ErrNilValidator = errors.New("pipeline: validator is nil")

	// ErrNilCrusher indicates the pipeline was constructed without a crusher.
	ErrNilCrusher = errors.New("pipeline: crusher is nil")

	// ErrNilStore indicates the pipeline was constructed without a grain store.
	ErrNilStore = errors.New("pipeline: grain store is nil")
)

// DefaultDedupeCacheSize bounds the in-memory cache of recently
// crystallized evidence fingerprints.
const DefaultDedupeCacheSize = 1024

// VectorSource supplies observation vectors for a phantom when the caller
// has them. Implementations return nil for phantoms without vectors; the
// crusher then falls back to its confidence heuristic.
type VectorSource interface {
	Vectors(phantomID string) [][]float64
}

// Config holds pipeline construction parameters.
type Config struct {
	// DedupeCacheSize is the maximum number of recently crystallized
	// evidence fingerprints kept in memory. If <= 0, uses
	// DefaultDedupeCacheSize.
	DedupeCacheSize int

	// VectorSource supplies observation vectors during crystallization.
	// Optional - can be nil if crushing should use the confidence
	// heuristic alone.
	VectorSource VectorSource
}

// Outcome classifies what happened to one candidate during a run.
type Outcome string

const (
	// OutcomeCrystallized means the candidate passed every gate and its
	// grain was stored.
	OutcomeCrystallized Outcome = "crystallized"

	// OutcomeRejected means a validation rule or the quality gate refused
	// the candidate.
	OutcomeRejected Outcome = "rejected"

	// OutcomeSkipped means the candidate duplicated evidence that is
	// already crystallized. Skips are not errors.
	OutcomeSkipped Outcome = "skipped"
)

// CandidateReport records the outcome of one candidate along with
// whichever reports were produced on its way through the pipeline.
type CandidateReport struct {
	PhantomID   string                  `json:"phantom_id"`
	Outcome     Outcome                 `json:"outcome"`
	GrainID     string                  `json:"grain_id,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
	Validation  *axiom.Report           `json:"validation,omitempty"`
	Quality     *axiom.QualityReport    `json:"quality,omitempty"`
	Compression *crush.CompressionStats `json:"compression,omitempty"`
}

// Result summarizes a pipeline run.
type Result struct {
	Crystallized int               `json:"crystallized"`
	Rejected     int               `json:"rejected"`
	Skipped      int               `json:"skipped"`
	Reports      []CandidateReport `json:"reports"`
	Validation   axiom.BatchResult `json:"validation"`
}

// Crystallizer takes validated phantom candidates through crushing, the
// quality gate, and storage, skipping candidates whose evidence is
// already crystallized.
type Crystallizer struct {
	validator *axiom.Validator
	crusher   *crush.Crusher
	store     *grainstore.Store
	vectors   VectorSource

	// recent maps evidence fingerprints to the grain IDs they produced,
	// so repeated candidates in close succession skip the store lookup.
	recent *lru.Cache[string, string]

	logger *slog.Logger
}

// New creates a Crystallizer with default configuration.
func New(validator *axiom.Validator, crusher *crush.Crusher, store *grainstore.Store, logger *slog.Logger) (*Crystallizer, error) {
	return NewWithConfig(validator, crusher, store, Config{}, logger)
}

// NewWithConfig creates a Crystallizer with the provided config.
func NewWithConfig(validator *axiom.Validator, crusher *crush.Crusher, store *grainstore.Store, config Config, logger *slog.Logger) (*Crystallizer, error) {
	if validator == nil {
		return nil, ErrNilValidator
	}
	if crusher == nil {
		return nil, ErrNilCrusher
	}
	if store == nil {
		return nil, ErrNilStore
	}
	if logger == nil {
		logger = slog.Default()
	}

	size := config.DedupeCacheSize
	if size <= 0 {
		size = DefaultDedupeCacheSize
	}
	recent, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("pipeline: dedupe cache: %w", err)
	}

	return &Crystallizer{
		validator: validator,
		crusher:   crusher,
		store:     store,
		vectors:   config.VectorSource,
		recent:    recent,
		logger:    logger,
	}, nil
}

// Run validates candidates against the current grain population, crushes
// the survivors, and stores every grain that clears the quality gate.
// The population is snapshotted once at the start, so all candidates in
// a batch are judged against the same baseline; grains crystallized
// during the run do not affect later candidates in the same batch.
//
// Duplicate evidence is skipped, not failed: a candidate whose evidence
// fingerprint matches an existing grain produces an OutcomeSkipped
// report naming that grain.
func (c *Crystallizer) Run(ctx context.Context, candidates []*grain.PhantomCandidate) (*Result, error) {
	live := make([]*grain.PhantomCandidate, 0, len(candidates))
	for _, phantom := range candidates {
		if phantom != nil {
			live = append(live, phantom)
		}
	}

	existing, err := c.store.All()
	if err != nil {
		return nil, fmt.Errorf("pipeline: snapshot grains: %w", err)
	}

	batch := c.validator.ValidateBatch(live, existing)

	byID := make(map[string]*grain.PhantomCandidate, len(live))
	for _, phantom := range live {
		byID[phantom.PhantomID] = phantom
	}

	result := &Result{
		Reports:    make([]CandidateReport, 0, len(candidates)),
		Validation: batch,
	}

	for i := range batch.Rejected {
		rejected := &batch.Rejected[i]
		result.Rejected++
		result.Reports = append(result.Reports, CandidateReport{
			PhantomID:  rejected.PhantomID,
			Outcome:    OutcomeRejected,
			Reason:     rejected.Report.Verdict,
			Validation: &rejected.Report,
		})
	}

	for _, ready := range batch.Ready {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		phantom, ok := byID[ready.PhantomID]
		if !ok {
			continue
		}
		report, err := c.crystallizeOne(phantom)
		if err != nil {
			return nil, err
		}
		switch report.Outcome {
		case OutcomeCrystallized:
			result.Crystallized++
		case OutcomeRejected:
			result.Rejected++
		case OutcomeSkipped:
			result.Skipped++
		}
		result.Reports = append(result.Reports, report)
	}

	c.logger.Info("pipeline run complete",
		"candidates", len(live),
		"crystallized", result.Crystallized,
		"rejected", result.Rejected,
		"skipped", result.Skipped)
	return result, nil
}

// crystallizeOne takes one validated candidate through the fingerprint
// check, crushing, the quality gate, and storage. Returned errors are
// infrastructure failures; gate refusals come back as reports.
func (c *Crystallizer) crystallizeOne(phantom *grain.PhantomCandidate) (CandidateReport, error) {
	report := CandidateReport{PhantomID: phantom.PhantomID}

	fingerprint, err := c.crusher.EvidenceFingerprint(phantom)
	if err != nil {
		return report, fmt.Errorf("pipeline: fingerprint %s: %w", phantom.PhantomID, err)
	}

	if grainID, ok := c.recent.Get(fingerprint); ok {
		return c.skipDuplicate(report, fingerprint, grainID), nil
	}
	prior, err := c.store.FindByEvidenceHash(fingerprint)
	if err == nil {
		return c.skipDuplicate(report, fingerprint, prior.GrainID), nil
	}
	if !errors.Is(err, grainstore.ErrGrainNotFound) {
		return report, fmt.Errorf("pipeline: evidence lookup %s: %w", phantom.PhantomID, err)
	}

	var vectors [][]float64
	if c.vectors != nil {
		vectors = c.vectors.Vectors(phantom.PhantomID)
	}
	g, err := c.crusher.Crystallize(phantom, vectors, passedAxioms())
	if err != nil {
		return report, fmt.Errorf("pipeline: crystallize %s: %w", phantom.PhantomID, err)
	}

	quality := c.validator.CheckQuality(g)
	report.Quality = &quality
	if !quality.Passed {
		c.logger.Info("grain refused by quality gate",
			"phantom_id", phantom.PhantomID,
			"grain_id", g.GrainID,
			"reason", quality.Reason)
		report.Outcome = OutcomeRejected
		report.Reason = quality.Reason
		return report, nil
	}

	inserted, err := c.store.Put(g)
	if err != nil {
		return report, fmt.Errorf("pipeline: store grain %s: %w", g.GrainID, err)
	}
	c.recent.Add(fingerprint, g.GrainID)
	if !inserted {
		report.Outcome = OutcomeSkipped
		report.GrainID = g.GrainID
		report.Reason = "grain already stored"
		return report, nil
	}

	stats := crush.ComputeCompressionStats(g)
	report.Outcome = OutcomeCrystallized
	report.GrainID = g.GrainID
	report.Compression = &stats
	c.logger.Info("grain crystallized",
		"phantom_id", phantom.PhantomID,
		"grain_id", g.GrainID,
		"cartridge_id", g.CartridgeID,
		"bits_positive", g.BitsPositive,
		"bits_negative", g.BitsNegative,
		"savings_percent", stats.SavingsPercent)
	return report, nil
}

// skipDuplicate fills in a skip report for evidence that is already
// crystallized under grainID.
func (c *Crystallizer) skipDuplicate(report CandidateReport, fingerprint, grainID string) CandidateReport {
	c.recent.Add(fingerprint, grainID)
	c.logger.Debug("duplicate evidence skipped",
		"phantom_id", report.PhantomID,
		"grain_id", grainID)
	report.Outcome = OutcomeSkipped
	report.GrainID = grainID
	report.Reason = "evidence already crystallized"
	return report
}

// passedAxioms lists the rules every candidate has cleared by the time
// it reaches crushing.
func passedAxioms() []string {
	return []string{
		string(axiom.RulePersistence),
		string(axiom.RuleLeastResistance),
		string(axiom.RuleIndependence),
	}
}
