// Package grainstore persists crystallized grains in SQLite. Grains are
// immutable: Put uses first-write-wins semantics and re-inserting an
// existing grain ID is reported, not errored. Reads go through a ristretto
// cache keyed by grain ID.
package grainstore

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/voxfield/kitbash/core/grain"
)

//go:embed schema.sql
var schemaSQL string

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("grainstore: closed")

	// ErrGrainNotFound indicates no grain matches the lookup.
	ErrGrainNotFound = errors.New("grainstore: grain not found")

	// ErrNilGrain indicates Put was called with a nil grain.
	ErrNilGrain = errors.New("grainstore: nil grain")
)

// =============================================================================
// Configuration
// =============================================================================

const (
	// DefaultMaxOpenConns suits a single-process crystallizer.
	DefaultMaxOpenConns = 10

	// DefaultMaxIdleConns keeps half the pool warm.
	DefaultMaxIdleConns = 5
)

// Config holds store settings.
type Config struct {
	// Path is the SQLite database location.
	Path string `json:"path" yaml:"path"`

	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int `json:"max_idle_conns" yaml:"max_idle_conns"`
}

// DefaultConfig returns a Config with standard pool settings.
func DefaultConfig(path string) Config {
	return Config{
		Path:         path,
		MaxOpenConns: DefaultMaxOpenConns,
		MaxIdleConns: DefaultMaxIdleConns,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("grainstore: path is required")
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("grainstore: MaxOpenConns must be at least 1, got %d", c.MaxOpenConns)
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("grainstore: MaxIdleConns (%d) must be between 0 and MaxOpenConns (%d)",
			c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// =============================================================================
// Store
// =============================================================================

// Store is the SQLite-backed grain repository.
type Store struct {
	config Config
	logger *slog.Logger
	db     *sql.DB
	cache  *grainCache

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) a grain store with default settings. A nil logger
// falls back to slog.Default().
func Open(path string, logger *slog.Logger) (*Store, error) {
	return OpenWithConfig(DefaultConfig(path), logger)
}

// OpenWithConfig opens a grain store with the given configuration.
func OpenWithConfig(config Config, logger *slog.Logger) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("grainstore: create dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_synchronous=normal", config.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("grainstore: open database at %s: %w", config.Path, err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("grainstore: ping database at %s: %w", config.Path, err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("grainstore: apply schema: %w", err)
	}

	cache, err := newGrainCache()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("grainstore: create cache: %w", err)
	}

	logger.Debug("grain store opened", "path", config.Path)
	return &Store{
		config: config,
		logger: logger,
		db:     db,
		cache:  cache,
	}, nil
}

// Close closes the store and its cache. Safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cache.close()
	return s.db.Close()
}

func (s *Store) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// =============================================================================
// Writes
// =============================================================================

// Put stores a grain. Returns whether the grain was inserted: a grain ID
// that already exists leaves the stored record untouched and reports false
// without error.
func (s *Store) Put(g *grain.Grain) (bool, error) {
	if g == nil {
		return false, ErrNilGrain
	}
	if err := g.Validate(); err != nil {
		return false, fmt.Errorf("grainstore: invalid grain: %w", err)
	}
	if err := s.checkClosed(); err != nil {
		return false, err
	}

	factIDs, err := json.Marshal(g.SourceFactIDs)
	if err != nil {
		return false, fmt.Errorf("grainstore: encode fact ids: %w", err)
	}
	axiomIDs, err := json.Marshal(g.AxiomIDs)
	if err != nil {
		return false, fmt.Errorf("grainstore: encode axiom ids: %w", err)
	}

	result, err := s.db.Exec(`
		INSERT OR IGNORE INTO grains (
			grain_id, source_phantom_id, cartridge_id, source_fact_ids,
			num_bits, bits_positive, bits_negative, bits_void,
			axiom_ids, evidence_hash, internal_hamming, weight_skew,
			avg_confidence, observation_count,
			bit_array_plus, bit_array_minus, epistemic_level
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.GrainID, g.SourcePhantomID, g.CartridgeID, string(factIDs),
		g.NumBits, g.BitsPositive, g.BitsNegative, g.BitsVoid,
		string(axiomIDs), g.EvidenceHash, g.InternalHamming, g.WeightSkew,
		g.AvgConfidence, g.ObservationCount,
		g.BitArrayPlus, g.BitArrayMinus, string(g.EpistemicLevel))
	if err != nil {
		return false, fmt.Errorf("grainstore: insert grain %s: %w", g.GrainID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("grainstore: rows affected: %w", err)
	}

	inserted := affected > 0
	if inserted {
		s.cache.set(g)
		s.logger.Debug("grain stored", "grain_id", g.GrainID, "cartridge", g.CartridgeID)
	}
	return inserted, nil
}

// =============================================================================
// Reads
// =============================================================================

// Get returns the grain with the given ID. Cached grains are returned
// directly; callers must treat them as read-only.
func (s *Store) Get(grainID string) (*grain.Grain, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	if g, ok := s.cache.get(grainID); ok {
		return g, nil
	}

	row := s.db.QueryRow(selectColumns+" FROM grains WHERE grain_id = ?", grainID)
	g, err := scanGrain(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrGrainNotFound, grainID)
	}
	if err != nil {
		return nil, err
	}

	s.cache.set(g)
	return g, nil
}

// List returns all grains belonging to a cartridge, ordered by grain ID.
func (s *Store) List(cartridgeID string) ([]*grain.Grain, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.queryGrains(selectColumns+" FROM grains WHERE cartridge_id = ? ORDER BY grain_id", cartridgeID)
}

// All returns every stored grain, ordered by grain ID. Used as the
// existing-grain snapshot for independence checks.
func (s *Store) All() ([]*grain.Grain, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return s.queryGrains(selectColumns + " FROM grains ORDER BY grain_id")
}

// FindByEvidenceHash returns the grain crystallized from the given evidence
// fingerprint, or ErrGrainNotFound.
func (s *Store) FindByEvidenceHash(hash string) (*grain.Grain, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	row := s.db.QueryRow(selectColumns+" FROM grains WHERE evidence_hash = ? LIMIT 1", hash)
	g, err := scanGrain(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: evidence %s", ErrGrainNotFound, hash)
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Count returns the number of stored grains.
func (s *Store) Count() (int64, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}

	var count int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM grains").Scan(&count); err != nil {
		return 0, fmt.Errorf("grainstore: count: %w", err)
	}
	return count, nil
}

// CacheStats returns the read-through cache counters.
func (s *Store) CacheStats() *CacheStats {
	return s.cache.stats
}

// =============================================================================
// Row scanning
// =============================================================================

const selectColumns = `SELECT grain_id, source_phantom_id, cartridge_id, source_fact_ids,
	num_bits, bits_positive, bits_negative, bits_void,
	axiom_ids, evidence_hash, internal_hamming, weight_skew,
	avg_confidence, observation_count,
	bit_array_plus, bit_array_minus, epistemic_level`

func (s *Store) queryGrains(query string, args ...any) ([]*grain.Grain, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("grainstore: query grains: %w", err)
	}
	defer rows.Close()

	var grains []*grain.Grain
	for rows.Next() {
		g, err := scanGrain(rows)
		if err != nil {
			return nil, err
		}
		grains = append(grains, g)
	}
	return grains, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrain(row rowScanner) (*grain.Grain, error) {
	var g grain.Grain
	var factIDs, axiomIDs, level string

	err := row.Scan(&g.GrainID, &g.SourcePhantomID, &g.CartridgeID, &factIDs,
		&g.NumBits, &g.BitsPositive, &g.BitsNegative, &g.BitsVoid,
		&axiomIDs, &g.EvidenceHash, &g.InternalHamming, &g.WeightSkew,
		&g.AvgConfidence, &g.ObservationCount,
		&g.BitArrayPlus, &g.BitArrayMinus, &level)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("grainstore: scan grain: %w", err)
	}

	if err := json.Unmarshal([]byte(factIDs), &g.SourceFactIDs); err != nil {
		return nil, fmt.Errorf("grainstore: decode fact ids for %s: %w", g.GrainID, err)
	}
	if err := json.Unmarshal([]byte(axiomIDs), &g.AxiomIDs); err != nil {
		return nil, fmt.Errorf("grainstore: decode axiom ids for %s: %w", g.GrainID, err)
	}
	g.EpistemicLevel = grain.EpistemicLevel(level)

	return &g, nil
}
