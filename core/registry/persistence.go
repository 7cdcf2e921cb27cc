package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// =============================================================================
// SQLite snapshot store
// =============================================================================

func (r *Registry) initSQLite() error {
	if err := r.ensureDBDirectory(); err != nil {
		return err
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}

	if err := r.configureAndCreateSchema(db); err != nil {
		db.Close()
		return err
	}

	r.db = db
	return nil
}

func (r *Registry) ensureDBDirectory() error {
	dir := filepath.Dir(r.config.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func (r *Registry) openDatabase() (*sql.DB, error) {
	db, err := sql.Open("sqlite", r.config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	return db, nil
}

func (r *Registry) configureAndCreateSchema(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL: %w", err)
	}
	return r.createSchema(db)
}

func (r *Registry) createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS registry_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		current_cycle INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS fact_stats (
		fact_id INTEGER PRIMARY KEY,
		cartridge_id TEXT NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0,
		confidences TEXT NOT NULL DEFAULT '[]',
		first_cycle INTEGER NOT NULL DEFAULT 0,
		last_cycle INTEGER NOT NULL DEFAULT 0,
		cycles_active INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_fact_stats_hits ON fact_stats(hit_count DESC);

	CREATE TABLE IF NOT EXISTS patterns (
		pattern_key TEXT PRIMARY KEY,
		cartridge_id TEXT NOT NULL,
		fact_ids TEXT NOT NULL DEFAULT '[]',
		cycles_seen INTEGER NOT NULL DEFAULT 0,
		first_cycle INTEGER NOT NULL DEFAULT 0,
		last_cycle INTEGER NOT NULL DEFAULT 0,
		hit_count INTEGER NOT NULL DEFAULT 0,
		confidences TEXT NOT NULL DEFAULT '[]',
		concepts TEXT NOT NULL DEFAULT '[]',
		phantom_id TEXT NOT NULL DEFAULT '',
		promoted_at TEXT NOT NULL DEFAULT ''
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// =============================================================================
// State restore
// =============================================================================

func (r *Registry) loadState() error {
	if err := r.loadCycle(); err != nil {
		return err
	}
	if err := r.loadFactStats(); err != nil {
		return err
	}
	return r.loadPatterns()
}

func (r *Registry) loadCycle() error {
	row := r.db.QueryRow("SELECT current_cycle FROM registry_state WHERE id = 1")
	if err := row.Scan(&r.currentCycle); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("failed to load cycle: %w", err)
	}
	return nil
}

func (r *Registry) loadFactStats() error {
	rows, err := r.db.Query(`
		SELECT fact_id, cartridge_id, hit_count, confidences,
		       first_cycle, last_cycle, cycles_active
		FROM fact_stats`)
	if err != nil {
		return fmt.Errorf("failed to load fact stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		stats, err := r.scanFactStats(rows)
		if err != nil {
			return err
		}
		r.facts[stats.FactID] = stats
	}
	return rows.Err()
}

func (r *Registry) scanFactStats(rows *sql.Rows) (*FactStats, error) {
	var stats FactStats
	var confidences string

	err := rows.Scan(&stats.FactID, &stats.CartridgeID, &stats.HitCount,
		&confidences, &stats.FirstCycle, &stats.LastCycle, &stats.CyclesActive)
	if err != nil {
		return nil, fmt.Errorf("failed to scan fact stats: %w", err)
	}

	if err := json.Unmarshal([]byte(confidences), &stats.Confidences); err != nil {
		return nil, fmt.Errorf("failed to decode confidences for fact %d: %w", stats.FactID, err)
	}
	return &stats, nil
}

func (r *Registry) loadPatterns() error {
	rows, err := r.db.Query(`
		SELECT pattern_key, cartridge_id, fact_ids, cycles_seen,
		       first_cycle, last_cycle, hit_count, confidences, concepts,
		       phantom_id, promoted_at
		FROM patterns`)
	if err != nil {
		return fmt.Errorf("failed to load patterns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := r.scanPattern(rows)
		if err != nil {
			return err
		}
		r.patterns[p.Key] = p
	}
	return rows.Err()
}

func (r *Registry) scanPattern(rows *sql.Rows) (*pattern, error) {
	var p pattern
	var factIDs, confidences, concepts string

	err := rows.Scan(&p.Key, &p.CartridgeID, &factIDs, &p.CyclesSeen,
		&p.FirstCycle, &p.LastCycle, &p.HitCount, &confidences, &concepts,
		&p.PhantomID, &p.PromotedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan pattern: %w", err)
	}

	if err := json.Unmarshal([]byte(factIDs), &p.FactIDs); err != nil {
		return nil, fmt.Errorf("failed to decode fact ids for pattern %s: %w", p.Key, err)
	}
	if err := json.Unmarshal([]byte(confidences), &p.Confidences); err != nil {
		return nil, fmt.Errorf("failed to decode confidences for pattern %s: %w", p.Key, err)
	}
	if err := json.Unmarshal([]byte(concepts), &p.Concepts); err != nil {
		return nil, fmt.Errorf("failed to decode concepts for pattern %s: %w", p.Key, err)
	}
	return &p, nil
}

// =============================================================================
// Snapshot
// =============================================================================

// Save writes the full in-memory state to SQLite in one transaction,
// replacing the previous snapshot.
func (r *Registry) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRegistryClosed
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback()

	if err := r.saveCycle(tx); err != nil {
		return err
	}
	if err := r.saveFactStats(tx); err != nil {
		return err
	}
	if err := r.savePatterns(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	r.logger.Debug("registry saved",
		"cycle", r.currentCycle,
		"facts", len(r.facts),
		"patterns", len(r.patterns))
	return nil
}

func (r *Registry) saveCycle(tx *sql.Tx) error {
	_, err := tx.Exec(`
		INSERT INTO registry_state (id, current_cycle) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET current_cycle = excluded.current_cycle`,
		r.currentCycle)
	if err != nil {
		return fmt.Errorf("failed to save cycle: %w", err)
	}
	return nil
}

func (r *Registry) saveFactStats(tx *sql.Tx) error {
	if _, err := tx.Exec("DELETE FROM fact_stats"); err != nil {
		return fmt.Errorf("failed to clear fact stats: %w", err)
	}

	for _, stats := range r.facts {
		confidences, err := json.Marshal(stats.Confidences)
		if err != nil {
			return fmt.Errorf("failed to encode confidences for fact %d: %w", stats.FactID, err)
		}

		_, err = tx.Exec(`
			INSERT INTO fact_stats (fact_id, cartridge_id, hit_count,
				confidences, first_cycle, last_cycle, cycles_active)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			stats.FactID, stats.CartridgeID, stats.HitCount,
			string(confidences), stats.FirstCycle, stats.LastCycle, stats.CyclesActive)
		if err != nil {
			return fmt.Errorf("failed to save fact %d: %w", stats.FactID, err)
		}
	}
	return nil
}

func (r *Registry) savePatterns(tx *sql.Tx) error {
	if _, err := tx.Exec("DELETE FROM patterns"); err != nil {
		return fmt.Errorf("failed to clear patterns: %w", err)
	}

	for _, p := range r.patterns {
		factIDs, err := json.Marshal(p.FactIDs)
		if err != nil {
			return fmt.Errorf("failed to encode fact ids for pattern %s: %w", p.Key, err)
		}
		confidences, err := json.Marshal(p.Confidences)
		if err != nil {
			return fmt.Errorf("failed to encode confidences for pattern %s: %w", p.Key, err)
		}
		concepts, err := json.Marshal(p.Concepts)
		if err != nil {
			return fmt.Errorf("failed to encode concepts for pattern %s: %w", p.Key, err)
		}

		_, err = tx.Exec(`
			INSERT INTO patterns (pattern_key, cartridge_id, fact_ids,
				cycles_seen, first_cycle, last_cycle, hit_count,
				confidences, concepts, phantom_id, promoted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Key, p.CartridgeID, string(factIDs),
			p.CyclesSeen, p.FirstCycle, p.LastCycle, p.HitCount,
			string(confidences), string(concepts), p.PhantomID, p.PromotedAt)
		if err != nil {
			return fmt.Errorf("failed to save pattern %s: %w", p.Key, err)
		}
	}
	return nil
}
