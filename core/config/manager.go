// Package config assembles kitbash's runtime configuration from
// defaults, YAML files, and environment overrides. A Manager is
// constructed once in cmd and handed down; nothing reads configuration
// through globals.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voxfield/kitbash/core/axiom"
	"github.com/voxfield/kitbash/core/crush"
	"github.com/voxfield/kitbash/core/grainstore"
	"github.com/voxfield/kitbash/core/registry"
)

// ErrInvalidConfig reports an unusable configuration value.
var ErrInvalidConfig = errors.New("config: invalid")

// projectStateDir is the project-local directory kitbash writes to.
const projectStateDir = ".kitbash"

// Config is the full runtime configuration. The validation, crush,
// registry, and store sections reuse their packages' own config types, so
// a YAML file addresses the same knobs the constructors take.
type Config struct {
	Axiom    axiom.Config      `yaml:"axiom" json:"axiom"`
	Crush    crush.Config      `yaml:"crush" json:"crush"`
	Registry registry.Config   `yaml:"registry" json:"registry"`
	Store    grainstore.Config `yaml:"store" json:"store"`
	Ingest   IngestConfig      `yaml:"ingest" json:"ingest"`
}

// IngestConfig holds cartridge ingestion settings.
type IngestConfig struct {
	// CartridgeRoot is the directory cartridges are saved under.
	CartridgeRoot string `yaml:"cartridge_root" json:"cartridge_root"`

	// Pattern filters files during directory ingestion.
	Pattern string `yaml:"pattern" json:"pattern"`

	// Debounce is the watch-mode quiet window, as a duration string.
	Debounce string `yaml:"debounce" json:"debounce"`
}

// Validate checks the ingestion settings.
func (c IngestConfig) Validate() error {
	if c.CartridgeRoot == "" {
		return fmt.Errorf("%w: cartridge_root cannot be empty", ErrInvalidConfig)
	}
	if c.Debounce != "" {
		if _, err := time.ParseDuration(c.Debounce); err != nil {
			return fmt.Errorf("%w: debounce: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// DebounceDuration returns the parsed watch debounce. Empty or malformed
// values come back as zero, which the watcher replaces with its default.
func (c IngestConfig) DebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.Debounce)
	if err != nil {
		return 0
	}
	return d
}

// DefaultConfig returns the standard configuration: package defaults for
// every section and project-local state under .kitbash/.
func DefaultConfig() *Config {
	return &Config{
		Axiom:    axiom.DefaultConfig(),
		Crush:    crush.DefaultConfig(),
		Registry: registry.DefaultConfig(),
		Store:    grainstore.DefaultConfig(filepath.Join(projectStateDir, "grains.db")),
		Ingest: IngestConfig{
			CartridgeRoot: filepath.Join(projectStateDir, "cartridges"),
			Pattern:       "*",
			Debounce:      "100ms",
		},
	}
}

// Validate checks every section for usability.
func (c *Config) Validate() error {
	if err := c.Axiom.Validate(); err != nil {
		return err
	}
	if err := c.Crush.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	return c.Ingest.Validate()
}

// Manager owns the loaded configuration. Reads go through an atomic
// pointer, so Get is safe from any goroutine while Load swaps in a new
// snapshot.
type Manager struct {
	current     atomic.Pointer[Config]
	projectRoot string
	userConfig  string
}

// NewManager creates a Manager rooted at projectRoot, seeded with
// defaults. Load layers files and environment on top.
func NewManager(projectRoot string) *Manager {
	return NewManagerWithPaths(projectRoot, UserConfigPath())
}

// NewManagerWithPaths creates a Manager with an explicit user config
// location.
func NewManagerWithPaths(projectRoot, userConfigPath string) *Manager {
	m := &Manager{
		projectRoot: projectRoot,
		userConfig:  userConfigPath,
	}
	m.current.Store(DefaultConfig())
	return m
}

// Get returns the current configuration snapshot.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// Load reads every source in precedence order: defaults, then the user
// config, then the project kitbash.yaml, then the gitignored local
// overrides, then KITBASH_* environment variables. Missing files are not
// errors. The previous snapshot stays visible if loading fails.
func (m *Manager) Load() error {
	cfg := DefaultConfig()

	if err := loadYAMLFile(m.userConfig, cfg); err != nil {
		return fmt.Errorf("user config: %w", err)
	}

	paths := ResolveProjectPaths(m.projectRoot)
	if err := loadYAMLFile(paths.Config, cfg); err != nil {
		return fmt.Errorf("project config: %w", err)
	}
	if err := loadYAMLFile(paths.Local, cfg); err != nil {
		return fmt.Errorf("local config: %w", err)
	}

	applyEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	m.current.Store(cfg)
	return nil
}

// Reload re-reads every source.
func (m *Manager) Reload() error {
	return m.Load()
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func applyEnvironment(cfg *Config) {
	if v := os.Getenv("KITBASH_REGISTRY_DB"); v != "" {
		cfg.Registry.DBPath = v
	}
	if v := os.Getenv("KITBASH_REGISTRY_PROMOTION_THRESHOLD"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Registry.PromotionThreshold = n
		}
	}
	if v := os.Getenv("KITBASH_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("KITBASH_AXIOM_MIN_OBSERVATIONS"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Axiom.MinObservations = n
		}
	}
	if v := os.Getenv("KITBASH_AXIOM_MIN_CONFIDENCE"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Axiom.MinConfidence = f
		}
	}
	if v := os.Getenv("KITBASH_CRUSH_NUM_BITS"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Crush.NumBits = n
		}
	}
	if v := os.Getenv("KITBASH_INGEST_ROOT"); v != "" {
		cfg.Ingest.CartridgeRoot = v
	}
	if v := os.Getenv("KITBASH_INGEST_PATTERN"); v != "" {
		cfg.Ingest.Pattern = v
	}
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}
