// Package cartridge implements named fact partitions: annotated fact storage
// with a YAML manifest, builders that populate cartridges from markdown, CSV,
// JSON, and plain-text sources, and a watcher for re-ingesting changed files.
package cartridge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNameEmpty indicates a cartridge name was not provided.
	ErrNameEmpty = errors.New("cartridge: name cannot be empty")

	// ErrFactNotFound indicates the requested fact ID does not exist.
	ErrFactNotFound = errors.New("cartridge: fact not found")
)

// =============================================================================
// Entities
// =============================================================================

// Manifest describes a cartridge.
type Manifest struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Domains     []string `yaml:"domains" json:"domains"`
	Tags        []string `yaml:"tags" json:"tags"`
	Author      string   `yaml:"author" json:"author"`
	Created     string   `yaml:"created" json:"created"`
}

// Annotation carries the provenance and scoping metadata attached to a fact.
type Annotation struct {
	Confidence float64  `yaml:"confidence" json:"confidence"`
	Sources    []string `yaml:"sources" json:"sources"`
	Domain     string   `yaml:"domain" json:"domain"`
	Subdomains []string `yaml:"subdomains,omitempty" json:"subdomains,omitempty"`
	AppliesTo  []string `yaml:"applies_to,omitempty" json:"applies_to,omitempty"`
	Excludes   []string `yaml:"excludes,omitempty" json:"excludes,omitempty"`
}

// Fact is one annotated statement owned by a cartridge.
type Fact struct {
	ID         int64      `yaml:"id" json:"id"`
	Content    string     `yaml:"content" json:"content"`
	Annotation Annotation `yaml:"annotation" json:"annotation"`
}

// =============================================================================
// Cartridge
// =============================================================================

// Cartridge is a named partition of annotated facts. Fact IDs are assigned
// sequentially and never reused.
type Cartridge struct {
	mu       sync.RWMutex
	manifest Manifest
	facts    []Fact
	nextID   int64
}

// New creates an empty cartridge with the given name.
func New(name string) (*Cartridge, error) {
	if name == "" {
		return nil, ErrNameEmpty
	}
	return &Cartridge{
		manifest: Manifest{
			Name:    name,
			Created: time.Now().UTC().Format(time.RFC3339),
		},
		nextID: 1,
	}, nil
}

// Name returns the cartridge name.
func (c *Cartridge) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.manifest.Name
}

// AddFact stores a fact and returns its assigned ID.
func (c *Cartridge) AddFact(content string, ann Annotation) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.facts = append(c.facts, Fact{ID: id, Content: content, Annotation: ann})
	return id
}

// Fact returns the fact with the given ID.
func (c *Cartridge) Fact(id int64) (Fact, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, f := range c.facts {
		if f.ID == id {
			return f, nil
		}
	}
	return Fact{}, fmt.Errorf("%w: %d", ErrFactNotFound, id)
}

// Facts returns a copy of all facts in insertion order.
func (c *Cartridge) Facts() []Fact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Fact(nil), c.facts...)
}

// FactCount returns the number of stored facts.
func (c *Cartridge) FactCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.facts)
}

// Manifest returns a copy of the cartridge manifest.
func (c *Cartridge) Manifest() Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m := c.manifest
	m.Domains = append([]string(nil), c.manifest.Domains...)
	m.Tags = append([]string(nil), c.manifest.Tags...)
	return m
}

// RegisterDomain adds a domain to the manifest if not already present.
func (c *Cartridge) RegisterDomain(domain string) {
	if domain == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manifest.Domains = mergeUnique(c.manifest.Domains, domain)
}

// SetMetadata updates manifest fields. Domains and tags are merged with the
// existing sets; empty description or author leave the current value.
func (c *Cartridge) SetMetadata(description string, domains, tags []string, author string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if description != "" {
		c.manifest.Description = description
	}
	c.manifest.Domains = mergeUnique(c.manifest.Domains, domains...)
	c.manifest.Tags = mergeUnique(c.manifest.Tags, tags...)
	if author != "" {
		c.manifest.Author = author
	}
}

func mergeUnique(existing []string, incoming ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	for _, v := range incoming {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		existing = append(existing, v)
	}
	return existing
}

// =============================================================================
// Persistence
// =============================================================================

const (
	manifestFile = "manifest.yaml"
	factsFile    = "facts.yaml"
)

type factsDocument struct {
	Facts []Fact `yaml:"facts"`
}

// Save writes the cartridge as <root>/<name>/manifest.yaml + facts.yaml.
func (c *Cartridge) Save(root string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Join(root, c.manifest.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cartridge: create dir: %w", err)
	}

	manifestData, err := yaml.Marshal(&c.manifest)
	if err != nil {
		return fmt.Errorf("cartridge: marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), manifestData, 0644); err != nil {
		return fmt.Errorf("cartridge: write manifest: %w", err)
	}

	factsData, err := yaml.Marshal(&factsDocument{Facts: c.facts})
	if err != nil {
		return fmt.Errorf("cartridge: marshal facts: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, factsFile), factsData, 0644); err != nil {
		return fmt.Errorf("cartridge: write facts: %w", err)
	}

	return nil
}

// Load reads a cartridge previously written by Save.
func Load(root, name string) (*Cartridge, error) {
	if name == "" {
		return nil, ErrNameEmpty
	}
	dir := filepath.Join(root, name)

	manifestData, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("cartridge: read manifest: %w", err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(manifestData, &manifest); err != nil {
		return nil, fmt.Errorf("cartridge: parse manifest: %w", err)
	}

	factsData, err := os.ReadFile(filepath.Join(dir, factsFile))
	if err != nil {
		return nil, fmt.Errorf("cartridge: read facts: %w", err)
	}
	var doc factsDocument
	if err := yaml.Unmarshal(factsData, &doc); err != nil {
		return nil, fmt.Errorf("cartridge: parse facts: %w", err)
	}

	nextID := int64(1)
	for _, f := range doc.Facts {
		if f.ID >= nextID {
			nextID = f.ID + 1
		}
	}

	return &Cartridge{
		manifest: manifest,
		facts:    doc.Facts,
		nextID:   nextID,
	}, nil
}
