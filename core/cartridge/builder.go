package cartridge

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultDomain is assigned when a source carries no domain.
	DefaultDomain = "general"

	// DefaultConfidence is the confidence for facts without an explicit score.
	DefaultConfidence = 0.8

	// DefaultTextConfidence is the confidence for plain-text facts.
	DefaultTextConfidence = 0.7

	// minFactRunes is the length below which a text line is not a fact.
	minFactRunes = 10
)

var (
	// ErrNotDirectory indicates the batch path is not a directory.
	ErrNotDirectory = errors.New("cartridge: not a directory")

	// ErrInvalidPattern indicates a glob pattern could not be compiled.
	ErrInvalidPattern = errors.New("cartridge: invalid glob pattern")
)

var sentenceBoundary = regexp.MustCompile(`[.!?]+`)

// =============================================================================
// Builder
// =============================================================================

// Builder populates a cartridge from external sources. Adapters tolerate
// malformed rows: bad entries are skipped and counted, never abort the file.
type Builder struct {
	cart   *Cartridge
	logger *slog.Logger

	added   int
	skipped int
}

// BuilderStats summarizes a builder run.
type BuilderStats struct {
	Cartridge  string `json:"cartridge"`
	FactsAdded int    `json:"facts_added"`
	Skipped    int    `json:"skipped"`
}

// NewBuilder creates a builder over a fresh cartridge. A nil logger falls
// back to slog.Default().
func NewBuilder(name string, logger *slog.Logger) (*Builder, error) {
	cart, err := New(name)
	if err != nil {
		return nil, err
	}
	return NewBuilderFor(cart, logger), nil
}

// NewBuilderFor creates a builder over an existing cartridge.
func NewBuilderFor(cart *Cartridge, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{cart: cart, logger: logger}
}

// Cartridge returns the cartridge being populated.
func (b *Builder) Cartridge() *Cartridge {
	return b.cart
}

// Stats returns running totals for this builder.
func (b *Builder) Stats() BuilderStats {
	return BuilderStats{
		Cartridge:  b.cart.Name(),
		FactsAdded: b.added,
		Skipped:    b.skipped,
	}
}

// =============================================================================
// Markdown
// =============================================================================

// FromMarkdown ingests a markdown file. A `#` heading opens a domain, `##`
// headings accumulate subdomains until the next domain, and `-` list items
// are facts with optional `| source | confidence` suffixes.
func (b *Builder) FromMarkdown(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cartridge: read markdown: %w", err)
	}

	var domain string
	var subdomains []string
	before := b.added

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, " \t\r")

		switch {
		case strings.HasPrefix(line, "# "):
			domain = strings.TrimSpace(strings.TrimLeft(line, "#"))
			subdomains = nil
			b.cart.RegisterDomain(domain)

		case strings.HasPrefix(line, "## "):
			subdomain := strings.TrimSpace(strings.TrimLeft(line, "#"))
			subdomains = mergeUnique(subdomains, subdomain)

		case strings.HasPrefix(line, "- "):
			b.addMarkdownFact(line, domain, subdomains)
		}
	}

	b.logger.Info("markdown ingested",
		"path", path,
		"facts", b.added-before,
		"skipped", b.skipped)
	return nil
}

// addMarkdownFact parses one `- content | source | confidence` list item.
func (b *Builder) addMarkdownFact(line, domain string, subdomains []string) {
	text := strings.TrimSpace(strings.TrimLeft(line, "-"))

	parts := strings.Split(text, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	content := parts[0]
	if content == "" {
		b.skip("markdown", line, "empty content")
		return
	}

	source := "markdown"
	if len(parts) > 1 && parts[1] != "" {
		source = parts[1]
	}

	confidence := DefaultConfidence
	if len(parts) > 2 {
		parsed, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			b.skip("markdown", line, "bad confidence")
			return
		}
		confidence = parsed
	}

	b.cart.AddFact(content, Annotation{
		Confidence: confidence,
		Sources:    []string{source},
		Domain:     domain,
		Subdomains: append([]string(nil), subdomains...),
	})
	b.added++
}

// =============================================================================
// CSV
// =============================================================================

// CSVOptions names the columns a CSV source uses. Zero values select the
// conventional content/domain/confidence/source headers.
type CSVOptions struct {
	ContentColumn    string
	DomainColumn     string
	ConfidenceColumn string
	SourceColumn     string
}

func (o CSVOptions) normalize() CSVOptions {
	if o.ContentColumn == "" {
		o.ContentColumn = "content"
	}
	if o.DomainColumn == "" {
		o.DomainColumn = "domain"
	}
	if o.ConfidenceColumn == "" {
		o.ConfidenceColumn = "confidence"
	}
	if o.SourceColumn == "" {
		o.SourceColumn = "source"
	}
	return o
}

// FromCSV ingests a CSV file with a header row. The content column is
// required per row; domain, confidence, and source columns are optional,
// and any remaining columns become context tags.
func (b *Builder) FromCSV(path string, opts CSVOptions) error {
	opts = opts.normalize()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cartridge: open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("cartridge: read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	before := b.added
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			b.skip("csv", path, err.Error())
			continue
		}
		b.addCSVFact(header, record, opts)
	}

	b.logger.Info("csv ingested",
		"path", path,
		"facts", b.added-before,
		"skipped", b.skipped)
	return nil
}

func (b *Builder) addCSVFact(header, record []string, opts CSVOptions) {
	row := make(map[string]string, len(header))
	for i, name := range header {
		if i < len(record) {
			row[name] = strings.TrimSpace(record[i])
		}
	}

	content := row[opts.ContentColumn]
	if content == "" {
		b.skip("csv", strings.Join(record, ","), "missing content")
		return
	}

	domain := row[opts.DomainColumn]
	if domain == "" {
		domain = DefaultDomain
	}

	confidence := DefaultConfidence
	if raw := row[opts.ConfidenceColumn]; raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			b.skip("csv", strings.Join(record, ","), "bad confidence")
			return
		}
		confidence = parsed
	}

	source := row[opts.SourceColumn]
	if source == "" {
		source = "csv"
	}

	// Remaining columns become context tags, in header order.
	var tags []string
	for _, name := range header {
		switch name {
		case opts.ContentColumn, opts.DomainColumn, opts.ConfidenceColumn, opts.SourceColumn:
			continue
		}
		if v := row[name]; v != "" {
			tags = append(tags, v)
		}
	}

	b.cart.AddFact(content, Annotation{
		Confidence: confidence,
		Sources:    []string{source},
		Domain:     domain,
		AppliesTo:  tags,
	})
	b.added++
}

// =============================================================================
// JSON
// =============================================================================

type jsonFact struct {
	Content  string       `json:"content"`
	Metadata jsonMetadata `json:"metadata"`
}

type jsonMetadata struct {
	Confidence *float64 `json:"confidence"`
	Domain     string   `json:"domain"`
	Sources    []string `json:"sources"`
	AppliesTo  []string `json:"applies_to"`
	Excludes   []string `json:"excludes"`
}

// FromJSON ingests a JSON array (or a single object) of
// {content, metadata{confidence, domain, sources, applies_to, excludes}}.
func (b *Builder) FromJSON(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cartridge: read json: %w", err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		// Not an array: accept a single object.
		var single json.RawMessage
		if err := json.Unmarshal(data, &single); err != nil {
			return fmt.Errorf("cartridge: parse json: %w", err)
		}
		items = []json.RawMessage{single}
	}

	before := b.added
	for _, item := range items {
		var doc jsonFact
		if err := json.Unmarshal(item, &doc); err != nil {
			b.skip("json", path, err.Error())
			continue
		}
		if doc.Content == "" {
			b.skip("json", path, "missing content")
			continue
		}
		b.addJSONFact(doc)
	}

	b.logger.Info("json ingested",
		"path", path,
		"facts", b.added-before,
		"skipped", b.skipped)
	return nil
}

func (b *Builder) addJSONFact(doc jsonFact) {
	confidence := DefaultConfidence
	if doc.Metadata.Confidence != nil {
		confidence = *doc.Metadata.Confidence
	}

	domain := doc.Metadata.Domain
	if domain == "" {
		domain = DefaultDomain
	}

	sources := doc.Metadata.Sources
	if len(sources) == 0 {
		sources = []string{"json"}
	}

	b.cart.AddFact(doc.Content, Annotation{
		Confidence: confidence,
		Sources:    sources,
		Domain:     domain,
		AppliesTo:  doc.Metadata.AppliesTo,
		Excludes:   doc.Metadata.Excludes,
	})
	b.added++
}

// =============================================================================
// Plain text
// =============================================================================

// TextOptions configures plain-text ingestion. Zero values select the
// general domain, the default text confidence, and one-fact-per-line mode.
type TextOptions struct {
	Domain         string
	Confidence     float64
	SplitSentences bool
}

func (o TextOptions) normalize() TextOptions {
	if o.Domain == "" {
		o.Domain = DefaultDomain
	}
	if o.Confidence <= 0 {
		o.Confidence = DefaultTextConfidence
	}
	return o
}

// FromText ingests a plain-text file, one fact per line (or per sentence in
// split mode). Entries of minFactRunes characters or fewer are skipped.
func (b *Builder) FromText(path string, opts TextOptions) error {
	opts = opts.normalize()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cartridge: read text: %w", err)
	}

	var candidates []string
	if opts.SplitSentences {
		for _, s := range sentenceBoundary.Split(string(data), -1) {
			if s = strings.TrimSpace(s); s != "" {
				candidates = append(candidates, s+".")
			}
		}
	} else {
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				candidates = append(candidates, line)
			}
		}
	}

	before := b.added
	for _, content := range candidates {
		if utf8.RuneCountInString(content) <= minFactRunes {
			b.skipped++
			continue
		}
		b.cart.AddFact(content, Annotation{
			Confidence: opts.Confidence,
			Sources:    []string{"text"},
			Domain:     opts.Domain,
		})
		b.added++
	}

	b.logger.Info("text ingested",
		"path", path,
		"facts", b.added-before,
		"skipped", b.skipped)
	return nil
}

// =============================================================================
// Directory batches
// =============================================================================

// DirectoryOptions configures batch ingestion. An empty pattern matches
// every file; AutoDomain assigns each text file its parent directory name
// as the domain.
type DirectoryOptions struct {
	Pattern    string
	AutoDomain bool
}

// FromDirectory ingests every matching file under dir, dispatching on
// extension (.md, .csv, .json, .txt). Files that fail to ingest are logged
// and skipped; unrecognized extensions are ignored.
func (b *Builder) FromDirectory(ctx context.Context, dir string, opts DirectoryOptions) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cartridge: stat dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	pattern := opts.Pattern
	if pattern == "" {
		pattern = "*"
	}
	matcher, err := glob.Compile(pattern, '/')
	if err != nil {
		return errors.Join(ErrInvalidPattern, err)
	}

	files, err := collectFiles(dir, matcher)
	if err != nil {
		return err
	}

	processed := 0
	for _, path := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if b.ingestFile(path, opts.AutoDomain) {
			processed++
		}
	}

	b.logger.Info("directory ingested",
		"dir", dir,
		"files", processed,
		"facts", b.added,
		"skipped", b.skipped)
	return nil
}

// collectFiles walks dir and returns matching file paths in sorted order.
// Hidden directories are not descended into.
func collectFiles(dir string, matcher glob.Glob) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		if matcher.Match(rel) || matcher.Match(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cartridge: walk dir: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

// ingestFile dispatches one file by extension. Returns whether the file was
// recognized and attempted.
func (b *Builder) ingestFile(path string, autoDomain bool) bool {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		err = b.FromMarkdown(path)
	case ".csv":
		err = b.FromCSV(path, CSVOptions{})
	case ".json":
		err = b.FromJSON(path)
	case ".txt":
		opts := TextOptions{}
		if autoDomain {
			opts.Domain = filepath.Base(filepath.Dir(path))
		}
		err = b.FromText(path, opts)
	default:
		return false
	}

	if err != nil {
		b.logger.Warn("file skipped", "path", path, "error", err)
	}
	return true
}

// =============================================================================
// Manual additions
// =============================================================================

// AddFact adds a single fact directly. Empty domain and nil sources fall
// back to the general domain and a manual source marker.
func (b *Builder) AddFact(content, domain string, confidence float64, sources, tags []string) int64 {
	if domain == "" {
		domain = DefaultDomain
	}
	if len(sources) == 0 {
		sources = []string{"manual"}
	}

	id := b.cart.AddFact(content, Annotation{
		Confidence: confidence,
		Sources:    sources,
		Domain:     domain,
		AppliesTo:  tags,
	})
	b.added++
	return id
}

// BatchEntry is one fact in an AddBatch call.
type BatchEntry struct {
	Content    string
	Tag        string
	Confidence float64
}

// AddBatch adds several facts sharing a domain and source list. Returns the
// assigned IDs in order.
func (b *Builder) AddBatch(entries []BatchEntry, domain string, sources []string) []int64 {
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		var tags []string
		if e.Tag != "" {
			tags = []string{e.Tag}
		}
		ids = append(ids, b.AddFact(e.Content, domain, e.Confidence, sources, tags))
	}
	return ids
}

// skip counts a rejected entry and records why at debug level.
func (b *Builder) skip(format, entry, reason string) {
	b.skipped++
	b.logger.Debug("entry skipped", "format", format, "entry", entry, "reason", reason)
}
