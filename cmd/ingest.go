// Package cmd provides CLI commands for the kitbash application.
// This file implements the ingest command for building fact cartridges
// from source files.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxfield/kitbash/core/cartridge"
)

// =============================================================================
// Ingest Command Flags
// =============================================================================

var (
	ingestCartridge string
	ingestPattern   string
	ingestWatch     bool
	ingestJSON      bool
)

// =============================================================================
// Ingest Command
// =============================================================================

// ingestCmd represents the ingest command.
var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Build a fact cartridge from source files",
	Long: `Ingest facts from a file or directory into a cartridge.

Markdown bullet lists, CSV rows, JSON fact documents, and plain text are
recognized by extension. Ingesting into an existing cartridge appends to
it; duplicate content is skipped.

Examples:
  kitbash ingest ./notes                      # Ingest a directory
  kitbash ingest facts.csv --cartridge ops    # Ingest a file into "ops"
  kitbash ingest ./notes --pattern "*.md"     # Only markdown files
  kitbash ingest ./notes --watch              # Re-ingest on change`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVarP(&ingestCartridge, "cartridge", "c", "", "Cartridge name (default: derived from path)")
	ingestCmd.Flags().StringVar(&ingestPattern, "pattern", "", "Glob pattern for directory ingestion")
	ingestCmd.Flags().BoolVarP(&ingestWatch, "watch", "w", false, "Watch for changes and re-ingest")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "Output in JSON format")
}

// =============================================================================
// Ingest Output
// =============================================================================

// ingestOutput contains the result of an ingest run.
type ingestOutput struct {
	Cartridge  string        `json:"cartridge"`
	Source     string        `json:"source"`
	FactsAdded int           `json:"facts_added"`
	Skipped    int           `json:"skipped"`
	TotalFacts int           `json:"total_facts"`
	SavedTo    string        `json:"saved_to"`
	Duration   time.Duration `json:"duration"`
	Watching   bool          `json:"watching,omitempty"`
}

// ingestOptions carries the resolved parameters for one ingest run.
type ingestOptions struct {
	Source        string
	Cartridge     string
	Pattern       string
	CartridgeRoot string
}

// =============================================================================
// Ingest Execution
// =============================================================================

// runIngest ingests the given path into a cartridge.
func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(cmd.OutOrStderr(), "\nInterrupted. Cleaning up...")
		cancel()
	}()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	source := args[0]
	if err := validateSourcePath(source); err != nil {
		return err
	}

	pattern := ingestPattern
	if pattern == "" {
		pattern = cfg.Ingest.Pattern
	}

	opts := ingestOptions{
		Source:        source,
		Cartridge:     ingestCartridge,
		Pattern:       pattern,
		CartridgeRoot: resolvePath(cfg.Ingest.CartridgeRoot),
	}
	if opts.Cartridge == "" {
		opts.Cartridge = deriveCartridgeName(source)
	}

	cart, builder, err := openCartridgeBuilder(opts, logger)
	if err != nil {
		return err
	}

	result, err := ingestSource(ctx, builder, cart, opts)
	if err != nil {
		return err
	}
	result.Watching = ingestWatch

	if err := outputIngestResult(cmd.OutOrStdout(), result); err != nil {
		return err
	}

	if ingestWatch {
		debounce := cfg.Ingest.DebounceDuration()
		return runIngestWatch(ctx, cmd.OutOrStdout(), builder, cart, opts, debounce, logger)
	}

	return nil
}

// validateSourcePath checks that the source path exists.
func validateSourcePath(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("source path does not exist: %s", path)
	} else if err != nil {
		return fmt.Errorf("cannot access source path: %w", err)
	}
	return nil
}

// deriveCartridgeName turns a source path into a cartridge name.
func deriveCartridgeName(path string) string {
	base := filepath.Base(filepath.Clean(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// openCartridgeBuilder loads the target cartridge, or starts a fresh one
// when no saved cartridge exists yet, and wraps it in a builder.
func openCartridgeBuilder(opts ingestOptions, logger *slog.Logger) (*cartridge.Cartridge, *cartridge.Builder, error) {
	cart, err := cartridge.Load(opts.CartridgeRoot, opts.Cartridge)
	if errors.Is(err, fs.ErrNotExist) {
		cart, err = cartridge.New(opts.Cartridge)
	}
	if err != nil {
		return nil, nil, err
	}
	return cart, cartridge.NewBuilderFor(cart, logger), nil
}

// ingestSource dispatches on the source type and ingests it.
func ingestSource(ctx context.Context, builder *cartridge.Builder, cart *cartridge.Cartridge, opts ingestOptions) (*ingestOutput, error) {
	startTime := time.Now()

	info, err := os.Stat(opts.Source)
	if err != nil {
		return nil, fmt.Errorf("cannot access source path: %w", err)
	}

	if info.IsDir() {
		err = builder.FromDirectory(ctx, opts.Source, cartridge.DirectoryOptions{
			Pattern:    opts.Pattern,
			AutoDomain: true,
		})
	} else {
		err = ingestFile(builder, opts.Source)
	}
	if err != nil {
		return nil, err
	}

	if err := cart.Save(opts.CartridgeRoot); err != nil {
		return nil, err
	}

	stats := builder.Stats()
	return &ingestOutput{
		Cartridge:  opts.Cartridge,
		Source:     opts.Source,
		FactsAdded: stats.FactsAdded,
		Skipped:    stats.Skipped,
		TotalFacts: cart.FactCount(),
		SavedTo:    filepath.Join(opts.CartridgeRoot, opts.Cartridge),
		Duration:   time.Since(startTime),
	}, nil
}

// ingestFile ingests a single file, dispatching on its extension.
func ingestFile(builder *cartridge.Builder, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		return builder.FromMarkdown(path)
	case ".csv":
		return builder.FromCSV(path, cartridge.CSVOptions{})
	case ".json":
		return builder.FromJSON(path)
	case ".txt":
		return builder.FromText(path, cartridge.TextOptions{})
	default:
		return fmt.Errorf("unsupported source format: %s", filepath.Ext(path))
	}
}

// =============================================================================
// Watch Mode
// =============================================================================

// runIngestWatch re-ingests source files as they change.
func runIngestWatch(
	ctx context.Context,
	w io.Writer,
	builder *cartridge.Builder,
	cart *cartridge.Cartridge,
	opts ingestOptions,
	debounce time.Duration,
	logger *slog.Logger,
) error {
	info, err := os.Stat(opts.Source)
	if err != nil {
		return fmt.Errorf("cannot access source path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch mode requires a directory: %s", opts.Source)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%sWatch Mode%s - Press Ctrl+C to stop\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%sWatching:%s %s\n", colorGray, colorReset, opts.Source)
	fmt.Fprintln(w)

	watcher, err := cartridge.NewWatcher(cartridge.WatchConfig{
		Paths:    []string{opts.Source},
		Debounce: debounce,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	events, err := watcher.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(w, "\nWatch mode stopped.")
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			handleIngestEvent(w, event, builder, cart, opts)
		}
	}
}

// handleIngestEvent re-ingests a single changed file and saves the
// cartridge. Failures are reported but do not stop the watch.
func handleIngestEvent(w io.Writer, event cartridge.ChangeEvent, builder *cartridge.Builder, cart *cartridge.Cartridge, opts ingestOptions) {
	timestamp := event.Time.Format("15:04:05")
	before := builder.Stats()

	if err := ingestFile(builder, event.Path); err != nil {
		fmt.Fprintf(w, "%s %s%s%s: %v\n", timestamp, colorRed, event.Path, colorReset, err)
		return
	}
	if err := cart.Save(opts.CartridgeRoot); err != nil {
		fmt.Fprintf(w, "%s %s%s%s: %v\n", timestamp, colorRed, event.Path, colorReset, err)
		return
	}

	after := builder.Stats()
	fmt.Fprintf(w, "%s %s%s%s: %s+%d facts%s (%d skipped)\n",
		timestamp, colorCyan, event.Path, colorReset,
		colorGreen, after.FactsAdded-before.FactsAdded, colorReset,
		after.Skipped-before.Skipped)
}

// =============================================================================
// Ingest Output Rendering
// =============================================================================

// outputIngestResult outputs the ingest result.
func outputIngestResult(w io.Writer, result *ingestOutput) error {
	if ingestJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%sIngest Complete%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)
	fmt.Fprintf(w, "%sCartridge:%s      %s\n", colorGray, colorReset, result.Cartridge)
	fmt.Fprintf(w, "%sSource:%s         %s\n", colorGray, colorReset, result.Source)
	fmt.Fprintf(w, "%sFacts Added:%s    %s%d%s\n", colorGray, colorReset, colorGreen, result.FactsAdded, colorReset)

	if result.Skipped > 0 {
		fmt.Fprintf(w, "%sSkipped:%s        %s%d%s\n", colorGray, colorReset, colorYellow, result.Skipped, colorReset)
	}

	fmt.Fprintf(w, "%sTotal Facts:%s    %d\n", colorGray, colorReset, result.TotalFacts)
	fmt.Fprintf(w, "%sSaved To:%s       %s\n", colorGray, colorReset, result.SavedTo)
	fmt.Fprintf(w, "%sDuration:%s       %v\n", colorGray, colorReset, result.Duration.Round(time.Millisecond))

	return nil
}
