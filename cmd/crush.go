// Package cmd provides CLI commands for the kitbash application.
// This file implements the crush command for running the
// crystallization pipeline over promoted candidates.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxfield/kitbash/core/axiom"
	"github.com/voxfield/kitbash/core/config"
	"github.com/voxfield/kitbash/core/crush"
	"github.com/voxfield/kitbash/core/grain"
	"github.com/voxfield/kitbash/core/grainstore"
	"github.com/voxfield/kitbash/core/pipeline"
	"github.com/voxfield/kitbash/core/registry"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// =============================================================================
// Crush Command Flags
// =============================================================================

var (
	crushDryRun bool
	crushJSON   bool
)

// =============================================================================
// Crush Command
// =============================================================================

// crushCmd represents the crush command.
var crushCmd = &cobra.Command{
	Use:   "crush",
	Short: "Crystallize promoted candidates into grains",
	Long: `Run the crystallization pipeline over the registry's promoted
candidates. Each candidate is validated against the axioms, crushed
into a ternary grain, checked for post-crush quality, and stored.
Patterns whose grains are stored are retired from the registry.

Examples:
  kitbash crush                # Validate, crystallize, and store
  kitbash crush --dry-run      # Validate only, store nothing
  kitbash crush --json         # Machine-readable output`,
	RunE: runCrush,
}

func init() {
	rootCmd.AddCommand(crushCmd)

	crushCmd.Flags().BoolVar(&crushDryRun, "dry-run", false, "Validate candidates without storing grains")
	crushCmd.Flags().BoolVar(&crushJSON, "json", false, "Output in JSON format")
}

// =============================================================================
// Crush Output
// =============================================================================

// crushRow reports the outcome for one candidate.
type crushRow struct {
	PhantomID   string  `json:"phantom_id"`
	CartridgeID string  `json:"cartridge_id,omitempty"`
	Facts       int     `json:"facts,omitempty"`
	Outcome     string  `json:"outcome"`
	GrainID     string  `json:"grain_id,omitempty"`
	Detail      string  `json:"detail,omitempty"`
	Savings     float64 `json:"savings_percent,omitempty"`
}

// crushOutput contains the result of a crush run.
type crushOutput struct {
	DryRun       bool          `json:"dry_run"`
	Candidates   int           `json:"candidates"`
	Ready        int           `json:"ready"`
	Crystallized int           `json:"crystallized"`
	Rejected     int           `json:"rejected"`
	Skipped      int           `json:"skipped"`
	Retired      int           `json:"retired,omitempty"`
	StoredGrains int64         `json:"stored_grains"`
	Duration     time.Duration `json:"duration"`
	Rows         []crushRow    `json:"details,omitempty"`
}

// =============================================================================
// Crush Execution
// =============================================================================

// runCrush validates and crystallizes the registry's candidates.
func runCrush(cmd *cobra.Command, args []string) error {
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

	result, err := runCrushPipeline(ctx, cfg, newLogger(), crushDryRun)
	if err != nil {
		return err
	}

	return outputCrushResult(cmd.OutOrStdout(), result)
}

// runCrushPipeline opens the registry and grain store, promotes
// candidates, and either validates them (dry run) or runs them through
// the full pipeline.
func runCrushPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, dryRun bool) (*crushOutput, error) {
	startTime := time.Now()

	regCfg := cfg.Registry
	regCfg.DBPath = resolvePath(regCfg.DBPath)
	reg, err := registry.New(regCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	defer reg.Close()

	storeCfg := cfg.Store
	storeCfg.Path = resolvePath(storeCfg.Path)
	store, err := grainstore.OpenWithConfig(storeCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open grain store: %w", err)
	}
	defer store.Close()

	validator, err := axiom.New(cfg.Axiom, logger)
	if err != nil {
		return nil, err
	}

	candidates := reg.Candidates()
	byID := make(map[string]int, len(candidates))
	for i, c := range candidates {
		byID[c.PhantomID] = i
	}

	out := &crushOutput{DryRun: dryRun, Candidates: len(candidates)}

	if dryRun {
		existing, err := store.All()
		if err != nil {
			return nil, err
		}
		batch := validator.ValidateBatch(candidates, existing)
		out.Ready = len(batch.Ready)
		out.Rejected = len(batch.Rejected)

		for _, ready := range batch.Ready {
			row := crushRow{
				PhantomID: ready.PhantomID,
				Outcome:   "ready",
				Detail:    fmt.Sprintf("would crystallize %d facts", len(ready.FactIDs)),
			}
			fillCandidateInfo(&row, candidates, byID)
			out.Rows = append(out.Rows, row)
		}
		for _, rejected := range batch.Rejected {
			row := crushRow{
				PhantomID: rejected.PhantomID,
				Outcome:   "rejected",
				Detail:    rejected.Report.Verdict,
			}
			fillCandidateInfo(&row, candidates, byID)
			out.Rows = append(out.Rows, row)
		}
	} else {
		crusher, err := crush.New(cfg.Crush)
		if err != nil {
			return nil, err
		}
		pipe, err := pipeline.New(validator, crusher, store, logger)
		if err != nil {
			return nil, err
		}

		result, err := pipe.Run(ctx, candidates)
		if err != nil {
			return nil, err
		}

		out.Ready = len(result.Validation.Ready)
		out.Crystallized = result.Crystallized
		out.Rejected = result.Rejected
		out.Skipped = result.Skipped

		var crystallizedIDs []string
		for _, report := range result.Reports {
			row := crushRow{
				PhantomID: report.PhantomID,
				Outcome:   string(report.Outcome),
				GrainID:   report.GrainID,
				Detail:    report.Reason,
			}
			if report.Compression != nil {
				row.Savings = report.Compression.SavingsPercent
			}
			fillCandidateInfo(&row, candidates, byID)
			out.Rows = append(out.Rows, row)

			if report.Outcome == pipeline.OutcomeCrystallized {
				crystallizedIDs = append(crystallizedIDs, report.PhantomID)
			}
		}

		// Retire crystallized patterns and persist phantom identities so
		// the next run promotes the same IDs.
		out.Retired = reg.Retire(crystallizedIDs...)
		if err := reg.Save(); err != nil {
			return nil, fmt.Errorf("failed to save registry: %w", err)
		}
	}

	if count, err := store.Count(); err == nil {
		out.StoredGrains = count
	}
	out.Duration = time.Since(startTime)
	return out, nil
}

// fillCandidateInfo copies cartridge and fact-count details onto a row.
func fillCandidateInfo(row *crushRow, candidates []*grain.PhantomCandidate, byID map[string]int) {
	i, ok := byID[row.PhantomID]
	if !ok {
		return
	}
	row.CartridgeID = candidates[i].CartridgeID
	row.Facts = len(candidates[i].FactIDs)
}

// =============================================================================
// Crush Output Rendering
// =============================================================================

// outputCrushResult outputs the crush result.
func outputCrushResult(w io.Writer, result *crushOutput) error {
	if crushJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	title := "Crush Complete"
	if result.DryRun {
		title = "Crush Dry Run"
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%s%s%s\n", colorBold, colorCyan, title, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)
	fmt.Fprintf(w, "%sCandidates:%s     %d\n", colorGray, colorReset, result.Candidates)

	if result.DryRun {
		fmt.Fprintf(w, "%sReady:%s          %s%d%s\n", colorGray, colorReset, colorGreen, result.Ready, colorReset)
	} else {
		fmt.Fprintf(w, "%sCrystallized:%s   %s%d%s\n", colorGray, colorReset, colorGreen, result.Crystallized, colorReset)
	}
	if result.Rejected > 0 {
		fmt.Fprintf(w, "%sRejected:%s       %s%d%s\n", colorGray, colorReset, colorRed, result.Rejected, colorReset)
	}
	if result.Skipped > 0 {
		fmt.Fprintf(w, "%sSkipped:%s        %s%d%s\n", colorGray, colorReset, colorYellow, result.Skipped, colorReset)
	}
	if result.Retired > 0 {
		fmt.Fprintf(w, "%sRetired:%s        %d\n", colorGray, colorReset, result.Retired)
	}

	fmt.Fprintf(w, "%sStored Grains:%s  %d\n", colorGray, colorReset, result.StoredGrains)
	fmt.Fprintf(w, "%sDuration:%s       %v\n", colorGray, colorReset, result.Duration.Round(time.Millisecond))

	if len(result.Rows) > 0 {
		fmt.Fprintln(w)
		for _, row := range result.Rows {
			outputCrushRow(w, row)
		}
	}

	return nil
}

// outputCrushRow renders one candidate outcome line.
func outputCrushRow(w io.Writer, row crushRow) {
	switch row.Outcome {
	case "crystallized":
		fmt.Fprintf(w, "  %s+%s %s  %s (%s, %d facts, %.1f%% smaller)\n",
			colorGreen, colorReset, row.GrainID, row.PhantomID, row.CartridgeID, row.Facts, row.Savings)
	case "ready":
		fmt.Fprintf(w, "  %s+%s %s (%s): %s\n",
			colorGreen, colorReset, row.PhantomID, row.CartridgeID, row.Detail)
	case "rejected":
		fmt.Fprintf(w, "  %sx%s %s (%s): %s\n",
			colorRed, colorReset, row.PhantomID, row.CartridgeID, row.Detail)
	case "skipped":
		fmt.Fprintf(w, "  %s-%s %s: %s\n",
			colorGray, colorReset, row.PhantomID, row.Detail)
	}
}
