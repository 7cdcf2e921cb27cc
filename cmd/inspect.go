// Package cmd provides CLI commands for the kitbash application.
// This file implements the inspect command for examining stored grains.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voxfield/kitbash/core/crush"
	"github.com/voxfield/kitbash/core/grain"
	"github.com/voxfield/kitbash/core/grainstore"
)

// =============================================================================
// Inspect Command Flags
// =============================================================================

var (
	inspectCartridge   string
	inspectInteractive bool
	inspectJSON        bool
)

// =============================================================================
// Inspect Command
// =============================================================================

// inspectCmd represents the inspect command.
var inspectCmd = &cobra.Command{
	Use:   "inspect [grain-id]",
	Short: "Examine stored grains and their compression",
	Long: `Inspect crystallized grains in the grain store.

Without arguments, prints a per-cartridge summary of every stored grain.
With a grain ID, prints the full detail for that grain: bit population,
quality metrics, provenance hashes, and compression against a dense
embedding baseline.

Examples:
  kitbash inspect                     # Summary of all grains
  kitbash inspect 62bc17a09f00e1c4    # Detail for one grain
  kitbash inspect -c networking       # Grains of one cartridge
  kitbash inspect --interactive       # Browse grains in the terminal`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVarP(&inspectCartridge, "cartridge", "c", "", "Limit to one cartridge")
	inspectCmd.Flags().BoolVarP(&inspectInteractive, "interactive", "i", false, "Browse grains interactively")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output in JSON format")
}

// runInspect dispatches to the summary, detail, or interactive view.
func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	storeCfg := cfg.Store
	storeCfg.Path = resolvePath(storeCfg.Path)
	store, err := grainstore.OpenWithConfig(storeCfg, newLogger())
	if err != nil {
		return fmt.Errorf("failed to open grain store: %w", err)
	}
	defer store.Close()

	if len(args) == 1 {
		return inspectGrain(cmd.OutOrStdout(), store, args[0])
	}
	if inspectInteractive {
		browser := NewGrainBrowser(store, cmd.InOrStdin(), cmd.OutOrStdout())
		return browser.Run()
	}
	return inspectSummary(cmd.OutOrStdout(), store)
}

// =============================================================================
// Grain Detail
// =============================================================================

// grainDetail is the JSON shape of a single-grain inspection.
type grainDetail struct {
	Grain       *grain.Grain           `json:"grain"`
	Compression crush.CompressionStats `json:"compression"`
}

// inspectGrain prints the full detail for one grain.
func inspectGrain(w io.Writer, store *grainstore.Store, grainID string) error {
	g, err := store.Get(grainID)
	if err != nil {
		return err
	}
	stats := crush.ComputeCompressionStats(g)

	if inspectJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(grainDetail{Grain: g, Compression: stats})
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%sGrain %s%s\n", colorBold, colorCyan, g.GrainID, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 50), colorReset)
	fmt.Fprintf(w, "%sPhantom:%s         %s\n", colorGray, colorReset, g.SourcePhantomID)
	fmt.Fprintf(w, "%sCartridge:%s       %s\n", colorGray, colorReset, g.CartridgeID)
	fmt.Fprintf(w, "%sEpistemic Level:%s %s\n", colorGray, colorReset, g.EpistemicLevel)
	fmt.Fprintf(w, "%sFacts:%s           %v\n", colorGray, colorReset, g.SourceFactIDs)
	fmt.Fprintf(w, "%sObservations:%s    %d (avg confidence %.3f)\n",
		colorGray, colorReset, g.ObservationCount, g.AvgConfidence)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%sTernary Weights%s (%d bits)\n", colorBold, colorReset, g.NumBits)
	fmt.Fprintf(w, "%sPositive:%s        %s%d%s\n", colorGray, colorReset, colorGreen, g.BitsPositive, colorReset)
	fmt.Fprintf(w, "%sNegative:%s        %s%d%s\n", colorGray, colorReset, colorRed, g.BitsNegative, colorReset)
	fmt.Fprintf(w, "%sVoid:%s            %d\n", colorGray, colorReset, g.BitsVoid)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%sQuality Metrics%s\n", colorBold, colorReset)
	fmt.Fprintf(w, "%sInternal Hamming:%s %.3f\n", colorGray, colorReset, g.InternalHamming)
	fmt.Fprintf(w, "%sWeight Skew:%s      %.3f\n", colorGray, colorReset, g.WeightSkew)
	fmt.Fprintf(w, "%sAxioms:%s           %s\n", colorGray, colorReset, strings.Join(g.AxiomIDs, ", "))
	fmt.Fprintf(w, "%sEvidence Hash:%s    %s\n", colorGray, colorReset, g.EvidenceHash)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%sCompression%s\n", colorBold, colorReset)
	fmt.Fprintf(w, "%sTernary Size:%s     %d bytes\n", colorGray, colorReset, stats.TernarySizeBytes)
	fmt.Fprintf(w, "%sEmbedding Size:%s   %d bytes (float32 baseline)\n", colorGray, colorReset, stats.EmbeddingSizeBytes)
	fmt.Fprintf(w, "%sRatio:%s            %.3f (%s%.1f%% smaller%s)\n",
		colorGray, colorReset, stats.CompressionRatio, colorGreen, stats.SavingsPercent, colorReset)

	return nil
}

// =============================================================================
// Summary
// =============================================================================

// cartridgeSummary aggregates the grains of one cartridge.
type cartridgeSummary struct {
	Cartridge    string  `json:"cartridge"`
	Grains       int     `json:"grains"`
	TernaryBytes int     `json:"ternary_bytes"`
	AvgBytes     float64 `json:"avg_bytes_per_grain"`
	AvgSavings   float64 `json:"avg_savings_percent"`
}

// summaryOutput is the JSON shape of the summary view.
type summaryOutput struct {
	Cartridges   []cartridgeSummary `json:"cartridges"`
	TotalGrains  int                `json:"total_grains"`
	TotalBytes   int                `json:"total_ternary_bytes"`
	CacheHitRate float64            `json:"cache_hit_rate"`
}

// inspectSummary prints the per-cartridge grain summary.
func inspectSummary(w io.Writer, store *grainstore.Store) error {
	grains, err := loadGrains(store)
	if err != nil {
		return err
	}

	out := summarize(grains)
	out.CacheHitRate = store.CacheStats().HitRate()

	if inspectJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	}

	if out.TotalGrains == 0 {
		fmt.Fprintln(w, "No crystallized grains found.")
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%sCrystallized Grains%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 62), colorReset)
	fmt.Fprintf(w, "%s%-20s %8s %14s %10s %8s%s\n",
		colorGray, "Cartridge", "Grains", "Ternary Bytes", "Avg/Grain", "Savings", colorReset)

	for _, row := range out.Cartridges {
		fmt.Fprintf(w, "%-20s %8d %14d %10.0f %s%6.1f%%%s\n",
			row.Cartridge, row.Grains, row.TernaryBytes, row.AvgBytes,
			colorGreen, row.AvgSavings, colorReset)
	}

	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 62), colorReset)
	avgTotal := 0.0
	if out.TotalGrains > 0 {
		avgTotal = float64(out.TotalBytes) / float64(out.TotalGrains)
	}
	fmt.Fprintf(w, "%s%-20s %8d %14d %10.0f%s\n",
		colorBold, "TOTAL", out.TotalGrains, out.TotalBytes, avgTotal, colorReset)

	return nil
}

// loadGrains fetches the grain population, optionally limited to one
// cartridge by the --cartridge flag.
func loadGrains(store *grainstore.Store) ([]*grain.Grain, error) {
	if inspectCartridge != "" {
		return store.List(inspectCartridge)
	}
	return store.All()
}

// summarize groups grains by cartridge and totals their footprint.
func summarize(grains []*grain.Grain) summaryOutput {
	byCartridge := make(map[string][]*grain.Grain)
	for _, g := range grains {
		byCartridge[g.CartridgeID] = append(byCartridge[g.CartridgeID], g)
	}

	names := make([]string, 0, len(byCartridge))
	for name := range byCartridge {
		names = append(names, name)
	}
	sort.Strings(names)

	out := summaryOutput{Cartridges: make([]cartridgeSummary, 0, len(names))}
	for _, name := range names {
		group := byCartridge[name]

		row := cartridgeSummary{Cartridge: name, Grains: len(group)}
		savings := 0.0
		for _, g := range group {
			stats := crush.ComputeCompressionStats(g)
			row.TernaryBytes += stats.TernarySizeBytes
			savings += stats.SavingsPercent
		}
		row.AvgBytes = float64(row.TernaryBytes) / float64(len(group))
		row.AvgSavings = savings / float64(len(group))

		out.Cartridges = append(out.Cartridges, row)
		out.TotalGrains += row.Grains
		out.TotalBytes += row.TernaryBytes
	}
	return out
}
