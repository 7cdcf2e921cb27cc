// Package cmd provides CLI commands for the kitbash application.
// This file implements the registry command for examining the delta
// registry's hit and cycle state.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voxfield/kitbash/core/config"
	"github.com/voxfield/kitbash/core/registry"
)

// =============================================================================
// Registry Command Flags
// =============================================================================

var (
	registryJSON bool
	registryHotN int
)

// =============================================================================
// Registry Commands
// =============================================================================

// registryCmd represents the registry command. Without a subcommand it
// shows the status view.
var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Show delta registry state",
	Long: `Examine the delta registry: the per-fact hit tracker that detects
recurring patterns across query cycles and promotes them to phantom
candidates.

Examples:
  kitbash registry           # Cycle counter and tracking totals
  kitbash registry status    # Same as above
  kitbash registry hot       # Hottest facts by hit count
  kitbash registry hot -n 5  # Top five facts`,
	RunE: runRegistryStatus,
}

// registryStatusCmd shows the cycle counter and tracking totals.
var registryStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cycle counter and tracking totals",
	RunE:  runRegistryStatus,
}

// registryHotCmd lists the most-hit facts.
var registryHotCmd = &cobra.Command{
	Use:   "hot",
	Short: "List the hottest facts by hit count",
	RunE:  runRegistryHot,
}

func init() {
	rootCmd.AddCommand(registryCmd)
	registryCmd.AddCommand(registryStatusCmd)
	registryCmd.AddCommand(registryHotCmd)

	registryCmd.PersistentFlags().BoolVar(&registryJSON, "json", false, "Output in JSON format")
	registryHotCmd.Flags().IntVarP(&registryHotN, "limit", "n", 10, "Number of facts to show")
}

// openRegistry loads configuration and opens the registry snapshot.
func openRegistry() (*registry.Registry, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	regCfg := cfg.Registry
	regCfg.DBPath = resolvePath(regCfg.DBPath)
	reg, err := registry.New(regCfg, newLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open registry: %w", err)
	}
	return reg, cfg, nil
}

// =============================================================================
// Status View
// =============================================================================

// registryStatus is the JSON shape of the status view.
type registryStatus struct {
	CurrentCycle       int    `json:"current_cycle"`
	Facts              int    `json:"facts"`
	Patterns           int    `json:"patterns"`
	Promotable         int    `json:"promotable"`
	PromotionThreshold int    `json:"promotion_threshold"`
	DBPath             string `json:"db_path"`
}

// runRegistryStatus prints the registry status.
func runRegistryStatus(cmd *cobra.Command, args []string) error {
	reg, cfg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	status := registryStatus{
		CurrentCycle:       reg.CurrentCycle(),
		Facts:              reg.FactCount(),
		Patterns:           reg.PatternCount(),
		Promotable:         reg.PromotableCount(),
		PromotionThreshold: cfg.Registry.PromotionThreshold,
		DBPath:             resolvePath(cfg.Registry.DBPath),
	}

	return outputRegistryStatus(cmd.OutOrStdout(), status)
}

// outputRegistryStatus outputs the status view.
func outputRegistryStatus(w io.Writer, status registryStatus) error {
	if registryJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(status)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%sDelta Registry%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)
	fmt.Fprintf(w, "%sCurrent Cycle:%s   %d\n", colorGray, colorReset, status.CurrentCycle)
	fmt.Fprintf(w, "%sFacts Tracked:%s   %d\n", colorGray, colorReset, status.Facts)
	fmt.Fprintf(w, "%sPatterns:%s        %d\n", colorGray, colorReset, status.Patterns)
	fmt.Fprintf(w, "%sPromotable:%s      %s%d%s (threshold: %d cycles)\n",
		colorGray, colorReset, colorGreen, status.Promotable, colorReset, status.PromotionThreshold)
	fmt.Fprintf(w, "%sSnapshot:%s        %s\n", colorGray, colorReset, status.DBPath)

	return nil
}

// =============================================================================
// Hot Facts View
// =============================================================================

// hotFactsOutput is the JSON shape of the hot view.
type hotFactsOutput struct {
	Limit int                  `json:"limit"`
	Facts []registry.FactStats `json:"facts"`
}

// runRegistryHot prints the most-hit facts.
func runRegistryHot(cmd *cobra.Command, args []string) error {
	reg, _, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	out := hotFactsOutput{
		Limit: registryHotN,
		Facts: reg.HotFacts(registryHotN),
	}

	return outputHotFacts(cmd.OutOrStdout(), out)
}

// outputHotFacts outputs the hot facts table.
func outputHotFacts(w io.Writer, out hotFactsOutput) error {
	if registryJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	}

	if len(out.Facts) == 0 {
		fmt.Fprintln(w, "No facts recorded yet.")
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%sHot Facts%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 56), colorReset)
	fmt.Fprintf(w, "%s%8s  %-16s %6s %10s %8s%s\n",
		colorGray, "Fact", "Cartridge", "Hits", "Avg Conf", "Cycles", colorReset)

	for _, stats := range out.Facts {
		fmt.Fprintf(w, "%8d  %-16s %s%6d%s %10.3f %8d\n",
			stats.FactID, stats.CartridgeID,
			colorGreen, stats.HitCount, colorReset,
			stats.AverageConfidence(), stats.CyclesActive)
	}

	return nil
}
