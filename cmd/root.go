// Package cmd provides CLI commands for the kitbash application.
// This file implements the root command and the helpers shared by
// every subcommand.
package cmd

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/voxfield/kitbash/core/config"
)

// =============================================================================
// Root Command Flags
// =============================================================================

var (
	rootProject string
	rootVerbose bool
)

// =============================================================================
// Root Command
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "kitbash",
	Short: "Crystallize recurring knowledge into ternary grains",
	Long: `Kitbash tracks which facts are retrieved together, promotes patterns
that recur across usage cycles, and crystallizes the survivors into
compact ternary grains.

Subcommands:
  ingest    - Build fact cartridges from source files
  crush     - Validate phantom candidates and crystallize grains
  inspect   - Examine stored grains and their compression
  registry  - Show delta registry state`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootProject, "project", "p", ".", "Project root directory")
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Enable verbose logging")
}

// =============================================================================
// Shared Helpers
// =============================================================================

// loadConfig resolves the layered configuration for the current project.
func loadConfig() (*config.Config, error) {
	manager := config.NewManager(rootProject)
	if err := manager.Load(); err != nil {
		return nil, err
	}
	return manager.Get(), nil
}

// newLogger builds the logger handed to core components. Commands keep
// stdout for their own output, so diagnostics go to stderr.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if rootVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// resolvePath anchors a relative configuration path at the project root.
func resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootProject, path)
}
