// Package cmd provides CLI commands for the kitbash application.
// This file contains tests for the registry command.
package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxfield/kitbash/core/registry"
)

// =============================================================================
// Registry Command Tests
// =============================================================================

func TestRegistryCmd_Definition(t *testing.T) {
	t.Run("command is defined", func(t *testing.T) {
		assert.NotNil(t, registryCmd)
		assert.Equal(t, "registry", registryCmd.Use)
		assert.Equal(t, "Show delta registry state", registryCmd.Short)
		// Bare `registry` falls through to the status view
		assert.NotNil(t, registryCmd.RunE)
	})

	t.Run("has status and hot subcommands", func(t *testing.T) {
		assert.Equal(t, "status", registryStatusCmd.Use)
		assert.Same(t, registryCmd, registryStatusCmd.Parent())

		assert.Equal(t, "hot", registryHotCmd.Use)
		assert.Same(t, registryCmd, registryHotCmd.Parent())
	})

	t.Run("json flag is persistent", func(t *testing.T) {
		jsonFlag := registryCmd.PersistentFlags().Lookup("json")
		require.NotNil(t, jsonFlag)
		assert.Equal(t, "false", jsonFlag.DefValue)
	})

	t.Run("hot has a limit flag", func(t *testing.T) {
		limit := registryHotCmd.Flags().Lookup("limit")
		require.NotNil(t, limit)
		assert.Equal(t, "n", limit.Shorthand)
		assert.Equal(t, "10", limit.DefValue)
	})
}

// =============================================================================
// Status Output Tests
// =============================================================================

func TestOutputRegistryStatus(t *testing.T) {
	defer func() { registryJSON = false }()

	t.Run("text output", func(t *testing.T) {
		registryJSON = false
		status := registryStatus{
			CurrentCycle:       42,
			Facts:              128,
			Patterns:           17,
			Promotable:         3,
			PromotionThreshold: 3,
			DBPath:             "/tmp/kitbash/registry.db",
		}

		var buf bytes.Buffer
		err := outputRegistryStatus(&buf, status)

		require.NoError(t, err)
		output := buf.String()
		assert.Contains(t, output, "Delta Registry")
		assert.Contains(t, output, "Current Cycle:")
		assert.Contains(t, output, "42")
		assert.Contains(t, output, "threshold: 3 cycles")
		assert.Contains(t, output, "/tmp/kitbash/registry.db")
	})

	t.Run("json output", func(t *testing.T) {
		registryJSON = true
		status := registryStatus{CurrentCycle: 42, Facts: 128}

		var buf bytes.Buffer
		err := outputRegistryStatus(&buf, status)

		require.NoError(t, err)
		output := buf.String()
		assert.Contains(t, output, `"current_cycle": 42`)
		assert.Contains(t, output, `"facts": 128`)
	})
}

// =============================================================================
// Hot Facts Output Tests
// =============================================================================

func TestOutputHotFacts(t *testing.T) {
	defer func() { registryJSON = false }()

	t.Run("empty registry", func(t *testing.T) {
		registryJSON = false

		var buf bytes.Buffer
		err := outputHotFacts(&buf, hotFactsOutput{Limit: 10})

		require.NoError(t, err)
		assert.Contains(t, buf.String(), "No facts recorded yet.")
	})

	t.Run("renders the fact table", func(t *testing.T) {
		registryJSON = false
		out := hotFactsOutput{
			Limit: 2,
			Facts: []registry.FactStats{
				{
					FactID:       101,
					CartridgeID:  "networking",
					HitCount:     12,
					Confidences:  []float64{0.8, 0.9},
					FirstCycle:   1,
					LastCycle:    5,
					CyclesActive: 4,
				},
				{
					FactID:       207,
					CartridgeID:  "auth",
					HitCount:     9,
					Confidences:  []float64{0.7},
					CyclesActive: 3,
				},
			},
		}

		var buf bytes.Buffer
		err := outputHotFacts(&buf, out)

		require.NoError(t, err)
		output := buf.String()
		assert.Contains(t, output, "Hot Facts")
		assert.Contains(t, output, "networking")
		assert.Contains(t, output, "101")
		assert.Contains(t, output, "0.850")
		assert.Contains(t, output, "auth")
		assert.Contains(t, output, "207")
	})

	t.Run("json output", func(t *testing.T) {
		registryJSON = true
		out := hotFactsOutput{
			Limit: 1,
			Facts: []registry.FactStats{
				{FactID: 101, CartridgeID: "networking", HitCount: 12},
			},
		}

		var buf bytes.Buffer
		err := outputHotFacts(&buf, out)

		require.NoError(t, err)
		output := buf.String()
		assert.Contains(t, output, `"limit": 1`)
		assert.Contains(t, output, `"fact_id": 101`)
	})
}
