// Package cmd provides CLI commands for the kitbash application.
// This file contains tests for the ingest command.
package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Ingest Command Tests
// =============================================================================

func TestIngestCmd_Definition(t *testing.T) {
	t.Run("command is defined", func(t *testing.T) {
		assert.NotNil(t, ingestCmd)
		assert.Equal(t, "ingest <path>", ingestCmd.Use)
		assert.Equal(t, "Build a fact cartridge from source files", ingestCmd.Short)
		assert.NotNil(t, ingestCmd.RunE)
	})

	t.Run("command has flags", func(t *testing.T) {
		flags := ingestCmd.Flags()

		cartridge := flags.Lookup("cartridge")
		require.NotNil(t, cartridge)
		assert.Equal(t, "c", cartridge.Shorthand)

		pattern := flags.Lookup("pattern")
		require.NotNil(t, pattern)
		assert.Equal(t, "", pattern.DefValue)

		watch := flags.Lookup("watch")
		require.NotNil(t, watch)
		assert.Equal(t, "w", watch.Shorthand)
		assert.Equal(t, "false", watch.DefValue)

		jsonFlag := flags.Lookup("json")
		require.NotNil(t, jsonFlag)
		assert.Equal(t, "false", jsonFlag.DefValue)
	})

	t.Run("requires exactly one argument", func(t *testing.T) {
		err := cobra.ExactArgs(1)(ingestCmd, []string{})
		assert.Error(t, err)

		err = cobra.ExactArgs(1)(ingestCmd, []string{"docs/"})
		assert.NoError(t, err)

		err = cobra.ExactArgs(1)(ingestCmd, []string{"a", "b"})
		assert.Error(t, err)
	})
}

// =============================================================================
// Source Path Tests
// =============================================================================

func TestValidateSourcePath(t *testing.T) {
	t.Run("accepts an existing path", func(t *testing.T) {
		dir := t.TempDir()

		assert.NoError(t, validateSourcePath(dir))
	})

	t.Run("accepts an existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "facts.md")
		require.NoError(t, os.WriteFile(path, []byte("# facts\n"), 0o644))

		assert.NoError(t, validateSourcePath(path))
	})

	t.Run("rejects a missing path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "absent")

		err := validateSourcePath(path)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not exist")
	})
}

func TestDeriveCartridgeName(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{
			name:     "markdown file",
			path:     "docs/runbook.md",
			expected: "runbook",
		},
		{
			name:     "absolute jsonl file",
			path:     "/var/data/facts.jsonl",
			expected: "facts",
		},
		{
			name:     "directory with trailing slash",
			path:     "docs/networking/",
			expected: "networking",
		},
		{
			name:     "only the last extension is trimmed",
			path:     "archive.tar.gz",
			expected: "archive.tar",
		},
		{
			name:     "bare name",
			path:     "notes",
			expected: "notes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, deriveCartridgeName(tt.path))
		})
	}
}

// =============================================================================
// Ingest Output Tests
// =============================================================================

func TestOutputIngestResult(t *testing.T) {
	defer func() { ingestJSON = false }()

	t.Run("text output", func(t *testing.T) {
		ingestJSON = false
		result := &ingestOutput{
			Cartridge:  "networking",
			Source:     "docs/networking",
			FactsAdded: 12,
			TotalFacts: 40,
			SavedTo:    ".kitbash/cartridges/networking.json",
		}

		var buf bytes.Buffer
		err := outputIngestResult(&buf, result)

		require.NoError(t, err)
		output := buf.String()
		assert.Contains(t, output, "Ingest Complete")
		assert.Contains(t, output, "networking")
		assert.Contains(t, output, "Facts Added:")
		assert.Contains(t, output, "Total Facts:")
		assert.NotContains(t, output, "Skipped:")
	})

	t.Run("reports skipped facts", func(t *testing.T) {
		ingestJSON = false
		result := &ingestOutput{Cartridge: "networking", FactsAdded: 10, Skipped: 2}

		var buf bytes.Buffer
		err := outputIngestResult(&buf, result)

		require.NoError(t, err)
		assert.Contains(t, buf.String(), "Skipped:")
	})

	t.Run("json output", func(t *testing.T) {
		ingestJSON = true
		result := &ingestOutput{Cartridge: "networking", FactsAdded: 12}

		var buf bytes.Buffer
		err := outputIngestResult(&buf, result)

		require.NoError(t, err)
		output := buf.String()
		assert.Contains(t, output, `"cartridge": "networking"`)
		assert.Contains(t, output, `"facts_added": 12`)
	})
}
