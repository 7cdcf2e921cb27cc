// Package cmd provides CLI commands for the kitbash application.
// This file implements the interactive grain browser behind
// `kitbash inspect --interactive`.
package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/voxfield/kitbash/core/crush"
	"github.com/voxfield/kitbash/core/grain"
)

// =============================================================================
// Interactive Browser Constants
// =============================================================================

const (
	// ANSI escape codes for terminal control
	escClearScreen = "\033[2J"
	escMoveCursor  = "\033[%d;%dH"
	escHideCursor  = "\033[?25l"
	escShowCursor  = "\033[?25h"
	escBold        = "\033[1m"
	escDim         = "\033[2m"
	escReset       = "\033[0m"
	escReverse     = "\033[7m"
	escCyan        = "\033[36m"
	escYellow      = "\033[33m"
	escGreen       = "\033[32m"
	escMagenta     = "\033[35m"

	// Key codes
	keyEnter     = 13
	keyEscape    = 27
	keyBackspace = 127
	keyCtrlC     = 3
	keyCtrlD     = 4
	keyTab       = 9

	// Display settings
	maxBrowserRows  = 12
	maxDetailWidth  = 72
	defaultTermCols = 80
	defaultTermRows = 24
)

// =============================================================================
// Interactive Browser Types
// =============================================================================

// GrainSource supplies the grain population to browse. *grainstore.Store
// satisfies it; tests inject an in-memory implementation.
type GrainSource interface {
	All() ([]*grain.Grain, error)
}

// GrainBrowser is a terminal UI over the stored grain population: type to
// filter, arrow keys to navigate, tab for the detail pane.
type GrainBrowser struct {
	source     GrainSource
	grains     []*grain.Grain
	filtered   []*grain.Grain
	selected   int
	filter     string
	running    bool
	termWidth  int
	termHeight int
	stdin      io.Reader
	stdout     io.Writer
	oldState   *term.State
	showDetail bool
}

// NewGrainBrowser creates a browser over the given grain source.
func NewGrainBrowser(source GrainSource, stdin io.Reader, stdout io.Writer) *GrainBrowser {
	return &GrainBrowser{
		source:     source,
		selected:   0,
		filter:     "",
		running:    false,
		stdin:      stdin,
		stdout:     stdout,
		showDetail: true,
	}
}

// =============================================================================
// Main Run Loop
// =============================================================================

// Run loads the grain population and starts the browser.
func (b *GrainBrowser) Run() error {
	grains, err := b.source.All()
	if err != nil {
		return fmt.Errorf("failed to load grains: %w", err)
	}
	b.grains = grains
	b.applyFilter()

	// Check if stdin is a terminal
	stdinFd, ok := b.stdin.(*os.File)
	if !ok || !term.IsTerminal(int(stdinFd.Fd())) {
		return fmt.Errorf("interactive inspect requires a terminal")
	}

	width, height, err := term.GetSize(int(stdinFd.Fd()))
	if err != nil {
		b.termWidth = defaultTermCols
		b.termHeight = defaultTermRows
	} else {
		b.termWidth = width
		b.termHeight = height
	}

	oldState, err := term.MakeRaw(int(stdinFd.Fd()))
	if err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	b.oldState = oldState
	defer b.restore()

	b.running = true
	b.hideCursor()
	b.clearScreen()
	b.render()

	return b.readInput()
}

// restore restores terminal state.
func (b *GrainBrowser) restore() {
	b.showCursor()
	if b.oldState != nil {
		if stdin, ok := b.stdin.(*os.File); ok {
			term.Restore(int(stdin.Fd()), b.oldState)
		}
	}
}

// =============================================================================
// Input Handling
// =============================================================================

// readInput reads and processes keyboard input.
func (b *GrainBrowser) readInput() error {
	reader := bufio.NewReader(b.stdin)

	for b.running {
		key, err := reader.ReadByte()
		if err != nil {
			if err == io.EOF {
				b.running = false
				break
			}
			return err
		}

		if err := b.handleKey(key, reader); err != nil {
			return err
		}
	}

	return nil
}

// handleKey processes a single key press.
func (b *GrainBrowser) handleKey(key byte, reader *bufio.Reader) error {
	switch key {
	case keyCtrlC, keyCtrlD:
		b.running = false
		return nil

	case keyEscape:
		return b.handleEscapeSequence(reader)

	case keyEnter:
		b.selectGrain()
		return nil

	case keyBackspace:
		b.handleBackspace()
		b.applyFilter()
		b.render()
		return nil

	case keyTab:
		b.showDetail = !b.showDetail
		b.render()
		return nil

	case 'q':
		if b.filter == "" {
			b.running = false
			return nil
		}
		b.handleCharacter(key)
		return nil

	default:
		if key >= 32 && key < 127 {
			b.handleCharacter(key)
		}
		return nil
	}
}

// handleEscapeSequence processes escape sequences (arrow keys, etc).
func (b *GrainBrowser) handleEscapeSequence(reader *bufio.Reader) error {
	b1, err := reader.ReadByte()
	if err != nil {
		b.running = false
		return nil
	}

	if b1 != '[' {
		// Just escape key pressed
		b.running = false
		return nil
	}

	b2, err := reader.ReadByte()
	if err != nil {
		return nil
	}

	switch b2 {
	case 'A': // Up arrow
		b.moveUp()
		b.render()
	case 'B': // Down arrow
		b.moveDown()
		b.render()
	}

	return nil
}

// handleCharacter appends a printable character to the filter.
func (b *GrainBrowser) handleCharacter(key byte) {
	b.filter += string(key)
	b.applyFilter()
	b.render()
}

// handleBackspace trims the filter.
func (b *GrainBrowser) handleBackspace() {
	if len(b.filter) > 0 {
		b.filter = b.filter[:len(b.filter)-1]
	}
}

// =============================================================================
// Navigation & Filtering
// =============================================================================

// moveUp moves selection up.
func (b *GrainBrowser) moveUp() {
	if b.selected > 0 {
		b.selected--
	}
}

// moveDown moves selection down.
func (b *GrainBrowser) moveDown() {
	if b.selected < len(b.filtered)-1 && b.selected < maxBrowserRows-1 {
		b.selected++
	}
}

// applyFilter rebuilds the visible list: a case-insensitive substring match
// on grain ID, cartridge, or phantom ID.
func (b *GrainBrowser) applyFilter() {
	if b.filter == "" {
		b.filtered = b.grains
		b.selected = 0
		return
	}

	needle := strings.ToLower(b.filter)
	filtered := make([]*grain.Grain, 0, len(b.grains))
	for _, g := range b.grains {
		if strings.Contains(strings.ToLower(g.GrainID), needle) ||
			strings.Contains(strings.ToLower(g.CartridgeID), needle) ||
			strings.Contains(strings.ToLower(g.SourcePhantomID), needle) {
			filtered = append(filtered, g)
		}
	}
	b.filtered = filtered
	b.selected = 0
}

// selectGrain prints the selected grain ID and exits.
func (b *GrainBrowser) selectGrain() {
	b.running = false
	if len(b.filtered) > 0 && b.selected < len(b.filtered) {
		b.clearScreen()
		b.showCursor()
		fmt.Fprintln(b.stdout, b.filtered[b.selected].GrainID)
	}
}

// =============================================================================
// Rendering
// =============================================================================

// render draws the current UI state.
func (b *GrainBrowser) render() {
	b.moveCursor(1, 1)
	b.clearScreen()

	b.renderHeader()
	b.renderFilterInput()
	b.renderList()

	if b.showDetail && len(b.filtered) > 0 {
		b.renderDetail()
	}

	b.renderFooter()
}

// renderHeader renders the header line.
func (b *GrainBrowser) renderHeader() {
	header := fmt.Sprintf("%s%s Kitbash Grain Browser %s(%d grains)%s",
		escBold, escCyan, escReset, len(b.grains), escReset)
	fmt.Fprintln(b.stdout, header+"\r")
	fmt.Fprintln(b.stdout, strings.Repeat("-", min(b.termWidth, 60))+"\r")
}

// renderFilterInput renders the filter line.
func (b *GrainBrowser) renderFilterInput() {
	fmt.Fprintf(b.stdout, "%s> %s%s\r\n", escYellow, escReset, b.filter)
	fmt.Fprintln(b.stdout, "\r")
}

// renderList renders the filtered grain list.
func (b *GrainBrowser) renderList() {
	if len(b.filtered) == 0 {
		if b.filter != "" {
			fmt.Fprintf(b.stdout, "%sNo grains match%s\r\n", escDim, escReset)
		} else {
			fmt.Fprintf(b.stdout, "%sNo grains stored%s\r\n", escDim, escReset)
		}
		return
	}

	displayCount := min(len(b.filtered), maxBrowserRows)
	for i := 0; i < displayCount; i++ {
		b.renderListItem(i)
	}

	if len(b.filtered) > maxBrowserRows {
		fmt.Fprintf(b.stdout, "%s... and %d more%s\r\n", escDim, len(b.filtered)-maxBrowserRows, escReset)
	}
}

// renderListItem renders a single grain line.
func (b *GrainBrowser) renderListItem(index int) {
	g := b.filtered[index]
	prefix := "  "
	style := ""

	if index == b.selected {
		prefix = "> "
		style = escReverse
	}

	line := fmt.Sprintf("%s%s%s  %-14s %s+%d/-%d/%d%s",
		prefix, style, g.GrainID, truncateString(g.CartridgeID, 14),
		escDim, g.BitsPositive, g.BitsNegative, g.BitsVoid, escReset)

	fmt.Fprintln(b.stdout, line+"\r")
}

// renderDetail renders the detail pane for the selected grain.
func (b *GrainBrowser) renderDetail() {
	if b.selected >= len(b.filtered) {
		return
	}

	g := b.filtered[b.selected]
	stats := crush.ComputeCompressionStats(g)

	fmt.Fprintln(b.stdout, "\r")
	fmt.Fprintf(b.stdout, "%s%s Grain: %s %s\r\n", escBold, escMagenta, g.GrainID, escReset)
	fmt.Fprintln(b.stdout, strings.Repeat("-", min(b.termWidth, maxDetailWidth))+"\r")
	fmt.Fprintf(b.stdout, "%sPhantom:%s   %s\r\n", escGreen, escReset, g.SourcePhantomID)
	fmt.Fprintf(b.stdout, "%sLevel:%s     %s  %sConfidence:%s %.3f  %sObservations:%s %d\r\n",
		escGreen, escReset, g.EpistemicLevel,
		escGreen, escReset, g.AvgConfidence,
		escGreen, escReset, g.ObservationCount)
	fmt.Fprintf(b.stdout, "%sMetrics:%s   hamming %.2f, skew %.2f\r\n",
		escGreen, escReset, g.InternalHamming, g.WeightSkew)
	fmt.Fprintf(b.stdout, "%sStorage:%s   %d bytes ternary vs %d bytes dense (%.1f%% smaller)\r\n",
		escGreen, escReset, stats.TernarySizeBytes, stats.EmbeddingSizeBytes, stats.SavingsPercent)
	fmt.Fprintf(b.stdout, "%sEvidence:%s  %s\r\n",
		escGreen, escReset, truncateString(g.EvidenceHash, maxDetailWidth-12))
}

// renderFooter renders the footer with help information.
func (b *GrainBrowser) renderFooter() {
	fmt.Fprintln(b.stdout, "\r")
	fmt.Fprintf(b.stdout, "%s[Up/Down: Navigate] [Enter: Select] [Tab: Toggle Detail] [Esc/q: Quit]%s\r\n",
		escDim, escReset)
}

// =============================================================================
// Terminal Control Helpers
// =============================================================================

func (b *GrainBrowser) clearScreen() {
	fmt.Fprint(b.stdout, escClearScreen)
}

func (b *GrainBrowser) moveCursor(row, col int) {
	fmt.Fprintf(b.stdout, escMoveCursor, row, col)
}

func (b *GrainBrowser) hideCursor() {
	fmt.Fprint(b.stdout, escHideCursor)
}

func (b *GrainBrowser) showCursor() {
	fmt.Fprint(b.stdout, escShowCursor)
}

// truncateString shortens s to at most n runes, appending an ellipsis.
func truncateString(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
