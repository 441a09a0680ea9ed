package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/tonimelisma/drivebridge/internal/bridge"
	"github.com/tonimelisma/drivebridge/internal/connection"
)

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	if !cc.Flags.Quiet {
		fmt.Fprintf(cc.Stderr, format, args...)
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// Size unit constants for human-readable formatting.
const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
	sizeTB = 1024 * 1024 * 1024 * 1024
)

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	switch {
	case bytes >= sizeTB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/float64(sizeTB))
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatTime returns a compact timestamp for display relative to now.
func formatTime(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}

	t = t.Local()

	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row. The last column is not padded.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		if i == len(cells)-1 {
			parts[i] = cell
			continue
		}

		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}

// stateColor picks the display color of a connection phase. fatih/color
// disables itself when stdout is not a terminal or NO_COLOR is set.
func stateColor(p connection.Phase) *color.Color {
	switch p {
	case connection.PhaseConnected:
		return color.New(color.FgGreen)
	case connection.PhaseSuspended:
		return color.New(color.FgYellow)
	case connection.PhaseFailed, connection.PhaseUnableToResolve:
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}

// progressWidth is the bar width in cells.
const progressWidth = 30

// progressBar redraws a single status line on a terminal. On anything
// else it stays silent so logs and pipes are not flooded.
type progressBar struct {
	mu      sync.Mutex
	w       io.Writer
	label   string
	enabled bool
	drawn   bool
}

func newProgressBar(cc *CLIContext, label string) *progressBar {
	return &progressBar{
		w:       cc.Stderr,
		label:   label,
		enabled: !cc.Flags.Quiet && !cc.Flags.JSON && isTerminal(cc.Stderr),
	}
}

// Observe is a bridge.ProgressObserver.
func (b *progressBar) Observe(p bridge.Progress) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	fmt.Fprintf(b.w, "\r%s %s", b.label, renderProgress(p))
	b.drawn = true
}

// Done ends the progress line.
func (b *progressBar) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.drawn {
		fmt.Fprintln(b.w)
		b.drawn = false
	}
}

// renderProgress draws "[=====>    ]  42% 4.2 MB / 10.0 MB".
func renderProgress(p bridge.Progress) string {
	pct := p.Percentage()
	filled := int(pct / 100 * progressWidth)
	filled = min(max(filled, 0), progressWidth)

	bar := strings.Repeat("=", filled)
	if filled < progressWidth {
		bar += ">" + strings.Repeat(" ", progressWidth-filled-1)
	}

	total := "?"
	if p.BytesExpected > 0 {
		total = formatSize(p.BytesExpected)
	}

	return fmt.Sprintf("[%s] %3.0f%% %s / %s", bar, pct, formatSize(p.BytesTransferred), total)
}
