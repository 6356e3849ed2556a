// Package tui renders CLI output: styled summaries, plain tables and a
// progress bar for long extractions.
package tui

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/simvis/simvis/pkg/core"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// HumanSize formats a byte count with binary prefixes, e.g. "1.5KiB".
func HumanSize(n int64) string {
	num := float64(n)
	for _, unit := range []string{"", "Ki", "Mi", "Gi", "Ti", "Pi", "Ei", "Zi"} {
		if math.Abs(num) < 1024 {
			return fmt.Sprintf("%3.1f%sB", num, unit)
		}
		num /= 1024
	}
	return fmt.Sprintf("%.1fYiB", num)
}

// Duration formats an elapsed time for summaries.
func Duration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

// Success prints a green check line.
func Success(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, successStyle.Render("✓ ")+fmt.Sprintf(format, args...))
}

// Failure prints a red cross line.
func Failure(w io.Writer, err error) {
	fmt.Fprintln(w, accentStyle.Render("✗ ")+err.Error())
}

// Field prints one "label: value" line.
func Field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(label+":"), titleStyle.Render(value))
}

// Table prints rows as aligned columns under a bold header.
func Table(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, r := range rows {
		for i := range header {
			if i < len(r) && lipgloss.Width(r[i]) > widths[i] {
				widths[i] = lipgloss.Width(r[i])
			}
		}
	}

	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, len(widths))
		for i, width := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			pad := cell + strings.Repeat(" ", width-lipgloss.Width(cell))
			if style != nil {
				pad = style.Render(pad)
			}
			parts[i] = pad
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	fmt.Fprintln(w, line(header, &headerStyle))
	for _, r := range rows {
		fmt.Fprintln(w, line(r, nil))
	}
}

// Preview prints the first n rows of t.
func Preview(w io.Writer, t *core.Table, n int) {
	if n > t.NumRows() {
		n = t.NumRows()
	}
	rec := t.Record()
	rows := make([][]string, n)
	for r := 0; r < n; r++ {
		row := make([]string, t.NumCols())
		for c := range row {
			row[c] = core.CellString(rec.Column(c), r)
		}
		rows[r] = row
	}
	Table(w, t.Columns(), rows)
	if rest := t.NumRows() - n; rest > 0 {
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("… %d more rows", rest)))
	}
}

// Progress drives a progress bar from dispatcher callbacks.
type Progress struct {
	w    io.Writer
	desc string

	once sync.Once
	bar  *progressbar.ProgressBar
}

// NewProgress creates a bar that is drawn on the first update.
func NewProgress(w io.Writer, description string) *Progress {
	return &Progress{w: w, desc: description}
}

// Update has the dispatch.Progress signature.
func (p *Progress) Update(done, total int) {
	p.once.Do(func() {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription(p.desc),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "█",
				SaucerHead:    "█",
				SaucerPadding: "░",
				BarStart:      "",
				BarEnd:        "",
			}),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	})
	_ = p.bar.Set(done)
}

// Finish clears the bar.
func (p *Progress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
