// Package output formats the line-oriented CLI output of fusearch commands.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/larroy/fusearch/internal/ui"
)

// Writer prints status lines, aligned fields and search hits.
type Writer struct {
	out    io.Writer
	styles ui.Styles
}

// New creates a Writer. Colors are used only on a terminal without NO_COLOR.
func New(out io.Writer) *Writer {
	noColor := !ui.IsTTY(out) || ui.DetectNoColor()
	return &Writer{out: out, styles: ui.GetStyles(noColor)}
}

// Status prints msg after icon. An empty icon indents the line instead.
// Write errors are ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Status(w.styles.Success.Render("✓"), fmt.Sprintf(format, args...))
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Status(w.styles.Warning.Render("!"), fmt.Sprintf(format, args...))
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Status(w.styles.Error.Render("✗"), fmt.Sprintf(format, args...))
}

// Header prints a bold section title.
func (w *Writer) Header(title string) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(title))
}

// Field prints "  label: value" with labels padded to width.
func (w *Writer) Field(label string, width int, value any) {
	pad := max(width-len(label), 0)
	_, _ = fmt.Fprintf(w.out, "  %s%s %v\n", w.styles.Label.Render(label+":"), strings.Repeat(" ", pad), value)
}

// Hit prints one ranked search result.
func (w *Writer) Hit(rank int, score float64, path string) {
	_, _ = fmt.Fprintf(w.out, "%3d. %s  %s\n", rank, w.styles.Dim.Render(fmt.Sprintf("%8.4f", score)), path)
}

// Line prints text unchanged.
func (w *Writer) Line(text string) {
	_, _ = fmt.Fprintln(w.out, text)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
