package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo describes one index for `fusearch stats`.
type StatusInfo struct {
	Root        string    `json:"root"`
	Path        string    `json:"path"`
	Documents   int       `json:"documents"`
	Terms       int       `json:"terms"`
	Postings    int       `json:"postings"`
	SizeBytes   int64     `json:"size_bytes"`
	LastIndexed time.Time `json:"last_indexed"`
	Status      string    `json:"status"` // "ok", "missing", "error"
	Error       string    `json:"error,omitempty"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes a human-readable block per index.
func (r *StatusRenderer) Render(infos []StatusInfo) error {
	for i, info := range infos {
		if i > 0 {
			_, _ = fmt.Fprintln(r.out)
		}
		_, _ = fmt.Fprintf(r.out, "%s  %s\n", r.styles.Header.Render(info.Root), r.renderStatus(info.Status))
		if info.Error != "" {
			_, _ = fmt.Fprintf(r.out, "  Error:        %s\n", r.styles.Error.Render(info.Error))
			continue
		}
		if info.Status == "missing" {
			continue
		}
		_, _ = fmt.Fprintf(r.out, "  Index:        %s\n", info.Path)
		_, _ = fmt.Fprintf(r.out, "  Documents:    %d\n", info.Documents)
		_, _ = fmt.Fprintf(r.out, "  Terms:        %d\n", info.Terms)
		_, _ = fmt.Fprintf(r.out, "  Postings:     %d\n", info.Postings)
		_, _ = fmt.Fprintf(r.out, "  Size:         %s\n", FormatBytes(info.SizeBytes))
		if !info.LastIndexed.IsZero() {
			_, _ = fmt.Fprintf(r.out, "  Last indexed: %s\n", formatTime(info.LastIndexed))
		}
	}
	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(infos []StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(infos)
}

func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ok":
		return r.styles.Success.Render(status)
	case "missing":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime formats t relative to now.
func formatTime(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day") + " ago"
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
