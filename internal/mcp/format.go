package mcp

import (
	"fmt"
	"strings"
)

// FormatSearchResults renders results as markdown for clients that only
// read text content.
func FormatSearchResults(query string, results []SearchResultOutput) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(results))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		fmt.Fprintf(&sb, "%d. `%s` (score: %.4f)\n", i+1, r.Path, r.Score)
		if len(r.MatchedTerms) > 0 {
			fmt.Fprintf(&sb, "   matched: %s\n", strings.Join(r.MatchedTerms, ", "))
		}
	}
	return sb.String()
}

// FormatIndexStatus renders the status as markdown.
func FormatIndexStatus(out *IndexStatusOutput) string {
	var sb strings.Builder
	sb.WriteString("## Index Status\n\n")
	fmt.Fprintf(&sb, "Tokenizer: `%s`\n\n", out.Tokenizer)

	sb.WriteString("| Root | Documents | Terms | Size | Last indexed |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, r := range out.Roots {
		if r.Error != "" {
			fmt.Fprintf(&sb, "| `%s` | - | - | - | %s |\n", r.Root, r.Error)
			continue
		}
		last := r.LastIndexed
		if last == "" {
			last = "never"
		}
		if r.Indexing {
			last += " (indexing)"
		}
		fmt.Fprintf(&sb, "| `%s` | %d | %d | %s | %s |\n", r.Root, r.Documents, r.Terms, humanSize(r.SizeBytes), last)
	}

	if out.Daemon != nil {
		fmt.Fprintf(&sb, "\nDaemon: pid %d, up %s, watching: %t, interval: %s\n",
			out.Daemon.PID, out.Daemon.Uptime, out.Daemon.Watching, out.Daemon.Interval)
	} else {
		sb.WriteString("\nDaemon: not running\n")
	}
	return sb.String()
}

func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
