package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"auditdesk/migrate"
)

func outputAsJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputAsYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// renderReport prints a migration report as a table followed by totals.
func renderReport(w io.Writer, r *migrate.Report) {
	headerColor.Fprintln(w, "MIGRATION REPORT")
	headerColor.Fprintln(w, strings.Repeat("=", 90))
	fmt.Fprintf(w, "%-40s %10s %10s %8s %6s %10s\n", "Table", "Exported", "Imported", "Errors", "Pages", "Duration")
	fmt.Fprintln(w, strings.Repeat("-", 90))

	for _, s := range r.Stats {
		line := fmt.Sprintf("%-40s %10s %10s %8s %6d %10s\n",
			truncate(s.Table, 40),
			humanize.Comma(int64(s.Exported)),
			humanize.Comma(int64(s.Imported)),
			humanize.Comma(int64(s.Errors)),
			s.Pages,
			formatMillis(s.DurationMS))
		if s.Errors > 0 {
			warningColor.Fprint(w, line)
		} else {
			fmt.Fprint(w, line)
		}
	}

	fmt.Fprintln(w, strings.Repeat("=", 90))
	sum := r.Summary
	fmt.Fprintf(w, "Tables: %d  Exported: %s  Imported: %s  Errors: %s  Duration: %s\n",
		sum.Tables,
		humanize.Comma(int64(sum.Exported)),
		humanize.Comma(int64(sum.Imported)),
		humanize.Comma(int64(sum.Errors)),
		formatMillis(sum.DurationMS))

	switch {
	case r.Interrupted != "":
		errorColor.Fprintf(w, "✗ %s\n", r.Interrupted)
	case sum.Errors > 0:
		errorColor.Fprintf(w, "✗ Completed with %s row errors\n", humanize.Comma(int64(sum.Errors)))
	default:
		successColor.Fprintln(w, "✓ Migration completed")
	}
}

func formatMillis(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Millisecond).String()
}

// fileSize returns a human-readable size, or "" when the file is unreadable.
func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return humanize.Bytes(uint64(info.Size()))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// promptString reads one trimmed line. Required prompts repeat until answered.
func promptString(w io.Writer, reader *bufio.Reader, prompt string, required bool) (string, error) {
	for {
		if required {
			fmt.Fprintf(w, "%s (required): ", prompt)
		} else {
			fmt.Fprintf(w, "%s: ", prompt)
		}
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if err != nil && input == "" {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		if input != "" || !required {
			return input, nil
		}
		errorColor.Fprintln(w, "This field is required")
	}
}
