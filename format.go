package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// statusf reports progress on stderr. Silenced by --quiet.
func statusf(format string, args ...any) {
	if flagQuiet {
		return
	}

	fmt.Fprintf(os.Stderr, format, args...)
}

var sizeUnits = []string{"KB", "MB", "GB", "TB"}

// formatSize renders n with a binary unit, e.g. "1.5 KB". Below 1 KiB the
// exact byte count is shown.
func formatSize(n int64) string {
	const unit = 1024

	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	v := float64(n) / unit
	i := 0

	for v >= unit && i < len(sizeUnits)-1 {
		v /= unit
		i++
	}

	return fmt.Sprintf("%.1f %s", v, sizeUnits[i])
}

// formatTime prints a listing timestamp: hour and minute
// for the current year, the year otherwise.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	layout := "Jan _2  2006"
	if t.Year() == time.Now().Year() {
		layout = "Jan _2 15:04"
	}

	return t.Format(layout)
}

// printTable writes headers and rows as space-aligned columns.
func printTable(w io.Writer, headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
