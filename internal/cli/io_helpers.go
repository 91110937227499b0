package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"kickdl/internal/model"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stdinIsTTY() bool {
	return fileIsTTY(os.Stdin)
}

func fileIsTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func printSummary(w io.Writer, s model.RunSummary) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Downloaded: %d\n", s.Succeeded)
	fmt.Fprintf(w, "Skipped: %d\n", s.Skipped)
	fmt.Fprintf(w, "Failed: %d\n", s.Failed)
	fmt.Fprintf(w, "Saved to: %s\n", s.DestinationDir)
	if s.Failed > 0 && s.ManifestPath != "" {
		fmt.Fprintf(w, "Failure details: %s (or run: kickdl last-run %s)\n", s.ManifestPath, s.DestinationDir)
	}
}

func formatDuration(sec int) string {
	if sec <= 0 {
		return "-"
	}
	return (time.Duration(sec) * time.Second).String()
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return string(r[:max])
	}
	return string(r[:max-1]) + "…"
}
