package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	KindClip = "clip"
	KindVOD  = "vod"
)

const (
	TimeAll   = "all"
	TimeDay   = "day"
	TimeWeek  = "week"
	TimeMonth = "month"
)

const (
	SortViews  = "view"
	SortRecent = "date"
)

// Item is one downloadable media entry of a channel listing.
type Item struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Title       string          `json:"title"`
	DurationSec int             `json:"duration_sec"`
	Views       int             `json:"views"`
	SourceURL   string          `json:"source_url"`
	Category    string          `json:"category,omitempty"`
	CreatedAt   string          `json:"created_at,omitempty"`
	Origin      json.RawMessage `json:"origin,omitempty"`
}

// Query selects one channel listing.
type Query struct {
	Channel string `json:"channel"`
	Kind    string `json:"kind"`
	Time    string `json:"time"`
	Sort    string `json:"sort"`
}

func (q Query) Validate() error {
	if strings.TrimSpace(q.Channel) == "" {
		return fmt.Errorf("channel is required")
	}
	switch q.Kind {
	case KindClip, KindVOD:
	default:
		return fmt.Errorf("invalid content kind %q (expected clip or vod)", q.Kind)
	}
	switch q.Time {
	case TimeAll, TimeDay, TimeWeek, TimeMonth:
	default:
		return fmt.Errorf("invalid time filter %q (expected all, day, week, or month)", q.Time)
	}
	switch q.Sort {
	case SortViews, SortRecent:
	default:
		return fmt.Errorf("invalid sort order %q (expected view or date)", q.Sort)
	}
	return nil
}

// Page is a single listing response. An empty NextCursor means no more pages.
type Page struct {
	Items      []Item
	NextCursor string
}

const CollectionExhausted = "exhausted"

type CollectionResult struct {
	Query Query  `json:"query"`
	Items []Item `json:"items"`
	Pages int    `json:"pages"`
	State string `json:"state"`
}

// DownloadResult is produced exactly once per item.
type DownloadResult struct {
	ItemID   string `json:"item_id"`
	Status   string `json:"status"`
	FilePath string `json:"file_path,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Err      string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
}

type RunSummary struct {
	RunID          string `json:"run_id"`
	Succeeded      int    `json:"succeeded"`
	Skipped        int    `json:"skipped"`
	Failed         int    `json:"failed"`
	Total          int    `json:"total"`
	DestinationDir string `json:"destination_dir"`
	ManifestPath   string `json:"manifest_path,omitempty"`
	Canceled       bool   `json:"canceled,omitempty"`
}

// RunManifest is the per-run record persisted next to the downloads.
type RunManifest struct {
	SchemaVersion  int          `json:"schema_version"`
	RunID          string       `json:"run_id"`
	CreatedAt      string       `json:"created_at"`
	UpdatedAt      string       `json:"updated_at,omitempty"`
	Channel        string       `json:"channel"`
	DestinationDir string       `json:"destination_dir"`
	Concurrency    int          `json:"concurrency"`
	Total          int          `json:"total"`
	Pending        int          `json:"pending"`
	Running        int          `json:"running"`
	Succeeded      int          `json:"succeeded"`
	Skipped        int          `json:"skipped"`
	Failed         int          `json:"failed"`
	Items          []ItemRecord `json:"items"`
}

type ItemRecord struct {
	Index      int    `json:"index"`
	ItemID     string `json:"item_id"`
	Title      string `json:"title"`
	SourceURL  string `json:"source_url,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	LastError  string `json:"last_error,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
}
