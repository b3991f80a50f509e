// internal/models/timeline.go
package models

// TimelineEntry is one recorded generation run. Entries are immutable once
// appended to the timeline log.
type TimelineEntry struct {
	RunID         string         `json:"run_id"`
	Timestamp     string         `json:"timestamp"` // RFC 3339, UTC
	Seed          int            `json:"seed"`
	SceneSnapshot map[string]any `json:"scene_snapshot"`
	PatchSummary  string         `json:"patch_summary"`
	OutputURLs    []string       `json:"output_urls"`
}

// SeedRange is the min/max seed observed across timeline entries.
type SeedRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// DateRange is the earliest/latest entry timestamp.
type DateRange struct {
	Earliest string `json:"earliest"`
	Latest   string `json:"latest"`
}

// TimelineStats summarizes the timeline log. Ranges are nil when the
// timeline is empty.
type TimelineStats struct {
	TotalEntries     int        `json:"total_entries"`
	TotalGenerations int        `json:"total_generations"`
	SeedRange        *SeedRange `json:"seed_range"`
	DateRange        *DateRange `json:"date_range"`
}
