// internal/storage/timeline_store.go
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/FormatLab/FormatLabStudio/internal/models"
	"github.com/FormatLab/FormatLabStudio/internal/utils"
)

// Scene snapshots can get large, allow long JSONL lines
const maxTimelineLineSize = 4 * 1024 * 1024

// TimelineStore is an append-only JSONL log of render runs. One entry per
// line; appends go through a single mutex so concurrent runs never interleave
// partial lines. Malformed lines are skipped on read, a half-written line
// from a crash must not take the whole history down.
type TimelineStore struct {
	path    string
	mu      sync.Mutex
	corrupt int64 // malformed lines skipped across all reads
	logger  *utils.Logger
}

// NewTimelineStore creates a timeline store backed by the given JSONL file
func NewTimelineStore(path string) (*TimelineStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create timeline directory: %w", err)
	}

	return &TimelineStore{
		path:   path,
		logger: utils.GetLogger(),
	}, nil
}

// Path returns the backing file path
func (s *TimelineStore) Path() string {
	return s.path
}

// Append writes one entry to the end of the log. The timestamp is stamped
// here when the caller left it empty.
func (s *TimelineStore) Append(entry *models.TimelineEntry) error {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize timeline entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open timeline: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("failed to append timeline entry: %w", err)
	}

	return nil
}

// ReadAll returns every entry in file order, oldest first. A missing file
// reads as an empty timeline.
func (s *TimelineStore) ReadAll() ([]models.TimelineEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readAllLocked()
}

func (s *TimelineStore) readAllLocked() ([]models.TimelineEntry, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.TimelineEntry{}, nil
		}
		return nil, fmt.Errorf("failed to open timeline: %w", err)
	}
	defer file.Close()

	entries := []models.TimelineEntry{}
	skipped := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxTimelineLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry models.TimelineEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read timeline: %w", err)
	}

	if skipped > 0 {
		s.corrupt += int64(skipped)
		s.logger.Warn("Skipped malformed timeline lines", map[string]any{
			"count": skipped,
			"path":  s.path,
		})
	}

	return entries, nil
}

// CorruptLineCount returns how many malformed lines have been skipped
// since the store was created
func (s *TimelineStore) CorruptLineCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.corrupt
}

// Recent returns the newest entries first, at most limit of them.
// A non-positive limit means the default of 10.
func (s *TimelineStore) Recent(limit int) ([]models.TimelineEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	entries, err := s.ReadAll()
	if err != nil {
		return nil, err
	}

	// Reverse so the latest run comes first
	reversed := make([]models.TimelineEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		reversed = append(reversed, entries[i])
	}

	if len(reversed) > limit {
		reversed = reversed[:limit]
	}
	return reversed, nil
}

// ByRunID finds a single entry by its run ID. Returns nil when no entry
// matches.
func (s *TimelineStore) ByRunID(runID string) (*models.TimelineEntry, error) {
	entries, err := s.ReadAll()
	if err != nil {
		return nil, err
	}

	for i := range entries {
		if entries[i].RunID == runID {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// ByDateRange returns entries whose date falls inside [startDate, endDate],
// both formatted YYYY-MM-DD. Timestamps are RFC 3339 so the date prefix
// compares lexically.
func (s *TimelineStore) ByDateRange(startDate, endDate string) ([]models.TimelineEntry, error) {
	entries, err := s.ReadAll()
	if err != nil {
		return nil, err
	}

	matched := []models.TimelineEntry{}
	for _, entry := range entries {
		if len(entry.Timestamp) < 10 {
			continue
		}
		date := entry.Timestamp[:10]
		if date >= startDate && date <= endDate {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

// Stats summarizes the whole timeline
func (s *TimelineStore) Stats() (*models.TimelineStats, error) {
	entries, err := s.ReadAll()
	if err != nil {
		return nil, err
	}

	stats := &models.TimelineStats{
		TotalEntries: len(entries),
	}
	if len(entries) == 0 {
		return stats, nil
	}

	seedRange := &models.SeedRange{Min: entries[0].Seed, Max: entries[0].Seed}
	dateRange := &models.DateRange{Earliest: entries[0].Timestamp, Latest: entries[0].Timestamp}

	for _, entry := range entries {
		stats.TotalGenerations += len(entry.OutputURLs)

		if entry.Seed < seedRange.Min {
			seedRange.Min = entry.Seed
		}
		if entry.Seed > seedRange.Max {
			seedRange.Max = entry.Seed
		}

		if entry.Timestamp < dateRange.Earliest {
			dateRange.Earliest = entry.Timestamp
		}
		if entry.Timestamp > dateRange.Latest {
			dateRange.Latest = entry.Timestamp
		}
	}

	stats.SeedRange = seedRange
	stats.DateRange = dateRange
	return stats, nil
}

// Clear removes the timeline file entirely
func (s *TimelineStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear timeline: %w", err)
	}
	return nil
}

// Export renders the whole timeline as an indented JSON array
func (s *TimelineStore) Export() ([]byte, error) {
	entries, err := s.ReadAll()
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize timeline: %w", err)
	}
	return data, nil
}
