// internal/services/timeline_service.go
package services

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "github.com/FormatLab/FormatLabStudio/internal/errors"
	"github.com/FormatLab/FormatLabStudio/internal/models"
	"github.com/FormatLab/FormatLabStudio/internal/storage"
	"github.com/FormatLab/FormatLabStudio/internal/utils"
)

// TimelineService exposes the append-only run log to the rest of the
// application. Reads come back most recent first; the raw store keeps
// file order.
type TimelineService struct {
	store  *storage.TimelineStore
	stats  *StatsService
	logger *utils.Logger

	mu              sync.Mutex
	reportedCorrupt int64
}

// NewTimelineService creates a timeline service over the given store.
// stats may be nil, corrupt-line accounting is then skipped.
func NewTimelineService(store *storage.TimelineStore, stats *StatsService) *TimelineService {
	return &TimelineService{
		store:  store,
		stats:  stats,
		logger: utils.GetLogger(),
	}
}

// Path returns the backing JSONL file path
func (s *TimelineService) Path() string {
	return s.store.Path()
}

// Append records one run. Entries are immutable once written.
func (s *TimelineService) Append(entry *models.TimelineEntry) error {
	if entry == nil {
		return apperrors.NewValidationError("timeline entry cannot be nil", nil)
	}
	if entry.RunID == "" {
		return apperrors.NewValidationError("timeline entry requires a run_id", nil)
	}

	if err := s.store.Append(entry); err != nil {
		return apperrors.WrapError(err, "failed to append timeline entry", apperrors.ErrorTypeError)
	}
	return nil
}

// All returns every entry, most recent first
func (s *TimelineService) All() ([]models.TimelineEntry, error) {
	entries, err := s.store.ReadAll()
	if err != nil {
		return nil, err
	}
	s.syncCorruptCount()

	reversed := make([]models.TimelineEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		reversed = append(reversed, entries[i])
	}
	return reversed, nil
}

// Recent returns the newest entries, at most limit (default 10)
func (s *TimelineService) Recent(limit int) ([]models.TimelineEntry, error) {
	entries, err := s.store.Recent(limit)
	if err != nil {
		return nil, err
	}
	s.syncCorruptCount()
	return entries, nil
}

// ByRunID finds a single entry, returning a not-found error when absent
func (s *TimelineService) ByRunID(runID string) (*models.TimelineEntry, error) {
	entry, err := s.store.ByRunID(runID)
	if err != nil {
		return nil, err
	}
	s.syncCorruptCount()

	if entry == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no timeline entry for run %s", runID), nil)
	}
	return entry, nil
}

// ByDateRange returns entries between two YYYY-MM-DD dates, inclusive
func (s *TimelineService) ByDateRange(startDate, endDate string) ([]models.TimelineEntry, error) {
	entries, err := s.store.ByDateRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	s.syncCorruptCount()
	return entries, nil
}

// Stats summarizes the timeline
func (s *TimelineService) Stats() (*models.TimelineStats, error) {
	stats, err := s.store.Stats()
	if err != nil {
		return nil, err
	}
	s.syncCorruptCount()
	return stats, nil
}

// Clear wipes the timeline log
func (s *TimelineService) Clear() error {
	return s.store.Clear()
}

// ExportToFile writes the timeline as an indented JSON array. An empty
// path picks a timestamped file next to the log.
func (s *TimelineService) ExportToFile(path string) (string, error) {
	data, err := s.store.Export()
	if err != nil {
		return "", err
	}
	s.syncCorruptCount()

	if path == "" {
		dir := filepath.Dir(s.store.Path())
		path = filepath.Join(dir, fmt.Sprintf("timeline_export_%s.json", time.Now().UTC().Format("20060102T150405Z")))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	// Atomic write via temp file
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write timeline export: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to finalize timeline export: %w", err)
	}

	s.logger.Info("Timeline exported", map[string]any{"path": path})
	return path, nil
}

// CorruptLineCount returns how many malformed lines reads have skipped
func (s *TimelineService) CorruptLineCount() int64 {
	return s.store.CorruptLineCount()
}

// syncCorruptCount pushes newly observed corrupt lines into the stats
// counters
func (s *TimelineService) syncCorruptCount() {
	if s.stats == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.store.CorruptLineCount()
	if total > s.reportedCorrupt {
		s.stats.RecordTimelineCorruptLines(int(total - s.reportedCorrupt))
		s.reportedCorrupt = total
	}
}
