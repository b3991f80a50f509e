// internal/services/stats_service.go
package services

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// UsageStats aggregates studio usage counters
type UsageStats struct {
	TodayRequests        int            `json:"today_requests"`
	Translations         map[string]int `json:"translations"` // by source: rules / llm
	TranslationFallbacks int            `json:"translation_fallbacks"`
	TotalGenerations     int            `json:"total_generations"` // runs
	TotalImages          int            `json:"total_images"`
	Exports              map[string]int `json:"exports"` // by source: local / n8n
	TimelineCorruptLines int            `json:"timeline_corrupt_lines"`
	DailyStats           map[string]int `json:"daily_stats"`
	LastUpdated          time.Time      `json:"last_updated"`
}

// StatsService persists usage statistics with batched writes
type StatsService struct {
	BasePath    string
	statsFile   string
	mutex       sync.Mutex
	cachedStats *UsageStats

	// Period check cache
	lastCheckDate string
	lastCheckTime time.Time

	// Batched save control
	isDirty      bool
	lastSaveTime time.Time
	saveInterval time.Duration
}

// NewStatsService creates a stats service storing under basePath
func NewStatsService(basePath string) *StatsService {
	if basePath == "" {
		basePath = filepath.Join("storage", "stats")
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		fmt.Printf("warning: failed to create stats directory: %v\n", err)
	}

	service := &StatsService{
		BasePath:     basePath,
		statsFile:    filepath.Join(basePath, "usage_stats.json"),
		saveInterval: 30 * time.Second,
	}

	service.startPeriodicSave()

	return service
}

// initStatsUnlocked initializes statistics; caller holds the mutex
func (s *StatsService) initStatsUnlocked() {
	if loadedStats, err := s.loadStatsFromFile(); err == nil {
		s.updateStatsForNewPeriod(loadedStats)
		s.cachedStats = loadedStats
		return
	}

	s.cachedStats = newUsageStats()

	if err := s.saveStats(s.cachedStats); err != nil {
		fmt.Printf("warning: failed to save initial stats: %v\n", err)
	}
}

func newUsageStats() *UsageStats {
	return &UsageStats{
		Translations: make(map[string]int),
		Exports:      make(map[string]int),
		DailyStats:   make(map[string]int),
		LastUpdated:  time.Now(),
	}
}

func (s *StatsService) loadStatsFromFile() (*UsageStats, error) {
	if _, err := os.Stat(s.statsFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("stats file does not exist")
	}

	return s.loadStats()
}

// updateStatsForNewPeriod resets the daily counter when the day rolled over
func (s *StatsService) updateStatsForNewPeriod(stats *UsageStats) {
	now := time.Now()
	today := now.Format("2006-01-02")
	lastDate := stats.LastUpdated.Format("2006-01-02")

	if today != lastDate {
		stats.TodayRequests = 0
		stats.LastUpdated = now
		if err := s.saveStats(stats); err != nil {
			fmt.Printf("warning: failed to roll stats period: %v\n", err)
		}
	}
}

// loadStats reads statistics from disk
func (s *StatsService) loadStats() (*UsageStats, error) {
	data, err := os.ReadFile(s.statsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats file: %w", err)
	}

	var stats UsageStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to parse stats data: %w", err)
	}

	if stats.Translations == nil {
		stats.Translations = make(map[string]int)
	}
	if stats.Exports == nil {
		stats.Exports = make(map[string]int)
	}
	if stats.DailyStats == nil {
		stats.DailyStats = make(map[string]int)
	}

	return &stats, nil
}

// saveStats writes statistics atomically via a temp file
func (s *StatsService) saveStats(stats *UsageStats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize stats: %w", err)
	}

	tempFile := s.statsFile + ".tmp"

	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp stats file: %w", err)
	}

	if err := os.Rename(tempFile, s.statsFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to replace stats file: %w", err)
	}

	return nil
}

// GetUsageStats returns a copy of the current statistics
func (s *StatsService) GetUsageStats() *UsageStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cachedStats == nil {
		s.initStatsUnlocked()
	}

	if s.needsPeriodUpdate() {
		s.updateStatsForNewPeriod(s.cachedStats)
	}

	return s.createStatsCopy()
}

// needsPeriodUpdate rate-limits day rollover checks to one per 10 minutes
func (s *StatsService) needsPeriodUpdate() bool {
	now := time.Now()

	if now.Sub(s.lastCheckTime) < 10*time.Minute {
		return false
	}

	s.lastCheckTime = now
	currentDate := now.Format("2006-01-02")

	needsUpdate := currentDate != s.lastCheckDate
	if needsUpdate {
		s.lastCheckDate = currentDate
	}

	return needsUpdate
}

func (s *StatsService) createStatsCopy() *UsageStats {
	if s.cachedStats == nil {
		return newUsageStats()
	}

	return &UsageStats{
		TodayRequests:        s.cachedStats.TodayRequests,
		Translations:         copyIntMap(s.cachedStats.Translations),
		TranslationFallbacks: s.cachedStats.TranslationFallbacks,
		TotalGenerations:     s.cachedStats.TotalGenerations,
		TotalImages:          s.cachedStats.TotalImages,
		Exports:              copyIntMap(s.cachedStats.Exports),
		TimelineCorruptLines: s.cachedStats.TimelineCorruptLines,
		DailyStats:           copyIntMap(s.cachedStats.DailyStats),
		LastUpdated:          s.cachedStats.LastUpdated,
	}
}

func copyIntMap(original map[string]int) map[string]int {
	if original == nil {
		return make(map[string]int)
	}

	copied := make(map[string]int, len(original))
	maps.Copy(copied, original)
	return copied
}

// touch updates bookkeeping shared by all record methods; caller holds
// the mutex
func (s *StatsService) touch(now time.Time) {
	s.cachedStats.LastUpdated = now
	s.isDirty = true
}

// RecordAPIRequest counts one API request
func (s *StatsService) RecordAPIRequest() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cachedStats == nil {
		s.initStatsUnlocked()
	}

	now := time.Now()
	today := now.Format("2006-01-02")

	s.cachedStats.TodayRequests++
	s.cachedStats.DailyStats[today]++
	s.touch(now)

	if now.Sub(s.lastSaveTime) > s.saveInterval {
		return s.saveStatsImmediate()
	}

	return nil
}

// RecordTranslation counts a translation by its source ("rules" or "llm")
func (s *StatsService) RecordTranslation(source string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cachedStats == nil {
		s.initStatsUnlocked()
	}

	s.cachedStats.Translations[source]++
	s.touch(time.Now())
}

// RecordTranslationFallback counts an LLM translation that fell back to
// the rule engine
func (s *StatsService) RecordTranslationFallback() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cachedStats == nil {
		s.initStatsUnlocked()
	}

	s.cachedStats.TranslationFallbacks++
	s.touch(time.Now())
}

// RecordGeneration counts one generation run and its produced images
func (s *StatsService) RecordGeneration(numImages int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cachedStats == nil {
		s.initStatsUnlocked()
	}

	s.cachedStats.TotalGenerations++
	s.cachedStats.TotalImages += numImages
	s.touch(time.Now())
}

// RecordExport counts an export by its source ("local" or "n8n")
func (s *StatsService) RecordExport(source string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cachedStats == nil {
		s.initStatsUnlocked()
	}

	s.cachedStats.Exports[source]++
	s.touch(time.Now())
}

// RecordTimelineCorruptLines counts malformed timeline lines skipped
// during a read
func (s *StatsService) RecordTimelineCorruptLines(count int) {
	if count <= 0 {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cachedStats == nil {
		s.initStatsUnlocked()
	}

	s.cachedStats.TimelineCorruptLines += count
	s.touch(time.Now())
}

// saveStatsImmediate flushes dirty stats; caller holds the mutex
func (s *StatsService) saveStatsImmediate() error {
	if !s.isDirty {
		return nil
	}

	err := s.saveStats(s.cachedStats)
	if err == nil {
		s.isDirty = false
		s.lastSaveTime = time.Now()
	}
	return err
}

// startPeriodicSave flushes dirty stats on an interval
func (s *StatsService) startPeriodicSave() {
	go func() {
		ticker := time.NewTicker(s.saveInterval)
		defer ticker.Stop()

		for range ticker.C {
			s.mutex.Lock()
			if s.isDirty {
				if err := s.saveStatsImmediate(); err != nil {
					fmt.Printf("warning: periodic stats save failed: %v\n", err)
				}
			}
			s.mutex.Unlock()
		}
	}()
}

// ResetStats clears all counters, for tests and maintenance
func (s *StatsService) ResetStats() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	newStats := newUsageStats()

	if err := s.saveStats(newStats); err != nil {
		return err
	}

	s.cachedStats = newStats
	return nil
}

// Close flushes any unsaved statistics
func (s *StatsService) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isDirty {
		return s.saveStatsImmediate()
	}
	return nil
}
