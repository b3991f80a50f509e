// internal/utils/metrics.go
package utils

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Counter metric - using atomic operations for thread-safe value updates
type Counter struct {
	name  string
	value int64 // Use atomic operations for this field
}

// Gauge metric - using atomic operations for thread-safe value updates
type Gauge struct {
	name  string
	value int64 // Use atomic operations for this field
}

// Histogram metric (simple implementation tracking count, sum, min, max)
type Histogram struct {
	name    string
	count   int64
	sum     int64
	min     int64
	max     int64
	buckets []int64 // For future expansion
	mu      sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = &MetricsCollector{
			counters:   make(map[string]*Counter),
			gauges:     make(map[string]*Gauge),
			histograms: make(map[string]*Histogram),
		}
	})
	return globalMetrics
}

// IncrementCounter increments a counter metric using atomic operations to reduce lock contention
func (m *MetricsCollector) IncrementCounter(name string) {
	// First try with read lock (fast path for existing counters)
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if exists {
		atomic.AddInt64(&counter.value, 1)
		return
	}

	// Slow path: need to create new counter
	m.mu.Lock()
	// Double-check after acquiring write lock
	counter, exists = m.counters[name]
	if !exists {
		counter = &Counter{name: name}
		m.counters[name] = counter
	}
	m.mu.Unlock()

	atomic.AddInt64(&counter.value, 1)
}

// AddCounter adds a value to a counter metric using atomic operations
func (m *MetricsCollector) AddCounter(name string, value int64) {
	// First try with read lock (fast path for existing counters)
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if exists {
		atomic.AddInt64(&counter.value, value)
		return
	}

	// Slow path: need to create new counter
	m.mu.Lock()
	// Double-check after acquiring write lock
	counter, exists = m.counters[name]
	if !exists {
		counter = &Counter{name: name}
		m.counters[name] = counter
	}
	m.mu.Unlock()

	atomic.AddInt64(&counter.value, value)
}

// SetGauge sets a gauge metric using atomic operations
func (m *MetricsCollector) SetGauge(name string, value int64) {
	// First try with read lock (fast path for existing gauges)
	m.mu.RLock()
	gauge, exists := m.gauges[name]
	m.mu.RUnlock()

	if exists {
		atomic.StoreInt64(&gauge.value, value)
		return
	}

	// Slow path: need to create new gauge
	m.mu.Lock()
	// Double-check after acquiring write lock
	gauge, exists = m.gauges[name]
	if !exists {
		gauge = &Gauge{name: name}
		m.gauges[name] = gauge
	}
	m.mu.Unlock()

	atomic.StoreInt64(&gauge.value, value)
}

// IncGauge increments a gauge metric
func (m *MetricsCollector) IncGauge(name string) {
	m.mu.RLock()
	gauge, exists := m.gauges[name]
	m.mu.RUnlock()

	if exists {
		atomic.AddInt64(&gauge.value, 1)
		return
	}

	// Slow path: gauge doesn't exist, use SetGauge to create and set
	m.SetGauge(name, 1)
}

// DecGauge decrements a gauge metric
func (m *MetricsCollector) DecGauge(name string) {
	m.mu.RLock()
	gauge, exists := m.gauges[name]
	m.mu.RUnlock()

	if exists {
		atomic.AddInt64(&gauge.value, -1)
		return
	}

	// Slow path: gauge doesn't exist, use SetGauge to create and set
	m.SetGauge(name, -1)
}

// GetGauge gets the current value of a gauge using atomic load
func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	gauge, exists := m.gauges[name]
	m.mu.RUnlock()

	if !exists {
		return 0
	}

	return atomic.LoadInt64(&gauge.value)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	// First try with read lock (fast path for existing histograms)
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		// Slow path: need to create new histogram
		m.mu.Lock()
		// Double-check after acquiring write lock
		histogram, exists = m.histograms[name]
		if !exists {
			histogram = &Histogram{
				name: name,
				min:  value,
				max:  value,
			}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.mu.Lock()
	defer histogram.mu.Unlock()

	histogram.count++
	histogram.sum += value

	if value < histogram.min {
		histogram.min = value
	}
	if value > histogram.max {
		histogram.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := make(map[string]any)

	counters := make(map[string]int64)
	for name, counter := range m.counters {
		counters[name] = atomic.LoadInt64(&counter.value)
	}
	metrics["counters"] = counters

	gauges := make(map[string]int64)
	for name, gauge := range m.gauges {
		gauges[name] = atomic.LoadInt64(&gauge.value)
	}
	metrics["gauges"] = gauges

	// Histograms still need the mutex for min/max consistency
	histograms := make(map[string]map[string]int64)
	for name, histogram := range m.histograms {
		histogram.mu.Lock()
		histograms[name] = map[string]int64{
			"count": histogram.count,
			"sum":   histogram.sum,
			"min":   histogram.min,
			"max":   histogram.max,
		}
		histogram.mu.Unlock()
	}
	metrics["histograms"] = histograms

	return metrics
}

// GetCounterValue gets the current value of a counter using atomic load
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		return 0
	}

	return atomic.LoadInt64(&counter.value)
}

// StudioMetrics records the pipeline-level metrics of the studio
type StudioMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewStudioMetrics creates a new studio metrics instance
func NewStudioMetrics() *StudioMetrics {
	return &StudioMetrics{
		metrics: GetMetricsCollector(),
		logger:  GetLogger(),
	}
}

// RecordAPIRequest records metrics for an API request
func (sm *StudioMetrics) RecordAPIRequest(endpoint, method string, statusCode int, duration time.Duration) {
	sm.metrics.IncrementCounter("api_requests_total")
	sm.metrics.IncrementCounter("api_requests_" + method + "_" + endpoint)
	sm.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())
	sm.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")

	sm.logger.Debug("API request completed", map[string]any{
		"endpoint": endpoint,
		"method":   method,
		"status":   statusCode,
		"duration": duration.Milliseconds(),
	})
}

// RecordTranslation records metrics for an instruction translation
func (sm *StudioMetrics) RecordTranslation(source string, confidence float64, duration time.Duration) {
	sm.metrics.IncrementCounter("translations_total")
	sm.metrics.IncrementCounter("translations_" + source)
	sm.metrics.RecordHistogram("translation_time_ms", duration.Milliseconds())

	sm.logger.Debug("Translation completed", map[string]any{
		"source":     source,
		"confidence": confidence,
		"duration":   duration.Milliseconds(),
	})
}

// RecordLLMRequest records metrics for an LLM request
func (sm *StudioMetrics) RecordLLMRequest(provider, model string, tokensUsed int, duration time.Duration) {
	sm.metrics.IncrementCounter("llm_requests_total")
	sm.metrics.IncrementCounter("llm_requests_" + provider)
	sm.metrics.AddCounter("llm_tokens_total", int64(tokensUsed))
	sm.metrics.RecordHistogram("llm_response_time_ms", duration.Milliseconds())

	sm.logger.Info("LLM request completed", map[string]any{
		"provider": provider,
		"model":    model,
		"tokens":   tokensUsed,
		"duration": duration.Milliseconds(),
	})
}

// RecordGeneration records metrics for a render run
func (sm *StudioMetrics) RecordGeneration(seed, numVariants int, demoMode bool, duration time.Duration) {
	sm.metrics.IncrementCounter("generations_total")
	if demoMode {
		sm.metrics.IncrementCounter("generations_demo")
	} else {
		sm.metrics.IncrementCounter("generations_backend")
	}
	sm.metrics.AddCounter("generation_variants_total", int64(numVariants))
	sm.metrics.RecordHistogram("generation_time_ms", duration.Milliseconds())

	sm.logger.Debug("Generation completed", map[string]any{
		"seed":     seed,
		"variants": numVariants,
		"demo":     demoMode,
		"duration": duration.Milliseconds(),
	})
}

// RecordPatchApplied records metrics for a successful patch application
func (sm *StudioMetrics) RecordPatchApplied(opCount int) {
	sm.metrics.IncrementCounter("patches_applied_total")
	sm.metrics.AddCounter("patch_operations_total", int64(opCount))
}

// RecordExport records metrics for an export bundle
func (sm *StudioMetrics) RecordExport(source string, size int) {
	sm.metrics.IncrementCounter("exports_total")
	sm.metrics.IncrementCounter("exports_" + source)
	sm.metrics.RecordHistogram("export_size_bytes", int64(size))
}

// RecordTimelineAppend records a timeline write
func (sm *StudioMetrics) RecordTimelineAppend(runID string) {
	sm.metrics.IncrementCounter("timeline_appends_total")

	sm.logger.Debug("Timeline entry recorded", map[string]any{
		"run_id": runID,
	})
}

// RecordError records an error metric
func (sm *StudioMetrics) RecordError(errorType, component string) {
	sm.metrics.IncrementCounter("errors_total")
	sm.metrics.IncrementCounter("errors_" + errorType)
	sm.metrics.IncrementCounter("errors_" + component)

	sm.logger.Error("Error recorded", map[string]any{
		"type":      errorType,
		"component": component,
	})
}

// StartMetricsCollection starts background metrics collection
func (sm *StudioMetrics) StartMetricsCollection(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Periodically log metrics summary
				metrics := sm.metrics.GetMetrics()
				sm.logger.Info("Periodic metrics report", map[string]any{
					"metrics": metrics,
				})
			}
		}
	}()
}
