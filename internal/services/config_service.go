// internal/services/config_service.go
package services

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/FormatLab/FormatLabStudio/internal/config"
)

// ConfigService provides configuration management
type ConfigService struct {
	// Cache of the most recently loaded configuration
	cachedConfig *config.AppConfig

	// When the cache was last refreshed
	lastUpdated time.Time

	// Configuration change subscribers
	subscribers []ConfigChangeSubscriber

	// Change history
	changeHistory []ConfigChangeRecord

	// Protects internal state
	mu sync.RWMutex
}

// ConfigChangeSubscriber is notified after configuration updates
type ConfigChangeSubscriber interface {
	OnConfigChanged(oldConfig, newConfig *config.AppConfig)
}

// ConfigChangeRecord is one recorded configuration change
type ConfigChangeRecord struct {
	Timestamp time.Time
	ChangedBy string
	Section   string
	OldValue  interface{}
	NewValue  interface{}
}

// NewConfigService creates a configuration service
func NewConfigService() *ConfigService {
	service := &ConfigService{
		lastUpdated:   time.Now(),
		subscribers:   make([]ConfigChangeSubscriber, 0),
		changeHistory: make([]ConfigChangeRecord, 0, 100),
	}

	service.cachedConfig = config.GetCurrentConfig()

	return service
}

// GetCurrentConfig returns the current configuration
func (s *ConfigService) GetCurrentConfig() *config.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cachedConfig == nil {
		s.cachedConfig = config.GetCurrentConfig()
	}

	return s.cachedConfig
}

// UpdateLLMConfig updates the LLM provider and its settings
func (s *ConfigService) UpdateLLMConfig(provider string, configMap map[string]string, changedBy string) error {
	s.mu.Lock()
	oldConfig := s.cachedConfig
	if oldConfig == nil {
		oldConfig = config.GetCurrentConfig()
	}
	oldProvider := oldConfig.LLMProvider
	s.mu.Unlock()

	if provider == "" {
		return errors.New("provider cannot be empty")
	}

	if _, ok := configMap["api_key"]; !ok {
		log.Println("warning: LLM config missing api_key")
	}

	// Fill in a default model when the caller did not pick one
	if _, ok := configMap["default_model"]; !ok {
		switch provider {
		case "cerebras":
			configMap["default_model"] = "llama-3.3-70b"
		case "openai":
			configMap["default_model"] = "gpt-4o"
		case "grok":
			configMap["default_model"] = "grok-3"
		case "openrouter":
			configMap["default_model"] = "qwen/qwen3-coder:free"
		default:
			configMap["default_model"] = ""
		}
	}

	err := config.UpdateLLMConfig(provider, configMap)
	if err == nil {
		s.mu.Lock()
		s.cachedConfig = config.GetCurrentConfig()
		s.lastUpdated = time.Now()
		newConfig := s.cachedConfig
		s.mu.Unlock()

		s.recordChange("llm_provider", oldProvider, provider, changedBy)

		s.notifySubscribers(oldConfig, newConfig)
	}

	return err
}

// SetDemoMode toggles demo mode and persists the change
func (s *ConfigService) SetDemoMode(enabled bool) error {
	err := config.SetDemoMode(enabled)
	if err == nil {
		s.mu.Lock()
		s.cachedConfig = config.GetCurrentConfig()
		s.lastUpdated = time.Now()
		s.mu.Unlock()
	}
	return err
}

// UpdateN8NConfig updates the workflow orchestrator settings
func (s *ConfigService) UpdateN8NConfig(enabled bool, baseURL string) error {
	err := config.UpdateN8NConfig(enabled, baseURL)
	if err == nil {
		s.mu.Lock()
		s.cachedConfig = config.GetCurrentConfig()
		s.lastUpdated = time.Now()
		s.mu.Unlock()
	}
	return err
}

// SaveConfig persists the current configuration
func (s *ConfigService) SaveConfig() error {
	return config.SaveConfig()
}

// GetLLMProvider returns the configured LLM provider name
func (s *ConfigService) GetLLMProvider() string {
	cfg := s.GetCurrentConfig()
	return cfg.LLMProvider
}

// GetLLMConfig returns the LLM settings map
func (s *ConfigService) GetLLMConfig() map[string]string {
	cfg := s.GetCurrentConfig()
	return cfg.LLMConfig
}

// SanitizedView returns the configuration with every secret masked,
// safe to hand to the settings endpoint
func (s *ConfigService) SanitizedView() map[string]any {
	cfg := s.GetCurrentConfig()
	if cfg == nil {
		return map[string]any{}
	}

	llmConfig := make(map[string]string, len(cfg.LLMConfig))
	for k, v := range cfg.LLMConfig {
		if isSecretKey(k) {
			llmConfig[k] = maskSecret(v)
		} else {
			llmConfig[k] = v
		}
	}

	return map[string]any{
		"host":         cfg.Host,
		"port":         cfg.Port,
		"debug_mode":   cfg.DebugMode,
		"demo_mode":    cfg.DemoMode,
		"storage_dir":  cfg.StorageDir,
		"fibo_api_url": cfg.FIBOAPIURL,
		"fibo_api_key": maskSecret(cfg.FIBOAPIKey),
		"llm_provider": cfg.LLMProvider,
		"llm_config":   llmConfig,
		"n8n_enabled":  cfg.N8NEnabled,
		"n8n_base_url": cfg.N8NBaseURL,
	}
}

func isSecretKey(key string) bool {
	lowered := strings.ToLower(key)
	return strings.Contains(lowered, "key") || strings.Contains(lowered, "secret") || strings.Contains(lowered, "token")
}

func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}

// SubscribeToChanges registers a configuration change subscriber
func (s *ConfigService) SubscribeToChanges(subscriber ConfigChangeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = append(s.subscribers, subscriber)
}

// notifySubscribers informs all subscribers of a configuration change
func (s *ConfigService) notifySubscribers(oldConfig, newConfig *config.AppConfig) {
	s.mu.RLock()
	subscribers := make([]ConfigChangeSubscriber, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.RUnlock()

	for _, subscriber := range subscribers {
		go subscriber.OnConfigChanged(oldConfig, newConfig)
	}
}

// GetChangeHistory returns the most recent configuration changes
func (s *ConfigService) GetChangeHistory(limit int) []ConfigChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.changeHistory) {
		limit = len(s.changeHistory)
	}

	history := make([]ConfigChangeRecord, limit)
	startIdx := len(s.changeHistory) - limit
	copy(history, s.changeHistory[startIdx:])

	return history
}

// recordChange appends a change record, bounded to avoid unbounded growth
func (s *ConfigService) recordChange(section string, oldValue, newValue interface{}, changedBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := ConfigChangeRecord{
		Timestamp: time.Now(),
		ChangedBy: changedBy,
		Section:   section,
		OldValue:  oldValue,
		NewValue:  newValue,
	}

	if len(s.changeHistory) >= 1000 {
		s.changeHistory = s.changeHistory[1:]
	}

	s.changeHistory = append(s.changeHistory, record)
}
