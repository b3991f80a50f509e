// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/FormatLab/FormatLabStudio/internal/config"
	"github.com/FormatLab/FormatLabStudio/internal/llm"
	"github.com/FormatLab/FormatLabStudio/internal/utils"
)

// ErrLLMNotReady is returned when a completion is requested before a
// provider has been configured.
var ErrLLMNotReady = errors.New("llm service not ready")

// Structured completions run cool and bounded so the model stays close
// to the requested JSON schema.
const (
	structuredTemperature = 0.3
	structuredMaxTokens   = 2000
)

// LLMService wraps the configured completion provider. The service is
// always constructible: with no API key it reports a degraded ready
// state and every completion returns ErrLLMNotReady.
type LLMService struct {
	provider           llm.Provider
	providerName       string
	isReady            bool
	readyState         string
	activeDefaultModel string
	providerMutex      sync.RWMutex

	cache *llmCache
}

// llmCache remembers cleaned completion payloads keyed by request hash
type llmCache struct {
	entries    map[string]*llmCacheEntry
	mutex      sync.RWMutex
	expiration time.Duration
}

type llmCacheEntry struct {
	payload   string
	createdAt time.Time
}

// NewLLMService creates an LLM service from the current configuration
func NewLLMService() (*LLMService, error) {
	service := createBaseLLMService()

	cfg := config.GetCurrentConfig()
	if cfg == nil {
		service.readyState = "Failed to retrieve configuration"
		return service, nil
	}

	if cfg.LLMProvider == "" || cfg.LLMConfig == nil || cfg.LLMConfig["api_key"] == "" {
		service.readyState = "API key not configured"
		return service, nil
	}

	provider, err := llm.GetProvider(cfg.LLMProvider, cfg.LLMConfig)
	if err != nil {
		service.readyState = fmt.Sprintf("Initialization failed: %v", err)
		return service, nil // degraded service, not an error
	}

	service.provider = provider
	service.providerName = cfg.LLMProvider
	service.activeDefaultModel = cfg.LLMConfig["default_model"]
	service.isReady = true
	service.readyState = "Ready"

	return service, nil
}

// NewEmptyLLMService creates an unconfigured service as a fallback
func NewEmptyLLMService() *LLMService {
	service := createBaseLLMService()
	service.providerName = "empty"
	service.readyState = "Standby mode, configure an API key in settings"
	return service
}

func createBaseLLMService() *LLMService {
	return &LLMService{
		provider:   nil,
		isReady:    false,
		readyState: "Uninitialized",
		cache: &llmCache{
			entries:    make(map[string]*llmCacheEntry),
			expiration: 30 * time.Minute,
		},
	}
}

// IsReady reports whether a provider is configured and initialized
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()

	return s.provider != nil && s.isReady
}

// GetReadyState returns a human-readable readiness description
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()

	if s.provider != nil && s.isReady {
		return "Ready"
	}
	return s.readyState
}

// GetProviderStatus returns readiness plus its description
func (s *LLMService) GetProviderStatus() (bool, string) {
	if s == nil {
		return false, "LLM service not initialized"
	}
	if s.IsReady() {
		return true, "Ready"
	}
	return false, s.GetReadyState()
}

// GetProviderName returns the configured provider key, "" when none
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()

	if s.provider == nil {
		return ""
	}
	return s.providerName
}

// GetSupportedModels lists the active provider's recommended models
func (s *LLMService) GetSupportedModels() []string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()

	if s.provider == nil {
		return []string{}
	}
	return s.provider.GetSupportedModels()
}

// UpdateProvider reconfigures the service with a new provider at runtime
func (s *LLMService) UpdateProvider(providerName string, providerConfig map[string]string) error {
	provider, err := llm.GetProvider(providerName, providerConfig)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return err
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.activeDefaultModel = providerConfig["default_model"]
	s.isReady = true
	s.readyState = "Ready"

	// A provider switch invalidates cached completions
	s.cache = &llmCache{
		entries:    make(map[string]*llmCacheEntry),
		expiration: 30 * time.Minute,
	}

	return nil
}

// OnConfigChanged reconfigures the provider after a settings update.
// Implements ConfigChangeSubscriber.
func (s *LLMService) OnConfigChanged(oldConfig, newConfig *config.AppConfig) {
	if newConfig == nil || newConfig.LLMProvider == "" {
		return
	}

	if err := s.UpdateProvider(newConfig.LLMProvider, newConfig.LLMConfig); err != nil {
		utils.GetLogger().Warn("LLM provider update failed after config change", map[string]any{
			"provider": newConfig.LLMProvider,
			"error":    err.Error(),
		})
	}
}

// resolveModel picks the requested model or falls back to the default
func (s *LLMService) resolveModel(requested string) string {
	if requested != "" {
		return requested
	}

	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.activeDefaultModel
}

func (s *LLMService) cacheKey(systemPrompt, userPrompt, model string) string {
	s.providerMutex.RLock()
	providerName := s.providerName
	s.providerMutex.RUnlock()

	h := md5.New()
	fmt.Fprintf(h, "%s:::%s:::%s:::%s", systemPrompt, userPrompt, model, providerName)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func (c *llmCache) get(key string) (string, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.entries[key]
	if !exists {
		return "", false
	}
	if time.Since(entry.createdAt) > c.expiration {
		return "", false
	}
	return entry.payload, true
}

func (c *llmCache) put(key, payload string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = &llmCacheEntry{payload: payload, createdAt: time.Now()}
}

// CompleteStructured runs a completion that must come back as JSON and
// decodes it into out. The response text is cleaned first: code fences
// stripped, leading noise dropped, trailing garbage cut at the balanced
// closing bracket.
func (s *LLMService) CompleteStructured(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	s.providerMutex.RLock()
	if !s.isReady || s.provider == nil {
		state := s.readyState
		s.providerMutex.RUnlock()
		return fmt.Errorf("%w: %s", ErrLLMNotReady, state)
	}
	provider := s.provider
	s.providerMutex.RUnlock()

	model := s.resolveModel("")

	key := s.cacheKey(systemPrompt, userPrompt, model)
	if payload, ok := s.cache.get(key); ok {
		if err := json.Unmarshal([]byte(payload), out); err == nil {
			return nil
		}
	}

	structuredSystemPrompt := systemPrompt
	if structuredSystemPrompt != "" {
		structuredSystemPrompt += "\n\n"
	}
	structuredSystemPrompt += "Return your response in valid JSON format, following the provided output schema, without adding explanations or preambles."

	req := llm.CompletionRequest{
		Prompt:       userPrompt,
		SystemPrompt: structuredSystemPrompt,
		Temperature:  structuredTemperature,
		MaxTokens:    structuredMaxTokens,
		Model:        model,
	}

	resp, err := provider.CompleteText(ctx, req)
	if err != nil {
		return err
	}

	text := cleanJSONString(resp.Text)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("failed to parse model response as structured data: %w", err)
	}

	s.cache.put(key, text)

	return nil
}

// TestConnection runs a minimal completion to verify the provider is
// reachable with the configured credentials
func (s *LLMService) TestConnection(ctx context.Context) error {
	s.providerMutex.RLock()
	if !s.isReady || s.provider == nil {
		state := s.readyState
		s.providerMutex.RUnlock()
		return fmt.Errorf("%w: %s", ErrLLMNotReady, state)
	}
	provider := s.provider
	s.providerMutex.RUnlock()

	req := llm.CompletionRequest{
		Prompt:      "Reply with the single word: ok",
		Temperature: 0,
		MaxTokens:   8,
		Model:       s.resolveModel(""),
	}

	_, err := provider.CompleteText(ctx, req)
	return err
}

// cleanJSONString strips everything around the first complete JSON value
// in a model response
func cleanJSONString(s string) string {
	if s == "" {
		return s
	}

	s = strings.NewReplacer("```json", "", "```", "", "\uFEFF", "").Replace(s)
	s = strings.TrimSpace(s)

	// Drop zero-width characters and control characters other than
	// newlines and tabs
	s = strings.Map(func(r rune) rune {
		switch r {
		case '​', '‌', '‍', '⁠', '\uFEFF':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	// Everything before the first { or [ is preamble
	start := strings.IndexAny(s, "[{")
	if start == -1 {
		return s
	}

	s = strings.TrimSpace(s[start:])
	if s == "" {
		return s
	}

	isArray := s[0] == '['

	// Bracket counting with string awareness
	balance := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}

		if char == '\\' {
			escaped = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if isArray {
				if char == '[' {
					balance++
				} else if char == ']' {
					balance--
				}
			} else {
				if char == '{' {
					balance++
				} else if char == '}' {
					balance--
				}
			}

			if balance == 0 {
				return strings.TrimSpace(s[:i+1])
			}
		}
	}

	// No balanced close found, fall back to the last closing bracket
	end := -1
	if isArray {
		end = strings.LastIndex(s, "]")
	} else {
		end = strings.LastIndex(s, "}")
	}

	if end != -1 {
		return strings.TrimSpace(s[:end+1])
	}

	return strings.TrimSpace(s)
}

// CleanLLMJSONResponse exposes the response cleaner to other packages
func CleanLLMJSONResponse(raw string) string {
	return cleanJSONString(raw)
}
