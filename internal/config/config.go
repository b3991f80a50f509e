// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/FormatLab/FormatLabStudio/internal/utils"
)

// Singleton instance of the current configuration
var (
	currentConfig *AppConfig
	envConfig     *Config
	configMutex   sync.RWMutex
	configFile    string
	secretKey     string
)

// Application identity reported by the banner and health endpoints
const (
	AppName    = "FormatLab Studio"
	AppVersion = "1.0.0"
)

// Persisted secrets carry this prefix when encrypted at rest
const encryptedPrefix = "enc:"

// AppConfig holds the full application configuration, including the
// runtime-tunable parts persisted to config.json
type AppConfig struct {
	Host         string `json:"host"`
	Port         string `json:"port"`
	DebugMode    bool   `json:"debug_mode"`
	DemoMode     bool   `json:"demo_mode"`
	StorageDir   string `json:"storage_dir"`
	TimelinePath string `json:"timeline_path"`
	LogDir       string `json:"log_dir"`

	// Render backend
	FIBOAPIURL string `json:"fibo_api_url"`
	FIBOAPIKey string `json:"fibo_api_key,omitempty"`

	// LLM translation
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"llm_config"`

	// Export workflow
	N8NEnabled bool   `json:"n8n_enabled"`
	N8NBaseURL string `json:"n8n_base_url"`
}

// Config is the environment snapshot loaded at startup
type Config struct {
	Host         string
	Port         string
	DebugMode    bool
	DemoMode     bool
	StorageDir   string
	TimelinePath string
	LogDir       string
	SecretKey    string

	FIBOAPIKey string
	FIBOAPIURL string

	CerebrasAPIKey string
	CerebrasAPIURL string
	CerebrasModel  string
	OpenAIAPIKey   string

	UseLLMTranslator    bool
	LLMTranslateTimeout time.Duration

	N8NEnabled     bool
	N8NBaseURL     string
	N8NWebhookBase string
	N8NAPIKey      string

	WorkflowAnalyzeTimeout   time.Duration
	WorkflowTranslateTimeout time.Duration
	WorkflowGenerateTimeout  time.Duration
	WorkflowExportTimeout    time.Duration
}

// Load reads the configuration from environment variables
func Load() (*Config, error) {
	// A .env file is optional
	godotenv.Load()

	storageDir := getEnvPath("STORAGE_DIR", "storage")

	config := &Config{
		Host:         getEnv("HOST", "0.0.0.0"),
		Port:         getEnv("PORT", "8000"),
		DebugMode:    getEnvBool("DEBUG", true),
		DemoMode:     getEnvBool("DEMO_MODE", false),
		StorageDir:   storageDir,
		TimelinePath: getEnv("TIMELINE_PATH", filepath.Join(storageDir, "timeline.jsonl")),
		LogDir:       getEnvPath("LOG_DIR", "logs"),
		SecretKey:    getEnv("STUDIO_SECRET_KEY", ""),

		FIBOAPIKey: getEnv("FIBO_API_KEY", ""),
		FIBOAPIURL: getEnv("FIBO_API_URL", "https://api.bria.ai/fibo"),

		CerebrasAPIKey: getEnv("CEREBRAS_API_KEY", ""),
		CerebrasAPIURL: getEnv("CEREBRAS_API_URL", "https://api.cerebras.ai/v1"),
		CerebrasModel:  getEnv("CEREBRAS_MODEL", "llama-3.3-70b"),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),

		UseLLMTranslator:    getEnvBool("USE_LLM_TRANSLATOR", true),
		LLMTranslateTimeout: time.Duration(getEnvInt("LLM_TRANSLATE_TIMEOUT_SECONDS", 60)) * time.Second,

		N8NEnabled: getEnvBool("N8N_ENABLED", false),
		N8NBaseURL: getEnv("N8N_BASE_URL", "http://localhost:5678"),
		N8NAPIKey:  getEnv("N8N_API_KEY", ""),

		WorkflowAnalyzeTimeout:   time.Duration(getEnvInt("WORKFLOW_ANALYZE_TIMEOUT_SECONDS", 60)) * time.Second,
		WorkflowTranslateTimeout: time.Duration(getEnvInt("WORKFLOW_TRANSLATE_TIMEOUT_SECONDS", 30)) * time.Second,
		WorkflowGenerateTimeout:  time.Duration(getEnvInt("WORKFLOW_GENERATE_TIMEOUT_SECONDS", 180)) * time.Second,
		WorkflowExportTimeout:    time.Duration(getEnvInt("WORKFLOW_EXPORT_TIMEOUT_SECONDS", 60)) * time.Second,
	}
	config.N8NWebhookBase = getEnv("N8N_WEBHOOK_BASE", config.N8NBaseURL+"/webhook")

	if config.FIBOAPIKey == "" && !config.DemoMode {
		log.Println("warning: FIBO_API_KEY not set, generation falls back to demo rendering")
	}
	if config.CerebrasAPIKey == "" && config.OpenAIAPIKey == "" {
		log.Println("warning: no LLM API key set, translation will use rules only")
	}

	configMutex.Lock()
	envConfig = config
	configMutex.Unlock()

	return config, nil
}

// getEnv returns the environment variable or the default when unset
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath returns a path from the environment, creating the directory
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		err = os.MkdirAll(path, 0755)
		if err != nil {
			fmt.Printf("warning: failed to create directory %s: %v\n", path, err)
		}
	}

	return path
}

// getEnvBool reads a boolean environment variable
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt reads an integer environment variable
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// InitConfig initializes the configuration manager, merging any previously
// saved config.json on top of the environment snapshot
func InitConfig(storageDir string) error {
	configFile = filepath.Join(storageDir, "config.json")

	baseConfig, err := Load()
	if err != nil {
		return err
	}
	secretKey = baseConfig.SecretKey

	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = defaultAppConfig(baseConfig)

	// Layer the saved runtime settings over the environment snapshot
	if data, err := os.ReadFile(configFile); err == nil {
		var savedConfig AppConfig
		if json.Unmarshal(data, &savedConfig) == nil {
			// Environment always wins for addresses and paths
			savedConfig.Host = baseConfig.Host
			savedConfig.Port = baseConfig.Port
			savedConfig.DebugMode = baseConfig.DebugMode
			savedConfig.StorageDir = baseConfig.StorageDir
			savedConfig.TimelinePath = baseConfig.TimelinePath
			savedConfig.LogDir = baseConfig.LogDir

			// An explicit DEMO_MODE overrides the saved toggle
			if os.Getenv("DEMO_MODE") != "" {
				savedConfig.DemoMode = baseConfig.DemoMode
			}

			decryptSecrets(&savedConfig)

			if savedConfig.FIBOAPIKey == "" {
				savedConfig.FIBOAPIKey = baseConfig.FIBOAPIKey
			}
			if savedConfig.LLMConfig == nil {
				savedConfig.LLMConfig = currentConfig.LLMConfig
			} else if savedConfig.LLMConfig["api_key"] == "" {
				savedConfig.LLMConfig["api_key"] = currentConfig.LLMConfig["api_key"]
			}

			currentConfig = &savedConfig
		}
	}

	return saveConfigLocked()
}

// defaultAppConfig builds the runtime config from the environment snapshot
func defaultAppConfig(base *Config) *AppConfig {
	provider := "cerebras"
	apiKey := base.CerebrasAPIKey
	baseURL := base.CerebrasAPIURL
	model := base.CerebrasModel
	if apiKey == "" && base.OpenAIAPIKey != "" {
		provider = "openai"
		apiKey = base.OpenAIAPIKey
		baseURL = ""
		model = "gpt-4o"
	}

	return &AppConfig{
		Host:         base.Host,
		Port:         base.Port,
		DebugMode:    base.DebugMode,
		DemoMode:     base.DemoMode,
		StorageDir:   base.StorageDir,
		TimelinePath: base.TimelinePath,
		LogDir:       base.LogDir,
		FIBOAPIURL:   base.FIBOAPIURL,
		FIBOAPIKey:   base.FIBOAPIKey,
		LLMProvider:  provider,
		LLMConfig: map[string]string{
			"api_key":       apiKey,
			"base_url":      baseURL,
			"default_model": model,
		},
		N8NEnabled: base.N8NEnabled,
		N8NBaseURL: base.N8NBaseURL,
	}
}

// GetEnvConfig returns the environment snapshot, loading it on first use.
// Fields not represented in AppConfig, like workflow timeouts, are only
// available here.
func GetEnvConfig() *Config {
	configMutex.RLock()
	cfg := envConfig
	configMutex.RUnlock()

	if cfg != nil {
		return cfg
	}

	cfg, _ = Load()
	return cfg
}

// GetCurrentConfig returns a copy of the current configuration
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// Not initialized, fall back to a plain environment snapshot
		baseConfig, _ := Load()
		return defaultAppConfig(baseConfig)
	}

	configCopy := *currentConfig
	configCopy.LLMConfig = make(map[string]string, len(currentConfig.LLMConfig))
	for k, v := range currentConfig.LLMConfig {
		configCopy.LLMConfig[k] = v
	}
	return &configCopy
}

// UpdateLLMConfig updates the LLM provider settings
func UpdateLLMConfig(provider string, config map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("configuration not initialized")
	}

	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = config

	return saveConfigLocked()
}

// SetDemoMode toggles demo rendering at runtime
func SetDemoMode(enabled bool) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("configuration not initialized")
	}

	currentConfig.DemoMode = enabled
	return saveConfigLocked()
}

// UpdateN8NConfig updates the export workflow settings
func UpdateN8NConfig(enabled bool, baseURL string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("configuration not initialized")
	}

	currentConfig.N8NEnabled = enabled
	if baseURL != "" {
		currentConfig.N8NBaseURL = baseURL
	}
	return saveConfigLocked()
}

// SaveConfig persists the current configuration to config.json
func SaveConfig() error {
	configMutex.Lock()
	defer configMutex.Unlock()
	return saveConfigLocked()
}

func saveConfigLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("no configuration to save")
	}

	dir := filepath.Dir(configFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	// Persist a copy with secrets encrypted, keeping plaintext in memory
	persisted := *currentConfig
	persisted.LLMConfig = make(map[string]string, len(currentConfig.LLMConfig))
	for k, v := range currentConfig.LLMConfig {
		persisted.LLMConfig[k] = v
	}
	encryptSecrets(&persisted)

	data, err := json.MarshalIndent(&persisted, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	return os.WriteFile(configFile, data, 0644)
}

// encryptSecrets replaces API keys with their encrypted form when a secret
// key is configured. Without one the keys are stored in the clear, matching
// a plain development setup.
func encryptSecrets(cfg *AppConfig) {
	if secretKey == "" {
		return
	}

	if cfg.FIBOAPIKey != "" && !strings.HasPrefix(cfg.FIBOAPIKey, encryptedPrefix) {
		if enc, err := utils.Encrypt(cfg.FIBOAPIKey, secretKey); err == nil {
			cfg.FIBOAPIKey = encryptedPrefix + enc
		}
	}
	if key := cfg.LLMConfig["api_key"]; key != "" && !strings.HasPrefix(key, encryptedPrefix) {
		if enc, err := utils.Encrypt(key, secretKey); err == nil {
			cfg.LLMConfig["api_key"] = encryptedPrefix + enc
		}
	}
}

// decryptSecrets restores API keys loaded from disk
func decryptSecrets(cfg *AppConfig) {
	if strings.HasPrefix(cfg.FIBOAPIKey, encryptedPrefix) {
		if secretKey == "" {
			cfg.FIBOAPIKey = ""
		} else if dec, err := utils.Decrypt(strings.TrimPrefix(cfg.FIBOAPIKey, encryptedPrefix), secretKey); err == nil {
			cfg.FIBOAPIKey = dec
		} else {
			cfg.FIBOAPIKey = ""
		}
	}

	if cfg.LLMConfig == nil {
		return
	}
	if key := cfg.LLMConfig["api_key"]; strings.HasPrefix(key, encryptedPrefix) {
		if secretKey == "" {
			cfg.LLMConfig["api_key"] = ""
		} else if dec, err := utils.Decrypt(strings.TrimPrefix(key, encryptedPrefix), secretKey); err == nil {
			cfg.LLMConfig["api_key"] = dec
		} else {
			cfg.LLMConfig["api_key"] = ""
		}
	}
}
