// internal/app/app.go
package app

import (
	"fmt"

	"github.com/FormatLab/FormatLabStudio/internal/config"
	"github.com/FormatLab/FormatLabStudio/internal/di"
	"github.com/FormatLab/FormatLabStudio/internal/services"
	"github.com/FormatLab/FormatLabStudio/internal/storage"
	"github.com/FormatLab/FormatLabStudio/internal/utils"
	"github.com/FormatLab/FormatLabStudio/internal/workflow"

	// Providers self-register with the llm registry on import
	_ "github.com/FormatLab/FormatLabStudio/internal/llm/providers/cerebras"
	_ "github.com/FormatLab/FormatLabStudio/internal/llm/providers/grok"
	_ "github.com/FormatLab/FormatLabStudio/internal/llm/providers/openai"
	_ "github.com/FormatLab/FormatLabStudio/internal/llm/providers/openrouter"
)

// InitServices builds every service in dependency order and registers it
// in the container. The router only pulls services from the container,
// so this must run before SetupRouter.
func InitServices() error {
	container := di.GetContainer()
	cfg := config.GetCurrentConfig()
	envCfg := config.GetEnvConfig()
	logger := utils.GetLogger()

	// Configuration and stats come first, later services record into them
	configService := services.NewConfigService()
	container.Register("config", configService)

	statsService := services.NewStatsService(cfg.StorageDir)
	container.Register("stats", statsService)

	// The LLM service degrades to standby when no key is configured
	llmService, err := services.NewLLMService()
	if err != nil {
		logger.Warn("LLM service initialization failed, running in standby", map[string]any{
			"error": err.Error(),
		})
		llmService = services.NewEmptyLLMService()
	}
	container.Register("llm", llmService)
	configService.SubscribeToChanges(llmService)

	// Storage
	fileStorage, err := storage.NewFileStorage(cfg.StorageDir)
	if err != nil {
		return fmt.Errorf("file storage initialization failed: %w", err)
	}
	container.Register("file_storage", fileStorage)

	timelineStore, err := storage.NewTimelineStore(cfg.TimelinePath)
	if err != nil {
		return fmt.Errorf("timeline store initialization failed: %w", err)
	}
	container.Register("timeline_store", timelineStore)

	timelineService := services.NewTimelineService(timelineStore, statsService)
	container.Register("timeline", timelineService)

	// Workflow clients
	fiboClient := workflow.NewFIBOClient(envCfg.FIBOAPIURL, envCfg.FIBOAPIKey)
	container.Register("fibo", fiboClient)

	n8nClient := workflow.NewN8NClient(cfg.N8NBaseURL, cfg.N8NEnabled, envCfg.FIBOAPIKey, envCfg.CerebrasAPIKey)
	n8nClient.SetAPIKey(envCfg.N8NAPIKey)
	n8nClient.SetTimeouts(workflow.WorkflowTimeouts{
		Analyze:   envCfg.WorkflowAnalyzeTimeout,
		Translate: envCfg.WorkflowTranslateTimeout,
		Generate:  envCfg.WorkflowGenerateTimeout,
		Export:    envCfg.WorkflowExportTimeout,
	})
	// The webhook base derives from the runtime base URL unless the
	// environment overrides it explicitly
	if envCfg.N8NWebhookBase != envCfg.N8NBaseURL+"/webhook" {
		n8nClient.SetWebhookBase(envCfg.N8NWebhookBase)
	}
	container.Register("n8n", n8nClient)

	// Domain services
	translatorService := services.NewTranslatorService(llmService, statsService,
		envCfg.UseLLMTranslator, envCfg.LLMTranslateTimeout)
	container.Register("translator", translatorService)

	generationService := services.NewGenerationService(fiboClient, timelineService, fileStorage, statsService)
	container.Register("generation", generationService)

	exportService := services.NewExportService(n8nClient, timelineService, fileStorage, statsService)
	container.Register("export", exportService)

	sceneService := services.NewSceneService(n8nClient, fileStorage)
	container.Register("scene", sceneService)

	logger.Info("services initialized", map[string]any{
		"count":     len(container.GetNames()),
		"demo_mode": cfg.DemoMode,
	})

	return nil
}

// Cleanup flushes and releases service resources before shutdown
func Cleanup() {
	container := di.GetContainer()

	if statsService, ok := container.Get("stats").(*services.StatsService); ok {
		if err := statsService.Close(); err != nil {
			utils.GetLogger().Warn("stats service close failed", map[string]any{
				"error": err.Error(),
			})
		}
	}
}
