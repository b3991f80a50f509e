// internal/api/router.go
package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/FormatLab/FormatLabStudio/internal/config"
	"github.com/FormatLab/FormatLabStudio/internal/di"
	"github.com/FormatLab/FormatLabStudio/internal/services"
)

// SetupRouter configures the HTTP routes
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	// The outputs directory is served statically, make sure it exists
	outputsDir := filepath.Join(cfg.StorageDir, "outputs")
	os.MkdirAll(outputsDir, 0755)

	container := di.GetContainer()

	// Services come from the container only, never constructed here
	sceneService, ok := container.Get("scene").(*services.SceneService)
	if !ok {
		return nil, fmt.Errorf("scene service not initialized")
	}

	translatorService, ok := container.Get("translator").(*services.TranslatorService)
	if !ok {
		return nil, fmt.Errorf("translator service not initialized")
	}

	generationService, ok := container.Get("generation").(*services.GenerationService)
	if !ok {
		return nil, fmt.Errorf("generation service not initialized")
	}

	exportService, ok := container.Get("export").(*services.ExportService)
	if !ok {
		return nil, fmt.Errorf("export service not initialized")
	}

	timelineService, ok := container.Get("timeline").(*services.TimelineService)
	if !ok {
		return nil, fmt.Errorf("timeline service not initialized")
	}

	configService, ok := container.Get("config").(*services.ConfigService)
	if !ok {
		return nil, fmt.Errorf("config service not initialized")
	}

	statsService, ok := container.Get("stats").(*services.StatsService)
	if !ok {
		return nil, fmt.Errorf("stats service not initialized")
	}

	handler := NewHandler(
		sceneService,
		translatorService,
		generationService,
		exportService,
		timelineService,
		configService,
		statsService,
	)

	r := gin.Default()

	r.Use(corsMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(StatsMiddleware(statsService))

	// Rendered outputs are plain files
	r.Static("/outputs", outputsDir)

	// ===============================
	// Root and health
	// ===============================
	r.GET("/", handler.Banner)
	r.GET("/health", handler.Health)

	// WebSocket support
	r.GET("/ws/timeline", handler.TimelineWebSocket)

	// ===============================
	// API route group
	// ===============================
	v1 := r.Group("/v1")
	v1.Use(DefaultRateLimit())
	{
		v1.GET("/health", handler.Health)

		// Scene analysis
		v1.POST("/analyze", handler.AnalyzeImage)

		// Translation
		v1.POST("/translate", TranslateRateLimit(), handler.Translate)

		// ===============================
		// Patch engine routes
		// ===============================
		patchGroup := v1.Group("/patch")
		{
			patchGroup.POST("/apply", handler.ApplyPatch)
			patchGroup.POST("/generate", handler.GeneratePatch)
			patchGroup.POST("/validate", handler.ValidatePatch)
		}

		// ===============================
		// Drift analysis routes
		// ===============================
		driftGroup := v1.Group("/drift")
		{
			driftGroup.POST("/impact", handler.DriftImpact)
			driftGroup.POST("/bounded", handler.CheckBoundedDrift)
		}

		// Generation
		v1.POST("/generate", GenerateRateLimit(), handler.Generate)

		// ===============================
		// Export routes
		// ===============================
		v1.POST("/export", handler.ExportRun)
		v1.GET("/export/:run_id", handler.GetExportInfo)

		// ===============================
		// Timeline routes
		// ===============================
		timelineGroup := v1.Group("/timeline")
		{
			timelineGroup.GET("", handler.GetTimeline)
			timelineGroup.GET("/stats", handler.GetTimelineStats)
			timelineGroup.GET("/run/:run_id", handler.GetTimelineRun)
			timelineGroup.POST("/export", handler.ExportTimeline)
			timelineGroup.DELETE("", handler.ClearTimeline)
		}

		// Outputs
		v1.GET("/outputs", handler.GetOutputs)

		// Workflows
		v1.GET("/workflows/status", handler.GetWorkflowStatus)

		// ===============================
		// Settings routes
		// ===============================
		settingsGroup := v1.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.POST("", handler.SaveSettings)
			settingsGroup.POST("/test-connection", handler.TestConnection)
		}

		// Stats
		v1.GET("/stats", handler.GetStats)

		// Debug routes
		v1.GET("/ws/status", handler.GetWebSocketStatus)
	}

	return r, nil
}

// corsMiddleware implements cross origin resource sharing
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
