// internal/api/handlers.go
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/FormatLab/FormatLabStudio/internal/config"
	"github.com/FormatLab/FormatLabStudio/internal/di"
	apperrors "github.com/FormatLab/FormatLabStudio/internal/errors"
	"github.com/FormatLab/FormatLabStudio/internal/scenegraph"
	"github.com/FormatLab/FormatLabStudio/internal/services"
	"github.com/FormatLab/FormatLabStudio/internal/utils"
	"github.com/FormatLab/FormatLabStudio/internal/workflow"
)

// Handler serves the HTTP API
type Handler struct {
	// Core services
	SceneService      *services.SceneService      // image analysis and outputs
	TranslatorService *services.TranslatorService // instruction to patch translation
	GenerationService *services.GenerationService // render pipeline
	ExportService     *services.ExportService     // bundle export
	TimelineService   *services.TimelineService   // run history
	ConfigService     *services.ConfigService     // runtime settings
	StatsService      *services.StatsService      // usage counters
	WebSocketHandler  *WebSocketHandler           // timeline websocket
	Response          *ResponseHelper             // response envelope helper
}

// NewHandler creates the API handler with its service dependencies
func NewHandler(
	sceneService *services.SceneService,
	translatorService *services.TranslatorService,
	generationService *services.GenerationService,
	exportService *services.ExportService,
	timelineService *services.TimelineService,
	configService *services.ConfigService,
	statsService *services.StatsService) *Handler {

	return &Handler{
		SceneService:      sceneService,
		TranslatorService: translatorService,
		GenerationService: generationService,
		ExportService:     exportService,
		TimelineService:   timelineService,
		ConfigService:     configService,
		StatsService:      statsService,
		WebSocketHandler:  NewWebSocketHandler(),
		Response:          NewResponseHelper(),
	}
}

// APIResponse is the standard response envelope
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // for debugging and tracing
}

// APIError is the standard error format
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// PaginationMeta carries pagination metadata
type PaginationMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// PaginatedResponse is a response with pagination metadata
type PaginatedResponse struct {
	*APIResponse
	Meta *PaginationMeta `json:"meta,omitempty"`
}

// ===============================
// Root and health
// ===============================

// Banner returns the service banner
func (h *Handler) Banner(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":     config.AppName,
		"version": config.AppVersion,
		"docs":    "/docs",
		"health":  "/v1/health",
	})
}

// Health reports service health and readiness. The body is flat so
// probes can read it without unwrapping the response envelope.
func (h *Handler) Health(c *gin.Context) {
	cfg := config.GetCurrentConfig()

	environment := "production"
	if cfg.DemoMode {
		environment = "demo_mode"
	} else if cfg.DebugMode {
		environment = "development"
	}

	llmReady := false
	if llmService := h.getLLMService(); llmService != nil {
		llmReady = llmService.IsReady()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"app":             config.AppName,
		"version":         config.AppVersion,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"environment":     environment,
		"llm_ready":       llmReady,
		"n8n_enabled":     cfg.N8NEnabled,
		"fibo_configured": cfg.FIBOAPIKey != "",
	})
}

// ===============================
// Scene analysis
// ===============================

// AnalyzeImage accepts an uploaded image and returns its scene graph
func (h *Handler) AnalyzeImage(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorFileUploadFailed,
			"No file provided in the upload", err.Error())
		return
	}

	if fileHeader.Size > services.MaxUploadSize {
		h.Response.Error(c, http.StatusBadRequest, ErrorFileTooLarge,
			"File exceeds the 50 MB upload limit")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.Response.InternalError(c, "Failed to read uploaded file", err.Error())
		return
	}
	defer file.Close()

	result, err := h.SceneService.AnalyzeUpload(c.Request.Context(), fileHeader.Filename, fileHeader.Size, file)
	if err != nil {
		if apperrors.IsValidationError(err) {
			h.Response.Error(c, http.StatusBadRequest, ErrorFileInvalid,
				"Upload rejected", err.Error())
			return
		}
		h.Response.InternalError(c, "Image analysis failed", err.Error())
		return
	}

	h.Response.Success(c, result, result.Message)
}

// ===============================
// Translation
// ===============================

// TranslateRequest asks for an instruction to be turned into scene edits
type TranslateRequest struct {
	Instruction  string         `json:"instruction" binding:"required"`
	CurrentScene map[string]any `json:"current_scene"`
	ReturnPatch  *bool          `json:"return_patch"` // default true
	UseLLM       *bool          `json:"use_llm"`      // default true
}

// Translate converts a natural language instruction into a patch and
// updated scene
func (h *Handler) Translate(c *gin.Context) {
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.InvalidRequest(c, "Invalid request body", err.Error())
		return
	}
	if req.CurrentScene == nil {
		h.Response.InvalidRequest(c, "current_scene is required")
		return
	}

	opts := services.TranslateOptions{
		UseLLM:      boolOrDefault(req.UseLLM, true),
		ReturnPatch: boolOrDefault(req.ReturnPatch, true),
	}

	result, err := h.TranslatorService.Translate(c.Request.Context(), req.CurrentScene, req.Instruction, opts)
	if err != nil {
		if apperrors.IsValidationError(err) {
			h.Response.BadRequest(c, err.Error())
			return
		}
		h.Response.Error(c, http.StatusInternalServerError, ErrorTranslationFailed,
			"Translation failed", err.Error())
		return
	}

	h.Response.Success(c, result, "Instruction translated")
}

// ===============================
// Patch engine
// ===============================

// ApplyPatchRequest applies a JSON Patch to a scene document
type ApplyPatchRequest struct {
	BaseScene map[string]any   `json:"base_scene"`
	Patch     []map[string]any `json:"patch"`
}

// ApplyPatch validates a patch and applies it to the given scene
func (h *Handler) ApplyPatch(c *gin.Context) {
	var req ApplyPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.InvalidRequest(c, "Invalid request body", err.Error())
		return
	}
	if req.BaseScene == nil {
		h.Response.InvalidRequest(c, "base_scene is required")
		return
	}
	if req.Patch == nil {
		h.Response.InvalidRequest(c, "patch is required")
		return
	}

	patch := scenegraph.PatchFromMaps(req.Patch)
	if err := scenegraph.Validate(patch); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorPatchValidationFailed,
			"Patch validation failed", err.Error())
		return
	}

	result, err := scenegraph.Apply(req.BaseScene, patch)
	if err != nil {
		h.Response.Unprocessable(c, ErrorPatchApplyFailed,
			"Patch could not be applied", err.Error())
		return
	}

	h.Response.Success(c, gin.H{"scene_graph": result}, "Patch applied")
}

// GeneratePatchRequest diffs two scene documents
type GeneratePatchRequest struct {
	Original map[string]any `json:"original"`
	Modified map[string]any `json:"modified"`
}

// GeneratePatch computes the JSON Patch that turns original into modified
func (h *Handler) GeneratePatch(c *gin.Context) {
	var req GeneratePatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.InvalidRequest(c, "Invalid request body", err.Error())
		return
	}
	if req.Original == nil || req.Modified == nil {
		h.Response.InvalidRequest(c, "original and modified are required")
		return
	}

	ops := scenegraph.Generate(req.Original, req.Modified).Maps()
	if ops == nil {
		ops = []map[string]any{}
	}

	h.Response.Success(c, gin.H{"patch": ops}, "Patch generated")
}

// ValidatePatchRequest checks a patch without applying it
type ValidatePatchRequest struct {
	Patch []map[string]any `json:"patch"`
}

// ValidatePatch reports whether a patch is structurally valid
func (h *Handler) ValidatePatch(c *gin.Context) {
	var req ValidatePatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.InvalidRequest(c, "Invalid request body", err.Error())
		return
	}
	if req.Patch == nil {
		h.Response.InvalidRequest(c, "patch is required")
		return
	}

	patch := scenegraph.PatchFromMaps(req.Patch)
	if err := scenegraph.Validate(patch); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorPatchValidationFailed,
			"Patch validation failed", err.Error())
		return
	}

	h.Response.Success(c, gin.H{
		"valid":      true,
		"operations": len(patch),
	}, "Patch is valid")
}

// ===============================
// Drift analysis
// ===============================

// DriftImpactRequest compares two scene documents
type DriftImpactRequest struct {
	Original map[string]any `json:"original"`
	Modified map[string]any `json:"modified"`
}

// DriftImpact summarizes the changes between two scenes and reports
// constraint lock violations
func (h *Handler) DriftImpact(c *gin.Context) {
	var req DriftImpactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.InvalidRequest(c, "Invalid request body", err.Error())
		return
	}
	if req.Original == nil || req.Modified == nil {
		h.Response.InvalidRequest(c, "original and modified are required")
		return
	}

	impact := scenegraph.Impact(req.Original, req.Modified)
	violations := scenegraph.ConstraintViolations(req.Original, req.Modified)
	if violations == nil {
		violations = []string{}
	}

	h.Response.Success(c, gin.H{
		"impact":                impact,
		"constraint_violations": violations,
	}, "Impact computed")
}

// BoundedDriftRequest checks drift against numeric bounds
type BoundedDriftRequest struct {
	Original map[string]any        `json:"original"`
	Modified map[string]any        `json:"modified"`
	Bounds   map[string][2]float64 `json:"bounds"`
}

// CheckBoundedDrift scores drift and flags values outside their bounds
func (h *Handler) CheckBoundedDrift(c *gin.Context) {
	var req BoundedDriftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.InvalidRequest(c, "Invalid request body", err.Error())
		return
	}
	if req.Original == nil || req.Modified == nil {
		h.Response.InvalidRequest(c, "original and modified are required")
		return
	}

	result := scenegraph.BoundedDrift(req.Original, req.Modified, req.Bounds)
	h.Response.Success(c, result, "Bounded drift computed")
}

// ===============================
// Generation
// ===============================

// GenerateRequest renders a scene, optionally after applying a patch
type GenerateRequest struct {
	BaseScene   map[string]any   `json:"base_scene"`
	Patch       []map[string]any `json:"patch"`
	Seed        *int             `json:"seed"`
	NumVariants int              `json:"num_variants"`
	ApplyPatch  *bool            `json:"apply_patch"` // default true
}

// Generate runs the render pipeline and records the run on the timeline
func (h *Handler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.InvalidRequest(c, "Invalid request body", err.Error())
		return
	}
	if req.BaseScene == nil {
		h.Response.InvalidRequest(c, "base_scene is required")
		return
	}

	result, err := h.GenerationService.Generate(c.Request.Context(), req.BaseScene, services.GenerateOptions{
		Patch:       req.Patch,
		ApplyPatch:  boolOrDefault(req.ApplyPatch, true),
		Seed:        req.Seed,
		NumVariants: req.NumVariants,
	})
	if err != nil {
		if h.respondPatchError(c, err) {
			return
		}
		if apperrors.IsValidationError(err) {
			h.Response.BadRequest(c, err.Error())
			return
		}
		h.Response.Error(c, http.StatusInternalServerError, ErrorGenerationFailed,
			"Generation failed", err.Error())
		return
	}

	h.Response.Success(c, result, "Generation completed")
}

// ===============================
// Export
// ===============================

// ExportRequest bundles a run into a downloadable archive
type ExportRequest struct {
	RunID        string           `json:"run_id" binding:"required"`
	SceneJSON    map[string]any   `json:"scene_json"`
	PatchJSON    []map[string]any `json:"patch_json"`
	OutputURLs   []string         `json:"output_urls"`
	Include16Bit *bool            `json:"include_16bit"` // default true
}

// ExportRun builds a ZIP bundle for a run and streams it back
func (h *Handler) ExportRun(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.InvalidRequest(c, "Invalid request body", err.Error())
		return
	}
	if req.SceneJSON == nil {
		h.Response.InvalidRequest(c, "scene_json is required")
		return
	}

	bundle, err := h.ExportService.ExportRun(c.Request.Context(), services.ExportOptions{
		RunID:        req.RunID,
		SceneJSON:    req.SceneJSON,
		PatchJSON:    req.PatchJSON,
		OutputURLs:   req.OutputURLs,
		Include16Bit: boolOrDefault(req.Include16Bit, true),
	})
	if err != nil {
		if apperrors.IsValidationError(err) {
			h.Response.BadRequest(c, err.Error())
			return
		}
		h.Response.Error(c, http.StatusInternalServerError, ErrorExportFailed,
			"Export failed", err.Error())
		return
	}

	h.Response.DownloadResponse(c, bundle.Data, bundle.Filename, "application/zip")
}

// GetExportInfo reports which outputs of a run are still available
func (h *Handler) GetExportInfo(c *gin.Context) {
	runID := c.Param("run_id")

	info, err := h.ExportService.Info(runID)
	if err != nil {
		h.Response.InternalError(c, "Failed to read export info", err.Error())
		return
	}

	h.Response.Success(c, info, info.Message)
}

// ===============================
// Timeline
// ===============================

// GetTimeline lists timeline entries. With start and end it returns a
// date range, with limit the most recent entries, otherwise everything.
func (h *Handler) GetTimeline(c *gin.Context) {
	start := c.Query("start")
	end := c.Query("end")

	if start != "" || end != "" {
		if start == "" || end == "" {
			h.Response.InvalidRequest(c, "start and end must be provided together")
			return
		}
		entries, err := h.TimelineService.ByDateRange(start, end)
		if err != nil {
			h.Response.Error(c, http.StatusInternalServerError, ErrorTimelineReadFailed,
				"Failed to read timeline", err.Error())
			return
		}
		h.Response.Success(c, gin.H{"entries": entries, "count": len(entries)})
		return
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			h.Response.InvalidRequest(c, "limit must be a positive integer")
			return
		}
		entries, err := h.TimelineService.Recent(limit)
		if err != nil {
			h.Response.Error(c, http.StatusInternalServerError, ErrorTimelineReadFailed,
				"Failed to read timeline", err.Error())
			return
		}
		h.Response.Success(c, gin.H{"entries": entries, "count": len(entries)})
		return
	}

	entries, err := h.TimelineService.All()
	if err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorTimelineReadFailed,
			"Failed to read timeline", err.Error())
		return
	}
	h.Response.Success(c, gin.H{"entries": entries, "count": len(entries)})
}

// GetTimelineStats summarizes the timeline
func (h *Handler) GetTimelineStats(c *gin.Context) {
	stats, err := h.TimelineService.Stats()
	if err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorTimelineReadFailed,
			"Failed to read timeline", err.Error())
		return
	}

	h.Response.Success(c, stats)
}

// GetTimelineRun returns the timeline entry for one run
func (h *Handler) GetTimelineRun(c *gin.Context) {
	runID := c.Param("run_id")

	entry, err := h.TimelineService.ByRunID(runID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "run", "run_id: "+runID)
			return
		}
		h.Response.Error(c, http.StatusInternalServerError, ErrorTimelineReadFailed,
			"Failed to read timeline", err.Error())
		return
	}

	h.Response.Success(c, entry)
}

// ExportTimelineRequest names an optional destination file
type ExportTimelineRequest struct {
	Path string `json:"path"`
}

// ExportTimeline copies the timeline log to an export file
func (h *Handler) ExportTimeline(c *gin.Context) {
	var req ExportTimelineRequest
	// The body is optional, an empty or absent body means default path
	_ = c.ShouldBindJSON(&req)

	path, err := h.TimelineService.ExportToFile(req.Path)
	if err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorTimelineWriteFailed,
			"Failed to export timeline", err.Error())
		return
	}

	h.Response.Success(c, gin.H{"path": path}, "Timeline exported")
}

// ClearTimeline truncates the timeline log
func (h *Handler) ClearTimeline(c *gin.Context) {
	if err := h.TimelineService.Clear(); err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorTimelineWriteFailed,
			"Failed to clear timeline", err.Error())
		return
	}

	h.Response.Success(c, nil, "Timeline cleared")
}

// ===============================
// Outputs
// ===============================

// GetOutputs lists the rendered output images
func (h *Handler) GetOutputs(c *gin.Context) {
	outputs, err := h.SceneService.ListOutputs()
	if err != nil {
		h.Response.InternalError(c, "Failed to list outputs", err.Error())
		return
	}

	h.Response.Success(c, gin.H{"outputs": outputs, "count": len(outputs)})
}

// ===============================
// Workflows
// ===============================

// GetWorkflowStatus reports whether the n8n instance is reachable
func (h *Handler) GetWorkflowStatus(c *gin.Context) {
	n8nClient := h.getN8NClient()
	if n8nClient == nil {
		h.Response.Success(c, gin.H{
			"enabled":    false,
			"accessible": false,
			"status":     "unavailable",
		})
		return
	}

	h.Response.Success(c, n8nClient.Status(c.Request.Context()))
}

// ===============================
// Settings
// ===============================

// GetSettings returns the current settings with secrets masked
func (h *Handler) GetSettings(c *gin.Context) {
	h.Response.Success(c, h.ConfigService.SanitizedView(), "Settings retrieved")
}

// SaveSettingsRequest updates runtime settings. Absent fields keep
// their current value.
type SaveSettingsRequest struct {
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"llm_config"`
	DemoMode    *bool             `json:"demo_mode"`
	N8NEnabled  *bool             `json:"n8n_enabled"`
	N8NBaseURL  string            `json:"n8n_base_url"`
}

// SaveSettings applies a settings update and persists it
func (h *Handler) SaveSettings(c *gin.Context) {
	var req SaveSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.InvalidRequest(c, "Invalid request body", err.Error())
		return
	}

	if req.LLMProvider != "" {
		if err := h.ConfigService.UpdateLLMConfig(req.LLMProvider, req.LLMConfig, "web_ui"); err != nil {
			h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid,
				"Failed to update LLM settings", err.Error())
			return
		}
	}

	if req.DemoMode != nil {
		if err := h.ConfigService.SetDemoMode(*req.DemoMode); err != nil {
			h.Response.InternalError(c, "Failed to update demo mode", err.Error())
			return
		}
	}

	if req.N8NEnabled != nil {
		if err := h.ConfigService.UpdateN8NConfig(*req.N8NEnabled, req.N8NBaseURL); err != nil {
			h.Response.InternalError(c, "Failed to update n8n settings", err.Error())
			return
		}
	}

	h.Response.Success(c, h.ConfigService.SanitizedView(), "Settings saved")
}

// TestConnection verifies that the configured LLM provider answers
func (h *Handler) TestConnection(c *gin.Context) {
	llmService := h.getLLMService()
	if llmService == nil {
		h.Response.InternalError(c, "LLM service not available")
		return
	}

	if !llmService.IsReady() {
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorConnectionFailed,
			"LLM service is not ready", llmService.GetReadyState())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := llmService.TestConnection(ctx); err != nil {
		h.Response.Error(c, http.StatusServiceUnavailable, "CONNECTION_TEST_FAILED",
			"Connection test failed", err.Error())
		return
	}

	h.Response.Success(c, gin.H{
		"provider": llmService.GetProviderName(),
		"status":   "connected",
	}, "Connection test passed")
}

// ===============================
// Stats
// ===============================

// GetStats returns usage counters and the metrics snapshot
func (h *Handler) GetStats(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"usage":   h.StatsService.GetUsageStats(),
		"metrics": utils.GetMetricsCollector().GetMetrics(),
	}, "Stats retrieved")
}

// ===============================
// WebSocket
// ===============================

// TimelineWebSocket upgrades the connection and streams timeline events
func (h *Handler) TimelineWebSocket(c *gin.Context) {
	h.WebSocketHandler.TimelineWebSocket(c)
}

// GetWebSocketStatus reports hub connection state, for debugging
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	status := timelineHub.GetStatus()
	status["timestamp"] = time.Now().Format(time.RFC3339)

	c.JSON(http.StatusOK, status)
}

// ===============================
// Helpers
// ===============================

// respondPatchError maps patch failures onto the API contract:
// structural problems are 400s, application failures are 422s.
func (h *Handler) respondPatchError(c *gin.Context, err error) bool {
	var validationErr *scenegraph.ValidationError
	if errors.As(err, &validationErr) {
		h.Response.Error(c, http.StatusBadRequest, ErrorPatchValidationFailed,
			"Patch validation failed", err.Error())
		return true
	}

	var applyErr *scenegraph.ApplyError
	if errors.As(err, &applyErr) {
		h.Response.Unprocessable(c, ErrorPatchApplyFailed,
			"Patch could not be applied", err.Error())
		return true
	}

	return false
}

// boolOrDefault resolves an optional boolean request field
func boolOrDefault(value *bool, defaultValue bool) bool {
	if value == nil {
		return defaultValue
	}
	return *value
}

// getLLMService pulls the LLM service from the container. It is not a
// constructor dependency because the handler only needs it for health
// and connection checks.
func (h *Handler) getLLMService() *services.LLMService {
	llmService, ok := di.GetContainer().Get("llm").(*services.LLMService)
	if !ok {
		return nil
	}
	return llmService
}

// getN8NClient pulls the n8n client from the container
func (h *Handler) getN8NClient() *workflow.N8NClient {
	client, ok := di.GetContainer().Get("n8n").(*workflow.N8NClient)
	if !ok {
		return nil
	}
	return client
}
