// internal/workflow/n8n.go
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/FormatLab/FormatLabStudio/internal/utils"
)

// ErrWorkflowsDisabled means n8n delegation is switched off in config
var ErrWorkflowsDisabled = errors.New("n8n workflows are disabled")

// ErrUnavailable marks transport, status and decode failures so callers can
// tell a broken n8n instance apart from a disabled one
var ErrUnavailable = errors.New("n8n workflow unavailable")

// Per-workflow timeouts. Generation renders images and gets the long one.
const (
	analyzeTimeout   = 60 * time.Second
	translateTimeout = 30 * time.Second
	generateTimeout  = 180 * time.Second
	exportTimeout    = 60 * time.Second
	statusTimeout    = 10 * time.Second
)

// WorkflowTimeouts are the per-workflow call budgets.
type WorkflowTimeouts struct {
	Analyze   time.Duration
	Translate time.Duration
	Generate  time.Duration
	Export    time.Duration
	Status    time.Duration
}

// DefaultTimeouts returns the standard budgets.
func DefaultTimeouts() WorkflowTimeouts {
	return WorkflowTimeouts{
		Analyze:   analyzeTimeout,
		Translate: translateTimeout,
		Generate:  generateTimeout,
		Export:    exportTimeout,
		Status:    statusTimeout,
	}
}

// N8NClient delegates pipeline steps to n8n workflows via webhooks. Each
// workflow name maps to a webhook under <base>/webhook/<name>.
type N8NClient struct {
	baseURL     string
	webhookBase string
	apiKey      string
	enabled     bool
	httpClient  *http.Client
	logger      *utils.Logger
	timeouts    WorkflowTimeouts

	// Keys forwarded so the workflows can call the downstream APIs
	fiboAPIKey     string
	cerebrasAPIKey string
}

// NewN8NClient creates the workflow client
func NewN8NClient(baseURL string, enabled bool, fiboAPIKey, cerebrasAPIKey string) *N8NClient {
	return &N8NClient{
		baseURL:        baseURL,
		webhookBase:    baseURL + "/webhook",
		enabled:        enabled,
		httpClient:     &http.Client{},
		logger:         utils.GetLogger(),
		timeouts:       DefaultTimeouts(),
		fiboAPIKey:     fiboAPIKey,
		cerebrasAPIKey: cerebrasAPIKey,
	}
}

// SetWebhookBase overrides the derived <base>/webhook prefix. n8n cloud
// instances sometimes route webhooks through a separate host.
func (c *N8NClient) SetWebhookBase(base string) {
	if base != "" {
		c.webhookBase = base
	}
}

// SetAPIKey sets the key for the n8n REST API. Webhooks stay unauthenticated;
// the key is only needed for the status probe.
func (c *N8NClient) SetAPIKey(key string) {
	c.apiKey = key
}

// SetTimeouts overrides the default budgets. Zero fields keep their defaults.
func (c *N8NClient) SetTimeouts(t WorkflowTimeouts) {
	if t.Analyze > 0 {
		c.timeouts.Analyze = t.Analyze
	}
	if t.Translate > 0 {
		c.timeouts.Translate = t.Translate
	}
	if t.Generate > 0 {
		c.timeouts.Generate = t.Generate
	}
	if t.Export > 0 {
		c.timeouts.Export = t.Export
	}
	if t.Status > 0 {
		c.timeouts.Status = t.Status
	}
}

// Enabled reports whether workflow delegation is on
func (c *N8NClient) Enabled() bool {
	return c.enabled
}

// call posts a payload to the named workflow webhook
func (c *N8NClient) call(ctx context.Context, workflowName string, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	if !c.enabled {
		return nil, ErrWorkflowsDisabled
	}

	webhookURL := c.webhookBase + "/" + workflowName

	// The workflows call FIBO and Cerebras themselves
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["_api_keys"] = map[string]string{
		"FIBO_API_KEY":     c.fiboAPIKey,
		"CEREBRAS_API_KEY": c.cerebrasAPIKey,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, "POST", webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to call workflow %s: %w", ErrUnavailable, workflowName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: workflow %s error: %d - %s", ErrUnavailable, workflowName, resp.StatusCode, string(respBody))
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: workflow %s returned invalid JSON: %w", ErrUnavailable, workflowName, err)
	}

	return result, nil
}

// AnalyzeImage runs the analyze workflow for an uploaded image
func (c *N8NClient) AnalyzeImage(ctx context.Context, imageURL, fileName string, fileSize int64) (map[string]any, error) {
	return c.call(ctx, "analyze", map[string]any{
		"image_url": imageURL,
		"file_name": fileName,
		"file_size": fileSize,
	}, c.timeouts.Analyze)
}

// TranslateInstruction runs the translate workflow
func (c *N8NClient) TranslateInstruction(ctx context.Context, instruction string, currentScene map[string]any) (map[string]any, error) {
	return c.call(ctx, "translate", map[string]any{
		"instruction":   instruction,
		"current_scene": currentScene,
		"return_patch":  true,
	}, c.timeouts.Translate)
}

// GenerateImages runs the generate workflow with the already patched scene
func (c *N8NClient) GenerateImages(ctx context.Context, scene map[string]any, seed, numVariants int, patch []map[string]any) (map[string]any, error) {
	return c.call(ctx, "generate", map[string]any{
		"base_scene":   scene,
		"seed":         seed,
		"num_variants": numVariants,
		"patch":        patch,
		"apply_patch":  false,
	}, c.timeouts.Generate)
}

// ExportBundle runs the export workflow
func (c *N8NClient) ExportBundle(ctx context.Context, runID string, sceneJSON map[string]any, patchJSON []map[string]any, outputURLs []string, include16Bit bool) (map[string]any, error) {
	urls := outputURLs
	if urls == nil {
		urls = []string{}
	}
	return c.call(ctx, "export", map[string]any{
		"run_id":        runID,
		"scene_json":    sceneJSON,
		"patch_json":    patchJSON,
		"output_urls":   urls,
		"include_16bit": include16Bit,
	}, c.timeouts.Export)
}

// Status checks whether the n8n instance is reachable
func (c *N8NClient) Status(ctx context.Context) map[string]any {
	status := map[string]any{
		"n8n_url":    c.baseURL,
		"enabled":    c.enabled,
		"accessible": false,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}

	if !c.enabled {
		status["status"] = "disabled"
		return status
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeouts.Status)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, "GET", c.baseURL+"/api/v1/workflows", nil)
	if err != nil {
		status["status"] = "error"
		status["error"] = err.Error()
		return status
	}
	if c.apiKey != "" {
		req.Header.Set("X-N8N-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		status["status"] = "error"
		status["error"] = err.Error()
		return status
	}
	resp.Body.Close()

	status["status"] = "ok"
	status["accessible"] = true
	return status
}
