// internal/api/router_test.go
package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FormatLab/FormatLabStudio/internal/config"
	"github.com/FormatLab/FormatLabStudio/internal/di"
	"github.com/FormatLab/FormatLabStudio/internal/services"
	"github.com/FormatLab/FormatLabStudio/internal/storage"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	// An inherited DEMO_MODE would change handler behavior, every test
	// pins its own configuration through InitConfig instead.
	os.Unsetenv("DEMO_MODE")

	os.Exit(m.Run())
}

// newTestRouter wires real services over a temp directory into the DI
// container and builds the full route table.
func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	storageDir := t.TempDir()
	t.Setenv("STORAGE_DIR", storageDir)
	t.Setenv("TIMELINE_PATH", filepath.Join(storageDir, "timeline.jsonl"))
	require.NoError(t, config.InitConfig(storageDir))

	files, err := storage.NewFileStorage(storageDir)
	require.NoError(t, err)

	store, err := storage.NewTimelineStore(filepath.Join(storageDir, "timeline.jsonl"))
	require.NoError(t, err)

	stats := services.NewStatsService(filepath.Join(storageDir, "stats"))
	t.Cleanup(func() { stats.Close() })

	timeline := services.NewTimelineService(store, stats)

	container := di.GetContainer()
	container.Register("config", services.NewConfigService())
	container.Register("stats", stats)
	container.Register("llm", services.NewEmptyLLMService())
	container.Register("timeline", timeline)
	container.Register("scene", services.NewSceneService(nil, files))
	container.Register("translator", services.NewTranslatorService(nil, stats, false, 0))
	container.Register("generation", services.NewGenerationService(nil, timeline, files, stats))
	container.Register("export", services.NewExportService(nil, timeline, files, stats))

	// Workflow tests register their own client when they need one
	container.Remove("n8n")

	router, err := SetupRouter()
	require.NoError(t, err)

	return router
}

// performJSON sends a JSON request through the router
func performJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = raw
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// performGET sends a GET request through the router
func performGET(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// performUpload sends a multipart file upload through the router
func performUpload(t *testing.T, router http.Handler, path, field, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// decodeEnvelope parses the standard response envelope
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) *APIResponse {
	t.Helper()

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "body: %s", rec.Body.String())
	return &resp
}

// envelopeData asserts a success envelope and returns its data object
func envelopeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	resp := decodeEnvelope(t, rec)
	require.True(t, resp.Success, "body: %s", rec.Body.String())

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok, "expected object data, body: %s", rec.Body.String())
	return data
}

// envelopeError asserts an error envelope with the given status and code
func envelopeError(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int, wantCode string) *APIError {
	t.Helper()

	require.Equal(t, wantStatus, rec.Code, "body: %s", rec.Body.String())

	resp := decodeEnvelope(t, rec)
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error, "body: %s", rec.Body.String())
	assert.Equal(t, wantCode, resp.Error.Code)
	return resp.Error
}

// apiScene builds a scene document in the canonical schema
func apiScene() map[string]any {
	return map[string]any{
		"scene_id": "scene_api_test",
		"camera": map[string]any{
			"lens_mm":        50.0,
			"fov":            48.0,
			"depth_of_field": 0.5,
		},
		"lighting": map[string]any{
			"key": map[string]any{
				"angle":     45.0,
				"intensity": 0.85,
			},
		},
		"color": map[string]any{
			"palette":     []any{"#FF9966", "#224477"},
			"temperature": 50.0,
			"saturation":  0.75,
		},
		"constraints": map[string]any{
			"lock_subject_identity": true,
			"lock_composition":      false,
		},
	}
}

// ===============================
// Root and health
// ===============================

func TestBannerEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rec := performGET(t, router, "/")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, "FormatLab Studio", body["app"])
	assert.Equal(t, config.AppVersion, body["version"])
	assert.Equal(t, "/v1/health", body["health"])
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/health", "/v1/health"} {
		rec := performGET(t, router, path)
		require.Equal(t, http.StatusOK, rec.Code, path)

		// Flat body without the envelope so probes can read it directly
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

		assert.Equal(t, "ok", body["status"], path)
		assert.Equal(t, "FormatLab Studio", body["app"], path)
		assert.Equal(t, "development", body["environment"], path)
		assert.Equal(t, false, body["llm_ready"], path)
		assert.Equal(t, false, body["n8n_enabled"], path)
		assert.Equal(t, false, body["fibo_configured"], path)
		assert.NotEmpty(t, body["timestamp"], path)
	}
}
