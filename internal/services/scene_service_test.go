// internal/services/scene_service_test.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FormatLab/FormatLabStudio/internal/config"
	apperrors "github.com/FormatLab/FormatLabStudio/internal/errors"
	"github.com/FormatLab/FormatLabStudio/internal/storage"
	"github.com/FormatLab/FormatLabStudio/internal/workflow"
)

func newSceneService(t *testing.T, n8n *workflow.N8NClient) (*SceneService, *storage.FileStorage) {
	t.Helper()

	files, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	return NewSceneService(n8n, files), files
}

func TestAnalyzeUploadDemoScene(t *testing.T) {
	svc, _ := newSceneService(t, nil)

	content := []byte("fake image bytes")
	result, err := svc.AnalyzeUpload(context.Background(), "Portrait.PNG", int64(len(content)), bytes.NewReader(content))
	require.NoError(t, err)

	assert.NotEmpty(t, result.UploadID)
	assert.Equal(t, int64(len(content)), result.FileSize)
	assert.Equal(t, "Image analyzed successfully (demo mode)", result.Message)

	// the upload itself landed on disk under a fresh name
	saved, err := os.ReadFile(result.FilePath)
	require.NoError(t, err)
	assert.Equal(t, content, saved)

	scene := result.SceneGraph
	assert.Equal(t, "scene_"+result.UploadID[:8], scene["id"])
	assert.Equal(t, "Analyzed from Portrait.PNG", scene["name"])

	camera := scene["camera"].(map[string]any)
	assert.EqualValues(t, 50, camera["lens_mm"])
	constraints := scene["constraints"].(map[string]any)
	assert.Equal(t, true, constraints["lock_subject_identity"])
	metadata := scene["metadata"].(map[string]any)
	assert.Equal(t, "demo_stub", metadata["analysis_mode"])
	assert.Equal(t, "Portrait.PNG", metadata["source_file"])

	seed, ok := scene["seed"].(int)
	require.True(t, ok)
	assert.GreaterOrEqual(t, seed, 0)
	assert.Less(t, seed, 10000)
}

func TestAnalyzeUploadDeterministicSeedPerPath(t *testing.T) {
	svc, _ := newSceneService(t, nil)

	first, err := svc.AnalyzeUpload(context.Background(), "a.png", 4, bytes.NewReader([]byte("aaaa")))
	require.NoError(t, err)
	second, err := svc.AnalyzeUpload(context.Background(), "a.png", 4, bytes.NewReader([]byte("aaaa")))
	require.NoError(t, err)

	// each upload is stored under its own UUID, so the seeds are
	// independent but each is reproducible from its stored path
	assert.NotEqual(t, first.UploadID, second.UploadID)
	assert.Equal(t, first.SceneGraph["seed"], hashSeed([]byte(first.FilePath), 10000))
}

func TestAnalyzeUploadRejectsBadExtension(t *testing.T) {
	svc, _ := newSceneService(t, nil)

	for _, name := range []string{"payload.exe", "noext", "archive.zip"} {
		_, err := svc.AnalyzeUpload(context.Background(), name, 10, bytes.NewReader([]byte("0123456789")))
		require.Error(t, err, name)
		assert.True(t, apperrors.IsValidationError(err), name)
	}
}

func TestAnalyzeUploadRejectsOversizedFile(t *testing.T) {
	svc, _ := newSceneService(t, nil)

	_, err := svc.AnalyzeUpload(context.Background(), "big.png", MaxUploadSize+1, bytes.NewReader(nil))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestAnalyzeUploadViaWorkflow(t *testing.T) {
	require.NoError(t, config.InitConfig(t.TempDir()))

	workflowScene := map[string]any{
		"version": "1.0",
		"subject": map[string]any{"description": "a red bicycle against a wall"},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/webhook/analyze", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "bike.jpg", payload["file_name"])

		json.NewEncoder(w).Encode(map[string]any{"scene_graph": workflowScene})
	}))
	defer server.Close()

	svc, _ := newSceneService(t, workflow.NewN8NClient(server.URL, true, "", ""))

	result, err := svc.AnalyzeUpload(context.Background(), "bike.jpg", 4, bytes.NewReader([]byte("jpeg")))
	require.NoError(t, err)

	assert.Equal(t, "Image analyzed successfully", result.Message)
	assert.Equal(t, workflowScene, result.SceneGraph)
}

func TestAnalyzeUploadWorkflowFailureFallsBack(t *testing.T) {
	require.NoError(t, config.InitConfig(t.TempDir()))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "analyzer offline", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc, _ := newSceneService(t, workflow.NewN8NClient(server.URL, true, "", ""))

	result, err := svc.AnalyzeUpload(context.Background(), "bike.jpg", 4, bytes.NewReader([]byte("jpeg")))
	require.NoError(t, err)

	assert.Equal(t, "Image analyzed successfully (demo mode)", result.Message)
	metadata := result.SceneGraph["metadata"].(map[string]any)
	assert.Equal(t, "demo_stub", metadata["analysis_mode"])
}

func TestListOutputs(t *testing.T) {
	svc, files := newSceneService(t, nil)

	// fresh install, nothing generated yet
	outputs, err := svc.ListOutputs()
	require.NoError(t, err)
	assert.Empty(t, outputs)

	require.NoError(t, files.SaveFile("outputs", "demo_output_1_0.png", []byte("png")))
	require.NoError(t, files.SaveFile("outputs", "notes.txt", []byte("not an image")))

	outputs, err = svc.ListOutputs()
	require.NoError(t, err)
	assert.Equal(t, []string{"/outputs/demo_output_1_0.png"}, outputs)
}
