// internal/services/export_service_test.go
package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/image/tiff"

	apperrors "github.com/FormatLab/FormatLabStudio/internal/errors"
	"github.com/FormatLab/FormatLabStudio/internal/models"
	"github.com/FormatLab/FormatLabStudio/internal/workflow"
)

// exportFixture owns a generation pipeline so export tests work against
// real render files and timeline entries.
type exportFixture struct {
	*generationFixture
	export *ExportService
}

func newExportFixture(t *testing.T, n8n *workflow.N8NClient) *exportFixture {
	t.Helper()

	gen := newGenerationFixture(t, nil)
	return &exportFixture{
		generationFixture: gen,
		export:            NewExportService(n8n, gen.timeline, gen.files, nil),
	}
}

func (fx *exportFixture) generateRun(t *testing.T, seed int) *models.GenerationResult {
	t.Helper()

	result, err := fx.svc.Generate(context.Background(), baseTestScene(), GenerateOptions{Seed: seedPtr(seed)})
	require.NoError(t, err)
	return result
}

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	entries := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		entries[f.Name] = content
	}
	return entries
}

func TestExportLocalBundle(t *testing.T) {
	fx := newExportFixture(t, nil)
	run := fx.generateRun(t, 5)

	patch := []map[string]any{{"op": "replace", "path": "/color/temperature", "value": 75}}
	bundle, err := fx.export.ExportRun(context.Background(), ExportOptions{
		RunID:      run.RunID,
		SceneJSON:  run.SceneUsed,
		PatchJSON:  patch,
		OutputURLs: run.OutputURLs,
	})
	require.NoError(t, err)

	assert.Equal(t, "local", bundle.Source)
	assert.Equal(t, "formatlab_export_"+run.RunID[:8]+".zip", bundle.Filename)
	assert.Equal(t, len(bundle.Data), bundle.Size)

	entries := readZip(t, bundle.Data)
	require.Contains(t, entries, "scene.json")
	require.Contains(t, entries, "patch.json")
	require.Contains(t, entries, "renders/demo_output_5_0.png")
	require.Contains(t, entries, "manifest.json")
	assert.NotContains(t, entries, "masters/demo_output_5_0_16bit.tif")

	var scene map[string]any
	require.NoError(t, json.Unmarshal(entries["scene.json"], &scene))
	assert.Contains(t, scene, "camera")

	var manifest map[string]any
	require.NoError(t, json.Unmarshal(entries["manifest.json"], &manifest))
	assert.Equal(t, run.RunID, manifest["run_id"])
	assert.Equal(t, "FormatLab Studio", manifest["generated_by"])
	files, ok := manifest["files"].([]any)
	require.True(t, ok)
	assert.Contains(t, files, "scene.json")
	assert.Contains(t, files, "renders/demo_output_5_0.png")
}

func TestExportInclude16BitMasters(t *testing.T) {
	fx := newExportFixture(t, nil)
	run := fx.generateRun(t, 6)

	bundle, err := fx.export.ExportRun(context.Background(), ExportOptions{
		RunID:        run.RunID,
		SceneJSON:    run.SceneUsed,
		OutputURLs:   run.OutputURLs,
		Include16Bit: true,
	})
	require.NoError(t, err)

	entries := readZip(t, bundle.Data)
	master, ok := entries["masters/demo_output_6_0_16bit.tif"]
	require.True(t, ok)

	img, err := tiff.Decode(bytes.NewReader(master))
	require.NoError(t, err)
	assert.Equal(t, 512, img.Bounds().Dx())
	assert.Equal(t, 512, img.Bounds().Dy())
}

func TestExportSkipsMissingRenders(t *testing.T) {
	fx := newExportFixture(t, nil)

	bundle, err := fx.export.ExportRun(context.Background(), ExportOptions{
		RunID:      "run-without-files",
		SceneJSON:  baseTestScene(),
		OutputURLs: []string{"/outputs/long_gone.png"},
	})
	require.NoError(t, err)

	entries := readZip(t, bundle.Data)
	assert.Contains(t, entries, "scene.json")
	assert.Contains(t, entries, "manifest.json")
	assert.NotContains(t, entries, "renders/long_gone.png")
	assert.NotContains(t, entries, "patch.json")
}

func TestExportValidation(t *testing.T) {
	fx := newExportFixture(t, nil)

	_, err := fx.export.ExportRun(context.Background(), ExportOptions{SceneJSON: baseTestScene()})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))

	_, err = fx.export.ExportRun(context.Background(), ExportOptions{RunID: "abc"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestExportViaWorkflow(t *testing.T) {
	zipBytes := buildTinyZip(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/webhook/export", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "run-42", payload["run_id"])
		assert.Contains(t, payload, "_api_keys")

		json.NewEncoder(w).Encode(map[string]any{
			"zip_base64": base64.StdEncoding.EncodeToString(zipBytes),
			"filename":   "orchestrated.zip",
		})
	}))
	defer server.Close()

	n8n := workflow.NewN8NClient(server.URL, true, "fibo-key", "cerebras-key")
	fx := newExportFixture(t, n8n)

	bundle, err := fx.export.ExportRun(context.Background(), ExportOptions{
		RunID:     "run-42",
		SceneJSON: baseTestScene(),
	})
	require.NoError(t, err)

	assert.Equal(t, "n8n", bundle.Source)
	assert.Equal(t, "orchestrated.zip", bundle.Filename)
	assert.Equal(t, zipBytes, bundle.Data)
}

func TestExportWorkflowFailureFallsBackLocal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "workflow crashed", http.StatusInternalServerError)
	}))
	defer server.Close()

	n8n := workflow.NewN8NClient(server.URL, true, "", "")
	fx := newExportFixture(t, n8n)

	bundle, err := fx.export.ExportRun(context.Background(), ExportOptions{
		RunID:     "run-43",
		SceneJSON: baseTestScene(),
	})
	require.NoError(t, err)

	assert.Equal(t, "local", bundle.Source)
	entries := readZip(t, bundle.Data)
	assert.Contains(t, entries, "scene.json")
}

func TestExportInfo(t *testing.T) {
	fx := newExportFixture(t, nil)
	run := fx.generateRun(t, 11)

	info, err := fx.export.Info(run.RunID)
	require.NoError(t, err)
	assert.True(t, info.Found)
	assert.Equal(t, run.OutputURLs, info.AvailableOutputs)
	assert.Equal(t, "1 of 1 outputs available for export", info.Message)

	require.NoError(t, fx.files.DeleteFile("outputs", "demo_output_11_0.png"))
	info, err = fx.export.Info(run.RunID)
	require.NoError(t, err)
	assert.True(t, info.Found)
	assert.Empty(t, info.AvailableOutputs)
	assert.Equal(t, "0 of 1 outputs available for export", info.Message)
}

func TestExportInfoUnknownRun(t *testing.T) {
	fx := newExportFixture(t, nil)

	info, err := fx.export.Info("never-ran")
	require.NoError(t, err)
	assert.False(t, info.Found)
	assert.Equal(t, "No timeline entry for this run", info.Message)

	_, err = fx.export.Info("")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
}

func buildTinyZip(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("scene.json")
	require.NoError(t, err)
	_, err = w.Write([]byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
