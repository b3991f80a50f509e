// internal/services/scene_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FormatLab/FormatLabStudio/internal/config"
	apperrors "github.com/FormatLab/FormatLabStudio/internal/errors"
	"github.com/FormatLab/FormatLabStudio/internal/models"
	"github.com/FormatLab/FormatLabStudio/internal/storage"
	"github.com/FormatLab/FormatLabStudio/internal/utils"
	"github.com/FormatLab/FormatLabStudio/internal/workflow"
)

const (
	uploadsDir    = "uploads"
	MaxUploadSize = 50 << 20 // 50 MB
)

var allowedImageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".tiff": true,
}

// SceneService turns uploaded images into scene graphs. The n8n analyze
// workflow does real image understanding when enabled; otherwise (and in
// demo mode) a deterministic demo scene is derived from the upload.
type SceneService struct {
	n8n    *workflow.N8NClient
	files  *storage.FileStorage
	logger *utils.Logger
}

// NewSceneService creates a scene service. n8n may be nil.
func NewSceneService(n8n *workflow.N8NClient, files *storage.FileStorage) *SceneService {
	return &SceneService{
		n8n:    n8n,
		files:  files,
		logger: utils.GetLogger(),
	}
}

// AnalyzeUpload stores the uploaded image and extracts a scene graph from
// it. filename is the client-supplied name, used for extension checks and
// scene metadata only; the stored file gets a fresh UUID name.
func (s *SceneService) AnalyzeUpload(ctx context.Context, filename string, size int64, r io.Reader) (*models.AnalysisResult, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedImageExts[ext] {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported file type %q, expected png/jpg/jpeg/webp/tiff", ext), nil)
	}
	if size > MaxUploadSize {
		return nil, apperrors.NewValidationError("file exceeds the 50 MB upload limit", nil)
	}

	content, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to read upload", apperrors.ErrorTypeError)
	}
	if len(content) > MaxUploadSize {
		return nil, apperrors.NewValidationError("file exceeds the 50 MB upload limit", nil)
	}

	uploadID := uuid.New().String()
	storedName := uploadID + ext
	if err := s.files.SaveFile(uploadsDir, storedName, content); err != nil {
		return nil, apperrors.WrapError(err, "failed to save upload", apperrors.ErrorTypeError)
	}
	storedPath := s.files.FullPath(uploadsDir, storedName)

	fileSize := int64(len(content))

	demoMode := config.GetCurrentConfig().DemoMode
	if !demoMode && s.n8n != nil && s.n8n.Enabled() {
		scene, err := s.analyzeViaWorkflow(ctx, storedPath, filename, fileSize)
		if err == nil {
			return &models.AnalysisResult{
				UploadID:   uploadID,
				FilePath:   storedPath,
				FileSize:   fileSize,
				SceneGraph: scene,
				Message:    "Image analyzed successfully",
			}, nil
		}
		s.logger.Warn("n8n analysis failed, using demo scene", map[string]any{
			"upload_id": uploadID,
			"error":     err.Error(),
		})
	}

	return &models.AnalysisResult{
		UploadID:   uploadID,
		FilePath:   storedPath,
		FileSize:   fileSize,
		SceneGraph: demoScene(uploadID, filename, storedPath),
		Message:    "Image analyzed successfully (demo mode)",
	}, nil
}

func (s *SceneService) analyzeViaWorkflow(ctx context.Context, storedPath, filename string, size int64) (map[string]any, error) {
	result, err := s.n8n.AnalyzeImage(ctx, storedPath, filename, size)
	if err != nil {
		return nil, err
	}

	scene, ok := result["scene_graph"].(map[string]any)
	if !ok || len(scene) == 0 {
		return nil, fmt.Errorf("analyze workflow returned no scene graph")
	}
	return scene, nil
}

// demoScene builds the deterministic analysis stub: a neutral studio setup
// seeded from the stored path, so re-analyzing the same upload always yields
// the same scene.
func demoScene(uploadID, filename, storedPath string) map[string]any {
	short := uploadID
	if len(short) > 8 {
		short = short[:8]
	}

	return map[string]any{
		"version":      "1.0",
		"id":           "scene_" + short,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"name":         "Analyzed from " + filename,
		"seed":         hashSeed([]byte(storedPath), 10000),
		"source_image": storedPath,
		"subject": map[string]any{
			"description": "Professional scene with careful composition",
			"style":       "photorealistic",
			"position": map[string]any{
				"x": 0,
				"y": 0,
				"z": 0,
			},
		},
		"camera": map[string]any{
			"lens_mm":        50,
			"fov":            48,
			"angle":          0,
			"tilt":           0,
			"depth_of_field": 0.5,
		},
		"lighting": map[string]any{
			"key": map[string]any{
				"angle":       45,
				"intensity":   0.85,
				"color":       "#FFFFFF",
				"temperature": 5500,
			},
			"fill": map[string]any{
				"intensity": 0.35,
				"angle":     315,
			},
			"rim": map[string]any{
				"intensity": 0.4,
				"color":     "#FFFFFF",
			},
			"ambient": 0.25,
		},
		"color": map[string]any{
			"palette":     []any{"#1a1a1a", "#4a9eff", "#ffffff", "#e8e8e8"},
			"temperature": 50,
			"saturation":  0.75,
			"contrast":    0.65,
			"vibrance":    0.5,
		},
		"constraints": map[string]any{
			"lock_subject_identity": true,
			"lock_composition":      false,
			"lock_palette":          false,
			"negative_constraints":  []any{"blurry", "distorted"},
		},
		"metadata": map[string]any{
			"source_file":   filename,
			"upload_id":     uploadID,
			"analysis_mode": "demo_stub",
		},
	}
}

// ListOutputs returns the URLs of generated render files currently on disk.
func (s *SceneService) ListOutputs() ([]string, error) {
	files, err := s.files.ListFiles(outputsDir)
	if err != nil {
		// nothing generated yet
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, apperrors.WrapError(err, "failed to list outputs", apperrors.ErrorTypeError)
	}

	outputs := make([]string, 0, len(files))
	for _, name := range files {
		switch strings.ToLower(filepath.Ext(name)) {
		case ".png", ".jpg", ".jpeg", ".tif", ".tiff":
			outputs = append(outputs, outputURLPrefix+name)
		}
	}
	return outputs, nil
}
