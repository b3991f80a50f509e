// internal/services/export_service.go
package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"strings"
	"time"

	"golang.org/x/image/tiff"

	apperrors "github.com/FormatLab/FormatLabStudio/internal/errors"
	"github.com/FormatLab/FormatLabStudio/internal/models"
	"github.com/FormatLab/FormatLabStudio/internal/storage"
	"github.com/FormatLab/FormatLabStudio/internal/utils"
	"github.com/FormatLab/FormatLabStudio/internal/workflow"
)

// ExportOptions describes one export request.
type ExportOptions struct {
	RunID        string
	SceneJSON    map[string]any
	PatchJSON    []map[string]any
	OutputURLs   []string
	Include16Bit bool
}

// ExportService builds downloadable run bundles. The n8n export workflow is
// preferred when enabled; the local zip builder covers everything else, so
// an export request always produces a bundle when the input is valid.
type ExportService struct {
	n8n      *workflow.N8NClient
	timeline *TimelineService
	files    *storage.FileStorage
	stats    *StatsService
	logger   *utils.Logger
	metrics  *utils.StudioMetrics
}

// NewExportService creates an export service. n8n and stats may be nil.
func NewExportService(n8n *workflow.N8NClient, timeline *TimelineService, files *storage.FileStorage, stats *StatsService) *ExportService {
	return &ExportService{
		n8n:      n8n,
		timeline: timeline,
		files:    files,
		stats:    stats,
		logger:   utils.GetLogger(),
		metrics:  utils.NewStudioMetrics(),
	}
}

// ExportRun builds the zip bundle for a run. Orchestrator failures degrade
// to the local builder instead of failing the request.
func (s *ExportService) ExportRun(ctx context.Context, opts ExportOptions) (*models.ExportBundle, error) {
	if opts.RunID == "" {
		return nil, apperrors.NewValidationError("run_id is required", nil)
	}
	if opts.SceneJSON == nil {
		return nil, apperrors.NewValidationError("scene_json is required", nil)
	}

	if s.n8n != nil && s.n8n.Enabled() {
		bundle, err := s.exportViaWorkflow(ctx, opts)
		if err == nil {
			s.recordExport(bundle)
			return bundle, nil
		}
		s.logger.Warn("n8n export failed, building bundle locally", map[string]any{
			"run_id": opts.RunID,
			"error":  err.Error(),
		})
		s.metrics.RecordError("n8n_export", "export_service")
	}

	bundle, err := s.buildLocalBundle(opts)
	if err != nil {
		return nil, err
	}
	s.recordExport(bundle)
	return bundle, nil
}

func (s *ExportService) recordExport(bundle *models.ExportBundle) {
	if s.stats != nil {
		s.stats.RecordExport(bundle.Source)
	}
	s.metrics.RecordExport(bundle.Source, bundle.Size)
}

// exportViaWorkflow delegates bundle assembly to the n8n export workflow,
// which answers with {zip_base64, filename}.
func (s *ExportService) exportViaWorkflow(ctx context.Context, opts ExportOptions) (*models.ExportBundle, error) {
	result, err := s.n8n.ExportBundle(ctx, opts.RunID, opts.SceneJSON, opts.PatchJSON, opts.OutputURLs, opts.Include16Bit)
	if err != nil {
		return nil, err
	}

	encoded, _ := result["zip_base64"].(string)
	if encoded == "" {
		return nil, fmt.Errorf("export workflow returned no zip data")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("export workflow returned invalid base64: %w", err)
	}

	filename, _ := result["filename"].(string)
	if filename == "" {
		filename = exportFilename(opts.RunID)
	}

	return &models.ExportBundle{
		Filename: filename,
		Data:     data,
		Source:   "n8n",
		Size:     len(data),
	}, nil
}

// buildLocalBundle assembles the zip in memory: scene.json, patch.json when
// present, a manifest, any render files still on disk, and optional 16-bit
// TIFF masters upsampled from the 8-bit renders.
func (s *ExportService) buildLocalBundle(opts ExportOptions) (*models.ExportBundle, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	sceneData, err := json.MarshalIndent(opts.SceneJSON, "", "  ")
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to serialize scene", apperrors.ErrorTypeError)
	}
	if err := writeZipFile(zw, "scene.json", sceneData); err != nil {
		return nil, err
	}

	files := []string{"scene.json"}

	if len(opts.PatchJSON) > 0 {
		patchData, err := json.MarshalIndent(opts.PatchJSON, "", "  ")
		if err != nil {
			return nil, apperrors.WrapError(err, "failed to serialize patch", apperrors.ErrorTypeError)
		}
		if err := writeZipFile(zw, "patch.json", patchData); err != nil {
			return nil, err
		}
		files = append(files, "patch.json")
	}

	for _, url := range opts.OutputURLs {
		name := path.Base(url)
		if name == "" || name == "." || name == "/" {
			continue
		}

		data, err := s.files.LoadFile(outputsDir, name)
		if err != nil {
			// renders may have been cleaned up, the bundle stays useful
			s.logger.Warn("render file missing from export", map[string]any{
				"run_id": opts.RunID,
				"file":   name,
			})
			continue
		}

		entryName := "renders/" + name
		if err := writeZipFile(zw, entryName, data); err != nil {
			return nil, err
		}
		files = append(files, entryName)

		if opts.Include16Bit {
			master, err := upsampleTo16Bit(data)
			if err != nil {
				s.logger.Warn("failed to build 16-bit master", map[string]any{
					"file":  name,
					"error": err.Error(),
				})
				continue
			}
			masterName := "masters/" + strings.TrimSuffix(name, path.Ext(name)) + "_16bit.tif"
			if err := writeZipFile(zw, masterName, master); err != nil {
				return nil, err
			}
			files = append(files, masterName)
		}
	}

	manifest := map[string]any{
		"run_id":       opts.RunID,
		"exported_at":  time.Now().UTC().Format(time.RFC3339),
		"generated_by": "FormatLab Studio",
		"files":        files,
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to serialize manifest", apperrors.ErrorTypeError)
	}
	if err := writeZipFile(zw, "manifest.json", manifestData); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, apperrors.WrapError(err, "failed to finalize export archive", apperrors.ErrorTypeError)
	}

	return &models.ExportBundle{
		Filename: exportFilename(opts.RunID),
		Data:     buf.Bytes(),
		Source:   "local",
		Size:     buf.Len(),
	}, nil
}

// Info reports what is known about a run from the timeline and which of its
// render files are still present on disk.
func (s *ExportService) Info(runID string) (*models.ExportInfo, error) {
	if runID == "" {
		return nil, apperrors.NewValidationError("run_id is required", nil)
	}

	entry, err := s.timeline.ByRunID(runID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return &models.ExportInfo{
				RunID:            runID,
				Found:            false,
				AvailableOutputs: []string{},
				Message:          "No timeline entry for this run",
			}, nil
		}
		return nil, err
	}

	available := make([]string, 0, len(entry.OutputURLs))
	for _, url := range entry.OutputURLs {
		name := path.Base(url)
		if s.files.FileExists(outputsDir, name) {
			available = append(available, url)
		}
	}

	return &models.ExportInfo{
		RunID:            runID,
		Found:            true,
		PatchSummary:     entry.PatchSummary,
		Timestamp:        entry.Timestamp,
		AvailableOutputs: available,
		Message:          fmt.Sprintf("%d of %d outputs available for export", len(available), len(entry.OutputURLs)),
	}, nil
}

func writeZipFile(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return apperrors.WrapError(err, "failed to create archive entry", apperrors.ErrorTypeError)
	}
	if _, err := w.Write(data); err != nil {
		return apperrors.WrapError(err, "failed to write archive entry", apperrors.ErrorTypeError)
	}
	return nil
}

func exportFilename(runID string) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("formatlab_export_%s.zip", short)
}

// upsampleTo16Bit decodes an 8-bit render and re-encodes it as a 16-bit
// TIFF. Each channel value v becomes v<<8|v, spreading the 8-bit range
// across the full 16-bit space.
func upsampleTo16Bit(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode render: %w", err)
	}

	bounds := src.Bounds()
	dst := image.NewNRGBA64(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			dst.SetNRGBA64(x, y, color.NRGBA64{
				R: widen(c.R),
				G: widen(c.G),
				B: widen(c.B),
				A: widen(c.A),
			})
		}
	}

	var buf bytes.Buffer
	if err := tiff.Encode(&buf, dst, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return nil, fmt.Errorf("failed to encode tiff: %w", err)
	}
	return buf.Bytes(), nil
}

func widen(v uint8) uint16 {
	return uint16(v)<<8 | uint16(v)
}
