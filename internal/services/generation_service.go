// internal/services/generation_service.go
package services

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/FormatLab/FormatLabStudio/internal/config"
	apperrors "github.com/FormatLab/FormatLabStudio/internal/errors"
	"github.com/FormatLab/FormatLabStudio/internal/models"
	"github.com/FormatLab/FormatLabStudio/internal/scenegraph"
	"github.com/FormatLab/FormatLabStudio/internal/storage"
	"github.com/FormatLab/FormatLabStudio/internal/utils"
	"github.com/FormatLab/FormatLabStudio/internal/workflow"
)

const (
	outputsDir       = "outputs"
	placeholderSize  = 512
	outputURLPrefix  = "/outputs/"
	defaultSeedSpace = 100000
)

// TimelineNotifier receives appended timeline entries for live feeds.
// The websocket hub implements this on the API side.
type TimelineNotifier interface {
	NotifyRunRecorded(entry *models.TimelineEntry)
}

// GenerateOptions controls one generation run.
type GenerateOptions struct {
	// Patch is an optional RFC6902 patch applied to the base scene before
	// rendering when ApplyPatch is set.
	Patch      []map[string]any
	ApplyPatch bool
	// Seed pins the run to a specific seed. When nil the seed is derived
	// from the final scene content, so identical scenes render identically.
	Seed        *int
	NumVariants int
}

// GenerationService renders scene variants. It calls the FIBO API when a key
// is configured and falls back to a deterministic gradient placeholder when
// FIBO is unavailable or demo mode is on. Every run is appended to the
// timeline and pushed to live subscribers.
type GenerationService struct {
	fibo     *workflow.FIBOClient
	timeline *TimelineService
	files    *storage.FileStorage
	stats    *StatsService
	notifier TimelineNotifier
	logger   *utils.Logger
	metrics  *utils.StudioMetrics
}

// NewGenerationService creates a generation service. fibo, stats and
// notifier may be nil; a nil fibo pins every run to placeholder rendering.
func NewGenerationService(fibo *workflow.FIBOClient, timeline *TimelineService, files *storage.FileStorage, stats *StatsService) *GenerationService {
	return &GenerationService{
		fibo:     fibo,
		timeline: timeline,
		files:    files,
		stats:    stats,
		logger:   utils.GetLogger(),
		metrics:  utils.NewStudioMetrics(),
	}
}

// SetNotifier attaches a live feed for recorded runs.
func (s *GenerationService) SetNotifier(n TimelineNotifier) {
	s.notifier = n
}

// Generate renders numVariants images of the scene and records the run.
// Variant i renders with seed+i. Patch validation failures surface as
// scenegraph errors so the API layer can map them precisely; render backend
// failures never fail the run, they degrade to placeholders.
func (s *GenerationService) Generate(ctx context.Context, baseScene map[string]any, opts GenerateOptions) (*models.GenerationResult, error) {
	if baseScene == nil {
		return nil, apperrors.NewValidationError("base_scene is required", nil)
	}

	numVariants := opts.NumVariants
	if numVariants < 1 {
		numVariants = 1
	}

	start := time.Now()
	runID := uuid.New().String()

	finalScene := scenegraph.CopyDocument(baseScene)
	patchApplied := false
	if len(opts.Patch) > 0 && opts.ApplyPatch {
		patch := scenegraph.PatchFromMaps(opts.Patch)
		if err := scenegraph.Validate(patch); err != nil {
			return nil, err
		}
		applied, err := scenegraph.Apply(finalScene, patch)
		if err != nil {
			return nil, err
		}
		finalScene = applied
		patchApplied = true
		s.metrics.RecordPatchApplied(len(patch))
	}

	seed := 0
	if opts.Seed != nil {
		seed = *opts.Seed
	} else {
		seed = sceneSeed(finalScene)
	}

	demoMode := config.GetCurrentConfig().DemoMode

	outputURLs := make([]string, 0, numVariants)
	placeholderUsed := false
	for i := 0; i < numVariants; i++ {
		filename, data, isPlaceholder := s.renderVariant(ctx, finalScene, seed+i, i, demoMode)
		placeholderUsed = placeholderUsed || isPlaceholder

		if err := s.files.SaveFile(outputsDir, filename, data); err != nil {
			return nil, apperrors.WrapError(err, "failed to save rendered output", apperrors.ErrorTypeError)
		}
		outputURLs = append(outputURLs, outputURLPrefix+filename)
	}

	now := time.Now().UTC().Format(time.RFC3339)

	entry := &models.TimelineEntry{
		RunID:         runID,
		Timestamp:     now,
		Seed:          seed,
		SceneSnapshot: scenegraph.CopyDocument(finalScene),
		PatchSummary:  patchSummary(opts.Patch, patchApplied),
		OutputURLs:    outputURLs,
	}
	if err := s.timeline.Append(entry); err != nil {
		return nil, err
	}
	s.metrics.RecordTimelineAppend(runID)

	if s.notifier != nil {
		s.notifier.NotifyRunRecorded(entry)
	}
	if s.stats != nil {
		s.stats.RecordGeneration(len(outputURLs))
	}
	s.metrics.RecordGeneration(seed, numVariants, demoMode || placeholderUsed, time.Since(start))

	s.logger.Info("Generation run recorded", map[string]any{
		"run_id":       runID,
		"seed":         seed,
		"num_variants": numVariants,
		"placeholder":  placeholderUsed,
	})

	return &models.GenerationResult{
		RunID:       runID,
		Seed:        seed,
		NumVariants: numVariants,
		OutputURLs:  outputURLs,
		SceneUsed:   finalScene,
		Timestamp:   now,
		DemoMode:    demoMode,
	}, nil
}

// renderVariant produces one image. The FIBO path is attempted only when a
// key is configured and demo mode is off; everything else lands on the
// placeholder, which cannot fail.
func (s *GenerationService) renderVariant(ctx context.Context, scene map[string]any, seed, variantIndex int, demoMode bool) (string, []byte, bool) {
	if !demoMode && s.fibo != nil && s.fibo.Configured() {
		data, err := s.fibo.GenerateImage(ctx, scene, seed, variantIndex)
		if err == nil {
			return fmt.Sprintf("fibo_output_%d_%d.png", seed, variantIndex), data, false
		}
		s.logger.Warn("FIBO generation failed, using placeholder", map[string]any{
			"seed":    seed,
			"variant": variantIndex,
			"error":   err.Error(),
		})
		s.metrics.RecordError("fibo_generation", "generation_service")
	}

	return fmt.Sprintf("demo_output_%d_%d.png", seed, variantIndex), renderPlaceholder(seed, variantIndex), true
}

func patchSummary(patch []map[string]any, applied bool) string {
	if !applied || len(patch) == 0 {
		return "Direct generation (no patch)"
	}
	sections := scenegraph.TopLevelKeys(scenegraph.PatchFromMaps(patch))
	if len(sections) == 0 {
		return "Direct generation (no patch)"
	}
	return "Modified sections: " + strings.Join(sections, ", ")
}

// sceneSeed derives a stable seed from the scene content. Go serializes map
// keys in sorted order, so equal scenes always hash equally.
func sceneSeed(scene map[string]any) int {
	data, err := json.Marshal(scene)
	if err != nil {
		return 0
	}
	return hashSeed(data, defaultSeedSpace)
}

// hashSeed maps arbitrary bytes onto [0, mod).
func hashSeed(data []byte, mod uint64) int {
	sum := md5.Sum(data)
	return int(binary.BigEndian.Uint64(sum[:8]) % mod)
}

// renderPlaceholder draws the deterministic demo image: a blue gradient with
// the seed and variant stamped in the center.
func renderPlaceholder(seed, variantIndex int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, placeholderSize, placeholderSize))

	for y := 0; y < placeholderSize; y++ {
		value := uint8(float64(y)/float64(placeholderSize)*200 + 55)
		row := color.RGBA{R: value, G: uint8(float64(value) * 0.8), B: 255, A: 255}
		for x := 0; x < placeholderSize; x++ {
			img.SetRGBA(x, y, row)
		}
	}

	drawCenteredLines(img, []string{
		"FormatLab Studio Demo",
		fmt.Sprintf("Seed: %d", seed),
		fmt.Sprintf("Variant: %d", variantIndex),
	})

	var buf bytes.Buffer
	// encoding into a memory buffer cannot fail
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func drawCenteredLines(img *image.RGBA, lines []string) {
	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil() + 2
	center := placeholderSize / 2
	top := center - lineHeight*len(lines)/2 + face.Metrics().Ascent.Ceil()

	for i, line := range lines {
		width := font.MeasureString(face, line).Ceil()
		drawer := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(color.White),
			Face: face,
			Dot:  fixed.P(center-width/2, top+i*lineHeight),
		}
		drawer.DrawString(line)
	}
}
