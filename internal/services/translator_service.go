// internal/services/translator_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/FormatLab/FormatLabStudio/internal/errors"
	"github.com/FormatLab/FormatLabStudio/internal/models"
	"github.com/FormatLab/FormatLabStudio/internal/scenegraph"
	"github.com/FormatLab/FormatLabStudio/internal/utils"
)

// translateSystemPrompt primes the model for scene-graph patch generation.
const translateSystemPrompt = `You are an expert at converting natural language instructions into JSON Patch operations for image generation scenes.

You have deep knowledge of:
- Camera settings (lens_mm: 14-300, fov: 10-120, angle, tilt, depth_of_field)
- Lighting (key, fill, rim with intensity: 0-1, angle, color, temperature)
- Color (palette: hex array, temperature: 0-100, saturation: 0-1, contrast: 0-1, vibrance: 0-1)
- Constraints (lock_subject_identity, lock_composition, lock_palette, negative_constraints)

Your task:
1. Parse the user's natural language instruction
2. Identify which SceneGraph properties need to change
3. Generate RFC6902 JSON Patch operations
4. Clamp numeric ranges to valid bounds
5. Return a JSON object with: patch (array), updated_scene (full scene), explanation (string), confidence (0-1)

IMPORTANT: Always output valid RFC6902 JSON Patch format. Each operation must have: op (add/remove/replace/move/copy/test), path (JSON pointer), and value.`

const translateUserPromptTemplate = `Current scene:
%s

User instruction: %s

Respond ONLY with valid JSON in this format:
{
    "patch": [...RFC6902 operations...],
    "updated_scene": {...full updated scene...},
    "explanation": "Brief description of what changed",
    "confidence": 0.95
}`

// llmTranslation is the structured payload the model is asked to produce.
// The patch stays raw so a malformed shape degrades to an empty patch
// instead of discarding the whole response; updated_scene is ignored
// entirely because the returned scene is always recomputed locally.
type llmTranslation struct {
	Patch       json.RawMessage `json:"patch"`
	Explanation string          `json:"explanation"`
	Confidence  *float64        `json:"confidence"`
}

// TranslateOptions controls a single translation request.
type TranslateOptions struct {
	// UseLLM allows the caller to force the rule-based path for this
	// request even when the LLM translator is configured.
	UseLLM bool
	// ReturnPatch includes the RFC6902 patch in the result.
	ReturnPatch bool
}

// TranslatorService turns natural-language instructions into scene updates.
// It prefers the LLM translator when one is configured and falls back to the
// deterministic rule table whenever the model is unavailable, returns broken
// JSON, or produces a patch that does not survive validation and re-apply.
type TranslatorService struct {
	llm     *LLMService
	stats   *StatsService
	logger  *utils.Logger
	metrics *utils.StudioMetrics

	useLLM  bool
	timeout time.Duration
}

// NewTranslatorService creates a translator. llm and stats may be nil; a nil
// or not-ready llm simply pins every request to the rule-based path.
func NewTranslatorService(llm *LLMService, stats *StatsService, useLLM bool, timeout time.Duration) *TranslatorService {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &TranslatorService{
		llm:     llm,
		stats:   stats,
		logger:  utils.GetLogger(),
		metrics: utils.NewStudioMetrics(),
		useLLM:  useLLM,
		timeout: timeout,
	}
}

// Translate converts an instruction into an updated scene. The result always
// carries a Source of "llm" or "rules" so callers can tell which path
// produced it. Errors are returned only for invalid input; translator
// failures degrade to the rule-based path instead of failing the request.
func (s *TranslatorService) Translate(ctx context.Context, scene map[string]any, instruction string, opts TranslateOptions) (*models.TranslationResult, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, apperrors.NewValidationError("instruction cannot be empty", nil)
	}
	if scene == nil {
		return nil, apperrors.NewValidationError("current_scene is required", nil)
	}

	start := time.Now()

	if opts.UseLLM && s.useLLM && s.llm != nil && s.llm.IsReady() {
		result, err := s.translateWithLLM(ctx, scene, instruction, opts.ReturnPatch)
		if err == nil {
			s.recordOutcome(result, start)
			return result, nil
		}

		s.logger.Warn("LLM translation failed, falling back to rules", map[string]any{
			"error":       err.Error(),
			"instruction": instruction,
		})
		if s.stats != nil {
			s.stats.RecordTranslationFallback()
		}
		s.metrics.RecordError("llm_translation", "translator_service")
	}

	result := s.translateWithRules(scene, instruction, opts.ReturnPatch)
	s.recordOutcome(result, start)
	return result, nil
}

// translateWithLLM asks the model for a patch and gates the answer: the
// patch must validate and apply cleanly against the current scene. The
// re-applied document is returned as the updated scene, so the patch and
// scene in the result can never disagree, whatever the model claimed.
func (s *TranslatorService) translateWithLLM(ctx context.Context, scene map[string]any, instruction string, returnPatch bool) (*models.TranslationResult, error) {
	sceneJSON, err := json.MarshalIndent(scene, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize scene: %w", err)
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	userPrompt := fmt.Sprintf(translateUserPromptTemplate, string(sceneJSON), instruction)

	var payload llmTranslation
	if err := s.llm.CompleteStructured(callCtx, translateSystemPrompt, userPrompt, &payload); err != nil {
		return nil, err
	}

	// A patch field that is not a list counts as no changes.
	var ops []map[string]any
	if len(payload.Patch) > 0 {
		if err := json.Unmarshal(payload.Patch, &ops); err != nil {
			ops = nil
		}
	}

	patch := scenegraph.PatchFromMaps(ops)
	if err := scenegraph.Validate(patch); err != nil {
		return nil, fmt.Errorf("model patch failed validation: %w", err)
	}

	applied, err := scenegraph.Apply(scene, patch)
	if err != nil {
		return nil, fmt.Errorf("model patch failed to apply: %w", err)
	}

	confidence := 0.9
	if payload.Confidence != nil {
		confidence = *payload.Confidence
	}
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	result := &models.TranslationResult{
		TranslationID: uuid.New().String(),
		Instruction:   instruction,
		UpdatedScene:  applied,
		DiffSummary:   summarizeSections(scenegraph.TopLevelKeys(patch)),
		Confidence:    confidence,
		Source:        models.TranslationSourceLLM,
		Explanation:   payload.Explanation,
	}
	if returnPatch {
		result.Patch = patch.Maps()
	}
	return result, nil
}

func (s *TranslatorService) translateWithRules(scene map[string]any, instruction string, returnPatch bool) *models.TranslationResult {
	rt := scenegraph.TranslateWithRules(scene, instruction)

	result := &models.TranslationResult{
		TranslationID: uuid.New().String(),
		Instruction:   instruction,
		UpdatedScene:  rt.UpdatedScene,
		DiffSummary:   rt.Summary,
		Confidence:    rt.Confidence,
		Source:        models.TranslationSourceRules,
	}
	if returnPatch {
		result.Patch = scenegraph.Generate(scene, rt.UpdatedScene).Maps()
	}
	return result
}

func (s *TranslatorService) recordOutcome(result *models.TranslationResult, start time.Time) {
	if s.stats != nil {
		s.stats.RecordTranslation(result.Source)
	}
	s.metrics.RecordTranslation(result.Source, result.Confidence, time.Since(start))
}

// summarizeSections mirrors the rule translator's summary format.
func summarizeSections(sections []string) string {
	if len(sections) == 0 {
		return "No changes"
	}
	return "Modified: " + strings.Join(sections, ", ")
}
