// internal/models/translation.go
package models

// Translation sources: which translator produced the result.
const (
	TranslationSourceRules = "rules"
	TranslationSourceLLM   = "llm"
)

// TranslationResult is the outcome of translating a natural-language
// instruction into a scene update. UpdatedScene and Patch always describe
// the same transition: externally produced pairs are re-applied locally
// before they reach a caller.
type TranslationResult struct {
	TranslationID string           `json:"translation_id"`
	Instruction   string           `json:"instruction"`
	UpdatedScene  map[string]any   `json:"updated_scene"`
	Patch         []map[string]any `json:"patch,omitempty"`
	DiffSummary   string           `json:"diff_summary"`
	Confidence    float64          `json:"confidence"`
	Source        string           `json:"source"`
	Explanation   string           `json:"explanation,omitempty"`
}
