// internal/models/generation.go
package models

// GenerationResult describes one generation run: the seed actually used,
// the scene the renderer saw (post-patch) and where the outputs landed.
type GenerationResult struct {
	RunID       string         `json:"run_id"`
	Seed        int            `json:"seed"`
	NumVariants int            `json:"num_variants"`
	OutputURLs  []string       `json:"output_urls"`
	SceneUsed   map[string]any `json:"scene_used"`
	Timestamp   string         `json:"timestamp"`
	DemoMode    bool           `json:"demo_mode"`
}
