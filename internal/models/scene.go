// internal/models/scene.go
package models

// AnalysisResult is returned after an image upload was analyzed into a
// scene document.
type AnalysisResult struct {
	UploadID   string         `json:"upload_id"`
	FilePath   string         `json:"file_path"`
	FileSize   int64          `json:"file_size"`
	SceneGraph map[string]any `json:"scene_graph"`
	Message    string         `json:"message"`
}
