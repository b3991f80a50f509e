// internal/models/export.go
package models

// ExportBundle is a built (or orchestrator-returned) zip archive ready to
// stream to the client.
type ExportBundle struct {
	Filename string `json:"filename"`
	Data     []byte `json:"-"`
	Source   string `json:"source"` // "local" or "n8n"
	Size     int    `json:"size"`
}

// ExportInfo describes what is known about a previous run's exports.
type ExportInfo struct {
	RunID            string   `json:"run_id"`
	Found            bool     `json:"found"`
	PatchSummary     string   `json:"patch_summary,omitempty"`
	Timestamp        string   `json:"timestamp,omitempty"`
	AvailableOutputs []string `json:"available_exports"`
	Message          string   `json:"message"`
}
