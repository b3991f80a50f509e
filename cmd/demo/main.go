// cmd/demo/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/FormatLab/FormatLabStudio/internal/app"
	"github.com/FormatLab/FormatLabStudio/internal/config"
	"github.com/FormatLab/FormatLabStudio/internal/di"
	"github.com/FormatLab/FormatLabStudio/internal/scenegraph"
	"github.com/FormatLab/FormatLabStudio/internal/services"
)

// An offline walkthrough of the studio pipeline: translate an
// instruction, inspect the drift, render demo variants and export the
// bundle. Runs entirely without network access.
func main() {
	fmt.Println("🎬 FormatLab Studio Demo")
	fmt.Println("=================================")

	// Demo mode keeps every fallback local
	os.Setenv("DEMO_MODE", "true")

	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("❌ failed to load configuration: %v", err)
	}

	for _, dir := range []string{baseConfig.StorageDir, baseConfig.LogDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("❌ failed to create directory %s: %v", dir, err)
		}
	}

	if err := config.InitConfig(baseConfig.StorageDir); err != nil {
		log.Fatalf("❌ failed to initialize configuration: %v", err)
	}

	if err := app.InitServices(); err != nil {
		log.Fatalf("❌ failed to initialize services: %v", err)
	}

	ctx := context.Background()
	container := di.GetContainer()

	scene := demoScene()
	printSection("1. Base scene")
	printJSON(scene)

	// ------------------------------------------------
	// Translate a natural language instruction
	// ------------------------------------------------
	translator := container.Get("translator").(*services.TranslatorService)

	instruction := "make the lighting warmer and zoom in"
	printSection("2. Translate: " + fmt.Sprintf("%q", instruction))

	translation, err := translator.Translate(ctx, scene, instruction, services.TranslateOptions{
		UseLLM:      false,
		ReturnPatch: true,
	})
	if err != nil {
		log.Fatalf("❌ translation failed: %v", err)
	}

	fmt.Printf("Source: %s, confidence %.2f\n", translation.Source, translation.Confidence)
	fmt.Println(translation.Explanation)
	printJSON(translation.Patch)

	// ------------------------------------------------
	// Drift between base and updated scene
	// ------------------------------------------------
	printSection("3. Drift impact")

	impact := scenegraph.Impact(scene, translation.UpdatedScene)
	fmt.Printf("Drift score: %.3f, changes: %d\n", impact.DriftScore, impact.TotalChanges)
	fmt.Println(impact.Summary)

	bounds := map[string][2]float64{
		"color/temperature": {0, 100},
		"camera/lens_mm":    {10, 200},
	}
	bounded := scenegraph.BoundedDrift(scene, translation.UpdatedScene, bounds)
	fmt.Printf("Within bounds: %v, violations: %d\n", bounded.IsValid, len(bounded.BoundViolations))

	// ------------------------------------------------
	// Round trip through the patch engine
	// ------------------------------------------------
	printSection("4. Patch round trip")

	patch := scenegraph.Generate(scene, translation.UpdatedScene)
	reapplied, err := scenegraph.Apply(scene, patch)
	if err != nil {
		log.Fatalf("❌ patch apply failed: %v", err)
	}
	roundTrip := scenegraph.Generate(reapplied, translation.UpdatedScene)
	fmt.Printf("Generated %d operations, round trip drift: %d\n", len(patch), len(roundTrip))

	// ------------------------------------------------
	// Render demo variants
	// ------------------------------------------------
	printSection("5. Generate variants")

	generation := container.Get("generation").(*services.GenerationService)

	seed := 4242
	result, err := generation.Generate(ctx, scene, services.GenerateOptions{
		Patch:       translation.Patch,
		ApplyPatch:  true,
		Seed:        &seed,
		NumVariants: 2,
	})
	if err != nil {
		log.Fatalf("❌ generation failed: %v", err)
	}

	fmt.Printf("Run %s, seed %d, demo mode: %v\n", result.RunID, result.Seed, result.DemoMode)
	for _, url := range result.OutputURLs {
		fmt.Println("  " + url)
	}

	// ------------------------------------------------
	// Export the run
	// ------------------------------------------------
	printSection("6. Export bundle")

	export := container.Get("export").(*services.ExportService)

	bundle, err := export.ExportRun(ctx, services.ExportOptions{
		RunID:        result.RunID,
		SceneJSON:    result.SceneUsed,
		PatchJSON:    translation.Patch,
		OutputURLs:   result.OutputURLs,
		Include16Bit: true,
	})
	if err != nil {
		log.Fatalf("❌ export failed: %v", err)
	}

	if err := os.WriteFile(bundle.Filename, bundle.Data, 0644); err != nil {
		log.Fatalf("❌ failed to write bundle: %v", err)
	}
	fmt.Printf("Wrote %s (%d bytes, source %s)\n", bundle.Filename, bundle.Size, bundle.Source)

	// ------------------------------------------------
	// Timeline
	// ------------------------------------------------
	printSection("7. Timeline")

	timeline := container.Get("timeline").(*services.TimelineService)
	stats, err := timeline.Stats()
	if err != nil {
		log.Fatalf("❌ timeline stats failed: %v", err)
	}
	fmt.Printf("Recorded runs: %d\n", stats.TotalEntries)

	app.Cleanup()
	fmt.Println("\n✅ Demo complete")
}

// demoScene builds a small studio scene in the canonical schema
func demoScene() map[string]any {
	return map[string]any{
		"version": "1.0",
		"id":      "scene_demo",
		"name":    "Studio portrait",
		"seed":    4242,
		"subject": map[string]any{
			"description": "Portrait subject on a neutral backdrop",
			"style":       "photorealistic",
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
			"fill":    map[string]any{"intensity": 0.35, "angle": 315},
			"ambient": 0.25,
		},
		"color": map[string]any{
			"palette":     []any{"#1a1a1a", "#4a9eff", "#ffffff"},
			"temperature": 50,
			"saturation":  0.75,
			"contrast":    0.65,
		},
		"constraints": map[string]any{
			"lock_subject_identity": true,
			"lock_composition":      false,
			"lock_palette":          false,
		},
	}
}

func printSection(title string) {
	fmt.Println()
	fmt.Println("--- " + title + " ---")
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("(not serializable: %v)\n", err)
		return
	}
	fmt.Println(string(data))
}
