// internal/scenegraph/drift_test.go
package scenegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModifiedKeys(t *testing.T) {
	t.Run("identical documents", func(t *testing.T) {
		assert.Empty(t, ModifiedKeys(sampleScene(), sampleScene()))
	})

	t.Run("nested changes use dotted paths", func(t *testing.T) {
		original := sampleScene()
		modified := sampleScene()
		modified["camera"].(map[string]any)["lens_mm"] = 100
		modified["lighting"].(map[string]any)["key"].(map[string]any)["intensity"] = 0.95

		assert.Equal(t,
			[]string{"camera.lens_mm", "lighting.key.intensity"},
			ModifiedKeys(original, modified))
	})

	t.Run("one-sided key counts once at its own level", func(t *testing.T) {
		original := map[string]any{"a": 1}
		modified := map[string]any{"a": 1, "b": map[string]any{"c": 2, "d": 3}}

		assert.Equal(t, []string{"b"}, ModifiedKeys(original, modified))
	})

	t.Run("missing key equals explicit null", func(t *testing.T) {
		original := map[string]any{"a": 1, "b": nil}
		modified := map[string]any{"a": 1}

		assert.Empty(t, ModifiedKeys(original, modified))
	})

	t.Run("type change counts as single modification", func(t *testing.T) {
		original := map[string]any{"ambient": map[string]any{"intensity": 0.2}}
		modified := map[string]any{"ambient": 0.2}

		assert.Equal(t, []string{"ambient"}, ModifiedKeys(original, modified))
	})

	t.Run("output is sorted", func(t *testing.T) {
		original := map[string]any{"z": 1, "a": 1, "m": 1}
		modified := map[string]any{"z": 2, "a": 2, "m": 2}

		assert.Equal(t, []string{"a", "m", "z"}, ModifiedKeys(original, modified))
	})
}

func TestDriftScore(t *testing.T) {
	t.Run("identical documents score zero", func(t *testing.T) {
		scene := sampleScene()
		assert.Equal(t, 0.0, DriftScore(scene, scene))
		assert.Equal(t, 0.0, DriftScore(sampleScene(), sampleScene()))
	})

	t.Run("known ratio", func(t *testing.T) {
		original := map[string]any{"a": 1}
		modified := map[string]any{"a": 1, "b": map[string]any{"c": 2}}

		// 1 modified key over the union {a, b, b.c}.
		assert.InDelta(t, 1.0/3.0, DriftScore(original, modified), 1e-9)
	})

	t.Run("stays within unit range for asymmetric shapes", func(t *testing.T) {
		cases := []struct {
			name     string
			original map[string]any
			modified map[string]any
		}{
			{"everything replaced", map[string]any{"a": 1, "b": 2}, map[string]any{"a": 9, "b": 8}},
			{"empty original", map[string]any{}, sampleScene()},
			{"empty modified", sampleScene(), map[string]any{}},
			{"disjoint keys", map[string]any{"a": 1}, map[string]any{"b": 2}},
			{"deep vs flat", map[string]any{"a": map[string]any{"b": map[string]any{"c": 1}}}, map[string]any{"a": 5}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				score := DriftScore(tc.original, tc.modified)
				assert.GreaterOrEqual(t, score, 0.0)
				assert.LessOrEqual(t, score, 1.0)
			})
		}
	})

	t.Run("both empty score zero", func(t *testing.T) {
		assert.Equal(t, 0.0, DriftScore(map[string]any{}, map[string]any{}))
	})
}

func TestNumericDifferences(t *testing.T) {
	original := map[string]any{
		"camera":   map[string]any{"lens_mm": 50, "fov": 48.0},
		"lighting": map[string]any{"key": map[string]any{"intensity": 0.85}},
		"label":    "wide shot",
		"active":   true,
	}
	modified := map[string]any{
		"camera":   map[string]any{"lens_mm": 100, "fov": 48},
		"lighting": map[string]any{"key": map[string]any{"intensity": 0.95}},
		"label":    "close up",
		"active":   false,
	}

	diffs := NumericDifferences(original, modified)

	assert.Equal(t, map[string][2]float64{
		"camera/lens_mm":         {50, 100},
		"lighting/key/intensity": {0.85, 0.95},
	}, diffs)

	// fov changed representation (48.0 vs 48) but not magnitude; strings and
	// bools never appear.
	_, hasFov := diffs["camera/fov"]
	assert.False(t, hasFov)
}

func TestNumericDifferencesSkipsMixedTypes(t *testing.T) {
	original := map[string]any{"lens_mm": 50}
	modified := map[string]any{"lens_mm": "100"}

	assert.Empty(t, NumericDifferences(original, modified))
}

func TestImpact(t *testing.T) {
	t.Run("no changes", func(t *testing.T) {
		report := Impact(sampleScene(), sampleScene())

		assert.Equal(t, 0.0, report.DriftScore)
		assert.Equal(t, 0, report.TotalChanges)
		assert.Empty(t, report.ModifiedKeys)
		assert.Equal(t, "No changes detected", report.Summary)
		for domain, keys := range report.ChangesByDomain {
			assert.Emptyf(t, keys, "domain %s should be empty", domain)
		}
	})

	t.Run("changes bucketed by domain", func(t *testing.T) {
		original := sampleScene()
		modified := sampleScene()
		modified["camera"].(map[string]any)["lens_mm"] = 100
		modified["lighting"].(map[string]any)["ambient"] = 0.4
		modified["constraints"].(map[string]any)["lock_palette"] = true
		modified["render_notes"] = "x"

		report := Impact(original, modified)

		assert.Equal(t, []string{"camera.lens_mm"}, report.ChangesByDomain["camera"])
		assert.Equal(t, []string{"lighting.ambient"}, report.ChangesByDomain["lighting"])
		assert.Empty(t, report.ChangesByDomain["color"])
		assert.Equal(t, []string{"constraints.lock_palette"}, report.ChangesByDomain["constraints"])
		assert.Equal(t, []string{"render_notes"}, report.ChangesByDomain["other"])
		assert.Equal(t, 4, report.TotalChanges)
		assert.Equal(t, "Modified 1 camera settings, 1 lighting settings, 0 color settings", report.Summary)
		assert.Equal(t, [2]float64{50, 100}, report.NumericDifferences["camera/lens_mm"])
	})
}

func TestConstraintViolations(t *testing.T) {
	lockedScene := func(lock string) map[string]any {
		scene := sampleScene()
		scene["constraints"] = map[string]any{lock: true}
		scene["subject"] = map[string]any{"description": "figure in red coat"}
		return scene
	}

	t.Run("composition lock flags camera change", func(t *testing.T) {
		original := lockedScene("lock_composition")
		modified := CopyDocument(original)
		modified["camera"].(map[string]any)["lens_mm"] = 100

		assert.Equal(t,
			[]string{"Composition was locked but camera settings changed"},
			ConstraintViolations(original, modified))
	})

	t.Run("no violation when nothing changed", func(t *testing.T) {
		original := lockedScene("lock_composition")
		assert.Empty(t, ConstraintViolations(original, CopyDocument(original)))
	})

	t.Run("subject identity lock", func(t *testing.T) {
		original := lockedScene("lock_subject_identity")
		modified := CopyDocument(original)
		modified["subject"].(map[string]any)["description"] = "figure in blue coat"

		assert.Equal(t,
			[]string{"Subject identity was locked but was modified"},
			ConstraintViolations(original, modified))
	})

	t.Run("palette lock watches only the palette", func(t *testing.T) {
		original := lockedScene("lock_palette")
		modified := CopyDocument(original)
		modified["color"].(map[string]any)["saturation"] = 0.2

		assert.Empty(t, ConstraintViolations(original, modified))

		modified["color"].(map[string]any)["palette"] = []any{"#ff0000"}
		assert.Equal(t,
			[]string{"Palette was locked but was modified"},
			ConstraintViolations(original, modified))
	})

	t.Run("unlocked changes pass", func(t *testing.T) {
		original := sampleScene()
		modified := CopyDocument(original)
		modified["camera"].(map[string]any)["lens_mm"] = 100

		assert.Empty(t, ConstraintViolations(original, modified))
	})

	t.Run("missing constraints section", func(t *testing.T) {
		original := map[string]any{"camera": map[string]any{"lens_mm": 50}}
		modified := map[string]any{"camera": map[string]any{"lens_mm": 100}}

		assert.Empty(t, ConstraintViolations(original, modified))
	})

	t.Run("multiple locks report in fixed order", func(t *testing.T) {
		original := sampleScene()
		original["subject"] = map[string]any{"description": "figure"}
		original["constraints"] = map[string]any{
			"lock_subject_identity": true,
			"lock_composition":      true,
			"lock_palette":          true,
		}
		modified := CopyDocument(original)
		modified["subject"].(map[string]any)["description"] = "other figure"
		modified["camera"].(map[string]any)["lens_mm"] = 100
		modified["color"].(map[string]any)["palette"] = []any{"#ff0000"}

		assert.Equal(t, []string{
			"Subject identity was locked but was modified",
			"Composition was locked but camera settings changed",
			"Palette was locked but was modified",
		}, ConstraintViolations(original, modified))
	})
}

func TestBoundedDrift(t *testing.T) {
	bounds := map[string][2]float64{"camera/lens_mm": {14, 300}}

	t.Run("out of range value flagged", func(t *testing.T) {
		original := map[string]any{"camera": map[string]any{"lens_mm": 50}}
		modified := map[string]any{"camera": map[string]any{"lens_mm": 400}}

		result := BoundedDrift(original, modified, bounds)

		require.Len(t, result.BoundViolations, 1)
		assert.Equal(t,
			"camera/lens_mm value 400 violates bounds [14, 300]",
			result.BoundViolations[0])
		assert.False(t, result.IsValid)
		assert.Greater(t, result.DriftScore, 0.0)
	})

	t.Run("in range value passes", func(t *testing.T) {
		original := map[string]any{"camera": map[string]any{"lens_mm": 50}}
		modified := map[string]any{"camera": map[string]any{"lens_mm": 85}}

		result := BoundedDrift(original, modified, bounds)

		assert.Empty(t, result.BoundViolations)
		assert.True(t, result.IsValid)
	})

	t.Run("unchanged values are not checked", func(t *testing.T) {
		// lens_mm sits outside the bounds on both sides but never moved.
		original := map[string]any{"camera": map[string]any{"lens_mm": 400, "fov": 48}}
		modified := map[string]any{"camera": map[string]any{"lens_mm": 400, "fov": 52}}

		result := BoundedDrift(original, modified, bounds)

		assert.Empty(t, result.BoundViolations)
		assert.True(t, result.IsValid)
	})

	t.Run("no bounds means always valid", func(t *testing.T) {
		original := map[string]any{"camera": map[string]any{"lens_mm": 50}}
		modified := map[string]any{"camera": map[string]any{"lens_mm": 400}}

		result := BoundedDrift(original, modified, nil)

		assert.Empty(t, result.BoundViolations)
		assert.True(t, result.IsValid)
	})

	t.Run("fractional bounds keep compact formatting", func(t *testing.T) {
		original := map[string]any{"lighting": map[string]any{"key": map[string]any{"intensity": 0.85}}}
		modified := map[string]any{"lighting": map[string]any{"key": map[string]any{"intensity": 1.5}}}

		result := BoundedDrift(original, modified, map[string][2]float64{
			"lighting/key/intensity": {0, 1},
		})

		require.Len(t, result.BoundViolations, 1)
		assert.Equal(t,
			"lighting/key/intensity value 1.5 violates bounds [0, 1]",
			result.BoundViolations[0])
	})
}
