// internal/scenegraph/patch_test.go
package scenegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleScene() map[string]any {
	return map[string]any{
		"camera": map[string]any{
			"lens_mm":        50,
			"fov":            48,
			"depth_of_field": 0.5,
		},
		"lighting": map[string]any{
			"key": map[string]any{
				"intensity": 0.85,
				"angle":     45,
			},
			"ambient": 0.25,
		},
		"color": map[string]any{
			"palette":    []any{"#1a1a1a", "#4a9eff"},
			"saturation": 0.75,
		},
		"constraints": map[string]any{
			"lock_subject_identity": true,
		},
	}
}

func TestApplyEmptyPatchReturnsIndependentCopy(t *testing.T) {
	base := sampleScene()

	result, err := Apply(base, nil)
	require.NoError(t, err)

	assert.True(t, EqualValues(base, result))

	// Mutating the result must not leak into the input.
	result["camera"].(map[string]any)["lens_mm"] = 999
	assert.Equal(t, 50, base["camera"].(map[string]any)["lens_mm"])
}

func TestApplyOperations(t *testing.T) {
	tests := []struct {
		name  string
		patch Patch
		check func(t *testing.T, result map[string]any)
	}{
		{
			name:  "replace nested scalar",
			patch: Patch{{"op": "replace", "path": "/camera/lens_mm", "value": 100}},
			check: func(t *testing.T, result map[string]any) {
				assert.Equal(t, 100, result["camera"].(map[string]any)["lens_mm"])
			},
		},
		{
			name:  "add new key",
			patch: Patch{{"op": "add", "path": "/camera/iso", "value": 400}},
			check: func(t *testing.T, result map[string]any) {
				assert.Equal(t, 400, result["camera"].(map[string]any)["iso"])
			},
		},
		{
			name:  "add overwrites existing object key",
			patch: Patch{{"op": "add", "path": "/camera/lens_mm", "value": 85}},
			check: func(t *testing.T, result map[string]any) {
				assert.Equal(t, 85, result["camera"].(map[string]any)["lens_mm"])
			},
		},
		{
			name:  "remove key",
			patch: Patch{{"op": "remove", "path": "/lighting/ambient"}},
			check: func(t *testing.T, result map[string]any) {
				_, ok := result["lighting"].(map[string]any)["ambient"]
				assert.False(t, ok)
			},
		},
		{
			name:  "array insert shifts elements",
			patch: Patch{{"op": "add", "path": "/color/palette/1", "value": "#ffffff"}},
			check: func(t *testing.T, result map[string]any) {
				palette := result["color"].(map[string]any)["palette"].([]any)
				assert.Equal(t, []any{"#1a1a1a", "#ffffff", "#4a9eff"}, palette)
			},
		},
		{
			name:  "array append with dash",
			patch: Patch{{"op": "add", "path": "/color/palette/-", "value": "#000000"}},
			check: func(t *testing.T, result map[string]any) {
				palette := result["color"].(map[string]any)["palette"].([]any)
				assert.Equal(t, "#000000", palette[len(palette)-1])
			},
		},
		{
			name:  "array remove",
			patch: Patch{{"op": "remove", "path": "/color/palette/0"}},
			check: func(t *testing.T, result map[string]any) {
				palette := result["color"].(map[string]any)["palette"].([]any)
				assert.Equal(t, []any{"#4a9eff"}, palette)
			},
		},
		{
			name: "move between sections",
			patch: Patch{
				{"op": "move", "path": "/camera/exposure", "from": "/lighting/ambient"},
			},
			check: func(t *testing.T, result map[string]any) {
				assert.Equal(t, 0.25, result["camera"].(map[string]any)["exposure"])
				_, ok := result["lighting"].(map[string]any)["ambient"]
				assert.False(t, ok)
			},
		},
		{
			name: "copy leaves source in place",
			patch: Patch{
				{"op": "copy", "path": "/backup_key", "from": "/lighting/key"},
			},
			check: func(t *testing.T, result map[string]any) {
				backup := result["backup_key"].(map[string]any)
				assert.Equal(t, 0.85, backup["intensity"])
				key := result["lighting"].(map[string]any)["key"].(map[string]any)
				assert.Equal(t, 0.85, key["intensity"])

				// The copy must be independent of the source.
				backup["intensity"] = 0.1
				assert.Equal(t, 0.85, key["intensity"])
			},
		},
		{
			name: "test passes with int float equivalence",
			patch: Patch{
				{"op": "test", "path": "/camera/lens_mm", "value": 50.0},
				{"op": "replace", "path": "/camera/lens_mm", "value": 85},
			},
			check: func(t *testing.T, result map[string]any) {
				assert.Equal(t, 85, result["camera"].(map[string]any)["lens_mm"])
			},
		},
		{
			name: "sequential operations see earlier results",
			patch: Patch{
				{"op": "add", "path": "/render", "value": map[string]any{}},
				{"op": "add", "path": "/render/engine", "value": "fibo"},
			},
			check: func(t *testing.T, result map[string]any) {
				assert.Equal(t, "fibo", result["render"].(map[string]any)["engine"])
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			base := sampleScene()
			result, err := Apply(base, tc.patch)
			require.NoError(t, err)
			tc.check(t, result)
			// Input stays untouched no matter what the patch did.
			assert.True(t, EqualValues(sampleScene(), base))
		})
	}
}

func TestApplyEscapedPointerTokens(t *testing.T) {
	base := map[string]any{"a/b": 1, "c~d": 2}

	result, err := Apply(base, Patch{
		{"op": "replace", "path": "/a~1b", "value": 10},
		{"op": "replace", "path": "/c~0d", "value": 20},
	})
	require.NoError(t, err)
	assert.Equal(t, 10, result["a/b"])
	assert.Equal(t, 20, result["c~d"])
}

func TestApplyFailureIsAtomic(t *testing.T) {
	base := sampleScene()

	_, err := Apply(base, Patch{
		{"op": "replace", "path": "/camera/lens_mm", "value": 100},
		{"op": "replace", "path": "/camera/nonexistent", "value": 1},
	})
	require.Error(t, err)

	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, 1, applyErr.Index)
	assert.Equal(t, "replace", applyErr.Op)
	assert.Equal(t, "/camera/nonexistent", applyErr.Path)

	// The partially applied copy never surfaces and the input is untouched.
	assert.Equal(t, 50, base["camera"].(map[string]any)["lens_mm"])
}

func TestApplyErrors(t *testing.T) {
	tests := []struct {
		name  string
		patch Patch
	}{
		{"remove missing key", Patch{{"op": "remove", "path": "/nope"}}},
		{"replace missing key", Patch{{"op": "replace", "path": "/nope", "value": 1}}},
		{"test value mismatch", Patch{{"op": "test", "path": "/camera/lens_mm", "value": 999}}},
		{"pointer without leading slash", Patch{{"op": "replace", "path": "camera", "value": 1}}},
		{"array index out of range", Patch{{"op": "remove", "path": "/color/palette/9"}}},
		{"non-numeric array index", Patch{{"op": "replace", "path": "/color/palette/x", "value": 1}}},
		{"descend into scalar", Patch{{"op": "add", "path": "/camera/lens_mm/deep", "value": 1}}},
		{"move into own child", Patch{{"op": "move", "path": "/lighting/key/sub", "from": "/lighting/key"}}},
		{"add without value", Patch{{"op": "add", "path": "/x"}}},
		{"move without from", Patch{{"op": "move", "path": "/x"}}},
		{"unsupported op", Patch{{"op": "merge", "path": "/x"}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			base := sampleScene()
			_, err := Apply(base, tc.patch)
			var applyErr *ApplyError
			require.ErrorAs(t, err, &applyErr)
			assert.True(t, EqualValues(sampleScene(), base))
		})
	}
}

func TestValidate(t *testing.T) {
	valid := Patch{
		{"op": "add", "path": "/a", "value": 1},
		{"op": "remove", "path": "/b"},
		{"op": "replace", "path": "", "value": map[string]any{}},
		{"op": "move", "path": "/c", "from": "/d"},
		{"op": "copy", "path": "/e", "from": "/f"},
		{"op": "test", "path": "/g", "value": nil},
	}
	assert.NoError(t, Validate(valid))

	// Structural checks only: a move without from passes validation and is
	// rejected at apply time instead.
	assert.NoError(t, Validate(Patch{{"op": "move", "path": "/x"}}))

	tests := []struct {
		name  string
		patch Patch
		index int
	}{
		{"missing op", Patch{{"path": "/a"}}, 0},
		{"unknown op", Patch{{"op": "patch", "path": "/a"}}, 0},
		{"op not a string", Patch{{"op": 7, "path": "/a"}}, 0},
		{"missing path", Patch{{"op": "add", "value": 1}}, 0},
		{"path not a string", Patch{{"op": "add", "path": 42, "value": 1}}, 0},
		{"second op invalid", Patch{{"op": "add", "path": "/a", "value": 1}, {"op": "remove"}}, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.patch)
			var valErr *ValidationError
			require.ErrorAs(t, err, &valErr)
			assert.Equal(t, tc.index, valErr.Index)
		})
	}
}

func TestMergePreservesOrder(t *testing.T) {
	p1 := Patch{{"op": "add", "path": "/a", "value": 1}}
	p2 := Patch{
		{"op": "replace", "path": "/a", "value": 2},
		{"op": "remove", "path": "/b"},
	}

	merged := Merge(p1, p2)
	require.Len(t, merged, 3)
	assert.Equal(t, "add", merged[0].Kind())
	assert.Equal(t, "replace", merged[1].Kind())
	assert.Equal(t, "remove", merged[2].Kind())

	// Later operations may target paths created by earlier ones.
	result, err := Apply(map[string]any{"b": true}, Merge(
		Patch{{"op": "add", "path": "/list", "value": []any{}}},
		Patch{{"op": "add", "path": "/list/-", "value": "x"}},
	))
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, result["list"])
}

func TestTopLevelKeys(t *testing.T) {
	patch := Patch{
		{"op": "replace", "path": "/camera/lens_mm", "value": 100},
		{"op": "replace", "path": "/camera/tilt", "value": -15},
		{"op": "replace", "path": "/lighting/key", "value": map[string]any{}},
		{"op": "add", "path": "color", "value": map[string]any{}},
		{"op": "test", "path": "", "value": nil},
	}

	keys := TopLevelKeys(patch)
	assert.Equal(t, []string{"camera", "lighting", "color"}, keys)

	assert.Empty(t, TopLevelKeys(nil))
}
