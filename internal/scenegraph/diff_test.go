// internal/scenegraph/diff_test.go
package scenegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundtrip asserts the defining property of Generate: applying the
// generated patch to the original must reproduce the modified document.
func roundtrip(t *testing.T, original, modified map[string]any) Patch {
	t.Helper()
	patch := Generate(original, modified)
	result, err := Apply(original, patch)
	require.NoError(t, err)
	assert.True(t, EqualValues(modified, result),
		"apply(original, generate(original, modified)) != modified")
	return patch
}

func TestGenerateIdenticalDocuments(t *testing.T) {
	scene := sampleScene()
	patch := Generate(scene, sampleScene())
	assert.Empty(t, patch)
}

func TestGenerateScalarReplace(t *testing.T) {
	original := map[string]any{"camera": map[string]any{"lens_mm": 50, "fov": 48}}
	modified := map[string]any{"camera": map[string]any{"lens_mm": 100, "fov": 48}}

	patch := roundtrip(t, original, modified)
	require.Len(t, patch, 1)
	assert.Equal(t, "replace", patch[0].Kind())
	assert.Equal(t, "/camera/lens_mm", patch[0]["path"])
	assert.Equal(t, 100, patch[0]["value"])
}

func TestGenerateAddAndRemove(t *testing.T) {
	original := map[string]any{
		"camera":   map[string]any{"lens_mm": 50},
		"obsolete": true,
	}
	modified := map[string]any{
		"camera":   map[string]any{"lens_mm": 50},
		"lighting": map[string]any{"ambient": 0.25},
	}

	patch := roundtrip(t, original, modified)
	require.Len(t, patch, 2)

	kinds := map[string]string{}
	for _, op := range patch {
		kinds[op["path"].(string)] = op.Kind()
	}
	assert.Equal(t, "add", kinds["/lighting"])
	assert.Equal(t, "remove", kinds["/obsolete"])
}

func TestGenerateNestedRecursion(t *testing.T) {
	original := map[string]any{
		"lighting": map[string]any{
			"key":  map[string]any{"intensity": 0.85, "angle": 45},
			"fill": map[string]any{"intensity": 0.4},
		},
	}
	modified := map[string]any{
		"lighting": map[string]any{
			"key":  map[string]any{"intensity": 0.95, "angle": 45},
			"fill": map[string]any{"intensity": 0.4},
		},
	}

	patch := roundtrip(t, original, modified)
	require.Len(t, patch, 1)
	assert.Equal(t, "/lighting/key/intensity", patch[0]["path"])
	assert.Equal(t, 0.95, patch[0]["value"])
}

func TestGenerateTypeMismatchIsWholeReplace(t *testing.T) {
	original := map[string]any{"ambient": map[string]any{"intensity": 0.2}}
	modified := map[string]any{"ambient": 0.2}

	patch := roundtrip(t, original, modified)
	require.Len(t, patch, 1)
	assert.Equal(t, "replace", patch[0].Kind())
	assert.Equal(t, "/ambient", patch[0]["path"])
}

func TestGenerateEqualLengthArraysDiffPerIndex(t *testing.T) {
	original := map[string]any{
		"color": map[string]any{"palette": []any{"#111111", "#222222", "#333333"}},
	}
	modified := map[string]any{
		"color": map[string]any{"palette": []any{"#111111", "#ffffff", "#333333"}},
	}

	patch := roundtrip(t, original, modified)
	require.Len(t, patch, 1)
	assert.Equal(t, "replace", patch[0].Kind())
	assert.Equal(t, "/color/palette/1", patch[0]["path"])
	assert.Equal(t, "#ffffff", patch[0]["value"])
}

func TestGenerateLengthChangeReplacesWholeArray(t *testing.T) {
	original := map[string]any{"palette": []any{"#111111"}}
	modified := map[string]any{"palette": []any{"#111111", "#222222"}}

	patch := roundtrip(t, original, modified)
	require.Len(t, patch, 1)
	assert.Equal(t, "replace", patch[0].Kind())
	assert.Equal(t, "/palette", patch[0]["path"])
	assert.Equal(t, []any{"#111111", "#222222"}, patch[0]["value"])
}

func TestGenerateNestedArrayElements(t *testing.T) {
	original := map[string]any{
		"subjects": []any{
			map[string]any{"id": "s1", "position": map[string]any{"x": 0, "y": 0}},
			map[string]any{"id": "s2", "position": map[string]any{"x": 1, "y": 1}},
		},
	}
	modified := map[string]any{
		"subjects": []any{
			map[string]any{"id": "s1", "position": map[string]any{"x": 0, "y": 0}},
			map[string]any{"id": "s2", "position": map[string]any{"x": 1, "y": 2}},
		},
	}

	patch := roundtrip(t, original, modified)
	require.Len(t, patch, 1)
	assert.Equal(t, "/subjects/1/position/y", patch[0]["path"])
}

func TestGenerateEscapesPointerTokens(t *testing.T) {
	original := map[string]any{"a/b": 1}
	modified := map[string]any{"a/b": 2}

	patch := roundtrip(t, original, modified)
	require.Len(t, patch, 1)
	assert.Equal(t, "/a~1b", patch[0]["path"])
}

func TestGenerateDeterministicOrder(t *testing.T) {
	original := map[string]any{"z": 1, "a": 1, "m": 1}
	modified := map[string]any{"z": 2, "a": 2, "m": 2}

	patch := Generate(original, modified)
	require.Len(t, patch, 3)
	assert.Equal(t, "/a", patch[0]["path"])
	assert.Equal(t, "/m", patch[1]["path"])
	assert.Equal(t, "/z", patch[2]["path"])
}

func TestGenerateValuesAreDeepCopies(t *testing.T) {
	modified := map[string]any{"lighting": map[string]any{"ambient": 0.3}}
	patch := Generate(map[string]any{}, modified)
	require.Len(t, patch, 1)

	patch[0]["value"].(map[string]any)["ambient"] = 0.9
	assert.Equal(t, 0.3, modified["lighting"].(map[string]any)["ambient"])
}

func TestGenerateRoundtripComplexScene(t *testing.T) {
	original := sampleScene()
	modified := sampleScene()
	modified["camera"].(map[string]any)["lens_mm"] = 100
	modified["lighting"].(map[string]any)["key"] = map[string]any{"intensity": 0.95}
	delete(modified["color"].(map[string]any), "saturation")
	modified["render"] = map[string]any{"resolution": []any{1920, 1080}}

	roundtrip(t, original, modified)
}
