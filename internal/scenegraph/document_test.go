// internal/scenegraph/document_test.go
package scenegraph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyDocumentIsDeep(t *testing.T) {
	original := sampleScene()
	clone := CopyDocument(original)

	require.True(t, EqualValues(original, clone))

	clone["camera"].(map[string]any)["lens_mm"] = 999
	clone["color"].(map[string]any)["palette"].([]any)[0] = "#ffffff"

	assert.Equal(t, 50, original["camera"].(map[string]any)["lens_mm"])
	assert.Equal(t, "#1a1a1a", original["color"].(map[string]any)["palette"].([]any)[0])
}

func TestCopyDocumentNil(t *testing.T) {
	assert.Nil(t, CopyDocument(nil))
}

func TestEqualValues(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"int equals float of same magnitude", 50, 50.0, true},
		{"int64 equals float", int64(100), 100.0, true},
		{"different magnitudes", 50, 50.5, false},
		{"bool is not a number", true, 1, false},
		{"nil equals nil", nil, nil, true},
		{"nil is not zero", nil, 0, false},
		{"strings", "warm", "warm", true},
		{"string vs number", "50", 50, false},
		{"equal nested maps", sampleScene(), sampleScene(), true},
		{"missing key", map[string]any{"a": 1}, map[string]any{}, false},
		{"equal slices", []any{1, 2.0}, []any{1.0, 2}, true},
		{"slice length", []any{1}, []any{1, 2}, false},
		{"map vs slice", map[string]any{}, []any{}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EqualValues(tc.a, tc.b))
		})
	}
}

func TestEqualValuesAfterJSONRoundtrip(t *testing.T) {
	// Documents built in code carry ints; the same document decoded from JSON
	// carries float64. Both forms must compare equal.
	built := sampleScene()

	raw, err := json.Marshal(built)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.True(t, EqualValues(built, decoded))
	assert.Empty(t, ModifiedKeys(built, decoded))
}
