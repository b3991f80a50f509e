// internal/services/llm_service_test.go
package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FormatLab/FormatLabStudio/internal/llm"
)

func TestLLMServiceNotReady(t *testing.T) {
	svc := NewEmptyLLMService()

	assert.False(t, svc.IsReady())
	assert.Equal(t, "Standby mode, configure an API key in settings", svc.GetReadyState())
	assert.Equal(t, "", svc.GetProviderName())
	assert.Empty(t, svc.GetSupportedModels())

	ready, state := svc.GetProviderStatus()
	assert.False(t, ready)
	assert.NotEmpty(t, state)

	var out map[string]any
	err := svc.CompleteStructured(context.Background(), "", "prompt", &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLLMNotReady))
}

func TestLLMServiceUpdateProvider(t *testing.T) {
	fake := &fakeProvider{response: `{"ok": true}`}
	svc := newFakeLLMService(t, fake)

	assert.True(t, svc.IsReady())
	assert.Equal(t, "fake_"+t.Name(), svc.GetProviderName())
	assert.Equal(t, []string{"fake-model"}, svc.GetSupportedModels())

	ready, state := svc.GetProviderStatus()
	assert.True(t, ready)
	assert.Equal(t, "Ready", state)
}

func TestLLMServiceUnknownProvider(t *testing.T) {
	svc := NewEmptyLLMService()

	err := svc.UpdateProvider("no-such-provider", map[string]string{"api_key": "k"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrUnknownProvider))
	assert.False(t, svc.IsReady())
	assert.Contains(t, svc.GetReadyState(), "Configuration failed")
}

func TestCompleteStructuredRequestShape(t *testing.T) {
	fake := &fakeProvider{response: `{"value": 7}`}
	svc := newFakeLLMService(t, fake)

	var out map[string]any
	require.NoError(t, svc.CompleteStructured(context.Background(), "You convert scenes.", "change it", &out))

	assert.EqualValues(t, 7, out["value"])
	assert.Equal(t, "change it", fake.lastReq.Prompt)
	assert.True(t, strings.HasPrefix(fake.lastReq.SystemPrompt, "You convert scenes."))
	assert.Contains(t, fake.lastReq.SystemPrompt, "valid JSON format")
	assert.Equal(t, "fake-model", fake.lastReq.Model)
	assert.InDelta(t, 0.3, fake.lastReq.Temperature, 0.001)
	assert.Equal(t, 2000, fake.lastReq.MaxTokens)
}

func TestCompleteStructuredCachesResponses(t *testing.T) {
	fake := &fakeProvider{response: `{"value": 7}`}
	svc := newFakeLLMService(t, fake)

	var out map[string]any
	require.NoError(t, svc.CompleteStructured(context.Background(), "sys", "same prompt", &out))
	require.NoError(t, svc.CompleteStructured(context.Background(), "sys", "same prompt", &out))
	assert.Equal(t, 1, fake.calls)

	require.NoError(t, svc.CompleteStructured(context.Background(), "sys", "different prompt", &out))
	assert.Equal(t, 2, fake.calls)
}

func TestCompleteStructuredRejectsNonJSON(t *testing.T) {
	fake := &fakeProvider{response: "plain prose, no data at all"}
	svc := newFakeLLMService(t, fake)

	var out map[string]any
	err := svc.CompleteStructured(context.Background(), "", "prompt", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse model response")
}

func TestCleanJSONString(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"preamble", `Here is the JSON you asked for: {"a": 1}`, `{"a": 1}`},
		{"trailing", `{"a": 1} I hope that helps!`, `{"a": 1}`},
		{"array", `[1, 2, 3] done`, `[1, 2, 3]`},
		{"brace_in_string", `{"s": "}"} extra`, `{"s": "}"}`},
		{"nested", `{"a": {"b": 2}} trailing`, `{"a": {"b": 2}}`},
		{"no_json", "nothing here", "nothing here"},
		{"empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, cleanJSONString(tc.in))
		})
	}
}
