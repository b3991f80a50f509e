// internal/api/middleware_test.go
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter()

	assert.True(t, rl.Allow("client", 2, time.Minute))
	assert.True(t, rl.Allow("client", 2, time.Minute))
	assert.False(t, rl.Allow("client", 2, time.Minute), "third request in the window must be rejected")

	// A different key has its own bucket
	assert.True(t, rl.Allow("other", 2, time.Minute))

	// An expired window starts a fresh bucket
	rl.mu.Lock()
	rl.visitors["client"].Reset = time.Now().Add(-time.Second)
	rl.mu.Unlock()
	assert.True(t, rl.Allow("client", 2, time.Minute))
}

func TestRateLimitHeadersAndRejection(t *testing.T) {
	// A dedicated class keeps this test out of the buckets the full
	// router uses.
	engine := gin.New()
	engine.GET("/ping", RateLimitByIP("middleware_test", 2, time.Minute), func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	rec := performGET(t, engine, "/ping")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	rec = performGET(t, engine, "/ping")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = performGET(t, engine, "/ping")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Rate limit exceeded", body["error"])
	assert.Equal(t, ErrorRateLimited, body["code"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestRequestIDMiddleware(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestIDMiddleware())
	engine.GET("/ping", func(c *gin.Context) {
		NewResponseHelper().Success(c, gin.H{"ok": true})
	})

	t.Run("client id is honored", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Request-ID", "req-test-123")

		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "req-test-123", rec.Header().Get("X-Request-ID"))

		resp := decodeEnvelope(t, rec)
		assert.Equal(t, "req-test-123", resp.RequestID)
	})

	t.Run("id is generated when absent", func(t *testing.T) {
		rec := performGET(t, engine, "/ping")

		require.Equal(t, http.StatusOK, rec.Code)
		generated := rec.Header().Get("X-Request-ID")
		assert.NotEmpty(t, generated)

		resp := decodeEnvelope(t, rec)
		assert.Equal(t, generated, resp.RequestID)
	})
}

func TestCORSMiddleware(t *testing.T) {
	engine := gin.New()
	engine.Use(corsMiddleware())
	engine.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	t.Run("headers on normal requests", func(t *testing.T) {
		rec := performGET(t, engine, "/ping")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("preflight is answered directly", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"plain message passes", "Patch validation failed", "Patch validation failed"},
		{"api key reference is hidden", "invalid api_key provided", "An internal error occurred"},
		{"token reference is hidden", "bad token in request", "An internal error occurred"},
		{"secret reference is hidden", "SECRET mismatch", "An internal error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeErrorMessage(tt.message))
		})
	}
}

func TestBoolOrDefault(t *testing.T) {
	yes := true
	no := false

	assert.True(t, boolOrDefault(nil, true))
	assert.False(t, boolOrDefault(nil, false))
	assert.True(t, boolOrDefault(&yes, false))
	assert.False(t, boolOrDefault(&no, true))
}
