// internal/api/websocket_test.go
package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FormatLab/FormatLabStudio/internal/models"
)

func TestTimelineWebSocketFeed(t *testing.T) {
	router := newTestRouter(t)

	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/timeline"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	readMessage := func() map[string]any {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	welcome := readMessage()
	assert.Equal(t, "connected", welcome["type"])

	// The hub registers subscribers asynchronously, wait until it has
	// picked this one up before broadcasting.
	require.Eventually(t, func() bool {
		subscribers, _ := timelineHub.GetStatus()["subscribers"].(int)
		return subscribers >= 1
	}, 5*time.Second, 10*time.Millisecond)

	t.Run("recorded runs are pushed", func(t *testing.T) {
		entry := &models.TimelineEntry{
			RunID:     "run_ws_feed",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Seed:      31,
			SceneSnapshot: map[string]any{
				"camera": map[string]any{"lens_mm": 50},
			},
			PatchSummary: "Direct generation (no patch)",
			OutputURLs:   []string{"/outputs/demo_output_31_0.png"},
		}
		TimelineHubNotifier{}.NotifyRunRecorded(entry)

		msg := readMessage()
		assert.Equal(t, "run_recorded", msg["type"])
		assert.NotEmpty(t, msg["timestamp"])

		pushed, ok := msg["entry"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "run_ws_feed", pushed["run_id"])
		assert.EqualValues(t, 31, pushed["seed"])
	})

	t.Run("ping gets a pong", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))

		msg := readMessage()
		assert.Equal(t, "pong", msg["type"])
	})
}

func TestTimelineHubStatus(t *testing.T) {
	status := timelineHub.GetStatus()

	subscribers, ok := status["subscribers"].(int)
	require.True(t, ok)
	assert.GreaterOrEqual(t, subscribers, 0)
}

func TestNotifyRunRecordedNilEntry(t *testing.T) {
	// Must not panic and must not queue anything
	TimelineHubNotifier{}.NotifyRunRecorded(nil)
}
