// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocketHandler handles WebSocket HTTP upgrades
type WebSocketHandler struct{}

// NewWebSocketHandler creates a WebSocket handler
func NewWebSocketHandler() *WebSocketHandler {
	return &WebSocketHandler{}
}

// TimelineWebSocket upgrades the connection and subscribes it to the
// timeline feed. Each recorded generation run is pushed as a
// {"type": "run_recorded", "entry": ...} event.
func (wh *WebSocketHandler) TimelineWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("timeline websocket upgrade failed: %v", err)
		return
	}

	client := &TimelineClient{
		conn:      conn,
		send:      make(chan []byte, 256),
		closed:    0,
		lastPing:  time.Now(),
		createdAt: time.Now(),
	}

	select {
	case timelineHub.register <- client:
		// Registered
	default:
		log.Printf("timeline websocket register queue full, rejecting connection")
		conn.Close()
		return
	}

	go wh.handleWrites(client)

	wh.sendWelcomeMessage(client)

	// The read pump owns the handler goroutine. The connection was
	// hijacked by the upgrade, so the request context will not fire;
	// the read pump returns when the connection goes away and
	// unregisters the client.
	wh.handleReads(client)
}

// handleReads drains the connection and keeps the ping state fresh. The
// feed is one-way; the only client message acted on is a ping.
func (wh *WebSocketHandler) handleReads(client *TimelineClient) {
	defer func() {
		// Always unregister so the hub drops the client promptly even
		// when the write pump closed the connection first
		select {
		case timelineHub.unregister <- client:
		case <-time.After(1 * time.Second):
			log.Printf("timeline websocket read pump unregister timed out")
		}
	}()

	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if client.IsClosed() {
			break
		}

		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		_, messageBytes, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("timeline websocket read error: %v", err)
			}
			break
		}

		var message map[string]interface{}
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			continue
		}

		client.UpdatePing()

		if msgType, _ := message["type"].(string); msgType == "ping" {
			client.SendMessage(map[string]interface{}{
				"type":      "pong",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		}
	}
}

// handleWrites pumps queued messages to the connection and keeps the
// websocket-level ping cycle going
func (wh *WebSocketHandler) handleWrites(client *TimelineClient) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		// The write pump owns the send channel. Mark closed first so no
		// new sends are queued, then close channel and socket.
		atomic.CompareAndSwapInt32(&client.closed, 0, 1)
		func() {
			defer func() {
				recover() // channel may already be closed
			}()
			close(client.send)
		}()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			if client.IsClosed() {
				return
			}

			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("timeline websocket write failed: %v", err)
				return
			}

		case <-ticker.C:
			if client.IsClosed() {
				return
			}

			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			client.UpdatePing()
		}
	}
}

// sendWelcomeMessage confirms the subscription
func (wh *WebSocketHandler) sendWelcomeMessage(client *TimelineClient) {
	client.SendMessage(map[string]interface{}{
		"type":      "connected",
		"message":   "subscribed to timeline feed",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
