// internal/api/websocket.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/FormatLab/FormatLabStudio/internal/models"
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Stricter origin checks belong in a production deployment
		return true
	},
}

// TimelineConnection is the connection surface the hub needs. Tests can
// substitute an in-memory implementation.
type TimelineConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// TimelineClient is one subscriber of the timeline feed
type TimelineClient struct {
	conn      TimelineConnection
	send      chan []byte
	closed    int32 // atomic flag, 0=open, 1=closed
	lastPing  time.Time
	createdAt time.Time
}

// TimelineHub fans recorded generation runs out to websocket subscribers
type TimelineHub struct {
	clients       map[TimelineConnection]*TimelineClient
	broadcast     chan []byte
	register      chan *TimelineClient
	unregister    chan *TimelineClient
	cleanup       chan bool
	mutex         sync.RWMutex
	pingTimeout   time.Duration
	cleanupTicker *time.Ticker
}

// Global timeline hub
var timelineHub = &TimelineHub{
	clients:     make(map[TimelineConnection]*TimelineClient),
	broadcast:   make(chan []byte, 256),
	register:    make(chan *TimelineClient, 256),
	unregister:  make(chan *TimelineClient, 256),
	cleanup:     make(chan bool, 1),
	pingTimeout: 60 * time.Second,
}

func init() {
	go timelineHub.run()
}

// ========================================
// TimelineClient methods
// ========================================

// Close safely closes the client connection
func (client *TimelineClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		// Only flip the flag and close the socket. The send channel is
		// closed by the write pump's defer.
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed reports whether the connection has been closed
func (client *TimelineClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing records client activity
func (client *TimelineClient) UpdatePing() {
	client.lastPing = time.Now()
}

// IsExpired reports whether the client has been silent past the timeout
func (client *TimelineClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}

	return time.Since(client.lastPing) > timeout
}

// SendMessage queues a message for the client without blocking
func (client *TimelineClient) SendMessage(message map[string]interface{}) error {
	if client.IsClosed() {
		return nil
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	if !trySend(client, msgBytes) {
		// Queue full or connection torn down, drop rather than block
		log.Printf("timeline subscriber queue full, message dropped")
	}
	return nil
}

// trySend queues a message without blocking. It reports false when the
// queue is full or when the write pump closed the channel mid-send.
func trySend(client *TimelineClient, message []byte) (delivered bool) {
	defer func() {
		if recover() != nil {
			delivered = false
		}
	}()

	if client.IsClosed() {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// ========================================
// TimelineHub methods
// ========================================

// run is the hub main loop
func (hub *TimelineHub) run() {
	hub.cleanupTicker = time.NewTicker(30 * time.Second)
	defer hub.cleanupTicker.Stop()

	for {
		select {
		case client := <-hub.register:
			hub.registerClient(client)

		case client := <-hub.unregister:
			hub.unregisterClient(client)

		case <-hub.cleanupTicker.C:
			hub.cleanupExpiredClients()

		case message := <-hub.broadcast:
			hub.broadcastMessage(message)

		case <-hub.cleanup:
			hub.shutdown()
			return
		}
	}
}

// registerClient adds a new subscriber
func (hub *TimelineHub) registerClient(client *TimelineClient) {
	if client == nil {
		return
	}

	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	hub.clients[client.conn] = client
	client.UpdatePing()

	log.Printf("timeline websocket subscriber connected (%d active)", len(hub.clients))
}

// unregisterClient removes a subscriber
func (hub *TimelineHub) unregisterClient(client *TimelineClient) {
	if client == nil {
		return
	}

	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	delete(hub.clients, client.conn)

	if !client.IsClosed() {
		client.Close()
	}

	log.Printf("timeline websocket subscriber disconnected (%d active)", len(hub.clients))
}

// cleanupExpiredClients drops dead and silent connections
func (hub *TimelineHub) cleanupExpiredClients() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for conn, client := range hub.clients {
		if client.IsClosed() || client.IsExpired(hub.pingTimeout) {
			delete(hub.clients, conn)
			if !client.IsClosed() {
				client.Close()
			}
		}
	}
}

// broadcastMessage delivers a message to every live subscriber
func (hub *TimelineHub) broadcastMessage(message []byte) {
	hub.mutex.RLock()
	clients := make([]*TimelineClient, 0, len(hub.clients))
	for _, client := range hub.clients {
		if !client.IsClosed() {
			clients = append(clients, client)
		}
	}
	hub.mutex.RUnlock()

	if len(clients) > 0 {
		hub.processBatch(clients, message)
	}
}

// processBatch sends one message to a batch of clients
func (hub *TimelineHub) processBatch(clients []*TimelineClient, message []byte) {
	failedCount := 0
	for _, client := range clients {
		if trySend(client, message) {
			continue
		}

		// Queue full; bounded number of orderly unregisters per batch
		failedCount++
		if failedCount <= 5 {
			go func(c *TimelineClient) {
				c.Close()
				select {
				case hub.unregister <- c:
				case <-time.After(50 * time.Millisecond):
				}
			}(client)
		} else {
			client.Close()
		}
	}
}

// shutdown closes every connection and resets the hub
func (hub *TimelineHub) shutdown() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for _, client := range hub.clients {
		client.Close()
	}

	hub.clients = make(map[TimelineConnection]*TimelineClient)

	log.Println("timeline websocket hub shut down")
}

// GetStatus returns the hub state for the stats endpoint
func (hub *TimelineHub) GetStatus() map[string]interface{} {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()

	active := 0
	for _, client := range hub.clients {
		if client != nil && !client.IsClosed() {
			active++
		}
	}

	return map[string]interface{}{
		"subscribers": active,
	}
}

// NotifyRunRecorded pushes a recorded run to every subscriber
func (hub *TimelineHub) NotifyRunRecorded(entry *models.TimelineEntry) {
	if entry == nil {
		return
	}

	message := map[string]interface{}{
		"type":      "run_recorded",
		"entry":     entry,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		log.Printf("failed to serialize timeline broadcast: %v", err)
		return
	}

	select {
	case hub.broadcast <- msgBytes:
	default:
		// Broadcast queue full, drop the event
		log.Printf("timeline broadcast queue full, run %s event dropped", entry.RunID)
	}
}

// TimelineHubNotifier adapts the global hub for services that announce
// recorded runs without importing the api package.
type TimelineHubNotifier struct{}

// NotifyRunRecorded implements the services notifier interface
func (TimelineHubNotifier) NotifyRunRecorded(entry *models.TimelineEntry) {
	timelineHub.NotifyRunRecorded(entry)
}
