package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ropacal-forecast/internal/forecast"
	"ropacal-forecast/internal/logger"
)

// Hub maintains dashboard connections and fans out broadcasts to them.
type Hub struct {
	// Registered clients by connection id
	clients map[string]*Client

	// Outbound payloads for every client
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Guards clients for readers outside Run
	mu sync.RWMutex

	log logger.Logger
}

// PredictionsRefreshedEvent is pushed to dashboards after every refresh pass.
type PredictionsRefreshedEvent struct {
	Type          string `json:"type"`
	RunID         string `json:"run_id"`
	Refreshed     int    `json:"refreshed"`
	Skipped       int    `json:"skipped"`
	Failed        int    `json:"failed"`
	FinishedAtIso string `json:"finishedAtIso"`
}

const EventPredictionsRefreshed = "predictions_refreshed"

func NewHub(log logger.Logger) *Hub {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run is the hub's main loop. It owns the client map and returns when ctx
// is done, closing every remaining connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.log.Infof("✅ [WEBSOCKET] Dashboard CONNECTED %s (total %d)", client.ID, len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.send)
				h.log.Infof("🔴 [WEBSOCKET] Dashboard DISCONNECTED %s (remaining %d)", client.ID, len(h.clients))
			}
			h.mu.Unlock()

		case data := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Slow consumer
					close(client.send)
					delete(h.clients, id)
					h.log.Warnf("⚠️ [WEBSOCKET] Client buffer full, disconnecting: %s", id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues data for every connected client. It drops the message
// when the hub is backed up rather than block the caller.
func (h *Hub) Broadcast(data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.log.Errorf("❌ [WEBSOCKET] Failed to marshal broadcast message: %v", err)
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		h.log.Warnf("⚠️ [WEBSOCKET] Broadcast queue full, dropping message")
	}
}

// NotifyRefresh pushes a predictions_refreshed event for a finished pass.
func (h *Hub) NotifyRefresh(report forecast.RefreshReport) {
	h.Broadcast(PredictionsRefreshedEvent{
		Type:          EventPredictionsRefreshed,
		RunID:         report.RunID,
		Refreshed:     report.Refreshed,
		Skipped:       report.Skipped,
		Failed:        report.Failed,
		FinishedAtIso: report.FinishedAt.UTC().Format(time.RFC3339),
	})
}

// join registers c unless the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount returns the number of connected dashboards.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
