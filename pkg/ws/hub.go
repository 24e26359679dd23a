package ws

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub maintains the set of live dashboard connections and fans anomaly
// events out to them. Slow clients are dropped rather than allowed to
// block the broadcast path.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()

			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

			log.Printf("Stream client connected: %s", client.conn.RemoteAddr())
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					log.Printf("Stream client %s not keeping up, dropping", client.conn.RemoteAddr())
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Stop() {
	close(h.done)
}

// BroadcastAnomalies publishes newly stored anomaly records to every
// connected client as a single JSON envelope.
func (h *Hub) BroadcastAnomalies(records interface{}) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":    "anomalies",
		"payload": records,
	})
	if err != nil {
		log.Printf("Error marshaling anomaly broadcast: %v", err)
		return
	}

	select {
	case h.broadcast <- payload:
	case <-h.done:
	}
}

// ClientCount reports how many stream clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
