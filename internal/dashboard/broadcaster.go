// Package dashboard hosts the WebSocket fan-out hub for /ws/live.
//
// Grounded directly on the teacher's internal/dashboard/broadcaster.go
// (register/unregister/broadcast channels, non-blocking per-client send,
// drop-on-full-channel policy) — the hub's shape is identical, only the
// payload it carries changes (live price + latest decision instead of
// trade/metrics snapshots).
package dashboard

import (
	"log"
	"sync"
)

// Client is a single connected WebSocket subscriber.
type Client struct {
	ID   string
	Send chan any
}

// LiveMessage is the envelope pushed to every /ws/live subscriber every 2s:
// {timestamp, symbol, price, latest_decision, latest_decision_id}.
type LiveMessage struct {
	Timestamp         string `json:"timestamp"`
	Symbol            string `json:"symbol"`
	Price             float64 `json:"price"`
	LatestDecision    any    `json:"latest_decision,omitempty"`
	LatestDecisionID  int64  `json:"latest_decision_id,omitempty"`
}

// Broadcaster fans a stream of LiveMessage values out to every connected
// client, never blocking on a slow subscriber.
type Broadcaster struct {
	clients    map[*Client]bool
	broadcast  chan any
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *log.Logger
	shutdown   chan struct{}
}

// NewBroadcaster builds a Broadcaster. Call Run in its own goroutine.
func NewBroadcaster(logger *log.Logger) *Broadcaster {
	return &Broadcaster{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan any, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		shutdown:   make(chan struct{}),
	}
}

// Register admits a new client to future broadcasts.
func (b *Broadcaster) Register(client *Client) { b.register <- client }

// Unregister removes a client.
func (b *Broadcaster) Unregister(client *Client) { b.unregister <- client }

// Broadcast queues message for every registered client. It blocks while the
// 256-message queue is full, until Run drains a slot; Run does not return,
// so the shutdown case never fires and nothing is dropped here.
func (b *Broadcaster) Broadcast(message any) {
	select {
	case b.broadcast <- message:
	case <-b.shutdown:
	}
}

// Run is the hub's event loop; call it in its own goroutine.
func (b *Broadcaster) Run() {
	defer func() {
		b.logger.Println("dashboard: broadcaster shutting down")
		close(b.shutdown)
	}()

	for {
		select {
		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			b.mu.Unlock()
			b.logger.Printf("dashboard: client registered (total: %d)", len(b.clients))

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client.Send)
			}
			b.mu.Unlock()
			b.logger.Printf("dashboard: client unregistered (total: %d)", len(b.clients))

		case message := <-b.broadcast:
			b.mu.RLock()
			clients := make([]*Client, 0, len(b.clients))
			for c := range b.clients {
				clients = append(clients, c)
			}
			b.mu.RUnlock()

			for _, c := range clients {
				select {
				case c.Send <- message:
				default:
					b.logger.Printf("dashboard: client %s send buffer full, dropping message", c.ID)
				}
			}
		}
	}
}

// Shutdown closes every registered client's Send channel and empties the
// client set. It does not stop Run: later broadcasts are still queued and
// reach any client registered afterwards.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for client := range b.clients {
		close(client.Send)
	}
	b.clients = make(map[*Client]bool)
}

// ClientCount reports the number of currently connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
