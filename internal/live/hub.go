// Package live pushes room events (import progress, votes, ranking changes)
// to connected websocket clients.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vbonduro/vowselect/internal/logging"
)

// Event types
const (
	EventImportProgress  = "import.progress"
	EventVoteCast        = "vote.cast"
	EventVoteUndone      = "vote.undone"
	EventRankingsChanged = "rankings.changed"
	EventUserJoined      = "user.joined"
)

// Event is one message sent to every client in a room.
type Event struct {
	Type      string    `json:"type"`
	RoomID    int64     `json:"room_id"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is one websocket connection subscribed to a room.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	roomID int64
}

// Hub fans events out to the clients of each room. All membership changes
// happen on the Run goroutine.
type Hub struct {
	clients    map[int64]map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *slog.Logger

	mu    sync.RWMutex
	count map[int64]int
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[int64]map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logging.Component(logger, "live"),
		count:      make(map[int64]int),
	}
}

// Publish queues an event for the room. It never blocks; when the hub is
// backed up the event is dropped.
func (h *Hub) Publish(roomID int64, eventType string, data any) {
	ev := &Event{Type: eventType, RoomID: roomID, Data: data, Timestamp: time.Now().UTC()}
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("live event dropped", "room_id", roomID, "type", eventType)
	}
}

// Clients returns the number of connections subscribed to the room.
func (h *Hub) Clients(roomID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count[roomID]
}

// Run processes registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, clients := range h.clients {
				for c := range clients {
					close(c.send)
				}
			}
			h.clients = make(map[int64]map[*Client]bool)
			h.mu.Lock()
			h.count = make(map[int64]int)
			h.mu.Unlock()
			return

		case c := <-h.register:
			if h.clients[c.roomID] == nil {
				h.clients[c.roomID] = make(map[*Client]bool)
			}
			h.clients[c.roomID][c] = true
			h.setCount(c.roomID)

		case c := <-h.unregister:
			h.remove(c)

		case ev := <-h.broadcast:
			msg, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("failed to marshal live event", "type", ev.Type, "error", err)
				continue
			}
			for c := range h.clients[ev.RoomID] {
				select {
				case c.send <- msg:
				default:
					// Slow consumer.
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	clients, ok := h.clients[c.roomID]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.clients, c.roomID)
	}
	h.setCount(c.roomID)
}

func (h *Hub) setCount(roomID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.clients[roomID]); n > 0 {
		h.count[roomID] = n
	} else {
		delete(h.count, roomID)
	}
}
