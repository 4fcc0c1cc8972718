package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"whisperd/internal/domain"
)

// EventHandler is the application side of the transport: it handles one
// decoded request at a time per connection and is told when a connection
// goes away.
type EventHandler interface {
	HandleEvent(ctx context.Context, connID, event string, data json.RawMessage) (success bool, result any)
	HandleDisconnect(connID string)
}

// Hub upgrades websockets, tracks live connections and their room
// memberships, and fans frames out to them. It implements
// domain.Broadcaster; all emits are best effort.
type Hub struct {
	log      zerolog.Logger
	handler  EventHandler
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*Conn
	rooms map[string]map[string]struct{}
}

// NewHub builds a hub accepting the given origin; "*" accepts any.
func NewHub(log zerolog.Logger, origin string) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return origin == "*" || r.Header.Get("Origin") == origin
			},
		},
		conns: make(map[string]*Conn),
		rooms: make(map[string]map[string]struct{}),
	}
}

// SetHandler wires the application in. Must be called before ServeHTTP.
func (h *Hub) SetHandler(handler EventHandler) { h.handler = handler }

// ServeHTTP upgrades the request and runs the connection until it drops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &Conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, sendQueueSize),
		hub:  h,
	}
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	h.log.Debug().Str("conn_id", c.id).Str("remote", ws.RemoteAddr().String()).Msg("connection opened")

	go c.writePump()
	c.readPump(r.Context())
}

// drop unregisters the connection and tells the application. Safe to call
// once per connection; the read pump is its only caller.
func (h *Hub) drop(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.id)
	for _, members := range h.rooms {
		delete(members, c.id)
	}
	close(c.send)
	h.mu.Unlock()

	h.log.Debug().Str("conn_id", c.id).Msg("connection closed")
	h.handler.HandleDisconnect(c.id)
}

// Join adds the connection to a room.
func (h *Hub) Join(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]struct{})
	}
	h.rooms[room][connID] = struct{}{}
}

// Leave removes the connection from a room.
func (h *Hub) Leave(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[room], connID)
}

// LeaveAll removes the connection from every room.
func (h *Hub) LeaveAll(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, members := range h.rooms {
		delete(members, connID)
	}
}

// Broadcast emits an event to every connection, optionally skipping one.
func (h *Hub) Broadcast(event string, payload any, skip string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		if id == skip {
			continue
		}
		c.enqueue(push{Event: event, Data: payload})
	}
}

// ToRoom emits an event to every connection in the room.
func (h *Hub) ToRoom(room, event string, payload any) {
	h.toRoom(room, event, payload, "")
}

// ToRoomSkip emits an event to the room, skipping one connection.
func (h *Hub) ToRoomSkip(room, event string, payload any, skip string) {
	h.toRoom(room, event, payload, skip)
}

func (h *Hub) toRoom(room, event string, payload any, skip string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.rooms[room] {
		if id == skip {
			continue
		}
		if c, ok := h.conns[id]; ok {
			c.enqueue(push{Event: event, Data: payload})
		}
	}
}

var _ domain.Broadcaster = (*Hub)(nil)
