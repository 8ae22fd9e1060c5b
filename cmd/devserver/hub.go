package main

import (
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// wireRecord is the message shape exchanged with clients: pushed over room
// sockets, persisted, and returned by the history endpoint.
type wireRecord struct {
	Username    string `json:"username"`
	Content     string `json:"content"`
	CreatedAt   string `json:"createdAt"`
	MessageType string `json:"messageType,omitempty"`
	ImagePath   string `json:"imagePath,omitempty"`
}

// roomHub tracks rooms, their live socket connections, and an in-memory
// backlog used for history when no persistent store is attached. The room
// registry itself is in-memory; persisted history survives restarts but
// rooms must be re-created.
type roomHub struct {
	mu         sync.RWMutex
	rooms      map[string]*room
	store      *messageStore
	fanout     *redisFanout
	maxBacklog int
}

type room struct {
	name    string
	conns   map[*websocket.Conn]*sync.Mutex // per-connection write locks
	backlog []json.RawMessage
}

func newRoomHub(store *messageStore) *roomHub {
	return &roomHub{
		rooms:      make(map[string]*room),
		store:      store,
		maxBacklog: 500,
	}
}

func (h *roomHub) attachFanout(f *redisFanout) {
	h.mu.Lock()
	h.fanout = f
	h.mu.Unlock()
}

func (h *roomHub) createRoom(name string) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.rooms[id] = &room{name: name, conns: make(map[*websocket.Conn]*sync.Mutex)}
	h.mu.Unlock()
	return id
}

func (h *roomHub) roomName(id string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[id]
	if !ok {
		return "", false
	}
	return r.name, true
}

func (h *roomHub) listRooms() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]string, len(h.rooms))
	for id, r := range h.rooms {
		out[id] = r.name
	}
	return out
}

func (h *roomHub) deleteRoom(id string) bool {
	h.mu.Lock()
	r, ok := h.rooms[id]
	delete(h.rooms, id)
	h.mu.Unlock()
	if !ok {
		return false
	}
	for c, mu := range r.conns {
		mu.Lock()
		_ = c.SetWriteDeadline(time.Now().Add(10 * time.Second))
		_ = c.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "room deleted"))
		_ = c.Close()
		mu.Unlock()
	}
	if err := h.store.DeleteRoom(id); err != nil {
		log.Warn().Err(err).Str("room", id).Msg("[hub] delete room history")
	}
	return true
}

func (h *roomHub) register(roomID string, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	r.conns[conn] = &sync.Mutex{}
	return true
}

func (h *roomHub) unregister(roomID string, conn *websocket.Conn) {
	h.mu.Lock()
	if r, ok := h.rooms[roomID]; ok {
		delete(r.conns, conn)
	}
	h.mu.Unlock()
}

// broadcast persists rec and pushes it to the room. With a redis fanout
// attached, delivery goes through the subscription so every instance (this
// one included) writes to its local connections exactly once.
func (h *roomHub) broadcast(roomID string, rec wireRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Msg("[hub] marshal record")
		return
	}

	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if ok {
		r.backlog = append(r.backlog, payload)
		if h.maxBacklog > 0 && len(r.backlog) > h.maxBacklog {
			copy(r.backlog, r.backlog[len(r.backlog)-h.maxBacklog:])
			r.backlog = r.backlog[:h.maxBacklog]
		}
		// The store write stays under the lock so persisted order always
		// matches backlog and delivery order under concurrent broadcasts.
		if err := h.store.Append(roomID, rec); err != nil {
			log.Warn().Err(err).Str("room", roomID).Msg("[hub] persist message")
		}
	}
	fanout := h.fanout
	h.mu.Unlock()
	if !ok {
		return
	}
	if fanout != nil {
		if err := fanout.publish(roomID, payload); err == nil {
			return
		}
		log.Warn().Str("room", roomID).Msg("[hub] fanout publish failed, delivering locally")
	}
	h.deliver(roomID, payload)
}

// deliver writes one payload to every local connection in the room.
func (h *roomHub) deliver(roomID string, payload []byte) {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	conns := make(map[*websocket.Conn]*sync.Mutex, len(r.conns))
	for c, mu := range r.conns {
		conns[c] = mu
	}
	h.mu.RUnlock()

	for c, mu := range conns {
		mu.Lock()
		_ = c.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Debug().Err(err).Msg("[hub] write to client")
		}
		mu.Unlock()
	}
}

// history returns a room's records: the persistent store when attached,
// otherwise the in-memory backlog.
func (h *roomHub) history(roomID string) ([]json.RawMessage, error) {
	if h.store != nil {
		return h.store.LoadRoom(roomID)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return nil, nil
	}
	out := make([]json.RawMessage, len(r.backlog))
	copy(out, r.backlog)
	return out, nil
}

// closeAll force-closes all active connections (used during shutdown).
func (h *roomHub) closeAll() {
	h.mu.Lock()
	type target struct {
		c  *websocket.Conn
		mu *sync.Mutex
	}
	var targets []target
	for _, r := range h.rooms {
		for c, mu := range r.conns {
			targets = append(targets, target{c, mu})
		}
	}
	h.mu.Unlock()
	for _, t := range targets {
		t.mu.Lock()
		_ = t.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
		_ = t.c.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
		t.mu.Unlock()
	}
}
