package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	roomGames = "games"

	wsWriteWait = 5 * time.Second
)

func userRoom(playerID string) string {
	return "user:" + playerID
}

var upgrader = websocket.Upgrader{
	// Connections are authenticated by token, not by origin.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub tracks websocket connections by room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*wsConn]struct{}
}

// wsConn serializes writes; a gorilla connection supports one concurrent writer.
type wsConn struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	rooms []string
}

func (c *wsConn) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*wsConn]struct{}),
	}
}

func (h *Hub) join(conn *websocket.Conn, rooms ...string) *wsConn {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &wsConn{conn: conn, rooms: rooms}
	for _, r := range rooms {
		if h.rooms[r] == nil {
			h.rooms[r] = make(map[*wsConn]struct{})
		}
		h.rooms[r][c] = struct{}{}
	}
	return c
}

func (h *Hub) leave(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, r := range c.rooms {
		if conns, ok := h.rooms[r]; ok {
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.rooms, r)
			}
		}
	}
	c.conn.Close()
}

// Broadcast writes msg to every connection in room and drops the ones that fail.
// It returns the number of failed writes.
func (h *Hub) Broadcast(room string, msg []byte) int {
	h.mu.RLock()
	conns := make([]*wsConn, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	failed := 0
	for _, c := range conns {
		if err := c.write(msg); err != nil {
			slog.Debug("ws: write failed", "room", room, "error", err)
			h.leave(c)
			failed++
		}
	}
	return failed
}

// Size returns the number of connections in room.
func (h *Hub) Size(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[*wsConn]struct{})
	for _, conns := range h.rooms {
		for c := range conns {
			if _, ok := seen[c]; !ok {
				c.conn.Close()
				seen[c] = struct{}{}
			}
		}
	}
	h.rooms = make(map[string]map[*wsConn]struct{})
}

// ServeWS upgrades the request and subscribes the caller to the games room and their own room.
func (a *API) ServeWS(c *gin.Context) {
	p := playerFrom(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(c.Request.Context(), "ws: upgrade failed", "player_id", p.ID, "error", err)
		return
	}

	wc := a.hub.join(conn, roomGames, userRoom(p.ID))
	defer a.hub.leave(wc)

	// Clients only listen; reading drives control frames and detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
