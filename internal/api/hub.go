package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/assessment-engine/internal/models"
)

const feedWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans update events out to connected agents
type Hub struct {
	mu      sync.RWMutex
	clients map[*feedClient]struct{}
}

type feedClient struct {
	conn *websocket.Conn
	user *models.User
	mu   sync.Mutex // gorilla connections allow one concurrent writer
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{clients: make(map[*feedClient]struct{})}
}

// Len returns the number of connected clients
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends the event to every client allowed to see one of its countries
func (h *Hub) Broadcast(ev models.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal feed event", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*feedClient, 0, len(h.clients))
	for c := range h.clients {
		if wantsEvent(c.user, ev.Countries) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(data); err != nil {
			slog.Debug("failed to send feed event", "error", err, "user", c.user.Name)
			h.remove(c)
		}
	}
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*feedClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.conn.Close()
		feedClients.Dec()
	}
}

func (h *Hub) add(c *feedClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	feedClients.Inc()
}

func (h *Hub) remove(c *feedClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
		feedClients.Dec()
	}
}

func (c *feedClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// wantsEvent reports whether the user sees assessments of any of the countries
func wantsEvent(u *models.User, countries []string) bool {
	if len(countries) == 0 || u.Role == models.RoleSuperAdmin {
		return true
	}
	if u.IsCoordinator() {
		for _, c := range countries {
			if slices.Contains(u.Countries(), c) {
				return true
			}
		}
		return false
	}
	return slices.Contains(countries, u.AssignedCountry)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}

	c := &feedClient{conn: conn, user: user}
	s.hub.add(c)
	defer s.hub.remove(c)

	slog.Info("feed client connected", "user", user.Name)

	hello, _ := json.Marshal(models.Event{Type: "connected", Timestamp: s.now().UTC().Format(time.RFC3339Nano)})
	if err := c.write(hello); err != nil {
		return
	}

	// Agents never send; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "error", err)
			}
			break
		}
	}

	slog.Info("feed client disconnected", "user", user.Name)
}
