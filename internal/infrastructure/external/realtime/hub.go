package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// Message is the frame pushed to connected clients
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// session is one socket of a user; a user may hold several
type session struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// offer queues a frame without blocking; false means the buffer is full
func (s *session) offer(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// Hub tracks per-user websocket sessions and pushes notifications to them
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*session]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]map[*session]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Name implements port.NotificationChannel
func (h *Hub) Name() string {
	return "websocket"
}

// Deliver pushes the notification to every open session of the user.
// Offline users are not an error; the stored notification is still listed later.
func (h *Hub) Deliver(ctx context.Context, user *entity.User, n *entity.Notification) error {
	return h.Send(user.ID, Message{Type: "notification", Data: n})
}

// Send pushes a message to every session of userID. A session whose buffer is full is dropped.
func (h *Hub) Send(userID string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions[userID]))
	for s := range h.sessions[userID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var slow []*session
	for _, s := range targets {
		if !s.offer(payload) {
			slow = append(slow, s)
		}
	}
	for _, s := range slow {
		h.logger.Warn("Dropping slow websocket session", zap.String("user_id", userID))
		h.unregister(userID, s)
	}
	if len(targets) > 0 && len(slow) == len(targets) {
		return fmt.Errorf("all %d sessions of %s are saturated", len(targets), userID)
	}
	return nil
}

// Serve upgrades the request and registers the socket for userID until it closes
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade failed: %w", err)
	}

	s := &session{conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(userID, s)

	go h.writePump(userID, s)
	go h.readPump(userID, s)
	return nil
}

// Online returns the number of open sessions of a user
func (h *Hub) Online(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// Close disconnects every session
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.sessions
	h.sessions = make(map[string]map[*session]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for s := range set {
			s.close()
		}
	}
}

func (h *Hub) register(userID string, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[userID] == nil {
		h.sessions[userID] = make(map[*session]struct{})
	}
	h.sessions[userID][s] = struct{}{}
	h.logger.Info("Websocket session opened", zap.String("user_id", userID))
}

func (h *Hub) unregister(userID string, s *session) {
	h.mu.Lock()
	if set, ok := h.sessions[userID]; ok {
		if _, ok := set[s]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.sessions, userID)
			}
		}
	}
	h.mu.Unlock()
	s.close()
}

// readPump discards client frames; it exists to process control frames and notice disconnects
func (h *Hub) readPump(userID string, s *session) {
	defer h.unregister(userID, s)

	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Websocket read error", zap.String("user_id", userID), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(userID string, s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Warn("Websocket write failed", zap.String("user_id", userID), zap.Error(err))
				h.unregister(userID, s)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(userID, s)
				return
			}
		}
	}
}

var _ port.NotificationChannel = (*Hub)(nil)
