package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/domain"
)

const (
	clientBuffer = 32
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
)

type progressClient struct {
	send  chan []byte
	runID string
}

// ProgressHub fans pipeline progress events out to websocket subscribers.
// A subscriber that falls behind loses events rather than stalling a run.
type ProgressHub struct {
	mu       sync.RWMutex
	clients  map[*progressClient]struct{}
	upgrader websocket.Upgrader
	logger   *logrus.Logger
	dropped  atomic.Int64
}

// NewProgressHub creates an empty hub.
func NewProgressHub(logger *logrus.Logger) *ProgressHub {
	return &ProgressHub{
		clients: make(map[*progressClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Publish delivers ev to every matching subscriber without blocking.
func (h *ProgressHub) Publish(ev domain.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode progress event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.runID != "" && c.runID != ev.RunID {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped counts events not delivered to slow subscribers.
func (h *ProgressHub) Dropped() int64 { return h.dropped.Load() }

// Subscribers is the number of connected clients.
func (h *ProgressHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *ProgressHub) register(c *progressClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *ProgressHub) unregister(c *progressClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Serve upgrades the request and streams events until the client goes away.
// The optional run_id query parameter limits the stream to one run.
func (h *ProgressHub) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Progress websocket upgrade failed")
		return
	}
	client := &progressClient{send: make(chan []byte, clientBuffer), runID: c.Query("run_id")}
	h.register(client)

	go h.writePump(conn, client)
	h.readPump(conn, client)
}

// readPump only watches for the close; clients send nothing meaningful.
func (h *ProgressHub) readPump(conn *websocket.Conn, client *progressClient) {
	defer func() {
		h.unregister(client)
		conn.Close()
	}()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *ProgressHub) writePump(conn *websocket.Conn, client *progressClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
