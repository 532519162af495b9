// Package realtime pushes job status snapshots to subscribed websocket
// clients. The gateway is a stateless relay: per-job room membership is the
// only state it holds, everything it sends is sourced from the job store.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Ale866/malta-photogramme3d/internal/auth"
	"github.com/Ale866/malta-photogramme3d/internal/common"
	"github.com/Ale866/malta-photogramme3d/internal/job"
)

const (
	eventSubscribe = "job:subscribe"
	eventSnapshot  = "job:snapshot"
	eventUpdate    = "job:update"

	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second

	sendBuffer = 32
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type subscribePayload struct {
	JobID string `json:"jobId"`
}

type Hub struct {
	secret string
	jobs   *job.Lifecycle

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}

	upgrader websocket.Upgrader
}

func NewHub(jwtSecret string, jobs *job.Lifecycle) *Hub {
	return &Hub{
		secret: jwtSecret,
		jobs:   jobs,
		rooms:  make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// same dev posture as the HTTP CORS config
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID uint64
	send   chan []byte

	mu    sync.Mutex
	rooms map[string]struct{}
}

// bearerToken pulls the handshake credential from the auth query parameter
// or the Authorization header.
func bearerToken(c *gin.Context) string {
	if t := strings.TrimSpace(c.Query("token")); t != "" {
		return strings.TrimPrefix(t, "Bearer ")
	}
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// Handle authenticates the handshake and upgrades the connection. A missing
// or invalid credential is rejected before any subscription is possible.
func (h *Hub) Handle(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		common.Fail(c, http.StatusUnauthorized, 40102, "missing access token")
		return
	}
	uid, err := auth.ParseJWT(token, h.secret)
	if err != nil {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid or expired token")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	cl := &client{
		hub:    h,
		conn:   conn,
		userID: uid,
		send:   make(chan []byte, sendBuffer),
		rooms:  make(map[string]struct{}),
	}

	go cl.writePump()
	cl.readPump(c.Request.Context())
}

func (cl *client) readPump(ctx context.Context) {
	defer func() {
		cl.hub.drop(cl)
		close(cl.send)
		_ = cl.conn.Close()
	}()

	cl.conn.SetReadLimit(4096)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			continue
		}
		if f.Event != eventSubscribe {
			continue
		}
		var p subscribePayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			continue
		}
		cl.hub.subscribe(ctx, cl, strings.TrimSpace(p.JobID))
	}
}

func (cl *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()

	for {
		select {
		case b, ok := <-cl.send:
			if !ok {
				return
			}
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// subscribe joins the client to the job's room and sends an immediate full
// snapshot. Unknown jobs and jobs owned by someone else are silently
// ignored: subscriptions must not leak existence or ownership.
func (h *Hub) subscribe(ctx context.Context, cl *client, jobID string) {
	if jobID == "" {
		return
	}
	j, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		return
	}
	if j.OwnerID != cl.userID {
		return
	}

	h.mu.Lock()
	room, ok := h.rooms[jobID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[jobID] = room
	}
	room[cl] = struct{}{}
	h.mu.Unlock()

	cl.mu.Lock()
	cl.rooms[jobID] = struct{}{}
	cl.mu.Unlock()

	cl.push(marshalFrame(eventSnapshot, j.Snapshot()))
}

func (h *Hub) drop(cl *client) {
	cl.mu.Lock()
	joined := make([]string, 0, len(cl.rooms))
	for id := range cl.rooms {
		joined = append(joined, id)
	}
	cl.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range joined {
		if room, ok := h.rooms[id]; ok {
			delete(room, cl)
			if len(room) == 0 {
				delete(h.rooms, id)
			}
		}
	}
}

// push is fire-and-forget: a client that cannot keep up loses frames rather
// than stalling the broadcast. Nil frames (failed marshal) are dropped.
func (cl *client) push(b []byte) {
	if b == nil {
		return
	}
	select {
	case cl.send <- b:
	default:
	}
}

// Update broadcasts a snapshot to every connection subscribed to its job.
// Implements pipeline.Broadcaster.
func (h *Hub) Update(_ context.Context, snapshot job.StatusDTO) {
	b := marshalFrame(eventUpdate, snapshot)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for cl := range h.rooms[snapshot.JobID] {
		cl.push(b)
	}
}

func marshalFrame(event string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Printf("realtime_marshal_failed event=%s err=%v", event, err)
		return nil
	}
	b, _ := json.Marshal(frame{Event: event, Data: raw})
	return b
}
