package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"nhooyr.io/websocket"

	"github.com/JustinTDCT/ListVault/internal/models"
)

// ──────────────────── WebSocket Hub ────────────────────

// WSHub fans job lifecycle events out to connected clients. Non-terminal jobs
// are tracked so a freshly connected client sees everything in flight.
type WSHub struct {
	mu         sync.RWMutex
	clients    map[*wsClient]bool
	activeJobs map[string]json.RawMessage // job_id → last job:update payload
	jobsMu     sync.RWMutex
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

type wsMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]bool),
		activeJobs: make(map[string]json.RawMessage),
	}
}

// JobEvent implements jobs.Notifier.
func (h *WSHub) JobEvent(job *models.Job) {
	msg, err := json.Marshal(wsMessage{Event: "job:update", Data: job})
	if err != nil {
		return
	}

	h.jobsMu.Lock()
	if job.Status.Terminal() {
		delete(h.activeJobs, job.JobID)
	} else {
		h.activeJobs[job.JobID] = msg
	}
	h.jobsMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

// sendActiveJobs replays in-flight job state to a newly connected client.
func (h *WSHub) sendActiveJobs(client *wsClient) {
	h.jobsMu.RLock()
	defer h.jobsMu.RUnlock()
	for _, msg := range h.activeJobs {
		select {
		case client.send <- msg:
		default:
		}
	}
}

func (h *WSHub) addClient(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *WSHub) removeClient(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ──────────────────── WebSocket Handler ────────────────────

// handleWebSocket upgrades /jobs/events. Browsers cannot set headers on an
// upgrade request, so the worker secret is also accepted as ?token=.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.WorkerSecret != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if !secretMatches(token, s.cfg.WorkerSecret) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}
	s.wsHub.addClient(client)
	s.wsHub.sendActiveJobs(client)
	s.logger.Debug().Int("clients", s.wsHub.ClientCount()).Msg("websocket client connected")

	ctx := r.Context()

	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "")
		for msg := range client.send {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}()

	// Reader loop keeps the connection alive and drains client pings.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	s.wsHub.removeClient(client)
	s.logger.Debug().Int("clients", s.wsHub.ClientCount()).Msg("websocket client disconnected")
}
