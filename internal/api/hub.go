package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gonkalabs/kpg-client/internal/logging"
	"github.com/gonkalabs/kpg-client/internal/workflow"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer
	maxMessageSize = 512
	// Views buffered per subscriber before it is dropped as too slow
	sendBuffer = 32
)

// subscriber is one websocket watching one case.
type subscriber struct {
	caseID string
	send   chan workflow.View
}

// Hub fans session views out to the websockets watching each case.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
	log  *logging.Logger
}

// NewHub creates an empty Hub.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		subs: make(map[string]map[*subscriber]struct{}),
		log:  log.WithComponent("ws"),
	}
}

// Publish delivers v to every subscriber of its case. A subscriber whose
// buffer is full is dropped rather than stalling the workflow.
func (h *Hub) Publish(v workflow.View) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[v.CaseID] {
		select {
		case sub.send <- v:
		default:
			h.log.Warn("dropping slow subscriber", zap.String("case_id", v.CaseID))
			h.removeLocked(sub)
		}
	}
}

// CloseCase disconnects every subscriber of caseID.
func (h *Hub) CloseCase(caseID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[caseID] {
		h.removeLocked(sub)
	}
}

// Subscribers returns how many sockets watch caseID.
func (h *Hub) Subscribers(caseID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[caseID])
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sub.caseID] == nil {
		h.subs[sub.caseID] = make(map[*subscriber]struct{})
	}
	h.subs[sub.caseID][sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *subscriber) {
	set := h.subs[sub.caseID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.send)
	if len(set) == 0 {
		delete(h.subs, sub.caseID)
	}
}

// serve upgrades the request and streams views of s until either side
// closes. The current view is sent first.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, s *workflow.Session) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := &subscriber{caseID: s.CaseID(), send: make(chan workflow.View, sendBuffer)}
	sub.send <- s.View()
	h.add(sub)
	h.log.Debug("subscriber connected", zap.String("case_id", sub.caseID))

	go h.writePump(conn, sub)
	h.readPump(conn, sub)
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(conn *websocket.Conn, sub *subscriber) {
	defer func() {
		h.remove(sub)
		conn.Close()
	}()
	conn.SetReadLimit(maxMessageSize)
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

func (h *Hub) writePump(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case v, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(v); err != nil {
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
