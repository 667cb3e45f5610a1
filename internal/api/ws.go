package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sprite-ai/crev/internal/engine"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024 * 64,
	WriteBufferSize: 1024 * 64,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev; restrict in production
	},
}

// WebSocket message types from client.
const (
	wsMsgReview = "review"
	wsMsgCancel = "cancel"
)

// WebSocket message types to client.
const (
	wsMsgAccepted = "accepted"
	wsMsgStep     = "step"
	wsMsgResult   = "result"
	wsMsgError    = "error"
)

// wsMessage is the envelope for WebSocket messages in both directions.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// wsAccepted is sent once a review request has been validated.
type wsAccepted struct {
	Files   int `json:"files"`
	Ignored int `json:"ignored"`
}

// wsConn serializes writes; step events arrive from worker goroutines.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
	s    *Server
}

func (c *wsConn) send(msgType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.s.logger.Error("ws marshal", "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(wsMessage{Type: msgType, Data: raw}); err != nil {
		c.s.logger.Debug("ws write", "error", err)
	}
}

func (c *wsConn) sendError(msg string) {
	c.send(wsMsgError, map[string]string{"message": msg})
}

// reviewSession tracks the review running on one connection. At most one
// review runs at a time.
type reviewSession struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (rs *reviewSession) running() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.cancel != nil
}

func (rs *reviewSession) stop() {
	rs.mu.Lock()
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.mu.Unlock()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	c := &wsConn{conn: conn, s: s}
	session := &reviewSession{}
	defer session.wg.Wait()
	defer session.stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read", "error", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid message format")
			continue
		}

		switch msg.Type {
		case wsMsgReview:
			s.handleWSReview(r.Context(), c, session, msg.Data)
		case wsMsgCancel:
			if !session.running() {
				c.sendError("no review running")
				continue
			}
			session.stop()
		default:
			c.sendError("unknown message type: " + msg.Type)
		}
	}
}

func (s *Server) handleWSReview(parent context.Context, c *wsConn, session *reviewSession, data json.RawMessage) {
	if session.running() {
		c.sendError("review already running")
		return
	}

	var body reviewRequest
	if err := json.Unmarshal(data, &body); err != nil {
		c.sendError("invalid review data")
		return
	}
	req, ignored, err := s.buildRequest(body)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.send(wsMsgAccepted, wsAccepted{Files: len(req.Files), Ignored: len(ignored)})

	ctx, cancel := context.WithCancel(parent)
	session.mu.Lock()
	session.cancel = cancel
	session.mu.Unlock()

	session.wg.Add(1)
	go func() {
		defer session.wg.Done()
		defer func() {
			session.mu.Lock()
			session.cancel = nil
			session.mu.Unlock()
			cancel()
		}()

		observer := func(ev engine.Event) { c.send(wsMsgStep, ev) }
		res, err := s.review(ctx, req, engine.WithReviewObserver(observer))
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.send(wsMsgResult, reviewResponse{Result: res, Ignored: ignored})
	}()
}
