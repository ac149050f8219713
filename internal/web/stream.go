package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hpungsan/beacon/internal/capsule"
	"github.com/hpungsan/beacon/internal/errors"
	"github.com/hpungsan/beacon/internal/metrics"
	"github.com/hpungsan/beacon/internal/session"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	streamBuffer = 64
)

// Stream message types.
const (
	StreamSnapshot      = "snapshot"
	StreamContextUpdate = "context_update"
	StreamError         = "error"
	StreamClientUpdate  = "update"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StreamMessage is sent to websocket clients.
type StreamMessage struct {
	Type    string                 `json:"type"`
	Context *capsule.Capsule       `json:"context,omitempty"`
	History []capsule.HistoryEntry `json:"history,omitempty"`
	Entry   *capsule.HistoryEntry  `json:"entry,omitempty"`
	Remote  bool                   `json:"remote,omitempty"`
	Error   *errorObject           `json:"error,omitempty"`
}

// ClientMessage is received from websocket clients. The only type is
// "update", whose context object is applied as a patch in key order.
type ClientMessage struct {
	Type    string         `json:"type"`
	Context *capsule.Patch `json:"context"`
}

// HandleStream handles GET /users/{id}/ws. The client receives a snapshot
// of the session, then every local and remote update as it happens.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	s, err := h.sessions.Get(r.Context(), userID)
	if err != nil {
		renderError(w, h.logger, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Debug("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()

	out := make(chan StreamMessage, streamBuffer)
	cancel := s.Watch(func(u session.Update) {
		msg := StreamMessage{Type: StreamContextUpdate, Context: u.Capsule, Entry: u.Entry, Remote: u.Remote}
		select {
		case out <- msg:
		default:
			h.logger.Warn("stream client too slow, dropping update", zap.String("user_id", userID))
		}
	})
	defer cancel()

	done := make(chan struct{})
	go h.readStream(r.Context(), conn, s, out, done)
	defer func() {
		conn.Close()
		<-done
	}()

	if err := writeMessage(conn, StreamMessage{Type: StreamSnapshot, Context: s.Capsule(), History: s.History()}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-h.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case msg := <-out:
			if err := writeMessage(conn, msg); err != nil {
				h.logger.Debug("stream write failed", zap.String("user_id", userID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readStream applies client updates until the connection fails. Errors are
// reported to the client through out.
func (h *Handlers) readStream(ctx context.Context, conn *websocket.Conn, s *session.Session, out chan<- StreamMessage, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("stream closed", zap.String("user_id", s.UserID()), zap.Error(err))
			}
			return
		}

		if err := h.applyClientMessage(ctx, s, data); err != nil {
			obj := toErrorObject(err)
			select {
			case out <- StreamMessage{Type: StreamError, Error: &obj}:
			default:
			}
		}
	}
}

func (h *Handlers) applyClientMessage(ctx context.Context, s *session.Session, data []byte) error {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return errors.NewInvalidRequest("invalid message: " + err.Error())
	}
	if msg.Type != StreamClientUpdate {
		return errors.NewUnrecognizedAction("message", msg.Type)
	}
	if msg.Context.Len() == 0 {
		return errors.NewInvalidRequest("at least one context field must be provided")
	}
	return s.UpdateContext(ctx, msg.Context)
}

func writeMessage(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
