package event

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// clientMessage is one JSON frame received from a realtime client.
type clientMessage struct {
	Event          string `json:"event"`
	PlanID         string `json:"plan_id,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
	ExecutionID    string `json:"execution_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// chanSender queues frames for one connection's writer loop. Send never
// blocks: a full buffer fails the send so a slow client cannot stall a
// broadcast.
type chanSender struct {
	ch chan Message
}

func (s *chanSender) Send(msg Message) error {
	select {
	case s.ch <- msg:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// WSHandler upgrades dashboard clients to websocket connections and bridges
// them to the subscription manager.
type WSHandler struct {
	manager  *Manager
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates a websocket handler bound to the given manager.
func NewWSHandler(manager *Manager, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "ws_handler"),
	}
}

// Handle is the Gin handler for realtime connections. One logical channel per
// connection; the client subscribes to plans over it. A client that
// reconnects must resubscribe; there is no backlog replay.
func (h *WSHandler) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	sendCh := make(chan Message, 64)
	done := make(chan struct{})

	h.manager.Connect(connID, &chanSender{ch: sendCh})
	defer h.manager.Disconnect(connID)

	// Reader goroutine: parses client frames and drives the manager.
	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			h.dispatch(connID, sendCh, data)
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg := <-sendCh:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// dispatch handles one client frame. Protocol errors are answered on the
// connection, never escalated.
func (h *WSHandler) dispatch(connID string, sendCh chan Message, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(sendCh, "invalid message")
		return
	}

	switch msg.Event {
	case MsgSubscribe:
		_, err := h.manager.Subscribe(connID, msg.PlanID, SubscribeOptions{
			RequestID:      msg.RequestID,
			ExecutionID:    msg.ExecutionID,
			SubscriptionID: msg.SubscriptionID,
		})
		if err != nil {
			h.sendError(sendCh, err.Error())
		}
	case MsgUnsubscribe:
		if _, err := h.manager.Unsubscribe(connID, msg.SubscriptionID, msg.PlanID); err != nil {
			h.sendError(sendCh, err.Error())
		}
	case MsgPing:
		h.manager.Ping(connID)
	default:
		h.sendError(sendCh, "unknown event: "+msg.Event)
	}
}

func (h *WSHandler) sendError(sendCh chan Message, message string) {
	select {
	case sendCh <- Message{
		Event: MsgError,
		Data:  map[string]any{"message": message},
		TS:    time.Now().UnixMilli(),
	}:
	default:
		h.logger.Warn("dropped error frame (buffer full)")
	}
}
