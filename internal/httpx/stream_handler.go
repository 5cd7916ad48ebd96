package httpx

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-resto-orders/internal/broadcast"
	"github.com/ariefcatur/go-resto-orders/internal/logging"
)

const (
	joinTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
)

// StreamHandler serves GET /ws. The first client message is a join
// ({"role":"admin","token":...} or {"order_id":...}); the server answers with
// a connected event and then pushes every event of that topic.
type StreamHandler struct {
	Hub          *broadcast.Hub
	AdminToken   string
	PingInterval time.Duration
	PongWait     time.Duration
	Upgrader     websocket.Upgrader
}

func NewStreamHandler(hub *broadcast.Hub, adminToken string, ping, pongWait time.Duration) *StreamHandler {
	if ping <= 0 {
		ping = 25 * time.Second
	}
	if pongWait <= ping {
		pongWait = ping * 12 / 5
	}
	return &StreamHandler{
		Hub:          hub,
		AdminToken:   adminToken,
		PingInterval: ping,
		PongWait:     pongWait,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// storefront and admin are served from other origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied
	}
	defer ws.Close()
	ctx := r.Context()

	_ = ws.SetReadDeadline(time.Now().Add(joinTimeout))
	var join broadcast.Join
	if err := ws.ReadJSON(&join); err != nil {
		logging.Debug(ctx, "stream join not received", zap.Error(err))
		return
	}
	topic := join.Topic()
	if topic == broadcast.TopicAdmin && !h.adminAllowed(join.Token) {
		h.reject(ws, "unauthorized")
		return
	}

	handle := h.Hub.NewHandle()
	if err := h.Hub.Subscribe(topic, handle); err != nil {
		h.reject(ws, err.Error())
		return
	}
	defer h.Hub.Unsubscribe(topic, handle)

	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteJSON(broadcast.Event{Topic: topic, Name: broadcast.EventConnected}); err != nil {
		return
	}
	logging.Info(ctx, "stream subscribed", zap.String("topic", topic), zap.Uint64("handle", uint64(handle.ID())))

	go h.readPump(ws, handle)
	h.writePump(ws, handle)
	logging.Info(ctx, "stream closed", zap.String("topic", topic), zap.Uint64("handle", uint64(handle.ID())))
}

func (h *StreamHandler) adminAllowed(token string) bool {
	if h.AdminToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.AdminToken)) == 1
}

func (h *StreamHandler) reject(ws *websocket.Conn, reason string) {
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = ws.WriteJSON(broadcast.Event{Name: "error", Data: reason})
	_ = ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
}

// readPump only watches liveness; clients send nothing after the join.
func (h *StreamHandler) readPump(ws *websocket.Conn, handle *broadcast.Handle) {
	defer handle.Close()
	_ = ws.SetReadDeadline(time.Now().Add(h.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.PongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHandler) writePump(ws *websocket.Conn, handle *broadcast.Handle) {
	ping := time.NewTicker(h.PingInterval)
	defer ping.Stop()

	for {
		select {
		case ev := <-handle.Events():
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-handle.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
			return
		}
	}
}
