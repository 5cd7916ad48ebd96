package subscriber

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ariefcatur/go-resto-orders/internal/broadcast"
)

// WSDialer dials the /ws push endpoint. The server pings every few seconds;
// a connection that stays silent past PongWait is considered dead.
type WSDialer struct {
	URL      string
	PongWait time.Duration
}

func (d *WSDialer) Dial(ctx context.Context, join broadcast.Join) (Conn, error) {
	pongWait := d.PongWait
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetWriteDeadline(deadline)
		_ = ws.SetReadDeadline(deadline)
	}
	if err := ws.WriteJSON(join); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	var ack broadcast.Event
	if err := ws.ReadJSON(&ack); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("read join ack: %w", err)
	}
	if ack.Name != broadcast.EventConnected {
		_ = ws.Close()
		return nil, fmt.Errorf("join rejected: %v", ack.Data)
	}
	_ = ws.SetWriteDeadline(time.Time{})

	c := &wsConn{ws: ws, pongWait: pongWait}
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	return c, nil
}

type wsConn struct {
	ws       *websocket.Conn
	pongWait time.Duration
}

func (c *wsConn) ReadEvent() (broadcast.Event, error) {
	var ev broadcast.Event
	if err := c.ws.ReadJSON(&ev); err != nil {
		return ev, err
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	return ev, nil
}

func (c *wsConn) Close() error { return c.ws.Close() }
