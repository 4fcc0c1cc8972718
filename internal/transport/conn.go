package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20

	sendQueueSize = 256
)

// Conn is one live websocket. Requests are handled serially in arrival
// order on the read pump; outbound frames go through a buffered queue
// drained by the write pump.
type Conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	hub  *Hub
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// enqueue queues a frame for delivery, dropping it if the client cannot
// keep up. The transport is best effort; clients resynchronize through
// regular requests.
func (c *Conn) enqueue(frame any) {
	raw, err := json.Marshal(frame)
	if err != nil {
		c.hub.log.Error().Err(err).Str("conn_id", c.id).Msg("marshal outbound frame")
		return
	}
	select {
	case c.send <- raw:
	default:
		c.hub.log.Warn().Str("conn_id", c.id).Msg("send queue full, dropping frame")
	}
}

func (c *Conn) readPump(ctx context.Context) {
	defer c.hub.drop(c)

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug().Err(err).Str("conn_id", c.id).Msg("read error")
			}
			return
		}
		var req request
		if err := json.Unmarshal(raw, &req); err != nil || req.Event == "" {
			c.hub.log.Debug().Str("conn_id", c.id).Msg("unparseable frame")
			continue
		}
		success, result := c.hub.handler.HandleEvent(ctx, c.id, req.Event, req.Data)
		if req.ID != nil {
			c.enqueue(ack{ID: *req.ID, Success: success, Result: result})
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case raw, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
