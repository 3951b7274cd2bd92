package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/candor-labs/interview-agent/internal/interview"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// clientConn carries one UI client's websocket. Events flow out through
// a buffered channel so a slow client sheds visualization frames
// instead of blocking the session.
type clientConn struct {
	ws     *websocket.Conn
	logger *slog.Logger
	send   chan interview.Event
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newClientConn(ws *websocket.Conn, logger *slog.Logger) *clientConn {
	return &clientConn{
		ws:     ws,
		logger: logger,
		send:   make(chan interview.Event, 256),
		done:   make(chan struct{}),
	}
}

// Send queues an event for the client. Never blocks; when the buffer is
// full the event is dropped, which only ever costs cosmetic frames.
func (c *clientConn) Send(ev interview.Event) {
	select {
	case <-c.done:
	case c.send <- ev:
	default:
		if ev.Type != interview.EventLevels {
			c.logger.Warn("send buffer full, dropping event", "type", ev.Type)
		}
	}
}

func (c *clientConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	return c.ws.Close()
}

func (c *clientConn) readPump(dispatch func(context.Context, ClientCommand)) {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("read error", "error", err)
			}
			return
		}

		var cmd ClientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.logger.Error("unmarshal error", "error", err)
			continue
		}

		dispatch(context.Background(), cmd)
	}
}

func (c *clientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case ev := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))

			data, err := json.Marshal(ev)
			if err != nil {
				c.logger.Error("marshal error", "error", err)
				continue
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error("write error", "error", err)
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
