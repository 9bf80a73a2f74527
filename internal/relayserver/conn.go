package relayserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"walkroom/native/internal/signal"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

var errSendBufferFull = errors.New("send buffer full")

// Conn is a websocket member of a room.
type Conn struct {
	id   string
	room string
	ws   *websocket.Conn
	send chan []byte
	hub  *Hub
	log  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps an upgraded websocket.
func NewConn(id, room string, ws *websocket.Conn, hub *Hub, logger *slog.Logger) *Conn {
	return &Conn{
		id:   id,
		room: room,
		ws:   ws,
		send: make(chan []byte, 256),
		hub:  hub,
		log:  logger,
		done: make(chan struct{}),
	}
}

func (c *Conn) ID() string   { return c.id }
func (c *Conn) Room() string { return c.room }

func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close stops the write pump, which closes the socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Start registers the connection, confirms the join and runs the pumps.
func (c *Conn) Start() {
	c.hub.Register(c)
	joined, _ := json.Marshal(signal.Frame{Op: signal.OpJoined, Room: c.room})
	_ = c.Send(joined)
	go c.writePump()
	go c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Error("read error", "clientId", c.id, "error", err)
			}
			return
		}
		c.handle(data)
	}
}

func (c *Conn) handle(data []byte) {
	var f signal.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.log.Warn("invalid frame", "clientId", c.id, "error", err)
		return
	}
	switch f.Op {
	case signal.OpPublish:
		if f.Room != "" && f.Room != c.room {
			c.log.Warn("publish to foreign room", "clientId", c.id, "room", f.Room)
			return
		}
		out, err := json.Marshal(signal.Frame{Op: signal.OpMessage, Room: c.room, Payload: f.Payload})
		if err != nil {
			c.log.Error("marshal frame", "error", err)
			return
		}
		c.hub.Broadcast(c, out)
	default:
		c.log.Warn("unknown op", "clientId", c.id, "op", f.Op)
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
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
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
