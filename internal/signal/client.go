package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"walkroom/native/internal/domain"
)

// Frame ops shared with the relay server.
const (
	OpJoined  = "joined"
	OpPublish = "publish"
	OpMessage = "message"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultJoinTimeout  = 10 * time.Second
	writeWait           = 10 * time.Second
)

var (
	errNotJoined      = errors.New("not subscribed to room")
	errAlreadyJoined  = errors.New("already subscribed to room")
	errInvalidPayload = errors.New("payload is not valid JSON")
)

// Frame is the websocket message exchanged with the relay server.
type Frame struct {
	Op      string          `json:"op"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPingInterval sets how often the client pings the server.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.pingInterval = d }
}

// WithJoinTimeout bounds how long Subscribe waits for the server to confirm.
func WithJoinTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.joinTimeout = d }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// Client is a relay backed by the walkrelay websocket server. Every
// subscribed room gets its own connection to <base>/ws/<room>.
type Client struct {
	base         *url.URL
	dialer       *websocket.Dialer
	pingInterval time.Duration
	joinTimeout  time.Duration
	log          *slog.Logger

	mu    sync.Mutex
	rooms map[string]*roomConn
}

var _ domain.Relay = (*Client)(nil)

// NewClient creates a relay client for the server at base. Both ws(s) and
// http(s) schemes are accepted.
func NewClient(base string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("relay url %q: unsupported scheme %q", base, u.Scheme)
	}
	c := &Client{
		base:         u,
		dialer:       websocket.DefaultDialer,
		pingInterval: defaultPingInterval,
		joinTimeout:  defaultJoinTimeout,
		log:          slog.Default(),
		rooms:        make(map[string]*roomConn),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "signal")
	return c, nil
}

func (c *Client) roomURL(room string) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + url.PathEscape(room)
	return u.String()
}

// Subscribe dials the room and returns once the server has confirmed the
// join.
func (c *Client) Subscribe(ctx context.Context, room string, onMessage func([]byte), onLost func(error)) (domain.Subscription, error) {
	c.mu.Lock()
	_, exists := c.rooms[room]
	c.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("%s: %w", room, errAlreadyJoined)
	}

	target := c.roomURL(room)
	c.log.Info("connecting", "url", target)

	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if err := c.awaitJoin(conn, room); err != nil {
		conn.Close()
		return nil, err
	}

	rc := &roomConn{
		client:    c,
		room:      room,
		conn:      conn,
		onMessage: onMessage,
		onLost:    onLost,
		closed:    make(chan struct{}),
	}

	c.mu.Lock()
	if _, exists := c.rooms[room]; exists {
		c.mu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("%s: %w", room, errAlreadyJoined)
	}
	c.rooms[room] = rc
	c.mu.Unlock()

	readWait := 2 * c.pingInterval
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	go rc.readLoop()
	go rc.pingLoop(c.pingInterval)

	c.log.Info("joined room", "room", room)
	return rc, nil
}

func (c *Client) awaitJoin(conn *websocket.Conn, room string) error {
	conn.SetReadDeadline(time.Now().Add(c.joinTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("await join: %w", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("await join: unmarshal: %w", err)
	}
	if f.Op != OpJoined || f.Room != room {
		return fmt.Errorf("await join: unexpected frame op=%q room=%q", f.Op, f.Room)
	}
	return nil
}

// Publish sends data to the other members of room. The room must have been
// subscribed through this client.
func (c *Client) Publish(ctx context.Context, room string, data []byte) error {
	if !json.Valid(data) {
		return errInvalidPayload
	}
	c.mu.Lock()
	rc := c.rooms[room]
	c.mu.Unlock()
	if rc == nil {
		return fmt.Errorf("%s: %w", room, errNotJoined)
	}
	return rc.write(ctx, Frame{Op: OpPublish, Room: room, Payload: data})
}

// Close ends every subscription.
func (c *Client) Close() {
	c.mu.Lock()
	conns := make([]*roomConn, 0, len(c.rooms))
	for _, rc := range c.rooms {
		conns = append(conns, rc)
	}
	c.mu.Unlock()

	for _, rc := range conns {
		_ = rc.Unsubscribe()
	}
}

func (c *Client) forget(rc *roomConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rooms[rc.room] == rc {
		delete(c.rooms, rc.room)
	}
}

type roomConn struct {
	client    *Client
	room      string
	conn      *websocket.Conn
	onMessage func([]byte)
	onLost    func(error)

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

func (rc *roomConn) write(ctx context.Context, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	if rc.isClosed() {
		return fmt.Errorf("%s: %w", rc.room, errNotJoined)
	}
	rc.client.log.Debug(">>>", "room", rc.room, "op", f.Op, "bytes", len(f.Payload))
	rc.conn.SetWriteDeadline(deadline)
	if err := rc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (rc *roomConn) isClosed() bool {
	select {
	case <-rc.closed:
		return true
	default:
		return false
	}
}

// shutdown closes the connection and reports whether this call did it.
func (rc *roomConn) shutdown() bool {
	first := false
	rc.once.Do(func() {
		first = true
		close(rc.closed)
		rc.writeMu.Lock()
		rc.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = rc.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		rc.writeMu.Unlock()
		rc.conn.Close()
		rc.client.forget(rc)
	})
	return first
}

func (rc *roomConn) Unsubscribe() error {
	if rc.shutdown() {
		rc.client.log.Info("left room", "room", rc.room)
	}
	return nil
}

func (rc *roomConn) lost(err error) {
	if !rc.shutdown() {
		return
	}
	rc.client.log.Warn("relay connection lost", "room", rc.room, "err", err)
	if rc.onLost != nil {
		rc.onLost(err)
	}
}

func (rc *roomConn) readLoop() {
	for {
		_, data, err := rc.conn.ReadMessage()
		if err != nil {
			if rc.isClosed() {
				return
			}
			rc.lost(fmt.Errorf("websocket read: %w", err))
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			rc.client.log.Warn("unmarshal frame", "room", rc.room, "err", err)
			continue
		}
		switch f.Op {
		case OpMessage:
			rc.client.log.Debug("<<<", "room", rc.room, "bytes", len(f.Payload))
			if rc.onMessage != nil && !rc.isClosed() {
				rc.onMessage([]byte(f.Payload))
			}
		case OpJoined:
		default:
			rc.client.log.Debug("unhandled frame", "room", rc.room, "op", f.Op)
		}
	}
}

func (rc *roomConn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rc.closed:
			return
		case <-ticker.C:
			rc.writeMu.Lock()
			err := rc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			rc.writeMu.Unlock()
			if err != nil {
				if rc.isClosed() {
					return
				}
				rc.lost(fmt.Errorf("websocket ping: %w", err))
				return
			}
		}
	}
}
