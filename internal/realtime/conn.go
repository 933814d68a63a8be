package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

var (
	ErrNotConnected  = errors.New("realtime: not connected")
	ErrSendQueueFull = errors.New("realtime: send queue full")
)

// Conn is the authenticated push connection. Inbound frames go to the hub;
// Emit queues outbound frames for the write pump.
type Conn struct {
	url    string
	hub    *Hub
	dialer *websocket.Dialer
	log    *zap.Logger

	mu   sync.Mutex
	link *link
}

type link struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (l *link) close() {
	l.closeOnce.Do(func() { close(l.done) })
}

type ConnOption func(*Conn)

func WithDialer(d *websocket.Dialer) ConnOption {
	return func(c *Conn) { c.dialer = d }
}

func WithConnLogger(log *zap.Logger) ConnOption {
	return func(c *Conn) { c.log = log }
}

func NewConn(rawURL string, hub *Hub, opts ...ConnOption) *Conn {
	c := &Conn{
		url:    rawURL,
		hub:    hub,
		dialer: websocket.DefaultDialer,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the endpoint with the session token. It is a no-op while a
// connection is already open.
func (c *Conn) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link != nil {
		return nil
	}

	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	l := &link{ws: ws, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	c.link = l
	go c.writePump(l)
	go c.readPump(l)
	c.log.Info("socket_connected", zap.String("url", c.url))
	return nil
}

// Close tears down the current connection. Safe to call repeatedly.
func (c *Conn) Close() error {
	c.mu.Lock()
	l := c.link
	c.link = nil
	c.mu.Unlock()
	if l == nil {
		return nil
	}
	l.close()
	c.log.Info("socket_closed")
	return nil
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil
}

// Emit queues one event for the server. It never blocks.
func (c *Conn) Emit(event string, data interface{}) error {
	env, err := NewEnvelope(event, data)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}
	select {
	case l.send <- b:
		return nil
	case <-l.done:
		return ErrNotConnected
	default:
		return ErrSendQueueFull
	}
}

// forget clears l if it is still the current link.
func (c *Conn) forget(l *link) {
	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	c.mu.Unlock()
}

func (c *Conn) readPump(l *link) {
	defer func() {
		l.close()
		c.forget(l)
		l.ws.Close()
	}()

	l.ws.SetReadLimit(maxMessageSize)
	l.ws.SetReadDeadline(time.Now().Add(pongWait))
	l.ws.SetPongHandler(func(string) error {
		l.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	// The server pings too; answering resets our own deadline.
	l.ws.SetPingHandler(func(data string) error {
		l.ws.SetReadDeadline(time.Now().Add(pongWait))
		err := l.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				select {
				case <-l.done:
				default:
					c.log.Warn("socket_read_failed", zap.Error(err))
				}
			}
			return
		}
		// Servers may batch several frames separated by newlines.
		for _, frame := range bytes.Split(data, []byte{'\n'}) {
			frame = bytes.TrimSpace(frame)
			if len(frame) == 0 {
				continue
			}
			var env Envelope
			if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
				c.log.Debug("socket_frame_ignored", zap.ByteString("frame", frame))
				continue
			}
			c.hub.Dispatch(env)
		}
	}
}

func (c *Conn) writePump(l *link) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.ws.Close()
	}()

	for {
		select {
		case msg := <-l.send:
			l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Warn("socket_write_failed", zap.Error(err))
				l.close()
				return
			}

		case <-ticker.C:
			l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.close()
				return
			}

		case <-l.done:
			l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			l.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
