package apitest

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is the socket envelope.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub fans socket events out to every connected client. Run is the only
// goroutine that touches clients.
type Hub struct {
	clients    map[*socketClient]bool
	register   chan *socketClient
	unregister chan *socketClient
	broadcast  chan []byte
	quit       chan struct{}
	stopOnce   sync.Once

	mu      sync.Mutex
	emitted []Event
	count   int
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*socketClient]bool),
		register:   make(chan *socketClient),
		unregister: make(chan *socketClient),
		broadcast:  make(chan []byte),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.setCount(len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.setCount(len(h.clients))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.setCount(len(h.clients))

		case <-h.quit:
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.setCount(0)
			return
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

func (h *Hub) Push(event string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	b, _ := json.Marshal(Event{Event: event, Data: raw})
	select {
	case h.broadcast <- b:
	case <-h.quit:
	}
}

func (h *Hub) Emitted() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.emitted...)
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// relay records an inbound event and forwards it the way the real service
// does: chat.message becomes chat.conversation.{id}, status changes are
// rebroadcast unchanged.
func (h *Hub) relay(ev Event) {
	h.mu.Lock()
	h.emitted = append(h.emitted, ev)
	h.mu.Unlock()

	switch ev.Event {
	case "chat.message":
		var m struct {
			ConversationID string `json:"conversation_id"`
		}
		if json.Unmarshal(ev.Data, &m) != nil || m.ConversationID == "" {
			return
		}
		h.Push("chat.conversation."+m.ConversationID, ev.Data)
	case "chat.message.state":
		h.Push(ev.Event, ev.Data)
	}
}

type socketClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(userKey).(string)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &socketClient{hub: s.hub, conn: conn, send: make(chan []byte, 256), userID: userID}
	select {
	case s.hub.register <- c:
	case <-s.hub.quit:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (c *socketClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var ev Event
		if json.Unmarshal(data, &ev) != nil {
			continue
		}
		go c.hub.relay(ev)
	}
}

func (c *socketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
