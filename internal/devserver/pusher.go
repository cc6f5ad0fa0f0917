package devserver

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// socket is one Pusher protocol connection.
type socket struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	channels map[string]bool
	done     chan struct{}
	once     sync.Once
}

func (c *socket) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// hub tracks sockets and the channels they joined.
type hub struct {
	srv    *Server
	logger *zap.Logger

	mu      sync.RWMutex
	sockets map[string]*socket
}

func newHub(srv *Server, logger *zap.Logger) *hub {
	return &hub{srv: srv, logger: logger, sockets: make(map[string]*socket)}
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &socket{
		id:       fmt.Sprintf("%d.%d", rand.IntN(1_000_000_000), rand.IntN(1_000_000_000)),
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		channels: make(map[string]bool),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	h.sockets[c.id] = c
	h.mu.Unlock()
	h.logger.Debug("socket connected", zap.String("socket_id", c.id))

	established, _ := json.Marshal(map[string]any{
		"socket_id":        c.id,
		"activity_timeout": h.srv.cfg.ActivityTimeout,
	})
	h.push(c, frame{Event: "pusher:connection_established", Data: quoted(established)})

	go h.writePump(c)
	h.readPump(c)
}

func (h *hub) readPump(c *socket) {
	defer func() {
		h.mu.Lock()
		delete(h.sockets, c.id)
		h.mu.Unlock()
		c.close()
		h.logger.Debug("socket closed", zap.String("socket_id", c.id))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("socket read failed", zap.String("socket_id", c.id), zap.Error(err))
			}
			return
		}
		switch f.Event {
		case "pusher:ping":
			h.push(c, frame{Event: "pusher:pong", Data: json.RawMessage(`{}`)})
		case "pusher:subscribe":
			h.subscribe(c, f.Data)
		case "pusher:unsubscribe":
			var req struct {
				Channel string `json:"channel"`
			}
			if json.Unmarshal(f.Data, &req) == nil {
				h.mu.Lock()
				delete(c.channels, req.Channel)
				h.mu.Unlock()
			}
		default:
			h.logger.Debug("ignored client event", zap.String("event", f.Event))
		}
	}
}

func (h *hub) subscribe(c *socket, data json.RawMessage) {
	var req struct {
		Channel string `json:"channel"`
		Auth    string `json:"auth"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Channel == "" {
		h.pushError(c, 4009, "malformed subscription")
		return
	}
	if _, ok := channelChat(req.Channel); !ok {
		h.pushError(c, 4009, "unknown channel "+req.Channel)
		return
	}
	if !h.srv.verifyChannel(c.id, req.Channel, req.Auth) {
		h.pushError(c, 4009, "invalid signature for "+req.Channel)
		return
	}

	h.mu.Lock()
	c.channels[req.Channel] = true
	h.mu.Unlock()
	h.logger.Debug("channel joined", zap.String("socket_id", c.id), zap.String("channel", req.Channel))
	h.push(c, frame{Event: "pusher_internal:subscription_succeeded", Channel: req.Channel, Data: quoted([]byte(`{}`))})
}

func (h *hub) writePump(c *socket) {
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *hub) push(c *socket, f frame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	case <-c.done:
	default:
		h.logger.Warn("socket send buffer full, dropping frame", zap.String("socket_id", c.id))
	}
}

func (h *hub) pushError(c *socket, code int, message string) {
	data, _ := json.Marshal(map[string]any{"code": code, "message": message})
	h.push(c, frame{Event: "pusher:error", Data: data})
}

// broadcastMessage sends m to every socket subscribed to its chat channel.
// Like Laravel broadcasting, the event data is a JSON encoded string.
func (h *hub) broadcastMessage(m Message) {
	payload, err := json.Marshal(map[string]Message{"message": m})
	if err != nil {
		return
	}
	channel := channelFor(m.ChatID)
	f := frame{Event: eventName, Channel: channel, Data: quoted(payload)}

	h.mu.RLock()
	var targets []*socket
	for _, c := range h.sockets {
		if c.channels[channel] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.push(c, f)
	}
}

func (h *hub) subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.sockets {
		if c.channels[channel] {
			n++
		}
	}
	return n
}

func (h *hub) dropAll() int {
	h.mu.RLock()
	all := make([]*socket, 0, len(h.sockets))
	for _, c := range h.sockets {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
	return len(all)
}

func quoted(b []byte) json.RawMessage {
	q, _ := json.Marshal(string(b))
	return q
}
