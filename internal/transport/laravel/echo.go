package laravel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/unishare/unisync/internal/chat"
)

// Pusher protocol events.
const (
	evConnectionEstablished = "pusher:connection_established"
	evError                 = "pusher:error"
	evPing                  = "pusher:ping"
	evPong                  = "pusher:pong"
	evSubscribe             = "pusher:subscribe"
	evUnsubscribe           = "pusher:unsubscribe"
	evSubscribed            = "pusher_internal:subscription_succeeded"
)

const (
	// DefaultChannelPattern is the private channel UniShare broadcasts on.
	DefaultChannelPattern = "private-chat.%s"
	// DefaultEventName is the broadcast event class for new messages.
	DefaultEventName = `App\Events\MessageSent`

	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	defaultActivity  = 120 * time.Second
	maxFrameSize     = 1 << 20
)

// ErrClosed is returned by Subscribe after the socket was closed.
var ErrClosed = errors.New("echo connection closed")

// Authorizer signs private channel subscriptions.
type Authorizer interface {
	Authorize(ctx context.Context, socketID, channel string) (string, error)
}

// EchoConfig configures the push socket.
type EchoConfig struct {
	// URL is the websocket endpoint including the app key, e.g.
	// wss://unishare.example/app/KEY?protocol=7&client=unisync&version=1.0
	URL            string
	ChannelPattern string
	EventName      string
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
}

type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type subscription struct {
	chatID   string
	handlers map[int]func(chat.Message)
}

// Echo is a Laravel Echo compatible client for the Pusher protocol. It
// keeps one socket, reconnects with backoff, and re-subscribes every channel
// after a reconnect.
type Echo struct {
	cfg    EchoConfig
	auth   Authorizer
	logger *zap.Logger
	dialer *websocket.Dialer

	mu          sync.Mutex
	conn        *websocket.Conn
	socketID    string
	subs        map[string]*subscription
	nextHandler int
	onReconnect func()
	onState     func(connected bool)
	closed      bool

	writeMu sync.Mutex
}

// NewEcho creates a push client. Call Run to connect.
func NewEcho(cfg EchoConfig, auth Authorizer, logger *zap.Logger) *Echo {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChannelPattern == "" {
		cfg.ChannelPattern = DefaultChannelPattern
	}
	if cfg.EventName == "" {
		cfg.EventName = DefaultEventName
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &Echo{
		cfg:    cfg,
		auth:   auth,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		subs:   make(map[string]*subscription),
	}
}

// OnReconnect registers fn to run after every successful reconnect, once
// channels have been re-subscribed.
func (e *Echo) OnReconnect(fn func()) {
	e.mu.Lock()
	e.onReconnect = fn
	e.mu.Unlock()
}

// OnStateChange registers fn to run whenever the socket connects or drops.
func (e *Echo) OnStateChange(fn func(connected bool)) {
	e.mu.Lock()
	e.onState = fn
	e.mu.Unlock()
}

// Connected reports whether the socket is currently up.
func (e *Echo) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

// Channel returns the channel name for a chat.
func (e *Echo) Channel(chatID string) string {
	return fmt.Sprintf(e.cfg.ChannelPattern, chatID)
}

// Run keeps the socket connected until ctx is cancelled.
func (e *Echo) Run(ctx context.Context) {
	backoff := e.cfg.ReconnectMin
	connectedBefore := false
	for {
		err := e.session(ctx, connectedBefore)
		if ctx.Err() != nil || errors.Is(err, ErrClosed) {
			return
		}
		if errors.Is(err, errSessionEstablished) {
			connectedBefore = true
			backoff = e.cfg.ReconnectMin
		}
		e.logger.Warn("push socket disconnected", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, e.cfg.ReconnectMax)
	}
}

// errSessionEstablished wraps the read error of a session that got past the
// handshake, so Run can reset its backoff.
var errSessionEstablished = errors.New("session ended")

func (e *Echo) session(ctx context.Context, reconnect bool) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	conn, _, err := e.dialer.DialContext(ctx, e.cfg.URL, http.Header{})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)

	socketID, activity, err := handshake(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	e.conn = conn
	e.socketID = socketID
	channels := make([]string, 0, len(e.subs))
	for ch := range e.subs {
		channels = append(channels, ch)
	}
	onState, onReconnect := e.onState, e.onReconnect
	e.mu.Unlock()

	e.logger.Info("push socket connected", zap.String("socket_id", socketID), zap.Int("channels", len(channels)))
	if onState != nil {
		onState(true)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()
	go e.keepAlive(sessionCtx, conn, activity)

	for _, ch := range channels {
		if err := e.sendSubscribe(sessionCtx, conn, socketID, ch); err != nil {
			e.logger.Warn("resubscribe failed", zap.String("channel", ch), zap.Error(err))
		}
	}
	if reconnect && onReconnect != nil {
		go onReconnect()
	}

	err = e.readLoop(conn, activity)

	e.mu.Lock()
	if e.conn == conn {
		e.conn = nil
		e.socketID = ""
	}
	e.mu.Unlock()
	if onState != nil {
		onState(false)
	}
	return fmt.Errorf("%w: %w", errSessionEstablished, err)
}

func handshake(conn *websocket.Conn) (string, time.Duration, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		return "", 0, fmt.Errorf("handshake: %w", err)
	}
	if f.Event != evConnectionEstablished {
		return "", 0, fmt.Errorf("handshake: unexpected event %q", f.Event)
	}
	data, err := stringOrObject(f.Data)
	if err != nil {
		return "", 0, fmt.Errorf("handshake data: %w", err)
	}
	var est struct {
		SocketID        string `json:"socket_id"`
		ActivityTimeout int    `json:"activity_timeout"`
	}
	if err := json.Unmarshal(data, &est); err != nil || est.SocketID == "" {
		return "", 0, fmt.Errorf("handshake: no socket id in %s", data)
	}
	activity := defaultActivity
	if est.ActivityTimeout > 0 {
		activity = time.Duration(est.ActivityTimeout) * time.Second
	}
	return est.SocketID, activity, nil
}

// keepAlive sends a protocol ping every activity period.
func (e *Echo) keepAlive(ctx context.Context, conn *websocket.Conn, activity time.Duration) {
	ticker := time.NewTicker(activity)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.write(conn, frame{Event: evPing, Data: json.RawMessage(`{}`)}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *Echo) readLoop(conn *websocket.Conn, activity time.Duration) error {
	for {
		// The server pongs our pings, so silence for two periods means the
		// connection is gone.
		_ = conn.SetReadDeadline(time.Now().Add(2 * activity))
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		switch f.Event {
		case evPing:
			if err := e.write(conn, frame{Event: evPong, Data: json.RawMessage(`{}`)}); err != nil {
				return err
			}
		case evPong:
		case evSubscribed:
			e.logger.Debug("channel subscribed", zap.String("channel", f.Channel))
		case evError:
			e.logger.Warn("push protocol error", zap.ByteString("data", f.Data))
		case e.cfg.EventName:
			e.dispatch(f)
		default:
			e.logger.Debug("ignored push event", zap.String("event", f.Event), zap.String("channel", f.Channel))
		}
	}
}

func (e *Echo) dispatch(f frame) {
	data, err := stringOrObject(f.Data)
	if err != nil {
		e.logger.Warn("undecodable push payload", zap.String("channel", f.Channel), zap.Error(err))
		return
	}
	w, err := decodeMessage(data)
	if err != nil {
		e.logger.Warn("unrecognized push payload", zap.String("channel", f.Channel), zap.Error(err))
		return
	}

	e.mu.Lock()
	sub, ok := e.subs[f.Channel]
	var handlers []func(chat.Message)
	var chatID string
	if ok {
		chatID = sub.chatID
		for _, h := range sub.handlers {
			handlers = append(handlers, h)
		}
	}
	e.mu.Unlock()

	m := w.toMessage()
	if m.ChatID == "" {
		m.ChatID = chatID
	}
	for _, h := range handlers {
		h(m)
	}
}

// Subscribe listens for new messages in chatID. When the socket is down the
// subscription is recorded and sent on the next connect.
func (e *Echo) Subscribe(ctx context.Context, chatID string, onMessage func(chat.Message)) (func(), error) {
	channel := e.Channel(chatID)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	sub, exists := e.subs[channel]
	if !exists {
		sub = &subscription{chatID: chatID, handlers: make(map[int]func(chat.Message))}
		e.subs[channel] = sub
	}
	id := e.nextHandler
	e.nextHandler++
	sub.handlers[id] = onMessage
	conn, socketID := e.conn, e.socketID
	e.mu.Unlock()

	unsubscribe := sync.OnceFunc(func() { e.removeHandler(channel, id) })

	if !exists && conn != nil {
		if err := e.sendSubscribe(ctx, conn, socketID, channel); err != nil {
			unsubscribe()
			return nil, err
		}
	}
	return unsubscribe, nil
}

func (e *Echo) removeHandler(channel string, id int) {
	e.mu.Lock()
	sub, ok := e.subs[channel]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(sub.handlers, id)
	if len(sub.handlers) > 0 {
		e.mu.Unlock()
		return
	}
	delete(e.subs, channel)
	conn := e.conn
	e.mu.Unlock()

	if conn != nil {
		data, _ := json.Marshal(map[string]string{"channel": channel})
		if err := e.write(conn, frame{Event: evUnsubscribe, Data: data}); err != nil {
			e.logger.Debug("unsubscribe not sent", zap.String("channel", channel), zap.Error(err))
		}
	}
}

func (e *Echo) sendSubscribe(ctx context.Context, conn *websocket.Conn, socketID, channel string) error {
	payload := map[string]string{"channel": channel}
	if strings.HasPrefix(channel, "private-") || strings.HasPrefix(channel, "presence-") {
		sig, err := e.auth.Authorize(ctx, socketID, channel)
		if err != nil {
			return fmt.Errorf("authorize %s: %w", channel, err)
		}
		payload["auth"] = sig
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return e.write(conn, frame{Event: evSubscribe, Data: data})
}

func (e *Echo) write(conn *websocket.Conn, f frame) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

// Close drops the socket and rejects further subscriptions. Run returns
// once its context is cancelled.
func (e *Echo) Close() error {
	e.mu.Lock()
	e.closed = true
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()
	if conn == nil {
		return nil
	}
	e.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	e.writeMu.Unlock()
	return conn.Close()
}
