package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"buzzmaster-console/internal/domain"
)

// WSChannel is the websocket driver for the buzzer relay. It dials as a
// client, sends the CONSOLE_CONNECT handshake, and reconnects on its own
// after transport drops.
type WSChannel struct {
	url            string
	connectTimeout time.Duration
	reconnectWait  time.Duration
	maxReconnects  int
	log            zerolog.Logger

	events chan Message
	send   chan Message
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	sessionID string
}

// WSOptions tune the websocket driver. Zero values fall back to defaults.
type WSOptions struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	// MaxReconnects caps consecutive reconnect attempts; 0 means unlimited.
	MaxReconnects int
}

// NewWSChannel builds a driver for the relay at url (ws:// or wss://).
func NewWSChannel(url string, opts WSOptions, log zerolog.Logger) *WSChannel {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	return &WSChannel{
		url:            url,
		connectTimeout: opts.ConnectTimeout,
		reconnectWait:  opts.ReconnectWait,
		maxReconnects:  opts.MaxReconnects,
		log:            log.With().Str("component", "ws-channel").Logger(),
		events:         make(chan Message, 64),
		send:           make(chan Message, 64),
		closed:         make(chan struct{}),
	}
}

// Connect dials the relay and starts the read and write pumps. The context
// bounds only this first dial; later reconnects run on the driver's policy.
func (c *WSChannel) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.adopt(conn)

	c.wg.Add(2)
	go c.readPump(conn)
	go c.writePump()

	return c.handshake()
}

func (c *WSChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *WSChannel) adopt(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
}

func (c *WSChannel) handshake() error {
	return c.Send(TypeConsoleConnect, ConsoleConnectPayload{Role: "console", Version: "1.0"})
}

// Send enqueues one outbound envelope. Fails fast while the transport is
// down so callers can log and carry on.
func (c *WSChannel) Send(msgType string, payload any) error {
	if !c.Connected() {
		return domain.ErrNotConnected
	}
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.closed:
		return domain.ErrNotConnected
	}
}

// Events streams inbound messages until Close.
func (c *WSChannel) Events() <-chan Message {
	return c.events
}

// Connected reports transport liveness.
func (c *WSChannel) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SessionID is the relay-assigned identity, empty before the handshake reply.
func (c *WSChannel) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Close tears the transport down and closes Events.
func (c *WSChannel) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.connected = false
		c.mu.Unlock()
		go func() {
			c.wg.Wait()
			close(c.events)
		}()
	})
	return nil
}

// readPump drains one connection, then hands off to the reconnect loop.
func (c *WSChannel) readPump(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			c.log.Warn().Err(err).Msg("relay connection lost")
			c.markDisconnected()
			c.reconnect()
			return
		}
		if msg.Type == TypeConnected {
			var payload ConnectedPayload
			if err := json.Unmarshal(msg.Payload, &payload); err == nil {
				c.mu.Lock()
				c.sessionID = payload.SessionID
				c.mu.Unlock()
			}
		}
		select {
		case c.events <- msg:
		case <-c.closed:
			return
		}
	}
}

func (c *WSChannel) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

// reconnect retries the dial until it succeeds, the attempt cap is hit, or
// the channel is closed. On success a fresh read pump takes over.
func (c *WSChannel) reconnect() {
	for attempt := 1; c.maxReconnects == 0 || attempt <= c.maxReconnects; attempt++ {
		select {
		case <-c.closed:
			return
		case <-time.After(c.reconnectWait):
		}

		c.log.Info().Int("attempt", attempt).Msg("reconnecting to relay")
		conn, err := c.dial(context.Background())
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}
		c.adopt(conn)
		if err := c.handshake(); err != nil {
			c.log.Warn().Err(err).Msg("handshake after reconnect failed")
		}
		c.wg.Add(1)
		go c.readPump(conn)
		return
	}
	c.log.Error().Msg("giving up reconnecting to relay")
}

// writePump is the sole writer; gorilla connections do not allow concurrent
// writes.
func (c *WSChannel) writePump() {
	defer c.wg.Done()
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				c.log.Warn().Str("type", msg.Type).Msg("dropping message, transport down")
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				c.log.Warn().Err(err).Str("type", msg.Type).Msg("relay write failed")
			}
		}
	}
}
