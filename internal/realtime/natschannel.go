package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"buzzmaster-console/internal/domain"
)

// NATSChannel is the broker-backed driver for deployments where the buzzer
// relay speaks NATS instead of a direct websocket. Outbound envelopes go to
// SubjectOut, inbound arrive on SubjectIn. Reconnects are delegated to the
// NATS client.
type NATSChannel struct {
	url        string
	subjectIn  string
	subjectOut string
	opts       NATSOptions
	log        zerolog.Logger

	events chan Message
	closed chan struct{}
	once   sync.Once

	mu        sync.RWMutex
	nc        *nats.Conn
	sub       *nats.Subscription
	sessionID string
}

// NATSOptions tune the broker driver. Zero values fall back to defaults.
type NATSOptions struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	// MaxReconnects caps reconnect attempts; 0 means unlimited.
	MaxReconnects int
}

// NewNATSChannel builds a driver publishing to subjectOut and consuming
// subjectIn on the broker at url.
func NewNATSChannel(url, subjectIn, subjectOut string, opts NATSOptions, log zerolog.Logger) *NATSChannel {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	return &NATSChannel{
		url:        url,
		subjectIn:  subjectIn,
		subjectOut: subjectOut,
		opts:       opts,
		log:        log.With().Str("component", "nats-channel").Logger(),
		events:     make(chan Message, 64),
		closed:     make(chan struct{}),
	}
}

// Connect dials the broker and subscribes to the inbound subject. There is
// no relay handshake over NATS; the session identity is generated locally.
func (c *NATSChannel) Connect(ctx context.Context) error {
	maxReconnects := c.opts.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = -1
	}
	opts := []nats.Option{
		nats.Timeout(c.opts.ConnectTimeout),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(c.opts.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.log.Warn().Err(err).Msg("broker disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.log.Info().Str("url", nc.ConnectedUrl()).Msg("broker reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			c.log.Error().Err(err).Msg("broker error")
		}),
	}

	nc, err := nats.Connect(c.url, opts...)
	if err != nil {
		return err
	}

	sub, err := nc.Subscribe(c.subjectIn, func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			c.log.Warn().Err(err).Str("subject", m.Subject).Msg("dropping malformed broker message")
			return
		}
		select {
		case c.events <- msg:
		case <-c.closed:
		}
	})
	if err != nil {
		nc.Close()
		return err
	}

	c.mu.Lock()
	c.nc = nc
	c.sub = sub
	c.sessionID = uuid.NewString()
	c.mu.Unlock()
	return nil
}

// Send publishes one typed payload to the outbound subject.
func (c *NATSChannel) Send(msgType string, payload any) error {
	c.mu.RLock()
	nc := c.nc
	c.mu.RUnlock()
	if nc == nil || !nc.IsConnected() {
		return domain.ErrNotConnected
	}

	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return nc.Publish(c.subjectOut, raw)
}

// Events streams inbound messages until Close.
func (c *NATSChannel) Events() <-chan Message {
	return c.events
}

// Connected reports broker liveness.
func (c *NATSChannel) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nc != nil && c.nc.IsConnected()
}

// SessionID is the locally generated identity for this console run.
func (c *NATSChannel) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Close drains the subscription and closes the connection. Events stops
// delivering but stays open; a callback may still be in flight inside the
// NATS dispatcher when Close returns, so consumers exit on their own context.
func (c *NATSChannel) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.mu.Lock()
		if c.sub != nil {
			_ = c.sub.Unsubscribe()
		}
		if c.nc != nil {
			c.nc.Close()
		}
		c.mu.Unlock()
	})
	return nil
}
