// Package client is a Go client for the portal messaging server. It dials
// the websocket endpoint, frames packets with the portal codec and
// reconnects with bounded exponential backoff when the link drops.
package client

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devgrid/portal/pkg/protocol"
)

// ConnectionStateType represents the connection status
type ConnectionStateType int

const (
	StateTypeConnected ConnectionStateType = iota
	StateTypeDisconnected
	StateTypeReconnecting
	StateTypeGivenUp
)

// ConnectionStateUpdate represents a connection state change
type ConnectionStateUpdate struct {
	State   ConnectionStateType
	Attempt int
	Err     error
}

// ErrNotConnected is returned by Send while the link is down.
var ErrNotConnected = errors.New("not connected")

// Identity carries the connection parameters. Set UserID for user clients
// or DevSN (with DevName and DevFW for first registration) for devices.
type Identity struct {
	UserID  string
	DevSN   string
	DevName string
	DevFW   string
}

// Options tune the reconnect policy. Zero values select the defaults.
type Options struct {
	// DialTimeout bounds the websocket handshake.
	DialTimeout time.Duration
	// ReconnectDelay is the initial backoff after a drop.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
	// MaxReconnectAttempts bounds the retry loop. Zero keeps the default;
	// a negative value disables reconnection entirely.
	MaxReconnectAttempts int
	// Logger receives connection events. Nil discards them.
	Logger *log.Logger
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.DialTimeout == 0 {
		out.DialTimeout = 10 * time.Second
	}
	if out.ReconnectDelay == 0 {
		out.ReconnectDelay = 1 * time.Second
	}
	if out.MaxReconnectDelay == 0 {
		out.MaxReconnectDelay = 30 * time.Second
	}
	if out.MaxReconnectAttempts == 0 {
		out.MaxReconnectAttempts = 10
	}
	return out
}

// Connection is a client connection to the portal messaging server.
type Connection struct {
	wsURL    string
	identity Identity
	opts     Options

	mu           sync.RWMutex
	conn         *websocket.Conn
	connected    bool
	reconnecting bool

	incoming    chan *protocol.Packet
	stateChange chan ConnectionStateUpdate

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewConnection builds a connection to addr (host:port or a ws:// / wss://
// URL). It does not dial; call Connect.
func NewConnection(addr string, identity Identity, opts Options) (*Connection, error) {
	wsURL, err := buildURL(addr, identity)
	if err != nil {
		return nil, err
	}

	return &Connection{
		wsURL:       wsURL,
		identity:    identity,
		opts:        opts.withDefaults(),
		incoming:    make(chan *protocol.Packet, 100),
		stateChange: make(chan ConnectionStateUpdate, 10),
		shutdown:    make(chan struct{}),
	}, nil
}

// buildURL assembles the websocket URL with the identity query parameters.
func buildURL(addr string, identity Identity) (string, error) {
	if identity.UserID == "" && identity.DevSN == "" {
		return "", errors.New("identity requires a UserID or a DevSN")
	}
	if identity.UserID != "" && identity.DevSN != "" {
		return "", errors.New("identity cannot carry both a UserID and a DevSN")
	}

	// A bare host:port parses as Scheme=host, so default the scheme first.
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid server address %q: %w", addr, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}

	q := u.Query()
	if identity.UserID != "" {
		q.Set("UserID", identity.UserID)
	} else {
		q.Set("DevSN", identity.DevSN)
		if identity.DevName != "" {
			q.Set("DevName", identity.DevName)
		}
		if identity.DevFW != "" {
			q.Set("DevFW", identity.DevFW)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Connect dials the server and starts the read loop.
func (c *Connection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	dialer := &websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}
	ws, _, err := dialer.Dial(c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.wsURL, err)
	}

	c.conn = ws
	c.connected = true

	c.wg.Add(1)
	go c.readLoop(ws)

	c.notify(ConnectionStateUpdate{State: StateTypeConnected})
	return nil
}

// Close shuts the connection down permanently.
func (c *Connection) Close() {
	c.closeOnce.Do(func() { close(c.shutdown) })

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.mu.Unlock()

	c.wg.Wait()
}

// IsConnected reports whether the link is currently up.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Incoming delivers decoded packets from the server.
func (c *Connection) Incoming() <-chan *protocol.Packet {
	return c.incoming
}

// StateChanges delivers connection state transitions.
func (c *Connection) StateChanges() <-chan ConnectionStateUpdate {
	return c.stateChange
}

// Send encodes and writes one packet.
func (c *Connection) Send(header, argument string, value any) error {
	frame, err := protocol.Encode(header, argument, value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *Connection) logf(format string, args ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Printf(format, args...)
	}
}

func (c *Connection) notify(update ConnectionStateUpdate) {
	select {
	case c.stateChange <- update:
	default:
	}
}

// readLoop pumps frames from one websocket until it dies, then hands off
// to the reconnect policy.
func (c *Connection) readLoop(ws *websocket.Conn) {
	defer c.wg.Done()

	for {
		msgType, frame, err := ws.ReadMessage()
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		pkt, err := protocol.Decode(frame)
		if err != nil {
			c.logf("dropping undecodable frame: %v", err)
			continue
		}

		select {
		case c.incoming <- pkt:
		case <-c.shutdown:
			return
		}
	}
}

func (c *Connection) handleDisconnect(cause error) {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	select {
	case <-c.shutdown:
		return
	default:
	}

	if !wasConnected {
		return
	}

	c.logf("disconnected: %v", cause)
	c.notify(ConnectionStateUpdate{State: StateTypeDisconnected, Err: cause})

	if c.opts.MaxReconnectAttempts > 0 {
		go c.reconnectLoop()
	}
}

// reconnectLoop retries the dial with exponential backoff until it
// succeeds, the attempt budget runs out or the connection is closed.
func (c *Connection) reconnectLoop() {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	delay := c.opts.ReconnectDelay

	for attempt := 1; attempt <= c.opts.MaxReconnectAttempts; attempt++ {
		select {
		case <-c.shutdown:
			return
		case <-time.After(delay):
		}

		c.logf("reconnect attempt %d of %d", attempt, c.opts.MaxReconnectAttempts)
		c.notify(ConnectionStateUpdate{State: StateTypeReconnecting, Attempt: attempt})

		if err := c.Connect(); err == nil {
			c.logf("reconnected after %d attempts", attempt)
			return
		} else {
			c.logf("reconnect attempt %d failed: %v", attempt, err)
		}

		delay *= 2
		if delay > c.opts.MaxReconnectDelay {
			delay = c.opts.MaxReconnectDelay
		}
	}

	c.logf("giving up after %d reconnect attempts", c.opts.MaxReconnectAttempts)
	c.notify(ConnectionStateUpdate{State: StateTypeGivenUp})
}
