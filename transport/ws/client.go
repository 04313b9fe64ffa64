// Package ws keeps the editor connected to the relay. It dials, redials
// forever with a fixed backoff, and hands decoded envelopes to the session
// loop.
package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slighter12/graph-livesync/clock"
	"github.com/slighter12/graph-livesync/logger"
	"github.com/slighter12/graph-livesync/runloop"
	"github.com/slighter12/graph-livesync/wire"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("ws client closed")

// Settings tune a Client.
type Settings struct {
	URL              string
	StartupDelay     time.Duration
	ReconnectBackoff time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval is how often a ping is written while open. Zero disables
	// pings and read deadlines.
	PingInterval time.Duration
	// ReadTimeout bounds the silence tolerated between frames or pongs.
	ReadTimeout time.Duration
}

// DefaultSettings returns settings for url.
func DefaultSettings(url string) Settings {
	return Settings{
		URL:              url,
		StartupDelay:     time.Second,
		ReconnectBackoff: 2 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     15 * time.Second,
		ReadTimeout:      45 * time.Second,
	}
}

// Hooks are invoked through the client's poster, never concurrently with
// each other when the poster is a runloop.
type Hooks struct {
	OnOpen     func()
	OnClose    func()
	OnEnvelope func(wire.Envelope)
}

// Client is a reconnecting websocket connection to the relay.
type Client struct {
	settings Settings
	clock    clock.Clock
	poster   runloop.Poster
	hooks    Hooks
	dialer   *websocket.Dialer

	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	// writeMu serializes writers; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a client. Nothing is dialed until Run.
func New(settings Settings, clk clock.Clock, poster runloop.Poster, hooks Hooks) *Client {
	if clk == nil {
		clk = clock.Real()
	}
	if poster == nil {
		poster = runloop.Inline()
	}
	if settings.ReconnectBackoff <= 0 {
		settings.ReconnectBackoff = DefaultSettings("").ReconnectBackoff
	}
	return &Client{
		settings: settings,
		clock:    clk,
		poster:   poster,
		hooks:    hooks,
		dialer: &websocket.Dialer{
			HandshakeTimeout: settings.HandshakeTimeout,
		},
		stopped: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	if c.state == StateStopped || c.state == state {
		c.mu.Unlock()
		return
	}
	previous := c.state
	c.state = state
	c.mu.Unlock()
	logger.Debug("Relay connection state changed", "from", previous.String(), "to", state.String(), "url", c.settings.URL)
}

// Run connects and keeps reconnecting until ctx is done or Close is called.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopped:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		c.mu.Lock()
		c.state = StateStopped
		c.mu.Unlock()
	}()

	if !c.wait(ctx, c.settings.StartupDelay) {
		return c.exitErr(ctx)
	}

	for {
		c.setState(StateConnecting)
		conn, _, err := c.dialer.DialContext(ctx, c.settings.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return c.exitErr(ctx)
			}
			logger.Debug("Relay dial failed", "url", c.settings.URL, "error", err)
		} else {
			c.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return c.exitErr(ctx)
		}

		c.setState(StateClosedRetrying)
		c.post(c.hooks.OnClose)

		if !c.wait(ctx, c.settings.ReconnectBackoff) {
			return c.exitErr(ctx)
		}
	}
}

func (c *Client) exitErr(ctx context.Context) error {
	select {
	case <-c.stopped:
		return ErrClosed
	default:
	}
	return ctx.Err()
}

func (c *Client) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(d):
		return true
	}
}

// serve owns conn until it fails or ctx ends.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	serveCtx, serveCancel := context.WithCancel(ctx)
	defer serveCancel()
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	go func() {
		<-serveCtx.Done()
		conn.Close()
	}()

	if c.settings.PingInterval > 0 && c.settings.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		})
		go c.ping(serveCtx, conn)
	}

	c.setState(StateOpen)
	logger.Info("Connected to relay", "url", c.settings.URL)
	c.post(c.hooks.OnOpen)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if serveCtx.Err() == nil {
				logger.Info("Relay connection closed", "url", c.settings.URL, "error", err)
			}
			return
		}
		if c.settings.ReadTimeout > 0 && c.settings.PingInterval > 0 {
			conn.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			c.deliver(wire.Frame{Binary: messageType == websocket.BinaryMessage, Data: data})
		}
	}
}

func (c *Client) deliver(frame wire.Frame) {
	envelopes, err := wire.DecodeFrame(frame)
	if err != nil {
		logger.Warn("Dropping undecodable relay frame", "error", err, "binary", frame.Binary, "size", len(frame.Data))
	}
	if c.hooks.OnEnvelope == nil {
		return
	}
	for _, env := range envelopes {
		c.poster.Post(func() { c.hooks.OnEnvelope(env) })
	}
}

func (c *Client) ping(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.settings.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.writeTimeout())
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debug("Relay ping failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) post(fn func()) {
	if fn != nil {
		c.poster.Post(fn)
	}
}

func (c *Client) writeTimeout() time.Duration {
	if c.settings.WriteTimeout > 0 {
		return c.settings.WriteTimeout
	}
	return 5 * time.Second
}

// Send writes env if the connection is open. Messages sent while not open
// are dropped; Send reports whether env was written.
func (c *Client) Send(env wire.Envelope) bool {
	data, err := wire.Encode(env)
	if err != nil {
		logger.Error("Failed to encode envelope", "cmd", string(env.Cmd), "error", err)
		return false
	}
	return c.write(data, string(env.Cmd))
}

func (c *Client) write(data []byte, what string) bool {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open || conn == nil {
		logger.Debug("Dropping outbound message while not connected", "cmd", what)
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.writeTimeout()))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// A failed write leaves the connection unusable; the reader notices.
		logger.Info("Relay write failed", "cmd", what, "error", err)
		conn.Close()
		return false
	}
	return true
}

// Close stops the client for good. Run returns ErrClosed.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.stopped)
		c.mu.Lock()
		c.state = StateStopped
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		logger.Debug("Relay client closed", "url", c.settings.URL)
	})
}
