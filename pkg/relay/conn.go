// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"

	"github.com/satoshipuzzles/jukebot/pkg/logger"
	"github.com/satoshipuzzles/jukebot/pkg/metrics"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

var minReconnectDelay = 5 * time.Second

var ErrNotConnected = errors.New("relay not connected")

// standingSub is a long-lived REQ. since is the lower bound sent when the
// REQ is replayed after a reconnect: one second past the newest event seen,
// and never earlier than the original subscribe time.
type standingSub struct {
	filter nostr.Filter
	since  nostr.Timestamp
}

// Conn is a single relay websocket. It owns a read loop, a pinger and, when
// reconnectInterval > 0, a reconnect loop that re-sends standing REQs.
type Conn struct {
	url               string
	handshakeTimeout  time.Duration
	reconnectInterval time.Duration
	onEnvelope        func(url string, env Envelope)

	ctx    context.Context
	cancel context.CancelFunc

	conn    *websocket.Conn
	mu      sync.Mutex
	writeMu sync.Mutex

	subs   map[string]*standingSub
	subsMu sync.Mutex
}

func newConn(url string, opts Options, onEnvelope func(string, Envelope)) *Conn {
	return &Conn{
		url:               url,
		handshakeTimeout:  opts.ConnectTimeout,
		reconnectInterval: opts.ReconnectInterval,
		onEnvelope:        onEnvelope,
		subs:              make(map[string]*standingSub),
	}
}

func (c *Conn) URL() string {
	return c.url
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Conn) connect(ctx context.Context) error {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}

	conn.SetPongHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	metrics.RelaysConnected.Inc()

	logger.InfoCF("relay", "Connected", map[string]any{"url": c.url})
	return nil
}

// start launches the background loops. ctx bounds the connection's lifetime.
func (c *Conn) start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		go c.pinger(conn)
		go c.listen(conn)
	}

	if c.reconnectInterval > 0 {
		go c.reconnectLoop()
	}
}

func (c *Conn) pinger(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				logger.DebugCF("relay", "Ping write failed, stopping pinger", map[string]any{
					"url":   c.url,
					"error": err.Error(),
				})
				return
			}
		}
	}
}

func (c *Conn) listen(conn *websocket.Conn) {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				logger.WarnCF("relay", "WebSocket read error", map[string]any{
					"url":   c.url,
					"error": err.Error(),
				})
			}
			c.drop(conn)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := ParseEnvelope(message)
		if err != nil {
			metrics.RelayMessages.WithLabelValues(c.url, "invalid").Inc()
			logger.DebugCF("relay", "Discarding malformed message", map[string]any{
				"url":     c.url,
				"error":   err.Error(),
				"payload": truncate(string(message), 200),
			})
			continue
		}
		if env.Label == LabelEvent && env.Event != nil {
			c.observe(env.SubID, env.Event.CreatedAt)
		}
		c.onEnvelope(c.url, env)
	}
}

// drop closes conn if it is still the current connection.
func (c *Conn) drop(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn && c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		metrics.RelaysConnected.Dec()
	}
}

func (c *Conn) reconnectLoop() {
	interval := c.reconnectInterval
	if interval < minReconnectDelay {
		interval = minReconnectDelay
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.Connected() {
				continue
			}

			logger.InfoCF("relay", "Attempting to reconnect", map[string]any{"url": c.url})
			dialCtx, cancel := context.WithTimeout(c.ctx, c.handshakeTimeout)
			err := c.connect(dialCtx)
			cancel()
			if err != nil {
				metrics.RelayReconnects.WithLabelValues(c.url, "error").Inc()
				logger.WarnCF("relay", "Reconnect failed", map[string]any{
					"url":   c.url,
					"error": err.Error(),
				})
				continue
			}
			metrics.RelayReconnects.WithLabelValues(c.url, "ok").Inc()

			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			go c.pinger(conn)
			go c.listen(conn)
			c.resubscribe()
		}
	}
}

// observe advances the resume point of a standing subscription. Timestamps
// ahead of the local clock are clamped so a future-dated event cannot hide
// real ones.
func (c *Conn) observe(subID string, createdAt nostr.Timestamp) {
	if now := nostr.Now(); createdAt > now {
		createdAt = now
	}
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if sub, ok := c.subs[subID]; ok && createdAt+1 > sub.since {
		sub.since = createdAt + 1
	}
}

// resubscribe replays every standing REQ with Since set to its resume point,
// so the relay does not resend history the bot already handled.
func (c *Conn) resubscribe() {
	c.subsMu.Lock()
	frames := make(map[string][]byte, len(c.subs))
	for subID, sub := range c.subs {
		filter := sub.filter
		since := sub.since
		filter.Since = &since
		frame, err := EncodeReq(subID, filter)
		if err != nil {
			logger.ErrorCF("relay", "Encoding REQ failed", map[string]any{"sub_id": subID, "error": err.Error()})
			continue
		}
		frames[subID] = frame
	}
	c.subsMu.Unlock()

	for subID, frame := range frames {
		if err := c.Send(frame); err != nil {
			logger.WarnCF("relay", "Re-subscribe failed", map[string]any{
				"url":    c.url,
				"sub_id": subID,
				"error":  err.Error(),
			})
		}
	}
}

// Send writes one text frame.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to %s: %w", c.url, err)
	}
	return nil
}

// Subscribe records a standing REQ and sends it. The REQ is re-sent after
// every reconnect for the life of the connection.
func (c *Conn) Subscribe(subID string, filter nostr.Filter) error {
	frame, err := EncodeReq(subID, filter)
	if err != nil {
		return err
	}
	since := nostr.Now()
	if filter.Since != nil && *filter.Since > since {
		since = *filter.Since
	}
	c.subsMu.Lock()
	c.subs[subID] = &standingSub{filter: filter, since: since}
	c.subsMu.Unlock()
	return c.Send(frame)
}

func (c *Conn) Close() error {
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()
	c.conn = nil
	metrics.RelaysConnected.Dec()
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
