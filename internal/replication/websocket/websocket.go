// Package websocket implements the replication channel over a relay
// WebSocket at /ws/rooms/{id}.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/sketchroom/whiteboard/internal/replication"
	"github.com/sketchroom/whiteboard/pkg/core"
	"github.com/sketchroom/whiteboard/pkg/streaming"
)

// Config holds the relay connection settings of one participant.
type Config struct {
	// URL is the relay base URL, e.g. ws://host:8080. http and https schemes
	// are rewritten to ws and wss.
	URL         string
	RoomID      string
	Participant string
	UserID      string
	Password    string
}

// RoomURL returns the WebSocket URL of the room.
func (c Config) RoomURL() string {
	base := strings.TrimSuffix(c.URL, "/")
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	}
	return base + "/ws/rooms/" + url.PathEscape(c.RoomID)
}

// Client is a replication.Channel backed by a relay WebSocket.
type Client struct {
	replication.Handlers

	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	conn   *connection
	joined streaming.JoinedMessage
}

var _ replication.Channel = (*Client)(nil)

// New creates a relay channel.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With("room", cfg.RoomID, "participant", cfg.Participant),
	}
}

// Subscribe connects to the relay and waits until it acknowledges the join.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	query := url.Values{}
	query.Set("participant", c.cfg.Participant)
	if c.cfg.UserID != "" {
		query.Set("user", c.cfg.UserID)
	}
	if c.cfg.Password != "" {
		query.Set("password", c.cfg.Password)
	}

	conn := newConnection(c.cfg.RoomURL(), query, c.deliver, c.logger)
	if err := conn.dial(ctx); err != nil {
		return err
	}
	joined, err := conn.awaitJoined(ctx, ackTimeout)
	if err != nil {
		_ = conn.close()
		return err
	}
	c.logger.Debug("Joined room", "members", joined.Members)
	c.conn = conn
	c.joined = joined
	return nil
}

// Members returns the member count reported when the room was joined.
func (c *Client) Members() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined.Members
}

func (c *Client) deliver(env streaming.Envelope) {
	if err := c.Deliver(env); err != nil {
		c.logger.Warn("Dropping undeliverable envelope", "type", env.Type, "error", err)
	}
}

// Unsubscribe detaches the handlers and closes the connection.
func (c *Client) Unsubscribe() error {
	c.Reset()
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.close()
}

func (c *Client) send(env streaming.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return replication.ErrNotSubscribed
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", env.Type, err)
	}
	conn.send(data)
	return nil
}

// BroadcastStroke sends a finished stroke (fire-and-forget).
func (c *Client) BroadcastStroke(ctx context.Context, s core.Stroke) error {
	env, err := replication.StrokeEnvelope(s)
	if err != nil {
		return err
	}
	return c.send(env)
}

// BroadcastClear sends a clear (fire-and-forget).
func (c *Client) BroadcastClear(ctx context.Context) error {
	return c.send(replication.ClearEnvelope())
}

// BroadcastCursor sends a cursor position (fire-and-forget).
func (c *Client) BroadcastCursor(ctx context.Context, pos core.CursorPosition) error {
	env, err := replication.CursorEnvelope(pos)
	if err != nil {
		return err
	}
	return c.send(env)
}
