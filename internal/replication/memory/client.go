package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sketchroom/whiteboard/internal/replication"
	"github.com/sketchroom/whiteboard/pkg/core"
	"github.com/sketchroom/whiteboard/pkg/streaming"
)

// Client is an in-process replication.Channel backed by a Hub.
type Client struct {
	replication.Handlers

	hub    *Hub
	roomID string
	id     string
	log    *slog.Logger

	mu     sync.Mutex
	member *Member
}

var _ replication.Channel = (*Client)(nil)

// NewClient creates a channel for participant id in roomID.
func NewClient(hub *Hub, roomID, id string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{hub: hub, roomID: roomID, id: id, log: log}
}

// Subscribe joins the room and starts delivering envelopes to the handlers.
func (c *Client) Subscribe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.member != nil {
		return nil
	}
	m, _ := c.hub.Join(c.roomID, c.id)
	c.member = m
	go c.deliverLoop(m)
	return nil
}

func (c *Client) deliverLoop(m *Member) {
	for env := range m.Receive() {
		if err := c.Deliver(env); err != nil {
			c.log.Warn("Dropping undeliverable envelope", "room", c.roomID, "type", env.Type, "error", err)
		}
	}
}

// Unsubscribe detaches the handlers and leaves the room.
func (c *Client) Unsubscribe() error {
	c.Reset()
	c.mu.Lock()
	m := c.member
	c.member = nil
	c.mu.Unlock()
	if m != nil {
		m.Leave()
	}
	return nil
}

func (c *Client) publish(env streaming.Envelope) error {
	c.mu.Lock()
	m := c.member
	c.mu.Unlock()
	if m == nil {
		return replication.ErrNotSubscribed
	}
	if _, err := m.Publish(env); err != nil {
		return replication.ErrNotSubscribed
	}
	return nil
}

// BroadcastStroke sends a finished stroke to the other participants.
func (c *Client) BroadcastStroke(ctx context.Context, s core.Stroke) error {
	env, err := replication.StrokeEnvelope(s)
	if err != nil {
		return err
	}
	return c.publish(env)
}

// BroadcastClear tells the other participants to clear their canvas.
func (c *Client) BroadcastClear(ctx context.Context) error {
	return c.publish(replication.ClearEnvelope())
}

// BroadcastCursor sends the local cursor position.
func (c *Client) BroadcastCursor(ctx context.Context, pos core.CursorPosition) error {
	env, err := replication.CursorEnvelope(pos)
	if err != nil {
		return err
	}
	return c.publish(env)
}
