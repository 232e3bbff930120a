package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/sketchroom/whiteboard/internal/rooms"
	"github.com/sketchroom/whiteboard/pkg/streaming"
)

const (
	sendChSize   = 10_000
	joinedChSize = 4
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

// initialBackoff is lowered by tests.
var initialBackoff = time.Second

// connection manages a room WebSocket with a single write goroutine. After a
// reconnect the relay re-admits the participant; nothing missed is replayed.
type connection struct {
	mu     sync.Mutex
	gen    *generation
	sendCh chan []byte
	joined chan streaming.JoinedMessage
	done   chan struct{}
	closed bool

	// writers counts the live write loops. It is never above one.
	writers atomic.Int32

	wsURL     string
	query     url.Values
	onMessage func(streaming.Envelope)

	logger *slog.Logger
}

// generation is one dialled socket and its read and write loops. Losing it
// stops both loops; the next generation starts once the old writer is gone.
type generation struct {
	conn      *ws.Conn
	stop      chan struct{}
	writeDone chan struct{}
	lost      sync.Once
}

func newConnection(wsURL string, query url.Values, onMessage func(streaming.Envelope), logger *slog.Logger) *connection {
	return &connection{
		sendCh:    make(chan []byte, sendChSize),
		joined:    make(chan streaming.JoinedMessage, joinedChSize),
		done:      make(chan struct{}),
		wsURL:     wsURL,
		query:     query,
		onMessage: onMessage,
		logger:    logger,
	}
}

// dial connects and starts the read and write loops.
func (c *connection) dial(ctx context.Context) error {
	conn, err := c.dialOnce(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.startLocked(conn)
	c.mu.Unlock()
	return nil
}

// startLocked makes conn the current generation. c.mu must be held.
func (c *connection) startLocked(conn *ws.Conn) {
	g := &generation{
		conn:      conn,
		stop:      make(chan struct{}),
		writeDone: make(chan struct{}),
	}
	c.gen = g
	go c.writeLoop(g)
	go c.readLoop(g)
}

// lose tears down g once, whichever loop notices first, and reconnects.
func (c *connection) lose(g *generation) {
	g.lost.Do(func() {
		close(g.stop)
		_ = g.conn.Close()
		go c.reconnect(g)
	})
}

func (c *connection) dialOnce(ctx context.Context) (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	for k, vs := range c.query {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	conn, resp, err := ws.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusForbidden, http.StatusUnauthorized:
				return nil, fmt.Errorf("websocket dial failed: %w", rooms.ErrUnauthorized)
			case http.StatusNotFound:
				return nil, fmt.Errorf("websocket dial failed: %w", rooms.ErrNotFound)
			}
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// writeLoop drains sendCh onto the socket of g. It returns when g is lost or
// the connection closes.
func (c *connection) writeLoop(g *generation) {
	c.writers.Add(1)
	defer func() {
		c.writers.Add(-1)
		close(g.writeDone)
	}()
	for {
		select {
		case <-c.done:
			return
		case <-g.stop:
			return
		case data := <-c.sendCh:
			if err := g.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				c.lose(g)
				return
			}
			if err := g.conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				c.lose(g)
				return
			}
		}
	}
}

// readLoop routes joined acknowledgements to the joined channel and every
// other envelope to onMessage.
func (c *connection) readLoop(g *generation) {
	for {
		_, message, err := g.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			case <-g.stop:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			c.lose(g)
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Debug("Malformed relay message", "raw", string(message))
			continue
		}

		switch env.Type {
		case streaming.TypeJoined:
			var joined streaming.JoinedMessage
			if err := env.Decode(&joined); err != nil {
				c.logger.Debug("Malformed join acknowledgement", "error", err)
				continue
			}
			select {
			case c.joined <- joined:
			default:
			}
		case streaming.TypeError:
			var msg streaming.ErrorMessage
			_ = env.Decode(&msg)
			c.logger.Warn("Relay reported an error", "code", msg.Code, "message", msg.Message)
		default:
			c.onMessage(env)
		}
	}
}

// reconnect waits for the writer of the lost generation to exit, then
// re-establishes the connection with exponential backoff.
func (c *connection) reconnect(lost *generation) {
	<-lost.writeDone

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.gen == lost {
		c.gen = nil
	}
	c.mu.Unlock()

	backoff := initialBackoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Reconnecting to relay", "attempt", attempt, "backoff", backoff)
		conn, err := c.dialOnce(context.Background())
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.startLocked(conn)
		c.mu.Unlock()

		c.logger.Info("Relay reconnected", "attempt", attempt)
		return
	}

	c.logger.Error("Relay reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// send queues data for the write loop. Non-blocking; drops if the queue is
// full.
func (c *connection) send(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		c.logger.Warn("WebSocket send channel full, dropping message")
	}
}

// awaitJoined blocks until the relay acknowledges membership.
func (c *connection) awaitJoined(ctx context.Context, timeout time.Duration) (streaming.JoinedMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case joined := <-c.joined:
		return joined, nil
	case <-timer.C:
		return streaming.JoinedMessage{}, fmt.Errorf("timeout waiting for join acknowledgement")
	case <-ctx.Done():
		return streaming.JoinedMessage{}, ctx.Err()
	case <-c.done:
		return streaming.JoinedMessage{}, fmt.Errorf("connection closed while joining")
	}
}

// close stops every goroutine and sends a close frame once the writer of the
// current generation has exited.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	g := c.gen
	c.gen = nil
	c.mu.Unlock()

	if g == nil {
		return nil
	}
	<-g.writeDone
	select {
	case <-g.stop:
		// already lost and closed
		return nil
	default:
	}
	_ = g.conn.WriteMessage(
		ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
	)
	return g.conn.Close()
}
