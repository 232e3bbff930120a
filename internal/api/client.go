package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sketchroom/whiteboard/internal/rooms"
	"github.com/sketchroom/whiteboard/internal/storage"
	"github.com/sketchroom/whiteboard/pkg/core"
)

// Client talks to a sketchroomd server. It implements storage.Gateway (the
// remote backend) and rooms.Store.
type Client struct {
	storage.Notifier

	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	watchers map[string]*watcher
}

type watcher struct {
	refs int
	stop chan struct{}
	done chan struct{}
}

var (
	_ storage.Gateway = (*Client)(nil)
	_ rooms.Store     = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithPollInterval sets how often watched drawings are polled for changes.
// Zero disables change notifications.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a new API client.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: 2 * time.Second,
		logger:       slog.Default(),
		watchers:     make(map[string]*watcher),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init checks that the server is reachable.
func (c *Client) Init() error {
	return c.Healthcheck()
}

// Close stops every change poller.
func (c *Client) Close() error {
	c.mu.Lock()
	ws := c.watchers
	c.watchers = make(map[string]*watcher)
	c.mu.Unlock()
	for _, w := range ws {
		close(w.stop)
		<-w.done
	}
	return nil
}

// Healthcheck checks if the server is reachable.
func (c *Client) Healthcheck() error {
	resp, err := c.httpClient.Get(c.baseURL + "/healthcheck")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) roomURL(id string, suffix string) string {
	return c.baseURL + "/api/rooms/" + url.PathEscape(id) + suffix
}

func (c *Client) do(ctx context.Context, method, rawURL string, body any, header http.Header) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(HeaderAPIKey, c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, rawURL, err)
	}
	return resp, nil
}

// statusError turns a non-2xx response into an error wrapping the matching
// domain sentinel.
func statusError(resp *http.Response) error {
	var body ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", rooms.ErrNotFound, msg)
	case http.StatusForbidden, http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", rooms.ErrUnauthorized, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", rooms.ErrInvalidRoom, msg)
	default:
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, msg)
	}
}

func decode(resp *http.Response, want int, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return statusError(resp)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Save replaces the stored drawing of a room.
func (c *Client) Save(ctx context.Context, roomID string, log core.DrawingLog) error {
	if log == nil {
		log = core.DrawingLog{}
	}
	header := http.Header{}
	if origin := storage.OriginFrom(ctx); origin != "" {
		header.Set(HeaderOrigin, origin)
	}
	resp, err := c.do(ctx, http.MethodPut, c.roomURL(roomID, "/drawing"), DrawingBody{Strokes: log}, header)
	if err != nil {
		return err
	}
	return decode(resp, http.StatusNoContent, nil)
}

// Load fetches the stored drawing of a room. Missing or malformed drawings
// load as an empty log.
func (c *Client) Load(ctx context.Context, roomID string) (core.DrawingLog, error) {
	log, _, _, err := c.fetch(ctx, roomID, "")
	return log, err
}

// fetch GETs a drawing. The log is nil when etag still matches.
func (c *Client) fetch(ctx context.Context, roomID, etag string) (log core.DrawingLog, tag string, origin string, err error) {
	header := http.Header{}
	if etag != "" {
		header.Set("If-None-Match", etag)
	}
	resp, err := c.do(ctx, http.MethodGet, c.roomURL(roomID, "/drawing"), nil, header)
	if err != nil {
		return nil, "", "", err
	}
	defer resp.Body.Close()

	tag, origin = resp.Header.Get("ETag"), resp.Header.Get(HeaderOrigin)
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		return nil, tag, origin, nil
	case http.StatusNotFound:
		return core.DrawingLog{}, tag, origin, nil
	default:
		return nil, "", "", statusError(resp)
	}

	var body DrawingBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.logger.Warn("Malformed stored drawing, loading empty log", "room", roomID, "error", err)
		return core.DrawingLog{}, tag, origin, nil
	}
	valid, dropped := body.Strokes.Valid()
	if dropped > 0 {
		c.logger.Warn("Dropped invalid stored strokes", "room", roomID, "dropped", dropped)
	}
	if valid == nil {
		valid = core.DrawingLog{}
	}
	return valid, tag, origin, nil
}

// OnRemoteChange polls the drawing of roomID and notifies fn when it
// changes.
func (c *Client) OnRemoteChange(roomID string, fn func(storage.Change)) func() {
	cancel := c.Notifier.OnRemoteChange(roomID, fn)
	if c.pollInterval <= 0 {
		return cancel
	}

	// Changes are detected against the drawing as it is now.
	_, baseline, _, err := c.fetch(context.Background(), roomID, "")
	if err != nil {
		c.logger.Warn("Initial drawing poll failed", "room", roomID, "error", err)
	}

	c.mu.Lock()
	w, ok := c.watchers[roomID]
	if ok {
		w.refs++
	} else {
		w = &watcher{refs: 1, stop: make(chan struct{}), done: make(chan struct{})}
		c.watchers[roomID] = w
		go c.poll(roomID, w, baseline)
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			c.mu.Lock()
			w.refs--
			last := w.refs == 0 && c.watchers[roomID] == w
			if last {
				delete(c.watchers, roomID)
			}
			c.mu.Unlock()
			if last {
				close(w.stop)
				<-w.done
			}
		})
	}
}

func (c *Client) poll(roomID string, w *watcher, last string) {
	defer close(w.done)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			log, tag, origin, err := c.fetch(ctx, roomID, last)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					c.logger.Warn("Drawing poll failed", "room", roomID, "error", err)
				}
				continue
			}
			if log == nil || tag == last {
				continue
			}
			last = tag
			c.Notify(storage.Change{RoomID: roomID, Origin: origin, Log: log})
		}
	}
}

// Create creates a room.
func (c *Client) Create(ctx context.Context, req rooms.CreateRoom) (core.Room, error) {
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/rooms", req, nil)
	if err != nil {
		return core.Room{}, err
	}
	var room core.Room
	if err := decode(resp, http.StatusCreated, &room); err != nil {
		return core.Room{}, err
	}
	return room, nil
}

// List returns the rooms owned by ownerID, newest first.
func (c *Client) List(ctx context.Context, ownerID string) ([]core.Room, error) {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/rooms?owner="+url.QueryEscape(ownerID), nil, nil)
	if err != nil {
		return nil, err
	}
	var list []core.Room
	if err := decode(resp, http.StatusOK, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Get returns a room.
func (c *Client) Get(ctx context.Context, id string) (core.Room, error) {
	resp, err := c.do(ctx, http.MethodGet, c.roomURL(id, ""), nil, nil)
	if err != nil {
		return core.Room{}, err
	}
	var room core.Room
	if err := decode(resp, http.StatusOK, &room); err != nil {
		return core.Room{}, err
	}
	return room, nil
}

// Delete removes a room.
func (c *Client) Delete(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.roomURL(id, ""), nil, nil)
	if err != nil {
		return err
	}
	return decode(resp, http.StatusNoContent, nil)
}

// VerifyPassword checks a password attempt on the server.
func (c *Client) VerifyPassword(ctx context.Context, id, attempt string) (bool, error) {
	resp, err := c.do(ctx, http.MethodPost, c.roomURL(id, "/verify"), VerifyRequest{Password: attempt}, nil)
	if err != nil {
		return false, err
	}
	var out VerifyResponse
	if err := decode(resp, http.StatusOK, &out); err != nil {
		return false, err
	}
	return out.OK, nil
}
