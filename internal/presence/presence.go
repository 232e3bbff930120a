// Package presence tracks the live cursors of the other participants in a
// room. Cursor positions are never persisted.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sketchroom/whiteboard/internal/cache"
	"github.com/sketchroom/whiteboard/pkg/core"
)

// Broadcaster sends the local cursor to the room.
type Broadcaster interface {
	BroadcastCursor(ctx context.Context, pos core.CursorPosition) error
}

// Resolver looks up the display colour of a participant.
type Resolver interface {
	ResolveColor(ctx context.Context, author string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, author string) (string, error)

// ResolveColor calls f.
func (f ResolverFunc) ResolveColor(ctx context.Context, author string) (string, error) {
	return f(ctx, author)
}

// Indicator is the rendered cursor of one remote participant.
type Indicator struct {
	Author    string    `json:"userId"`
	Color     string    `json:"color"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ColorCache remembers resolved participant colours.
type ColorCache = cache.Cache[string, string]

// NewColorCache creates an empty colour cache.
func NewColorCache() *ColorCache {
	return cache.New[string, string]()
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithResolver sets the colour resolver. Without one every indicator uses
// core.DefaultColor.
func WithResolver(r Resolver) Option {
	return func(t *Tracker) { t.resolver = r }
}

// WithColorCache shares a colour cache between trackers.
func WithColorCache(c *ColorCache) Option {
	return func(t *Tracker) { t.colors = c }
}

// WithThrottle drops local moves closer together than d.
func WithThrottle(d time.Duration) Option {
	return func(t *Tracker) { t.throttle = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger used for resolver failures.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// Tracker publishes the local cursor and mirrors remote ones.
type Tracker struct {
	self     string
	out      Broadcaster
	resolver Resolver
	colors   *ColorCache
	throttle time.Duration
	now      func() time.Time
	log      *slog.Logger

	mu         sync.Mutex
	lastSent   time.Time
	indicators map[string]*Indicator
}

// New creates a tracker for participant self.
func New(self string, out Broadcaster, opts ...Option) *Tracker {
	t := &Tracker{
		self:       self,
		out:        out,
		now:        time.Now,
		log:        slog.Default(),
		indicators: make(map[string]*Indicator),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.colors == nil {
		t.colors = NewColorCache()
	}
	return t
}

// Move broadcasts the local cursor position in canvas coordinates. It
// reports false when the move was throttled.
func (t *Tracker) Move(ctx context.Context, x, y float64) (bool, error) {
	if t.throttle > 0 {
		t.mu.Lock()
		now := t.now()
		if !t.lastSent.IsZero() && now.Sub(t.lastSent) < t.throttle {
			t.mu.Unlock()
			return false, nil
		}
		t.lastSent = now
		t.mu.Unlock()
	}
	if err := t.out.BroadcastCursor(ctx, core.CursorPosition{Author: t.self, X: x, Y: y}); err != nil {
		return false, err
	}
	return true, nil
}

// Receive applies a remote cursor position, creating the indicator on first
// sight of the participant.
func (t *Tracker) Receive(ctx context.Context, pos core.CursorPosition) {
	if pos.Author == "" || pos.Author == t.self {
		return
	}

	t.mu.Lock()
	ind, ok := t.indicators[pos.Author]
	if ok {
		ind.X, ind.Y, ind.UpdatedAt = pos.X, pos.Y, t.now()
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	color := t.color(ctx, pos.Author)

	t.mu.Lock()
	defer t.mu.Unlock()
	if ind, ok := t.indicators[pos.Author]; ok {
		ind.X, ind.Y, ind.UpdatedAt = pos.X, pos.Y, t.now()
		return
	}
	t.indicators[pos.Author] = &Indicator{Author: pos.Author, Color: color, X: pos.X, Y: pos.Y, UpdatedAt: t.now()}
}

func (t *Tracker) color(ctx context.Context, author string) string {
	if c, ok := t.colors.Get(author); ok {
		return c
	}
	if t.resolver == nil {
		return core.DefaultColor
	}
	c, err := t.resolver.ResolveColor(ctx, author)
	if err != nil || c == "" {
		if err != nil {
			t.log.Warn("Failed to resolve participant colour", "author", author, "error", err)
		}
		return core.DefaultColor
	}
	c, _ = t.colors.GetOrSet(author, c)
	return c
}

// Indicators returns a snapshot of the remote cursors ordered by author.
func (t *Tracker) Indicators() []Indicator {
	t.mu.Lock()
	out := make([]Indicator, 0, len(t.indicators))
	for _, ind := range t.indicators {
		out = append(out, *ind)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Author < out[j].Author })
	return out
}

// Remove drops the indicator of author.
func (t *Tracker) Remove(author string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.indicators, author)
}

// Prune drops indicators not updated within maxAge and returns their authors.
func (t *Tracker) Prune(maxAge time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var gone []string
	for author, ind := range t.indicators {
		if now.Sub(ind.UpdatedAt) > maxAge {
			delete(t.indicators, author)
			gone = append(gone, author)
		}
	}
	sort.Strings(gone)
	return gone
}
