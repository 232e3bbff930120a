package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sketchroom/whiteboard/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []core.CursorPosition
	err  error
}

func (b *recordingBroadcaster) BroadcastCursor(ctx context.Context, pos core.CursorPosition) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, pos)
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestMove_Broadcasts(t *testing.T) {
	out := &recordingBroadcaster{}
	tr := New("alice", out)

	sent, err := tr.Move(context.Background(), 10, 20)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, []core.CursorPosition{{Author: "alice", X: 10, Y: 20}}, out.sent)
}

func TestMove_PropagatesError(t *testing.T) {
	out := &recordingBroadcaster{err: errors.New("not subscribed")}
	tr := New("alice", out)

	sent, err := tr.Move(context.Background(), 1, 1)
	assert.Error(t, err)
	assert.False(t, sent)
}

func TestMove_Throttle(t *testing.T) {
	clock := &fakeClock{t: time.Unix(100, 0)}
	out := &recordingBroadcaster{}
	tr := New("alice", out, WithThrottle(50*time.Millisecond), WithClock(clock.now))
	ctx := context.Background()

	sent, _ := tr.Move(ctx, 1, 1)
	assert.True(t, sent)
	clock.t = clock.t.Add(10 * time.Millisecond)
	sent, _ = tr.Move(ctx, 2, 2)
	assert.False(t, sent)
	clock.t = clock.t.Add(50 * time.Millisecond)
	sent, _ = tr.Move(ctx, 3, 3)
	assert.True(t, sent)

	require.Len(t, out.sent, 2)
	assert.Equal(t, 3.0, out.sent[1].X)
}

func TestMove_Unthrottled(t *testing.T) {
	out := &recordingBroadcaster{}
	tr := New("alice", out)
	for i := 0; i < 5; i++ {
		_, err := tr.Move(context.Background(), float64(i), 0)
		require.NoError(t, err)
	}
	assert.Len(t, out.sent, 5)
}

func TestReceive_CreatesThenMoves(t *testing.T) {
	calls := 0
	resolver := ResolverFunc(func(ctx context.Context, author string) (string, error) {
		calls++
		return "#00FF00", nil
	})
	tr := New("alice", &recordingBroadcaster{}, WithResolver(resolver))
	ctx := context.Background()

	tr.Receive(ctx, core.CursorPosition{Author: "bob", X: 1, Y: 2})
	tr.Receive(ctx, core.CursorPosition{Author: "bob", X: 5, Y: 6})

	inds := tr.Indicators()
	require.Len(t, inds, 1)
	assert.Equal(t, "bob", inds[0].Author)
	assert.Equal(t, "#00FF00", inds[0].Color)
	assert.Equal(t, 5.0, inds[0].X)
	assert.Equal(t, 6.0, inds[0].Y)
	assert.Equal(t, 1, calls)
}

func TestReceive_IgnoresSelfAndAnonymous(t *testing.T) {
	tr := New("alice", &recordingBroadcaster{})
	tr.Receive(context.Background(), core.CursorPosition{Author: "alice", X: 1, Y: 1})
	tr.Receive(context.Background(), core.CursorPosition{X: 1, Y: 1})
	assert.Empty(t, tr.Indicators())
}

func TestReceive_ResolverFailureFallsBack(t *testing.T) {
	resolver := ResolverFunc(func(ctx context.Context, author string) (string, error) {
		return "", errors.New("profile service down")
	})
	tr := New("alice", &recordingBroadcaster{}, WithResolver(resolver))
	tr.Receive(context.Background(), core.CursorPosition{Author: "bob"})

	inds := tr.Indicators()
	require.Len(t, inds, 1)
	assert.Equal(t, core.DefaultColor, inds[0].Color)
}

func TestColorCacheIsShared(t *testing.T) {
	colors := NewColorCache()
	calls := 0
	resolver := ResolverFunc(func(ctx context.Context, author string) (string, error) {
		calls++
		return "#123456", nil
	})
	a := New("alice", &recordingBroadcaster{}, WithResolver(resolver), WithColorCache(colors))
	c := New("carol", &recordingBroadcaster{}, WithResolver(resolver), WithColorCache(colors))

	a.Receive(context.Background(), core.CursorPosition{Author: "bob"})
	c.Receive(context.Background(), core.CursorPosition{Author: "bob"})

	assert.Equal(t, 1, calls)
	assert.Equal(t, "#123456", c.Indicators()[0].Color)
}

func TestRemoveAndPrune(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	tr := New("alice", &recordingBroadcaster{}, WithClock(clock.now))
	ctx := context.Background()

	tr.Receive(ctx, core.CursorPosition{Author: "bob"})
	tr.Receive(ctx, core.CursorPosition{Author: "carol"})
	tr.Receive(ctx, core.CursorPosition{Author: "dave"})
	tr.Remove("carol")

	clock.t = clock.t.Add(time.Minute)
	tr.Receive(ctx, core.CursorPosition{Author: "dave", X: 1})

	gone := tr.Prune(30 * time.Second)
	assert.Equal(t, []string{"bob"}, gone)
	inds := tr.Indicators()
	require.Len(t, inds, 1)
	assert.Equal(t, "dave", inds[0].Author)
}
