package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sketchroom/whiteboard/internal/replication"
	"github.com/sketchroom/whiteboard/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	mu      sync.Mutex
	strokes []core.Stroke
	clears  int
	cursors []core.CursorPosition
}

func (in *inbox) attach(c replication.Channel) {
	c.OnStroke(func(s core.Stroke) {
		in.mu.Lock()
		defer in.mu.Unlock()
		in.strokes = append(in.strokes, s)
	})
	c.OnClear(func() {
		in.mu.Lock()
		defer in.mu.Unlock()
		in.clears++
	})
	c.OnCursor(func(p core.CursorPosition) {
		in.mu.Lock()
		defer in.mu.Unlock()
		in.cursors = append(in.cursors, p)
	})
}

func (in *inbox) count() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.strokes) + in.clears + len(in.cursors)
}

func subscribed(t *testing.T, hub *Hub, id string) (*Client, *inbox) {
	t.Helper()
	c := NewClient(hub, "room", id, nil)
	in := &inbox{}
	in.attach(c)
	require.NoError(t, c.Subscribe(context.Background()))
	t.Cleanup(func() { _ = c.Unsubscribe() })
	return c, in
}

func stroke(id string) core.Stroke {
	return core.Stroke{ID: id, Author: "alice", Color: "#000000", Width: 5, Path: []core.Point{{X: 1, Y: 1}, {X: 2, Y: 2}}}
}

func TestClient_RelaysToOthersOnly(t *testing.T) {
	hub := NewHub(16)
	ctx := context.Background()
	a, aIn := subscribed(t, hub, "a")
	_, bIn := subscribed(t, hub, "b")

	require.NoError(t, a.BroadcastStroke(ctx, stroke("s1")))
	require.NoError(t, a.BroadcastCursor(ctx, core.CursorPosition{Author: "alice", X: 3, Y: 4}))
	require.NoError(t, a.BroadcastClear(ctx))

	require.Eventually(t, func() bool { return bIn.count() == 3 }, time.Second, 5*time.Millisecond)
	bIn.mu.Lock()
	assert.Equal(t, "s1", bIn.strokes[0].ID)
	assert.Equal(t, uint64(1), bIn.strokes[0].Seq)
	assert.Equal(t, 1, bIn.clears)
	assert.Equal(t, 3.0, bIn.cursors[0].X)
	bIn.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, aIn.count())
}

func TestClient_SendBeforeSubscribe(t *testing.T) {
	c := NewClient(NewHub(4), "room", "a", nil)
	assert.ErrorIs(t, c.BroadcastClear(context.Background()), replication.ErrNotSubscribed)
}

func TestClient_UnsubscribeDetachesHandlers(t *testing.T) {
	hub := NewHub(16)
	ctx := context.Background()
	a, _ := subscribed(t, hub, "a")
	b, bIn := subscribed(t, hub, "b")

	require.NoError(t, b.Unsubscribe())
	require.NoError(t, a.BroadcastStroke(ctx, stroke("s1")))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 0, bIn.count())
	assert.ErrorIs(t, b.BroadcastStroke(ctx, stroke("s2")), replication.ErrNotSubscribed)
	assert.Equal(t, 1, hub.Members("room"))
}

func TestClient_SubscribeTwiceIsNoop(t *testing.T) {
	hub := NewHub(4)
	c, _ := subscribed(t, hub, "a")
	require.NoError(t, c.Subscribe(context.Background()))
	assert.Equal(t, 1, hub.Members("room"))
}

func TestClient_InvalidStrokeIsDropped(t *testing.T) {
	hub := NewHub(16)
	a, _ := subscribed(t, hub, "a")
	_, bIn := subscribed(t, hub, "b")

	bad := stroke("bad")
	bad.Path = nil
	require.NoError(t, a.BroadcastStroke(context.Background(), bad))
	require.NoError(t, a.BroadcastStroke(context.Background(), stroke("good")))

	require.Eventually(t, func() bool { return bIn.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "good", bIn.strokes[0].ID)
}
