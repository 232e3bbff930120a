package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sketchroom/whiteboard/internal/relay"
	"github.com/sketchroom/whiteboard/internal/replication"
	"github.com/sketchroom/whiteboard/internal/replication/memory"
	"github.com/sketchroom/whiteboard/internal/rooms"
	"github.com/sketchroom/whiteboard/pkg/core"
	"github.com/sketchroom/whiteboard/pkg/streaming"
)

func init() {
	initialBackoff = 10 * time.Millisecond
}

type received struct {
	mu      sync.Mutex
	strokes []core.Stroke
	clears  int
	cursors []core.CursorPosition
}

func (r *received) attach(c replication.Channel) {
	c.OnStroke(func(s core.Stroke) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.strokes = append(r.strokes, s)
	})
	c.OnClear(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.clears++
	})
	c.OnCursor(func(p core.CursorPosition) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.cursors = append(r.cursors, p)
	})
}

func (r *received) strokeIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.strokes))
	for i, s := range r.strokes {
		ids[i] = s.ID
	}
	return ids
}

func relayServer(t *testing.T) (*httptest.Server, *rooms.MemoryStore) {
	t.Helper()
	store := rooms.NewMemoryStore()
	r := relay.New(relay.Dependencies{
		Hub:        memory.NewHub(64),
		Authorizer: rooms.Gate{Store: store},
	})
	router := mux.NewRouter()
	router.Handle("/ws/rooms/{id}", r)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store
}

func publicRoom(t *testing.T, store *rooms.MemoryStore) string {
	t.Helper()
	room, err := store.Create(context.Background(), rooms.CreateRoom{Name: "r", OwnerID: "owner", IsPublic: true})
	require.NoError(t, err)
	return room.ID
}

func subscribe(t *testing.T, cfg Config) (*Client, *received) {
	t.Helper()
	c := New(cfg, nil)
	in := &received{}
	in.attach(c)
	require.NoError(t, c.Subscribe(context.Background()))
	t.Cleanup(func() { _ = c.Unsubscribe() })
	return c, in
}

func stroke(id string) core.Stroke {
	return core.Stroke{ID: id, Author: "u", Color: "#112233", Width: 2, Path: []core.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}}
}

func TestConfig_RoomURL(t *testing.T) {
	assert.Equal(t, "ws://host:8080/ws/rooms/abc", Config{URL: "http://host:8080/", RoomID: "abc"}.RoomURL())
	assert.Equal(t, "wss://host/ws/rooms/a%20b", Config{URL: "https://host", RoomID: "a b"}.RoomURL())
	assert.Equal(t, "ws://h/ws/rooms/x", Config{URL: "ws://h", RoomID: "x"}.RoomURL())
}

func TestClient_RelaysBetweenParticipants(t *testing.T) {
	srv, store := relayServer(t)
	roomID := publicRoom(t, store)

	a, aIn := subscribe(t, Config{URL: srv.URL, RoomID: roomID, Participant: "a"})
	b, bIn := subscribe(t, Config{URL: srv.URL, RoomID: roomID, Participant: "b"})
	assert.Equal(t, 1, a.Members())
	assert.Equal(t, 2, b.Members())

	ctx := context.Background()
	require.NoError(t, a.BroadcastStroke(ctx, stroke("s1")))
	require.NoError(t, a.BroadcastStroke(ctx, stroke("s2")))
	require.NoError(t, a.BroadcastCursor(ctx, core.CursorPosition{Author: "u", X: 5, Y: 6}))
	require.NoError(t, b.BroadcastClear(ctx))

	assert.Eventually(t, func() bool {
		return len(bIn.strokeIDs()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"s1", "s2"}, bIn.strokeIDs())

	bIn.mu.Lock()
	assert.Equal(t, uint64(1), bIn.strokes[0].Seq)
	assert.Equal(t, uint64(2), bIn.strokes[1].Seq)
	bIn.mu.Unlock()

	assert.Eventually(t, func() bool {
		aIn.mu.Lock()
		defer aIn.mu.Unlock()
		return aIn.clears == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		bIn.mu.Lock()
		defer bIn.mu.Unlock()
		return len(bIn.cursors) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, aIn.strokeIDs())
}

func TestClient_SendWithoutSubscription(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1", RoomID: "r"}, nil)
	assert.ErrorIs(t, c.BroadcastStroke(context.Background(), stroke("s")), replication.ErrNotSubscribed)
	assert.ErrorIs(t, c.BroadcastClear(context.Background()), replication.ErrNotSubscribed)
	assert.NoError(t, c.Unsubscribe())
}

func TestClient_UnsubscribeStopsDelivery(t *testing.T) {
	srv, store := relayServer(t)
	roomID := publicRoom(t, store)

	a, _ := subscribe(t, Config{URL: srv.URL, RoomID: roomID, Participant: "a"})
	b, bIn := subscribe(t, Config{URL: srv.URL, RoomID: roomID, Participant: "b"})

	require.NoError(t, b.Unsubscribe())
	require.NoError(t, a.BroadcastStroke(context.Background(), stroke("late")))
	assert.ErrorIs(t, b.BroadcastClear(context.Background()), replication.ErrNotSubscribed)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, bIn.strokeIDs())
}

func TestClient_SubscribeRejected(t *testing.T) {
	srv, store := relayServer(t)
	room, err := store.Create(context.Background(), rooms.CreateRoom{Name: "p", OwnerID: "owner"})
	require.NoError(t, err)

	c := New(Config{URL: srv.URL, RoomID: room.ID, Participant: "x", UserID: "stranger"}, nil)
	err = c.Subscribe(context.Background())
	assert.ErrorIs(t, err, rooms.ErrUnauthorized)

	c = New(Config{URL: srv.URL, RoomID: "missing", Participant: "x"}, nil)
	assert.ErrorIs(t, c.Subscribe(context.Background()), rooms.ErrNotFound)

	owner := New(Config{URL: srv.URL, RoomID: room.ID, Participant: "o", UserID: "owner"}, nil)
	require.NoError(t, owner.Subscribe(context.Background()))
	assert.NoError(t, owner.Unsubscribe())
}

// flakyRelay acknowledges every connection, drops the first one right away
// and sends one stroke on every later one. reads counts the messages the
// later connections receive.
func flakyRelay(t *testing.T) (srv *httptest.Server, conns, reads *atomic.Int32) {
	t.Helper()
	conns, reads = new(atomic.Int32), new(atomic.Int32)
	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := conns.Add(1)

		joined, _ := streaming.New(streaming.TypeJoined, streaming.JoinedMessage{Members: 1})
		if err := c.WriteJSON(joined); err != nil {
			return
		}
		if n == 1 {
			return
		}
		env, _ := replication.StrokeEnvelope(stroke("after-reconnect"))
		if err := c.WriteJSON(env); err != nil {
			return
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
			reads.Add(1)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, conns, reads
}

func TestClient_ReconnectsWithoutReplay(t *testing.T) {
	srv, conns, _ := flakyRelay(t)
	_, in := subscribe(t, Config{URL: srv.URL, RoomID: "r", Participant: "a"})

	assert.Eventually(t, func() bool {
		return len(in.strokeIDs()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"after-reconnect"}, in.strokeIDs())
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestClient_SendAfterReconnectUsesOneWriter(t *testing.T) {
	srv, _, reads := flakyRelay(t)
	c, in := subscribe(t, Config{URL: srv.URL, RoomID: "r", Participant: "a"})

	require.Eventually(t, func() bool {
		return len(in.strokeIDs()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	for i := 0; i < 20_000; i++ {
		require.NoError(t, c.BroadcastCursor(ctx, core.CursorPosition{Author: "a", X: float64(i), Y: 1}))
	}
	assert.Eventually(t, func() bool {
		return reads.Load() > 0
	}, 5*time.Second, 10*time.Millisecond)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	assert.Equal(t, int32(1), conn.writers.Load())
}
