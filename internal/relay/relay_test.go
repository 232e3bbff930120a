package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"
	"github.com/sketchroom/whiteboard/internal/config"
	"github.com/sketchroom/whiteboard/internal/replication"
	"github.com/sketchroom/whiteboard/internal/replication/memory"
	"github.com/sketchroom/whiteboard/internal/rooms"
	"github.com/sketchroom/whiteboard/internal/storage"
	memstorage "github.com/sketchroom/whiteboard/internal/storage/memory"
	"github.com/sketchroom/whiteboard/pkg/core"
	"github.com/sketchroom/whiteboard/pkg/streaming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	relay   *Relay
	server  *httptest.Server
	store   *rooms.MemoryStore
	gateway *memstorage.Backend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := rooms.NewMemoryStore()
	gw := memstorage.New(config.MemoryConfig{})
	require.NoError(t, gw.Init())

	r := New(Dependencies{
		Hub:        memory.NewHub(64),
		Authorizer: rooms.Gate{Store: store},
		Gateway:    gw,
	})
	router := mux.NewRouter()
	router.Handle("/ws/rooms/{id}", r)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &fixture{relay: r, server: srv, store: store, gateway: gw}
}

func (f *fixture) room(t *testing.T, req rooms.CreateRoom) core.Room {
	t.Helper()
	room, err := f.store.Create(context.Background(), req)
	require.NoError(t, err)
	return room
}

func (f *fixture) dial(roomID, participant, user, password string) (*ws.Conn, *http.Response, error) {
	q := url.Values{}
	q.Set("participant", participant)
	q.Set("user", user)
	q.Set("password", password)
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/rooms/" + roomID + "?" + q.Encode()
	return ws.DefaultDialer.Dial(u, nil)
}

func (f *fixture) join(t *testing.T, roomID, participant string) (*ws.Conn, streaming.JoinedMessage) {
	t.Helper()
	conn, _, err := f.dial(roomID, participant, "owner", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	env := read(t, conn)
	require.Equal(t, streaming.TypeJoined, env.Type)
	var joined streaming.JoinedMessage
	require.NoError(t, env.Decode(&joined))
	return conn, joined
}

func read(t *testing.T, conn *ws.Conn) streaming.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env streaming.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func testStroke(id string) core.Stroke {
	return core.Stroke{ID: id, Author: "owner", Color: "#000000", Width: 3, Path: []core.Point{{X: 1, Y: 1}}}
}

func TestRelay_JoinAcknowledgesWithMemberCount(t *testing.T) {
	f := newFixture(t)
	room := f.room(t, rooms.CreateRoom{Name: "r", OwnerID: "owner"})

	_, first := f.join(t, room.ID, "a")
	_, second := f.join(t, room.ID, "b")

	assert.Equal(t, room.ID, first.Room)
	assert.Equal(t, "a", first.Participant)
	assert.Equal(t, 1, first.Members)
	assert.Equal(t, 2, second.Members)
	assert.Equal(t, 2, f.relay.Hub().Members(room.ID))
}

func TestRelay_RelaysStrokesToOthersWithSequence(t *testing.T) {
	f := newFixture(t)
	room := f.room(t, rooms.CreateRoom{Name: "r", OwnerID: "owner"})
	a, _ := f.join(t, room.ID, "a")
	b, _ := f.join(t, room.ID, "b")

	for _, id := range []string{"s1", "s2"} {
		env, err := replication.StrokeEnvelope(testStroke(id))
		require.NoError(t, err)
		require.NoError(t, a.WriteJSON(env))
	}
	require.NoError(t, a.WriteJSON(replication.ClearEnvelope()))

	first := read(t, b)
	second := read(t, b)
	clear := read(t, b)

	assert.Equal(t, streaming.TypeStrokeAdded, first.Type)
	assert.Equal(t, "a", first.Sender)
	assert.Equal(t, room.ID, first.Room)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, streaming.TypeCanvasCleared, clear.Type)

	var p streaming.StrokePayload
	require.NoError(t, second.Decode(&p))
	assert.Equal(t, "s2", p.Stroke.ID)

	stats := f.relay.Stats()
	assert.Equal(t, 1, stats.Rooms)
	assert.Equal(t, 2, stats.Members)
	assert.Equal(t, uint64(3), stats.Relayed)
}

func TestRelay_IgnoresServerOnlyTypesFromClients(t *testing.T) {
	f := newFixture(t)
	room := f.room(t, rooms.CreateRoom{Name: "r", OwnerID: "owner"})
	a, _ := f.join(t, room.ID, "a")
	b, _ := f.join(t, room.ID, "b")

	forged, err := replication.LogChangedEnvelope("a", core.DrawingLog{})
	require.NoError(t, err)
	require.NoError(t, a.WriteJSON(forged))
	require.NoError(t, a.WriteJSON(replication.ClearEnvelope()))

	assert.Equal(t, streaming.TypeCanvasCleared, read(t, b).Type)
}

func TestRelay_RejectsUnauthorizedParticipants(t *testing.T) {
	f := newFixture(t)
	private := f.room(t, rooms.CreateRoom{Name: "p", OwnerID: "owner", Password: "hunter2"})

	_, resp, err := f.dial(private.ID, "x", "stranger", "wrong")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = f.dial("missing", "x", "stranger", "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, _, err := f.dial(private.ID, "x", "stranger", "hunter2")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, streaming.TypeJoined, read(t, conn).Type)
}

func TestRelay_ForwardsDurableChangesExceptToWriter(t *testing.T) {
	f := newFixture(t)
	room := f.room(t, rooms.CreateRoom{Name: "r", OwnerID: "owner"})
	a, _ := f.join(t, room.ID, "a")
	b, _ := f.join(t, room.ID, "b")

	saved := core.DrawingLog{testStroke("s1")}
	require.NoError(t, f.gateway.Save(storage.WithOrigin(context.Background(), "a"), room.ID, saved))

	env := read(t, b)
	require.Equal(t, streaming.TypeLogChanged, env.Type)
	var p streaming.LogChangedPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "a", p.Origin)
	assert.True(t, saved.Equal(p.Log))

	// The writer sees the next relayed message, not its own change.
	require.NoError(t, b.WriteJSON(replication.ClearEnvelope()))
	assert.Equal(t, streaming.TypeCanvasCleared, read(t, a).Type)
}

func TestRelay_LeavingReleasesMembership(t *testing.T) {
	f := newFixture(t)
	room := f.room(t, rooms.CreateRoom{Name: "r", OwnerID: "owner"})
	a, _ := f.join(t, room.ID, "a")
	f.join(t, room.ID, "b")

	require.NoError(t, a.Close())
	assert.Eventually(t, func() bool {
		return f.relay.Hub().Members(room.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
