// Package relay is the room pub/sub service behind /ws/rooms/{id}. It
// authorizes participants, fans envelopes out to the other members of a
// room, sequences strokes, and forwards durable log changes.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"
	"github.com/sketchroom/whiteboard/internal/replication"
	"github.com/sketchroom/whiteboard/internal/replication/memory"
	"github.com/sketchroom/whiteboard/internal/rooms"
	"github.com/sketchroom/whiteboard/internal/storage"
	"github.com/sketchroom/whiteboard/pkg/streaming"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Authorizer decides whether a participant may join a room.
type Authorizer interface {
	Authorize(ctx context.Context, roomID string, cred rooms.Credentials) error
}

// Dependencies holds the collaborators of the relay.
type Dependencies struct {
	Hub        *memory.Hub
	Authorizer Authorizer
	// Gateway, when set, is watched for durable changes of every room with
	// members; changes are forwarded as log-changed envelopes.
	Gateway storage.Gateway
	Logger  *slog.Logger
}

type watch struct {
	refs   int
	cancel func()
}

// Relay upgrades room connections and relays their traffic through a Hub.
type Relay struct {
	deps     Dependencies
	upgrader ws.Upgrader

	mu      sync.Mutex
	watches map[string]*watch
}

// New creates a relay.
func New(deps Dependencies) *Relay {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Hub == nil {
		deps.Hub = memory.NewHub(0)
	}
	return &Relay{
		deps: deps,
		upgrader: ws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		watches: make(map[string]*watch),
	}
}

// Hub returns the hub the relay publishes through.
func (r *Relay) Hub() *memory.Hub {
	return r.deps.Hub
}

// Stats returns the relay traffic counters.
func (r *Relay) Stats() memory.Stats {
	return r.deps.Hub.Stats()
}

// ServeHTTP handles GET /ws/rooms/{id}. Query parameters: participant (the
// connection's session ID, generated when absent), user and password.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	roomID := mux.Vars(req)["id"]
	q := req.URL.Query()
	participant := q.Get("participant")
	if participant == "" {
		participant = uuid.NewString()
	}
	log := r.deps.Logger.With("room", roomID, "participant", participant)

	if r.deps.Authorizer != nil {
		err := r.deps.Authorizer.Authorize(req.Context(), roomID, rooms.Credentials{
			UserID:   q.Get("user"),
			Password: q.Get("password"),
		})
		switch {
		case errors.Is(err, rooms.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case errors.Is(err, rooms.ErrUnauthorized):
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		case err != nil:
			log.Error("Authorization failed", "error", err)
			http.Error(w, "authorization failed", http.StatusInternalServerError)
			return
		}
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	member, members := r.deps.Hub.Join(roomID, participant)
	r.watch(roomID)
	log.Info("Participant joined", "members", members)

	joined, _ := streaming.New(streaming.TypeJoined, streaming.JoinedMessage{
		Room:        roomID,
		Participant: participant,
		Members:     members,
	})
	joined.Room = roomID
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(joined); err != nil {
		log.Warn("Failed to acknowledge join", "error", err)
		r.leave(member, conn)
		return
	}

	go r.writeLoop(conn, member, log)
	r.readLoop(conn, member, log)
	r.leave(member, conn)
	log.Info("Participant left", "members", r.deps.Hub.Members(roomID))
}

// readLoop publishes client envelopes until the connection fails.
func (r *Relay) readLoop(conn *ws.Conn, member *memory.Member, log *slog.Logger) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env streaming.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				log.Warn("WebSocket read error", "error", err)
			}
			return
		}

		switch env.Type {
		case streaming.TypeStrokeAdded, streaming.TypeCanvasCleared, streaming.TypeCursorMoved:
			if _, err := member.Publish(env); err != nil {
				return
			}
		default:
			log.Debug("Ignoring client message", "type", env.Type)
		}
	}
}

// writeLoop drains the member's mailbox onto the connection.
func (r *Relay) writeLoop(conn *ws.Conn, member *memory.Member, log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case env, ok := <-member.Receive():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				log.Warn("WebSocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (r *Relay) leave(member *memory.Member, conn *ws.Conn) {
	member.Leave()
	r.unwatch(member.Room())
	_ = conn.Close()
}

func (r *Relay) watch(roomID string) {
	if r.deps.Gateway == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.watches[roomID]; ok {
		w.refs++
		return
	}
	cancel := r.deps.Gateway.OnRemoteChange(roomID, func(c storage.Change) {
		r.forward(c)
	})
	r.watches[roomID] = &watch{refs: 1, cancel: cancel}
}

func (r *Relay) unwatch(roomID string) {
	if r.deps.Gateway == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watches[roomID]
	if !ok {
		return
	}
	w.refs--
	if w.refs == 0 {
		w.cancel()
		delete(r.watches, roomID)
	}
}

// forward publishes a durable change to every member except its writer.
func (r *Relay) forward(c storage.Change) {
	env, err := replication.LogChangedEnvelope(c.Origin, c.Log)
	if err != nil {
		r.deps.Logger.Error("Failed to encode log change", "room", c.RoomID, "error", err)
		return
	}
	r.deps.Hub.Publish(c.RoomID, c.Origin, env)
}
