// Package memory implements the replication channel in process. A Hub holds
// per-room groups; each member reads from its own ordered mailbox.
package memory

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sketchroom/whiteboard/internal/channel"
	"github.com/sketchroom/whiteboard/pkg/streaming"
)

// ErrLeft is returned when publishing through a member that left its room.
var ErrLeft = errors.New("member left the room")

// Stats is a point-in-time view of hub traffic.
type Stats struct {
	Rooms   int
	Members int
	Relayed uint64
	Dropped uint64
}

type room struct {
	members map[string]*Member
	seq     uint64
}

// Hub relays envelopes between the members of each room. Strokes are
// stamped with a per-room sequence number.
type Hub struct {
	mu          sync.Mutex
	rooms       map[string]*room
	mailboxSize int

	relayed atomic.Uint64
	dropped atomic.Uint64
}

// NewHub creates a hub whose member mailboxes hold mailboxSize envelopes.
func NewHub(mailboxSize int) *Hub {
	return &Hub{
		rooms:       make(map[string]*room),
		mailboxSize: mailboxSize,
	}
}

// Member is one participant's membership in a room.
type Member struct {
	hub  *Hub
	room string
	id   string
	box  *channel.Mailbox[streaming.Envelope]
	left atomic.Bool
}

// Join adds memberID to roomID and returns the member and the room's member
// count. A member already joined under the same ID is evicted.
func (h *Hub) Join(roomID, memberID string) (*Member, int) {
	m := &Member{
		hub:  h,
		room: roomID,
		id:   memberID,
		box:  channel.New[streaming.Envelope](h.mailboxSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{members: make(map[string]*Member)}
		h.rooms[roomID] = r
	}
	if old, ok := r.members[memberID]; ok {
		old.left.Store(true)
		old.box.Close()
	}
	r.members[memberID] = m
	return m, len(r.members)
}

// Publish stamps env with the room, the sender and, for strokes, the next
// sequence number, then queues it for every member except sender. Full
// mailboxes drop the envelope.
func (h *Hub) Publish(roomID, sender string, env streaming.Envelope) streaming.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return env
	}
	env.Room = roomID
	env.Sender = sender
	if env.Type == streaming.TypeStrokeAdded {
		r.seq++
		env.Seq = r.seq
	}

	for id, m := range r.members {
		if id == sender {
			continue
		}
		if m.box.TrySend(env) {
			h.relayed.Add(1)
		} else {
			h.dropped.Add(1)
		}
	}
	return env
}

// Members returns the number of members in roomID.
func (h *Hub) Members(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[roomID]; ok {
		return len(r.members)
	}
	return 0
}

// Rooms returns the IDs of rooms with at least one member.
func (h *Hub) Rooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns the current traffic counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	s := Stats{Rooms: len(h.rooms)}
	for _, r := range h.rooms {
		s.Members += len(r.members)
	}
	h.mu.Unlock()
	s.Relayed = h.relayed.Load()
	s.Dropped = h.dropped.Load()
	return s
}

func (h *Hub) leave(m *Member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[m.room]
	if !ok {
		return
	}
	if cur, ok := r.members[m.id]; ok && cur == m {
		delete(r.members, m.id)
	}
	if len(r.members) == 0 {
		delete(h.rooms, m.room)
	}
}

// ID returns the member ID.
func (m *Member) ID() string { return m.id }

// Room returns the room ID.
func (m *Member) Room() string { return m.room }

// Receive returns the member's mailbox. It is closed when the member leaves.
func (m *Member) Receive() <-chan streaming.Envelope { return m.box.Receive() }

// Pending returns the number of queued envelopes.
func (m *Member) Pending() int { return m.box.Len() }

// Publish sends env to the other members of the room.
func (m *Member) Publish(env streaming.Envelope) (streaming.Envelope, error) {
	if m.left.Load() {
		return env, ErrLeft
	}
	return m.hub.Publish(m.room, m.id, env), nil
}

// Leave removes the member from its room and closes its mailbox. Queued
// envelopes can still be received.
func (m *Member) Leave() {
	if m.left.Swap(true) {
		return
	}
	m.hub.leave(m)
	m.box.Close()
}
