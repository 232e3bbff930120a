package storage

import "sync"

// Notifier fans change notifications out to per-room subscribers. Backends
// embed it to implement OnRemoteChange.
type Notifier struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]func(Change)
}

// OnRemoteChange registers fn for changes to roomID.
func (n *Notifier) OnRemoteChange(roomID string, fn func(Change)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[string]map[int]func(Change))
	}
	if n.subs[roomID] == nil {
		n.subs[roomID] = make(map[int]func(Change))
	}
	id := n.next
	n.next++
	n.subs[roomID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs[roomID], id)
			if len(n.subs[roomID]) == 0 {
				delete(n.subs, roomID)
			}
		})
	}
}

// Subscribed returns the rooms that currently have subscribers.
func (n *Notifier) Subscribed() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	rooms := make([]string, 0, len(n.subs))
	for room := range n.subs {
		rooms = append(rooms, room)
	}
	return rooms
}

// Notify delivers c to every subscriber of c.RoomID. Each subscriber gets its
// own copy of the log.
func (n *Notifier) Notify(c Change) {
	n.mu.RLock()
	fns := make([]func(Change), 0, len(n.subs[c.RoomID]))
	for _, fn := range n.subs[c.RoomID] {
		fns = append(fns, fn)
	}
	n.mu.RUnlock()

	for _, fn := range fns {
		fn(Change{RoomID: c.RoomID, Origin: c.Origin, Log: c.Log.Clone()})
	}
}
