// internal/storage/storage.go
package storage

import (
	"context"

	"github.com/sketchroom/whiteboard/pkg/core"
)

// Gateway is the interface all persistence implementations must satisfy.
// Each room holds one drawing log; Save overwrites it wholesale and the last
// writer wins.
type Gateway interface {
	// Lifecycle
	Init() error
	Close() error

	// Save replaces the stored log of a room.
	Save(ctx context.Context, roomID string, log core.DrawingLog) error
	// Load returns the stored log of a room. Absent or unreadable logs load
	// as an empty log.
	Load(ctx context.Context, roomID string) (core.DrawingLog, error)
	// OnRemoteChange subscribes to notifications carrying the new full log
	// whenever the stored log of a room changes. The returned func cancels
	// the subscription.
	OnRemoteChange(roomID string, fn func(Change)) (cancel func())
}

// Change is a stored-log update notification. Origin is the writer tag set
// with WithOrigin, empty when unknown.
type Change struct {
	RoomID string
	Origin string
	Log    core.DrawingLog
}

// EventLog is an optional interface for gateways that persist an
// append-only, per-room sequenced event log. Readers fold the events.
type EventLog interface {
	// Append stores one event and returns its assigned sequence number.
	Append(ctx context.Context, roomID string, ev core.LogEvent) (uint64, error)
	// Events returns the events of a room with a sequence number greater than
	// afterSeq, in order.
	Events(ctx context.Context, roomID string, afterSeq uint64) ([]core.LogEvent, error)
}

type originKey struct{}

// WithOrigin tags writes made with ctx so that change notifications can be
// attributed to the writing session.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the writer tag carried by ctx.
func OriginFrom(ctx context.Context) string {
	origin, _ := ctx.Value(originKey{}).(string)
	return origin
}

// Lister is an optional interface for gateways that can enumerate the rooms
// they hold data for.
type Lister interface {
	Rooms(ctx context.Context) ([]string, error)
}
