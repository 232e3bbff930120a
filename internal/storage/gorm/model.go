package gormstorage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sketchroom/whiteboard/pkg/core"
	"gorm.io/datatypes"
)

// StrokeEvent is one row of the append-only per-room stroke log.
type StrokeEvent struct {
	ID        uint           `json:"id" gorm:"primarykey;autoIncrement"`
	RoomID    string         `json:"roomId" gorm:"size:64;not null;uniqueIndex:idx_stroke_events_room_seq,priority:1"`
	Seq       uint64         `json:"seq" gorm:"not null;uniqueIndex:idx_stroke_events_room_seq,priority:2"`
	Kind      string         `json:"kind" gorm:"size:16;not null"`
	StrokeID  string         `json:"strokeId" gorm:"size:64"`
	Payload   datatypes.JSON `json:"payload"`
	Origin    string         `json:"origin" gorm:"size:64"`
	CreatedAt time.Time      `json:"createdAt"`
}

// TableName sets the table name for StrokeEvent.
func (*StrokeEvent) TableName() string {
	return "stroke_events"
}

// Models lists the tables migrated by the backend.
var Models = []any{&StrokeEvent{}}

func toRow(roomID, origin string, seq uint64, ev core.LogEvent) (StrokeEvent, error) {
	row := StrokeEvent{
		RoomID:   roomID,
		Seq:      seq,
		Kind:     string(ev.Kind),
		StrokeID: ev.StrokeID,
		Origin:   origin,
	}
	if ev.Stroke != nil {
		payload, err := json.Marshal(ev.Stroke)
		if err != nil {
			return StrokeEvent{}, fmt.Errorf("encode stroke %s: %w", ev.Stroke.ID, err)
		}
		row.Payload = datatypes.JSON(payload)
		row.StrokeID = ev.Stroke.ID
	}
	return row, nil
}

func (r StrokeEvent) event() (core.LogEvent, error) {
	ev := core.LogEvent{Seq: r.Seq, Kind: core.EventKind(r.Kind), StrokeID: r.StrokeID}
	if ev.Kind == core.EventStroke {
		var s core.Stroke
		if err := json.Unmarshal(r.Payload, &s); err != nil {
			return core.LogEvent{}, fmt.Errorf("decode stroke event %d: %w", r.Seq, err)
		}
		ev.Stroke = &s
	}
	return ev, nil
}
