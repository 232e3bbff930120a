// pkg/core/log.go
package core

// DrawingLog is the ordered list of strokes for one room. Rendering the log
// in order onto a background-filled surface reproduces the canvas.
type DrawingLog []Stroke

// Clone deep-copies the log including every path.
func (l DrawingLog) Clone() DrawingLog {
	if l == nil {
		return DrawingLog{}
	}
	out := make(DrawingLog, len(l))
	for i, s := range l {
		out[i] = s.Clone()
	}
	return out
}

// Equal reports whether both logs hold the same strokes in the same order.
func (l DrawingLog) Equal(o DrawingLog) bool {
	if len(l) != len(o) {
		return false
	}
	for i := range l {
		if !l[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Last returns the tail stroke.
func (l DrawingLog) Last() (Stroke, bool) {
	if len(l) == 0 {
		return Stroke{}, false
	}
	return l[len(l)-1], true
}

// Valid drops strokes that fail Validate and reports how many were dropped.
func (l DrawingLog) Valid() (DrawingLog, int) {
	out := make(DrawingLog, 0, len(l))
	for _, s := range l {
		if s.Validate() == nil {
			out = append(out, s)
		}
	}
	return out, len(l) - len(out)
}

// EventKind identifies an entry of an append-only room log.
type EventKind string

const (
	EventStroke  EventKind = "stroke"
	EventRetract EventKind = "retract"
	EventClear   EventKind = "clear"
)

// LogEvent is one entry of an append-only room log. Stroke is set for
// EventStroke, StrokeID for EventRetract.
type LogEvent struct {
	Seq      uint64    `json:"seq" cbor:"1,keyasint"`
	Kind     EventKind `json:"kind" cbor:"2,keyasint"`
	Stroke   *Stroke   `json:"stroke,omitempty" cbor:"3,keyasint,omitempty"`
	StrokeID string    `json:"strokeId,omitempty" cbor:"4,keyasint,omitempty"`
}

// Fold replays events in order and returns the resulting log. A retract
// removes the most recent stroke with the matching ID.
func Fold(events []LogEvent) DrawingLog {
	log := DrawingLog{}
	for _, ev := range events {
		switch ev.Kind {
		case EventStroke:
			if ev.Stroke != nil {
				log = append(log, ev.Stroke.Clone())
			}
		case EventRetract:
			for i := len(log) - 1; i >= 0; i-- {
				if log[i].ID == ev.StrokeID {
					log = append(log[:i], log[i+1:]...)
					break
				}
			}
		case EventClear:
			log = DrawingLog{}
		}
	}
	return log
}

// SnapshotEvents expresses a full log overwrite as a clear followed by the
// strokes in order.
func SnapshotEvents(log DrawingLog) []LogEvent {
	events := make([]LogEvent, 0, len(log)+1)
	events = append(events, LogEvent{Kind: EventClear})
	for _, s := range log {
		st := s.Clone()
		events = append(events, LogEvent{Kind: EventStroke, Stroke: &st})
	}
	return events
}
