package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/sketchroom/whiteboard/pkg/core"
)

// Message type constants of the room relay protocol.
const (
	TypeStrokeAdded   = "stroke-added"
	TypeCanvasCleared = "canvas-cleared"
	TypeCursorMoved   = "cursor-moved"
	TypeLogChanged    = "log-changed"
	TypeJoined        = "joined"
	TypeError         = "error"
)

// Envelope wraps all messages sent over the WebSocket. Room, Sender and Seq
// are filled in by the relay; clients only need to set Type and Payload.
type Envelope struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	Sender  string          `json:"sender,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinedMessage is the relay's acknowledgement that a participant is a
// member of a room and will receive its traffic from now on.
type JoinedMessage struct {
	Room        string `json:"room"`
	Participant string `json:"participant"`
	Members     int    `json:"members"`
}

// ErrorMessage reports a rejected request.
type ErrorMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// StrokePayload carries one finished stroke.
type StrokePayload struct {
	Stroke core.Stroke `json:"stroke"`
}

// LogChangedPayload carries the durable log after a persistence write by
// another participant.
type LogChangedPayload struct {
	Origin string          `json:"origin,omitempty"`
	Log    core.DrawingLog `json:"log"`
}

// New builds an envelope with the payload marshaled to JSON.
func New(msgType string, payload any) (Envelope, error) {
	env := Envelope{Type: msgType}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env.Payload = data
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
