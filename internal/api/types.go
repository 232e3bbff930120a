package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/sketchroom/whiteboard/pkg/core"
)

// Request headers.
const (
	// HeaderOrigin carries the session ID of the writer of a drawing.
	HeaderOrigin = "X-Sketchroom-Origin"
	HeaderAPIKey = "X-Api-Key"
)

// DrawingBody is the JSON document of GET/PUT /api/rooms/{id}/drawing.
type DrawingBody struct {
	Strokes core.DrawingLog `json:"strokes"`
}

// VerifyRequest is the body of POST /api/rooms/{id}/verify.
type VerifyRequest struct {
	Password string `json:"password"`
}

// VerifyResponse reports whether the password matched.
type VerifyResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// etag identifies the content of a drawing document.
func etag(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func encodeDrawing(log core.DrawingLog) ([]byte, error) {
	if log == nil {
		log = core.DrawingLog{}
	}
	return json.Marshal(DrawingBody{Strokes: log})
}
