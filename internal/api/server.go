package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sketchroom/whiteboard/internal/canvas"
	"github.com/sketchroom/whiteboard/internal/config"
	"github.com/sketchroom/whiteboard/internal/rooms"
	"github.com/sketchroom/whiteboard/internal/storage"
	"github.com/sketchroom/whiteboard/pkg/core"
)

const maxDrawingBody = 32 << 20

// Dependencies holds the collaborators of the HTTP API.
type Dependencies struct {
	Rooms   rooms.Store
	Gateway storage.Gateway
	// Relay serves /ws/rooms/{id}; the route is omitted when nil.
	Relay  http.Handler
	Canvas config.CanvasConfig
	// APIKey, when set, is required on every mutating request.
	APIKey string
	Logger *slog.Logger
}

// Server exposes rooms, drawings and exports over HTTP.
type Server struct {
	deps   Dependencies
	router *mux.Router

	mu      sync.Mutex
	origins map[string]string
}

// NewServer creates the API and registers its routes.
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Canvas.Width <= 0 || deps.Canvas.Height <= 0 {
		deps.Canvas.Width, deps.Canvas.Height = 1280, 720
	}
	if deps.Canvas.ThumbnailSize <= 0 {
		deps.Canvas.ThumbnailSize = 256
	}
	s := &Server{
		deps:    deps,
		router:  mux.NewRouter(),
		origins: make(map[string]string),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/healthcheck", s.handleHealthcheck).Methods(http.MethodGet)

	api := r.PathPrefix("/api/rooms").Subrouter()
	api.HandleFunc("", s.handleListRooms).Methods(http.MethodGet)
	api.HandleFunc("", s.authorized(s.handleCreateRoom)).Methods(http.MethodPost)
	api.HandleFunc("/{id}", s.handleGetRoom).Methods(http.MethodGet)
	api.HandleFunc("/{id}", s.authorized(s.handleDeleteRoom)).Methods(http.MethodDelete)
	api.HandleFunc("/{id}/verify", s.handleVerify).Methods(http.MethodPost)
	api.HandleFunc("/{id}/drawing", s.handleGetDrawing).Methods(http.MethodGet)
	api.HandleFunc("/{id}/drawing", s.authorized(s.handlePutDrawing)).Methods(http.MethodPut)
	api.HandleFunc("/{id}/export.{format}", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/{id}/thumbnail.png", s.handleThumbnail).Methods(http.MethodGet)

	if s.deps.Relay != nil {
		r.Handle("/ws/rooms/{id}", s.deps.Relay).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.APIKey != "" && r.Header.Get(HeaderAPIKey) != s.deps.APIKey {
			writeError(w, http.StatusUnauthorized, errors.New("invalid api key"))
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, errors.New("owner is required"))
		return
	}
	list, err := s.deps.Rooms.List(r.Context(), owner)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req rooms.CreateRoom
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode room: %w", err))
		return
	}
	room, err := s.deps.Rooms.Create(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.deps.Gateway.Save(r.Context(), room.ID, core.DrawingLog{}); err != nil {
		s.deps.Logger.Warn("Failed to create empty drawing", "room", room.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.deps.Rooms.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Rooms.Delete(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.deps.Gateway.Save(r.Context(), id, core.DrawingLog{}); err != nil {
		s.deps.Logger.Warn("Failed to clear deleted room drawing", "room", id, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode verify request: %w", err))
		return
	}
	ok, err := s.deps.Rooms.VerifyPassword(r.Context(), mux.Vars(r)["id"], req.Password)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{OK: ok})
}

func (s *Server) handleGetDrawing(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	log, err := s.deps.Gateway.Load(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	body, err := encodeDrawing(log)
	if err != nil {
		s.fail(w, err)
		return
	}

	tag := etag(body)
	w.Header().Set("ETag", tag)
	s.mu.Lock()
	if origin := s.origins[id]; origin != "" {
		w.Header().Set(HeaderOrigin, origin)
	}
	s.mu.Unlock()
	if r.Header.Get("If-None-Match") == tag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handlePutDrawing(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body DrawingBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDrawingBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode drawing: %w", err))
		return
	}
	for i, st := range body.Strokes {
		if err := st.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("stroke %d: %w", i, err))
			return
		}
	}
	if body.Strokes == nil {
		body.Strokes = core.DrawingLog{}
	}

	origin := r.Header.Get(HeaderOrigin)
	ctx := storage.WithOrigin(r.Context(), origin)
	if err := s.deps.Gateway.Save(ctx, id, body.Strokes); err != nil {
		s.fail(w, err)
		return
	}
	s.mu.Lock()
	s.origins[id] = origin
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	format, err := canvas.ParseFormat(vars["format"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	log, err := s.deps.Gateway.Load(r.Context(), vars["id"])
	if err != nil {
		s.fail(w, err)
		return
	}

	start := time.Now()
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="whiteboard.%s"`, format))
	if err := canvas.Export(w, format, log, s.deps.Canvas.Width, s.deps.Canvas.Height); err != nil {
		s.deps.Logger.Error("Export failed", "room", vars["id"], "format", format, "error", err)
		return
	}
	s.deps.Logger.Debug("Exported drawing", "room", vars["id"], "format", format, "strokes", len(log), "duration", time.Since(start))
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	log, err := s.deps.Gateway.Load(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	size := s.deps.Canvas.ThumbnailSize
	w.Header().Set("Content-Type", "image/png")
	if err := canvas.WriteThumbnail(w, log, s.deps.Canvas.Width, s.deps.Canvas.Height, size, size); err != nil {
		s.deps.Logger.Error("Thumbnail failed", "room", id, "error", err)
	}
}

// fail maps domain errors to HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rooms.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, rooms.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, rooms.ErrInvalidRoom), errors.Is(err, core.ErrInvalidStroke):
		writeError(w, http.StatusBadRequest, err)
	default:
		s.deps.Logger.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
