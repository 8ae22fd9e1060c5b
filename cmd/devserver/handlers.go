package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type handler struct {
	users    *userStore
	hub      *roomHub
	imageDir string
	upgrader websocket.Upgrader
}

type ctxKey int

const ctxKeyUsername ctxKey = iota

func newHandler(users *userStore, hub *roomHub, imageDir string) *handler {
	return &handler{
		users:    users,
		hub:      hub,
		imageDir: imageDir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Dev server: the mobile client connects from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *handler) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Post("/signup", h.signup)
	r.Post("/login", h.login)

	// The room socket authenticates with the first frame, not a header.
	r.Get("/rooms/{roomID}", h.ws)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/rooms", h.listRooms)
		r.Post("/rooms/create", h.createRoom)
		r.Delete("/rooms/{roomID}", h.deleteRoom)
		r.Get("/rooms/{roomID}/messages", h.history)
		r.Post("/rooms/{roomID}/image", h.uploadImage)
		r.Get("/images/{name}", h.image)
	})
	return r
}

// requireAuth validates the bearer token and stows the username in the
// request context.
func (h *handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		username, err := h.users.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUsername, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func usernameFrom(r *http.Request) string {
	if v, ok := r.Context().Value(ctxKeyUsername).(string); ok {
		return v
	}
	return ""
}

// Auth endpoints

func (h *handler) signup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, err := h.users.Signup(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, err := h.users.Login(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Room CRUD

func (h *handler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.hub.listRooms()
	out := make(map[string]map[string]string, len(rooms))
	for id, name := range rooms {
		out[id] = map[string]string{"name": name}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "room name required")
		return
	}
	id := h.hub.createRoom(req.Name)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "name": req.Name})
}

func (h *handler) deleteRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "roomID")
	if !h.hub.deleteRoom(id) {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// History

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "roomID")
	if _, ok := h.hub.roomName(id); !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	records, err := h.hub.history(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load history failed")
		return
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	// Single JSON encoding; the legacy backend's string-wrapped array is a
	// bug clients are told to tolerate, not a format to reproduce.
	writeJSON(w, http.StatusOK, records)
}

// Images

func (h *handler) uploadImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "roomID")
	if _, ok := h.hub.roomName(id); !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("chatImage")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing chatImage field")
		return
	}
	defer file.Close()
	caption := r.FormValue("content")

	ext := filepath.Ext(header.Filename)
	if len(ext) > 8 {
		ext = ""
	}
	name := uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(h.imageDir, name))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store image failed")
		return
	}
	if _, err := dst.ReadFrom(file); err != nil {
		_ = dst.Close()
		writeError(w, http.StatusInternalServerError, "store image failed")
		return
	}
	if err := dst.Close(); err != nil {
		writeError(w, http.StatusInternalServerError, "store image failed")
		return
	}

	rec := wireRecord{
		Username:    usernameFrom(r),
		Content:     caption,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		MessageType: "image",
		ImagePath:   name,
	}
	h.hub.broadcast(id, rec)
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) image(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		writeError(w, http.StatusBadRequest, "invalid image name")
		return
	}
	path := filepath.Join(h.imageDir, name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	http.ServeFile(w, r, path)
}

// Room socket

func (h *handler) ws(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "roomID")
	if _, ok := h.hub.roomName(id); !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("[ws] upgrade failed")
		return
	}

	// Handshake: the first frame must be a valid raw bearer token.
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, tokenFrame, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return
	}
	username, err := h.users.Verify(string(tokenFrame))
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token"))
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	if !h.hub.register(id, conn) {
		_ = conn.Close()
		return
	}
	log.Info().Str("room", id).Str("user", username).Msg("[ws] client joined")
	defer func() {
		h.hub.unregister(id, conn)
		_ = conn.Close()
		log.Info().Str("room", id).Str("user", username).Msg("[ws] client left")
	}()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		text := strings.TrimSpace(string(payload))
		if text == "" {
			continue
		}
		h.hub.broadcast(id, wireRecord{
			Username:  username,
			Content:   text,
			CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// JSON helpers

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Debug().Err(err).Msg("[http] encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
