// Package api exposes a thin REST surface over the session store for clients
// that do not hold a websocket open.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mediguide/server/logger"
	"github.com/mediguide/server/session"
)

type SessionHandler struct {
	store session.Store
}

func NewSessionHandler(store session.Store) *SessionHandler {
	return &SessionHandler{store: store}
}

func (h *SessionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.HandleList)
	mux.HandleFunc("POST /api/sessions", h.HandleCreate)
	mux.HandleFunc("DELETE /api/sessions", h.HandleClearAll)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.HandleDelete)
	mux.HandleFunc("PATCH /api/sessions/{id}", h.HandleRename)
	mux.HandleFunc("GET /api/sessions/{id}/messages", h.HandleMessages)
	mux.HandleFunc("PUT /api/sessions/{id}/messages/{mid}/feedback", h.HandleFeedback)
}

func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	log := logger.NewRequestLogger()

	sessions, err := h.store.List(r.Context())
	if err != nil {
		log.Error("failed to list sessions", "error", err)
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}

	activeID := ""
	if active, found, err := h.store.Active(r.Context()); err == nil && found {
		activeID = active.ID
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":  sessions,
		"active_id": activeID,
	})
}

func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	log := logger.NewRequestLogger()

	sess, err := h.store.Create(r.Context(), "")
	if err != nil {
		log.Error("failed to create session", "error", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	log.Info("session created", "sessionId", sess.ID)
	writeJSON(w, http.StatusCreated, sess)
}

func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	log := logger.NewRequestLogger()
	id := r.PathValue("id")

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		log.Error("failed to delete session", "sessionId", id, "error", err)
		http.Error(w, "failed to delete session", http.StatusInternalServerError)
		return
	}

	log.Info("session deleted", "sessionId", id)
	w.WriteHeader(http.StatusNoContent)
}

// HandleClearAll wipes every session. The confirm query flag is required so a
// stray DELETE cannot erase the whole history.
func (h *SessionHandler) HandleClearAll(w http.ResponseWriter, r *http.Request) {
	log := logger.NewRequestLogger()

	if r.URL.Query().Get("confirm") != "true" {
		http.Error(w, "confirm=true is required", http.StatusBadRequest)
		return
	}

	if err := h.store.ClearAll(r.Context()); err != nil {
		log.Error("failed to clear sessions", "error", err)
		http.Error(w, "failed to clear sessions", http.StatusInternalServerError)
		return
	}

	log.Info("all sessions cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) HandleRename(w http.ResponseWriter, r *http.Request) {
	log := logger.NewRequestLogger()
	id := r.PathValue("id")

	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.Title == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	if err := h.store.Rename(r.Context(), id, body.Title); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		log.Error("failed to rename session", "sessionId", id, "error", err)
		http.Error(w, "failed to rename session", http.StatusInternalServerError)
		return
	}

	log.Info("session renamed", "sessionId", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	log := logger.NewRequestLogger()
	id := r.PathValue("id")

	sess, found, err := h.store.Get(r.Context(), id)
	if err != nil {
		log.Error("failed to get session", "sessionId", id, "error", err)
		http.Error(w, "failed to get session", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": sess.Messages})
}

func (h *SessionHandler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	log := logger.NewRequestLogger()
	id := r.PathValue("id")
	messageID := r.PathValue("mid")

	var body struct {
		Feedback session.Feedback `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if !body.Feedback.IsValid() {
		http.Error(w, "invalid feedback value", http.StatusBadRequest)
		return
	}

	if err := h.store.SetFeedback(r.Context(), id, messageID, body.Feedback); err != nil {
		log.Error("failed to set feedback", "sessionId", id, "messageId", messageID, "error", err)
		http.Error(w, "failed to set feedback", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
