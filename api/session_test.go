package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mediguide/server/session"
)

var bgCtx = context.Background()

func newTestMux(t *testing.T) (*http.ServeMux, *session.FileStore) {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	mux := http.NewServeMux()
	NewSessionHandler(store).Register(mux)
	return mux, store
}

func TestSessionHandler_List(t *testing.T) {
	mux, store := newTestMux(t)
	store.Create(bgCtx, "")
	second, _ := store.Create(bgCtx, "")

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	var resp struct {
		Sessions []session.Session `json:"sessions"`
		ActiveID string            `json:"active_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Sessions) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(resp.Sessions))
	}
	if resp.ActiveID != second.ID {
		t.Errorf("expected active %q, got %q", second.ID, resp.ActiveID)
	}
}

func TestSessionHandler_Create(t *testing.T) {
	mux, store := newTestMux(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}

	var sess session.Session
	if err := json.NewDecoder(rec.Body).Decode(&sess); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if _, err := uuid.Parse(sess.ID); err != nil {
		t.Errorf("expected valid UUID, got %q: %v", sess.ID, err)
	}
	if sess.Title != session.DefaultTitle {
		t.Errorf("expected title %q, got %q", session.DefaultTitle, sess.Title)
	}

	sessions, _ := store.List(bgCtx)
	if len(sessions) != 1 || sessions[0].ID != sess.ID {
		t.Errorf("expected stored session to match response")
	}
}

func TestSessionHandler_Delete(t *testing.T) {
	mux, store := newTestMux(t)
	sess, _ := store.Create(bgCtx, "")

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+sess.ID, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rec.Code)
	}

	sessions, _ := store.List(bgCtx)
	if len(sessions) != 0 {
		t.Errorf("expected 0 sessions after delete, got %d", len(sessions))
	}
}

func TestSessionHandler_Delete_NotFound(t *testing.T) {
	mux, _ := newTestMux(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/non-existent-id", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}

func TestSessionHandler_ClearAll_RequiresConfirm(t *testing.T) {
	mux, store := newTestMux(t)
	store.Create(bgCtx, "")

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 without confirm, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/sessions?confirm=true", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rec.Code)
	}
	sessions, _ := store.List(bgCtx)
	if len(sessions) != 0 {
		t.Errorf("expected 0 sessions after clear, got %d", len(sessions))
	}
}

func TestSessionHandler_Rename(t *testing.T) {
	mux, store := newTestMux(t)
	sess, _ := store.Create(bgCtx, "")

	body := strings.NewReader(`{"title":"Knee pain follow-up"}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/sessions/"+sess.ID, body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rec.Code)
	}

	sessions, _ := store.List(bgCtx)
	if sessions[0].Title != "Knee pain follow-up" {
		t.Errorf("expected renamed title, got %q", sessions[0].Title)
	}
}

func TestSessionHandler_Rename_EmptyTitle(t *testing.T) {
	mux, store := newTestMux(t)
	sess, _ := store.Create(bgCtx, "")

	body := strings.NewReader(`{"title":""}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/sessions/"+sess.ID, body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestSessionHandler_Rename_NotFound(t *testing.T) {
	mux, _ := newTestMux(t)

	body := strings.NewReader(`{"title":"Some Title"}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/sessions/non-existent-id", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}

func TestSessionHandler_Messages(t *testing.T) {
	mux, store := newTestMux(t)
	sess, _ := store.Create(bgCtx, "")

	store.AppendMessage(bgCtx, sess.ID, session.Message{
		ID: session.NewID(), Role: session.RoleUser, Content: "hello", Timestamp: time.Now(),
	})
	store.AppendMessage(bgCtx, sess.ID, session.Message{
		ID: session.NewID(), Role: session.RoleAssistant, Content: "hi", Timestamp: time.Now(),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID+"/messages", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	var resp struct {
		Messages []session.Message `json:"messages"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(resp.Messages))
	}
}

func TestSessionHandler_Feedback(t *testing.T) {
	mux, store := newTestMux(t)
	sess, _ := store.Create(bgCtx, "")

	reply := session.Message{ID: session.NewID(), Role: session.RoleAssistant, Content: "hi", Timestamp: time.Now()}
	store.AppendMessage(bgCtx, sess.ID, reply)

	body := strings.NewReader(`{"feedback":"negative"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/sessions/"+sess.ID+"/messages/"+reply.ID+"/feedback", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rec.Code)
	}

	got, _, _ := store.Get(bgCtx, sess.ID)
	if got.Messages[0].Feedback != session.FeedbackNegative {
		t.Errorf("expected negative feedback, got %q", got.Messages[0].Feedback)
	}
}

func TestSessionHandler_Feedback_InvalidValue(t *testing.T) {
	mux, store := newTestMux(t)
	sess, _ := store.Create(bgCtx, "")

	body := strings.NewReader(`{"feedback":"great"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/sessions/"+sess.ID+"/messages/some-id/feedback", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}
