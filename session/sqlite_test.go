package session

import (
	"context"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_CreateListDelete(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, _ := store.Create(ctx, "")

	sessions, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != second.ID {
		t.Error("expected newest-first ordering")
	}

	if err := store.Delete(ctx, second.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	active, found, _ := store.Active(ctx)
	if !found || active.ID != first.ID {
		t.Errorf("expected %q active after delete, got %q", first.ID, active.ID)
	}

	if err := store.Delete(ctx, "missing"); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSQLiteStore_MessagesRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	sess, _ := store.Create(ctx, "")
	userMsg := newTestMessage(RoleUser, "Is ibuprofen safe with food?")
	if _, err := store.AppendMessage(ctx, sess.ID, userMsg); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	reply := newTestMessage(RoleAssistant, "Generally, yes.")
	reply.Sources = []GroundingSource{{Title: "ref", URI: "https://example.org/nsaid"}}
	snapshot, err := store.AppendMessage(ctx, sess.ID, reply)
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if len(snapshot.Messages) != 2 {
		t.Fatalf("expected snapshot with 2 messages, got %d", len(snapshot.Messages))
	}

	got, found, err := store.Get(ctx, sess.ID)
	if err != nil || !found {
		t.Fatalf("Get failed: %v found=%v", err, found)
	}
	if got.Title != "Is ibuprofen safe with food?" {
		t.Errorf("expected title from first message, got %q", got.Title)
	}
	if got.Messages[0].ID != userMsg.ID || got.Messages[1].ID != reply.ID {
		t.Error("expected message ordering preserved")
	}
	if !got.Messages[0].Timestamp.Equal(userMsg.Timestamp) {
		t.Errorf("expected timestamp %v, got %v", userMsg.Timestamp, got.Messages[0].Timestamp)
	}
	if len(got.Messages[1].Sources) != 1 || got.Messages[1].Sources[0].URI != "https://example.org/nsaid" {
		t.Error("expected sources to round-trip")
	}
}

func TestSQLiteStore_Feedback(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	sess, _ := store.Create(ctx, "")
	userMsg := newTestMessage(RoleUser, "hello")
	store.AppendMessage(ctx, sess.ID, userMsg)
	reply := newTestMessage(RoleAssistant, "hi")
	store.AppendMessage(ctx, sess.ID, reply)

	store.SetFeedback(ctx, sess.ID, reply.ID, FeedbackPositive)
	store.SetFeedback(ctx, sess.ID, reply.ID, FeedbackNegative)
	store.SetFeedback(ctx, sess.ID, userMsg.ID, FeedbackPositive)

	got, _, _ := store.Get(ctx, sess.ID)
	if got.Messages[1].Feedback != FeedbackNegative {
		t.Errorf("expected latest feedback %q, got %q", FeedbackNegative, got.Messages[1].Feedback)
	}
	if got.Messages[0].Feedback != FeedbackNone {
		t.Error("feedback must not be set on user messages")
	}
}

func TestSQLiteStore_RenameBlocksAutoTitle(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	sess, _ := store.Create(ctx, "")
	if err := store.Rename(ctx, sess.ID, "Allergy log"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	store.AppendMessage(ctx, sess.ID, newTestMessage(RoleUser, "What triggers hay fever?"))

	got, _, _ := store.Get(ctx, sess.ID)
	if got.Title != "Allergy log" {
		t.Errorf("expected explicit title to survive first message, got %q", got.Title)
	}

	if err := store.Rename(ctx, "no-such-id", "x"); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSQLiteStore_ClearAll(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	sess, _ := store.Create(ctx, "")
	store.AppendMessage(ctx, sess.ID, newTestMessage(RoleUser, "hello"))

	if err := store.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	sessions, _ := store.List(ctx)
	if len(sessions) != 0 {
		t.Errorf("expected empty store, got %d sessions", len(sessions))
	}
	if _, found, _ := store.Active(ctx); found {
		t.Error("expected no active session")
	}
}
