package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mediguide/server/chat"
	"github.com/mediguide/server/rpc"
	"github.com/mediguide/server/session"
)

func newTestChatMessagesWatcher(t *testing.T) (*ChatMessagesWatcher, session.Store) {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	w := NewChatMessagesWatcher(store)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, store
}

func TestChatMessagesWatcher_SubscribeReturnsHistory(t *testing.T) {
	w, store := newTestChatMessagesWatcher(t)

	sess, _ := store.Create(context.Background(), "")
	msg := session.Message{ID: session.NewID(), Role: session.RoleUser, Content: "hello", Timestamp: time.Now()}
	store.AppendMessage(context.Background(), sess.ID, msg)

	id, history, err := w.Subscribe(&recordingNotifier{}, "conn1", sess.ID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if id == "" {
		t.Error("expected a subscription id")
	}
	if len(history) != 1 || history[0].ID != msg.ID {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestChatMessagesWatcher_SubscribeUnknownSession(t *testing.T) {
	w, _ := newTestChatMessagesWatcher(t)

	if _, _, err := w.Subscribe(&recordingNotifier{}, "conn1", "missing"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if w.HasSubscriptions() {
		t.Error("failed subscribe must not leave a subscription behind")
	}
}

func TestChatMessagesWatcher_RoutesBySession(t *testing.T) {
	w, store := newTestChatMessagesWatcher(t)

	sessA, _ := store.Create(context.Background(), "")
	sessB, _ := store.Create(context.Background(), "")

	notifierA := &recordingNotifier{}
	notifierB := &recordingNotifier{}
	w.Subscribe(notifierA, "conn1", sessA.ID)
	w.Subscribe(notifierB, "conn2", sessB.ID)

	msg := session.Message{ID: session.NewID(), Role: session.RoleAssistant, Content: "hi"}
	w.OnChatMessage(chat.MessageEvent{SessionID: sessA.ID, Message: msg})

	notifications := notifierA.wait(t, 1)
	if notifications[0].Method != "chat.message.added" {
		t.Errorf("unexpected method %q", notifications[0].Method)
	}
	params := notifications[0].Params.(rpc.ChatMessageAddedParams)
	if params.SessionID != sessA.ID || params.Message.ID != msg.ID {
		t.Errorf("unexpected params: %+v", params)
	}

	time.Sleep(50 * time.Millisecond)
	notifierB.mu.Lock()
	defer notifierB.mu.Unlock()
	if len(notifierB.notifications) != 0 {
		t.Error("message must not reach subscribers of other sessions")
	}
}

func TestChatMessagesWatcher_CleanupConnection(t *testing.T) {
	w, store := newTestChatMessagesWatcher(t)

	sess, _ := store.Create(context.Background(), "")
	notifier := &recordingNotifier{}
	w.Subscribe(notifier, "conn1", sess.ID)
	w.Subscribe(&recordingNotifier{}, "conn2", sess.ID)

	w.CleanupConnection("conn1")

	msg := session.Message{ID: session.NewID(), Role: session.RoleUser, Content: "hi"}
	w.OnChatMessage(chat.MessageEvent{SessionID: sess.ID, Message: msg})

	time.Sleep(50 * time.Millisecond)
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.notifications) != 0 {
		t.Error("cleaned-up connection must not receive notifications")
	}
}
