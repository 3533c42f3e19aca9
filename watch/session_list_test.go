package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mediguide/server/rpc"
	"github.com/mediguide/server/session"
)

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
	return nil
}

func (n *recordingNotifier) wait(t *testing.T, count int) []Notification {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n.mu.Lock()
		if len(n.notifications) >= count {
			out := make([]Notification, len(n.notifications))
			copy(out, n.notifications)
			n.mu.Unlock()
			return out
		}
		n.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d notifications", count)
	return nil
}

func newTestSessionListWatcher(t *testing.T) (*SessionListWatcher, session.Store) {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	w := NewSessionListWatcher(store)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, store
}

func TestSessionListWatcher_SubscribeReturnsCurrentList(t *testing.T) {
	w, store := newTestSessionListWatcher(t)

	first, _ := store.Create(context.Background(), "")
	second, _ := store.Create(context.Background(), "")

	id, sessions, activeID, err := w.Subscribe(&recordingNotifier{}, "conn1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if id == "" {
		t.Error("expected a subscription id")
	}
	if len(sessions) != 2 || sessions[0].ID != second.ID || sessions[1].ID != first.ID {
		t.Errorf("expected newest-first list, got %+v", sessions)
	}
	if activeID != second.ID {
		t.Errorf("expected active %q, got %q", second.ID, activeID)
	}
}

func TestSessionListWatcher_NotifiesOnChange(t *testing.T) {
	w, store := newTestSessionListWatcher(t)

	notifier := &recordingNotifier{}
	if _, _, _, err := w.Subscribe(notifier, "conn1"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	sess, _ := store.Create(context.Background(), "")
	store.Delete(context.Background(), sess.ID)

	notifications := notifier.wait(t, 2)
	if notifications[0].Method != "session.list.changed" {
		t.Errorf("unexpected method %q", notifications[0].Method)
	}

	created := notifications[0].Params.(rpc.SessionListChangedParams)
	if created.Operation != "create" || created.Session == nil || created.Session.ID != sess.ID {
		t.Errorf("unexpected create params: %+v", created)
	}

	deleted := notifications[1].Params.(rpc.SessionListChangedParams)
	if deleted.Operation != "delete" || deleted.SessionID != sess.ID {
		t.Errorf("unexpected delete params: %+v", deleted)
	}
	if deleted.Session != nil {
		t.Error("delete notifications carry only the session id")
	}
}

func TestSessionListWatcher_UnsubscribeStopsNotifications(t *testing.T) {
	w, store := newTestSessionListWatcher(t)

	notifier := &recordingNotifier{}
	id, _, _, _ := w.Subscribe(notifier, "conn1")
	w.Unsubscribe(id)

	store.Create(context.Background(), "")

	// Give the event loop a moment to (not) deliver.
	time.Sleep(50 * time.Millisecond)
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.notifications) != 0 {
		t.Errorf("expected no notifications after unsubscribe, got %d", len(notifier.notifications))
	}
}
