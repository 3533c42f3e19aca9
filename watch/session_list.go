package watch

import (
	"context"
	"log/slog"

	"github.com/mediguide/server/rpc"
	"github.com/mediguide/server/session"
)

// SessionListWatcher notifies subscribers when the session list changes.
// Uses a channel-based async notification pattern to avoid blocking the session
// store's mutex during network I/O.
type SessionListWatcher struct {
	*BaseWatcher
	store   session.Store
	eventCh chan session.ChangeEvent
}

var _ session.OnChangeListener = (*SessionListWatcher)(nil)
var _ Watcher = (*SessionListWatcher)(nil)

func NewSessionListWatcher(store session.Store) *SessionListWatcher {
	w := &SessionListWatcher{
		BaseWatcher: NewBaseWatcher("sl"),
		store:       store,
		eventCh:     make(chan session.ChangeEvent, 64), // Buffer to avoid blocking
	}
	store.SetOnChangeListener(w)
	return w
}

func (w *SessionListWatcher) Start() error {
	go w.eventLoop()
	slog.Info("SessionListWatcher started")
	return nil
}

func (w *SessionListWatcher) Stop() {
	w.Cancel()
	slog.Info("SessionListWatcher stopped")
}

func (w *SessionListWatcher) eventLoop() {
	for {
		select {
		case <-w.Context().Done():
			return
		case event := <-w.eventCh:
			w.notifyChange(event)
		}
	}
}

func (w *SessionListWatcher) notifyChange(event session.ChangeEvent) {
	if !w.HasSubscriptions() {
		return
	}

	w.NotifyAll("session.list.changed", func(sub *Subscription) any {
		params := rpc.SessionListChangedParams{
			ID:        sub.ID,
			Operation: string(event.Op),
		}
		switch event.Op {
		case session.OperationDelete:
			params.SessionID = event.Session.ID
		case session.OperationClear:
			// No payload; the list is now empty.
		default:
			sess := event.Session
			params.Session = &sess
		}
		return params
	})

	slog.Debug("notified session list change", "operation", event.Op)
}

// Subscribe registers a subscriber and returns the subscription ID along with
// the current session list and active selection.
func (w *SessionListWatcher) Subscribe(notifier Notifier, connID string) (string, []session.Session, string, error) {
	id := w.GenerateID()
	sub := &Subscription{
		ID:       id,
		ConnID:   connID,
		Notifier: notifier,
	}
	// Add subscription BEFORE getting the list to avoid missing events
	// that occur between List() and AddSubscription().
	w.AddSubscription(sub)

	sessions, err := w.store.List(context.Background())
	if err != nil {
		w.RemoveSubscription(id)
		return "", nil, "", err
	}

	activeID := ""
	if active, found, err := w.store.Active(context.Background()); err == nil && found {
		activeID = active.ID
	}

	return id, sessions, activeID, nil
}

// OnSessionChange implements session.OnChangeListener.
// This method is called under the session store's mutex, so it must not block.
// Events are queued to the channel for async processing.
func (w *SessionListWatcher) OnSessionChange(event session.ChangeEvent) {
	if w.Context().Err() != nil {
		return
	}

	// Non-blocking send: if the buffer is full, drop the event.
	select {
	case w.eventCh <- event:
	default:
		slog.Warn("session list change event dropped (buffer full)", "operation", event.Op)
	}
}
