package watch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mediguide/server/chat"
	"github.com/mediguide/server/rpc"
	"github.com/mediguide/server/session"
)

// ChatMessagesWatcher manages per-session message subscriptions.
// Implements chat.MessageListener to receive messages from the orchestrator.
type ChatMessagesWatcher struct {
	*BaseWatcher
	store session.Store
	msgCh chan chat.MessageEvent

	sessionMu    sync.RWMutex
	sessionToIDs map[string][]string // sessionID -> subscription IDs
	idToSession  map[string]string   // subscription ID -> sessionID
}

var _ chat.MessageListener = (*ChatMessagesWatcher)(nil)
var _ Watcher = (*ChatMessagesWatcher)(nil)

func NewChatMessagesWatcher(store session.Store) *ChatMessagesWatcher {
	return &ChatMessagesWatcher{
		BaseWatcher:  NewBaseWatcher("cm"),
		store:        store,
		msgCh:        make(chan chat.MessageEvent, 256),
		sessionToIDs: make(map[string][]string),
		idToSession:  make(map[string]string),
	}
}

func (w *ChatMessagesWatcher) Start() error {
	go w.messageLoop()
	slog.Info("ChatMessagesWatcher started")
	return nil
}

func (w *ChatMessagesWatcher) Stop() {
	w.Cancel()
	slog.Info("ChatMessagesWatcher stopped")
}

// OnChatMessage implements chat.MessageListener. Called from the send
// pipeline, must not block.
func (w *ChatMessagesWatcher) OnChatMessage(msg chat.MessageEvent) {
	if w.Context().Err() != nil {
		return
	}

	select {
	case w.msgCh <- msg:
	default:
		slog.Warn("chat message dropped (buffer full)",
			"sessionId", msg.SessionID,
			"messageId", msg.Message.ID)
	}
}

func (w *ChatMessagesWatcher) messageLoop() {
	for {
		select {
		case <-w.Context().Done():
			return
		case msg := <-w.msgCh:
			w.notifyMessage(msg)
		}
	}
}

func (w *ChatMessagesWatcher) notifyMessage(msg chat.MessageEvent) {
	w.sessionMu.RLock()
	ids := make([]string, len(w.sessionToIDs[msg.SessionID]))
	copy(ids, w.sessionToIDs[msg.SessionID])
	w.sessionMu.RUnlock()

	if len(ids) == 0 {
		return
	}

	for _, id := range ids {
		sub := w.GetSubscription(id)
		if sub == nil {
			continue
		}

		params := rpc.ChatMessageAddedParams{
			ID:        sub.ID,
			SessionID: msg.SessionID,
			Message:   msg.Message,
		}
		n := Notification{Method: "chat.message.added", Params: params}
		if err := sub.Notifier.Notify(context.Background(), n); err != nil {
			slog.Debug("failed to notify subscriber",
				"id", sub.ID,
				"sessionId", msg.SessionID,
				"error", err)
		}
	}
}

// Subscribe registers a subscriber for a specific session.
// Returns the subscription ID and the session's message history.
func (w *ChatMessagesWatcher) Subscribe(notifier Notifier, connID, sessionID string) (string, []session.Message, error) {
	id := w.GenerateID()
	sub := &Subscription{
		ID:       id,
		ConnID:   connID,
		Notifier: notifier,
	}

	// Lock order: sessionMu → subMu (consistent with Unsubscribe/CleanupConnection)
	w.sessionMu.Lock()
	w.sessionToIDs[sessionID] = append(w.sessionToIDs[sessionID], id)
	w.idToSession[id] = sessionID
	w.sessionMu.Unlock()

	// Register subscription BEFORE getting history to avoid message loss.
	// Rare duplicates are acceptable; message loss is not.
	w.AddSubscription(sub)

	sess, found, err := w.store.Get(context.Background(), sessionID)
	if err != nil {
		w.Unsubscribe(id)
		return "", nil, err
	}
	if !found {
		w.Unsubscribe(id)
		return "", nil, session.ErrSessionNotFound
	}

	return id, sess.Messages, nil
}

// Unsubscribe removes a subscription.
func (w *ChatMessagesWatcher) Unsubscribe(id string) {
	w.sessionMu.Lock()
	w.removeSessionMapping(id)
	w.sessionMu.Unlock()

	w.RemoveSubscription(id)
}

// CleanupConnection removes all subscriptions for a connection.
func (w *ChatMessagesWatcher) CleanupConnection(connID string) {
	subs := w.GetSubscriptionsByConnID(connID)
	if len(subs) == 0 {
		return
	}

	ids := make([]string, len(subs))
	for i, sub := range subs {
		ids[i] = sub.ID
	}

	// Lock order: sessionMu → subMu (consistent with Subscribe/Unsubscribe)
	w.sessionMu.Lock()
	for _, id := range ids {
		w.removeSessionMapping(id)
	}
	w.sessionMu.Unlock()

	w.BaseWatcher.CleanupConnection(connID)
}

// removeSessionMapping removes session mapping for a subscription. Caller must hold sessionMu.
func (w *ChatMessagesWatcher) removeSessionMapping(id string) {
	sessionID, ok := w.idToSession[id]
	if !ok {
		return
	}

	delete(w.idToSession, id)
	ids := w.sessionToIDs[sessionID]
	for i, v := range ids {
		if v == id {
			w.sessionToIDs[sessionID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(w.sessionToIDs[sessionID]) == 0 {
		delete(w.sessionToIDs, sessionID)
	}
}
