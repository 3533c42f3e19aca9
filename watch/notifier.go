package watch

import "context"

// Notification is one server-push message bound for a subscriber.
type Notification struct {
	Method string
	Params any
}

// Notifier abstracts the push mechanism. WebSocket clients use the jsonrpc2
// notifier in the ws package; tests provide in-memory implementations.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
