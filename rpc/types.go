// Package rpc defines JSON-RPC 2.0 wire format types for WebSocket
// communication. These types represent the params and result structures for
// all RPC methods.
package rpc

import (
	"github.com/mediguide/server/session"
	"github.com/mediguide/server/settings"
)

// Client → Server

type AuthParams struct {
	Token string `json:"token"`
}

type AuthResult struct {
	Version string `json:"version"`
	Title   string `json:"title"`
}

// Session management

type SessionCreateResult struct {
	Session session.Session `json:"session"`
}

type SessionDeleteParams struct {
	SessionID string `json:"session_id"`
}

type SessionSelectParams struct {
	SessionID string `json:"session_id"`
}

type SessionClearAllParams struct {
	Confirm bool `json:"confirm"`
}

// Session list watch (subscription for session list changes)

type SessionListSubscribeResult struct {
	ID       string            `json:"id"`
	Sessions []session.Session `json:"sessions"`
	ActiveID string            `json:"active_id,omitempty"`
}

type SessionListChangedParams struct {
	ID        string           `json:"id"`
	Operation string           `json:"operation"`
	Session   *session.Session `json:"session,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
}

// Chat namespace

type ChatMessageParams struct {
	SessionID string `json:"session_id,omitempty"` // empty = create a session
	Content   string `json:"content"`
	Image     string `json:"image,omitempty"` // base64, optional data-URL prefix
}

type ChatMessageResult struct {
	SessionID        string          `json:"session_id"`
	UserMessage      session.Message `json:"user_message"`
	AssistantMessage session.Message `json:"assistant_message"`
}

type ChatFeedbackParams struct {
	SessionID string           `json:"session_id"`
	MessageID string           `json:"message_id"`
	Feedback  session.Feedback `json:"feedback"`
}

// Chat messages watch (subscription for per-session message events)

type ChatSubscribeParams struct {
	SessionID string `json:"session_id"`
}

type ChatSubscribeResult struct {
	ID      string            `json:"id"`
	History []session.Message `json:"history"`
}

type ChatMessageAddedParams struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Message   session.Message `json:"message"`
}

// Generic unsubscribe, shared by all watch namespaces.

type UnsubscribeParams struct {
	ID string `json:"id"`
}

// Settings namespace

type SettingsGetResult struct {
	Settings settings.Settings `json:"settings"`
}

type SettingsUpdateParams struct {
	Settings settings.Settings `json:"settings"`
}

type TermsAcceptResult struct {
	Accepted bool `json:"accepted"`
}
