package session

import (
	"errors"
	"strings"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

// Role identifies the author of a message. Exactly two variants are stored;
// system instructions never reach the store.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid returns true if the role is a known valid role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Feedback is a per-message thumbs rating. Settable only on assistant
// messages; last write wins.
type Feedback string

const (
	FeedbackNone     Feedback = ""
	FeedbackPositive Feedback = "positive"
	FeedbackNegative Feedback = "negative"
)

// IsValid returns true if the feedback is a settable value.
func (f Feedback) IsValid() bool {
	switch f {
	case FeedbackPositive, FeedbackNegative:
		return true
	default:
		return false
	}
}

// GroundingSource is a web citation attached to an assistant reply.
type GroundingSource struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Message is one turn in a session. Content and Timestamp are fixed at append
// time; Feedback is the only field mutated afterwards.
type Message struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Image     string            `json:"image,omitempty"`    // base64, user messages only
	Sources   []GroundingSource `json:"sources,omitempty"`  // assistant messages only
	Feedback  Feedback          `json:"feedback,omitempty"` // assistant messages only
}

// Session is an ordered conversation thread. Messages are append-only;
// insertion order is chronological order.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
}

// DefaultTitle is the placeholder title before the first message arrives.
const DefaultTitle = "New Consultation"

// titleMaxLen is the number of leading characters of a session's first
// message used as its title.
const titleMaxLen = 30

// TitleFromContent derives a session title from message content.
func TitleFromContent(content string) string {
	runes := []rune(content)
	if len(runes) <= titleMaxLen {
		return content
	}
	return strings.TrimSpace(string(runes[:titleMaxLen]))
}

// Operation represents the type of change to the session list.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationClear  Operation = "clear"
)

// ChangeEvent represents a change to the session list.
// For create/update: Session is fully populated.
// For delete: only Session.ID is valid. For clear: Session is zero.
type ChangeEvent struct {
	Op      Operation
	Session Session
}

// OnChangeListener receives notifications when the session list changes.
type OnChangeListener interface {
	OnSessionChange(event ChangeEvent)
}
