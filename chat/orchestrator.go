// Package chat coordinates the message flow between the session store and the
// inference gateway. It is the single entry point for sending a message.
package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mediguide/server/gemini"
	"github.com/mediguide/server/session"
)

var (
	ErrEmptyInput      = errors.New("message is empty")
	ErrImageTooLarge   = errors.New("image exceeds the size limit")
	ErrBusy            = errors.New("session already has a message in flight")
	ErrInvalidFeedback = errors.New("invalid feedback value")
)

// maxImageBytes caps the decoded size of an attached image.
const maxImageBytes = 4 << 20

// analyzeImagePrompt stands in as message content when the user sends an image
// with no text. It also becomes the session title via the first-message rule.
const analyzeImagePrompt = "Please analyze this image."

// Gateway produces one assistant reply for a conversation history. The reply
// must be well-formed even on error; the orchestrator only logs the cause.
type Gateway interface {
	Generate(ctx context.Context, history []session.Message) (gemini.Reply, error)
}

// Input is one user send: text, an optional base64 image, or both.
type Input struct {
	Text  string
	Image string
}

// Result reports the two messages a successful send appended.
type Result struct {
	SessionID        string
	UserMessage      session.Message
	AssistantMessage session.Message
}

// MessageEvent announces a message appended to a session.
type MessageEvent struct {
	SessionID string
	Message   session.Message
}

// MessageListener receives notifications when a message is appended.
type MessageListener interface {
	OnChatMessage(event MessageEvent)
}

// Orchestrator runs the send pipeline: guard input, resolve the session,
// append the user message, call the gateway, append exactly one assistant
// message. At most one send per session is in flight at a time.
type Orchestrator struct {
	store   session.Store
	gateway Gateway

	mu       sync.Mutex
	inFlight map[string]bool
	listener MessageListener

	now   func() time.Time
	newID func() string
}

func NewOrchestrator(store session.Store, gateway Gateway) *Orchestrator {
	return &Orchestrator{
		store:    store,
		gateway:  gateway,
		inFlight: make(map[string]bool),
		now:      time.Now,
		newID:    session.NewID,
	}
}

func (o *Orchestrator) SetMessageListener(l MessageListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listener = l
}

func (o *Orchestrator) notify(event MessageEvent) {
	o.mu.Lock()
	l := o.listener
	o.mu.Unlock()
	if l != nil {
		l.OnChatMessage(event)
	}
}

// Send appends the user's message, asks the gateway for a reply, and appends
// it as the assistant's message. A gateway failure still produces a reply; the
// fallback text is stored like any other assistant message.
func (o *Orchestrator) Send(ctx context.Context, sessionID string, in Input) (Result, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" && in.Image == "" {
		return Result{}, ErrEmptyInput
	}
	if in.Image != "" && decodedImageSize(in.Image) > maxImageBytes {
		return Result{}, ErrImageTooLarge
	}

	sess, err := o.resolveSession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}

	if !o.tryAcquire(sess.ID) {
		return Result{}, ErrBusy
	}
	defer o.release(sess.ID)

	content := text
	if content == "" {
		content = analyzeImagePrompt
	}

	userMsg := session.Message{
		ID:        o.newID(),
		Role:      session.RoleUser,
		Content:   content,
		Timestamp: o.now(),
		Image:     in.Image,
	}
	// The snapshot returned here is the history the gateway sees. Re-reading
	// the store after the network call would race with concurrent mutations.
	snapshot, err := o.store.AppendMessage(ctx, sess.ID, userMsg)
	if err != nil {
		return Result{}, fmt.Errorf("append user message: %w", err)
	}
	o.notify(MessageEvent{SessionID: sess.ID, Message: userMsg})

	reply, err := o.gateway.Generate(ctx, snapshot.Messages)
	if err != nil {
		slog.Error("inference failed, storing fallback reply", "sessionId", sess.ID, "error", err)
	}

	assistantMsg := session.Message{
		ID:        o.newID(),
		Role:      session.RoleAssistant,
		Content:   reply.Text,
		Timestamp: o.now(),
		Sources:   reply.Sources,
	}
	if _, err := o.store.AppendMessage(ctx, sess.ID, assistantMsg); err != nil {
		return Result{}, fmt.Errorf("append assistant message: %w", err)
	}
	o.notify(MessageEvent{SessionID: sess.ID, Message: assistantMsg})

	return Result{
		SessionID:        sess.ID,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
	}, nil
}

// Feedback records a rating on an assistant message. Unknown targets are a
// no-op at the store level.
func (o *Orchestrator) Feedback(ctx context.Context, sessionID, messageID string, fb session.Feedback) error {
	if !fb.IsValid() {
		return ErrInvalidFeedback
	}
	return o.store.SetFeedback(ctx, sessionID, messageID, fb)
}

// resolveSession returns the target session, creating one when the id is
// empty or stale.
func (o *Orchestrator) resolveSession(ctx context.Context, sessionID string) (session.Session, error) {
	if sessionID != "" {
		sess, found, err := o.store.Get(ctx, sessionID)
		if err != nil {
			return session.Session{}, fmt.Errorf("get session: %w", err)
		}
		if found {
			return sess, nil
		}
	}

	sess, err := o.store.Create(ctx, "")
	if err != nil {
		return session.Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (o *Orchestrator) tryAcquire(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[sessionID] {
		return false
	}
	o.inFlight[sessionID] = true
	return true
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, sessionID)
}

// decodedImageSize estimates the byte size of a base64 payload, tolerating an
// optional data-URL prefix.
func decodedImageSize(image string) int {
	if i := strings.Index(image, ";base64,"); i >= 0 && strings.HasPrefix(image, "data:") {
		image = image[i+len(";base64,"):]
	}
	return base64.StdEncoding.DecodedLen(len(image))
}
