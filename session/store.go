package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store defines operations for session and message management. All mutations
// are durably persisted before they return.
type Store interface {
	List(ctx context.Context) ([]Session, error)
	Get(ctx context.Context, sessionID string) (Session, bool, error)
	Active(ctx context.Context) (Session, bool, error)

	Create(ctx context.Context, title string) (Session, error)
	Delete(ctx context.Context, sessionID string) error
	ClearAll(ctx context.Context) error
	Select(ctx context.Context, sessionID string) error

	// Rename sets an explicit title. Explicitly titled sessions are excluded
	// from first-message auto-titling.
	Rename(ctx context.Context, sessionID, title string) error

	// AppendMessage appends msg to the session and returns the post-append
	// session snapshot. The snapshot is the history callers must hand to the
	// gateway; re-reading the store after an await point is a lost-update
	// hazard.
	AppendMessage(ctx context.Context, sessionID string, msg Message) (Session, error)

	// SetFeedback sets feedback on the message matching both ids. Missing
	// session or message is a no-op.
	SetFeedback(ctx context.Context, sessionID, messageID string, fb Feedback) error

	SetOnChangeListener(l OnChangeListener)
}

// NewID returns a time-ordered unique id for sessions and messages.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// storeData is the structure of the durable sessions record.
type storeData struct {
	Sessions []Session `json:"sessions"`
	ActiveID string    `json:"active_id"`
}

// FileStore implements Store with a single JSON record in the data directory.
// The whole record is rewritten atomically on every mutation, so a reload
// always sees a consistent snapshot.
type FileStore struct {
	path string

	mu       sync.RWMutex
	data     storeData
	listener OnChangeListener
	now      func() time.Time
}

var _ Store = (*FileStore)(nil)

// NewFileStore loads the sessions record from dataDir, or starts empty when
// the record is missing or corrupt. Corrupt data is never fatal.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	s := &FileStore{
		path: filepath.Join(dataDir, "sessions.json"),
		data: storeData{Sessions: []Session{}},
		now:  time.Now,
	}
	s.load()
	return s, nil
}

func (s *FileStore) load() {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		slog.Error("failed to read sessions record, starting empty", "path", s.path, "error", err)
		return
	}

	var loaded storeData
	if err := json.Unmarshal(data, &loaded); err != nil {
		slog.Error("corrupt sessions record, starting empty", "path", s.path, "error", err)
		return
	}
	if loaded.Sessions == nil {
		loaded.Sessions = []Session{}
	}

	// A stale active id degrades to "no selection".
	if loaded.ActiveID != "" && findSession(loaded.Sessions, loaded.ActiveID) < 0 {
		loaded.ActiveID = ""
	}

	s.data = loaded
}

// persist flushes the full record via temp file + rename. A write failure is
// logged and swallowed; in-memory state stays authoritative.
func (s *FileStore) persist() {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		slog.Error("failed to serialize sessions record", "error", err)
		return
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "sessions-*.json.tmp")
	if err != nil {
		slog.Error("failed to persist sessions record", "error", err)
		return
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		slog.Error("failed to persist sessions record", "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		slog.Error("failed to persist sessions record", "error", err)
		return
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		slog.Error("failed to persist sessions record", "error", err)
	}
}

func (s *FileStore) SetOnChangeListener(l OnChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// notify is called with s.mu held; listeners must not call back into the
// store synchronously.
func (s *FileStore) notify(event ChangeEvent) {
	if s.listener != nil {
		s.listener.OnSessionChange(event)
	}
}

// List returns all sessions, newest first.
func (s *FileStore) List(ctx context.Context) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, len(s.data.Sessions))
	for i, sess := range s.data.Sessions {
		out[i] = cloneSession(sess)
	}
	return out, nil
}

func (s *FileStore) Get(ctx context.Context, sessionID string) (Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := findSession(s.data.Sessions, sessionID)
	if i < 0 {
		return Session{}, false, nil
	}
	return cloneSession(s.data.Sessions[i]), true, nil
}

func (s *FileStore) Active(ctx context.Context) (Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.data.ActiveID == "" {
		return Session{}, false, nil
	}
	i := findSession(s.data.Sessions, s.data.ActiveID)
	if i < 0 {
		return Session{}, false, nil
	}
	return cloneSession(s.data.Sessions[i]), true, nil
}

// Create front-inserts a new empty session (newest first) and makes it active.
func (s *FileStore) Create(ctx context.Context, title string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if title == "" {
		title = DefaultTitle
	}

	sess := Session{
		ID:        NewID(),
		Title:     title,
		CreatedAt: s.now(),
		Messages:  []Message{},
	}

	s.data.Sessions = append([]Session{sess}, s.data.Sessions...)
	s.data.ActiveID = sess.ID
	s.persist()

	s.notify(ChangeEvent{Op: OperationCreate, Session: cloneSession(sess)})
	return cloneSession(sess), nil
}

// Delete removes a session. If it was active, the next most recent remaining
// session becomes active, or none when the store is empty.
func (s *FileStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := findSession(s.data.Sessions, sessionID)
	if i < 0 {
		return ErrSessionNotFound
	}

	s.data.Sessions = append(s.data.Sessions[:i], s.data.Sessions[i+1:]...)
	if s.data.ActiveID == sessionID {
		if len(s.data.Sessions) > 0 {
			s.data.ActiveID = s.data.Sessions[0].ID
		} else {
			s.data.ActiveID = ""
		}
	}
	s.persist()

	s.notify(ChangeEvent{Op: OperationDelete, Session: Session{ID: sessionID}})
	return nil
}

// ClearAll removes every session and the durable record itself. Confirmation
// is the caller's responsibility; this is irreversible.
func (s *FileStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = storeData{Sessions: []Session{}}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to remove sessions record", "error", err)
	}

	s.notify(ChangeEvent{Op: OperationClear})
	return nil
}

// Select makes sessionID active. A missing id degrades to "no active session"
// rather than failing the caller.
func (s *FileStore) Select(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if findSession(s.data.Sessions, sessionID) < 0 {
		s.data.ActiveID = ""
	} else {
		s.data.ActiveID = sessionID
	}
	s.persist()
	return nil
}

func (s *FileStore) Rename(ctx context.Context, sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := findSession(s.data.Sessions, sessionID)
	if i < 0 {
		return ErrSessionNotFound
	}

	s.data.Sessions[i].Title = title
	s.persist()

	s.notify(ChangeEvent{Op: OperationUpdate, Session: cloneSession(s.data.Sessions[i])})
	return nil
}

func (s *FileStore) AppendMessage(ctx context.Context, sessionID string, msg Message) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := findSession(s.data.Sessions, sessionID)
	if i < 0 {
		return Session{}, ErrSessionNotFound
	}

	sess := &s.data.Sessions[i]
	// Only the first message ever sets the title, and never over an explicit
	// rename.
	if len(sess.Messages) == 0 && sess.Title == DefaultTitle {
		sess.Title = TitleFromContent(msg.Content)
	}
	sess.Messages = append(sess.Messages, msg)
	s.persist()

	snapshot := cloneSession(*sess)
	s.notify(ChangeEvent{Op: OperationUpdate, Session: snapshot})
	return snapshot, nil
}

func (s *FileStore) SetFeedback(ctx context.Context, sessionID, messageID string, fb Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := findSession(s.data.Sessions, sessionID)
	if i < 0 {
		return nil
	}

	sess := &s.data.Sessions[i]
	for j := range sess.Messages {
		if sess.Messages[j].ID != messageID {
			continue
		}
		if sess.Messages[j].Role != RoleAssistant {
			return nil
		}
		sess.Messages[j].Feedback = fb
		s.persist()
		s.notify(ChangeEvent{Op: OperationUpdate, Session: cloneSession(*sess)})
		return nil
	}
	return nil
}

func findSession(sessions []Session, id string) int {
	for i, sess := range sessions {
		if sess.ID == id {
			return i
		}
	}
	return -1
}

func cloneSession(sess Session) Session {
	out := sess
	out.Messages = make([]Message, len(sess.Messages))
	copy(out.Messages, sess.Messages)
	return out
}
