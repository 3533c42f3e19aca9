package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a SQLite database for installations that
// outgrow the single JSON record. Semantics match FileStore exactly.
type SQLiteStore struct {
	db *sql.DB

	mu       sync.Mutex
	listener OnChangeListener
	now      func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) sessions.db in dataDir and ensures the
// schema exists.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", filepath.Join(dataDir, "sessions.db"))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.ensureTables(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) ensureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_session (
			id         TEXT NOT NULL PRIMARY KEY,
			title      TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_message (
			id         TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			timestamp  TEXT NOT NULL,
			image      TEXT NOT NULL DEFAULT '',
			sources    TEXT NOT NULL DEFAULT '',
			feedback   TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (session_id, id),
			FOREIGN KEY (session_id) REFERENCES chat_session(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS chat_state (
			key   TEXT NOT NULL PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SetOnChangeListener(l OnChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

func (s *SQLiteStore) notify(event ChangeEvent) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l.OnSessionChange(event)
	}
}

func (s *SQLiteStore) List(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at FROM chat_session ORDER BY rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sessions {
		msgs, err := s.messages(ctx, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].Messages = msgs
	}
	if sessions == nil {
		sessions = []Session{}
	}
	return sessions, nil
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (Session, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at FROM chat_session WHERE id = ?`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}

	msgs, err := s.messages(ctx, sess.ID)
	if err != nil {
		return Session{}, false, err
	}
	sess.Messages = msgs
	return sess, true, nil
}

func (s *SQLiteStore) Active(ctx context.Context) (Session, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM chat_state WHERE key = 'active_id'`).Scan(&id)
	if err == sql.ErrNoRows || id == "" {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) Create(ctx context.Context, title string) (Session, error) {
	if title == "" {
		title = DefaultTitle
	}

	sess := Session{
		ID:        NewID(),
		Title:     title,
		CreatedAt: s.now(),
		Messages:  []Message{},
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_session (id, title, created_at) VALUES (?, ?, ?)`,
		sess.ID, sess.Title, sess.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Session{}, err
	}
	if err := s.setActive(ctx, sess.ID); err != nil {
		return Session{}, err
	}

	s.notify(ChangeEvent{Op: OperationCreate, Session: sess})
	return sess, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_session WHERE id = ?`, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}

	var active string
	if err := s.db.QueryRowContext(ctx,
		`SELECT value FROM chat_state WHERE key = 'active_id'`).Scan(&active); err != nil && err != sql.ErrNoRows {
		return err
	}
	if active == sessionID {
		var next string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM chat_session ORDER BY rowid DESC LIMIT 1`).Scan(&next)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err := s.setActive(ctx, next); err != nil {
			return err
		}
	}

	s.notify(ChangeEvent{Op: OperationDelete, Session: Session{ID: sessionID}})
	return nil
}

func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	for _, stmt := range []string{
		`DELETE FROM chat_message`,
		`DELETE FROM chat_session`,
		`DELETE FROM chat_state`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	s.notify(ChangeEvent{Op: OperationClear})
	return nil
}

func (s *SQLiteStore) Select(ctx context.Context, sessionID string) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chat_session WHERE id = ?`, sessionID).Scan(&exists)
	if err == sql.ErrNoRows {
		return s.setActive(ctx, "")
	}
	if err != nil {
		return err
	}
	return s.setActive(ctx, sessionID)
}

func (s *SQLiteStore) Rename(ctx context.Context, sessionID, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_session SET title = ? WHERE id = ?`, title, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}

	sess, found, err := s.Get(ctx, sessionID)
	if err != nil || !found {
		return err
	}
	s.notify(ChangeEvent{Op: OperationUpdate, Session: sess})
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg Message) (Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_message WHERE session_id = ?`, sessionID).Scan(&count); err != nil {
		return Session{}, err
	}

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM chat_session WHERE id = ?`, sessionID).Scan(&exists)
	if err == sql.ErrNoRows {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}

	if count == 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE chat_session SET title = ? WHERE id = ? AND title = ?`,
			TitleFromContent(msg.Content), sessionID, DefaultTitle); err != nil {
			return Session{}, err
		}
	}

	sources := ""
	if len(msg.Sources) > 0 {
		data, err := json.Marshal(msg.Sources)
		if err != nil {
			return Session{}, err
		}
		sources = string(data)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_message (id, session_id, role, content, timestamp, image, sources, feedback)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, string(msg.Role), msg.Content,
		msg.Timestamp.Format(time.RFC3339Nano), msg.Image, sources, string(msg.Feedback)); err != nil {
		return Session{}, err
	}

	if err := tx.Commit(); err != nil {
		return Session{}, err
	}

	sess, _, err := s.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	s.notify(ChangeEvent{Op: OperationUpdate, Session: sess})
	return sess, nil
}

func (s *SQLiteStore) SetFeedback(ctx context.Context, sessionID, messageID string, fb Feedback) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_message SET feedback = ? WHERE session_id = ? AND id = ? AND role = ?`,
		string(fb), sessionID, messageID, string(RoleAssistant))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	sess, found, err := s.Get(ctx, sessionID)
	if err != nil || !found {
		return err
	}
	s.notify(ChangeEvent{Op: OperationUpdate, Session: sess})
	return nil
}

func (s *SQLiteStore) setActive(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_state (key, value) VALUES ('active_id', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, sessionID)
	return err
}

func (s *SQLiteStore) messages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, timestamp, image, sources, feedback
		 FROM chat_message WHERE session_id = ? ORDER BY rowid ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		var role, ts, sources, feedback string
		if err := rows.Scan(&m.ID, &role, &m.Content, &ts, &m.Image, &sources, &feedback); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		m.Feedback = Feedback(feedback)
		m.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse message timestamp: %w", err)
		}
		if sources != "" {
			if err := json.Unmarshal([]byte(sources), &m.Sources); err != nil {
				return nil, fmt.Errorf("parse message sources: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var created string
	if err := row.Scan(&sess.ID, &sess.Title, &created); err != nil {
		return Session{}, err
	}
	var err error
	sess.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Session{}, fmt.Errorf("parse session timestamp: %w", err)
	}
	return sess, nil
}
