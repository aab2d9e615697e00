package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned by lookups for a row that does not exist.
var ErrNotFound = errors.New("row not found")

// Store is the typed access layer over the application database. All sync
// and memory services share one Store (and its single connection).
type Store struct {
	db *sqlx.DB
}

// New wraps an open database.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for services that manage their own
// statements (memory store, layer apply).
func (s *Store) DB() *sqlx.DB { return s.db }

// SaveCharacter inserts or updates a character, stamping updated_at.
func (s *Store) SaveCharacter(c *Character) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	c.UpdatedAt = NowMillis()
	_, err := s.db.NamedExec(`
		INSERT INTO characters (id, name, description, personality, first_message, avatar_path, updated_at)
		VALUES (:id, :name, :description, :personality, :first_message, :avatar_path, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			personality = excluded.personality,
			first_message = excluded.first_message,
			avatar_path = excluded.avatar_path,
			updated_at = excluded.updated_at`, c)
	if err != nil {
		return fmt.Errorf("save character: %w", err)
	}
	return nil
}

// GetCharacter loads one character by id.
func (s *Store) GetCharacter(id string) (*Character, error) {
	var c Character
	if err := s.db.Get(&c, "SELECT * FROM characters WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get character: %w", err)
	}
	return &c, nil
}

// ListCharacters returns all characters ordered by name.
func (s *Store) ListCharacters() ([]Character, error) {
	var out []Character
	if err := s.db.Select(&out, "SELECT * FROM characters ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	return out, nil
}

// ListCredentials returns all provider credentials ordered by name.
func (s *Store) ListCredentials() ([]Credential, error) {
	var out []Credential
	if err := s.db.Select(&out, "SELECT * FROM credentials ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return out, nil
}

// SaveSession inserts or updates a session, stamping timestamps.
func (s *Store) SaveSession(sess *Session) error {
	now := NowMillis()
	if sess.ID == "" {
		sess.ID = NewID()
	}
	if sess.CreatedAt == 0 {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	_, err := s.db.NamedExec(`
		INSERT INTO sessions (id, character_id, persona_id, name, created_at, updated_at)
		VALUES (:id, :character_id, :persona_id, :name, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			character_id = excluded.character_id,
			persona_id = excluded.persona_id,
			name = excluded.name,
			updated_at = excluded.updated_at`, sess)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SessionOverview is one row of the session listing: the session joined
// with its character's name and message count.
type SessionOverview struct {
	ID            string `db:"id" json:"id"`
	Name          string `db:"name" json:"name"`
	CharacterName string `db:"character_name" json:"character_name"`
	MessageCount  int    `db:"message_count" json:"message_count"`
	CreatedAt     int64  `db:"created_at" json:"created_at"`
	UpdatedAt     int64  `db:"updated_at" json:"updated_at"`
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions() ([]SessionOverview, error) {
	var out []SessionOverview
	err := s.db.Select(&out, `
		SELECT s.id, s.name,
			COALESCE(c.name, '') AS character_name,
			(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id) AS message_count,
			s.created_at, s.updated_at
		FROM sessions s
		LEFT JOIN characters c ON c.id = s.character_id
		ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// DeleteSession removes a session together with its messages and memory
// entries. The schema has no cascading constraints, so the dependents go
// explicitly, in one transaction.
func (s *Store) DeleteSession(id string) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM memory_entries WHERE session_id = ?",
		"DELETE FROM messages WHERE session_id = ?",
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	res, err := tx.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// SaveMessage inserts or updates a message, stamping timestamps.
func (s *Store) SaveMessage(m *Message) error {
	now := NowMillis()
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	_, err := s.db.NamedExec(`
		INSERT INTO messages (id, session_id, role, content, created_at, updated_at)
		VALUES (:id, :session_id, :role, :content, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			role = excluded.role,
			content = excluded.content,
			updated_at = excluded.updated_at`, m)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// GetMessage loads one message by id.
func (s *Store) GetMessage(id string) (*Message, error) {
	var m Message
	if err := s.db.Get(&m, "SELECT * FROM messages WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

// RecentMessages returns the last n user/assistant turns of a session in
// chronological order.
func (s *Store) RecentMessages(sessionID string, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []Message
	err := s.db.Select(&out, `
		SELECT * FROM (
			SELECT * FROM messages
			WHERE session_id = ? AND role IN ('user', 'assistant')
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	return out, nil
}

// AdjacentMessageIDs returns the message itself plus its immediate
// predecessor and successor within the same session, by created_at order.
func (s *Store) AdjacentMessageIDs(messageID string) ([]string, error) {
	m, err := s.GetMessage(messageID)
	if err != nil {
		return nil, err
	}

	ids := []string{m.ID}
	var prev string
	err = s.db.Get(&prev, `
		SELECT id FROM messages
		WHERE session_id = ? AND (created_at < ? OR (created_at = ? AND id < ?))
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		m.SessionID, m.CreatedAt, m.CreatedAt, m.ID)
	if err == nil {
		ids = append(ids, prev)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("previous message: %w", err)
	}

	var next string
	err = s.db.Get(&next, `
		SELECT id FROM messages
		WHERE session_id = ? AND (created_at > ? OR (created_at = ? AND id > ?))
		ORDER BY created_at ASC, id ASC LIMIT 1`,
		m.SessionID, m.CreatedAt, m.CreatedAt, m.ID)
	if err == nil {
		ids = append(ids, next)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("next message: %w", err)
	}

	return ids, nil
}

// CountRows returns the row count of a table known to the layer registry.
func (s *Store) CountRows(table string) (int, error) {
	if !knownTable(table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	if err := s.db.Get(&n, "SELECT COUNT(*) FROM "+table); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func knownTable(name string) bool {
	for _, specs := range layerTables {
		for _, spec := range specs {
			if spec.Name == name {
				return true
			}
		}
	}
	return name == "memory_entries"
}
