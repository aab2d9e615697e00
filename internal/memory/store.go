package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/lettucelabs/lettuce/internal/embedding"
	"github.com/lettucelabs/lettuce/internal/store"
)

// Embedder is the slice of the embedding engine the memory store needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	CountTokens(text string) (int, error)
	Loaded() bool
}

// Store persists memory entries. Every write that needs a vector goes
// through the embedder; entries are never stored without one.
type Store struct {
	db    *sqlx.DB
	emb   Embedder
	nowFn func() int64
}

// NewStore wires a memory store over the shared database handle.
func NewStore(db *sqlx.DB, emb Embedder) *Store {
	return &Store{db: db, emb: emb, nowFn: store.NowMillis}
}

// Append embeds content and inserts a new entry stamped with the current
// time. An identical (session, content, kind, origin) append landing in the
// same millisecond returns the existing id instead of inserting a duplicate,
// so retried extraction passes stay safe.
func (s *Store) Append(ctx context.Context, sessionID, content, kind, originMessageID string) (string, error) {
	if kind == "" {
		kind = KindUserUtterance
	}
	vec, err := s.embed(ctx, content)
	if err != nil {
		return "", err
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return "", fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	now := s.nowFn()
	var existing string
	err = tx.Get(&existing, `SELECT id FROM memory_entries
		WHERE session_id = ? AND content = ? AND kind = ? AND origin_message_id = ? AND created_at = ?`,
		sessionID, content, kind, originMessageID, now)
	switch {
	case err == nil:
		return existing, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("check duplicate entry: %w", err)
	}

	id := store.NewID()
	_, err = tx.Exec(`INSERT INTO memory_entries
		(id, session_id, content, embedding, kind, origin_message_id, created_at, last_hit_at, hit_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		id, sessionID, content, encodeVector(vec), kind, originMessageID, now, now)
	if err != nil {
		return "", fmt.Errorf("insert entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit append: %w", err)
	}
	return id, nil
}

// Touch bumps an entry's hit count and recency. Touching an id that no
// longer exists is a no-op.
func (s *Store) Touch(id string) error {
	_, err := s.db.Exec(`UPDATE memory_entries SET last_hit_at = ?, hit_count = hit_count + 1 WHERE id = ?`,
		s.nowFn(), id)
	if err != nil {
		return fmt.Errorf("touch entry: %w", err)
	}
	return nil
}

// Get returns a single entry by id.
func (s *Store) Get(id string) (*Entry, error) {
	var e Entry
	err := s.db.Get(&e, `SELECT * FROM memory_entries WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return &e, nil
}

// List returns all of a session's entries in insertion order.
func (s *Store) List(sessionID string) ([]Entry, error) {
	var entries []Entry
	err := s.db.Select(&entries, `SELECT * FROM memory_entries WHERE session_id = ? ORDER BY created_at ASC, id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}

// Purge deletes the session's entries that match the predicate and reports
// how many were removed. A nil predicate removes everything for the session.
func (s *Store) Purge(sessionID string, match func(Entry) bool) (int, error) {
	entries, err := s.List(sessionID)
	if err != nil {
		return 0, err
	}
	var ids []string
	for _, e := range entries {
		if match == nil || match(e) {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`DELETE FROM memory_entries WHERE id IN (?)`, ids)
	if err != nil {
		return 0, fmt.Errorf("purge entries: %w", err)
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge entries: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Info("memory entries purged", "session", sessionID, "removed", n)
	return int(n), nil
}

// Rewrite replaces an entry's content and re-embeds it. If the new content
// cannot be embedded the stored entry is left exactly as it was. Creation
// time and hit statistics survive a rewrite.
func (s *Store) Rewrite(ctx context.Context, id, content string) error {
	entry, err := s.Get(id)
	if err != nil {
		return err
	}
	vec, err := s.embed(ctx, content)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReembedFailed, err)
	}
	_, err = s.db.Exec(`UPDATE memory_entries SET content = ?, embedding = ? WHERE id = ?`,
		content, encodeVector(vec), entry.ID)
	if err != nil {
		return fmt.Errorf("rewrite entry: %w", err)
	}
	return nil
}

// Count returns the number of entries stored for a session.
func (s *Store) Count(sessionID string) (int, error) {
	var n int
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM memory_entries WHERE session_id = ?`, sessionID); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// SessionCounts returns entry counts keyed by session id, for diagnostics.
func (s *Store) SessionCounts() (map[string]int, error) {
	var rows []struct {
		SessionID string `db:"session_id"`
		N         int    `db:"n"`
	}
	err := s.db.Select(&rows, `SELECT session_id, COUNT(*) AS n FROM memory_entries GROUP BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("session counts: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.SessionID] = r.N
	}
	return out, nil
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	if s.emb == nil || !s.emb.Loaded() {
		return nil, ErrEmbeddingUnavailable
	}
	vec, err := s.emb.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, embedding.ErrNotLoaded) {
			return nil, ErrEmbeddingUnavailable
		}
		return nil, fmt.Errorf("embed content: %w", err)
	}
	return vec, nil
}
