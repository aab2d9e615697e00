package store

import (
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// charsPerTokenEstimate is the fallback ratio when no tokenizer is available.
const charsPerTokenEstimate = 4

var (
	tokenEncOnce sync.Once
	tokenEnc     *tiktoken.Tiktoken
)

// EstimateTokens counts tokens with cl100k_base when the encoding is
// available, falling back to a chars/4 estimate. The encoding needs its BPE
// data on disk, so a fresh offline install takes the fallback path.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	tokenEncOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Debug("tiktoken unavailable, using char estimate", "error", err)
			return
		}
		tokenEnc = enc
	})

	if tokenEnc != nil {
		return len(tokenEnc.Encode(text, nil, nil))
	}
	return (utf8.RuneCountInString(text) + charsPerTokenEstimate - 1) / charsPerTokenEstimate
}

// RecordUsage inserts a usage row for one generation. Token counts the
// provider did not report (zero) are estimated from the texts.
func (s *Store) RecordUsage(rec *UsageRecord, promptText, completionText string) error {
	now := NowMillis()
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.PromptTokens <= 0 {
		rec.PromptTokens = int64(EstimateTokens(promptText))
	}
	if rec.CompletionTokens <= 0 {
		rec.CompletionTokens = int64(EstimateTokens(completionText))
	}

	_, err := s.db.NamedExec(`
		INSERT INTO usage_records (id, session_id, model_id, prompt_tokens, completion_tokens, created_at, updated_at)
		VALUES (:id, :session_id, :model_id, :prompt_tokens, :completion_tokens, :created_at, :updated_at)`, rec)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// SessionUsage sums token spend across a session.
func (s *Store) SessionUsage(sessionID string) (prompt, completion int64, err error) {
	row := struct {
		Prompt     int64 `db:"prompt"`
		Completion int64 `db:"completion"`
	}{}
	err = s.db.Get(&row, `
		SELECT COALESCE(SUM(prompt_tokens), 0) AS prompt,
		       COALESCE(SUM(completion_tokens), 0) AS completion
		FROM usage_records WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, 0, fmt.Errorf("session usage: %w", err)
	}
	return row.Prompt, row.Completion, nil
}
