package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/lettucelabs/lettuce/internal/embedding"
	"github.com/lettucelabs/lettuce/internal/store"
)

// Config tunes memory selection and compaction.
type Config struct {
	Enabled           bool    `json:"enabled"`
	WindowSize        int     `json:"window_size"`
	MinSimilarity     float64 `json:"min_similarity"`
	MaxEntries        int     `json:"max_entries"`
	TokenBudget       int     `json:"token_budget"`
	DecayRate         float64 `json:"decay_rate"`
	ColdThreshold     float64 `json:"cold_threshold"`
	ContextEnrichment bool    `json:"context_enrichment"`
	CompactSchedule   string  `json:"compact_schedule"`
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		WindowSize:      6,
		MinSimilarity:   0.35,
		MaxEntries:      10,
		TokenBudget:     512,
		DecayRate:       0.05,
		ColdThreshold:   0.1,
		CompactSchedule: "0 4 * * *",
	}
}

// withDefaults fills zero or negative numeric fields and an empty schedule
// from DefaultConfig, so a partially populated config stays usable.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = d.MinSimilarity
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = d.TokenBudget
	}
	if c.DecayRate <= 0 {
		c.DecayRate = d.DecayRate
	}
	if c.ColdThreshold <= 0 {
		c.ColdThreshold = d.ColdThreshold
	}
	if c.CompactSchedule == "" {
		c.CompactSchedule = d.CompactSchedule
	}
	return c
}

// Selector picks the memory entries worth injecting into a prompt. Scoring
// combines cosine similarity against the query, exponential recency decay,
// and a logarithmic hit-count boost; results fit a token budget.
type Selector struct {
	mem   *Store
	chats *store.Store
}

// NewSelector builds a selector over the memory store and the chat store it
// draws conversation context from.
func NewSelector(mem *Store, chats *store.Store) *Selector {
	return &Selector{mem: mem, chats: chats}
}

type scored struct {
	entry Entry
	sim   float64
	score float64
}

// Select returns the ranked entries for a session whose combined token cost
// fits the budget. An empty query is replaced by a window over the most
// recent user and assistant turns. Every returned entry is touched.
// Without a loaded embedding engine recall is disabled and the result is
// empty; memory never blocks a chat turn.
func (sel *Selector) Select(ctx context.Context, sessionID, queryText string, now int64, cfg Config) ([]Entry, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if sel.mem.emb == nil || !sel.mem.emb.Loaded() {
		slog.Debug("embedding engine not loaded, memory recall disabled", "session", sessionID)
		return nil, nil
	}
	cfg = cfg.withDefaults()

	if strings.TrimSpace(queryText) == "" {
		var err error
		queryText, err = sel.windowQuery(sessionID, cfg.WindowSize)
		if err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(queryText) == "" {
		return nil, nil
	}

	q, err := sel.mem.embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	if zeroVec(q) {
		return nil, nil
	}

	entries, err := sel.mem.List(sessionID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ranked := rankEntries(entries, q, now, cfg)
	if len(ranked) == 0 {
		return nil, nil
	}

	selected, used, err := sel.walkBudget(ranked, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.ContextEnrichment && len(selected) > 0 {
		selected, err = sel.enrich(selected, entries, used, cfg)
		if err != nil {
			return nil, err
		}
	}

	for i := range selected {
		if err := sel.mem.Touch(selected[i].ID); err != nil {
			slog.Warn("memory touch failed", "id", selected[i].ID, "error", err)
		}
	}
	return selected, nil
}

// windowQuery concatenates the latest user and assistant turns so recall
// tracks the conversation even without an explicit query.
func (sel *Selector) windowQuery(sessionID string, windowSize int) (string, error) {
	msgs, err := sel.chats.RecentMessages(sessionID, windowSize)
	if err != nil {
		return "", fmt.Errorf("window query: %w", err)
	}
	var b strings.Builder
	for _, m := range msgs {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Content)
	}
	return b.String(), nil
}

// rankEntries scores and orders all candidates above the similarity floor.
// Ties fall back to similarity, then recency, then id.
func rankEntries(entries []Entry, q []float32, now int64, cfg Config) []scored {
	var ranked []scored
	for _, e := range entries {
		sim := float64(embedding.Cosine(q, e.Vector()))
		if sim < cfg.MinSimilarity {
			continue
		}
		decay, hot := scoreParts(&e, now, cfg.DecayRate)
		ranked = append(ranked, scored{entry: e, sim: sim, score: sim * decay * hot})
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.sim != b.sim {
			return a.sim > b.sim
		}
		if a.entry.LastHitAt != b.entry.LastHitAt {
			return a.entry.LastHitAt > b.entry.LastHitAt
		}
		return a.entry.ID < b.entry.ID
	})
	return ranked
}

// walkBudget takes ranked entries in order until the next one would blow
// the token budget or the entry cap. A single candidate is returned even
// when it alone exceeds the budget.
func (sel *Selector) walkBudget(ranked []scored, cfg Config) ([]Entry, int, error) {
	var selected []Entry
	used := 0
	for i := range ranked {
		if len(selected) >= cfg.MaxEntries {
			break
		}
		cost, err := sel.mem.emb.CountTokens(ranked[i].entry.Content)
		if err != nil {
			return nil, 0, fmt.Errorf("count entry tokens: %w", err)
		}
		if used+cost > cfg.TokenBudget {
			if len(selected) == 0 && len(ranked) == 1 {
				selected = append(selected, ranked[i].entry)
			}
			break
		}
		selected = append(selected, ranked[i].entry)
		used += cost
	}
	return selected, used, nil
}

// enrich appends siblings of the selected entries: entries distilled from
// the same origin message or the messages directly before and after it.
// Siblings join in rank order of their parents while the budget and entry
// caps allow. A parent whose origin message no longer exists enriches
// nothing.
func (sel *Selector) enrich(selected []Entry, all []Entry, used int, cfg Config) ([]Entry, error) {
	have := make(map[string]struct{}, len(selected))
	for _, e := range selected {
		have[e.ID] = struct{}{}
	}

	byOrigin := make(map[string][]Entry)
	for _, e := range all {
		if e.OriginMessageID != "" {
			byOrigin[e.OriginMessageID] = append(byOrigin[e.OriginMessageID], e)
		}
	}

	out := selected
	for _, parent := range selected {
		if parent.OriginMessageID == "" {
			continue
		}
		ids, err := sel.chats.AdjacentMessageIDs(parent.OriginMessageID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("enrich entries: %w", err)
		}
		for _, mid := range ids {
			for _, sib := range byOrigin[mid] {
				if _, ok := have[sib.ID]; ok {
					continue
				}
				if len(out) >= cfg.MaxEntries {
					return out, nil
				}
				cost, err := sel.mem.emb.CountTokens(sib.Content)
				if err != nil {
					return nil, fmt.Errorf("count sibling tokens: %w", err)
				}
				if used+cost > cfg.TokenBudget {
					continue
				}
				out = append(out, sib)
				have[sib.ID] = struct{}{}
				used += cost
			}
		}
	}
	return out, nil
}

// scoreParts returns the recency decay and hit-count factors for an entry
// at a point in time. Selection multiplies them with similarity; compaction
// uses them alone.
func scoreParts(e *Entry, now int64, decayRate float64) (decay, hot float64) {
	ageDays := float64(now-e.LastHitAt) / 86_400_000.0
	decay = math.Exp(-decayRate * ageDays)
	hot = 1 + math.Log(1+float64(e.HitCount))
	return decay, hot
}

func zeroVec(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
