package memory

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lettucelabs/lettuce/internal/db"
	"github.com/lettucelabs/lettuce/internal/embedding"
	"github.com/lettucelabs/lettuce/internal/store"
)

// fakeEmbedder maps exact texts to fixed vectors and token costs so tests
// control similarity and budget arithmetic. Unknown texts embed along the
// first axis and cost one token per word.
type fakeEmbedder struct {
	loaded bool
	vecs   map[string][]float32
	costs  map[string]int
	fail   map[string]bool
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		loaded: true,
		vecs:   make(map[string][]float32),
		costs:  make(map[string]int),
		fail:   make(map[string]bool),
	}
}

func (f *fakeEmbedder) set(text string, vec []float32, cost int) {
	f.vecs[text] = vec
	f.costs[text] = cost
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if !f.loaded {
		return nil, embedding.ErrNotLoaded
	}
	if f.fail[text] {
		return nil, errors.New("forward pass failed")
	}
	if v, ok := f.vecs[text]; ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out, nil
	}
	return []float32{1, 0, 0, 0}, nil
}

func (f *fakeEmbedder) CountTokens(text string) (int, error) {
	if c, ok := f.costs[text]; ok {
		return c, nil
	}
	return len(strings.Fields(text)), nil
}

func (f *fakeEmbedder) Loaded() bool { return f.loaded }

func newTestMemory(t *testing.T) (*Store, *store.Store, *fakeEmbedder) {
	t.Helper()
	sdb, err := db.Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { sdb.Close() })
	emb := newFakeEmbedder()
	return NewStore(sdb, emb), store.New(sdb), emb
}

func TestAppendAndGet(t *testing.T) {
	mem, _, emb := newTestMemory(t)
	mem.nowFn = func() int64 { return 5000 }
	emb.set("likes green tea", []float32{0, 1, 0, 0}, 3)

	id, err := mem.Append(context.Background(), "s1", "likes green tea", KindUserUtterance, "m1")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if id == "" {
		t.Fatal("Append() returned empty id")
	}

	e, err := mem.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e.SessionID != "s1" || e.Content != "likes green tea" || e.Kind != KindUserUtterance || e.OriginMessageID != "m1" {
		t.Errorf("entry fields = %+v", e)
	}
	if e.CreatedAt != 5000 || e.LastHitAt != 5000 || e.HitCount != 0 {
		t.Errorf("timestamps = created %d, lastHit %d, hits %d, want 5000, 5000, 0", e.CreatedAt, e.LastHitAt, e.HitCount)
	}
	got := e.Vector()
	want := []float32{0, 1, 0, 0}
	if len(got) != len(want) {
		t.Fatalf("vector length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("vector[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestAppendDefaultsKind(t *testing.T) {
	mem, _, _ := newTestMemory(t)

	id, err := mem.Append(context.Background(), "s1", "something happened", "", "")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	e, err := mem.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e.Kind != KindUserUtterance {
		t.Errorf("Kind = %q, want %q", e.Kind, KindUserUtterance)
	}
}

func TestAppendWithoutEngine(t *testing.T) {
	mem, _, emb := newTestMemory(t)
	emb.loaded = false

	_, err := mem.Append(context.Background(), "s1", "anything", KindUserUtterance, "")
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("Append() error = %v, want ErrEmbeddingUnavailable", err)
	}
}

func TestAppendIdempotentWithinMillisecond(t *testing.T) {
	mem, _, _ := newTestMemory(t)
	mem.nowFn = func() int64 { return 7000 }

	id1, err := mem.Append(context.Background(), "s1", "owns a cat", KindUserUtterance, "m3")
	if err != nil {
		t.Fatalf("first Append() error = %v", err)
	}
	id2, err := mem.Append(context.Background(), "s1", "owns a cat", KindUserUtterance, "m3")
	if err != nil {
		t.Fatalf("second Append() error = %v", err)
	}
	if id1 != id2 {
		t.Errorf("duplicate append ids = %q and %q, want identical", id1, id2)
	}
	n, err := mem.Count("s1")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}

	// content differs, so a new row is expected even in the same millisecond
	id3, err := mem.Append(context.Background(), "s1", "owns a dog", KindUserUtterance, "m3")
	if err != nil {
		t.Fatalf("third Append() error = %v", err)
	}
	if id3 == id1 {
		t.Error("different content returned the existing id")
	}

	// next millisecond starts a new idempotence window
	mem.nowFn = func() int64 { return 7001 }
	id4, err := mem.Append(context.Background(), "s1", "owns a cat", KindUserUtterance, "m3")
	if err != nil {
		t.Fatalf("fourth Append() error = %v", err)
	}
	if id4 == id1 {
		t.Error("append in a later millisecond returned the old id")
	}
}

func TestTouch(t *testing.T) {
	mem, _, _ := newTestMemory(t)
	mem.nowFn = func() int64 { return 1000 }

	id, err := mem.Append(context.Background(), "s1", "plays the violin", KindUserUtterance, "")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	mem.nowFn = func() int64 { return 2000 }
	if err := mem.Touch(id); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if err := mem.Touch(id); err != nil {
		t.Fatalf("second Touch() error = %v", err)
	}

	e, err := mem.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e.LastHitAt != 2000 {
		t.Errorf("LastHitAt = %d, want 2000", e.LastHitAt)
	}
	if e.HitCount != 2 {
		t.Errorf("HitCount = %d, want 2", e.HitCount)
	}
	if e.CreatedAt != 1000 {
		t.Errorf("CreatedAt = %d, want 1000", e.CreatedAt)
	}
}

func TestTouchAbsentEntry(t *testing.T) {
	mem, _, _ := newTestMemory(t)
	if err := mem.Touch("no-such-id"); err != nil {
		t.Fatalf("Touch() on absent id error = %v, want nil", err)
	}
}

func TestListOrderedByCreation(t *testing.T) {
	mem, _, _ := newTestMemory(t)

	contents := []string{"first fact", "second fact", "third fact"}
	for i, c := range contents {
		ts := int64(1000 * (i + 1))
		mem.nowFn = func() int64 { return ts }
		if _, err := mem.Append(context.Background(), "s1", c, KindUserUtterance, ""); err != nil {
			t.Fatalf("Append(%q) error = %v", c, err)
		}
	}
	if _, err := mem.Append(context.Background(), "other", "unrelated", KindUserUtterance, ""); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	entries, err := mem.List("s1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(entries))
	}
	for i, want := range contents {
		if entries[i].Content != want {
			t.Errorf("entries[%d].Content = %q, want %q", i, entries[i].Content, want)
		}
	}
}

func TestPurge(t *testing.T) {
	mem, _, _ := newTestMemory(t)

	if _, err := mem.Append(context.Background(), "s1", "keep me", KindUserUtterance, ""); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := mem.Append(context.Background(), "s1", "drop me", KindToolUpdate, ""); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	removed, err := mem.Purge("s1", func(e Entry) bool { return e.Kind == KindToolUpdate })
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Purge() removed %d, want 1", removed)
	}
	entries, err := mem.List("s1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "keep me" {
		t.Errorf("surviving entries = %+v", entries)
	}

	// nil predicate clears the session
	removed, err = mem.Purge("s1", nil)
	if err != nil {
		t.Fatalf("Purge(nil) error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Purge(nil) removed %d, want 1", removed)
	}
	n, err := mem.Count("s1")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Count() after full purge = %d, want 0", n)
	}
}

func TestRewrite(t *testing.T) {
	mem, _, emb := newTestMemory(t)
	mem.nowFn = func() int64 { return 1000 }
	emb.set("old content", []float32{1, 0, 0, 0}, 2)
	emb.set("new content", []float32{0, 1, 0, 0}, 2)

	id, err := mem.Append(context.Background(), "s1", "old content", KindUserUtterance, "")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := mem.Touch(id); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}

	if err := mem.Rewrite(context.Background(), id, "new content"); err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}
	e, err := mem.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e.Content != "new content" {
		t.Errorf("Content = %q, want %q", e.Content, "new content")
	}
	if got := e.Vector(); got[1] != 1 {
		t.Errorf("vector after rewrite = %v, want second axis", got)
	}
	if e.CreatedAt != 1000 || e.HitCount != 1 {
		t.Errorf("rewrite disturbed history: created %d, hits %d", e.CreatedAt, e.HitCount)
	}
}

func TestRewriteFailureLeavesEntryUntouched(t *testing.T) {
	mem, _, emb := newTestMemory(t)
	emb.set("stable content", []float32{1, 0, 0, 0}, 2)
	emb.fail["broken content"] = true

	id, err := mem.Append(context.Background(), "s1", "stable content", KindUserUtterance, "")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	err = mem.Rewrite(context.Background(), id, "broken content")
	if !errors.Is(err, ErrReembedFailed) {
		t.Fatalf("Rewrite() error = %v, want ErrReembedFailed", err)
	}
	e, err := mem.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e.Content != "stable content" {
		t.Errorf("Content = %q, want original preserved", e.Content)
	}
	if got := e.Vector(); got[0] != 1 {
		t.Errorf("vector changed on failed rewrite: %v", got)
	}
}

func TestRewriteMissingEntry(t *testing.T) {
	mem, _, _ := newTestMemory(t)
	err := mem.Rewrite(context.Background(), "no-such-id", "whatever")
	if !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("Rewrite() error = %v, want ErrEntryNotFound", err)
	}
}

func TestSessionCounts(t *testing.T) {
	mem, _, _ := newTestMemory(t)

	for i := 0; i < 3; i++ {
		ts := int64(1000 + i)
		mem.nowFn = func() int64 { return ts }
		if _, err := mem.Append(context.Background(), "s1", "collects postcards", KindUserUtterance, ""); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if _, err := mem.Append(context.Background(), "s2", "collects postcards", KindUserUtterance, ""); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	counts, err := mem.SessionCounts()
	if err != nil {
		t.Fatalf("SessionCounts() error = %v", err)
	}
	if counts["s1"] != 3 || counts["s2"] != 1 {
		t.Errorf("SessionCounts() = %v, want s1:3 s2:1", counts)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.5, -0.25, 1.5, 0, -3}
	got := decodeVector(encodeVector(vec))
	if len(got) != len(vec) {
		t.Fatalf("decoded length = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("component %d = %v, want %v", i, got[i], vec[i])
		}
	}

	// trailing partial floats are dropped
	if got := decodeVector([]byte{1, 2, 3}); len(got) != 0 {
		t.Errorf("decodeVector(short) = %v, want empty", got)
	}
}
