package store

import (
	"reflect"
	"testing"

	"github.com/lettucelabs/lettuce/pkg/syncwire"
)

func TestApplyLayer_InsertsNewRows(t *testing.T) {
	s := newTestStore(t)

	payload := LayerPayload{
		"lorebooks": {
			{"id": "lb1", "name": "Verdant Isles", "description": "world notes", "updated_at": int64(5000)},
		},
		"lorebook_entries": {
			{"id": "le1", "lorebook_id": "lb1", "keys": "isles", "content": "The isles float.", "priority": int64(1), "enabled": int64(1), "updated_at": int64(5000)},
			{"id": "le2", "lorebook_id": "lb1", "keys": "tide", "content": "Tides reverse at dusk.", "priority": int64(2), "enabled": int64(1), "updated_at": int64(5001)},
		},
	}

	applied, err := s.ApplyLayer(syncwire.LayerLorebooks, payload)
	if err != nil {
		t.Fatalf("ApplyLayer: %v", err)
	}
	if applied != 3 {
		t.Errorf("applied = %d, want 3", applied)
	}

	var name string
	if err := s.db.Get(&name, "SELECT name FROM lorebooks WHERE id = 'lb1'"); err != nil {
		t.Fatalf("select lorebook: %v", err)
	}
	if name != "Verdant Isles" {
		t.Errorf("name = %q, want Verdant Isles", name)
	}

	n, _ := s.CountRows("lorebook_entries")
	if n != 2 {
		t.Errorf("entries = %d, want 2", n)
	}
}

func TestApplyLayer_NewerWinsOlderLoses(t *testing.T) {
	s := newTestStore(t)

	_, err := s.db.Exec(
		`INSERT INTO characters (id, name, description, updated_at) VALUES ('c1', 'old name', 'local', 2000)`)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Strictly newer incoming row overwrites.
	applied, err := s.ApplyLayer(syncwire.LayerCharacters, LayerPayload{
		"characters": {{"id": "c1", "name": "new name", "description": "remote", "updated_at": int64(3000)}},
	})
	if err != nil {
		t.Fatalf("ApplyLayer: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}

	var name string
	s.db.Get(&name, "SELECT name FROM characters WHERE id = 'c1'")
	if name != "new name" {
		t.Errorf("name = %q, want new name", name)
	}

	// Older incoming row is ignored.
	applied, err = s.ApplyLayer(syncwire.LayerCharacters, LayerPayload{
		"characters": {{"id": "c1", "name": "stale", "updated_at": int64(1000)}},
	})
	if err != nil {
		t.Fatalf("ApplyLayer: %v", err)
	}
	if applied != 0 {
		t.Errorf("applied = %d, want 0 for stale row", applied)
	}
	s.db.Get(&name, "SELECT name FROM characters WHERE id = 'c1'")
	if name != "new name" {
		t.Errorf("name = %q after stale apply, want new name", name)
	}
}

func TestApplyLayer_TieKeepsLocal(t *testing.T) {
	s := newTestStore(t)

	_, err := s.db.Exec(
		`INSERT INTO characters (id, name, updated_at) VALUES ('c1', 'local', 2000)`)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	applied, err := s.ApplyLayer(syncwire.LayerCharacters, LayerPayload{
		"characters": {{"id": "c1", "name": "remote", "updated_at": int64(2000)}},
	})
	if err != nil {
		t.Fatalf("ApplyLayer: %v", err)
	}
	if applied != 0 {
		t.Errorf("applied = %d, want 0 on equal timestamps", applied)
	}

	var name string
	s.db.Get(&name, "SELECT name FROM characters WHERE id = 'c1'")
	if name != "local" {
		t.Errorf("name = %q, want local (ties keep local)", name)
	}
}

func TestApplyLayer_JSONDecodedNumbers(t *testing.T) {
	s := newTestStore(t)

	// Values that crossed the wire arrive as float64 after JSON decoding.
	applied, err := s.ApplyLayer(syncwire.LayerLorebooks, LayerPayload{
		"lorebooks":        {{"id": "lb1", "name": "W", "updated_at": float64(5000)}},
		"lorebook_entries": {{"id": "le1", "lorebook_id": "lb1", "priority": float64(3), "updated_at": float64(5000)}},
	})
	if err != nil {
		t.Fatalf("ApplyLayer: %v", err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}

	var priority int64
	if err := s.db.Get(&priority, "SELECT priority FROM lorebook_entries WHERE id = 'le1'"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if priority != 3 {
		t.Errorf("priority = %d, want 3", priority)
	}
}

func TestApplyLayer_IgnoresUnknownTablesAndColumns(t *testing.T) {
	s := newTestStore(t)

	applied, err := s.ApplyLayer(syncwire.LayerCharacters, LayerPayload{
		"not_a_table": {{"id": "x", "updated_at": int64(1)}},
		"characters":  {{"id": "c1", "name": "Iris", "hacked_column": "boom", "updated_at": int64(1000)}},
	})
	if err != nil {
		t.Fatalf("ApplyLayer: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}

	var name string
	s.db.Get(&name, "SELECT name FROM characters WHERE id = 'c1'")
	if name != "Iris" {
		t.Errorf("name = %q, want Iris", name)
	}
}

func TestApplyLayer_RowMissingID(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ApplyLayer(syncwire.LayerCharacters, LayerPayload{
		"characters": {{"name": "no id", "updated_at": int64(1000)}},
	})
	if err == nil {
		t.Fatal("expected error for row without id")
	}

	n, _ := s.CountRows("characters")
	if n != 0 {
		t.Errorf("characters = %d after failed apply, want 0 (transaction rolled back)", n)
	}
}

func TestLayerManifestAndBuild(t *testing.T) {
	s := newTestStore(t)

	seed := []string{
		`INSERT INTO lorebooks (id, name, updated_at) VALUES ('lb1', 'A', 100)`,
		`INSERT INTO lorebook_entries (id, lorebook_id, updated_at) VALUES ('le1', 'lb1', 200)`,
		`INSERT INTO characters (id, name, updated_at) VALUES ('c1', 'Iris', 300)`,
	}
	for _, q := range seed {
		if _, err := s.db.Exec(q); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rows, err := s.LayerManifest(syncwire.LayerLorebooks)
	if err != nil {
		t.Fatalf("LayerManifest: %v", err)
	}
	want := map[string]int64{"lb1": 100, "le1": 200}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("lorebooks manifest = %v, want %v", rows, want)
	}

	m, err := s.BuildManifest(syncwire.LayerOrder)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	if m.Total() != 3 {
		t.Errorf("manifest total = %d, want 3", m.Total())
	}
	if got := m.Rows(syncwire.LayerCharacters)["c1"]; got != 300 {
		t.Errorf("characters c1 = %d, want 300", got)
	}
	if len(m.Rows(syncwire.LayerGlobals)) != 0 {
		t.Errorf("globals manifest should be empty, got %v", m.Rows(syncwire.LayerGlobals))
	}
}

func TestCollectRows(t *testing.T) {
	s := newTestStore(t)

	seed := []string{
		`INSERT INTO characters (id, name, avatar_path, updated_at) VALUES ('c1', 'Iris', 'avatars/iris.png', 100)`,
		`INSERT INTO characters (id, name, updated_at) VALUES ('c2', 'Fern', 200)`,
		`INSERT INTO scenes (id, character_id, name, background_path, updated_at) VALUES ('sc1', 'c1', 'grove', 'bg/grove.jpg', 150)`,
	}
	for _, q := range seed {
		if _, err := s.db.Exec(q); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	payload, err := s.CollectRows(syncwire.LayerCharacters, map[string]struct{}{
		"c1": {}, "sc1": {},
	})
	if err != nil {
		t.Fatalf("CollectRows: %v", err)
	}

	if len(payload["characters"]) != 1 {
		t.Fatalf("characters rows = %d, want 1", len(payload["characters"]))
	}
	if got := payload["characters"][0]["name"]; got != "Iris" {
		t.Errorf("collected name = %v, want Iris", got)
	}
	if len(payload["scenes"]) != 1 {
		t.Errorf("scenes rows = %d, want 1", len(payload["scenes"]))
	}
	if _, ok := payload["character_rules"]; ok {
		t.Error("empty table should be omitted from payload")
	}

	empty, err := s.CollectRows(syncwire.LayerCharacters, nil)
	if err != nil {
		t.Fatalf("CollectRows(empty): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("empty push set produced payload %v", empty)
	}
}

func TestMediaPaths(t *testing.T) {
	payload := LayerPayload{
		"characters": {
			{"id": "c1", "avatar_path": "avatars/iris.png"},
			{"id": "c2", "avatar_path": "avatars/iris.png"}, // duplicate
			{"id": "c3", "avatar_path": ""},
		},
		"scenes": {
			{"id": "sc1", "background_path": "bg/grove.jpg"},
		},
	}

	got := MediaPaths(syncwire.LayerCharacters, payload)
	want := []string{"avatars/iris.png", "bg/grove.jpg"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MediaPaths = %v, want %v", got, want)
	}
}
