package store

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestModelsCache_PutGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models-cache.json")
	c := NewModelsCache(path)

	if _, _, ok := c.Get("cred1"); ok {
		t.Error("Get on empty cache reported ok")
	}

	c.Put("cred1", []string{"gpt-a", "gpt-b"})
	models, fresh, ok := c.Get("cred1")
	if !ok {
		t.Fatal("Get after Put reported not ok")
	}
	if !fresh {
		t.Error("entry should be fresh right after Put")
	}
	if !reflect.DeepEqual(models, []string{"gpt-a", "gpt-b"}) {
		t.Errorf("models = %v, want [gpt-a gpt-b]", models)
	}

	// Returned slice must not alias the stored one.
	models[0] = "mutated"
	again, _, _ := c.Get("cred1")
	if again[0] != "gpt-a" {
		t.Error("mutating the returned slice changed the cache")
	}
}

func TestModelsCache_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models-cache.json")

	c := NewModelsCache(path)
	c.Put("cred1", []string{"model-x"})

	reopened := NewModelsCache(path)
	models, _, ok := reopened.Get("cred1")
	if !ok {
		t.Fatal("entry lost across reopen")
	}
	if len(models) != 1 || models[0] != "model-x" {
		t.Errorf("models = %v, want [model-x]", models)
	}
}

func TestModelsCache_Forget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models-cache.json")
	c := NewModelsCache(path)

	c.Put("cred1", []string{"m"})
	c.Forget("cred1")
	if _, _, ok := c.Get("cred1"); ok {
		t.Error("entry still present after Forget")
	}

	// Forgetting an absent credential is a no-op.
	c.Forget("never-existed")
}

func TestModelsCache_Entries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models-cache.json")
	c := NewModelsCache(path)

	if got := c.Entries(); len(got) != 0 {
		t.Fatalf("empty cache has %d entries, want 0", len(got))
	}

	c.Put("cred-b", []string{"m1"})
	c.Put("cred-a", []string{"m2", "m3"})

	got := c.Entries()
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].CredentialID != "cred-a" || got[1].CredentialID != "cred-b" {
		t.Errorf("entries not ordered by credential id: %s, %s", got[0].CredentialID, got[1].CredentialID)
	}
	if len(got[0].Models) != 2 {
		t.Errorf("cred-a has %d models, want 2", len(got[0].Models))
	}
	if !got[0].Fresh {
		t.Error("entry should be fresh right after Put")
	}
	if got[0].FetchedAt == 0 {
		t.Error("FetchedAt not stamped")
	}
}
