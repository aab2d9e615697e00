package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ModelsCacheTTL is how long a fetched model list stays fresh.
const ModelsCacheTTL = 24 * time.Hour

// modelsCacheEntry is one credential's cached model list.
type modelsCacheEntry struct {
	Models    []string `json:"models"`
	FetchedAt int64    `json:"fetchedAt"` // unix millis
}

type modelsCacheFile struct {
	Entries map[string]modelsCacheEntry `json:"entries"`
}

// ModelsCache persists provider model lists per credential so the picker
// works offline. Backed by a JSON sidecar next to the database.
type ModelsCache struct {
	path string
	mu   sync.Mutex
	file modelsCacheFile
}

// NewModelsCache opens the cache at path, loading any existing content.
func NewModelsCache(path string) *ModelsCache {
	c := &ModelsCache{path: path}
	c.load()
	if c.file.Entries == nil {
		c.file.Entries = map[string]modelsCacheEntry{}
	}
	return c
}

// CachedModels is one credential's entry as reported by Entries.
type CachedModels struct {
	CredentialID string   `json:"credential_id"`
	Models       []string `json:"models"`
	FetchedAt    int64    `json:"fetched_at"`
	Fresh        bool     `json:"fresh"`
}

// Entries snapshots the whole cache, ordered by credential id.
func (c *ModelsCache) Entries() []CachedModels {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]CachedModels, 0, len(c.file.Entries))
	for credID, entry := range c.file.Entries {
		models := make([]string, len(entry.Models))
		copy(models, entry.Models)
		out = append(out, CachedModels{
			CredentialID: credID,
			Models:       models,
			FetchedAt:    entry.FetchedAt,
			Fresh:        time.Since(time.UnixMilli(entry.FetchedAt)) < ModelsCacheTTL,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CredentialID < out[j].CredentialID })
	return out
}

// Get returns the cached model list for a credential and whether it is still
// fresh. A missing entry returns ok=false.
func (c *ModelsCache) Get(credID string) (models []string, fresh bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.file.Entries[credID]
	if !exists {
		return nil, false, false
	}
	models = make([]string, len(entry.Models))
	copy(models, entry.Models)
	age := time.Since(time.UnixMilli(entry.FetchedAt))
	return models, age < ModelsCacheTTL, true
}

// Put stores a freshly fetched model list for a credential.
func (c *ModelsCache) Put(credID string, models []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]string, len(models))
	copy(stored, models)
	c.file.Entries[credID] = modelsCacheEntry{
		Models:    stored,
		FetchedAt: time.Now().UnixMilli(),
	}
	c.save()
}

// Forget drops a credential's entry, for when the credential is deleted.
func (c *ModelsCache) Forget(credID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.file.Entries[credID]; !ok {
		return
	}
	delete(c.file.Entries, credID)
	c.save()
}

func (c *ModelsCache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return // file doesn't exist yet
	}
	json.Unmarshal(data, &c.file)
}

func (c *ModelsCache) save() {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		slog.Error("models cache: failed to create dir", "error", err)
		return
	}
	data, err := json.MarshalIndent(c.file, "", "  ")
	if err != nil {
		slog.Error("models cache: failed to marshal", "error", err)
		return
	}
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		slog.Error("models cache: failed to write", "error", err)
	}
}
