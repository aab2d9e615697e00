// Package app wires the data engine together: resolved paths, parsed
// configuration, the open database, and constructors for the services built
// on them. Every CLI command comes through here, so none needs to know the
// assembly order.
package app

import (
	"github.com/jmoiron/sqlx"

	"github.com/lettucelabs/lettuce/internal/abort"
	"github.com/lettucelabs/lettuce/internal/config"
	"github.com/lettucelabs/lettuce/internal/db"
	"github.com/lettucelabs/lettuce/internal/embedding"
	"github.com/lettucelabs/lettuce/internal/memory"
	"github.com/lettucelabs/lettuce/internal/store"
	devsync "github.com/lettucelabs/lettuce/internal/sync"
)

// App is the opened data engine.
type App struct {
	Paths  config.Paths
	Config *config.Config
	DB     *sqlx.DB
	Store  *store.Store
}

// Open resolves the data root, loads config, and opens the migrated
// database.
func Open() (*App, error) {
	paths, err := config.ResolvePaths()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	dbx, err := db.Open(paths.Database)
	if err != nil {
		return nil, err
	}
	return &App{Paths: paths, Config: cfg, DB: dbx, Store: store.New(dbx)}, nil
}

// Close releases the database handle.
func (a *App) Close() error {
	return a.DB.Close()
}

// MemoryConfig converts the config file's memory section into the tuning
// struct the memory package takes.
func (a *App) MemoryConfig() memory.Config {
	m := a.Config.Memory
	return memory.Config{
		Enabled:           m.Enabled,
		WindowSize:        m.WindowSize,
		MinSimilarity:     m.MinSimilarity,
		MaxEntries:        m.MaxEntries,
		TokenBudget:       m.TokenBudget,
		DecayRate:         m.DecayRate,
		ColdThreshold:     m.ColdThreshold,
		ContextEnrichment: m.ContextEnrichment,
		CompactSchedule:   m.CompactSchedule,
	}
}

// NewEmbedding builds the embedding engine over the app's models directory.
// Nothing is loaded until Engine.Load.
func (a *App) NewEmbedding() *embedding.Engine {
	return embedding.NewEngine(a.Paths.ModelsDir, a.Config.Model.MaxTokens)
}

// NewSyncEngine builds a sync engine bound to the app's store and media
// directory.
func (a *App) NewSyncEngine(reg *abort.Registry) *devsync.Engine {
	return devsync.NewEngine(a.Store, reg, devsync.Options{
		DeviceName:      a.Config.DeviceName,
		MediaDir:        a.Paths.MediaDir,
		RequireApproval: a.Config.Sync.RequireApproval,
	})
}

// ModelsCache opens the provider-model-list sidecar next to the database.
func (a *App) ModelsCache() *store.ModelsCache {
	return store.NewModelsCache(a.Paths.ModelsCache)
}

// WatchConfig starts a watcher on the config file. onChange runs with the
// freshly parsed config after each debounced edit. Stop the returned watcher
// when done.
func (a *App) WatchConfig(onChange config.ChangeHandler) (*config.Watcher, error) {
	w, err := config.NewWatcher(a.Paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	w.OnChange(onChange)
	if err := w.Start(); err != nil {
		return nil, err
	}
	return w, nil
}
