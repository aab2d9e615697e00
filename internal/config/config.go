// Package config loads the Lettuce application configuration from a JSON5
// file under the app data directory and resolves the standard data paths
// (database, models, media). A missing file yields defaults; a file that
// fails to parse is surfaced as an error so the UI can show it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// EnvHome overrides the app data root when set.
const EnvHome = "LETTUCE_HOME"

// ConfigFileName is the config file under the app data root.
const ConfigFileName = "config.json5"

// Config is the full application configuration.
type Config struct {
	// DeviceName identifies this device in the sync handshake.
	// Defaults to the OS hostname.
	DeviceName string `json:"deviceName"`

	Model  ModelConfig  `json:"model"`
	Memory MemoryConfig `json:"memory"`
	Sync   SyncConfig   `json:"sync"`
}

// ModelConfig selects the local embedding model.
type ModelConfig struct {
	// Version names the model directory under models/ ("v1", "v2", "v3").
	Version string `json:"version"`
	// MaxTokens truncates tokenized input before the forward pass.
	MaxTokens int `json:"maxTokens"`
}

// MemoryConfig tunes dynamic memory selection and compaction.
type MemoryConfig struct {
	Enabled           bool    `json:"enabled"`
	WindowSize        int     `json:"windowSize"`
	MinSimilarity     float64 `json:"minSimilarity"`
	MaxEntries        int     `json:"maxEntries"`
	TokenBudget       int     `json:"tokenBudget"`
	DecayRate         float64 `json:"decayRate"`
	ColdThreshold     float64 `json:"coldThreshold"`
	ContextEnrichment bool    `json:"contextEnrichment"`

	// CompactSchedule is a 5-field cron expression for the cold-entry
	// compactor. Empty disables scheduled compaction.
	CompactSchedule string `json:"compactSchedule"`
}

// SyncConfig tunes the device-sync listener.
type SyncConfig struct {
	// Port is the default listener port for `sync serve`.
	Port int `json:"port"`
	// RequireApproval gates new passenger connections behind an explicit
	// user approval instead of accepting any peer that knows the PIN.
	RequireApproval bool `json:"requireApproval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "lettuce-device"
	}
	return &Config{
		DeviceName: host,
		Model: ModelConfig{
			Version:   "v3",
			MaxTokens: 512,
		},
		Memory: MemoryConfig{
			Enabled:           true,
			WindowSize:        6,
			MinSimilarity:     0.35,
			MaxEntries:        10,
			TokenBudget:       512,
			DecayRate:         0.05,
			ColdThreshold:     0.1,
			ContextEnrichment: false,
			CompactSchedule:   "0 4 * * *",
		},
		Sync: SyncConfig{
			Port:            7820,
			RequireApproval: true,
		},
	}
}

// Load reads the config file at path. A missing file returns defaults; a
// present but unparseable file returns an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.normalize()
	return cfg, nil
}

// Save writes the config as indented JSON, which Load reads back as JSON5.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// normalize clamps out-of-range values back to defaults so a hand-edited
// config cannot wedge the selector.
func (c *Config) normalize() {
	d := Default()
	if c.DeviceName == "" {
		c.DeviceName = d.DeviceName
	}
	if c.Model.Version == "" {
		c.Model.Version = d.Model.Version
	}
	if c.Model.MaxTokens <= 0 {
		c.Model.MaxTokens = d.Model.MaxTokens
	}
	if c.Memory.WindowSize <= 0 {
		c.Memory.WindowSize = d.Memory.WindowSize
	}
	if c.Memory.MinSimilarity < 0 || c.Memory.MinSimilarity > 1 {
		c.Memory.MinSimilarity = d.Memory.MinSimilarity
	}
	if c.Memory.MaxEntries <= 0 {
		c.Memory.MaxEntries = d.Memory.MaxEntries
	}
	if c.Memory.TokenBudget <= 0 {
		c.Memory.TokenBudget = d.Memory.TokenBudget
	}
	if c.Memory.DecayRate < 0 {
		c.Memory.DecayRate = d.Memory.DecayRate
	}
	if c.Memory.ColdThreshold < 0 {
		c.Memory.ColdThreshold = d.Memory.ColdThreshold
	}
	if c.Sync.Port <= 0 || c.Sync.Port > 65535 {
		c.Sync.Port = d.Sync.Port
	}
}

// Paths resolves the standard locations under the app data root.
type Paths struct {
	Root        string // app data root
	ConfigFile  string // config.json5
	Database    string // lettuce.db
	ModelsDir   string // models/<version>/...
	MediaDir    string // media files referenced by rows
	ModelsCache string // models-cache.json
}

// ResolvePaths determines the app data root (LETTUCE_HOME, else the OS user
// config dir) and returns all derived paths. The root directory is created
// if absent.
func ResolvePaths() (Paths, error) {
	root := os.Getenv(EnvHome)
	if root == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			home, herr := os.UserHomeDir()
			if herr != nil {
				return Paths{}, fmt.Errorf("resolve app data root: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
		root = filepath.Join(base, "lettuce")
	}

	if err := os.MkdirAll(root, 0o700); err != nil {
		return Paths{}, fmt.Errorf("create app data root: %w", err)
	}

	return Paths{
		Root:        root,
		ConfigFile:  filepath.Join(root, ConfigFileName),
		Database:    filepath.Join(root, "lettuce.db"),
		ModelsDir:   filepath.Join(root, "models"),
		MediaDir:    filepath.Join(root, "media"),
		ModelsCache: filepath.Join(root, "models-cache.json"),
	}, nil
}
