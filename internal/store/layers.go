package store

import "github.com/lettucelabs/lettuce/pkg/syncwire"

// TableSpec describes one sync-tracked table: its writable columns and which
// of them reference files under the media directory.
type TableSpec struct {
	Name    string
	Columns []string
	Media   []string
}

// layerTables maps each sync layer to its tables, parents before children, so
// applying a layer in slice order never creates a row before its owner.
var layerTables = map[syncwire.Layer][]TableSpec{
	syncwire.LayerGlobals: {
		{Name: "settings", Columns: []string{"id", "key", "value", "updated_at"}},
		{Name: "personas", Columns: []string{"id", "name", "description", "avatar_path", "updated_at"}, Media: []string{"avatar_path"}},
		{Name: "models", Columns: []string{"id", "name", "provider", "model_id", "config", "updated_at"}},
		{Name: "credentials", Columns: []string{"id", "name", "provider", "api_key", "base_url", "updated_at"}},
		{Name: "prompt_templates", Columns: []string{"id", "name", "content", "updated_at"}},
		{Name: "voice_caches", Columns: []string{"id", "text_hash", "voice_id", "file_path", "updated_at"}, Media: []string{"file_path"}},
	},
	syncwire.LayerLorebooks: {
		{Name: "lorebooks", Columns: []string{"id", "name", "description", "updated_at"}},
		{Name: "lorebook_entries", Columns: []string{"id", "lorebook_id", "keys", "content", "priority", "enabled", "updated_at"}},
	},
	syncwire.LayerCharacters: {
		{Name: "characters", Columns: []string{"id", "name", "description", "personality", "first_message", "avatar_path", "updated_at"}, Media: []string{"avatar_path"}},
		{Name: "character_rules", Columns: []string{"id", "character_id", "condition", "action", "enabled", "updated_at"}},
		{Name: "scenes", Columns: []string{"id", "character_id", "name", "prompt", "background_path", "updated_at"}, Media: []string{"background_path"}},
		{Name: "scene_variants", Columns: []string{"id", "scene_id", "content", "position", "updated_at"}},
		{Name: "character_lorebooks", Columns: []string{"id", "character_id", "lorebook_id", "updated_at"}},
	},
	syncwire.LayerSessions: {
		{Name: "sessions", Columns: []string{"id", "character_id", "persona_id", "name", "created_at", "updated_at"}},
		{Name: "messages", Columns: []string{"id", "session_id", "role", "content", "created_at", "updated_at"}},
		{Name: "message_variants", Columns: []string{"id", "message_id", "content", "position", "updated_at"}},
		{Name: "usage_records", Columns: []string{"id", "session_id", "model_id", "prompt_tokens", "completion_tokens", "created_at", "updated_at"}},
	},
	syncwire.LayerGroupSessions: {
		{Name: "group_sessions", Columns: []string{"id", "name", "created_at", "updated_at"}},
		{Name: "group_participants", Columns: []string{"id", "group_id", "character_id", "position", "updated_at"}},
		{Name: "group_messages", Columns: []string{"id", "group_id", "character_id", "role", "content", "created_at", "updated_at"}},
		{Name: "group_variants", Columns: []string{"id", "group_message_id", "content", "position", "updated_at"}},
	},
}

// LayerTables returns the table specs for a layer in apply order, or nil for
// an unknown layer.
func LayerTables(layer syncwire.Layer) []TableSpec {
	return layerTables[layer]
}
