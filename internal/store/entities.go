package store

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a new UUID v7 (time-ordered) row id.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowMillis is the row timestamp unit: milliseconds since the Unix epoch.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Setting is a key/value row in the globals layer.
type Setting struct {
	ID        string `db:"id" json:"id"`
	Key       string `db:"key" json:"key"`
	Value     string `db:"value" json:"value"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// Persona is the user-side identity shown in chats.
type Persona struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	AvatarPath  string `db:"avatar_path" json:"avatar_path"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
}

// Model is a configured LLM endpoint.
type Model struct {
	ID        string `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	Provider  string `db:"provider" json:"provider"`
	ModelID   string `db:"model_id" json:"model_id"`
	Config    string `db:"config" json:"config"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// Credential is a provider API credential.
type Credential struct {
	ID        string `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	Provider  string `db:"provider" json:"provider"`
	APIKey    string `db:"api_key" json:"api_key"`
	BaseURL   string `db:"base_url" json:"base_url"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// PromptTemplate is a reusable system-prompt building block.
type PromptTemplate struct {
	ID        string `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	Content   string `db:"content" json:"content"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// VoiceCache maps a text hash to a synthesized audio file.
type VoiceCache struct {
	ID        string `db:"id" json:"id"`
	TextHash  string `db:"text_hash" json:"text_hash"`
	VoiceID   string `db:"voice_id" json:"voice_id"`
	FilePath  string `db:"file_path" json:"file_path"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// Lorebook groups world-knowledge entries shared across characters.
type Lorebook struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
}

// LorebookEntry is one keyed knowledge snippet.
type LorebookEntry struct {
	ID         string `db:"id" json:"id"`
	LorebookID string `db:"lorebook_id" json:"lorebook_id"`
	Keys       string `db:"keys" json:"keys"`
	Content    string `db:"content" json:"content"`
	Priority   int64  `db:"priority" json:"priority"`
	Enabled    int64  `db:"enabled" json:"enabled"`
	UpdatedAt  int64  `db:"updated_at" json:"updated_at"`
}

// Character is a conversational persona definition.
type Character struct {
	ID           string `db:"id" json:"id"`
	Name         string `db:"name" json:"name"`
	Description  string `db:"description" json:"description"`
	Personality  string `db:"personality" json:"personality"`
	FirstMessage string `db:"first_message" json:"first_message"`
	AvatarPath   string `db:"avatar_path" json:"avatar_path"`
	UpdatedAt    int64  `db:"updated_at" json:"updated_at"`
}

// CharacterRule is a conditional behavior attached to a character.
type CharacterRule struct {
	ID          string `db:"id" json:"id"`
	CharacterID string `db:"character_id" json:"character_id"`
	Condition   string `db:"condition" json:"condition"`
	Action      string `db:"action" json:"action"`
	Enabled     int64  `db:"enabled" json:"enabled"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
}

// Scene is a character scenario with an optional backdrop image.
type Scene struct {
	ID             string `db:"id" json:"id"`
	CharacterID    string `db:"character_id" json:"character_id"`
	Name           string `db:"name" json:"name"`
	Prompt         string `db:"prompt" json:"prompt"`
	BackgroundPath string `db:"background_path" json:"background_path"`
	UpdatedAt      int64  `db:"updated_at" json:"updated_at"`
}

// SceneVariant is one alternative opening for a scene.
type SceneVariant struct {
	ID        string `db:"id" json:"id"`
	SceneID   string `db:"scene_id" json:"scene_id"`
	Content   string `db:"content" json:"content"`
	Position  int64  `db:"position" json:"position"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// CharacterLorebook links a character to a lorebook.
type CharacterLorebook struct {
	ID          string `db:"id" json:"id"`
	CharacterID string `db:"character_id" json:"character_id"`
	LorebookID  string `db:"lorebook_id" json:"lorebook_id"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
}

// Session is one chat thread between a persona and a character.
type Session struct {
	ID          string `db:"id" json:"id"`
	CharacterID string `db:"character_id" json:"character_id"`
	PersonaID   string `db:"persona_id" json:"persona_id"`
	Name        string `db:"name" json:"name"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
}

// Message is one turn inside a session.
type Message struct {
	ID        string `db:"id" json:"id"`
	SessionID string `db:"session_id" json:"session_id"`
	Role      string `db:"role" json:"role"`
	Content   string `db:"content" json:"content"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// MessageVariant is an alternative generation for a message.
type MessageVariant struct {
	ID        string `db:"id" json:"id"`
	MessageID string `db:"message_id" json:"message_id"`
	Content   string `db:"content" json:"content"`
	Position  int64  `db:"position" json:"position"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// UsageRecord tracks token spend per generation.
type UsageRecord struct {
	ID               string `db:"id" json:"id"`
	SessionID        string `db:"session_id" json:"session_id"`
	ModelID          string `db:"model_id" json:"model_id"`
	PromptTokens     int64  `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int64  `db:"completion_tokens" json:"completion_tokens"`
	CreatedAt        int64  `db:"created_at" json:"created_at"`
	UpdatedAt        int64  `db:"updated_at" json:"updated_at"`
}

// GroupSession is a chat thread with multiple characters.
type GroupSession struct {
	ID        string `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// GroupParticipant places a character in a group session.
type GroupParticipant struct {
	ID          string `db:"id" json:"id"`
	GroupID     string `db:"group_id" json:"group_id"`
	CharacterID string `db:"character_id" json:"character_id"`
	Position    int64  `db:"position" json:"position"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
}

// GroupMessage is one turn inside a group session.
type GroupMessage struct {
	ID          string `db:"id" json:"id"`
	GroupID     string `db:"group_id" json:"group_id"`
	CharacterID string `db:"character_id" json:"character_id"`
	Role        string `db:"role" json:"role"`
	Content     string `db:"content" json:"content"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
}

// GroupVariant is an alternative generation for a group message.
type GroupVariant struct {
	ID             string `db:"id" json:"id"`
	GroupMessageID string `db:"group_message_id" json:"group_message_id"`
	Content        string `db:"content" json:"content"`
	Position       int64  `db:"position" json:"position"`
	UpdatedAt      int64  `db:"updated_at" json:"updated_at"`
}
