// Package memory implements per-character dynamic memory: short factual
// entries embedded into unit vectors at write time and recalled by a
// similarity/recency/frequency score under a token budget. Entries live in
// the memory_entries table next to the chat data they were distilled from.
package memory

import (
	"encoding/binary"
	"math"
)

// Entry kinds record where a memory came from. Kind is advisory metadata;
// selection treats all kinds alike.
const (
	KindUserUtterance      = "user_utterance"
	KindAssistantUtterance = "assistant_utterance"
	KindToolUpdate         = "tool_update"
)

// Entry is one remembered item for a session.
type Entry struct {
	ID              string `db:"id" json:"id"`
	SessionID       string `db:"session_id" json:"session_id"`
	Content         string `db:"content" json:"content"`
	Embedding       []byte `db:"embedding" json:"-"`
	Kind            string `db:"kind" json:"kind"`
	OriginMessageID string `db:"origin_message_id" json:"origin_message_id,omitempty"`
	CreatedAt       int64  `db:"created_at" json:"created_at"`
	LastHitAt       int64  `db:"last_hit_at" json:"last_hit_at"`
	HitCount        int64  `db:"hit_count" json:"hit_count"`
}

// Vector decodes the stored embedding blob.
func (e *Entry) Vector() []float32 {
	return decodeVector(e.Embedding)
}

// encodeVector packs a float32 vector as little-endian bytes, 4 per
// component. This is the on-disk embedding format.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// decodeVector is the inverse of encodeVector. Trailing bytes that do not
// fill a full float32 are ignored.
func decodeVector(data []byte) []float32 {
	n := len(data) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec
}
