package memory

import "errors"

var (
	// ErrEmbeddingUnavailable is returned when a write needs an embedding
	// but no model is loaded.
	ErrEmbeddingUnavailable = errors.New("embedding engine unavailable")

	// ErrReembedFailed is returned by Rewrite when the new content could
	// not be embedded. The stored entry is left untouched.
	ErrReembedFailed = errors.New("re-embed failed")

	// ErrEntryNotFound is returned when an entry id does not exist.
	ErrEntryNotFound = errors.New("memory entry not found")
)
