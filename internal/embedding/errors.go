package embedding

import "errors"

var (
	// ErrModelMissing is returned by Load when the model weights or tokenizer
	// file for the requested version is not on disk.
	ErrModelMissing = errors.New("embedding model files missing")

	// ErrModelCorrupt is returned by Load when the weights load but the probe
	// forward pass does not produce a vector of the expected dimension.
	ErrModelCorrupt = errors.New("embedding model failed shape check")

	// ErrNotLoaded is returned by Embed when no model version has been loaded.
	ErrNotLoaded = errors.New("embedding model not loaded")

	// ErrUnknownVersion is returned by Load for a version outside v1..v3.
	ErrUnknownVersion = errors.New("unknown embedding model version")
)
