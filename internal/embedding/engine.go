package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"lukechampine.com/blake3"
)

// Dim is the embedding width every supported model must produce.
const Dim = 512

// DefaultMaxTokens caps the encoded sequence length when the config does not
// say otherwise.
const DefaultMaxTokens = 512

// cacheSize is the number of text → vector entries kept in front of inference.
const cacheSize = 4096

// Engine produces unit-length embedding vectors from a local ONNX model.
// Loading is lazy and at-most-once per version; the loaded model is swapped
// atomically so readers mid-embed keep the handle they started with.
type Engine struct {
	modelsDir string
	maxTokens int

	handle atomic.Pointer[modelHandle]
	group  singleflight.Group
	pool   *Pool
	cache  *lru.Cache[string, []float32]

	// newRunner builds the inference backend for a model file. Tests swap in
	// a fake so the suite runs without the onnxruntime shared library.
	newRunner func(modelPath string) (forwardRunner, error)
}

// modelHandle is one loaded model generation. Readers take a reference for
// the duration of a call; when a newer generation replaces it, the runner is
// closed once the last reference drains.
type modelHandle struct {
	version   string
	runner    forwardRunner
	tokenizer *Tokenizer

	refs      atomic.Int64
	retired   atomic.Bool
	closeOnce func()
}

func (h *modelHandle) acquire() { h.refs.Add(1) }

func (h *modelHandle) release() {
	if h.refs.Add(-1) == 0 {
		h.maybeClose()
	}
}

// retire marks the handle as replaced. Close happens here if no reader holds
// it, otherwise on the last release.
func (h *modelHandle) retire() {
	h.retired.Store(true)
	if h.refs.Load() == 0 {
		h.maybeClose()
	}
}

func (h *modelHandle) maybeClose() {
	if h.retired.Load() && h.refs.Load() == 0 {
		h.closeOnce()
	}
}

// NewEngine creates an engine reading models from modelsDir. Nothing is
// loaded until Load is called.
func NewEngine(modelsDir string, maxTokens int) *Engine {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &Engine{
		modelsDir: modelsDir,
		maxTokens: maxTokens,
		pool:      NewPool("embed", 0),
		cache:     cache,
		newRunner: newORTRunner,
	}
}

// Versions lists the model versions the engine knows how to load, oldest
// first.
var Versions = []string{"v1", "v2", "v3"}

// ModelFiles maps a model version to its on-disk layout: the ONNX graph and
// the tokenizer asset expected under modelsDir/<version>/.
func ModelFiles(version string) (model, vocab string, err error) {
	switch version {
	case "v1":
		return "model.onnx", "vocab.txt", nil
	case "v2", "v3":
		return "model_quant.onnx", "tokenizer.json", nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}
}

// Load loads the given model version and makes it current. Concurrent calls
// for the same version collapse into one load; loading an already-current
// version is a no-op.
func (e *Engine) Load(version string) error {
	_, err, _ := e.group.Do(version, func() (any, error) {
		if h := e.handle.Load(); h != nil && h.version == version {
			return nil, nil
		}

		h, err := e.open(version)
		if err != nil {
			return nil, err
		}

		if old := e.handle.Swap(h); old != nil {
			old.retire()
		}
		e.cache.Purge()
		slog.Info("embedding model loaded", "version", version, "vocab", h.tokenizer.VocabSize())
		return nil, nil
	})
	return err
}

// open reads the model files, builds the runner, and verifies the output
// width with a probe pass before the handle is published.
func (e *Engine) open(version string) (*modelHandle, error) {
	modelFile, vocabFile, err := ModelFiles(version)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(e.modelsDir, version)
	modelPath := filepath.Join(dir, modelFile)
	vocabPath := filepath.Join(dir, vocabFile)
	for _, p := range []string{modelPath, vocabPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrModelMissing, p)
		}
	}

	var tok *Tokenizer
	if vocabFile == "vocab.txt" {
		tok, err = LoadVocabTxt(vocabPath)
	} else {
		tok, err = LoadTokenizerJSON(vocabPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}

	runner, err := e.newRunner(modelPath)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}

	ids := tok.Encode("hello", e.maxTokens)
	mask := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	vec, err := runner.Forward(ids, mask)
	if err != nil {
		runner.Close()
		return nil, fmt.Errorf("probe pass: %w", err)
	}
	if len(vec) != Dim {
		runner.Close()
		return nil, fmt.Errorf("%w: produced %d dimensions, want %d", ErrModelCorrupt, len(vec), Dim)
	}

	h := &modelHandle{version: version, runner: runner, tokenizer: tok}
	var once atomic.Bool
	h.closeOnce = func() {
		if once.CompareAndSwap(false, true) {
			if err := runner.Close(); err != nil {
				slog.Warn("closing embedding model", "version", version, "error", err)
			}
		}
	}
	return h, nil
}

// snapshot returns the current handle with a reference held, or nil when no
// model is loaded. Callers must release it.
func (e *Engine) snapshot() *modelHandle {
	for {
		h := e.handle.Load()
		if h == nil {
			return nil
		}
		h.acquire()
		if e.handle.Load() == h {
			return h
		}
		h.release()
	}
}

// Embed returns the unit-normalized vector for text. The pass runs on the
// bounded pool; if ctx expires first the caller gets ctx.Err() and the
// in-flight pass finishes on its own, result dropped.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	h := e.snapshot()
	if h == nil {
		return nil, ErrNotLoaded
	}
	defer h.release()

	key := cacheKey(h.version, text)
	if vec, ok := e.cache.Get(key); ok {
		return cloneVec(vec), nil
	}

	ids := h.tokenizer.Encode(text, e.maxTokens)
	mask := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}

	type result struct {
		vec []float32
		err error
	}
	resCh := make(chan result, 1)

	h.acquire()
	if err := e.pool.Submit(ctx, func() {
		defer h.release()
		vec, err := h.runner.Forward(ids, mask)
		if err == nil {
			normalize(vec)
		}
		resCh <- result{vec: vec, err: err}
	}); err != nil {
		h.release()
		return nil, err
	}

	select {
	case r := <-resCh:
		if r.err != nil {
			return nil, fmt.Errorf("embed: %w", r.err)
		}
		e.cache.Add(key, r.vec)
		return cloneVec(r.vec), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EmbedBatch embeds texts in order, stopping at the first failure.
func (e *Engine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vecs = append(vecs, vec)
	}
	return vecs, nil
}

// CountTokens reports how many WordPiece tokens text costs under the loaded
// model's vocabulary.
func (e *Engine) CountTokens(text string) (int, error) {
	h := e.snapshot()
	if h == nil {
		return 0, ErrNotLoaded
	}
	defer h.release()
	return h.tokenizer.CountTokens(text), nil
}

// Loaded reports whether a model is currently available.
func (e *Engine) Loaded() bool {
	return e.handle.Load() != nil
}

// Version returns the loaded model version, or "" when none is loaded.
func (e *Engine) Version() string {
	if h := e.handle.Load(); h != nil {
		return h.version
	}
	return ""
}

// Close unloads the model and stops the pool. In-flight passes finish first.
func (e *Engine) Close() error {
	if old := e.handle.Swap(nil); old != nil {
		old.retire()
	}
	e.pool.Stop()
	e.cache.Purge()
	return nil
}

func cacheKey(version, text string) string {
	sum := blake3.Sum256([]byte(version + "\x00" + text))
	return string(sum[:])
}

func cloneVec(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
