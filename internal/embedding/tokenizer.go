package embedding

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Special token literals looked up in the vocabulary.
const (
	tokenCLS = "[CLS]"
	tokenSEP = "[SEP]"
	tokenUNK = "[UNK]"
)

// maxWordChars caps a single whitespace-delimited word; longer words map to
// [UNK] instead of an unbounded longest-match scan.
const maxWordChars = 100

// Tokenizer is a BERT-style WordPiece tokenizer: lowercase, accent stripping,
// punctuation splitting, then greedy longest-match subword lookup with "##"
// continuation pieces.
type Tokenizer struct {
	vocab map[string]int64
	cls   int64
	sep   int64
	unk   int64
}

// stripAccents decomposes to NFD and removes combining marks, so "café" and
// "cafe" tokenize identically.
var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// LoadVocabTxt reads a one-token-per-line vocabulary file (the v1 layout).
func LoadVocabTxt(path string) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var id int64
	for scanner.Scan() {
		// Line number is the token id; blank lines still consume an id so the
		// mapping stays aligned with the published vocab files.
		vocab[strings.TrimRight(scanner.Text(), "\r")] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	return newTokenizer(vocab)
}

// LoadTokenizerJSON reads a HuggingFace tokenizer.json vocabulary (the v2/v3
// layout). Only the vocab map is consumed; merges and normalizer config are
// reimplemented here.
func LoadTokenizerJSON(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Model struct {
			Vocab map[string]int64 `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if len(doc.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer.json has no vocabulary")
	}
	return newTokenizer(doc.Model.Vocab)
}

func newTokenizer(vocab map[string]int64) (*Tokenizer, error) {
	t := &Tokenizer{vocab: vocab}
	var ok bool
	if t.cls, ok = vocab[tokenCLS]; !ok {
		return nil, fmt.Errorf("vocabulary missing %s", tokenCLS)
	}
	if t.sep, ok = vocab[tokenSEP]; !ok {
		return nil, fmt.Errorf("vocabulary missing %s", tokenSEP)
	}
	if t.unk, ok = vocab[tokenUNK]; !ok {
		return nil, fmt.Errorf("vocabulary missing %s", tokenUNK)
	}
	return t, nil
}

// VocabSize returns the number of entries in the vocabulary.
func (t *Tokenizer) VocabSize() int { return len(t.vocab) }

// Tokenize converts text into WordPiece token IDs, without [CLS]/[SEP].
func (t *Tokenizer) Tokenize(text string) []int64 {
	var ids []int64
	for _, word := range t.basicTokenize(text) {
		ids = append(ids, t.wordPiece(word)...)
	}
	return ids
}

// CountTokens returns the number of WordPiece tokens text produces. This is
// the unit the memory selector budgets in.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.Tokenize(text))
}

// Encode produces the model input sequence: [CLS] tokens... [SEP], truncated
// so the whole sequence fits maxTokens.
func (t *Tokenizer) Encode(text string, maxTokens int) []int64 {
	if maxTokens < 2 {
		maxTokens = 2
	}
	ids := t.Tokenize(text)
	if len(ids) > maxTokens-2 {
		ids = ids[:maxTokens-2]
	}

	seq := make([]int64, 0, len(ids)+2)
	seq = append(seq, t.cls)
	seq = append(seq, ids...)
	seq = append(seq, t.sep)
	return seq
}

// basicTokenize lowercases, strips accents, and splits on whitespace with
// punctuation and CJK characters isolated as single-rune words.
func (t *Tokenizer) basicTokenize(text string) []string {
	lower := strings.ToLower(text)
	if stripped, _, err := transform.String(stripAccents, lower); err == nil {
		lower = stripped
	}

	var words []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	for _, r := range lower {
		switch {
		case unicode.IsSpace(r):
			flush()
		case r == 0 || r == unicode.ReplacementChar || unicode.IsControl(r):
			// drop
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || isCJK(r):
			flush()
			words = append(words, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return words
}

// wordPiece runs greedy longest-match-first subword lookup on a single word.
func (t *Tokenizer) wordPiece(word string) []int64 {
	if len(word) > maxWordChars {
		return []int64{t.unk}
	}
	if id, ok := t.vocab[word]; ok {
		return []int64{id}
	}

	runes := []rune(word)
	var pieces []int64
	start := 0
	for start < len(runes) {
		end := len(runes)
		var match int64 = -1
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				match = id
				break
			}
			end--
		}
		if match < 0 {
			// No subword of the remainder is in the vocabulary; the whole
			// word collapses to a single [UNK], matching BERT semantics.
			return []int64{t.unk}
		}
		pieces = append(pieces, match)
		start = end
	}
	return pieces
}

// isCJK reports whether r falls in the CJK unified ideograph blocks; these are
// tokenized one character at a time.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0xF900 && r <= 0xFAFF)
}
