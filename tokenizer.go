package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Special token surface forms. Their IDs are fixed by construction order:
// UNK=0, PAD=1, SOS=2, EOS=3.
const (
	UnkToken = "[UNK]"
	PadToken = "[PAD]"
	SosToken = "[SOS]"
	EosToken = "[EOS]"
)

var specialTokens = []string{UnkToken, PadToken, SosToken, EosToken}

// Tokenizer is a word-level tokenizer with a persisted vocabulary.
//
// Words are split on whitespace. Vocabulary construction keeps words whose
// corpus frequency meets a minimum threshold; everything else encodes to
// UNK. One tokenizer is built per language.
type Tokenizer struct {
	vocab    map[string]int
	vocabInv map[int]string
}

// NewTokenizer creates a tokenizer containing only the special tokens.
func NewTokenizer() *Tokenizer {
	t := &Tokenizer{
		vocab:    make(map[string]int),
		vocabInv: make(map[int]string),
	}
	for _, tok := range specialTokens {
		id := len(t.vocab)
		t.vocab[tok] = id
		t.vocabInv[id] = tok
	}
	return t
}

// Train builds the vocabulary from a corpus of sentences. Words occurring
// fewer than minFrequency times are left out and will encode to UNK.
// IDs are assigned in sorted word order so training is deterministic for a
// given corpus.
func (t *Tokenizer) Train(sentences []string, minFrequency int) error {
	if minFrequency < 1 {
		return fmt.Errorf("tokenizer: min frequency must be >= 1, got %d", minFrequency)
	}

	freq := make(map[string]int)
	for _, s := range sentences {
		for _, w := range strings.Fields(s) {
			freq[w]++
		}
	}

	words := make([]string, 0, len(freq))
	for w, n := range freq {
		if n >= minFrequency {
			words = append(words, w)
		}
	}
	sort.Strings(words)

	for _, w := range words {
		if _, exists := t.vocab[w]; exists {
			continue
		}
		id := len(t.vocab)
		t.vocab[w] = id
		t.vocabInv[id] = w
	}

	return nil
}

// Encode converts text to token IDs. Out-of-vocabulary words map to UNK.
func (t *Tokenizer) Encode(text string) []int {
	words := strings.Fields(text)
	ids := make([]int, 0, len(words))
	for _, w := range words {
		if id, ok := t.vocab[w]; ok {
			ids = append(ids, id)
		} else {
			ids = append(ids, t.UnkID())
		}
	}
	return ids
}

// Decode converts token IDs back to text, joining words with single spaces.
// Special tokens are skipped, so decoding tolerates sequences with or
// without a trailing EOS and with PAD suffixes.
func (t *Tokenizer) Decode(ids []int) string {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		w, ok := t.vocabInv[id]
		if !ok || t.isSpecial(w) {
			continue
		}
		words = append(words, w)
	}
	return strings.Join(words, " ")
}

func (t *Tokenizer) isSpecial(token string) bool {
	switch token {
	case UnkToken, PadToken, SosToken, EosToken:
		return true
	}
	return false
}

// VocabSize returns the vocabulary size including special tokens.
func (t *Tokenizer) VocabSize() int {
	return len(t.vocab)
}

// TokenToID returns the ID for a token and whether it exists.
func (t *Tokenizer) TokenToID(token string) (int, bool) {
	id, ok := t.vocab[token]
	return id, ok
}

// UnkID returns the unknown-word token ID.
func (t *Tokenizer) UnkID() int { return t.vocab[UnkToken] }

// PadID returns the padding token ID.
func (t *Tokenizer) PadID() int { return t.vocab[PadToken] }

// SosID returns the start-of-sequence token ID.
func (t *Tokenizer) SosID() int { return t.vocab[SosToken] }

// EosID returns the end-of-sequence token ID.
func (t *Tokenizer) EosID() int { return t.vocab[EosToken] }

// tokenizerFile is the on-disk JSON layout.
type tokenizerFile struct {
	Model string         `json:"model"`
	Vocab map[string]int `json:"vocab"`
}

// Save writes the vocabulary to a JSON file.
func (t *Tokenizer) Save(path string) error {
	data, err := json.MarshalIndent(tokenizerFile{Model: "wordlevel", Vocab: t.vocab}, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenizer: failed to marshal vocab: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("tokenizer: failed to write %s: %w", path, err)
	}
	return nil
}

// LoadTokenizer reads a vocabulary from a JSON file written by Save.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: failed to read %s: %w", path, err)
	}

	var f tokenizerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("tokenizer: failed to parse %s: %w", path, err)
	}
	if f.Model != "wordlevel" {
		return nil, fmt.Errorf("tokenizer: unsupported model %q in %s", f.Model, path)
	}

	t := &Tokenizer{
		vocab:    f.Vocab,
		vocabInv: make(map[int]string, len(f.Vocab)),
	}
	for w, id := range f.Vocab {
		t.vocabInv[id] = w
	}

	for _, tok := range specialTokens {
		if _, ok := t.vocab[tok]; !ok {
			return nil, fmt.Errorf("tokenizer: %s missing special token %s", path, tok)
		}
	}

	return t, nil
}

// GetOrBuildTokenizer loads the tokenizer for a language if its file exists,
// otherwise trains one from the given sentences and persists it.
func GetOrBuildTokenizer(path string, sentences []string, minFrequency int) (*Tokenizer, error) {
	if _, err := os.Stat(path); err == nil {
		return LoadTokenizer(path)
	}

	t := NewTokenizer()
	if err := t.Train(sentences, minFrequency); err != nil {
		return nil, err
	}
	if err := t.Save(path); err != nil {
		return nil, err
	}
	return t, nil
}
