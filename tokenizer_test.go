package main

import (
	"path/filepath"
	"testing"
)

func TestTokenizerSpecials(t *testing.T) {
	tok := NewTokenizer()
	if err := tok.Train([]string{"hello world"}, 1); err != nil {
		t.Fatalf("training failed: %v", err)
	}

	// Special tokens occupy the first four IDs, in a fixed order.
	if tok.UnkID() != 0 || tok.PadID() != 1 || tok.SosID() != 2 || tok.EosID() != 3 {
		t.Errorf("special IDs = %d/%d/%d/%d, want 0/1/2/3",
			tok.UnkID(), tok.PadID(), tok.SosID(), tok.EosID())
	}
	if tok.VocabSize() != 6 {
		t.Errorf("vocab size = %d, want 6 (4 specials + hello + world)", tok.VocabSize())
	}
}

func TestTokenizerRoundTrip(t *testing.T) {
	tok := NewTokenizer()
	corpus := []string{
		"the cat sat on the mat",
		"the dog sat on the rug",
	}
	if err := tok.Train(corpus, 1); err != nil {
		t.Fatalf("training failed: %v", err)
	}

	text := "the cat sat"
	ids := tok.Encode(text)
	if len(ids) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(ids))
	}
	if decoded := tok.Decode(ids); decoded != text {
		t.Errorf("roundtrip: expected %q, got %q", text, decoded)
	}
}

func TestTokenizerUnknownWords(t *testing.T) {
	tok := NewTokenizer()
	if err := tok.Train([]string{"the cat"}, 1); err != nil {
		t.Fatalf("training failed: %v", err)
	}

	ids := tok.Encode("the zebra")
	if ids[0] == tok.UnkID() {
		t.Error("known word encoded as UNK")
	}
	if ids[1] != tok.UnkID() {
		t.Errorf("unknown word should be UNK %d, got %d", tok.UnkID(), ids[1])
	}
}

func TestTokenizerMinFrequency(t *testing.T) {
	tok := NewTokenizer()
	corpus := []string{
		"common common common",
		"common rare",
	}
	if err := tok.Train(corpus, 2); err != nil {
		t.Fatalf("training failed: %v", err)
	}

	if _, ok := tok.TokenToID("common"); !ok {
		t.Error("frequent word missing from vocabulary")
	}
	if _, ok := tok.TokenToID("rare"); ok {
		t.Error("word below min frequency should be dropped")
	}
}

func TestTokenizerDecodeSkipsSpecials(t *testing.T) {
	tok := NewTokenizer()
	if err := tok.Train([]string{"hello world"}, 1); err != nil {
		t.Fatalf("training failed: %v", err)
	}

	helloID := tok.Encode("hello")[0]
	ids := []int{tok.SosID(), helloID, tok.EosID(), tok.PadID(), tok.PadID()}
	if decoded := tok.Decode(ids); decoded != "hello" {
		t.Errorf("expected %q, got %q", "hello", decoded)
	}
}

func TestTokenizerSaveLoad(t *testing.T) {
	tok := NewTokenizer()
	corpus := []string{"the quick brown fox", "the lazy dog"}
	if err := tok.Train(corpus, 1); err != nil {
		t.Fatalf("training failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "tokenizer_en.json")
	if err := tok.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadTokenizer(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if loaded.VocabSize() != tok.VocabSize() {
		t.Errorf("vocab size changed: %d vs %d", loaded.VocabSize(), tok.VocabSize())
	}
	text := "the quick dog"
	origIDs := tok.Encode(text)
	loadedIDs := loaded.Encode(text)
	for i := range origIDs {
		if origIDs[i] != loadedIDs[i] {
			t.Fatalf("encoding changed after reload at %d: %d vs %d", i, origIDs[i], loadedIDs[i])
		}
	}
}

func TestGetOrBuildTokenizer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenizer_en.json")
	corpus := []string{"one two three"}

	// First call trains and saves.
	tok1, err := GetOrBuildTokenizer(path, corpus, 1)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	// Second call must load the saved file, even with a different corpus.
	tok2, err := GetOrBuildTokenizer(path, []string{"totally different words"}, 1)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if tok2.VocabSize() != tok1.VocabSize() {
		t.Errorf("expected cached tokenizer, got a retrained one")
	}
	if _, ok := tok2.TokenToID("totally"); ok {
		t.Error("cached tokenizer should not contain new corpus words")
	}
}
