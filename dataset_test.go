package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testTokenizers(t *testing.T) (src, tgt *Tokenizer) {
	t.Helper()

	src = NewTokenizer()
	if err := src.Train([]string{
		"the cat sat on the mat",
		"the dog sat on the rug",
		"a cat and a dog",
	}, 1); err != nil {
		t.Fatalf("train source tokenizer: %v", err)
	}

	tgt = NewTokenizer()
	if err := tgt.Train([]string{
		"le chat sur le tapis",
		"le chien sur le tapis",
		"un chat et un chien",
	}, 1); err != nil {
		t.Fatalf("train target tokenizer: %v", err)
	}
	return src, tgt
}

func TestEncodePairLayout(t *testing.T) {
	srcTok, tgtTok := testTokenizers(t)
	seqLen := 10

	pair := SentencePair{Src: "the cat sat", Tgt: "le chat"}
	ex, err := EncodePair(srcTok, tgtTok, pair, seqLen)
	if err != nil {
		t.Fatalf("EncodePair: %v", err)
	}

	if len(ex.EncoderInput) != seqLen || len(ex.DecoderInput) != seqLen || len(ex.Label) != seqLen {
		t.Fatalf("sequence lengths = %d/%d/%d, want all %d",
			len(ex.EncoderInput), len(ex.DecoderInput), len(ex.Label), seqLen)
	}

	// Encoder input: SOS, 3 tokens, EOS, then padding.
	if ex.EncoderInput[0] != srcTok.SosID() {
		t.Errorf("encoder input[0] = %d, want SOS %d", ex.EncoderInput[0], srcTok.SosID())
	}
	if ex.EncoderInput[4] != srcTok.EosID() {
		t.Errorf("encoder input[4] = %d, want EOS %d", ex.EncoderInput[4], srcTok.EosID())
	}
	for i := 5; i < seqLen; i++ {
		if ex.EncoderInput[i] != srcTok.PadID() {
			t.Errorf("encoder input[%d] = %d, want PAD %d", i, ex.EncoderInput[i], srcTok.PadID())
		}
	}

	// Decoder input starts with SOS and has no EOS.
	if ex.DecoderInput[0] != tgtTok.SosID() {
		t.Errorf("decoder input[0] = %d, want SOS %d", ex.DecoderInput[0], tgtTok.SosID())
	}
	for i, id := range ex.DecoderInput {
		if id == tgtTok.EosID() {
			t.Errorf("decoder input[%d] is EOS, want none", i)
		}
	}

	// Label is the target shifted: decoder_input[i+1] == label[i] until EOS.
	for i := 0; i < 2; i++ {
		if ex.DecoderInput[i+1] != ex.Label[i] {
			t.Errorf("label[%d] = %d, want decoder input[%d] = %d",
				i, ex.Label[i], i+1, ex.DecoderInput[i+1])
		}
	}
	if ex.Label[2] != tgtTok.EosID() {
		t.Errorf("label[2] = %d, want EOS %d", ex.Label[2], tgtTok.EosID())
	}
	for i := 3; i < seqLen; i++ {
		if ex.Label[i] != tgtTok.PadID() {
			t.Errorf("label[%d] = %d, want PAD %d", i, ex.Label[i], tgtTok.PadID())
		}
	}
}

func TestEncodePairMasks(t *testing.T) {
	srcTok, tgtTok := testTokenizers(t)
	seqLen := 8

	ex, err := EncodePair(srcTok, tgtTok, SentencePair{Src: "the cat", Tgt: "le chat"}, seqLen)
	if err != nil {
		t.Fatalf("EncodePair: %v", err)
	}

	// Encoder mask: SOS + 2 tokens + EOS visible, rest padded out.
	for j := 0; j < seqLen; j++ {
		want := 0.0
		if j < 4 {
			want = 1.0
		}
		if got := ex.EncoderMask.At(j); got != want {
			t.Errorf("encoder mask[%d] = %v, want %v", j, got, want)
		}
	}

	// Decoder mask: causal AND padding. Position 0 sees only itself;
	// no position sees a padded column.
	if got := ex.DecoderMask.At(0, 0); got != 1.0 {
		t.Errorf("decoder mask[0][0] = %v, want 1", got)
	}
	if got := ex.DecoderMask.At(0, 1); got != 0.0 {
		t.Errorf("decoder mask[0][1] = %v, want 0 (future)", got)
	}
	// Decoder input is SOS + 2 tokens: columns 3+ are PAD.
	for i := 0; i < seqLen; i++ {
		for j := 3; j < seqLen; j++ {
			if got := ex.DecoderMask.At(i, j); got != 0.0 {
				t.Errorf("decoder mask[%d][%d] = %v, want 0 (pad)", i, j, got)
			}
		}
	}
}

func TestEncodePairLengthBoundary(t *testing.T) {
	srcTok, tgtTok := testTokenizers(t)

	// 4 source tokens need seqLen >= 6 (SOS + EOS overhead).
	pair := SentencePair{Src: "the cat sat on", Tgt: "le chat"}
	if _, err := EncodePair(srcTok, tgtTok, pair, 6); err != nil {
		t.Errorf("source of seqLen-2 tokens should fit: %v", err)
	}
	if _, err := EncodePair(srcTok, tgtTok, pair, 5); err == nil {
		t.Error("source of seqLen-1 tokens should fail, got nil error")
	}

	// 5 target tokens need seqLen >= 6 (SOS overhead only).
	pair = SentencePair{Src: "the cat", Tgt: "le chat sur le tapis"}
	if _, err := EncodePair(srcTok, tgtTok, pair, 6); err != nil {
		t.Errorf("target of seqLen-1 tokens should fit: %v", err)
	}
	if _, err := EncodePair(srcTok, tgtTok, pair, 5); err == nil {
		t.Error("target of seqLen tokens should fail, got nil error")
	}
}

func TestLoadSentencePairs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "en-fr.tsv")
	content := "the cat\tle chat\n\nthe dog\tle chien\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	pairs, err := LoadSentencePairs(path)
	if err != nil {
		t.Fatalf("LoadSentencePairs: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2", len(pairs))
	}
	if pairs[0].Src != "the cat" || pairs[0].Tgt != "le chat" {
		t.Errorf("pair 0 = %+v", pairs[0])
	}

	// A line without a tab is malformed.
	bad := filepath.Join(dir, "bad.tsv")
	if err := os.WriteFile(bad, []byte("no separator here\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSentencePairs(bad); err == nil {
		t.Error("malformed line should fail, got nil error")
	}
}

func TestSplitPairs(t *testing.T) {
	pairs := make([]SentencePair, 100)
	for i := range pairs {
		pairs[i] = SentencePair{Src: strings.Repeat("a", i+1), Tgt: "b"}
	}

	train, val := SplitPairs(pairs, 42)
	if len(train) != 90 || len(val) != 10 {
		t.Fatalf("split = %d/%d, want 90/10", len(train), len(val))
	}

	// Same seed gives the same split.
	train2, val2 := SplitPairs(pairs, 42)
	for i := range train {
		if train[i] != train2[i] {
			t.Fatalf("split not deterministic at train[%d]", i)
		}
	}
	for i := range val {
		if val[i] != val2[i] {
			t.Fatalf("split not deterministic at val[%d]", i)
		}
	}

	// No example lands in both sets.
	seen := make(map[string]bool)
	for _, p := range train {
		seen[p.Src] = true
	}
	for _, p := range val {
		if seen[p.Src] {
			t.Errorf("example %q appears in both splits", p.Src)
		}
	}
}

func TestMakeBatches(t *testing.T) {
	examples := make([]*EncodedExample, 7)
	for i := range examples {
		examples[i] = &EncodedExample{}
	}

	batches := MakeBatches(examples, 3)
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	if len(batches[0]) != 3 || len(batches[1]) != 3 || len(batches[2]) != 1 {
		t.Errorf("batch sizes = %d/%d/%d, want 3/3/1",
			len(batches[0]), len(batches[1]), len(batches[2]))
	}
}
