package main

import (
	"context"
	"testing"
)

// scriptedModel is a Seq2SeqModel that emits a fixed token sequence: at
// step k it scores script[k] highest, regardless of input. Past the end
// of the script every token scores equally.
type scriptedModel struct {
	vocab  int
	script []int
}

func (m *scriptedModel) Encode(src []int, srcMask *Tensor) *Tensor {
	return NewTensor(len(src), 4)
}

func (m *scriptedModel) Decode(memory, srcMask *Tensor, tgt []int, tgtMask *Tensor) *Tensor {
	// Smuggle the prefix length through to Project via the row count.
	return NewTensor(len(tgt), 4)
}

func (m *scriptedModel) Project(dec *Tensor) *Tensor {
	n := dec.Shape()[0]
	logits := NewTensor(n, m.vocab)
	step := n - 1
	if step < len(m.script) {
		logits.Set(1.0, n-1, m.script[step])
	}
	return logits
}

func TestGreedyDecodeFollowsScript(t *testing.T) {
	eos := 3
	model := &scriptedModel{vocab: 10, script: []int{7, 5, eos}}

	ids, err := GreedyDecode(context.Background(), model, []int{2, 4, 3}, nil, 2, eos, 20)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	want := []int{2, 7, 5, eos}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
}

// TestGreedyDecodeImmediateEOS covers the degenerate model that always
// predicts EOS: the output is just [SOS, EOS].
func TestGreedyDecodeImmediateEOS(t *testing.T) {
	eos := 3
	model := &scriptedModel{vocab: 10, script: []int{eos, eos, eos}}

	ids, err := GreedyDecode(context.Background(), model, []int{2, 4, 3}, nil, 2, eos, 20)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ids) != 2 || ids[0] != 2 || ids[1] != eos {
		t.Fatalf("got %v, want [2 3]", ids)
	}
}

// TestGreedyDecodeMaxLen verifies the length cap when EOS never wins. An
// empty script leaves all tokens tied, and the lowest ID (0) wins ties,
// so EOS is never produced.
func TestGreedyDecodeMaxLen(t *testing.T) {
	model := &scriptedModel{vocab: 10}

	ids, err := GreedyDecode(context.Background(), model, []int{2, 4, 3}, nil, 2, 3, 5)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ids) != 5 {
		t.Fatalf("expected maxLen cap at 5 tokens, got %d", len(ids))
	}
	for _, id := range ids[1:] {
		if id != 0 {
			t.Fatalf("tie should resolve to lowest token ID, got %v", ids)
		}
	}
}

func TestGreedyDecodeCancel(t *testing.T) {
	model := &scriptedModel{vocab: 10}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := GreedyDecode(ctx, model, []int{2, 4, 3}, nil, 2, 3, 20); err == nil {
		t.Error("cancelled context should stop decoding with an error")
	}
}
