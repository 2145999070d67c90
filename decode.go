package main

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// GreedyDecode generates a translation one token at a time, always taking
// the highest-scoring token. The encoder runs once; each step re-runs the
// decoder over the grown prefix against the cached memory.
//
// The returned IDs include the leading SOS. Generation stops at EOS or
// after maxLen tokens, whichever comes first. ctx is checked before every
// step, so a long generation can be cancelled mid-sentence.
func GreedyDecode(ctx context.Context, model Seq2SeqModel, srcIDs []int, srcMask *Tensor, sosID, eosID, maxLen int) ([]int, error) {
	memory := model.Encode(srcIDs, srcMask)

	out := make([]int, 1, maxLen)
	out[0] = sosID

	for len(out) < maxLen {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}

		tgtMask := CausalMask(len(out))
		dec := model.Decode(memory, srcMask, out, tgtMask)
		logits := model.Project(dec)

		// Next token comes from the scores at the last position. On a
		// tie the lowest token ID wins.
		next := floats.MaxIdx(logits.Row(logits.shape[0] - 1))
		out = append(out, next)

		if next == eosID {
			break
		}
	}

	return out, nil
}
