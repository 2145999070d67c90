package main

import (
	"context"
	"fmt"
	"strings"
)

// RunValidation translates a handful of held-out sentences with greedy
// decoding and prints them next to the references. It is a qualitative
// spot check between epochs, not a scored evaluation.
//
// Validation batches must hold exactly one example each: decoding is
// per-sentence, and a larger batch would silently skip its other members.
func RunValidation(ctx context.Context, model Seq2SeqModel, valBatches []Batch,
	srcTok, tgtTok *Tokenizer, maxLen, numExamples int, printMsg func(string)) error {

	count := 0
	for _, batch := range valBatches {
		if len(batch) != 1 {
			return fmt.Errorf("validate: batch size must be 1, got %d", len(batch))
		}
		ex := batch[0]
		count++

		ids, err := GreedyDecode(ctx, model, ex.EncoderInput, ex.EncoderMask,
			tgtTok.SosID(), tgtTok.EosID(), maxLen)
		if err != nil {
			return err
		}
		predicted := tgtTok.Decode(ids)

		printMsg(strings.Repeat("-", 80))
		printMsg(fmt.Sprintf("%12s%s", "SOURCE: ", ex.SrcText))
		printMsg(fmt.Sprintf("%12s%s", "TARGET: ", ex.TgtText))
		printMsg(fmt.Sprintf("%12s%s", "PREDICTED: ", predicted))

		if count == numExamples {
			break
		}
	}

	return nil
}
