package main

import (
	"context"
	"strings"
	"testing"
)

func validationFixtures(t *testing.T, n int) ([]Batch, *Tokenizer, *Tokenizer) {
	t.Helper()
	srcTok, tgtTok := testTokenizers(t)

	examples := make([]*EncodedExample, n)
	for i := range examples {
		ex, err := EncodePair(srcTok, tgtTok, SentencePair{Src: "the cat", Tgt: "le chat"}, 10)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		examples[i] = ex
	}
	return MakeBatches(examples, 1), srcTok, tgtTok
}

func TestRunValidationStopsAtNumExamples(t *testing.T) {
	batches, srcTok, tgtTok := validationFixtures(t, 5)
	model := &scriptedModel{vocab: tgtTok.VocabSize(), script: []int{tgtTok.EosID()}}

	var lines []string
	printMsg := func(s string) { lines = append(lines, s) }

	err := RunValidation(context.Background(), model, batches, srcTok, tgtTok, 10, 2, printMsg)
	if err != nil {
		t.Fatalf("validation: %v", err)
	}

	// Four lines per example: rule, source, target, predicted.
	if len(lines) != 8 {
		t.Fatalf("got %d lines, want 8 for 2 examples", len(lines))
	}

	var sources, targets, predictions int
	for _, line := range lines {
		switch {
		case strings.Contains(line, "SOURCE:"):
			sources++
		case strings.Contains(line, "TARGET:"):
			targets++
		case strings.Contains(line, "PREDICTED:"):
			predictions++
		}
	}
	if sources != 2 || targets != 2 || predictions != 2 {
		t.Errorf("printed %d/%d/%d source/target/predicted lines, want 2 each", sources, targets, predictions)
	}
}

func TestRunValidationRejectsLargeBatches(t *testing.T) {
	_, srcTok, tgtTok := validationFixtures(t, 1)
	ex, err := EncodePair(srcTok, tgtTok, SentencePair{Src: "the cat", Tgt: "le chat"}, 10)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	batches := []Batch{{ex, ex}}

	model := &scriptedModel{vocab: tgtTok.VocabSize(), script: []int{tgtTok.EosID()}}
	err = RunValidation(context.Background(), model, batches, srcTok, tgtTok, 10, 2, func(string) {})
	if err == nil {
		t.Error("batch of 2 should be rejected")
	}
}

func TestRunValidationFewerBatchesThanExamples(t *testing.T) {
	batches, srcTok, tgtTok := validationFixtures(t, 1)
	model := &scriptedModel{vocab: tgtTok.VocabSize(), script: []int{tgtTok.EosID()}}

	var lines []string
	err := RunValidation(context.Background(), model, batches, srcTok, tgtTok, 10, 5,
		func(s string) { lines = append(lines, s) })
	if err != nil {
		t.Fatalf("validation: %v", err)
	}
	if len(lines) != 4 {
		t.Errorf("got %d lines, want 4 for the single available example", len(lines))
	}
}
