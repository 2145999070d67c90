package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strings"
)

// SentencePair is one raw bilingual example.
type SentencePair struct {
	Src string
	Tgt string
}

// EncodedExample is a sentence pair prepared for the model: fixed-length
// padded ID sequences, attention masks, and the teacher-forcing label.
//
// Layout for sequence length L:
//
//	EncoderInput = [SOS] src [EOS] PAD...   (length L)
//	DecoderInput = [SOS] tgt PAD...         (length L)
//	Label        = tgt [EOS] PAD...         (length L)
//
// DecoderInput and Label are the same token sequence offset by one
// position: the decoder sees SOS plus the target prefix, the label is the
// target shifted left ending in EOS.
type EncodedExample struct {
	EncoderInput []int
	DecoderInput []int
	Label        []int

	// EncoderMask marks non-PAD source positions (length-L vector).
	EncoderMask *Tensor
	// DecoderMask is the padding mask combined with the causal mask
	// (L×L), used for decoder self-attention.
	DecoderMask *Tensor

	// Original strings, kept for validation reporting.
	SrcText string
	TgtText string
}

// EncodePair converts one raw sentence pair into an EncodedExample.
//
// The source consumes two extra slots (SOS and EOS), the decoder input one
// (SOS). A pair whose token count does not fit within seqLen is an error:
// construction fails rather than truncating, since silently shortened
// sentences would corrupt training invisibly.
func EncodePair(srcTok, tgtTok *Tokenizer, pair SentencePair, seqLen int) (*EncodedExample, error) {
	srcIDs := srcTok.Encode(pair.Src)
	tgtIDs := tgtTok.Encode(pair.Tgt)

	encPad := seqLen - len(srcIDs) - 2
	decPad := seqLen - len(tgtIDs) - 1

	if encPad < 0 {
		return nil, fmt.Errorf("dataset: source sentence too long: %d tokens, max %d for seq_len %d: %q",
			len(srcIDs), seqLen-2, seqLen, pair.Src)
	}
	if decPad < 0 {
		return nil, fmt.Errorf("dataset: target sentence too long: %d tokens, max %d for seq_len %d: %q",
			len(tgtIDs), seqLen-1, seqLen, pair.Tgt)
	}

	pad := srcTok.PadID()

	encoderInput := make([]int, 0, seqLen)
	encoderInput = append(encoderInput, srcTok.SosID())
	encoderInput = append(encoderInput, srcIDs...)
	encoderInput = append(encoderInput, srcTok.EosID())
	for i := 0; i < encPad; i++ {
		encoderInput = append(encoderInput, pad)
	}

	tgtPad := tgtTok.PadID()

	decoderInput := make([]int, 0, seqLen)
	decoderInput = append(decoderInput, tgtTok.SosID())
	decoderInput = append(decoderInput, tgtIDs...)
	for i := 0; i < decPad; i++ {
		decoderInput = append(decoderInput, tgtPad)
	}

	label := make([]int, 0, seqLen)
	label = append(label, tgtIDs...)
	label = append(label, tgtTok.EosID())
	for i := 0; i < decPad; i++ {
		label = append(label, tgtPad)
	}

	encoderMask := PaddingMask(encoderInput, pad)
	decoderMask := CombineMasks(CausalMask(seqLen), PaddingMask(decoderInput, tgtPad))

	return &EncodedExample{
		EncoderInput: encoderInput,
		DecoderInput: decoderInput,
		Label:        label,
		EncoderMask:  encoderMask,
		DecoderMask:  decoderMask,
		SrcText:      pair.Src,
		TgtText:      pair.Tgt,
	}, nil
}

// Batch is a group of encoded examples processed between optimizer steps.
// Validation batches always hold exactly one example.
type Batch []*EncodedExample

// LoadSentencePairs reads a tab-separated bilingual corpus: one pair per
// line, source and target separated by a single tab. Blank lines are
// skipped; a line without a tab is an error.
func LoadSentencePairs(path string) ([]SentencePair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: failed to open corpus %s: %w", path, err)
	}
	defer f.Close()

	var pairs []SentencePair
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		src, tgt, found := strings.Cut(line, "\t")
		if !found {
			return nil, fmt.Errorf("dataset: %s:%d: expected 'source<TAB>target', got %q", path, lineNo, line)
		}
		pairs = append(pairs, SentencePair{Src: src, Tgt: tgt})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dataset: error reading %s: %w", path, err)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("dataset: corpus %s contains no sentence pairs", path)
	}

	return pairs, nil
}

// SplitPairs shuffles the corpus with the given seed and splits it 90/10
// into training and validation sets.
func SplitPairs(pairs []SentencePair, seed int64) (train, val []SentencePair) {
	shuffled := make([]SentencePair, len(pairs))
	copy(shuffled, pairs)

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	trainSize := int(0.9 * float64(len(shuffled)))
	if trainSize == len(shuffled) && trainSize > 0 {
		trainSize--
	}
	return shuffled[:trainSize], shuffled[trainSize:]
}

// EncodePairs encodes a set of sentence pairs. Any invalid pair aborts the
// whole construction: dropping examples would bias training invisibly.
func EncodePairs(srcTok, tgtTok *Tokenizer, pairs []SentencePair, seqLen int) ([]*EncodedExample, error) {
	examples := make([]*EncodedExample, 0, len(pairs))
	for i, p := range pairs {
		ex, err := EncodePair(srcTok, tgtTok, p, seqLen)
		if err != nil {
			return nil, fmt.Errorf("dataset: pair %d: %w", i, err)
		}
		examples = append(examples, ex)
	}
	return examples, nil
}

// MakeBatches groups examples into batches of at most batchSize.
func MakeBatches(examples []*EncodedExample, batchSize int) []Batch {
	if batchSize < 1 {
		panic("dataset: batch size must be >= 1")
	}

	batches := make([]Batch, 0, (len(examples)+batchSize-1)/batchSize)
	for i := 0; i < len(examples); i += batchSize {
		end := i + batchSize
		if end > len(examples) {
			end = len(examples)
		}
		batches = append(batches, Batch(examples[i:end]))
	}
	return batches
}

// MaxTokenLengths scans the raw corpus and reports the longest tokenized
// source and target sentences, useful for picking a sequence length.
func MaxTokenLengths(srcTok, tgtTok *Tokenizer, pairs []SentencePair) (maxSrc, maxTgt int) {
	for _, p := range pairs {
		if n := len(srcTok.Encode(p.Src)); n > maxSrc {
			maxSrc = n
		}
		if n := len(tgtTok.Encode(p.Tgt)); n > maxTgt {
			maxTgt = n
		}
	}
	return maxSrc, maxTgt
}
