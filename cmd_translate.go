package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
)

// RunTranslateCommand implements the inference CLI: load the tokenizers
// and the newest checkpoint, then greedily decode one sentence.
//
// The sentence may also be a number, in which case that entry of the
// corpus is translated and its reference translation printed alongside.
func RunTranslateCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("translate", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to JSON config (defaults apply when empty)")
	sentence := fs.String("sentence", "", "Sentence to translate, or a corpus index")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sentence == "" {
		return fmt.Errorf("translate: -sentence is required")
	}

	cfg := DefaultTrainConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadTrainConfig(*configPath)
		if err != nil {
			return err
		}
	}

	srcTok, err := LoadTokenizer(cfg.TokenizerPath(cfg.LangSrc))
	if err != nil {
		return err
	}
	tgtTok, err := LoadTokenizer(cfg.TokenizerPath(cfg.LangTgt))
	if err != nil {
		return err
	}

	path := LatestWeightsFilePath(cfg)
	if path == "" {
		return fmt.Errorf("translate: no checkpoint found in %s, train a model first", cfg.WeightsFolder())
	}
	model, _, _, _, err := LoadCheckpoint(path, cfg.LearningRate)
	if err != nil {
		return err
	}

	text := *sentence
	reference := ""
	if idx, err := strconv.Atoi(text); err == nil {
		pairs, err := LoadSentencePairs(cfg.CorpusFile())
		if err != nil {
			return err
		}
		if idx < 0 || idx >= len(pairs) {
			return fmt.Errorf("translate: corpus index %d out of range [0, %d)", idx, len(pairs))
		}
		text = pairs[idx].Src
		reference = pairs[idx].Tgt
	}

	srcIDs := srcTok.Encode(text)
	if len(srcIDs)+2 > cfg.SeqLen {
		return fmt.Errorf("translate: sentence has %d tokens, max %d for seq_len %d",
			len(srcIDs), cfg.SeqLen-2, cfg.SeqLen)
	}

	encoderInput := make([]int, 0, len(srcIDs)+2)
	encoderInput = append(encoderInput, srcTok.SosID())
	encoderInput = append(encoderInput, srcIDs...)
	encoderInput = append(encoderInput, srcTok.EosID())
	srcMask := PaddingMask(encoderInput, srcTok.PadID())

	ids, err := GreedyDecode(ctx, model, encoderInput, srcMask,
		tgtTok.SosID(), tgtTok.EosID(), cfg.SeqLen)
	if err != nil {
		return err
	}

	fmt.Printf("%12s%s\n", "SOURCE: ", text)
	if reference != "" {
		fmt.Printf("%12s%s\n", "TARGET: ", reference)
	}
	fmt.Printf("%12s%s\n", "PREDICTED: ", tgtTok.Decode(ids))

	return nil
}
