package main

import (
	"context"
	"flag"
	"fmt"
)

// RunValidateCommand prints sample translations from the held-out split
// using the newest checkpoint. The same split as training, so the model
// has never seen these pairs.
func RunValidateCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to JSON config (defaults apply when empty)")
	examples := fs.Int("examples", 0, "Override num_examples from the config")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := DefaultTrainConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadTrainConfig(*configPath)
		if err != nil {
			return err
		}
	}
	if *examples > 0 {
		cfg.NumExamples = *examples
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
		return fmt.Errorf("validate: no checkpoint found in %s, train a model first", cfg.WeightsFolder())
	}
	model, _, epoch, _, err := LoadCheckpoint(path, cfg.LearningRate)
	if err != nil {
		return err
	}
	fmt.Printf("Validating checkpoint from epoch %02d\n", epoch)

	pairs, err := LoadSentencePairs(cfg.CorpusFile())
	if err != nil {
		return err
	}
	_, valPairs := SplitPairs(pairs, cfg.Seed)

	valExamples, err := EncodePairs(srcTok, tgtTok, valPairs, cfg.SeqLen)
	if err != nil {
		return err
	}
	valBatches := MakeBatches(valExamples, 1)

	printMsg := func(s string) { fmt.Println(s) }
	return RunValidation(ctx, model, valBatches, srcTok, tgtTok,
		cfg.SeqLen, cfg.NumExamples, printMsg)
}
