package main

import (
	"context"
	"flag"
	"fmt"
)

// RunTrainCommand implements the training CLI.
//
// It reads the run configuration from a JSON file, with a few flags to
// override the values most often changed between runs. The heavy lifting
// lives in TrainModel; this function only wires configuration to it.
func RunTrainCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to JSON config (defaults apply when empty)")
	epochs := fs.Int("epochs", 0, "Override num_epochs from the config")
	batchSize := fs.Int("batch", 0, "Override batch_size from the config")
	lr := fs.Float64("lr", 0, "Override lr from the config")
	preload := fs.String("preload", "unset", "Override preload: \"\", \"latest\", or an epoch number")

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
	if *epochs > 0 {
		cfg.NumEpochs = *epochs
	}
	if *batchSize > 0 {
		cfg.BatchSize = *batchSize
	}
	if *lr > 0 {
		cfg.LearningRate = *lr
	}
	if *preload != "unset" {
		cfg.Preload = *preload
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	fmt.Printf("Training %s -> %s on %s\n", cfg.LangSrc, cfg.LangTgt, cfg.CorpusFile())
	fmt.Printf("Model: %d layers, %d embed dim, %d heads, seq len %d\n",
		cfg.NumLayers, cfg.EmbedDim, cfg.NumHeads, cfg.SeqLen)
	fmt.Printf("Training: %d epochs, batch size %d, lr %g\n", cfg.NumEpochs, cfg.BatchSize, cfg.LearningRate)
	fmt.Println()

	return TrainModel(ctx, cfg)
}
