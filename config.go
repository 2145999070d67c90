package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// TrainConfig holds every knob for a training run. It mirrors the JSON
// config file, so a run is reproducible from the file alone.
type TrainConfig struct {
	// Data
	Datasource string `json:"datasource"` // directory holding the corpus and run outputs
	LangSrc    string `json:"lang_src"`   // source language code, e.g. "en"
	LangTgt    string `json:"lang_tgt"`   // target language code, e.g. "it"
	SeqLen     int    `json:"seq_len"`    // fixed sequence length
	MinFreq    int    `json:"min_frequency"`

	// Model
	EmbedDim  int `json:"d_model"`
	NumHeads  int `json:"num_heads"`
	NumLayers int `json:"num_layers"`
	FFHidden  int `json:"d_ff"`

	// Optimization
	BatchSize    int     `json:"batch_size"`
	NumEpochs    int     `json:"num_epochs"`
	LearningRate float64 `json:"lr"`
	Seed         int64   `json:"seed"`

	// Checkpointing
	ModelFolder   string `json:"model_folder"`
	ModelBasename string `json:"model_basename"`
	Preload       string `json:"preload"` // "", "latest", or an epoch number as text

	// Tokenizers: file pattern with one %s for the language code.
	TokenizerFile string `json:"tokenizer_file"`

	// Logging
	ExperimentName string `json:"experiment_name"`

	// Validation
	NumExamples int `json:"num_examples"` // sample translations printed per validation run
}

// DefaultTrainConfig mirrors a typical small bilingual setup.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Datasource:     "opus_books",
		LangSrc:        "en",
		LangTgt:        "it",
		SeqLen:         350,
		MinFreq:        2,
		EmbedDim:       512,
		NumHeads:       8,
		NumLayers:      6,
		FFHidden:       2048,
		BatchSize:      8,
		NumEpochs:      20,
		LearningRate:   1e-4,
		Seed:           42,
		ModelFolder:    "weights",
		ModelBasename:  "tmodel_",
		Preload:        "latest",
		TokenizerFile:  "tokenizer_%s.json",
		ExperimentName: "runs/tmodel",
		NumExamples:    2,
	}
}

// LoadTrainConfig reads a config file on top of the defaults, so a file
// only needs to name the fields it changes.
func LoadTrainConfig(path string) (TrainConfig, error) {
	cfg := DefaultTrainConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that would fail later in confusing ways.
func (c TrainConfig) Validate() error {
	if c.Datasource == "" || c.LangSrc == "" || c.LangTgt == "" {
		return fmt.Errorf("config: datasource, lang_src and lang_tgt are required")
	}
	if c.LangSrc == c.LangTgt {
		return fmt.Errorf("config: lang_src and lang_tgt must differ, both are %q", c.LangSrc)
	}
	if c.SeqLen < 2 {
		return fmt.Errorf("config: seq_len must be at least 2, got %d", c.SeqLen)
	}
	if c.MinFreq < 1 {
		return fmt.Errorf("config: min_frequency must be at least 1, got %d", c.MinFreq)
	}
	if c.EmbedDim < 1 || c.NumHeads < 1 || c.NumLayers < 1 || c.FFHidden < 1 {
		return fmt.Errorf("config: model dimensions must be positive")
	}
	if c.EmbedDim%c.NumHeads != 0 {
		return fmt.Errorf("config: d_model %d not divisible by num_heads %d", c.EmbedDim, c.NumHeads)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be at least 1, got %d", c.BatchSize)
	}
	if c.NumEpochs < 1 {
		return fmt.Errorf("config: num_epochs must be at least 1, got %d", c.NumEpochs)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("config: lr must be positive, got %g", c.LearningRate)
	}
	if c.NumExamples < 1 {
		return fmt.Errorf("config: num_examples must be at least 1, got %d", c.NumExamples)
	}
	return nil
}

// ModelConfig derives the architecture configuration once the vocabulary
// sizes are known.
func (c TrainConfig) ModelConfig(srcVocab, tgtVocab int) Config {
	return Config{
		SrcVocabSize: srcVocab,
		TgtVocabSize: tgtVocab,
		SeqLen:       c.SeqLen,
		EmbedDim:     c.EmbedDim,
		NumHeads:     c.NumHeads,
		NumLayers:    c.NumLayers,
		FFHidden:     c.FFHidden,
	}
}

// CorpusFile is the path of the tab-separated bilingual corpus.
func (c TrainConfig) CorpusFile() string {
	return filepath.Join(c.Datasource, fmt.Sprintf("%s-%s.tsv", c.LangSrc, c.LangTgt))
}

// TokenizerPath is the tokenizer file for one language.
func (c TrainConfig) TokenizerPath(lang string) string {
	return filepath.Join(c.Datasource, fmt.Sprintf(c.TokenizerFile, lang))
}

// WeightsFolder is the directory checkpoints are written to.
func (c TrainConfig) WeightsFolder() string {
	return fmt.Sprintf("%s_%s", c.Datasource, c.ModelFolder)
}

// WeightsFilePath is the checkpoint file for one epoch.
func (c TrainConfig) WeightsFilePath(epoch int) string {
	return filepath.Join(c.WeightsFolder(), fmt.Sprintf("%s%02d.pt", c.ModelBasename, epoch))
}
