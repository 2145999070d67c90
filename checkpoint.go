package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ===========================================================================
// Checkpoint format
// ===========================================================================
//
// A checkpoint restores training exactly where it stopped, so it carries
// more than the weights:
//
//   [4 bytes]  header length (uint32, little-endian)
//   [N bytes]  JSON header: epoch, global step, model architecture
//   [...]      model parameters: raw float64 data, little-endian, in
//              Parameters() order (shapes come from the architecture)
//   [8 bytes]  optimizer step count (uint64)
//   [...]      optimizer first and second moments, same order as parameters
//
// The architecture lives in the header, so loading needs no config file
// and a mismatched config cannot silently reinterpret the weights.
// ===========================================================================

type checkpointHeader struct {
	Epoch      int    `json:"epoch"`
	GlobalStep int    `json:"global_step"`
	Model      Config `json:"model"`
}

// LatestWeightsFilePath returns the checkpoint with the greatest epoch
// number in the weights folder, or "" when none exists yet.
func LatestWeightsFilePath(cfg TrainConfig) string {
	entries, err := os.ReadDir(cfg.WeightsFolder())
	if err != nil {
		return ""
	}

	best := ""
	bestEpoch := -1
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, cfg.ModelBasename) || !strings.HasSuffix(name, ".pt") {
			continue
		}
		numPart := strings.TrimSuffix(strings.TrimPrefix(name, cfg.ModelBasename), ".pt")
		epoch, err := strconv.Atoi(numPart)
		if err != nil {
			continue
		}
		if epoch > bestEpoch {
			bestEpoch = epoch
			best = filepath.Join(cfg.WeightsFolder(), name)
		}
	}
	return best
}

// SaveCheckpoint writes the model and optimizer state for one finished
// epoch.
func SaveCheckpoint(path string, epoch, globalStep int, model *Transformer, opt *AdamOptimizer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("checkpoint: failed to create directory for %s: %w", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	header, err := json.Marshal(checkpointHeader{
		Epoch:      epoch,
		GlobalStep: globalStep,
		Model:      model.Config,
	})
	if err != nil {
		return fmt.Errorf("checkpoint: failed to encode header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(header))); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	for _, p := range model.Parameters() {
		if err := binary.Write(w, binary.LittleEndian, p.data); err != nil {
			return fmt.Errorf("checkpoint: failed to write parameters: %w", err)
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(opt.t)); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	for _, m := range opt.m {
		if err := binary.Write(w, binary.LittleEndian, m.data); err != nil {
			return fmt.Errorf("checkpoint: failed to write optimizer state: %w", err)
		}
	}
	for _, v := range opt.v {
		if err := binary.Write(w, binary.LittleEndian, v.data); err != nil {
			return fmt.Errorf("checkpoint: failed to write optimizer state: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("checkpoint: failed to flush %s: %w", path, err)
	}
	return nil
}

// LoadCheckpoint rebuilds the model and optimizer from a checkpoint file.
// The learning rate is a config value, not training state, so the caller
// provides it.
func LoadCheckpoint(path string, learningRate float64) (model *Transformer, opt *AdamOptimizer, epoch, globalStep int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, 0, 0, fmt.Errorf("checkpoint: failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var headerLen uint32
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, nil, 0, 0, fmt.Errorf("checkpoint: failed to read header length from %s: %w", path, err)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, nil, 0, 0, fmt.Errorf("checkpoint: failed to read header from %s: %w", path, err)
	}

	var header checkpointHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, 0, 0, fmt.Errorf("checkpoint: corrupt header in %s: %w", path, err)
	}
	if err := header.Model.Validate(); err != nil {
		return nil, nil, 0, 0, fmt.Errorf("checkpoint: invalid architecture in %s: %w", path, err)
	}

	model = NewTransformer(header.Model)
	for _, p := range model.Parameters() {
		if err := binary.Read(r, binary.LittleEndian, p.data); err != nil {
			return nil, nil, 0, 0, fmt.Errorf("checkpoint: truncated parameters in %s: %w", path, err)
		}
	}

	opt = NewAdamOptimizer(model.Parameters(), learningRate)

	var steps uint64
	if err := binary.Read(r, binary.LittleEndian, &steps); err != nil {
		return nil, nil, 0, 0, fmt.Errorf("checkpoint: truncated optimizer state in %s: %w", path, err)
	}
	opt.t = int(steps)

	for _, m := range opt.m {
		if err := binary.Read(r, binary.LittleEndian, m.data); err != nil {
			return nil, nil, 0, 0, fmt.Errorf("checkpoint: truncated optimizer state in %s: %w", path, err)
		}
	}
	for _, v := range opt.v {
		if err := binary.Read(r, binary.LittleEndian, v.data); err != nil {
			return nil, nil, 0, 0, fmt.Errorf("checkpoint: truncated optimizer state in %s: %w", path, err)
		}
	}

	return model, opt, header.Epoch, header.GlobalStep, nil
}
