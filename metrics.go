package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MetricWriter appends scalar metrics to a JSONL file under the
// experiment directory, one record per line:
//
//	{"tag":"train loss","value":6.1432,"step":1250}
//
// Append-only, so resumed runs continue the same file and the history of
// earlier epochs survives.
type MetricWriter struct {
	f *os.File
}

type metricRecord struct {
	Tag   string  `json:"tag"`
	Value float64 `json:"value"`
	Step  int     `json:"step"`
}

// NewMetricWriter opens (or creates) the scalar log for an experiment.
func NewMetricWriter(experimentName string) (*MetricWriter, error) {
	if err := os.MkdirAll(experimentName, 0o755); err != nil {
		return nil, fmt.Errorf("metrics: failed to create %s: %w", experimentName, err)
	}

	path := filepath.Join(experimentName, "scalars.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("metrics: failed to open %s: %w", path, err)
	}
	return &MetricWriter{f: f}, nil
}

// WriteScalar appends one tagged value at a global step.
func (w *MetricWriter) WriteScalar(tag string, value float64, step int) error {
	line, err := json.Marshal(metricRecord{Tag: tag, Value: value, Step: step})
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if _, err := w.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("metrics: failed to write scalar: %w", err)
	}
	return nil
}

// Close flushes and closes the log.
func (w *MetricWriter) Close() error {
	return w.f.Close()
}
