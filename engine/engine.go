// Package engine loads YOLOv8 ONNX exports and serves them through a pool of
// single-threaded workers.
package engine

import (
	"fmt"
	"os"
	"strings"

	"FoodDetServer/config"
	iface "FoodDetServer/interface"
	"FoodDetServer/logger"

	"go.uber.org/zap"
)

// Params configures every detector a Backend builds.
type Params struct {
	Backend        string
	OnnxRuntimeLib string
	Workers        int
	InputSize      int
	Confidence     float32
	Iou            float32
}

// ParamsFromConfig maps the loaded configuration onto engine parameters.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Backend:        cfg.InferenceBackend,
		OnnxRuntimeLib: cfg.OnnxRuntimeLib,
		Workers:        cfg.WorkersNum,
		InputSize:      cfg.Model.InputSize,
		Confidence:     cfg.Model.Confidence,
		Iou:            cfg.Model.Iou,
	}
}

type detectorFactory func(weights string, p Params) (iface.Detector, error)

// Backend implements iface.Backend. Each LoadModel call returns a Pool with
// Workers detectors built from the same weights file.
type Backend struct {
	params  Params
	factory detectorFactory
}

func NewBackend(p Params) (*Backend, error) {
	if p.Workers <= 0 {
		p.Workers = 1
	}
	if p.InputSize <= 0 {
		return nil, fmt.Errorf("invalid input size %d", p.InputSize)
	}
	var factory detectorFactory
	switch strings.ToLower(p.Backend) {
	case "", config.BackendOpenCV:
		factory = func(weights string, p Params) (iface.Detector, error) { return newDNNDetector(weights, p) }
	case config.BackendOnnxRuntime:
		factory = func(weights string, p Params) (iface.Detector, error) { return newORTDetector(weights, p) }
	default:
		return nil, fmt.Errorf("unsupported backend: %s", p.Backend)
	}
	return &Backend{params: p, factory: factory}, nil
}

func (b *Backend) LoadModel(weights string) (iface.Detector, error) {
	info, err := os.Stat(weights)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", weights)
	}

	detectors := make([]iface.Detector, 0, b.params.Workers)
	for i := 0; i < b.params.Workers; i++ {
		d, err := b.factory(weights, b.params)
		if err != nil {
			for _, loaded := range detectors {
				loaded.Close()
			}
			return nil, fmt.Errorf("load %s: %w", weights, err)
		}
		detectors = append(detectors, d)
	}
	logger.Log().Info("model loaded",
		zap.String("weights", weights),
		zap.String("backend", b.params.Backend),
		zap.Int("workers", len(detectors)))
	pool, err := NewPool(detectors)
	if err != nil {
		return nil, err
	}
	return pool, nil
}
