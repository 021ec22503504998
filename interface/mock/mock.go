// Package mock provides in-memory detectors for tests.
package mock

import (
	"sync"
	"sync/atomic"

	iface "FoodDetServer/interface"

	"gocv.io/x/gocv"
)

// Detector returns fixed results, or Err when set.
type Detector struct {
	Results []iface.RawResult
	Err     error
	// Panic makes Infer panic with this value.
	Panic any

	calls  atomic.Int64
	closed atomic.Bool
}

func (d *Detector) Infer(gocv.Mat) ([]iface.RawResult, error) {
	d.calls.Add(1)
	if d.Panic != nil {
		panic(d.Panic)
	}
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Results, nil
}

func (d *Detector) Close() { d.closed.Store(true) }

func (d *Detector) Calls() int64 { return d.calls.Load() }

func (d *Detector) Closed() bool { return d.closed.Load() }

// Backend hands out Detector for every weights path listed in Models.
type Backend struct {
	Models map[string]*Detector

	mu     sync.Mutex
	loaded []string
}

func (b *Backend) LoadModel(weights string) (iface.Detector, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loaded = append(b.loaded, weights)
	d, ok := b.Models[weights]
	if !ok {
		return nil, &NotFoundError{Weights: weights}
	}
	return d, nil
}

func (b *Backend) Loaded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.loaded...)
}

type NotFoundError struct{ Weights string }

func (e *NotFoundError) Error() string { return "mock: no model for " + e.Weights }

// Fixture is the two-box result used across tests: an Apple at
// [10,10,50,50] and a class 3 box at [100,100,150,160].
func Fixture() []iface.RawResult {
	return []iface.RawResult{{Boxes: []iface.RawBox{
		{XYXY: [4]float32{10, 10, 50, 50}, ClassID: 0, Conf: 0.91},
		{XYXY: [4]float32{100, 100, 150, 160}, ClassID: 3, Conf: 0.42},
	}}}
}
