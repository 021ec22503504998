package engine

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	iface "FoodDetServer/interface"
	"FoodDetServer/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ErrPoolClosed is returned by Infer after Close.
var ErrPoolClosed = errors.New("detector pool closed")

type jobPackage struct {
	image  gocv.Mat
	result chan jobResult
}

type jobResult struct {
	results []iface.RawResult
	err     error
}

// Pool fans Infer calls out to a fixed set of workers, each owning its own
// detector. It satisfies iface.Detector so callers never see the workers.
type Pool struct {
	jobs      chan jobPackage
	detectors []iface.Detector

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts one worker per detector. The pool takes ownership of the
// detectors and closes them in Close.
func NewPool(detectors []iface.Detector) (*Pool, error) {
	if len(detectors) == 0 {
		return nil, errors.New("pool needs at least one detector")
	}
	p := &Pool{
		jobs:      make(chan jobPackage, len(detectors)),
		detectors: detectors,
	}
	for i, d := range detectors {
		p.wg.Add(1)
		go p.runWorker(i, d)
	}
	return p, nil
}

func (p *Pool) Size() int { return len(p.detectors) }

func (p *Pool) runWorker(workerID int, d iface.Detector) {
	defer p.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	logger.Log().Debug("worker started", zap.Int("worker", workerID))
	for job := range p.jobs {
		job.result <- p.infer(workerID, d, job.image)
	}
	logger.Log().Debug("worker stopped", zap.Int("worker", workerID))
}

// infer runs one job and turns a detector panic into an error so a bad
// frame cannot take the worker down.
func (p *Pool) infer(workerID int, d iface.Detector, img gocv.Mat) (res jobResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("worker panic", zap.Int("worker", workerID), zap.Any("panic", r))
			res = jobResult{err: fmt.Errorf("worker %d panic: %v", workerID, r)}
		}
	}()
	results, err := d.Infer(img)
	return jobResult{results: results, err: err}
}

func (p *Pool) Infer(img gocv.Mat) ([]iface.RawResult, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	result := make(chan jobResult, 1)
	p.jobs <- jobPackage{image: img, result: result}
	p.mu.RUnlock()
	r := <-result
	return r.results, r.err
}

// Close stops accepting work, waits for in-flight jobs and releases every
// detector. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	for _, d := range p.detectors {
		d.Close()
	}
}
