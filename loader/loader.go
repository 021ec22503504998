package loader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"FoodDetServer/config"
	iface "FoodDetServer/interface"
	"FoodDetServer/logger"
	"FoodDetServer/runs"

	"go.uber.org/zap"
)

// ErrModelUnavailable means even the generic model could not be loaded.
var ErrModelUnavailable = errors.New("no model could be loaded")

// errNoRunWeights marks a tier that had nothing to try.
var errNoRunWeights = errors.New("no run weights found")

// TierError records why one tier of the chain was skipped.
type TierError struct {
	Tier   iface.Provenance
	Source string
	Err    error
}

func (e *TierError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s: %v", e.Tier, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Tier, e.Source, e.Err)
}

func (e *TierError) Unwrap() error { return e.Err }

type Config struct {
	ProductionPath string
	GenericModel   string
	RunsRoot       string
	RunPrefix      string
	WeightsDir     string
	BestWeights    string
	LastWeights    string
}

// ConfigFrom copies the model section of the server configuration.
func ConfigFrom(m config.ModelConfig) Config {
	return Config{
		ProductionPath: m.ProductionPath,
		GenericModel:   m.GenericModel,
		RunsRoot:       m.RunsRoot,
		RunPrefix:      m.RunPrefix,
		WeightsDir:     m.WeightsDir,
		BestWeights:    m.BestWeights,
		LastWeights:    m.LastWeights,
	}
}

// ModelHandle is the process-wide loaded detector and where it came from.
// It is never mutated after Load returns.
type ModelHandle struct {
	detector   iface.Detector
	provenance iface.Provenance
	source     string
	degraded   []*TierError
}

// NewHandle builds a handle directly, for callers that bypass the chain.
func NewHandle(d iface.Detector, provenance iface.Provenance, source string) *ModelHandle {
	return &ModelHandle{detector: d, provenance: provenance, source: source}
}

func (h *ModelHandle) Detector() iface.Detector     { return h.detector }
func (h *ModelHandle) Provenance() iface.Provenance { return h.provenance }
func (h *ModelHandle) Source() string               { return h.source }

// Degraded lists the tiers that failed before the handle was produced.
func (h *ModelHandle) Degraded() []*TierError {
	return append([]*TierError(nil), h.degraded...)
}

// Close releases the detector.
func (h *ModelHandle) Close() {
	if h.detector != nil {
		h.detector.Close()
	}
}

// tier is one step of the fallback chain. attempt returns the loaded detector
// and the concrete source it used; onSuccess runs side effects afterwards.
type tier struct {
	provenance iface.Provenance
	attempt    func() (iface.Detector, string, error)
	onSuccess  func(source string)
}

type ModelLoader struct {
	cfg     Config
	backend iface.Backend
}

func New(cfg Config, backend iface.Backend) *ModelLoader {
	return &ModelLoader{cfg: cfg, backend: backend}
}

// Load walks production path, latest run weights and the generic model in
// that order and returns the first that loads. Only a failure of the last
// tier is returned as an error (wrapping ErrModelUnavailable).
func (l *ModelLoader) Load() (*ModelHandle, error) {
	var degraded []*TierError
	for _, t := range l.tiers() {
		d, source, err := t.attempt()
		if err != nil {
			te := &TierError{Tier: t.provenance, Source: source, Err: err}
			degraded = append(degraded, te)
			logger.Log().Warn("model tier unavailable, falling through",
				zap.String("tier", string(t.provenance)),
				zap.String("source", source),
				zap.Error(err))
			continue
		}
		logger.Log().Info("model loaded",
			zap.String("tier", string(t.provenance)),
			zap.String("source", source))
		if t.onSuccess != nil {
			t.onSuccess(source)
		}
		return &ModelHandle{detector: d, provenance: t.provenance, source: source, degraded: degraded}, nil
	}
	last := degraded[len(degraded)-1]
	return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, last)
}

func (l *ModelLoader) tiers() []tier {
	return []tier{
		{
			provenance: iface.ProductionPath,
			attempt:    l.loadPath(l.cfg.ProductionPath),
		},
		{
			provenance: iface.RunWeights,
			attempt:    l.loadLatestRun,
			onSuccess:  l.promote,
		},
		{
			provenance: iface.GenericFallback,
			attempt:    l.loadPath(l.cfg.GenericModel),
		},
	}
}

func (l *ModelLoader) loadPath(path string) func() (iface.Detector, string, error) {
	return func() (iface.Detector, string, error) {
		if path == "" {
			return nil, "", errors.New("no path configured")
		}
		d, err := l.backend.LoadModel(path)
		return d, path, err
	}
}

func (l *ModelLoader) loadLatestRun() (iface.Detector, string, error) {
	weights, err := ResolveRunWeights(l.cfg)
	if err != nil {
		return nil, "", err
	}
	d, err := l.backend.LoadModel(weights)
	return d, weights, err
}

func (l *ModelLoader) promote(source string) {
	if err := Promote(source, l.cfg.ProductionPath); err != nil {
		logger.Log().Warn("weights promotion failed",
			zap.String("source", source),
			zap.String("dest", l.cfg.ProductionPath),
			zap.Error(err))
		return
	}
	logger.Log().Info("weights promoted",
		zap.String("source", source),
		zap.String("dest", l.cfg.ProductionPath))
}

// ResolveRunWeights picks best, then last weights of the latest run.
func ResolveRunWeights(cfg Config) (string, error) {
	run, err := runs.LatestRun(cfg.RunsRoot, cfg.RunPrefix)
	if err != nil {
		return "", err
	}
	if run == nil {
		return "", fmt.Errorf("%w: no %s* runs in %s", errNoRunWeights, cfg.RunPrefix, cfg.RunsRoot)
	}
	dir := run.WeightsDir(cfg.WeightsDir)
	for _, name := range []string{cfg.BestWeights, cfg.LastWeights} {
		p := filepath.Join(dir, name)
		if isFile(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: run %s has neither %s nor %s", errNoRunWeights, run.Name, cfg.BestWeights, cfg.LastWeights)
}

// Promote copies src to dst, creating dst's directory and keeping src's
// modification time. The copy goes through a temp file so a reader never
// sees a partial dst.
func Promote(src, dst string) error {
	if dst == "" {
		return errors.New("no production path configured")
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".promote-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
		return err
	}
	if err := os.Chtimes(tmp.Name(), info.ModTime(), info.ModTime()); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
