package iface

import "gocv.io/x/gocv"

// Provenance tells where a loaded model came from.
type Provenance string

const (
	ProductionPath  Provenance = "production-path"
	RunWeights      Provenance = "run-weights"
	GenericFallback Provenance = "generic-fallback"
)

// RawBox is one box as emitted by a detector, in source image pixels.
type RawBox struct {
	XYXY    [4]float32
	ClassID int
	Conf    float32
}

// RawResult holds the boxes found in one image. Boxes may be nil.
type RawResult struct {
	Boxes []RawBox
}

// Detector runs inference on a decoded image. Implementations must be safe
// for concurrent use and must not modify img.
type Detector interface {
	Infer(img gocv.Mat) ([]RawResult, error)
	Close()
}

// Backend loads weights into a Detector.
type Backend interface {
	LoadModel(weights string) (Detector, error)
}
