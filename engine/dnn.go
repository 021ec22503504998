package engine

import (
	"errors"
	"fmt"
	"image"

	iface "FoodDetServer/interface"

	"gocv.io/x/gocv"
)

// dnnDetector runs an ONNX model through OpenCV's dnn module. A gocv.Net is
// not safe for concurrent Forward calls, so each instance is owned by one
// pool worker.
type dnnDetector struct {
	net       gocv.Net
	inputSize int
	conf      float32
	iou       float32
}

func newDNNDetector(weights string, p Params) (*dnnDetector, error) {
	net := gocv.ReadNetFromONNX(weights)
	if net.Empty() {
		_ = net.Close()
		return nil, fmt.Errorf("opencv could not read %s", weights)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		_ = net.Close()
		return nil, fmt.Errorf("set dnn backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		_ = net.Close()
		return nil, fmt.Errorf("set dnn target: %w", err)
	}
	return &dnnDetector{net: net, inputSize: p.InputSize, conf: p.Confidence, iou: p.Iou}, nil
}

func (d *dnnDetector) Infer(img gocv.Mat) ([]iface.RawResult, error) {
	if img.Empty() {
		return nil, errors.New("empty image")
	}
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(d.inputSize, d.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()
	if output.Empty() {
		return nil, errors.New("forward returned no output")
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	return postprocess(data, output.Size(), img.Cols(), img.Rows(), d.inputSize, d.conf, d.iou)
}

func (d *dnnDetector) Close() {
	_ = d.net.Close()
}
