package engine

import (
	"errors"
	"fmt"
	"image"
	"sync"

	iface "FoodDetServer/interface"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// initORT initialises the onnxruntime environment once per process.
func initORT(libPath string) error {
	ortOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// ortDetector owns one session and its pre-allocated tensors, so like
// dnnDetector it belongs to a single worker.
type ortDetector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	output    *ort.Tensor[float32]
	shape     []int
	inputSize int
	conf      float32
	iou       float32
}

func newORTDetector(weights string, p Params) (*ortDetector, error) {
	if err := initORT(p.OnnxRuntimeLib); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}
	inputs, outputs, err := ort.GetInputOutputInfo(weights)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", weights, err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("%s: want 1 input and at least 1 output, got %d/%d", weights, len(inputs), len(outputs))
	}

	outShape := make([]int64, len(outputs[0].Dimensions))
	shape := make([]int, len(outShape))
	for i, dim := range outputs[0].Dimensions {
		if dim <= 0 {
			dim = 1 // dynamic batch
		}
		outShape[i] = dim
		shape[i] = int(dim)
	}
	if _, err := layoutFromShape(shape); err != nil {
		return nil, err
	}

	size := int64(p.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(outShape...))
	if err != nil {
		_ = input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(weights,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return nil, fmt.Errorf("create onnxruntime session: %w", err)
	}
	return &ortDetector{
		session:   session,
		input:     input,
		output:    output,
		shape:     shape,
		inputSize: p.InputSize,
		conf:      p.Confidence,
		iou:       p.Iou,
	}, nil
}

func (d *ortDetector) Infer(img gocv.Mat) ([]iface.RawResult, error) {
	if img.Empty() {
		return nil, errors.New("empty image")
	}
	src, err := img.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	fillCHW(d.input.GetData(), src, d.inputSize)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return postprocess(d.output.GetData(), d.shape, img.Cols(), img.Rows(), d.inputSize, d.conf, d.iou)
}

func (d *ortDetector) Close() {
	if d.session != nil {
		_ = d.session.Destroy()
	}
	if d.input != nil {
		_ = d.input.Destroy()
	}
	if d.output != nil {
		_ = d.output.Destroy()
	}
}

// fillCHW resizes src to size x size and writes normalised RGB planes into dst.
func fillCHW(dst []float32, src image.Image, size int) {
	resized := resize.Resize(uint(size), uint(size), src, resize.Bilinear)
	b := resized.Bounds()
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*size + x
			dst[i] = float32(r) / 65535.0
			dst[plane+i] = float32(g) / 65535.0
			dst[2*plane+i] = float32(bl) / 65535.0
		}
	}
}
