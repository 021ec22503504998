package service

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"FoodDetServer/annotate"
	"FoodDetServer/detection"
	"FoodDetServer/loader"
	"FoodDetServer/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var (
	// ErrDecode marks input that is not a decodable image.
	ErrDecode = errors.New("decoded image is empty or unsupported format")
	// ErrDetection marks a failure inside the detector call.
	ErrDetection = errors.New("detection failed")
)

// Summary is the result of one inference call. Annotated is owned by the
// summary; call Close when done with it.
type Summary struct {
	Detections      []detection.Detection  `json:"detections"`
	TotalDetections int                    `json:"total_detections"`
	ClassCounts     *detection.ClassCounts `json:"class_counts"`
	Annotated       gocv.Mat               `json:"-"`
	Duration        time.Duration          `json:"-"`
}

func (s *Summary) Close() {
	_ = s.Annotated.Close()
}

// Service runs the shared model and shapes its output. It holds no
// per-request state and is safe for concurrent use.
type Service struct {
	handle  *loader.ModelHandle
	classes detection.ClassTable
}

func New(handle *loader.ModelHandle, classes detection.ClassTable) *Service {
	return &Service{handle: handle, classes: classes}
}

func (s *Service) Handle() *loader.ModelHandle { return s.handle }

func (s *Service) Classes() detection.ClassTable { return s.classes }

// Detect runs the detector once on img, with no retry. Detector errors are
// returned wrapped in ErrDetection.
func (s *Service) Detect(img gocv.Mat) (*Summary, error) {
	if img.Empty() {
		return nil, ErrDecode
	}
	start := time.Now()
	raw, err := s.handle.Detector().Infer(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetection, err)
	}
	detections, counts := detection.Process(raw, s.classes)
	annotated, err := annotate.Annotate(img, detections)
	if err != nil {
		return nil, fmt.Errorf("%w: annotate: %w", ErrDetection, err)
	}
	summary := &Summary{
		Detections:      detections,
		TotalDetections: len(detections),
		ClassCounts:     counts,
		Annotated:       annotated,
		Duration:        time.Since(start),
	}
	logger.Log().Debug("detect",
		zap.Int("total", summary.TotalDetections),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// DecodeImage decodes uploaded bytes into a BGR Mat.
func DecodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), ErrDecode
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if mat.Empty() {
		_ = mat.Close()
		return gocv.NewMat(), ErrDecode
	}
	return mat, nil
}

// DecodeBase64Image accepts plain base64 or a data URL.
func DecodeBase64Image(b64 string) (gocv.Mat, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return DecodeImage(data)
}

// EncodeJPEG encodes img and copies the bytes out of native memory.
func EncodeJPEG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// DataURL wraps JPEG bytes for direct use in an <img> tag.
func DataURL(jpeg []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)
}
