package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"FoodDetServer/detection"
	"FoodDetServer/history"
	"FoodDetServer/logger"
	"FoodDetServer/monitor"
	"FoodDetServer/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// PredictResponse is the success body of /api/predict and of each
// /ws/detect reply.
type PredictResponse struct {
	Success           bool                   `json:"success"`
	Detections        []detection.Detection  `json:"detections"`
	AnnotatedImageURL string                 `json:"annotated_image_url"`
	TotalDetections   int                    `json:"total_detections"`
	ClassCounts       *detection.ClassCounts `json:"class_counts"`
}

func (s *Server) predict(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		fail(c, http.StatusBadRequest, "No image file provided")
		return
	}
	if file.Filename == "" {
		fail(c, http.StatusBadRequest, "No image file selected")
		return
	}

	filename := uuid.NewString() + "_" + filepath.Base(file.Filename)
	uploadPath := filepath.Join(s.opts.UploadDir, filename)
	if err := c.SaveUploadedFile(file, uploadPath); err != nil {
		logger.Log().Error("save upload", zap.String("path", uploadPath), zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	defer func() {
		if err := os.Remove(uploadPath); err != nil {
			logger.Log().Warn("remove upload", zap.String("path", uploadPath), zap.Error(err))
		}
	}()

	data, err := os.ReadFile(uploadPath)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	img, err := service.DecodeImage(data)
	if err != nil {
		_ = img.Close()
		fail(c, http.StatusBadRequest, "Invalid image file")
		return
	}
	defer img.Close()

	resp, jpeg, err := s.run(c.Request.Context(), img, "http")
	if err != nil {
		logger.Log().Error("prediction failed", zap.String("file", file.Filename), zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	annotatedPath := filepath.Join(s.opts.AnnotatedDir, "annotated_"+filename)
	if err := saveAnnotated(annotatedPath, jpeg); err != nil {
		logger.Log().Warn("store annotated image", zap.String("path", annotatedPath), zap.Error(err))
	}
	c.JSON(http.StatusOK, resp)
}

// run detects on img, encodes the annotated frame and records the result.
// Errors from the detector are returned untouched so callers can map
// service.ErrDetection.
func (s *Server) run(ctx context.Context, img gocv.Mat, transport string) (*PredictResponse, []byte, error) {
	summary, err := s.svc.Detect(img)
	if err != nil {
		return nil, nil, err
	}
	defer summary.Close()

	jpeg, err := service.EncodeJPEG(summary.Annotated)
	if err != nil {
		return nil, nil, errors.Join(service.ErrDetection, err)
	}
	monitor.ObserveInference(transport, summary.Duration, summary.ClassCounts.Map())

	if s.opts.History != nil {
		h := s.svc.Handle()
		rec := &history.Inference{
			Source:      transport,
			Provenance:  string(h.Provenance()),
			Total:       summary.TotalDetections,
			ClassCounts: summary.ClassCounts,
		}
		if err := s.opts.History.Record(ctx, rec); err != nil {
			logger.Log().Warn("record history", zap.Error(err))
		}
	}

	return &PredictResponse{
		Success:           true,
		Detections:        summary.Detections,
		AnnotatedImageURL: service.DataURL(jpeg),
		TotalDetections:   summary.TotalDetections,
		ClassCounts:       summary.ClassCounts,
	}, jpeg, nil
}

func saveAnnotated(path string, jpeg []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, jpeg, 0o644)
}
