package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"FoodDetServer/history"
	"FoodDetServer/logger"
	"FoodDetServer/monitor"
	"FoodDetServer/service"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type Server struct {
	svc   *service.Service
	store *history.Store
}

// NewServer serves svc over gRPC. store may be nil.
func NewServer(svc *service.Service, store *history.Store) *Server {
	return &Server{svc: svc, store: store}
}

func (s *Server) Inference(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	img, err := service.DecodeImage(req.GetValue())
	if err != nil {
		_ = img.Close()
		return nil, status.Error(codes.InvalidArgument, "Invalid image file")
	}
	defer img.Close()

	summary, err := s.svc.Detect(img)
	if err != nil {
		if errors.Is(err, service.ErrDecode) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		logger.Log().Error("grpc inference failed", zap.Error(err))
		return nil, status.Error(codes.Internal, err.Error())
	}
	defer summary.Close()

	jpeg, err := service.EncodeJPEG(summary.Annotated)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	monitor.ObserveInference("grpc", summary.Duration, summary.ClassCounts.Map())
	if s.store != nil {
		rec := &history.Inference{
			Source:      "grpc",
			Provenance:  string(s.svc.Handle().Provenance()),
			Total:       summary.TotalDetections,
			ClassCounts: summary.ClassCounts,
		}
		if err := s.store.Record(ctx, rec); err != nil {
			logger.Log().Warn("record history", zap.Error(err))
		}
	}

	detections := make([]any, 0, len(summary.Detections))
	for _, d := range summary.Detections {
		detections = append(detections, map[string]any{
			"class_id":   d.ClassID,
			"class_name": d.ClassName,
			"confidence": float64(d.Confidence),
			"bbox":       []any{d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]},
		})
	}
	counts := make(map[string]any, summary.ClassCounts.Len())
	order := make([]any, 0, summary.ClassCounts.Len())
	for _, name := range summary.ClassCounts.Names() {
		counts[name] = summary.ClassCounts.Get(name)
		order = append(order, name)
	}
	// Struct fields are unordered on the wire, so class_order carries the
	// first-seen order of class_counts.
	out, err := structpb.NewStruct(map[string]any{
		"success":             true,
		"detections":          detections,
		"annotated_image_url": service.DataURL(jpeg),
		"total_detections":    summary.TotalDetections,
		"class_counts":        counts,
		"class_order":         order,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) Health(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	h := s.svc.Handle()
	degraded := make([]any, 0)
	for _, te := range h.Degraded() {
		degraded = append(degraded, te.Error())
	}
	return structpb.NewStruct(map[string]any{
		"status":           "healthy",
		"model_loaded":     h.Detector() != nil,
		"model_provenance": string(h.Provenance()),
		"model_source":     h.Source(),
		"degraded_tiers":   degraded,
		"class_names":      classList(s.svc),
	})
}

func (s *Server) Classes(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	return structpb.NewList(classList(s.svc))
}

func classList(svc *service.Service) []any {
	classes := svc.Classes()
	out := make([]any, len(classes))
	for i, c := range classes {
		out[i] = c
	}
	return out
}

// unaryMetrics counts and logs every call.
func unaryMetrics(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	monitor.GRPCTotal.WithLabelValues(info.FullMethod, code.String()).Inc()
	logger.Log().Info("grpc",
		zap.String("method", info.FullMethod),
		zap.String("code", code.String()),
		zap.Duration("latency", time.Since(start)))
	return resp, err
}

// NewGRPCServer builds a grpc.Server with srv registered.
func NewGRPCServer(srv DetectServiceServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unaryMetrics),
		grpc.MaxRecvMsgSize(20 * 1024 * 1024),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterDetectServiceServer(s, srv)
	return s
}

// StartGRPCServer listens on port and serves in the background.
func StartGRPCServer(port int, srv DetectServiceServer) (*grpc.Server, error) {
	addr := fmt.Sprintf(":%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	s := NewGRPCServer(srv)
	go func() {
		logger.Log().Info("grpc server listening", zap.String("addr", addr))
		if err := s.Serve(lis); err != nil {
			logger.Log().Error("grpc server stopped", zap.Error(err))
		}
	}()
	return s, nil
}
