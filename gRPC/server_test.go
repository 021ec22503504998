package backend

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"FoodDetServer/config"
	"FoodDetServer/detection"
	"FoodDetServer/history"
	iface "FoodDetServer/interface"
	"FoodDetServer/interface/mock"
	"FoodDetServer/loader"
	"FoodDetServer/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func startServer(t *testing.T, det *mock.Detector, store *history.Store) *DetectServiceClient {
	t.Helper()
	h := loader.NewHandle(det, iface.RunWeights, "runs/detect/fruit-detection3/weights/best.onnx")
	svc := service.New(h, detection.ClassTable(config.DefaultClasses))

	lis := bufconn.Listen(1024 * 1024)
	s := NewGRPCServer(NewServer(svc, store))
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewDetectServiceClient(conn)
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 224, 224, gocv.MatTypeCV8UC3)
	defer img.Close()
	b, err := service.EncodeJPEG(img)
	require.NoError(t, err)
	return b
}

func TestInference(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()
	client := startServer(t, &mock.Detector{Results: mock.Fixture()}, store)

	out, err := client.Inference(context.Background(), wrapperspb.Bytes(jpegBytes(t)))
	require.NoError(t, err)
	m := out.AsMap()
	assert.Equal(t, true, m["success"])
	assert.Equal(t, float64(2), m["total_detections"])
	assert.Equal(t, map[string]any{"Apple": float64(1), "Grape": float64(1)}, m["class_counts"])
	assert.Equal(t, []any{"Apple", "Grape"}, m["class_order"])
	assert.True(t, strings.HasPrefix(m["annotated_image_url"].(string), "data:image/jpeg;base64,"))

	dets := m["detections"].([]any)
	require.Len(t, dets, 2)
	grape := dets[1].(map[string]any)
	assert.Equal(t, "Grape", grape["class_name"])
	assert.Equal(t, float64(3), grape["class_id"])
	assert.InDelta(t, 0.42, grape["confidence"], 1e-6)
	assert.Equal(t, []any{float64(100), float64(100), float64(150), float64(160)}, grape["bbox"])

	recent, err := store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "grpc", recent[0].Source)
	assert.Equal(t, "run-weights", recent[0].Provenance)
}

func TestInference_Errors(t *testing.T) {
	det := &mock.Detector{Err: errors.New("cuda out of memory")}
	client := startServer(t, det, nil)

	_, err := client.Inference(context.Background(), wrapperspb.Bytes([]byte("garbage")))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, int64(0), det.Calls())

	_, err = client.Inference(context.Background(), wrapperspb.Bytes(jpegBytes(t)))
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "cuda out of memory")
}

func TestHealthAndClasses(t *testing.T) {
	client := startServer(t, &mock.Detector{}, nil)

	health, err := client.Health(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	m := health.AsMap()
	assert.Equal(t, "healthy", m["status"])
	assert.Equal(t, true, m["model_loaded"])
	assert.Equal(t, "run-weights", m["model_provenance"])
	assert.Equal(t, "runs/detect/fruit-detection3/weights/best.onnx", m["model_source"])

	classes, err := client.Classes(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	list := classes.AsSlice()
	require.Len(t, list, len(config.DefaultClasses))
	assert.Equal(t, "Apple", list[0])
	assert.Equal(t, "Mango", list[9])
}
