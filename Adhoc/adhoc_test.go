package adhoc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registry struct {
	mu   sync.Mutex
	reqs []RegisterRequest
	code int
}

func (r *registry) handler(w http.ResponseWriter, req *http.Request) {
	var body RegisterRequest
	_ = json.NewDecoder(req.Body).Decode(&body)
	r.mu.Lock()
	r.reqs = append(r.reqs, body)
	code := r.code
	r.mu.Unlock()
	if code != 0 {
		w.WriteHeader(code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RegisterResponse{Id: body.Id, Success: true})
}

func (r *registry) received() []RegisterRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RegisterRequest(nil), r.reqs...)
}

func newHeartbeat(t *testing.T, reg *registry) *Heartbeat {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/register", reg.handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return NewHeartbeat(host, port, Instance{
		IP: "10.0.0.7", RPCPort: 50051, HTTPPort: 5000,
		Provenance: "production-path", Source: "models/best.onnx",
	})
}

func TestSend(t *testing.T) {
	reg := &registry{}
	hb := newHeartbeat(t, reg)
	require.NoError(t, hb.Send(context.Background()))

	got := reg.received()
	require.Len(t, got, 1)
	assert.Equal(t, hb.ID(), got[0].Id)
	assert.Equal(t, "10.0.0.7", got[0].IP)
	assert.Equal(t, 50051, got[0].Port)
	assert.Equal(t, 5000, got[0].HTTPPort)
	assert.Equal(t, "production-path", got[0].Provenance)
	assert.Equal(t, "models/best.onnx", got[0].Source)
	assert.NotZero(t, got[0].TimeStamp)
}

func TestSend_ServerError(t *testing.T) {
	reg := &registry{code: http.StatusServiceUnavailable}
	hb := newHeartbeat(t, reg)
	assert.ErrorContains(t, hb.Send(context.Background()), "503")
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	reg := &registry{}
	hb := newHeartbeat(t, reg)
	hb.interval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hb.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(reg.received()) >= 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	for _, r := range reg.received() {
		assert.Equal(t, hb.ID(), r.Id)
	}
}
