package monitor

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/velocap/internal/lidar"
	"github.com/banshee-data/velocap/internal/lidar/l2frames"
	"github.com/banshee-data/velocap/internal/lidar/parse"
	"github.com/banshee-data/velocap/internal/lidar/pipeline"
	"github.com/banshee-data/velocap/internal/monitoring"
	"github.com/banshee-data/velocap/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

type fakeCapture struct {
	state atomic.Int32
	stats *lidar.PacketStats
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{stats: lidar.NewPacketStats()}
}

func (c *fakeCapture) SessionID() string             { return "session-1" }
func (c *fakeCapture) Calibration() parse.Calibration { return parse.HDL32ECalibration() }
func (c *fakeCapture) State() pipeline.State          { return pipeline.State(c.state.Load()) }
func (c *fakeCapture) IsRunning() bool               { return c.State() == pipeline.StateRunning }
func (c *fakeCapture) QueueSize() int                { return 3 }
func (c *fakeCapture) Stats() *lidar.PacketStats     { return c.stats }

func frameWith(n int, ts int64) *l2frames.Frame {
	f := l2frames.NewFrame(parse.ModelHDL32E, n)
	for i := 0; i < n; i++ {
		f.PushPoint(l2frames.Point{X: float64(i * 100), Y: float64(-i * 50), Z: 10, Intensity: uint8(i)})
	}
	f.Finalize(ts)
	return f
}

func newTestServer(t *testing.T) (*WebServer, *fakeCapture, *FrameHistory) {
	t.Helper()
	c := newFakeCapture()
	h := NewFrameHistory(4)
	ws, err := NewWebServer(WebServerConfig{Address: "127.0.0.1:0", Capture: c, History: h, Source: "test.pcap"})
	require.NoError(t, err)
	return ws, c, h
}

func TestFrameHistory_Ring(t *testing.T) {
	h := NewFrameHistory(3)
	assert.Nil(t, h.Latest())
	assert.Empty(t, h.Samples())

	for i := 1; i <= 5; i++ {
		h.Observe(frameWith(i, int64(i)))
	}
	got := h.Samples()
	require.Len(t, got, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{got[0].Timestamp, got[1].Timestamp, got[2].Timestamp})
	assert.Equal(t, []int{3, 4, 5}, []int{got[0].Points, got[1].Points, got[2].Points})
	assert.Equal(t, int64(5), h.Latest().Timestamp)
	assert.Equal(t, int64(5), h.Total())

	assert.Len(t, NewFrameHistory(0).samples, DefaultHistorySize)
}

func TestFrameHistory_Subscribe(t *testing.T) {
	h := NewFrameHistory(2)
	ch, cancel := h.Subscribe()
	h.Observe(frameWith(2, 7))

	got := <-ch
	assert.Equal(t, FrameSample{ID: got.ID, Timestamp: 7, Points: 2}, got)
	assert.NotEmpty(t, got.ID)

	// A full backlog drops samples instead of blocking Observe.
	for i := 0; i < subscriberBuffer+5; i++ {
		h.Observe(frameWith(1, int64(i)))
	}
	assert.Len(t, ch, subscriberBuffer)

	cancel()
	cancel()
	assert.Zero(t, h.subscribers())
	for range ch {
	}
}

func TestFrameStream(t *testing.T) {
	ws, _, h := newTestServer(t)
	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/frames", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.Observe(frameWith(5, 1500000))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var s FrameSample
	require.NoError(t, conn.ReadJSON(&s))
	assert.Equal(t, int64(1500000), s.Timestamp)
	assert.Equal(t, 5, s.Points)

	require.NoError(t, ws.Close())
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	require.Eventually(t, func() bool { return h.subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestFrameStream_RequiresUpgrade(t *testing.T) {
	ws, _, _ := newTestServer(t)
	rec := testutil.Serve(ws.Handler(), testutil.NewLoopbackRequest(http.MethodGet, "/ws/frames"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestNewWebServer_RequiresCapture(t *testing.T) {
	_, err := NewWebServer(WebServerConfig{})
	assert.Error(t, err)
}

func TestStatusAPI(t *testing.T) {
	ws, c, _ := newTestServer(t)
	c.state.Store(int32(pipeline.StateRunning))
	c.stats.AddPacket(1248)
	c.stats.AddFrames(2)
	c.stats.AddPoints(64)
	c.stats.GetAndReset()
	c.stats.AddDropped()
	c.stats.AddBadRotation()

	rec := testutil.Serve(ws.Handler(), testutil.NewLoopbackRequest(http.MethodGet, "/api/status"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var s Status
	testutil.DecodeJSON(t, rec, &s)
	assert.Equal(t, "session-1", s.SessionID)
	assert.Equal(t, "HDL-32E", s.SensorModel)
	assert.Equal(t, "test.pcap", s.Source)
	assert.Equal(t, "running", s.State)
	assert.True(t, s.Running)
	assert.Equal(t, 3, s.QueueSize)
	assert.Equal(t, Totals{Packets: 1, Bytes: 1248, Dropped: 1, Rejected: 1, Rotation: 1, Points: 64, Frames: 2}, s.Totals)

	rec = testutil.Serve(ws.Handler(), testutil.NewLoopbackRequest(http.MethodPost, "/api/status"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestStatusPage(t *testing.T) {
	ws, _, h := newTestServer(t)
	h.Observe(frameWith(10, 7))

	rec := testutil.Serve(ws.Handler(), testutil.NewLoopbackRequest(http.MethodGet, "/"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	body := rec.Body.String()
	assert.Contains(t, body, "session-1")
	assert.Contains(t, body, "HDL-32E")
	assert.Contains(t, body, "idle")

	rec = testutil.Serve(ws.Handler(), testutil.NewLoopbackRequest(http.MethodGet, "/nope"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestHealthEndpoint(t *testing.T) {
	ws, _, _ := newTestServer(t)
	rec := testutil.Serve(ws.Handler(), testutil.NewLoopbackRequest(http.MethodGet, "/health"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var body map[string]string
	testutil.DecodeJSON(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "idle", body["state"])
}

func TestFramesAPI(t *testing.T) {
	ws, _, h := newTestServer(t)
	h.Observe(frameWith(2, 100))
	h.Observe(frameWith(5, 200))

	rec := testutil.Serve(ws.Handler(), testutil.NewLoopbackRequest(http.MethodGet, "/api/frames"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var samples []FrameSample
	testutil.DecodeJSON(t, rec, &samples)
	require.Len(t, samples, 2)
	assert.Equal(t, 5, samples[1].Points)
	assert.Equal(t, int64(200), samples[1].Timestamp)
}

func TestCharts(t *testing.T) {
	ws, _, h := newTestServer(t)

	rec := testutil.Serve(ws.Handler(), testutil.NewLoopbackRequest(http.MethodGet, "/charts/latest"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	h.Observe(frameWith(20, 1))
	h.Observe(frameWith(30, 2))

	rec = testutil.Serve(ws.Handler(), testutil.NewLoopbackRequest(http.MethodGet, "/charts/points"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "Points per frame")

	rec = testutil.Serve(ws.Handler(), testutil.NewLoopbackRequest(http.MethodGet, "/charts/latest?max_points=200"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "Latest frame")
}

func TestLatestPlot(t *testing.T) {
	ws, _, h := newTestServer(t)

	rec := testutil.Serve(ws.Handler(), testutil.NewLoopbackRequest(http.MethodGet, "/plot/latest.png"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	h.Observe(frameWith(50, 1))
	rec = testutil.Serve(ws.Handler(), testutil.NewLoopbackRequest(http.MethodGet, "/plot/latest.png"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	_, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	assert.NoError(t, err)
}

func TestWriteFramePlot_Empty(t *testing.T) {
	f := l2frames.NewFrame(parse.ModelVLP16, 0)
	f.Finalize(0)
	var buf bytes.Buffer
	require.NoError(t, WriteFramePlot(&buf, f))
	_, err := png.Decode(&buf)
	assert.NoError(t, err)
}

func TestDebugIndex(t *testing.T) {
	ws, _, _ := newTestServer(t)
	rec := testutil.Serve(ws.Handler(), testutil.NewLoopbackRequest(http.MethodGet, "/debug/"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "Capture state")
}

func TestWebServer_StartStop(t *testing.T) {
	ws, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Start(ctx) }()

	require.Eventually(t, func() bool { return !strings.HasSuffix(ws.Addr(), ":0") }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + ws.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestHealthReporter_Update(t *testing.T) {
	h := NewHealthReporter()
	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := h.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.Status
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(HealthService))

	h.Update(pipeline.StateRunning)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(HealthService))
	h.Update(pipeline.StateStopping)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(HealthService))
}

func TestHealthReporter_Watch(t *testing.T) {
	h := NewHealthReporter()
	c := newFakeCapture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Watch(ctx, c, 5*time.Millisecond)

	c.state.Store(int32(pipeline.StateRunning))
	require.Eventually(t, func() bool {
		resp, err := h.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
		return err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHealthReporter_GRPC(t *testing.T) {
	h := NewHealthReporter()
	require.NoError(t, h.Start("127.0.0.1:0"))
	assert.Error(t, h.Start("127.0.0.1:0"), "second start fails")
	h.Update(pipeline.StateRunning)

	conn, err := grpc.NewClient("passthrough:///"+h.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	h.Stop()
	assert.Empty(t, h.Addr())
}
