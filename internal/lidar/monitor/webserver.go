package monitor

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/velocap/internal/db"
	"github.com/banshee-data/velocap/internal/lidar"
	"github.com/banshee-data/velocap/internal/lidar/parse"
	"github.com/banshee-data/velocap/internal/lidar/pipeline"
	"github.com/banshee-data/velocap/internal/monitoring"
)

var _ CaptureStatus = (*pipeline.Capture)(nil)

//go:embed status.html
var statusHTML embed.FS

var statusTemplate = template.Must(template.ParseFS(statusHTML, "status.html"))

// CaptureStatus is the read-only view of a capture the monitor needs.
// *pipeline.Capture implements it.
type CaptureStatus interface {
	SessionID() string
	Calibration() parse.Calibration
	State() pipeline.State
	IsRunning() bool
	QueueSize() int
	Stats() *lidar.PacketStats
}

// WebServerConfig configures a WebServer.
type WebServerConfig struct {
	Address string
	Capture CaptureStatus
	History *FrameHistory
	Source  string // capture target shown on the status page
	DB      *db.DB // optional; enables /debug/tailsql/ and /debug/backup
}

// WebServer serves the monitor pages.
type WebServer struct {
	address string
	capture CaptureStatus
	history *FrameHistory
	source  string
	db      *db.DB
	started time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener

	// closing ends websocket streams, which Shutdown does not track.
	closing     chan struct{}
	closingOnce sync.Once
}

// NewWebServer builds the server and its routes. Nothing listens until
// Start.
func NewWebServer(cfg WebServerConfig) (*WebServer, error) {
	if cfg.Capture == nil {
		return nil, errors.New("monitor: capture is required")
	}
	if cfg.History == nil {
		cfg.History = NewFrameHistory(0)
	}
	ws := &WebServer{
		address: cfg.Address,
		capture: cfg.Capture,
		history: cfg.History,
		source:  cfg.Source,
		db:      cfg.DB,
		started: time.Now(),
		closing: make(chan struct{}),
	}
	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	ws.server.RegisterOnShutdown(ws.endStreams)
	return ws, nil
}

func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/status", ws.handleStatusJSON)
	mux.HandleFunc("/api/frames", ws.handleFrames)
	mux.HandleFunc("/charts/points", ws.handlePointsChart)
	mux.HandleFunc("/charts/latest", ws.handleLatestScatter)
	mux.HandleFunc("/plot/latest.png", ws.handleLatestPlot)
	mux.HandleFunc("/ws/frames", ws.handleFrameStream)

	debug := tsweb.Debugger(mux)
	debug.KVFunc("Capture state", func() any { return ws.capture.State().String() })
	debug.KVFunc("Queued frames", func() any { return ws.capture.QueueSize() })
	debug.KVFunc("Frames observed", func() any { return ws.history.Total() })
	if ws.db != nil {
		if err := ws.db.AttachAdminRoutes(debug); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// Handler returns the root handler, for tests and embedding.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

// Addr returns the bound address once Start is listening, else the
// configured one.
func (ws *WebServer) Addr() string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.listener != nil {
		return ws.listener.Addr().String()
	}
	return ws.address
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ws.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ws.address, err)
	}
	ws.mu.Lock()
	ws.listener = ln
	ws.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", ln.Addr())
		errCh <- ws.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	monitoring.Logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	<-errCh
	return nil
}

// Close stops the server immediately.
func (ws *WebServer) Close() error {
	ws.endStreams()
	return ws.server.Close()
}

func (ws *WebServer) endStreams() {
	ws.closingOnce.Do(func() { close(ws.closing) })
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("monitor: failed to encode response: %v", err)
	}
}

// Totals is the JSON form of lidar.StatsSnapshot.
type Totals struct {
	Packets  int64 `json:"packets"`
	Bytes    int64 `json:"bytes"`
	Dropped  int64 `json:"dropped"`
	Rejected int64 `json:"rejected"`
	Rotation int64 `json:"bad_rotation"`
	Points   int64 `json:"points"`
	Frames   int64 `json:"frames"`
}

// Status is the payload of /api/status.
type Status struct {
	SessionID   string `json:"session_id"`
	SensorModel string `json:"sensor_model"`
	Source      string `json:"source"`
	State       string `json:"state"`
	Running     bool   `json:"running"`
	QueueSize   int    `json:"queue_size"`
	Uptime      string `json:"uptime"`
	Totals      Totals `json:"totals"`
}

func (ws *WebServer) status() Status {
	t := ws.capture.Stats().Totals()
	return Status{
		SessionID:   ws.capture.SessionID(),
		SensorModel: ws.capture.Calibration().Model().String(),
		Source:      ws.source,
		State:       ws.capture.State().String(),
		Running:     ws.capture.IsRunning(),
		QueueSize:   ws.capture.QueueSize(),
		Uptime:      time.Since(ws.started).Round(time.Second).String(),
		Totals: Totals{
			Packets:  t.Packets,
			Bytes:    t.Bytes,
			Dropped:  t.Dropped,
			Rejected: t.Rejected,
			Rotation: t.Rotation,
			Points:   t.Points,
			Frames:   t.Frames,
		},
	}
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, map[string]string{
		"status":    "ok",
		"service":   "velocap",
		"state":     ws.capture.State().String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (ws *WebServer) handleStatusJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ws.writeJSON(w, ws.status())
}

func (ws *WebServer) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ws.writeJSON(w, ws.history.Samples())
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s := ws.status()
	data := struct {
		Status  Status
		Packets string
		Frames  string
		Points  string
	}{
		Status:  s,
		Packets: lidar.FormatWithCommas(s.Totals.Packets),
		Frames:  lidar.FormatWithCommas(s.Totals.Frames),
		Points:  lidar.FormatWithCommas(s.Totals.Points),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, data); err != nil {
		monitoring.Logf("monitor: status template: %v", err)
	}
}
