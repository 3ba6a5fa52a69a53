// Command velocap captures Velodyne VLP-16 / HDL-32E data from a pcap file,
// a live interface or a UDP socket, rebuilds full rotations into point
// cloud frames and hands them to the configured sinks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/velocap/internal/config"
	"github.com/banshee-data/velocap/internal/db"
	"github.com/banshee-data/velocap/internal/lidar/export"
	"github.com/banshee-data/velocap/internal/lidar/l2frames"
	"github.com/banshee-data/velocap/internal/lidar/monitor"
	"github.com/banshee-data/velocap/internal/lidar/network"
	"github.com/banshee-data/velocap/internal/lidar/parse"
	"github.com/banshee-data/velocap/internal/lidar/pipeline"
	"github.com/banshee-data/velocap/internal/monitoring"
)

type options struct {
	pcapFile   string
	iface      string
	udpAddr    string
	model      string
	configFile string
	maxQueue   int
	transform  string
	dbFile     string
	pcdDir     string
	pcdFormat  string
	listen     string
	grpcListen string
	maxFrames  int
	debug      bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	o := &options{}
	fs.StringVar(&o.pcapFile, "pcap", "", "Replay a pcap or pcapng capture file")
	fs.StringVar(&o.iface, "iface", "", "Capture live from a network interface (requires -tags=pcap)")
	fs.StringVar(&o.udpAddr, "udp-addr", "", "Receive sensor datagrams on a UDP address, e.g. :2368")
	fs.StringVar(&o.model, "model", "", "Sensor model: vlp16 or hdl32e (overrides config)")
	fs.StringVar(&o.configFile, "config", "", "Path to a JSON capture config")
	fs.IntVar(&o.maxQueue, "max-queue", -1, "Maximum queued frames before the producer waits (0 = unbounded; -1 = config)")
	fs.StringVar(&o.transform, "transform", "", "16 comma-separated values of a row-major 4x4 affine transform")
	fs.StringVar(&o.dbFile, "db", "", "Log frames to this SQLite database")
	fs.StringVar(&o.pcdDir, "pcd-dir", "", "Write every frame as a PCD file into this directory")
	fs.StringVar(&o.pcdFormat, "pcd-format", "", "PCD data encoding: ascii or binary (overrides config)")
	fs.StringVar(&o.listen, "listen", "", "Monitor HTTP listen address, e.g. :8081")
	fs.StringVar(&o.grpcListen, "grpc-listen", "", "gRPC health service listen address")
	fs.IntVar(&o.maxFrames, "max-frames", 0, "Stop after this many frames (0 = no limit)")
	fs.BoolVar(&o.debug, "debug", false, "Log per-packet and per-frame diagnostics")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	sources := 0
	for _, s := range []string{o.pcapFile, o.iface, o.udpAddr} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		return nil, errors.New("exactly one of -pcap, -iface or -udp-addr is required")
	}
	if o.maxFrames < 0 {
		return nil, fmt.Errorf("-max-frames must be >= 0, got %d", o.maxFrames)
	}
	return o, nil
}

// parseTransform reads 16 comma or space separated numbers.
func parseTransform(s string) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(fields) != 16 {
		return nil, fmt.Errorf("transform needs 16 values, got %d", len(fields))
	}
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("transform value %d: %w", i, err)
		}
		vals[i] = v
	}
	return vals, nil
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(o *options) (*config.CaptureConfig, error) {
	cfg := config.EmptyCaptureConfig()
	if o.configFile != "" {
		var err error
		if cfg, err = config.LoadCaptureConfig(o.configFile); err != nil {
			return nil, err
		}
	}
	if o.model != "" {
		cfg.SensorModel = &o.model
	}
	if o.maxQueue >= 0 {
		cfg.MaxQueueSize = &o.maxQueue
	}
	if o.pcdFormat != "" {
		cfg.PCDFormat = &o.pcdFormat
	}
	if o.transform != "" {
		vals, err := parseTransform(o.transform)
		if err != nil {
			return nil, err
		}
		cfg.Transform = vals
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newSource(o *options, cfg *config.CaptureConfig) (network.PacketSource, string) {
	switch {
	case o.pcapFile != "":
		return network.NewPCAPFileSource(cfg.GetUDPPort()), o.pcapFile
	case o.iface != "":
		src := network.NewPCAPLiveSource(cfg.GetUDPPort())
		src.Snaplen = cfg.GetSnaplen()
		return src, o.iface
	default:
		src := network.NewUDPSource()
		src.RcvBuf = cfg.GetUDPRcvBuf()
		return src, o.udpAddr
	}
}

// frameSinks fans each retrieved frame out to the enabled outputs. A sink
// failure is logged and does not stop the capture.
type frameSinks struct {
	sessionID string
	db        *db.DB
	pcd       *export.Sink
	history   *monitor.FrameHistory
}

func (s *frameSinks) handle(f *l2frames.Frame) {
	if s.history != nil {
		s.history.Observe(f)
	}
	if s.db != nil {
		if err := s.db.RecordFrame(s.sessionID, f); err != nil {
			monitoring.Logf("frame log: %v", err)
		}
	}
	if s.pcd != nil {
		if _, err := s.pcd.WriteFrame(f); err != nil {
			monitoring.Logf("PCD export: %v", err)
		}
	}
}

func run(ctx context.Context, o *options) error {
	monitoring.SetDebug(o.debug)

	cfg, err := loadConfig(o)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	model := cfg.GetSensorModel()
	cal, err := parse.CalibrationFor(model)
	if err != nil {
		return err
	}
	transform, err := cfg.GetTransform()
	if err != nil {
		return err
	}

	capture, err := pipeline.NewCapture(pipeline.CaptureConfig{
		Calibration:      cal,
		Transform:        transform,
		MaxQueueSize:     cfg.GetMaxQueueSize(),
		BackpressurePoll: cfg.GetBackpressurePoll(),
		RetrievePoll:     cfg.GetRetrievePoll(),
		StrictModel:      cfg.GetStrictModel(),
	})
	if err != nil {
		return err
	}
	src, target := newSource(o, cfg)
	sinks := &frameSinks{sessionID: capture.SessionID(), history: monitor.NewFrameHistory(0)}

	if o.dbFile != "" {
		database, err := db.NewDB(o.dbFile)
		if err != nil {
			return fmt.Errorf("failed to open frame log: %w", err)
		}
		defer database.Close()
		if err := database.StartSession(capture.SessionID(), model.String(), target); err != nil {
			return err
		}
		defer func() {
			if err := database.EndSession(capture.SessionID(), capture.Stats().Totals()); err != nil {
				monitoring.Logf("frame log: %v", err)
			}
		}()
		sinks.db = database
	}

	if o.pcdDir != "" {
		format, err := export.ParseFormat(cfg.GetPCDFormat())
		if err != nil {
			return err
		}
		if sinks.pcd, err = export.NewSink(o.pcdDir, capture.SessionID(), format); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if o.listen != "" {
		ws, err := monitor.NewWebServer(monitor.WebServerConfig{
			Address: o.listen,
			Capture: capture,
			History: sinks.history,
			Source:  target,
			DB:      sinks.db,
		})
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(ctx); err != nil {
				monitoring.Logf("HTTP server error: %v", err)
			}
		}()
	}

	if o.grpcListen != "" {
		health := monitor.NewHealthReporter()
		if err := health.Start(o.grpcListen); err != nil {
			return err
		}
		defer health.Stop()
		wg.Add(1)
		go func() {
			defer wg.Done()
			health.Watch(ctx, capture, 500*time.Millisecond)
		}()
	}

	if err := capture.Start(ctx, src, target); err != nil {
		return err
	}
	defer capture.Stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.GetStatsInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				capture.Stats().LogStats()
			}
		}
	}()

	frames := 0
	for o.maxFrames == 0 || frames < o.maxFrames {
		f, ok := capture.RetrieveBlocking(ctx)
		if !ok {
			break
		}
		sinks.handle(f)
		frames++
	}

	capture.Stop()
	cancel()
	wg.Wait()

	totals := capture.Stats().Totals()
	monitoring.Logf("Capture %s finished: %d frames retrieved, %d packets (%d dropped, %d rejected)",
		capture.SessionID(), frames, totals.Packets, totals.Dropped, totals.Rejected)
	if err := capture.Err(); err != nil {
		return fmt.Errorf("capture ended with error: %w", err)
	}
	return nil
}

func main() {
	o, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o); err != nil {
		log.Fatalf("velocap: %v", err)
	}
}
