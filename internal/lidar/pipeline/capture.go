package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/velocap/internal/lidar"
	"github.com/banshee-data/velocap/internal/lidar/l2frames"
	"github.com/banshee-data/velocap/internal/lidar/network"
	"github.com/banshee-data/velocap/internal/lidar/parse"
	"github.com/banshee-data/velocap/internal/monitoring"
)

// Default polling intervals. Waits are normally woken by queue signals; the
// tick bounds how long a missed signal can delay a waiter.
const (
	DefaultBackpressurePoll = 100 * time.Millisecond
	DefaultRetrievePoll     = time.Millisecond
)

// ErrNilSource is returned by Start when no packet source is given.
var ErrNilSource = errors.New("capture source is nil")

// State is the lifecycle state of a Capture.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// CaptureConfig configures a Capture.
type CaptureConfig struct {
	Calibration parse.Calibration
	Transform   *l2frames.Transform // optional

	// MaxQueueSize bounds the frame queue; 0 means unbounded. When the
	// queue is full the producer waits after each push.
	MaxQueueSize int

	BackpressurePoll time.Duration
	RetrievePoll     time.Duration

	Stats *lidar.PacketStats // optional, created if nil

	// StrictModel rejects packets whose sensor type byte names a model other
	// than the calibration's.
	StrictModel bool

	// SessionID labels this capture in sinks; generated if empty.
	SessionID string
}

// Capture turns a packet stream into a queue of completed rotation frames.
// One background goroutine produces; any number of goroutines may consume.
type Capture struct {
	cfg   CaptureConfig
	queue *FrameQueue
	stats *lidar.PacketStats

	// lifecycle serialises Start and Stop.
	lifecycle sync.Mutex

	state   atomic.Int32
	running atomic.Bool

	mu     sync.Mutex
	src    network.PacketSource
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewCapture returns an idle Capture.
func NewCapture(cfg CaptureConfig) (*Capture, error) {
	if !cfg.Calibration.Valid() {
		return nil, fmt.Errorf("capture: %w", parse.ErrUnknownModel)
	}
	if cfg.MaxQueueSize < 0 {
		return nil, fmt.Errorf("capture: max queue size must be >= 0, got %d", cfg.MaxQueueSize)
	}
	if cfg.BackpressurePoll <= 0 {
		cfg.BackpressurePoll = DefaultBackpressurePoll
	}
	if cfg.RetrievePoll <= 0 {
		cfg.RetrievePoll = DefaultRetrievePoll
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	stats := cfg.Stats
	if stats == nil {
		stats = lidar.NewPacketStats()
	}
	return &Capture{
		cfg:   cfg,
		queue: NewFrameQueue(),
		stats: stats,
	}, nil
}

// Start opens src on target and launches the production goroutine. A
// running capture is stopped first. If Open fails the capture stays idle.
// Cancelling ctx ends production the same way a source error does.
func (c *Capture) Start(ctx context.Context, src network.PacketSource, target string) error {
	if src == nil {
		return ErrNilSource
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.stopLocked()

	if err := src.Open(target); err != nil {
		return fmt.Errorf("failed to open capture source %q: %w", target, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	recon, err := l2frames.NewReconstructor(l2frames.ReconstructorConfig{
		Calibration: c.cfg.Calibration,
		Transform:   c.cfg.Transform,
		OnFrame:     func(f *l2frames.Frame) { c.enqueue(runCtx, f) },
	})
	if err != nil {
		cancel()
		src.Close()
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.src = src
	c.cancel = cancel
	c.done = done
	c.err = nil
	c.mu.Unlock()

	c.running.Store(true)
	c.state.Store(int32(StateRunning))
	monitoring.Logf("Capture %s started: %s from %q", c.cfg.SessionID, c.cfg.Calibration.Model(), target)

	go c.produce(runCtx, src, recon, done)
	return nil
}

// Stop ends production, waits for the goroutine to exit, closes the source
// and clears the queue. It is idempotent and safe after the stream has
// ended on its own.
func (c *Capture) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stopLocked()
}

func (c *Capture) stopLocked() {
	c.mu.Lock()
	src, cancel, done := c.src, c.cancel, c.done
	c.mu.Unlock()
	if done == nil {
		return
	}

	c.state.Store(int32(StateStopping))
	cancel()
	c.queue.Wake()
	<-done

	if err := src.Close(); err != nil {
		monitoring.Logf("Capture %s: failed to close source: %v", c.cfg.SessionID, err)
	}
	dropped := c.queue.Clear()

	c.mu.Lock()
	c.src = nil
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	c.state.Store(int32(StateIdle))
	monitoring.Logf("Capture %s stopped (%d undelivered frames dropped)", c.cfg.SessionID, dropped)
}

func (c *Capture) produce(ctx context.Context, src network.PacketSource, recon *l2frames.Reconstructor, done chan struct{}) {
	defer close(done)
	defer func() {
		c.running.Store(false)
		c.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))
		c.queue.Wake()
	}()

	for ctx.Err() == nil {
		pkt, err := src.NextPacket()
		if err != nil {
			switch {
			case errors.Is(err, network.ErrTimeout):
				continue
			case errors.Is(err, io.EOF):
				monitoring.Logf("Capture %s: end of stream", c.cfg.SessionID)
			case ctx.Err() != nil:
				// Read interrupted by Stop.
			default:
				c.setErr(err)
				monitoring.Logf("Capture %s: read error: %v", c.cfg.SessionID, err)
			}
			return
		}
		c.handlePacket(recon, pkt)
	}
}

func (c *Capture) handlePacket(recon *l2frames.Reconstructor, pkt *network.Packet) {
	c.stats.AddPacket(len(pkt.Data))

	dp, err := parse.DecodeFrame(pkt.Data, pkt.WireLength, pkt.HeaderLength)
	if err != nil {
		switch {
		case errors.Is(err, parse.ErrInvalidSize):
			c.stats.AddDropped()
		case errors.Is(err, parse.ErrInvalidRotation):
			c.stats.AddBadRotation()
		default:
			c.stats.AddRejected()
		}
		monitoring.Debugf("packet discarded: %v", err)
		return
	}
	if c.cfg.StrictModel && dp.Model() != c.cfg.Calibration.Model() {
		c.stats.AddRejected()
		monitoring.Debugf("packet discarded: %s packet on a %s capture", dp.Model(), c.cfg.Calibration.Model())
		return
	}

	recon.AddPacket(dp, parse.UnixMicroConcat(pkt.Seconds(), pkt.Micros()))
}

// enqueue runs on the production goroutine for every completed frame.
func (c *Capture) enqueue(ctx context.Context, f *l2frames.Frame) {
	c.queue.Push(f)
	c.stats.AddFrames(1)
	c.stats.AddPoints(f.Len())
	monitoring.Debugf("frame %s complete: %d points, ts %d", f.ID, f.Len(), f.Timestamp)

	if c.cfg.MaxQueueSize > 0 {
		c.waitForSpace(ctx)
	}
}

// waitForSpace blocks while the queue is at its limit and the capture is
// not stopping.
func (c *Capture) waitForSpace(ctx context.Context) {
	if c.queue.Len() < c.cfg.MaxQueueSize {
		return
	}
	ticker := time.NewTicker(c.cfg.BackpressurePoll)
	defer ticker.Stop()
	for c.queue.Len() >= c.cfg.MaxQueueSize {
		select {
		case <-ctx.Done():
			return
		case <-c.queue.Space():
		case <-ticker.C:
		}
	}
}

// Retrieve returns the oldest queued frame without blocking. It returns
// false when the queue is empty or momentarily locked; use IsRunning to tell
// "nothing yet" from "stream ended".
func (c *Capture) Retrieve() (*l2frames.Frame, bool) {
	return c.queue.TryPop()
}

// RetrieveBlocking waits for the next frame. It returns false once
// production has ended and the queue is drained, or when ctx is done.
func (c *Capture) RetrieveBlocking(ctx context.Context) (*l2frames.Frame, bool) {
	var ticker *time.Ticker
	for {
		if f, ok := c.queue.Pop(); ok {
			return f, true
		}
		if !c.running.Load() && c.queue.Len() == 0 {
			return nil, false
		}
		if ticker == nil {
			ticker = time.NewTicker(c.cfg.RetrievePoll)
			defer ticker.Stop()
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-c.queue.Ready():
		case <-ticker.C:
		}
	}
}

// IsRunning reports whether frames may still be retrieved: the producer is
// active or undelivered frames remain queued.
func (c *Capture) IsRunning() bool {
	return c.running.Load() || c.queue.Len() > 0
}

// IsOpen reports whether a source is held, from Start until Stop.
func (c *Capture) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.src != nil
}

// QueueSize returns the number of undelivered frames.
func (c *Capture) QueueSize() int { return c.queue.Len() }

// State returns the lifecycle state.
func (c *Capture) State() State { return State(c.state.Load()) }

// Err returns the read error that ended the last run, or nil if it ended at
// end of stream or by Stop.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Capture) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// Wait blocks until the production goroutine of the current run exits.
func (c *Capture) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Stats returns the capture's packet statistics.
func (c *Capture) Stats() *lidar.PacketStats { return c.stats }

// SessionID returns the identifier of this capture.
func (c *Capture) SessionID() string { return c.cfg.SessionID }

// Calibration returns the calibration table in use.
func (c *Capture) Calibration() parse.Calibration { return c.cfg.Calibration }
