// Package monitor serves the live view of a capture: an HTML status page,
// a JSON status API, echarts views, a top-down PNG of the latest frame, a
// websocket stream of frame summaries and a gRPC health service.
package monitor

import (
	"sync"

	"github.com/banshee-data/velocap/internal/lidar/l2frames"
)

// DefaultHistorySize is the number of frame summaries kept for charts.
const DefaultHistorySize = 600

// FrameSample summarises one completed frame.
type FrameSample struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp_us"`
	Points    int    `json:"points"`
}

// FrameHistory keeps the most recent frame summaries in a ring and the last
// frame itself for plotting. It is safe for concurrent use.
type FrameHistory struct {
	mu      sync.RWMutex
	samples []FrameSample
	next    int
	full    bool
	latest  *l2frames.Frame
	total   int64

	subs map[chan FrameSample]struct{}
}

// subscriberBuffer is the per-subscriber backlog. Samples beyond it are
// dropped for that subscriber.
const subscriberBuffer = 16

// NewFrameHistory returns a history holding up to size samples. A size of
// zero or less selects DefaultHistorySize.
func NewFrameHistory(size int) *FrameHistory {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &FrameHistory{samples: make([]FrameSample, size)}
}

// Observe records f. The frame must not be modified afterwards.
func (h *FrameHistory) Observe(f *l2frames.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sample := FrameSample{ID: f.ID, Timestamp: f.Timestamp, Points: f.Len()}
	h.samples[h.next] = sample
	h.next = (h.next + 1) % len(h.samples)
	if h.next == 0 {
		h.full = true
	}
	h.latest = f
	h.total++

	for ch := range h.subs {
		select {
		case ch <- sample:
		default:
		}
	}
}

// Subscribe returns a channel that receives a summary of every frame
// observed from now on, and a function that ends the subscription and
// closes the channel. A slow subscriber misses samples rather than
// blocking Observe.
func (h *FrameHistory) Subscribe() (<-chan FrameSample, func()) {
	ch := make(chan FrameSample, subscriberBuffer)
	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[chan FrameSample]struct{})
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Samples returns the retained summaries, oldest first.
func (h *FrameHistory) Samples() []FrameSample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.full {
		return append([]FrameSample(nil), h.samples[:h.next]...)
	}
	out := make([]FrameSample, 0, len(h.samples))
	out = append(out, h.samples[h.next:]...)
	return append(out, h.samples[:h.next]...)
}

// Latest returns the most recently observed frame, or nil.
func (h *FrameHistory) Latest() *l2frames.Frame {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// Total returns the number of frames observed.
func (h *FrameHistory) Total() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

func (h *FrameHistory) subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
