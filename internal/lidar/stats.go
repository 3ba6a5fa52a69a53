// Package lidar holds the capture counters shared by the pipeline, the
// monitor and the frame log.
package lidar

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/velocap/internal/monitoring"
)

// PacketStats tracks capture statistics with thread-safe operations.
type PacketStats struct {
	mu            sync.Mutex
	packetCount   int64
	byteCount     int64
	droppedCount  int64
	rejectedCount int64
	rotationCount int64
	pointCount    int64
	frameCount    int64
	lastReset     time.Time

	// retired holds counters from intervals already reset.
	retired StatsSnapshot
	started time.Time
}

// StatsSnapshot is one interval's worth of counters.
type StatsSnapshot struct {
	Packets  int64 // packets read from the source
	Bytes    int64
	Dropped  int64 // wrong size, discarded before decoding
	Rejected int64 // decoded but refused: sensor type, model or rotation
	Rotation int64 // subset of Rejected: a block rotation >= 36000
	Points   int64
	Frames   int64
	Duration time.Duration
}

// NewPacketStats creates a new PacketStats instance
func NewPacketStats() *PacketStats {
	now := time.Now()
	return &PacketStats{
		lastReset: now,
		started:   now,
	}
}

// AddPacket increments packet count and byte count
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.byteCount += int64(bytes)
}

// AddDropped increments the count of packets discarded for their size.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.droppedCount++
}

// AddRejected increments the count of well-sized packets refused by the decoder.
func (ps *PacketStats) AddRejected() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.rejectedCount++
}

// AddBadRotation counts a packet refused for an out-of-range block
// rotation. It is included in Rejected.
func (ps *PacketStats) AddBadRotation() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.rejectedCount++
	ps.rotationCount++
}

// AddPoints increments reconstructed point count
func (ps *PacketStats) AddPoints(count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pointCount += int64(count)
}

// AddFrames increments completed frame count
func (ps *PacketStats) AddFrames(count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.frameCount += int64(count)
}

// Snapshot returns the counters accumulated since the last reset.
func (ps *PacketStats) Snapshot() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.snapshotLocked(time.Now())
}

// GetAndReset returns current stats and resets counters
func (ps *PacketStats) GetAndReset() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	s := ps.snapshotLocked(now)
	ps.retired = ps.retired.add(s)

	ps.packetCount = 0
	ps.byteCount = 0
	ps.droppedCount = 0
	ps.rejectedCount = 0
	ps.rotationCount = 0
	ps.pointCount = 0
	ps.frameCount = 0
	ps.lastReset = now

	return s
}

// Totals returns the counters accumulated since the stats were created,
// across resets.
func (ps *PacketStats) Totals() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	now := time.Now()
	t := ps.retired.add(ps.snapshotLocked(now))
	t.Duration = now.Sub(ps.started)
	return t
}

func (s StatsSnapshot) add(o StatsSnapshot) StatsSnapshot {
	return StatsSnapshot{
		Packets:  s.Packets + o.Packets,
		Bytes:    s.Bytes + o.Bytes,
		Dropped:  s.Dropped + o.Dropped,
		Rejected: s.Rejected + o.Rejected,
		Rotation: s.Rotation + o.Rotation,
		Points:   s.Points + o.Points,
		Frames:   s.Frames + o.Frames,
		Duration: s.Duration + o.Duration,
	}
}

func (ps *PacketStats) snapshotLocked(now time.Time) StatsSnapshot {
	return StatsSnapshot{
		Packets:  ps.packetCount,
		Bytes:    ps.byteCount,
		Dropped:  ps.droppedCount,
		Rejected: ps.rejectedCount,
		Rotation: ps.rotationCount,
		Points:   ps.pointCount,
		Frames:   ps.frameCount,
		Duration: now.Sub(ps.lastReset),
	}
}

// LogStats logs per-second rates for the interval since the last call and
// resets the counters.
func (ps *PacketStats) LogStats() {
	s := ps.GetAndReset()
	if msg := s.Format(); msg != "" {
		monitoring.Logf("%s", msg)
	}
}

// Format renders s as per-second rates. It returns "" for an idle interval.
func (s StatsSnapshot) Format() string {
	if s.Packets == 0 && s.Dropped == 0 && s.Rejected == 0 {
		return ""
	}
	secs := s.Duration.Seconds()
	if secs <= 0 {
		secs = 1
	}
	msg := fmt.Sprintf("Lidar stats (/sec): %.2f MB, %.1f packets, %s points, %.1f frames",
		float64(s.Bytes)/secs/(1024*1024),
		float64(s.Packets)/secs,
		FormatWithCommas(int64(float64(s.Points)/secs)),
		float64(s.Frames)/secs)
	if s.Dropped > 0 {
		msg += fmt.Sprintf(", %d dropped (size)", s.Dropped)
	}
	if s.Rejected > 0 {
		msg += fmt.Sprintf(", %d rejected", s.Rejected)
		if s.Rotation > 0 {
			msg += fmt.Sprintf(" (%d bad rotation)", s.Rotation)
		}
	}
	return msg
}

// FormatWithCommas formats a number with thousands separators
func FormatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 && char != '-' && str[i-1] != '-' {
			result += ","
		}
		result += string(char)
	}
	return result
}
