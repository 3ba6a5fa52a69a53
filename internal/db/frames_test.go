package db

import (
	"testing"

	"github.com/banshee-data/velocap/internal/lidar"
	"github.com/banshee-data/velocap/internal/lidar/l2frames"
	"github.com/banshee-data/velocap/internal/lidar/parse"
)

func testFrame(ts int64, pts ...l2frames.Point) *l2frames.Frame {
	f := l2frames.NewFrame(parse.ModelVLP16, len(pts))
	for _, p := range pts {
		f.PushPoint(p)
	}
	f.Finalize(ts)
	return f
}

func TestSessionLifecycle(t *testing.T) {
	db := setupTestDB(t)

	if err := db.StartSession("s1", "VLP-16", "udp://:2368"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := db.StartSession("s1", "VLP-16", "udp://:2368"); err == nil {
		t.Error("expected duplicate session to fail")
	}

	s, err := db.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.Ended || s.SensorModel != "VLP-16" || s.Source != "udp://:2368" {
		t.Errorf("unexpected session %+v", s)
	}

	stats := lidar.StatsSnapshot{Packets: 10, Bytes: 12060, Dropped: 1, Rejected: 2, Frames: 3, Points: 300}
	if err := db.EndSession("s1", stats); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	s, err = db.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !s.Ended {
		t.Error("session should be ended")
	}
	if s.Packets != 10 || s.Bytes != 12060 || s.Dropped != 1 || s.Rejected != 2 || s.Frames != 3 || s.Points != 300 {
		t.Errorf("counters not stored: %+v", s)
	}

	if err := db.EndSession("missing", stats); err == nil {
		t.Error("expected error ending unknown session")
	}
}

func TestRecordFrame(t *testing.T) {
	db := setupTestDB(t)
	if err := db.StartSession("s1", "VLP-16", "file.pcap"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	first := testFrame(1000001000000,
		l2frames.Point{X: -1, Y: 2, Z: 0.5},
		l2frames.Point{X: 3, Y: -4, Z: -0.25},
	)
	empty := testFrame(1000003000000)

	for _, f := range []*l2frames.Frame{first, empty} {
		if err := db.RecordFrame("s1", f); err != nil {
			t.Fatalf("RecordFrame: %v", err)
		}
	}
	if err := db.RecordFrame("s1", first); err == nil {
		t.Error("expected duplicate frame id to fail")
	}
	if err := db.RecordFrame("nope", testFrame(1)); err == nil {
		t.Error("expected unknown session to violate the foreign key")
	}

	n, err := db.FrameCount("s1")
	if err != nil {
		t.Fatalf("FrameCount: %v", err)
	}
	if n != 2 {
		t.Errorf("FrameCount = %d, want 2", n)
	}

	recent, err := db.RecentFrames(10)
	if err != nil {
		t.Fatalf("RecentFrames: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("RecentFrames returned %d rows, want 2", len(recent))
	}

	// Newest first.
	if recent[0].FrameID != empty.ID || recent[0].PointCount != 0 || recent[0].Min != nil {
		t.Errorf("unexpected empty frame record %+v", recent[0])
	}
	got := recent[1]
	if got.FrameID != first.ID || got.SessionID != "s1" || got.SensorModel != "VLP-16" {
		t.Errorf("unexpected frame record %+v", got)
	}
	if got.TimestampUs != 1000001000000 || got.PointCount != 2 {
		t.Errorf("timestamp/count = %d/%d", got.TimestampUs, got.PointCount)
	}
	if got.Min == nil || *got.Min != [3]float64{-1, -4, -0.25} {
		t.Errorf("Min = %v", got.Min)
	}
	if got.Max == nil || *got.Max != [3]float64{3, 2, 0.5} {
		t.Errorf("Max = %v", got.Max)
	}

	limited, err := db.RecentFrames(1)
	if err != nil {
		t.Fatalf("RecentFrames: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d rows", len(limited))
	}
}
