package l2frames

import (
	"math"

	"github.com/google/uuid"

	"github.com/banshee-data/velocap/internal/lidar/parse"
)

// Point is one reconstructed laser return in sensor (or transformed) space.
// Coordinates carry the raw range scale: distance LSB × 2, i.e. millimetres.
type Point struct {
	X, Y, Z   float64
	Intensity uint8
	Channel   uint8   // physical laser channel
	Azimuth   float64 // hundredths of a degree, [0, 36000)
}

// Frame is the point cloud of one full sensor rotation. Height is always 1:
// a frame is an unorganised scan whose Width equals its point count once
// finalised.
type Frame struct {
	ID        string
	Model     parse.SensorModel
	Timestamp int64 // see parse.UnixMicroConcat
	Width     int
	Height    int
	Points    []Point
}

// NewFrame starts an empty frame for model. capacity pre-sizes the point
// slice and may be zero.
func NewFrame(model parse.SensorModel, capacity int) *Frame {
	return &Frame{
		ID:     uuid.NewString(),
		Model:  model,
		Height: 1,
		Points: make([]Point, 0, capacity),
	}
}

// PushPoint appends p.
func (f *Frame) PushPoint(p Point) {
	f.Points = append(f.Points, p)
}

// Len returns the number of points pushed so far.
func (f *Frame) Len() int { return len(f.Points) }

// Finalize stamps the frame and fixes its dimensions. Empty frames are valid.
func (f *Frame) Finalize(ts int64) {
	f.Timestamp = ts
	f.Width = len(f.Points)
	f.Height = 1
}

// Bounds returns the axis-aligned extent of the frame. ok is false for an
// empty frame.
func (f *Frame) Bounds() (lo, hi [3]float64, ok bool) {
	if len(f.Points) == 0 {
		return lo, hi, false
	}
	lo = [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi = [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, p := range f.Points {
		for i, v := range [3]float64{p.X, p.Y, p.Z} {
			if v < lo[i] {
				lo[i] = v
			}
			if v > hi[i] {
				hi[i] = v
			}
		}
	}
	return lo, hi, true
}
