package l2frames

import (
	"errors"
	"math"

	"github.com/banshee-data/velocap/internal/lidar/parse"
)

// distanceEpsilon is the raw distance below which a return carries no echo.
// Raw distances are integers, so only 0 is filtered; keep the threshold
// sub-unit so a raw distance of 1 still yields a point.
const distanceEpsilon = 0.001

// ReconstructorConfig configures a Reconstructor.
type ReconstructorConfig struct {
	Calibration parse.Calibration
	Transform   *Transform  // optional, applied to every point
	OnFrame     func(*Frame) // receives each completed rotation, in order
}

// Reconstructor converts a stream of decoded packets into rotation frames.
// It is not safe for concurrent use; the capture pipeline drives it from a
// single goroutine.
type Reconstructor struct {
	cal       parse.Calibration
	transform *Transform
	onFrame   func(*Frame)

	frame       *Frame
	lastAzimuth float64
	lastLen     int
}

// NewReconstructor returns a Reconstructor with an empty in-progress frame.
func NewReconstructor(cfg ReconstructorConfig) (*Reconstructor, error) {
	if !cfg.Calibration.Valid() {
		return nil, errors.New("reconstructor needs a calibration table")
	}
	r := &Reconstructor{
		cal:       cfg.Calibration,
		transform: cfg.Transform,
		onFrame:   cfg.OnFrame,
	}
	r.frame = NewFrame(r.cal.Model(), 0)
	return r, nil
}

// Calibration returns the table this reconstructor was built with.
func (r *Reconstructor) Calibration() parse.Calibration { return r.cal }

// AddPacket folds one packet into the in-progress frame and returns the
// number of frames it completed. ts is the packet's capture timestamp in the
// parse.UnixMicroConcat encoding and stamps any frame closed by this packet.
//
// A frame closes when the azimuth decreases between consecutive returns. The
// check runs before the return is processed, so the return that wraps
// belongs to the new frame.
func (r *Reconstructor) AddPacket(pkt *parse.DataPacket, ts int64) int {
	lasers := r.cal.Lasers()
	interpolated := pkt.Interpolated()
	completed := 0

	for f := range pkt.Blocks {
		block := &pkt.Blocks[f]
		for j := 0; j < parse.LasersPerBlock; j++ {
			channel := j % lasers
			azimuth := float64(block.Rotation)
			if j >= lasers {
				azimuth += interpolated
			}
			if azimuth >= parse.RotationUnits {
				azimuth -= parse.RotationUnits
			}

			if r.lastAzimuth > azimuth {
				r.closeFrame(ts)
				completed++
			}

			// Slots past the laser count repeat the first firing's returns
			// at the interpolated azimuth.
			ret := block.Returns[channel]
			if float64(ret.Distance) < distanceEpsilon {
				continue
			}

			r.frame.PushPoint(r.point(ret, channel, azimuth))
			r.lastAzimuth = azimuth
		}
	}
	return completed
}

// point converts one return to Cartesian coordinates.
func (r *Reconstructor) point(ret parse.LaserReturn, channel int, azimuth float64) Point {
	dist := float64(ret.Distance) * parse.DistanceUnitMM
	rad := azimuth * math.Pi / 18000.0
	cosV := r.cal.CosVertical(channel)
	x := dist * cosV * math.Sin(rad)
	y := dist * cosV * math.Cos(rad)
	z := dist * r.cal.SinVertical(channel)
	x, y, z = r.transform.Apply(x, y, z)
	return Point{
		X:         x,
		Y:         y,
		Z:         z,
		Intensity: ret.Intensity,
		Channel:   uint8(channel),
		Azimuth:   azimuth,
	}
}

func (r *Reconstructor) closeFrame(ts int64) {
	done := r.frame
	done.Finalize(ts)
	r.lastLen = done.Len()
	r.frame = NewFrame(r.cal.Model(), r.lastLen)
	if r.onFrame != nil {
		r.onFrame(done)
	}
}

// Pending returns the number of points in the in-progress frame.
func (r *Reconstructor) Pending() int { return r.frame.Len() }

// Reset discards the in-progress frame and forgets the last azimuth.
func (r *Reconstructor) Reset() {
	r.frame = NewFrame(r.cal.Model(), r.lastLen)
	r.lastAzimuth = 0
}
