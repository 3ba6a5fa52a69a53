package parse

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// SensorModel identifies one of the supported Velodyne laser geometries.
type SensorModel int

const (
	ModelUnknown SensorModel = iota // no calibration table
	ModelVLP16                      // 16 lasers, factory byte 0x22
	ModelHDL32E                     // 32 lasers, factory byte 0x21
)

// Factory "sensor type" bytes found at SensorTypeOffset in every data packet.
const (
	SensorTypeHDL32E byte = 0x21
	SensorTypeVLP16  byte = 0x22
)

// ErrUnknownModel is returned when a model name or value has no calibration table.
var ErrUnknownModel = errors.New("unknown sensor model")

func (m SensorModel) String() string {
	switch m {
	case ModelVLP16:
		return "VLP-16"
	case ModelHDL32E:
		return "HDL-32E"
	default:
		return fmt.Sprintf("SensorModel(%d)", int(m))
	}
}

// SensorType returns the factory byte the sensor writes into its packets.
func (m SensorModel) SensorType() byte {
	switch m {
	case ModelVLP16:
		return SensorTypeVLP16
	case ModelHDL32E:
		return SensorTypeHDL32E
	}
	return 0
}

// ParseSensorModel accepts "vlp16", "VLP-16", "hdl32e", "HDL-32E" and similar
// spellings, ignoring case, dashes and underscores.
func ParseSensorModel(name string) (SensorModel, error) {
	norm := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(name))
	switch norm {
	case "vlp16":
		return ModelVLP16, nil
	case "hdl32e", "hdl32":
		return ModelHDL32E, nil
	}
	return ModelUnknown, fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

// ModelForSensorType maps a packet's factory byte to a SensorModel.
func ModelForSensorType(b byte) (SensorModel, bool) {
	switch b {
	case SensorTypeVLP16:
		return ModelVLP16, true
	case SensorTypeHDL32E:
		return ModelHDL32E, true
	}
	return ModelUnknown, false
}

// Vertical angles in degrees, indexed by physical laser channel.
var (
	vlp16VerticalDeg = [...]float64{
		-15, 1, -13, 3, -11, 5, -9, 7, -7, 9, -5, 11, -3, 13, -1, 15,
	}
	hdl32eVerticalDeg = [...]float64{
		-30.67, -9.33, -29.33, -8.0, -28, -6.67, -26.67, -5.33,
		-25.33, -4.0, -24.0, -2.67, -22.67, -1.33, -21.33, 0.0,
		-20.0, 1.33, -18.67, 2.67, -17.33, 4.0, -16, 5.33,
		-14.67, 6.67, -13.33, 8.0, -12.0, 9.33, -10.67, 10.67,
	}
)

// Calibration holds the per-channel vertical geometry for one sensor model.
// Values are fixed at construction; the zero value is not usable.
//
// The cos/sin tables are derived from the vertical angles and cannot be set
// independently, so a Calibration can be shared freely between goroutines.
type Calibration struct {
	model    SensorModel
	vertical []float64
	cos      []float64
	sin      []float64
}

func newCalibration(model SensorModel, verticalDeg []float64) Calibration {
	c := Calibration{
		model:    model,
		vertical: make([]float64, len(verticalDeg)),
		cos:      make([]float64, len(verticalDeg)),
		sin:      make([]float64, len(verticalDeg)),
	}
	copy(c.vertical, verticalDeg)
	for i, deg := range verticalDeg {
		rad := deg * math.Pi / 180.0
		c.cos[i] = math.Cos(rad)
		c.sin[i] = math.Sin(rad)
	}
	return c
}

// VLP16Calibration returns the 16-laser VLP-16 table.
func VLP16Calibration() Calibration {
	return newCalibration(ModelVLP16, vlp16VerticalDeg[:])
}

// HDL32ECalibration returns the 32-laser HDL-32E table.
func HDL32ECalibration() Calibration {
	return newCalibration(ModelHDL32E, hdl32eVerticalDeg[:])
}

// CalibrationFor returns the built-in table for model.
func CalibrationFor(model SensorModel) (Calibration, error) {
	switch model {
	case ModelVLP16:
		return VLP16Calibration(), nil
	case ModelHDL32E:
		return HDL32ECalibration(), nil
	}
	return Calibration{}, fmt.Errorf("%w: %v", ErrUnknownModel, model)
}

// Model returns the sensor model this table describes.
func (c Calibration) Model() SensorModel { return c.model }

// Lasers returns the number of physical laser channels.
func (c Calibration) Lasers() int { return len(c.vertical) }

// VerticalDeg returns the vertical angle of channel ch in degrees.
func (c Calibration) VerticalDeg(ch int) float64 { return c.vertical[ch] }

// CosVertical returns cos of channel ch's vertical angle.
func (c Calibration) CosVertical(ch int) float64 { return c.cos[ch] }

// SinVertical returns sin of channel ch's vertical angle.
func (c Calibration) SinVertical(ch int) float64 { return c.sin[ch] }

// Valid reports whether c was produced by one of the constructors.
func (c Calibration) Valid() bool {
	return c.model != ModelUnknown && len(c.vertical) > 0
}
