package l2frames

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrNotAffine is returned for a 4×4 matrix whose bottom row is not 0 0 0 1.
var ErrNotAffine = errors.New("transform is not affine")

const affineTolerance = 1e-9

// Transform is an immutable 4×4 homogeneous affine transform. Only the top
// 3×4 block takes part in Apply; the bottom row must be 0 0 0 1.
//
// A nil *Transform is valid and means "no transform".
type Transform struct {
	m *mat.Dense
	// a caches the 3×4 block row-major for Apply.
	a [12]float64
}

// NewTransform builds a transform from 16 row-major values.
func NewTransform(rowMajor []float64) (*Transform, error) {
	if len(rowMajor) != 16 {
		return nil, fmt.Errorf("transform needs 16 values, got %d", len(rowMajor))
	}
	for i, v := range rowMajor {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("transform value %d is not finite", i)
		}
	}
	data := make([]float64, 16)
	copy(data, rowMajor)
	return newTransform(mat.NewDense(4, 4, data))
}

func newTransform(m *mat.Dense) (*Transform, error) {
	bottom := [4]float64{0, 0, 0, 1}
	for c := 0; c < 4; c++ {
		if math.Abs(m.At(3, c)-bottom[c]) > affineTolerance {
			return nil, fmt.Errorf("%w: bottom row [%g %g %g %g]", ErrNotAffine,
				m.At(3, 0), m.At(3, 1), m.At(3, 2), m.At(3, 3))
		}
	}
	t := &Transform{m: m}
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			t.a[r*4+c] = m.At(r, c)
		}
	}
	return t, nil
}

func mustTransform(m *mat.Dense) *Transform {
	t, err := newTransform(m)
	if err != nil {
		panic(err)
	}
	return t
}

// Identity returns the identity transform.
func Identity() *Transform {
	return mustTransform(mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}))
}

// Translation returns a transform that shifts points by (x, y, z).
func Translation(x, y, z float64) *Transform {
	return mustTransform(mat.NewDense(4, 4, []float64{
		1, 0, 0, x,
		0, 1, 0, y,
		0, 0, 1, z,
		0, 0, 0, 1,
	}))
}

// RotationZ returns a rotation of deg degrees about the sensor's vertical axis.
func RotationZ(deg float64) *Transform {
	s, c := math.Sincos(deg * math.Pi / 180.0)
	return mustTransform(mat.NewDense(4, 4, []float64{
		c, -s, 0, 0,
		s, c, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}))
}

// Then returns the transform that applies t first and next second.
func (t *Transform) Then(next *Transform) *Transform {
	switch {
	case t == nil:
		return next
	case next == nil:
		return t
	}
	var out mat.Dense
	out.Mul(next.m, t.m)
	return mustTransform(mat.DenseCopyOf(&out))
}

// Inverse returns the inverse transform.
func (t *Transform) Inverse() (*Transform, error) {
	if t == nil {
		return nil, nil
	}
	var inv mat.Dense
	if err := inv.Inverse(t.m); err != nil {
		return nil, fmt.Errorf("invert transform: %w", err)
	}
	return newTransform(&inv)
}

// Apply returns M·[x y z 1].
func (t *Transform) Apply(x, y, z float64) (float64, float64, float64) {
	if t == nil {
		return x, y, z
	}
	a := &t.a
	return a[0]*x + a[1]*y + a[2]*z + a[3],
		a[4]*x + a[5]*y + a[6]*z + a[7],
		a[8]*x + a[9]*y + a[10]*z + a[11]
}

// RowMajor returns a copy of the 16 matrix values.
func (t *Transform) RowMajor() []float64 {
	out := make([]float64, 16)
	if t == nil {
		copy(out, Identity().RowMajor())
		return out
	}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = t.m.At(r, c)
		}
	}
	return out
}
