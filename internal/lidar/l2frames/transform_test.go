package l2frames

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		values  []float64
		wantErr error
	}{
		{
			name: "identity",
			values: []float64{
				1, 0, 0, 0,
				0, 1, 0, 0,
				0, 0, 1, 0,
				0, 0, 0, 1,
			},
		},
		{name: "too few", values: []float64{1, 0, 0}},
		{
			name: "projective bottom row",
			values: []float64{
				1, 0, 0, 0,
				0, 1, 0, 0,
				0, 0, 1, 0,
				0, 0, 1, 1,
			},
			wantErr: ErrNotAffine,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr, err := NewTransform(tt.values)
			if len(tt.values) != 16 || tt.wantErr != nil {
				require.Error(t, err)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.values, tr.RowMajor())
		})
	}
}

func TestNewTransform_CopiesInput(t *testing.T) {
	values := Translation(1, 2, 3).RowMajor()
	tr, err := NewTransform(values)
	require.NoError(t, err)
	values[3] = 100

	x, y, z := tr.Apply(0, 0, 0)
	assert.Equal(t, [3]float64{1, 2, 3}, [3]float64{x, y, z})
}

func TestTransform_Apply(t *testing.T) {
	t.Parallel()

	var none *Transform
	x, y, z := none.Apply(1, 2, 3)
	assert.Equal(t, [3]float64{1, 2, 3}, [3]float64{x, y, z})

	x, y, z = Identity().Apply(1, 2, 3)
	assert.Equal(t, [3]float64{1, 2, 3}, [3]float64{x, y, z})

	x, y, z = Translation(-1, 5, 0.5).Apply(1, 2, 3)
	assert.Equal(t, [3]float64{0, 7, 3.5}, [3]float64{x, y, z})

	x, y, z = RotationZ(90).Apply(1, 0, 7)
	assert.InDelta(t, 0.0, x, 1e-12)
	assert.InDelta(t, 1.0, y, 1e-12)
	assert.Equal(t, 7.0, z)
}

func TestTransform_ThenAndInverse(t *testing.T) {
	t.Parallel()

	tr := RotationZ(30).Then(Translation(10, 0, -2))
	x, y, z := tr.Apply(3, 4, 5)

	rx, ry, rz := RotationZ(30).Apply(3, 4, 5)
	assert.InDelta(t, rx+10, x, 1e-9)
	assert.InDelta(t, ry, y, 1e-9)
	assert.InDelta(t, rz-2, z, 1e-9)

	inv, err := tr.Inverse()
	require.NoError(t, err)
	bx, by, bz := inv.Apply(x, y, z)
	assert.InDelta(t, 3.0, bx, 1e-9)
	assert.InDelta(t, 4.0, by, 1e-9)
	assert.InDelta(t, 5.0, bz, 1e-9)

	var none *Transform
	assert.Same(t, tr, none.Then(tr))
	assert.Same(t, tr, tr.Then(nil))
}
