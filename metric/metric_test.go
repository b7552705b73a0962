package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSquaredL2(t *testing.T) {
	d, err := SquaredL2([]float32{1, 2, 3}, []float32{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, float32(0), d)

	d, err = SquaredL2([]float32{0, 0}, []float32{3, 4})
	require.NoError(t, err)
	assert.Equal(t, float32(25), d)

	_, err = SquaredL2([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestCosineDistance(t *testing.T) {
	d, err := CosineDistance([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-6)

	d, err = CosineDistance([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1, d, 1e-6)

	d, err = CosineDistance([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 2, d, 1e-6)

	// Zero vector is equidistant from everything.
	d, err = CosineDistance([]float32{0, 0}, []float32{1, 2})
	require.NoError(t, err)
	assert.Equal(t, float32(1), d)

	_, err = CosineDistance([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestByName(t *testing.T) {
	fn, ok := ByName(NameSquaredL2)
	require.True(t, ok)
	require.NotNil(t, fn)

	fn, ok = ByName(NameCosine)
	require.True(t, ok)
	require.NotNil(t, fn)

	_, ok = ByName("manhattan")
	assert.False(t, ok)
}
