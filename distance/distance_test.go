package distance

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/scanngo/core"
)

func TestByName(t *testing.T) {
	t.Run("AllRegistered", func(t *testing.T) {
		for _, name := range Names() {
			f, err := ByName(name)
			require.NoError(t, err, name)
			assert.NotNil(t, f, name)
		}
		assert.Len(t, Names(), 15)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := ByName("")
		require.Error(t, err)
		assert.True(t, errors.Is(err, core.ErrInvalidArgument))
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := ByName("NoSuchDistance")
		require.Error(t, err)
		assert.True(t, errors.Is(err, core.ErrInvalidArgument))

		var unknown *ErrUnknownMeasure
		require.True(t, errors.As(err, &unknown))
		assert.Equal(t, "NoSuchDistance", unknown.Name)
	})
}

func TestCompute(t *testing.T) {
	d, err := Compute(SquaredL2, []float32{1, 2}, []float32{1, 2})
	require.NoError(t, err)
	assert.Equal(t, float32(0), d)

	_, err = Compute(SquaredL2, []float32{1, 2}, []float32{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))
}

func TestDotProduct(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, -32},
		{"Zero", []float32{0, 0}, []float32{1, 1}, 0},
		{"Negative", []float32{1, -1}, []float32{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, DotProduct(tt.a, tt.b), 1e-5)
			// Symmetry.
			assert.InDelta(t, DotProduct(tt.a, tt.b), DotProduct(tt.b, tt.a), 1e-5)
		})
	}

	assert.InDelta(t, float32(-32), AbsDotProduct([]float32{1, 2, 3}, []float32{4, 5, 6}), 1e-5)
	// dot = 1 - 3 = -2, abs then negate.
	assert.InDelta(t, float32(-2), AbsDotProduct([]float32{1, -1}, []float32{1, 3}), 1e-5)
}

func TestL2Family(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 6, 3}

	assert.InDelta(t, float32(25), SquaredL2(a, b), 1e-5)
	assert.InDelta(t, float32(5), L2(a, b), 1e-5)
	assert.InDelta(t, float32(-25), NegatedSquaredL2(a, b), 1e-5)
	assert.InDelta(t, float32(7), L1(a, b), 1e-5)

	// distance(a, a) == 0 for the metric family.
	for _, f := range []Func{L1, L2, SquaredL2, Cosine} {
		assert.InDelta(t, float32(0), f(a, a), 1e-5)
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Identical", []float32{1, 2}, []float32{1, 2}, 0},
		{"Scaled", []float32{1, 0}, []float32{5, 0}, 0},
		{"Orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"Opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"ZeroNorm", []float32{0, 0}, []float32{1, 1}, 1},
		{"BothZero", []float32{0, 0}, []float32{0, 0}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			assert.InDelta(t, tt.expected, got, 1e-5)
			// Range contract.
			assert.GreaterOrEqual(t, got, float32(0))
			assert.LessOrEqual(t, got, float32(2))
		})
	}
}

func TestBinaryCosine(t *testing.T) {
	assert.InDelta(t, float32(0), BinaryCosine([]float32{1, 1, 0}, []float32{2, 5, 0}), 1e-5)
	assert.InDelta(t, float32(1), BinaryCosine([]float32{1, 0}, []float32{0, 1}), 1e-5)
	assert.InDelta(t, float32(1), BinaryCosine([]float32{0, 0}, []float32{1, 1}), 1e-5)
	// |A∩B|=1, |A|=2, |B|=1 -> 1 - 1/sqrt(2)
	assert.InDelta(t, float32(0.29289), BinaryCosine([]float32{1, 1}, []float32{1, 0}), 1e-4)
}

func TestJaccardFamily(t *testing.T) {
	t.Run("General", func(t *testing.T) {
		// min-sum = 1+2=3, max-sum = 2+4=6 -> 0.5
		assert.InDelta(t, float32(0.5), GeneralJaccard([]float32{1, 4}, []float32{2, 2}), 1e-5)
		assert.InDelta(t, float32(0), GeneralJaccard([]float32{1, 2}, []float32{1, 2}), 1e-5)
		assert.InDelta(t, float32(0), GeneralJaccard([]float32{0, 0}, []float32{0, 0}), 1e-5)
		assert.InDelta(t, float32(1), GeneralJaccard([]float32{1, 0}, []float32{0, 2}), 1e-5)
	})

	t.Run("Binary", func(t *testing.T) {
		// A={0,1}, B={1,2}: |A∩B|=1, |A∪B|=3
		got := BinaryJaccard([]float32{1, 1, 0}, []float32{0, 3, 2})
		assert.InDelta(t, float32(1.0/3*2), got, 1e-5)
		assert.InDelta(t, float32(0), BinaryJaccard([]float32{0, 0}, []float32{0, 0}), 1e-5)
		assert.InDelta(t, float32(1), BinaryJaccard([]float32{1, 0}, []float32{0, 1}), 1e-5)
	})
}

func TestHammingFamily(t *testing.T) {
	assert.Equal(t, float32(2), GeneralHamming([]float32{1, 2, 3}, []float32{1, 0, 4}))
	assert.Equal(t, float32(0), GeneralHamming([]float32{1, 2}, []float32{1, 2}))

	// Nonzero-ness differs only in the middle position.
	assert.Equal(t, float32(1), BinaryHamming([]float32{1, 2, 0}, []float32{3, 0, 0}))
}

func TestLimitedInnerProduct(t *testing.T) {
	// dot=8, norms 5 and 2 -> -8/5
	got := LimitedInnerProduct([]float32{3, 4}, []float32{0, 2})
	assert.InDelta(t, float32(-1.6), got, 1e-5)

	assert.Equal(t, float32(0), LimitedInnerProduct([]float32{0, 0}, []float32{0, 0}))
}

func TestNonzeroIntersect(t *testing.T) {
	assert.Equal(t, float32(-2), NonzeroIntersect([]float32{1, 2, 0}, []float32{3, 1, 0}))
	assert.Equal(t, float32(0), NonzeroIntersect([]float32{1, 0}, []float32{0, 1}))
}
