package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func vals(xs ...float64) []*float64 {
	out := make([]*float64, len(xs))
	for i := range xs {
		out[i] = &xs[i]
	}
	return out
}

// go test -v --run TestPivotLow
func TestPivotLow(t *testing.T) {
	s := vals(50, 45, 40, 35, 30, 25, 30, 35, 40, 45, 50)
	assert.True(t, IsPivotLow(s, 5, 5, 5))
	assert.False(t, IsPivotHigh(s, 5, 5, 5))

	// equality is not strict
	s = vals(50, 45, 40, 35, 30, 25, 25, 35, 40, 45, 50)
	assert.False(t, IsPivotLow(s, 5, 5, 5))

	// window out of range
	assert.False(t, IsPivotLow(s, 3, 5, 5))
	assert.False(t, IsPivotLow(s, 8, 5, 5))
	assert.False(t, IsPivotLow(nil, 0, 0, 0))
}

// go test -v --run TestPivotMonotonicDecline
func TestPivotMonotonicDecline(t *testing.T) {
	xs := make([]float64, 40)
	for i := range xs {
		xs[i] = 80 - float64(i)
	}
	s := vals(xs...)
	for c := 0; c < len(s); c++ {
		assert.False(t, IsPivotLow(s, c, 5, 5), "center %d", c)
	}
}

// go test -v --run TestPivotMissingValue
func TestPivotMissingValue(t *testing.T) {
	s := vals(50, 45, 40, 35, 30, 25, 30, 35, 40, 45, 50)
	s[9] = nil
	assert.False(t, IsPivotLow(s, 5, 5, 5))
}

// go test -v --run TestPivotHigh
func TestPivotHigh(t *testing.T) {
	s := vals(1, 2, 3, 9, 3, 2, 1)
	assert.True(t, IsPivotHigh(s, 3, 3, 3))
	assert.True(t, IsPivotHigh(s, 3, 1, 2))
	assert.False(t, IsPivotHigh(s, 2, 1, 1))
}

// go test -v --run TestPivotRing
func TestPivotRing(t *testing.T) {
	r := newPivotRing(3)
	_, ok := r.Last()
	assert.False(t, ok)

	for i := int64(1); i <= 5; i++ {
		r.Push(Pivot{Bar: i})
	}
	assert.Equal(t, 3, r.Len())
	last, _ := r.Last()
	assert.Equal(t, int64(5), last.Bar)
	assert.Equal(t, []int64{3, 4, 5}, bars(r.Slice()))

	r.DropBefore(5)
	assert.Equal(t, []int64{5}, bars(r.Slice()))
	r.DropBefore(10)
	assert.Zero(t, r.Len())
}

func bars(ps []Pivot) []int64 {
	out := make([]int64, len(ps))
	for i, p := range ps {
		out[i] = p.Bar
	}
	return out
}
