package indicator

// IsPivotLow reports whether series[center] is strictly below every other
// value in [center-left, center+right]. Any missing value fails the test.
func IsPivotLow(series []*float64, center, left, right int) bool {
	return isPivot(series, center, left, right, func(c, v float64) bool { return c < v })
}

// IsPivotHigh is the strict-greater mirror of IsPivotLow.
func IsPivotHigh(series []*float64, center, left, right int) bool {
	return isPivot(series, center, left, right, func(c, v float64) bool { return c > v })
}

func isPivot(series []*float64, center, left, right int, beats func(c, v float64) bool) bool {
	if center < left || center+right >= len(series) || series[center] == nil {
		return false
	}

	c := *series[center]
	for i := center - left; i <= center+right; i++ {
		if i == center {
			continue
		}
		if series[i] == nil || !beats(c, *series[i]) {
			return false
		}
	}
	return true
}

// Pivot is a confirmed RSI extremum.
type Pivot struct {
	Price    float64 // low for bullish pivots, high for bearish
	RSI      float64
	OpenTime int64
	Bar      int64 // absolute bar ordinal of OpenTime
}

// pivotRing keeps the newest pivots of one direction in a fixed-size ring.
type pivotRing struct {
	buf   []Pivot
	start int
	n     int
}

func newPivotRing(capacity int) *pivotRing {
	if capacity < 1 {
		capacity = 1
	}
	return &pivotRing{buf: make([]Pivot, capacity)}
}

func (r *pivotRing) Push(p Pivot) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = p
		r.n++
		return
	}
	r.buf[r.start] = p
	r.start = (r.start + 1) % len(r.buf)
}

func (r *pivotRing) Last() (Pivot, bool) {
	if r.n == 0 {
		return Pivot{}, false
	}
	return r.buf[(r.start+r.n-1)%len(r.buf)], true
}

func (r *pivotRing) Len() int { return r.n }

// DropBefore removes pivots older than bar from the front.
func (r *pivotRing) DropBefore(bar int64) {
	for r.n > 0 && r.buf[r.start].Bar < bar {
		r.start = (r.start + 1) % len(r.buf)
		r.n--
	}
}

// Slice returns the pivots oldest first.
func (r *pivotRing) Slice() []Pivot {
	out := make([]Pivot, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
