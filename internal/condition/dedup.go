package condition

import "time"

// Tag identifies one alert for one candle. Once marked it blocks every further
// alert for the same tuple until it expires or a newer candle opens.
type Tag struct {
	Symbol    string
	Interval  string
	OpenTime  int64
	Condition string
}

type dedup struct {
	ttl   time.Duration
	marks map[Tag]time.Time
}

func newDedup(ttl time.Duration) *dedup {
	return &dedup{ttl: ttl, marks: make(map[Tag]time.Time)}
}

func (d *dedup) mark(t Tag, now time.Time) {
	d.marks[t] = now
}

func (d *dedup) marked(t Tag) bool {
	_, ok := d.marks[t]
	return ok
}

func (d *dedup) expire(now time.Time) int {
	n := 0
	for t, at := range d.marks {
		if now.Sub(at) > d.ttl {
			delete(d.marks, t)
			n++
		}
	}
	return n
}

// dropBefore removes tags of a series older than openTime.
func (d *dedup) dropBefore(symbol, interval string, openTime int64) int {
	n := 0
	for t := range d.marks {
		if t.Symbol == symbol && t.Interval == interval && t.OpenTime < openTime {
			delete(d.marks, t)
			n++
		}
	}
	return n
}
