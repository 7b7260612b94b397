package alert

import "time"

const windowCapacity = 100

// Window is a bounded, time-ordered record of event timestamps.
type Window struct {
	buf   []time.Time
	start int
	n     int
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = windowCapacity
	}
	return &Window{buf: make([]time.Time, capacity)}
}

// Add appends t, evicting the oldest entry when full.
func (w *Window) Add(t time.Time) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = t
		w.n++
		return
	}
	w.buf[w.start] = t
	w.start = (w.start + 1) % len(w.buf)
}

// CountSince counts events strictly after cutoff.
func (w *Window) CountSince(cutoff time.Time) int {
	count := 0
	for i := w.n - 1; i >= 0; i-- {
		if !w.buf[(w.start+i)%len(w.buf)].After(cutoff) {
			break
		}
		count++
	}
	return count
}

// Latest returns the newest timestamp.
func (w *Window) Latest() (time.Time, bool) {
	if w.n == 0 {
		return time.Time{}, false
	}
	return w.buf[(w.start+w.n-1)%len(w.buf)], true
}

func (w *Window) Len() int { return w.n }
