// Package timewindow tiles a duration into equal fixed-size buckets.
//
// Every windowed metric (energy, pitch, pace, content segments) uses the same
// tiling so that windows computed by different stages line up positionally.
package timewindow

import "math"

type Window struct {
	Index int
	Start float64
	End   float64
	Last  bool
}

func (w Window) Duration() float64 { return w.End - w.Start }

// Contains reports whether t falls in [Start, End). The last window also
// includes its End so that a point at exactly the total duration is counted.
func (w Window) Contains(t float64) bool {
	if t < w.Start {
		return false
	}
	if w.Last {
		return t <= w.End
	}
	return t < w.End
}

// Count returns ceil(total/target), or 0 when either value is not positive.
func Count(total, target float64) int {
	if total <= 0 || target <= 0 {
		return 0
	}
	return int(math.Ceil(total / target))
}

// Tile splits [offset, offset+total] into Count(total, target) windows of
// identical size total/n. The last window ends exactly at offset+total.
func Tile(offset, total, target float64) []Window {
	n := Count(total, target)
	if n == 0 {
		return nil
	}
	size := total / float64(n)
	out := make([]Window, n)
	for i := 0; i < n; i++ {
		out[i] = Window{
			Index: i,
			Start: offset + float64(i)*size,
			End:   offset + float64(i+1)*size,
			Last:  i == n-1,
		}
	}
	out[n-1].End = offset + total
	return out
}

// Locate returns the index of the window in ws containing t, or -1.
// ws must come from Tile.
func Locate(ws []Window, t float64) int {
	if len(ws) == 0 {
		return -1
	}
	size := ws[0].Duration()
	if size <= 0 {
		return -1
	}
	i := int(math.Floor((t - ws[0].Start) / size))
	if i < 0 {
		return -1
	}
	if i >= len(ws) {
		i = len(ws) - 1
	}
	// Float drift can put t one bucket off; settle it with Contains.
	for i > 0 && t < ws[i].Start {
		i--
	}
	for i < len(ws)-1 && t >= ws[i].End {
		i++
	}
	if !ws[i].Contains(t) {
		return -1
	}
	return i
}
