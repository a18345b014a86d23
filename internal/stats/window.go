// Package stats keeps bounded sample windows and derives summary statistics from them.
//
// Every rolling percentile in the pipeline uses Window: it holds the most recent
// N samples and evicts the oldest once full.
package stats

import (
	"math"
	"sort"
)

// DefaultWindowSize is the sample count used when a caller passes a non-positive size.
const DefaultWindowSize = 100

// Window is a fixed-capacity ring of float64 samples. Not safe for concurrent use.
type Window struct {
	samples []float64
	next    int
	full    bool
}

// Summary describes the samples currently held by a Window.
type Summary struct {
	Count int
	Min   float64
	Max   float64
	Avg   float64
	P50   float64
	P95   float64
}

// NewWindow creates a window holding at most size samples.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{samples: make([]float64, 0, size)}
}

// Add records a sample, evicting the oldest one when the window is full.
// NaN and infinite samples are ignored.
func (w *Window) Add(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if !w.full {
		w.samples = append(w.samples, v)
		if len(w.samples) == cap(w.samples) {
			w.full = true
		}
		return
	}
	w.samples[w.next] = v
	w.next = (w.next + 1) % len(w.samples)
}

// Len returns the number of samples held.
func (w *Window) Len() int { return len(w.samples) }

// Cap returns the maximum number of samples held.
func (w *Window) Cap() int { return cap(w.samples) }

// Reset drops every sample.
func (w *Window) Reset() {
	w.samples = w.samples[:0]
	w.next = 0
	w.full = false
}

// Mean returns the arithmetic mean, or 0 for an empty window.
func (w *Window) Mean() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.samples {
		sum += v
	}
	return sum / float64(len(w.samples))
}

// Summary computes min, max, mean and percentiles over the held samples.
func (w *Window) Summary() Summary {
	n := len(w.samples)
	if n == 0 {
		return Summary{}
	}
	sorted := make([]float64, n)
	copy(sorted, w.samples)
	sort.Float64s(sorted)

	ps := Percentiles(sorted, []float64{50, 95})
	return Summary{
		Count: n,
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   w.Mean(),
		P50:   ps[0],
		P95:   ps[1],
	}
}

// Percentiles calculates several percentiles (0-100) of values using
// linear interpolation between closest ranks.
func Percentiles(values []float64, ps []float64) []float64 {
	results := make([]float64, len(ps))
	if len(values) == 0 {
		return results
	}

	sorted := values
	if !sort.Float64sAreSorted(values) {
		sorted = make([]float64, len(values))
		copy(sorted, values)
		sort.Float64s(sorted)
	}

	n := float64(len(sorted))
	for i, p := range ps {
		p = math.Max(0, math.Min(100, p))
		index := p / 100.0 * (n - 1)
		lower := int(math.Floor(index))
		upper := int(math.Ceil(index))
		if lower == upper {
			results[i] = sorted[lower]
			continue
		}
		weight := index - float64(lower)
		results[i] = sorted[lower]*(1-weight) + sorted[upper]*weight
	}
	return results
}
