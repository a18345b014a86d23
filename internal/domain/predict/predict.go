// Package predict extrapolates pointer positions from a known position and velocity.
package predict

import "github.com/golang/geo/r2"

// msPerSecond converts a millisecond lookahead into seconds of travel.
const msPerSecond = 1000.0

// Position returns last + velocity*lookaheadMs/1000, with velocity in pixels per second.
func Position(last, velocity r2.Point, lookaheadMs float64) r2.Point {
	return last.Add(velocity.Mul(lookaheadMs / msPerSecond))
}

// Velocity returns the displacement from prev to next divided by dtSeconds.
// A non-positive interval yields the zero vector, never NaN or Inf.
func Velocity(prev, next r2.Point, dtSeconds float64) r2.Point {
	if dtSeconds <= 0 {
		return r2.Point{}
	}
	return next.Sub(prev).Mul(1 / dtSeconds)
}

// Smooth blends a previous velocity into the current one. factor is the weight of
// prev in [0, 1]; 0 returns current unchanged.
func Smooth(prev, current r2.Point, factor float64) r2.Point {
	if factor <= 0 {
		return current
	}
	if factor >= 1 {
		return prev
	}
	return prev.Mul(factor).Add(current.Mul(1 - factor))
}
