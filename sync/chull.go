// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sync

import "math"

// This file implements the Analysis stage (component K): given every
// Message observed between one unordered pair of traces, it bounds the
// affine factor (Slope, Offset) mapping trace lo's clock onto trace hi's
// by building two half-hulls (one per message direction) and finding the
// minimum-drift and maximum-drift tangent lines between them, the way
// event_analysis_chull.c derives hullArray[lo][hi]/hullArray[hi][lo] and
// calculateFactorsExact's tangent search and bisector construction.

type point struct{ x, y float64 }

// hull is an incrementally built half-hull: points are inserted in what
// should be increasing x order, matching the order segments arrive in
// the trace; a point landing behind the current rightmost x is out of
// order and is dropped instead of breaking the hull's invariant. A point
// at the same x replaces the rightmost point when its (possibly negated)
// y is not greater, and is dropped otherwise.
// invert selects which of the two half-hulls this one is: false builds
// the ordinary (geometric) lower hull, true negates y on the way in and
// out to build the upper hull with the same turn test.
type hull struct {
	invert  bool
	pts     []point
	Dropped int
}

func newHull(invert bool) *hull {
	return &hull{invert: invert}
}

func (h *hull) insert(p point) {
	q := p
	if h.invert {
		q.y = -q.y
	}
	if n := len(h.pts); n > 0 {
		last := h.pts[n-1]
		switch {
		case q.x < last.x:
			h.Dropped++
			return
		case q.x == last.x:
			if q.y > last.y {
				h.Dropped++
				return
			}
			h.pts = h.pts[:n-1]
		}
	}
	for len(h.pts) >= 2 && cross(h.pts[len(h.pts)-2], h.pts[len(h.pts)-1], q) <= 0 {
		h.pts = h.pts[:len(h.pts)-1]
	}
	h.pts = append(h.pts, q)
}

func (h *hull) points() []point {
	out := make([]point, len(h.pts))
	copy(out, h.pts)
	if h.invert {
		for i := range out {
			out[i].y = -out[i].y
		}
	}
	return out
}

func cross(o, a, b point) float64 {
	return (a.x-o.x)*(b.y-o.y) - (a.y-o.y)*(b.x-o.x)
}

// AnalyzePair fits a Factor mapping trace lo's clock to trace hi's clock
// (by convention lo < hi; Reduce derives the opposite direction) from
// every Message observed between them. Messages traveling lo->hi bound
// the true affine line from above: the line's value can be at most the
// receive time observed for any send time, since network delay is
// non-negative. These points form hullArray[lo][hi], the spec's "upper
// half-hull" (geometrically the point set's lower hull, since that is
// the tight upper bound on a line passing below every point). Messages
// traveling hi->lo, replotted in the (lo,hi) coordinate frame by
// swapping which side is x and which is y, bound the line from below and
// form hullArray[hi][lo] (geometrically the point set's upper hull).
func AnalyzePair(lo, hi TraceID, messages []Message) Factor {
	if len(messages) == 0 {
		return Factor{From: lo, To: hi, Class: Absent}
	}

	above := newHull(false)
	below := newHull(true)
	for _, msg := range messages {
		switch {
		case msg.Out.Trace == lo && msg.In.Trace == hi:
			above.insert(point{float64(msg.Out.Time), float64(msg.In.Time)})
		case msg.Out.Trace == hi && msg.In.Trace == lo:
			below.insert(point{float64(msg.In.Time), float64(msg.Out.Time)})
		}
	}

	upperPts, lowerPts := above.points(), below.points()
	if len(upperPts) == 0 || len(lowerPts) == 0 {
		return Factor{From: lo, To: hi, Class: Incomplete}
	}

	bmin, amin, bmax, amax, ok := tangentLines(lowerPts, upperPts)
	if !ok {
		slope, offset := approximateLine(lowerPts, upperPts)
		return Factor{From: lo, To: hi, Slope: slope, Offset: offset, Class: Approximate}
	}

	class := Accurate
	if bmin == bmax {
		class = Exact
	}
	slope, offset := bisect(bmin, amin, bmax, amax)
	return Factor{From: lo, To: hi, Slope: slope, Offset: offset, Class: class}
}

// tangentLines searches every pair of points drawn from lower and upper
// for the minimum-slope and maximum-slope lines that stay at or above
// every point of lower and at or below every point of upper: the common
// tangents between the two half-hulls. Checking all pairs rather than
// walking each hull's edges with two pointers costs more when the hulls
// are large, but it is exact and doesn't depend on getting an index
// walk's termination conditions right for every degenerate shape.
func tangentLines(lower, upper []point) (minSlope, minOffset, maxSlope, maxOffset float64, ok bool) {
	all := make([]point, 0, len(lower)+len(upper))
	all = append(all, lower...)
	all = append(all, upper...)
	for i := range all {
		for j := range all {
			if i == j || all[i].x == all[j].x {
				continue
			}
			s := slopeOf(all[i], all[j])
			o := interceptAt(all[i], s)
			if !feasible(lower, upper, s, o) {
				continue
			}
			if !ok || s < minSlope {
				minSlope, minOffset = s, o
			}
			if !ok || s > maxSlope {
				maxSlope, maxOffset = s, o
			}
			ok = true
		}
	}
	return
}

func feasible(lower, upper []point, slope, offset float64) bool {
	const eps = 1e-9
	for _, p := range lower {
		if slope*p.x+offset < p.y-eps {
			return false
		}
	}
	for _, p := range upper {
		if slope*p.x+offset > p.y+eps {
			return false
		}
	}
	return true
}

// bisect implements the ACCURATE case's closed-form bisector between the
// minimum-drift tangent (bmin, amin) and the maximum-drift tangent
// (bmax, amax), following event_analysis_chull.c's exact construction.
func bisect(bmin, amin, bmax, amax float64) (slope, offset float64) {
	denom := bmax + bmin
	if denom == 0 {
		return (bmin + bmax) / 2, (amin + amax) / 2
	}
	bhat := (bmax*bmin - 1 + math.Sqrt(1+bmax*bmax*bmin*bmin+bmax*bmax+bmin*bmin)) / denom
	d := 1 + bhat*bmax
	if d == 0 {
		return bhat, (amin + amax) / 2
	}
	ahat := amax - (amax-amin)/2*(bhat*bhat+1)/d
	return bhat, ahat
}

// approximateLine is the APPROXIMATE fallback, used when the two
// half-hulls intersect and no single line satisfies every message: for
// every pair of points drawn one from each hull, it computes the line
// through them and sums how far every hull point on the wrong side of
// that line is from it, keeping the line with the smallest total error.
func approximateLine(lower, upper []point) (slope, offset float64) {
	found := false
	bestErr := math.Inf(1)
	for _, p := range lower {
		for _, q := range upper {
			if p.x == q.x {
				continue
			}
			s := slopeOf(p, q)
			o := interceptAt(p, s)
			errSum := 0.0
			for _, r := range lower {
				if d := r.y - (s*r.x + o); d > 0 {
					errSum += d
				}
			}
			for _, r := range upper {
				if d := (s*r.x + o) - r.y; d > 0 {
					errSum += d
				}
			}
			if !found || errSum < bestErr {
				bestErr, slope, offset, found = errSum, s, o, true
			}
		}
	}
	return slope, offset
}

func slopeOf(a, b point) float64 {
	if b.x == a.x {
		return 0
	}
	return (b.y - a.y) / (b.x - a.x)
}

func interceptAt(p point, slope float64) float64 {
	return p.y - slope*p.x
}
