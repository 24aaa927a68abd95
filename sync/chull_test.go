// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sync

import (
	"math"
	"testing"
)

// msg builds a Message for a send observed at trace from/time tFrom and its
// matching receive at trace to/time tTo.
func msg(from TraceID, tFrom int64, to TraceID, tTo int64) Message {
	return Message{
		Out: Segment{Trace: from, Time: tFrom, Dir: DirOut},
		In:  Segment{Trace: to, Time: tTo, Dir: DirIn},
	}
}

func TestAnalyzePairEmpty(t *testing.T) {
	f := AnalyzePair(1, 2, nil)
	if f.Class != Absent {
		t.Errorf("Class = %v, want Absent", f.Class)
	}
}

func TestAnalyzePairIncompleteOneWayOnly(t *testing.T) {
	// Only lo->hi messages: the hi->lo half-hull is empty, so the slope
	// can't be bounded from both sides.
	msgs := []Message{
		msg(1, 0, 2, 110),
		msg(1, 10, 2, 118),
	}
	f := AnalyzePair(1, 2, msgs)
	if f.Class != Incomplete {
		t.Errorf("Class = %v, want Incomplete", f.Class)
	}
}

func TestAnalyzePairExact(t *testing.T) {
	// Every message, in both directions, is exactly consistent with
	// TimeHi = 2*TimeLo + 100: the two half-hulls collapse to a single line.
	var msgs []Message
	for _, t0 := range []int64{0, 10, 20, 30, 40} {
		msgs = append(msgs, msg(1, t0, 2, 2*t0+100))
		msgs = append(msgs, msg(2, 2*t0+100, 1, t0))
	}
	f := AnalyzePair(1, 2, msgs)
	if f.Class != Exact {
		t.Fatalf("Class = %v, want Exact", f.Class)
	}
	if math.Abs(f.Slope-2) > 1e-6 || math.Abs(f.Offset-100) > 1e-6 {
		t.Errorf("Slope=%v Offset=%v, want 2, 100", f.Slope, f.Offset)
	}
}

func TestAnalyzePairAccurate(t *testing.T) {
	// Messages from both directions scattered within a band around
	// TimeHi = TimeLo + 100, bounding it from both sides without any
	// single line touching every point.
	msgs := []Message{
		msg(1, 0, 2, 105),
		msg(1, 10, 2, 112),
		msg(1, 20, 2, 124),
		msg(1, 30, 2, 133),
		msg(1, 40, 2, 141),
		msg(2, 108, 1, 12),
		msg(2, 121, 1, 25),
		msg(2, 133, 1, 36),
	}
	f := AnalyzePair(1, 2, msgs)
	if f.Class != Accurate && f.Class != Exact {
		t.Fatalf("Class = %v, want Accurate or Exact", f.Class)
	}
}

func TestHullDropsOutOfOrderInsertion(t *testing.T) {
	// (10,20), (30,40), (20,25): the third point's x goes backwards
	// relative to the hull's current rightmost point and must be dropped.
	h := newHull(false)
	h.insert(point{10, 20})
	h.insert(point{30, 40})
	h.insert(point{20, 25})
	if h.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", h.Dropped)
	}
	pts := h.points()
	for i := 1; i < len(pts); i++ {
		if pts[i].x <= pts[i-1].x {
			t.Errorf("points not strictly increasing in x: %v", pts)
		}
	}
}

func TestHullEqualXPops(t *testing.T) {
	h := newHull(false)
	h.insert(point{10, 20})
	h.insert(point{10, 5})
	pts := h.points()
	if len(pts) != 1 || pts[0].y != 5 {
		t.Errorf("points = %v, want single point with y=5", pts)
	}
}
