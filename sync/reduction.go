// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sync

import (
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/aclements/go-moremath/stats"
)

// This file implements the Reduction stage (component L): event
// analysis produces one Factor per pair of traces that actually
// exchanged messages, but synchronizing N traces needs one Factor per
// trace relative to a single reference clock. Reduce gets there by
// running Floyd-Warshall over the pairwise factors (treating "has a
// Factor" as a unit-weight edge) and composing factors along each
// trace's shortest path to the one reference trace its caller passes.
// It does not pick a reference per connected component: a trace in a
// component that does not contain that reference gets Class Absent.

const unreachable = 1<<31 - 1

// Reduce combines every pairwise Factor into one Factor per trace, each
// mapping that trace's clock onto reference's. The trace reference itself
// starts from the identity factor (Slope 1, Offset 0, Class Exact), but
// the offset shift and frequency unification that follow the composition
// apply to it as to every other factor, so its final Offset and Slope
// need not stay 0 and 1. Traces
// with no path to reference get Class Absent and are omitted from the
// composition but still contribute a zero-length Factor in the result
// for callers that expect to see every known trace.
func Reduce(factors []Factor, reference TraceID) ([]Factor, error) {
	ids := traceIDs(factors, reference)
	idx := make(map[TraceID]int, len(ids))
	for i, id := range ids {
		idx[id] = i
	}
	n := len(ids)

	dist := make([][]int, n)
	next := make([][]int, n)
	edge := make([][]*Factor, n)
	for i := range dist {
		dist[i] = make([]int, n)
		next[i] = make([]int, n)
		edge[i] = make([]*Factor, n)
		for j := range dist[i] {
			if i == j {
				dist[i][j] = 0
			} else {
				dist[i][j] = unreachable
			}
			next[i][j] = -1
		}
	}

	for i := range factors {
		f := factors[i]
		a, b := idx[f.From], idx[f.To]
		if a == b {
			continue
		}
		if dist[a][b] > 1 {
			dist[a][b] = 1
			next[a][b] = b
			edge[a][b] = &factors[i]
		}
		inv := invert(f)
		if dist[b][a] > 1 {
			dist[b][a] = 1
			next[b][a] = a
			edge[b][a] = &inv
		}
	}

	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			if dist[i][k] == unreachable {
				continue
			}
			for j := 0; j < n; j++ {
				if dist[k][j] == unreachable {
					continue
				}
				if d := dist[i][k] + dist[k][j]; d < dist[i][j] {
					dist[i][j] = d
					next[i][j] = next[i][k]
				}
			}
		}
	}

	if len(factors) > 0 && !mentions(factors, reference) {
		return nil, fmt.Errorf("sync: reference trace %d has no factors", reference)
	}
	refIdx := idx[reference]

	out := make([]Factor, 0, n)
	var hops []float64
	for i, id := range ids {
		if i == refIdx {
			out = append(out, Factor{From: id, To: reference, Slope: 1, Offset: 0, Class: Exact})
			continue
		}
		if dist[i][refIdx] == unreachable {
			out = append(out, Factor{From: id, To: reference, Class: Absent})
			continue
		}
		f, hopCount, err := composePath(i, refIdx, next, edge)
		if err != nil {
			return nil, err
		}
		f.From, f.To = id, reference
		out = append(out, f)
		hops = append(hops, float64(hopCount))
	}

	if len(hops) > 0 {
		// A high mean path length signals that the reference trace is
		// poorly connected to the rest of the set.
		if mean := stats.Mean(hops); mean > 2 {
			log.Printf("sync: reference trace %d averages %.1f hops to the rest of the set", reference, mean)
		}
	}

	shiftOffsets(out)
	unifyFrequency(out)

	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out, nil
}

// shiftOffsets implements reduction step 5: every composed factor's
// offset is shifted by the negative of the smallest offset among them,
// so the trace with the smallest offset (not necessarily the reference)
// becomes the new zero point. Class Absent factors carry no meaningful
// offset and are left alone.
func shiftOffsets(out []Factor) {
	minOffset := math.Inf(1)
	any := false
	for _, f := range out {
		if f.Class == Absent {
			continue
		}
		if f.Offset < minOffset {
			minOffset = f.Offset
		}
		any = true
	}
	if !any {
		return
	}
	for i := range out {
		if out[i].Class != Absent {
			out[i].Offset -= minOffset
		}
	}
}

// unifyFrequency implements reduction step 6: the trace whose estimated
// drift is closest to 1 (i.e. whose clock runs closest to the
// reference's nominal rate) is taken as the frequency reference, and
// every slope is rescaled so that trace's own slope becomes exactly 1,
// propagating its drift correction to the rest of the set.
func unifyFrequency(out []Factor) {
	best := -1
	for i, f := range out {
		if f.Class == Absent {
			continue
		}
		if best == -1 || math.Abs(f.Slope-1) < math.Abs(out[best].Slope-1) {
			best = i
		}
	}
	if best == -1 || out[best].Slope == 0 {
		return
	}
	base := out[best].Slope
	for i := range out {
		if out[i].Class != Absent {
			out[i].Slope /= base
		}
	}
}

func mentions(factors []Factor, id TraceID) bool {
	for _, f := range factors {
		if f.From == id || f.To == id {
			return true
		}
	}
	return false
}

func traceIDs(factors []Factor, reference TraceID) []TraceID {
	seen := map[TraceID]bool{reference: true}
	ids := []TraceID{reference}
	for _, f := range factors {
		if !seen[f.From] {
			seen[f.From] = true
			ids = append(ids, f.From)
		}
		if !seen[f.To] {
			seen[f.To] = true
			ids = append(ids, f.To)
		}
	}
	return ids
}

// invert swaps the direction of an affine factor: if To = Slope*From +
// Offset, then From = (1/Slope)*To - Offset/Slope.
func invert(f Factor) Factor {
	if f.Slope == 0 {
		return Factor{From: f.To, To: f.From, Class: Absent}
	}
	return Factor{
		From:   f.To,
		To:     f.From,
		Slope:  1 / f.Slope,
		Offset: -f.Offset / f.Slope,
		Class:  f.Class,
	}
}

// composePath walks the Floyd-Warshall next-hop chain from i to j,
// composing each edge's affine factor into a single From(i)->To(j)
// factor, and degrades Class to the weakest class seen along the path.
func composePath(i, j int, next [][]int, edge [][]*Factor) (Factor, int, error) {
	slope, offset := 1.0, 0.0
	class := Exact
	hops := 0
	cur := i
	for cur != j {
		nxt := next[cur][j]
		if nxt == -1 {
			return Factor{}, 0, fmt.Errorf("sync: broken path in reduction graph")
		}
		e := edge[cur][nxt]
		if e == nil {
			return Factor{}, 0, fmt.Errorf("sync: missing edge in reduction graph")
		}
		slope = e.Slope * slope
		offset = e.Slope*offset + e.Offset
		if e.Class < class {
			class = e.Class
		}
		hops++
		cur = nxt
	}
	return Factor{Slope: slope, Offset: offset, Class: class}, hops, nil
}
