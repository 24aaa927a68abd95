// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sync reconstructs a single wall-clock timeline shared by several
// independently clocked traces, by observing messages that cross trace
// boundaries (e.g. a TCP exchange visible in both the sender's and the
// receiver's trace) and fitting an affine correction between each pair of
// traces that exchanged messages.
//
// The pipeline has four stages, composed in Run: Processing turns a raw
// event source into typed Segments; Matching pairs a trace's outgoing
// Segments with another trace's incoming ones into Messages, and groups
// each Message with the earlier ones it acknowledges into Exchanges;
// Analysis fits a per-trace-pair affine Factor (and an accuracy
// classification) from the Messages observed between that pair; Reduction
// combines every pairwise Factor into one coherent set of factors, one
// per trace, relative to a single reference trace.
package sync

import "fmt"

// TraceID identifies one trace among the set being synchronized.
type TraceID int

// Segment is one observed half of a message: either its send or its
// receipt, as produced by the Processing stage from one trace's raw
// events.
type Segment struct {
	Trace TraceID
	Time  int64 // trace-local nanoseconds
	Dir   Direction
	Key   SegmentKey
}

// Factor is the affine correction mapping a time in trace From's clock to
// the equivalent time in trace To's clock: ToTime = Slope*FromTime +
// Offset.
type Factor struct {
	From, To TraceID
	Slope    float64
	Offset   float64
	Class    Accuracy
}

// Accuracy classifies how a Factor was derived, from the LTTV convex-hull
// synchronization algorithm's own terminology.
type Accuracy int

const (
	// Absent: no messages at all were observed between the two traces.
	Absent Accuracy = iota
	// Incomplete: messages were observed in only one direction, so only
	// one half-hull exists and no slope can be bounded from both sides.
	Incomplete
	// Approximate: the two half-hulls intersect (clocks are close enough,
	// relative to the observed network delay jitter, that no factor
	// satisfies every message); the factor is a minimum-total-error
	// fallback line.
	Approximate
	// Accurate: a consistent factor was found by the bisector
	// construction between the two half-hulls' tangent lines.
	Accurate
	// Exact: the minimum-drift and maximum-drift tangents coincide, so
	// every message was consistent with a single factor.
	Exact
)

func (a Accuracy) String() string {
	switch a {
	case Absent:
		return "absent"
	case Incomplete:
		return "incomplete"
	case Approximate:
		return "approximate"
	case Accurate:
		return "accurate"
	case Exact:
		return "exact"
	default:
		return "unknown"
	}
}

// Source is the Processing stage's input: anything that can produce a
// stream of Segments. text.go's TextSource and a future pcap-backed
// source both implement it.
type Source interface {
	Next() (Segment, error)
}

// EndOfSegments is the sentinel a Source returns once exhausted.
var EndOfSegments = fmt.Errorf("end of segments")

// Run executes all four stages: it drains src through a TCPMatcher to
// produce Messages, groups them by unordered trace pair, fits a Factor
// per pair, and reduces the pairwise factors to one coherent set
// relative to reference.
func Run(src Source, reference TraceID) ([]Factor, error) {
	matcher := NewTCPMatcher()
	byPair := make(map[pairKey][]Message)
	for {
		seg, err := src.Next()
		if err == EndOfSegments {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("processing: %w", err)
		}
		msg, _ := matcher.Observe(seg)
		if msg == nil {
			continue
		}
		k := pairOf(msg.Out.Trace, msg.In.Trace)
		byPair[k] = append(byPair[k], *msg)
	}
	matcher.Drain()

	var pairwise []Factor
	for k, msgs := range byPair {
		pairwise = append(pairwise, AnalyzePair(k.lo, k.hi, msgs))
	}

	return Reduce(pairwise, reference)
}

// pairKey identifies an unordered pair of traces (lo < hi): convex-hull
// analysis builds both of a pair's half-hulls from the same set of
// Messages regardless of which trace sent which, so Messages are grouped
// by pair, not by direction.
type pairKey struct{ lo, hi TraceID }

func pairOf(a, b TraceID) pairKey {
	if a < b {
		return pairKey{a, b}
	}
	return pairKey{b, a}
}
