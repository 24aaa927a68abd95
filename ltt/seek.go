// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ltt

// This file implements seek/iteration (component G): binary search over a
// tracefile's sub-buffers by wall time, and saving/restoring a Position so
// a Reader's cursor can be resumed later without re-scanning from the
// start.

// Position identifies one exact point in a tracefile's event stream: which
// sub-buffer, the byte offset of the next event to decode within it, and
// the full 64-bit TSC reconstructed as of that point (so resuming a Reader
// from a Position picks the heartbeat reconstruction back up correctly).
type Position struct {
	SubBuffer int
	Offset    int
	TSC       uint64
}

// Save captures r's current cursor as a Position.
func (r *Reader) Save() Position {
	return Position{SubBuffer: r.subIdx, Offset: r.pos, TSC: r.lastTSC}
}

// Restore repositions r at pos, mapping pos's sub-buffer if it is not
// already the one mapped.
func (r *Reader) Restore(pos Position) error {
	if r.subIdx != pos.SubBuffer || r.payload == nil {
		if err := r.mapSubBuffer(pos.SubBuffer); err != nil {
			return err
		}
	}
	r.pos = pos.Offset
	r.lastTSC = pos.TSC
	return nil
}

// SeekTime returns the Position of the first event in tf at or after
// targetNanos (nanoseconds since the Unix epoch, per Tracefile.WallNanos),
// following ltt_tracefile_seek_time: map sub-buffer 0 to fast-path a target
// at or before the trace's start, map the last sub-buffer to reject a
// target past the trace's end, then binary search mapping only the
// candidate sub-buffer on each iteration (real tracefiles are read by
// mmap'ing one sub-buffer at a time, so the original never maps more than
// one candidate per step either).
//
// It returns OutOfRange if targetNanos is after the last event in tf.
func SeekTime(tf *Tracefile, registry *Registry, targetNanos int64) (Position, error) {
	n := tf.NumSubBuffers()
	if n == 0 {
		return Position{}, newError(OutOfRange, "tracefile has no sub-buffers")
	}

	if _, err := tf.MapSubBuffer(0); err != nil {
		return Position{}, err
	}
	beginCycle, _, _ := tf.CurrentSubBufferHeader()
	if targetNanos <= tf.WallNanos(beginCycle) {
		r, err := NewReader(tf, registry)
		if err != nil {
			return Position{}, err
		}
		return r.Save(), nil
	}

	if _, err := tf.MapSubBuffer(n - 1); err != nil {
		return Position{}, err
	}
	_, endCycle, _ := tf.CurrentSubBufferHeader()
	if targetNanos > tf.WallNanos(endCycle) {
		return Position{}, newError(OutOfRange, "seek time after last event in tracefile")
	}

	blockNum, err := seekBlock(tf, targetNanos, 0, n-1)
	if err != nil {
		return Position{}, err
	}

	r, err := NewReader(tf, registry)
	if err != nil {
		return Position{}, err
	}
	if err := r.mapSubBuffer(blockNum); err != nil {
		return Position{}, err
	}

	for {
		before := r.Save()
		ev, err := r.Next()
		if err == EndOfTrace {
			return before, nil
		}
		if err != nil {
			return Position{}, err
		}
		if tf.WallNanos(ev.TSC) >= targetNanos {
			return before, nil
		}
	}
}

// seekBlock narrows [low, high] to the single sub-buffer covering
// targetNanos. A literal block_num = (high-low)/2 + low never changes once
// high-low == 1 (it keeps landing on low), so that case is tested directly
// against both remaining candidates instead of feeding it back into the
// general step.
func seekBlock(tf *Tracefile, targetNanos int64, low, high int) (int, error) {
	for {
		if high-low <= 1 {
			if _, err := tf.MapSubBuffer(low); err != nil {
				return 0, err
			}
			_, endCycle, _ := tf.CurrentSubBufferHeader()
			if targetNanos <= tf.WallNanos(endCycle) {
				return low, nil
			}
			if _, err := tf.MapSubBuffer(high); err != nil {
				return 0, err
			}
			return high, nil
		}

		mid := (high-low)/2 + low
		if _, err := tf.MapSubBuffer(mid); err != nil {
			return 0, err
		}
		beginCycle, endCycle, _ := tf.CurrentSubBufferHeader()
		beginNanos, endNanos := tf.WallNanos(beginCycle), tf.WallNanos(endCycle)
		switch {
		case targetNanos < beginNanos:
			high = mid
		case targetNanos > endNanos:
			low = mid
		default:
			return mid, nil
		}
	}
}
